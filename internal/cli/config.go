// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/scandock/scandock/internal/config"
)

func newConfigCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd(ro))
	cmd.AddCommand(newConfigShowCmd(ro))
	cmd.AddCommand(newConfigSetPasswordCmd(ro))

	return cmd
}

func newConfigInitCmd(ro *RootOpts) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a configuration file with every setting at its default.
Edit paths.scanner_output and paths.data_root before first run, then
set the admin password with 'scandock config set-password'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ro.Config
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}

			cfg := config.Default()
			cfg.Paths.ScannerOutput = "/data/scanner_output"
			cfg.Paths.DataRoot = "/data/scandock"
			if err := cfg.Save(path); err != nil {
				return err
			}

			fmt.Printf("created %s\n", path)
			fmt.Println("next steps:")
			fmt.Println("  - adjust paths.scanner_output and paths.data_root")
			fmt.Println("  - run 'scandock config set-password'")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	return cmd
}

func newConfigShowCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ro.Config)
			if err != nil {
				return err
			}

			masked := *cfg
			masked.System.AdminPassword = mask(cfg.System.AdminPassword)
			masked.Upload.NAS.Password = mask(cfg.Upload.NAS.Password)
			masked.Upload.HTTP.Token = mask(cfg.Upload.HTTP.Token)

			data, err := yaml.Marshal(&masked)
			if err != nil {
				return err
			}
			fmt.Printf("config file: %s\n\n", cfg.File())
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigSetPasswordCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "set-password",
		Short: "Set the admin password (stored encrypted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ro.Config)
			if err != nil {
				return err
			}

			pw, err := promptPassword("New admin password: ")
			if err != nil {
				return err
			}
			if len(pw) < 8 {
				return fmt.Errorf("password must be at least 8 characters")
			}
			confirm, err := promptPassword("Repeat password: ")
			if err != nil {
				return err
			}
			if pw != confirm {
				return fmt.Errorf("passwords do not match")
			}

			cfg.System.AdminPassword = pw
			if err := cfg.Save(""); err != nil {
				return err
			}
			fmt.Println("admin password updated")
			return nil
		},
	}
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		return string(b), err
	}
	// Piped input, read one line
	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "********"
	}
	return "********" + secret[len(secret)-4:]
}
