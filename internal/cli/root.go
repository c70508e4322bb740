// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the scandock command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Config   string
	LogLevel string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "scandock",
		Short:         "Scanned-document ingestion agent: watch, identify, merge, upload",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().StringVar(&ro.Config, "config", "config.yaml", "Path to YAML config file")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "", "Override log level: debug, info, warn, error")

	serveCmd := newServeCmd(ctx, ro, version)
	root.AddCommand(serveCmd)
	root.AddCommand(newBatchCmd(ro))
	root.AddCommand(newConfigCmd(ro))
	root.AddCommand(newVersionCmd(version))

	// Make serve the default command when no subcommand is given
	root.RunE = serveCmd.RunE
	root.Flags().AddFlagSet(serveCmd.Flags())
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
