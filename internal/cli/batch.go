// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scandock/scandock/internal/config"
	"github.com/scandock/scandock/internal/logging"
	"github.com/scandock/scandock/pkg/pdfops"
	"github.com/scandock/scandock/pkg/pipeline"
)

var collisionRe = regexp.MustCompile(`\([0-9]+\)$`)

func newBatchCmd(ro *RootOpts) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run one merge cycle and exit",
		Long: `Merges everything waiting in the pending folder into per-identifier
documents, demoting stale uploaded versions where a late page set
arrived. Equivalent to the RUN_BATCH API command, without the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ro.Config)
			if err != nil {
				return err
			}
			if cfg.System.Mode != "kiosk" {
				return fmt.Errorf("batch runs on kiosk instances only")
			}
			paths := cfg.DirLayout()
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			level := cfg.System.LogLevel
			if quiet {
				level = "error"
			}
			log := logging.Setup(logging.Options{
				Level:   level,
				LogDir:  paths.Logs,
				MaxAge:  cfg.Retention.LogDays,
				Console: !quiet,
			})

			pattern, err := regexp.Compile(cfg.QR.Pattern)
			if err != nil {
				return fmt.Errorf("qr.pattern: %w", err)
			}

			dirs := pipeline.Dirs{
				Inbox:    paths.Inbox,
				Pending:  paths.Pending,
				Merged:   paths.Merged,
				Uploaded: paths.Uploaded,
				Error:    paths.Error,
			}

			groups := countPendingGroups(paths.Pending)
			if groups == 0 {
				fmt.Println("nothing to merge")
				return nil
			}

			events := pipeline.NewEventLog()
			runner := pipeline.NewBatchRunner(dirs, pdfops.New(cfg.PDF.HashAlgorithm),
				pattern, cfg.PDF.RemoveDuplicates, cfg.PDF.Normalize, events, nil, log)

			var bar *pb.ProgressBar
			if !quiet {
				bar = pb.StartNew(groups)
				events.Subscribe(func(ev pipeline.Event) {
					switch ev.Type {
					case pipeline.EventMerged, pipeline.EventError:
						bar.Increment()
					}
				})
			}

			report := runner.Run(cmd.Context())
			if bar != nil {
				bar.SetCurrent(int64(groups))
				bar.Finish()
			}

			fmt.Printf("%s %d groups, %s, %s, %s\n",
				color.CyanString("batch:"),
				report.Groups,
				color.GreenString("%d merged", report.Merged),
				color.YellowString("%d skipped", report.Skipped),
				color.RedString("%d failed", report.Failed))
			if report.Failed > 0 {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

// countPendingGroups counts distinct identifiers waiting in pending.
func countPendingGroups(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	ids := map[string]struct{}{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			continue
		}
		stem := collisionRe.ReplaceAllString(name[:len(name)-4], "")
		ids[stem] = struct{}{}
	}
	return len(ids)
}
