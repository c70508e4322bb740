// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scandock/scandock/internal/audit"
	"github.com/scandock/scandock/internal/auth"
	"github.com/scandock/scandock/internal/config"
	"github.com/scandock/scandock/internal/logging"
	"github.com/scandock/scandock/internal/registry"
	"github.com/scandock/scandock/internal/server"
	"github.com/scandock/scandock/pkg/pdfops"
	"github.com/scandock/scandock/pkg/pipeline"
	"github.com/scandock/scandock/pkg/qr"
	"github.com/scandock/scandock/pkg/upload"
)

const adminDefaultPort = 8100

func newServeCmd(ctx context.Context, ro *RootOpts, version string) *cobra.Command {
	var (
		mode        string
		host        string
		port        int
		registryURL string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent: watcher, pipeline and HTTP API",
		Long: `Runs the agent in the configured mode.

kiosk mode watches the scanner inbox, classifies arrivals by QR code,
merges batches and uploads results, and serves the standard API.
admin mode serves the fleet dashboard API over the instance registry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ro.Config)
			if err != nil {
				return err
			}

			// Flag overrides
			if cmd.Flags().Changed("mode") {
				cfg.System.Mode = mode
			}
			if cmd.Flags().Changed("host") {
				cfg.System.WebHost = host
			}
			if cmd.Flags().Changed("port") {
				cfg.System.WebPort = port
			}
			if cmd.Flags().Changed("registry") {
				cfg.System.InstanceRegistryURL = registryURL
			}
			if ro.LogLevel != "" {
				cfg.System.LogLevel = ro.LogLevel
			}
			if cfg.System.Mode == "admin" && !cmd.Flags().Changed("port") && cfg.System.WebPort == config.Default().System.WebPort {
				cfg.System.WebPort = adminDefaultPort
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runServe(ctx, cfg, version)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Run mode: kiosk or admin (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "Address to bind to (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides config)")
	cmd.Flags().StringVar(&registryURL, "registry", "", "Instance registry URL (overrides config)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, version string) error {
	paths := cfg.DirLayout()
	logDir := paths.Logs
	if cfg.Paths.DataRoot == "" {
		logDir = filepath.Join(filepath.Dir(cfg.File()), "logs")
	}

	log := logging.Setup(logging.Options{
		Level:   cfg.System.LogLevel,
		LogDir:  logDir,
		MaxAge:  cfg.Retention.LogDays,
		Console: true,
	})
	log.Infof("scandock %s starting in %s mode", version, cfg.System.Mode)

	if cfg.System.AdminPassword == "" {
		return fmt.Errorf("system.admin_password is not set; run 'scandock config set-password'")
	}
	basic, err := auth.NewBasicFromPassword("admin", cfg.System.AdminPassword)
	if err != nil {
		return err
	}
	auditLog := audit.New(filepath.Join(logDir, audit.FileName))

	var pipe *pipeline.Pipeline
	if cfg.System.Mode == "kiosk" {
		if err := paths.EnsureDirs(); err != nil {
			return err
		}
		pipe, err = buildPipeline(cfg, paths, log)
		if err != nil {
			return err
		}
		if err := pipe.Start(ctx); err != nil {
			return err
		}
		defer pipe.Close(30 * time.Second)
	}

	var store *registry.Store
	if cfg.System.Mode == "admin" {
		local := filepath.Join(filepath.Dir(cfg.File()), "instances.json")
		store = registry.NewStore(cfg.System.InstanceRegistryURL, local, log)
	}

	srv := server.New(server.Config{
		Addr:     cfg.System.WebHost,
		Port:     cfg.System.WebPort,
		Mode:     cfg.System.Mode,
		Version:  version,
		DataRoot: dataRootOrCwd(cfg),
		ReloadConfig: func() error {
			fresh, err := config.Load(cfg.File())
			if err != nil {
				return err
			}
			level, err := logrus.ParseLevel(fresh.System.LogLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			log.Info("configuration reloaded, log level applied")
			return nil
		},
		PersistPassword: func(plaintext string) error {
			cfg.System.AdminPassword = plaintext
			return cfg.Save("")
		},
	}, pipelineHandle(pipe), basic, auditLog, store, log)

	return srv.ListenAndServe(ctx)
}

// pipelineHandle avoids a typed-nil interface when no pipeline runs.
func pipelineHandle(p *pipeline.Pipeline) server.Pipeline {
	if p == nil {
		return nil
	}
	return p
}

func dataRootOrCwd(cfg *config.Config) string {
	if cfg.Paths.DataRoot != "" {
		return cfg.Paths.DataRoot
	}
	return "."
}

func buildPipeline(cfg *config.Config, paths config.Paths, log *logrus.Logger) (*pipeline.Pipeline, error) {
	specs := make(map[string]qr.EngineSpec, len(cfg.QR.Engines))
	for name, e := range cfg.QR.Engines {
		specs[name] = qr.EngineSpec{
			Enabled: e.Enabled,
			Timeout: time.Duration(e.Timeout * float64(time.Second)),
			Options: e.Options,
		}
	}
	chain := qr.BuildChain(log, cfg.QR.EngineOrder, specs)

	extractor, err := qr.NewExtractor(&qr.PopplerRasterizer{}, chain, qr.Options{
		Pattern:          cfg.QR.Pattern,
		AdaptiveDPI:      cfg.QR.AdaptiveDPI,
		FixedDPI:         cfg.QR.FixedDPI,
		DPICandidates:    cfg.QR.DPICandidates,
		SaveFailedImages: cfg.QR.SaveFailedImages,
		FailedImagesPath: paths.QRDebug,
	}, log)
	if err != nil {
		return nil, err
	}

	backend, err := upload.New(upload.Config{
		Type:          cfg.Upload.Type,
		NASPath:       cfg.Upload.NAS.Path,
		NASUsername:   cfg.Upload.NAS.Username,
		NASPassword:   cfg.Upload.NAS.Password,
		HTTPEndpoint:  cfg.Upload.HTTP.Endpoint,
		HTTPToken:     cfg.Upload.HTTP.Token,
		HTTPTimeout:   cfg.Upload.HTTP.Timeout,
		MaxFileSizeMB: cfg.Upload.HTTP.MaxFileSizeMB,
	}, log)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Settings{
		Dirs: pipeline.Dirs{
			Inbox:    paths.Inbox,
			Pending:  paths.Pending,
			Merged:   paths.Merged,
			Uploaded: paths.Uploaded,
			Error:    paths.Error,
		},
		WorkerCount:       cfg.System.WorkerCount,
		IdentifierPattern: cfg.QR.Pattern,
		AmbiguousAction:   cfg.QR.MultipleQRAction,
		Watcher: pipeline.WatcherSettings{
			Mode:            cfg.Watcher.Mode,
			PollingInterval: time.Duration(cfg.Watcher.PollingInterval) * time.Second,
			StabilityWait:   time.Duration(cfg.Watcher.StabilityWait) * time.Second,
			StabilityChecks: cfg.Watcher.StabilityChecks,
		},
		DedupPages:  cfg.PDF.RemoveDuplicates,
		Normalize:   cfg.PDF.Normalize,
		TriggerMode: cfg.Batch.TriggerMode,
		IdleAfter:   time.Duration(cfg.Batch.IdleMinutes) * time.Minute,
		Schedule:    cfg.Batch.Schedule,
		Retry: pipeline.RetrySettings{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialDelay:      time.Duration(cfg.Retry.InitialDelay * float64(time.Second)),
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
			MaxDelay:          time.Duration(cfg.Retry.MaxDelay * float64(time.Second)),
		},
		Retention: pipeline.RetentionSettings{
			UploadedDays: cfg.Retention.UploadedDays,
			ErrorDays:    cfg.Retention.ErrorDays,
		},
	}, extractor, pdfops.New(cfg.PDF.HashAlgorithm), backend, log)
}
