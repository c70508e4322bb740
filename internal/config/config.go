// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package config loads and saves the agent's YAML configuration.
// Secrets (NAS password, HTTP token, admin password) are encrypted at
// rest with a key stored beside the config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the full on-disk configuration.
type Config struct {
	System    SystemConfig    `yaml:"system"`
	Paths     PathsConfig     `yaml:"paths"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	QR        QRConfig        `yaml:"qr"`
	PDF       PDFConfig       `yaml:"pdf"`
	Batch     BatchConfig     `yaml:"batch"`
	Upload    UploadConfig    `yaml:"upload"`
	Retry     RetryConfig     `yaml:"retry"`
	Retention RetentionConfig `yaml:"retention"`

	// path the config was loaded from, used by Save and for
	// locating the key file
	file string
}

type SystemConfig struct {
	LogLevel            string `yaml:"log_level"`
	WorkerCount         int    `yaml:"worker_count"`
	WebPort             int    `yaml:"web_port"`
	WebHost             string `yaml:"web_host"`
	AdminPassword       string `yaml:"admin_password"`
	Mode                string `yaml:"mode"` // kiosk | admin
	InstanceRegistryURL string `yaml:"instance_registry_url"`
}

type PathsConfig struct {
	ScannerOutput string `yaml:"scanner_output"`
	DataRoot      string `yaml:"data_root"`
}

type WatcherConfig struct {
	Mode            string `yaml:"mode"` // realtime | polling
	PollingInterval int    `yaml:"polling_interval"`
	StabilityWait   int    `yaml:"stability_wait"`
	StabilityChecks int    `yaml:"stability_checks"`
}

// EngineConfig holds per-engine tuning. Options are passed through to
// the engine untyped so new engines need no config schema change.
type EngineConfig struct {
	Enabled bool           `yaml:"enabled"`
	Timeout float64        `yaml:"timeout"`
	Options map[string]any `yaml:"options,omitempty"`
}

type QRConfig struct {
	Pattern          string                  `yaml:"pattern"`
	MultipleQRAction string                  `yaml:"multiple_qr_action"` // strict | manual
	AdaptiveDPI      bool                    `yaml:"adaptive_dpi"`
	FixedDPI         int                     `yaml:"fixed_dpi"`
	DPICandidates    []int                   `yaml:"dpi_candidates"`
	EngineOrder      []string                `yaml:"engine_order"`
	SaveFailedImages bool                    `yaml:"save_failed_images"`
	FailedImagesPath string                  `yaml:"failed_images_path"`
	Engines          map[string]EngineConfig `yaml:"engines"`
}

type PDFConfig struct {
	Normalize        bool   `yaml:"normalize"`
	RemoveDuplicates bool   `yaml:"remove_duplicates"`
	HashAlgorithm    string `yaml:"hash_algorithm"` // sha1 | md5
}

type BatchConfig struct {
	TriggerMode string `yaml:"trigger_mode"` // idle | schedule
	IdleMinutes int    `yaml:"idle_minutes"`
	Schedule    string `yaml:"schedule"`
}

type NASConfig struct {
	Path     string `yaml:"path"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type HTTPConfig struct {
	Endpoint      string  `yaml:"endpoint"`
	Token         string  `yaml:"token"`
	Timeout       float64 `yaml:"timeout"`
	MaxFileSizeMB int     `yaml:"max_file_size_mb"`
}

type UploadConfig struct {
	Type string     `yaml:"type"` // nas | http | dual | none
	NAS  NASConfig  `yaml:"nas"`
	HTTP HTTPConfig `yaml:"http"`
}

type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelay      float64 `yaml:"initial_delay"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxDelay          float64 `yaml:"max_delay"`
}

type RetentionConfig struct {
	UploadedDays int `yaml:"uploaded_days"`
	ErrorDays    int `yaml:"error_days"`
	LogDays      int `yaml:"log_days"`
}

// Default returns a configuration with every field at its documented
// default. Paths are left empty and must be set before use.
func Default() *Config {
	return &Config{
		System: SystemConfig{
			LogLevel:    "info",
			WorkerCount: 3,
			WebPort:     8000,
			WebHost:     "0.0.0.0",
			Mode:        "kiosk",
		},
		Watcher: WatcherConfig{
			Mode:            "realtime",
			PollingInterval: 30,
			StabilityWait:   3,
			StabilityChecks: 3,
		},
		QR: QRConfig{
			Pattern:          `^[0-9]{14}$`,
			MultipleQRAction: "strict",
			AdaptiveDPI:      true,
			FixedDPI:         200,
			DPICandidates:    []int{200, 150, 250, 180, 220, 120, 300},
			EngineOrder:      []string{"ZBAR", "ZXING", "PYZBAR_PREPROC"},
			SaveFailedImages: false,
			Engines: map[string]EngineConfig{
				"ZBAR":  {Enabled: true, Timeout: 5},
				"ZXING": {Enabled: true, Timeout: 10, Options: map[string]any{"try_harder": true}},
				"PYZBAR_PREPROC": {Enabled: true, Timeout: 20, Options: map[string]any{
					"adaptive_threshold": true,
					"deskew":             true,
					"sharpen":            true,
					"blur_removal":       true,
				}},
			},
		},
		PDF: PDFConfig{
			Normalize:        false,
			RemoveDuplicates: true,
			HashAlgorithm:    "sha1",
		},
		Batch: BatchConfig{
			TriggerMode: "idle",
			IdleMinutes: 5,
		},
		Upload: UploadConfig{
			Type: "none",
			HTTP: HTTPConfig{Timeout: 60, MaxFileSizeMB: 100},
		},
		Retry: RetryConfig{
			MaxAttempts:       5,
			InitialDelay:      60,
			BackoffMultiplier: 2,
			MaxDelay:          3600,
		},
		Retention: RetentionConfig{
			UploadedDays: 30,
			ErrorDays:    14,
			LogDays:      14,
		},
	}
}

// Load reads the YAML file at path, fills unset fields with defaults
// and decrypts secrets using the key file beside the config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.file = path

	key, err := loadOrCreateKey(keyPath(path))
	if err != nil {
		return nil, err
	}
	cfg.System.AdminPassword = decrypt(key, cfg.System.AdminPassword)
	cfg.Upload.NAS.Password = decrypt(key, cfg.Upload.NAS.Password)
	cfg.Upload.HTTP.Token = decrypt(key, cfg.Upload.HTTP.Token)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration back to the file it was loaded from
// (or the given path for a new config), encrypting secrets.
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.file
	}
	if path == "" {
		return fmt.Errorf("config has no file path")
	}
	key, err := loadOrCreateKey(keyPath(path))
	if err != nil {
		return err
	}

	out := *c
	if out.System.AdminPassword != "" {
		if out.System.AdminPassword, err = encrypt(key, c.System.AdminPassword); err != nil {
			return err
		}
	}
	if out.Upload.NAS.Password != "" {
		if out.Upload.NAS.Password, err = encrypt(key, c.Upload.NAS.Password); err != nil {
			return err
		}
	}
	if out.Upload.HTTP.Token != "" {
		if out.Upload.HTTP.Token, err = encrypt(key, c.Upload.HTTP.Token); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	c.file = path
	return nil
}

// File returns the path the config was loaded from.
func (c *Config) File() string { return c.file }

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.System.Mode {
	case "kiosk", "admin":
	default:
		return fmt.Errorf("system.mode must be kiosk or admin, got %q", c.System.Mode)
	}
	if c.System.Mode == "kiosk" {
		if c.Paths.ScannerOutput == "" {
			return fmt.Errorf("paths.scanner_output is required in kiosk mode")
		}
		if c.Paths.DataRoot == "" {
			return fmt.Errorf("paths.data_root is required in kiosk mode")
		}
	}
	switch c.Watcher.Mode {
	case "realtime", "polling":
	default:
		return fmt.Errorf("watcher.mode must be realtime or polling, got %q", c.Watcher.Mode)
	}
	switch c.QR.MultipleQRAction {
	case "strict", "manual":
	default:
		return fmt.Errorf("qr.multiple_qr_action must be strict or manual, got %q", c.QR.MultipleQRAction)
	}
	switch c.PDF.HashAlgorithm {
	case "sha1", "md5":
	default:
		return fmt.Errorf("pdf.hash_algorithm must be sha1 or md5, got %q", c.PDF.HashAlgorithm)
	}
	switch c.Upload.Type {
	case "nas", "http", "dual", "none":
	default:
		return fmt.Errorf("upload.type must be nas, http, dual or none, got %q", c.Upload.Type)
	}
	switch c.Batch.TriggerMode {
	case "idle", "schedule":
	default:
		return fmt.Errorf("batch.trigger_mode must be idle or schedule, got %q", c.Batch.TriggerMode)
	}
	if c.Batch.TriggerMode == "schedule" && c.Batch.Schedule == "" {
		return fmt.Errorf("batch.schedule is required when trigger_mode is schedule")
	}
	if c.System.WorkerCount < 1 {
		return fmt.Errorf("system.worker_count must be at least 1")
	}
	return nil
}

// Paths holds the derived directory layout under the data root.
type Paths struct {
	Inbox    string
	Pending  string
	Merged   string
	Uploaded string
	Error    string
	Logs     string
	QRDebug  string
}

// DirLayout derives the queue directories from the configured roots.
func (c *Config) DirLayout() Paths {
	root := c.Paths.DataRoot
	debug := c.QR.FailedImagesPath
	if debug == "" {
		debug = filepath.Join(root, "qr_debug")
	}
	return Paths{
		Inbox:    c.Paths.ScannerOutput,
		Pending:  filepath.Join(root, "pending"),
		Merged:   filepath.Join(root, "merged"),
		Uploaded: filepath.Join(root, "uploaded"),
		Error:    filepath.Join(root, "error"),
		Logs:     filepath.Join(root, "logs"),
		QRDebug:  debug,
	}
}

// EnsureDirs creates every directory of the layout.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Inbox, p.Pending, p.Merged, p.Uploaded, p.Error, p.Logs, p.QRDebug} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
