// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalKiosk = `
system:
  mode: kiosk
paths:
  scanner_output: /tmp/inbox
  data_root: /tmp/data
`

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), minimalKiosk)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.System.WorkerCount)
	assert.Equal(t, `^[0-9]{14}$`, cfg.QR.Pattern)
	assert.Equal(t, []int{200, 150, 250, 180, 220, 120, 300}, cfg.QR.DPICandidates)
	assert.Equal(t, []string{"ZBAR", "ZXING", "PYZBAR_PREPROC"}, cfg.QR.EngineOrder)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 60.0, cfg.Retry.InitialDelay)
	assert.Equal(t, "none", cfg.Upload.Type)
	assert.Equal(t, "strict", cfg.QR.MultipleQRAction)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidMode(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
system:
  mode: banana
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system.mode")
}

func TestSecretRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalKiosk)

	cfg, err := Load(path)
	require.NoError(t, err)

	cfg.System.AdminPassword = "hunter2"
	cfg.Upload.NAS.Password = "nas-secret"
	cfg.Upload.HTTP.Token = "tok-123"
	require.NoError(t, cfg.Save(""))

	// secrets must not appear in clear on disk
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.NotContains(t, string(raw), "nas-secret")
	assert.NotContains(t, string(raw), "tok-123")
	assert.Contains(t, string(raw), "enc:")

	// and must round-trip to plaintext through Load
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", again.System.AdminPassword)
	assert.Equal(t, "nas-secret", again.Upload.NAS.Password)
	assert.Equal(t, "tok-123", again.Upload.HTTP.Token)
}

func TestDecrypt_PlaintextPassthrough(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalKiosk+`
upload:
  nas:
    password: typed-by-hand
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "typed-by-hand", cfg.Upload.NAS.Password)
}

func TestKeyFile_CreatedOnce(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalKiosk)

	_, err := Load(path)
	require.NoError(t, err)

	keyFile := filepath.Join(dir, ".scandock.key")
	first, err := os.ReadFile(keyFile)
	require.NoError(t, err)
	assert.True(t, strings.TrimSpace(string(first)) != "")

	_, err = Load(path)
	require.NoError(t, err)
	second, err := os.ReadFile(keyFile)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDirLayout(t *testing.T) {
	cfg := Default()
	cfg.Paths.ScannerOutput = "/srv/scan/inbox"
	cfg.Paths.DataRoot = "/srv/scan/data"

	p := cfg.DirLayout()
	assert.Equal(t, "/srv/scan/inbox", p.Inbox)
	assert.Equal(t, "/srv/scan/data/pending", p.Pending)
	assert.Equal(t, "/srv/scan/data/merged", p.Merged)
	assert.Equal(t, "/srv/scan/data/uploaded", p.Uploaded)
	assert.Equal(t, "/srv/scan/data/error", p.Error)
	assert.Equal(t, "/srv/scan/data/qr_debug", p.QRDebug)
}

func TestValidate_ScheduleRequiresExpression(t *testing.T) {
	cfg := Default()
	cfg.Paths.ScannerOutput = "/a"
	cfg.Paths.DataRoot = "/b"
	cfg.Batch.TriggerMode = "schedule"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.schedule")
}
