// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	dir := t.TempDir()
	l := New(filepath.Join(dir, FileName))
	l.Success("admin", "", "RUN_BATCH", "", nil)

	_, err := os.Stat(filepath.Join(dir, "admin_actions.log"))
	require.NoError(t, err, "audit trail must land in admin_actions.log")
}

func TestLog_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin_actions.log")
	l := New(path)

	l.Success("admin", "10.0.0.5", "RUN_BATCH", "", nil)
	l.Failure("admin", "10.0.0.5", "LOGIN", "", "bad password")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"action":"RUN_BATCH"`)
	assert.Contains(t, lines[0], `"ip":"10.0.0.5"`)
	assert.Contains(t, lines[0], `"result":"SUCCESS"`)
	assert.Contains(t, lines[1], `"result":"FAILURE"`)
	assert.Contains(t, lines[1], `"detail":"bad password"`)
}

func TestLog_PayloadNeverStoredInClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin_actions.log")
	l := New(path)

	secret := []byte(`{"password":"topsecret"}`)
	l.Success("admin", "10.0.0.5", "SET_PASSWORD", "kiosk-1", secret)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "topsecret")
	assert.Contains(t, string(raw), `"payload_hash":"`+HashPayload(secret)+`"`)
	assert.Len(t, HashPayload(secret), 16)
}

func TestReadRecent_NewestFirstBounded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin_actions.log")
	l := New(path)

	l.Success("a", "", "FIRST", "", nil)
	l.Success("a", "", "SECOND", "", nil)
	l.Success("a", "", "THIRD", "", nil)

	entries, err := l.ReadRecent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "THIRD", entries[0].Action)
	assert.Equal(t, "SECOND", entries[1].Action)
}

func TestReadRecent_MissingFile(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "never-written.log"))
	entries, err := l.ReadRecent(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
