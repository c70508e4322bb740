// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrorSidecar accompanies every file parked in the error folder.
type ErrorSidecar struct {
	OriginalPath string   `json:"original_path"`
	ErrorMessage string   `json:"error_message"`
	MovedAt      string   `json:"moved_at"`
	Candidates   []string `json:"candidates,omitempty"`
	Attempts     int      `json:"attempts,omitempty"`
}

// moveToError parks src in the error folder with a sidecar. The name
// is suffixed on collision so an error file never clobbers another,
// even when two workers park the same basename at once.
func moveToError(errorDir, src string, sc ErrorSidecar) (string, error) {
	if err := os.MkdirAll(errorDir, 0o755); err != nil {
		return "", err
	}

	base := filepath.Base(src)
	ext := filepath.Ext(base)
	dst, err := claimSlot(errorDir, strings.TrimSuffix(base, ext), ext)
	if err != nil {
		return "", err
	}

	if err := moveFile(src, dst); err != nil {
		os.Remove(dst)
		return "", err
	}

	sc.OriginalPath = src
	if sc.MovedAt == "" {
		sc.MovedAt = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return dst, err
	}
	if err := os.WriteFile(sidecarPath(dst), data, 0o644); err != nil {
		return dst, err
	}
	return dst, nil
}

func sidecarPath(errFile string) string {
	ext := filepath.Ext(errFile)
	return strings.TrimSuffix(errFile, ext) + ".error.json"
}

// readSidecar loads the sidecar for an error file, if present.
func readSidecar(errFile string) (*ErrorSidecar, error) {
	data, err := os.ReadFile(sidecarPath(errFile))
	if err != nil {
		return nil, err
	}
	var sc ErrorSidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}
