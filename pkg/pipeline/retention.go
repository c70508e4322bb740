// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// RetentionSettings bound how long terminal files are kept.
type RetentionSettings struct {
	UploadedDays int
	ErrorDays    int
}

// sweepRetention prunes uploaded and error files older than their
// configured age, judged by file mtime. Error sidecars go with their
// file.
func sweepRetention(dirs Dirs, settings RetentionSettings, log *logrus.Logger) int {
	removed := 0
	removed += sweepDir(dirs.Uploaded, settings.UploadedDays, log)
	removed += sweepDir(dirs.Error, settings.ErrorDays, log)
	return removed
}

func sweepDir(dir string, days int, log *logrus.Logger) int {
	if days <= 0 || dir == "" {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Warnf("retention: could not remove %s: %v", path, err)
			continue
		}
		removed++
		if isPDF(path) {
			// drop the sidecar together with its file
			os.Remove(sidecarPath(path))
		}
		log.WithField("file", e.Name()).Debug("retention pruned")
	}
	return removed
}
