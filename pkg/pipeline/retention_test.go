// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetention_PrunesByMtime(t *testing.T) {
	d := testDirs(t)
	old := put(t, d.Uploaded, "11111111111111.pdf", "x", 40*24*time.Hour)
	fresh := put(t, d.Uploaded, "22222222222222.pdf", "x", 5*24*time.Hour)

	removed := sweepRetention(d, RetentionSettings{UploadedDays: 30, ErrorDays: 14}, quietLog())
	assert.Equal(t, 1, removed)
	assert.False(t, fileExists(old))
	assert.True(t, fileExists(fresh))
}

func TestRetention_ErrorSidecarGoesWithFile(t *testing.T) {
	d := testDirs(t)
	errFile := put(t, d.Error, "33333333333333.pdf", "x", 20*24*time.Hour)
	sidecar := put(t, d.Error, "33333333333333.error.json", "{}", 20*24*time.Hour)

	sweepRetention(d, RetentionSettings{UploadedDays: 30, ErrorDays: 14}, quietLog())
	assert.False(t, fileExists(errFile))
	assert.False(t, fileExists(sidecar))
}

func TestRetention_ZeroDaysDisablesSweep(t *testing.T) {
	d := testDirs(t)
	keep := put(t, d.Uploaded, "44444444444444.pdf", "x", 400*24*time.Hour)

	removed := sweepRetention(d, RetentionSettings{}, quietLog())
	assert.Equal(t, 0, removed)
	assert.True(t, fileExists(keep))
}
