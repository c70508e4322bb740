// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scandock/scandock/pkg/pdfops"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// lineMerger stands in for pdfops: each line of a file is a "page",
// merge concatenates lines, dedup drops repeated lines.
type lineMerger struct{}

func (lineMerger) Merge(inputs []string, outPath string, opts pdfops.MergeOptions) (int, error) {
	seen := make(map[string]bool)
	var pages []string
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return 0, err
		}
		if strings.Contains(string(data), "BAD") {
			return 0, fmt.Errorf("corrupt input %s", in)
		}
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			if opts.Dedup && seen[line] {
				continue
			}
			seen[line] = true
			pages = append(pages, line)
		}
	}
	if err := os.WriteFile(outPath, []byte(strings.Join(pages, "\n")+"\n"), 0o644); err != nil {
		return 0, err
	}
	return len(pages), nil
}

func (lineMerger) PageCount(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if strings.Contains(string(data), "BAD") {
		return 0, fmt.Errorf("corrupt input %s", path)
	}
	return len(strings.Split(strings.TrimSpace(string(data)), "\n")), nil
}

func testDirs(t *testing.T) Dirs {
	t.Helper()
	root := t.TempDir()
	d := Dirs{
		Inbox:    filepath.Join(root, "inbox"),
		Pending:  filepath.Join(root, "pending"),
		Merged:   filepath.Join(root, "merged"),
		Uploaded: filepath.Join(root, "uploaded"),
		Error:    filepath.Join(root, "error"),
	}
	for _, dir := range []string{d.Inbox, d.Pending, d.Merged, d.Uploaded, d.Error} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	return d
}

func put(t *testing.T, dir, name, content string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	when := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, when, when))
	return path
}

func newRunner(d Dirs, onMerged func(string)) *BatchRunner {
	pattern := regexp.MustCompile(`^[0-9]{14}$`)
	return NewBatchRunner(d, lineMerger{}, pattern, true, false,
		NewEventLog(), onMerged, quietLog())
}

func TestBatch_PendingMergesIntoMerged(t *testing.T) {
	d := testDirs(t)
	put(t, d.Pending, "99999999999999.pdf", "p1", 3*time.Minute)
	put(t, d.Pending, "99999999999999(1).pdf", "p2", 2*time.Minute)
	put(t, d.Pending, "99999999999999(2).pdf", "p3", time.Minute)

	var enqueued []string
	report := newRunner(d, func(id string) { enqueued = append(enqueued, id) }).
		Run(context.Background())

	assert.Equal(t, 1, report.Groups)
	assert.Equal(t, 1, report.Merged)

	data, err := os.ReadFile(filepath.Join(d.Merged, "99999999999999.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "p1\np2\np3\n", string(data))

	left, _ := os.ReadDir(d.Pending)
	assert.Empty(t, left, "pending inputs removed after merge")
	assert.Equal(t, []string{"99999999999999"}, enqueued)
}

func TestBatch_LateArrivalDemotesUploaded(t *testing.T) {
	d := testDirs(t)
	put(t, d.Uploaded, "77777777777777.pdf", "old1\nold2", time.Hour)
	put(t, d.Pending, "77777777777777.pdf", "new1", time.Minute)

	report := newRunner(d, nil).Run(context.Background())
	assert.Equal(t, 1, report.Merged)

	// uploaded copy demoted: gone from uploaded, re-merged into merged
	assert.False(t, fileExists(filepath.Join(d.Uploaded, "77777777777777.pdf")))
	data, err := os.ReadFile(filepath.Join(d.Merged, "77777777777777.pdf"))
	require.NoError(t, err)
	// uploaded pages precede the late arrival
	assert.Equal(t, "old1\nold2\nnew1\n", string(data))
}

func TestBatch_UploadedOnlyIsLeftAlone(t *testing.T) {
	d := testDirs(t)
	path := put(t, d.Uploaded, "66666666666666.pdf", "a\nb", time.Hour)
	before, _ := os.Stat(path)

	report := newRunner(d, nil).Run(context.Background())
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Merged)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestBatch_DedupDropsRepeatedPages(t *testing.T) {
	d := testDirs(t)
	put(t, d.Pending, "11111111111111.pdf", "page-a\npage-b", 2*time.Minute)
	put(t, d.Pending, "11111111111111(1).pdf", "page-a\npage-b", time.Minute)

	newRunner(d, nil).Run(context.Background())

	data, err := os.ReadFile(filepath.Join(d.Merged, "11111111111111.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "page-a\npage-b\n", string(data), "identical pages not doubled")
}

func TestBatch_MergedOnlyReenqueuesUpload(t *testing.T) {
	d := testDirs(t)
	put(t, d.Merged, "55555555555555.pdf", "a", time.Minute)

	var enqueued []string
	report := newRunner(d, func(id string) { enqueued = append(enqueued, id) }).
		Run(context.Background())

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []string{"55555555555555"}, enqueued)
}

func TestBatch_InvalidNamesSkipped(t *testing.T) {
	d := testDirs(t)
	put(t, d.Pending, "not-an-identifier.pdf", "x", time.Minute)

	report := newRunner(d, nil).Run(context.Background())
	assert.Equal(t, 0, report.Groups)
	assert.True(t, fileExists(filepath.Join(d.Pending, "not-an-identifier.pdf")))
}

func TestBatch_BadInputQuarantinedRestMerged(t *testing.T) {
	d := testDirs(t)
	put(t, d.Pending, "44444444444444.pdf", "good1", 2*time.Minute)
	put(t, d.Pending, "44444444444444(1).pdf", "BAD", time.Minute)

	report := newRunner(d, nil).Run(context.Background())
	assert.Equal(t, 1, report.Merged)

	data, err := os.ReadFile(filepath.Join(d.Merged, "44444444444444.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "good1\n", string(data))

	// the corrupt file landed in error with a sidecar
	errFiles, _ := os.ReadDir(d.Error)
	var names []string
	for _, e := range errFiles {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "44444444444444(1).pdf")
	assert.Contains(t, names, "44444444444444(1).error.json")
}

func TestBatch_GroupFailureDoesNotAbortCycle(t *testing.T) {
	d := testDirs(t)
	// this group fails even after quarantine (its only file is bad)
	put(t, d.Pending, "22222222222222.pdf", "BAD", time.Minute)
	put(t, d.Pending, "33333333333333.pdf", "fine", time.Minute)

	report := newRunner(d, nil).Run(context.Background())
	assert.Equal(t, 1, report.Merged)
	assert.True(t, fileExists(filepath.Join(d.Merged, "33333333333333.pdf")))
}
