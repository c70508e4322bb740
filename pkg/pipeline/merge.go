// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/scandock/scandock/pkg/pdfops"
)

// Dirs is the queue folder layout the pipeline operates on.
type Dirs struct {
	Inbox    string
	Pending  string
	Merged   string
	Uploaded string
	Error    string
}

// Merger is the PDF operation surface the batch runner needs.
// *pdfops.Ops satisfies it.
type Merger interface {
	Merge(inputs []string, outPath string, opts pdfops.MergeOptions) (int, error)
	PageCount(path string) (int, error)
}

// queue states, ordered for the merge tie-break: an uploaded page set
// predates a merged one, which predates fresh pending scans.
type queueState int

const (
	stateUploaded queueState = iota
	stateMerged
	statePending
)

type queueFile struct {
	path  string
	state queueState
	mtime int64
}

// BatchRunner executes one merge cycle: regroup every identifier
// across the live queues and produce the canonical artifact per group.
type BatchRunner struct {
	dirs      Dirs
	merger    Merger
	pattern   *regexp.Regexp
	dedup     bool
	normalize bool
	log       *logrus.Logger

	// onMerged is called for every artifact that lands in (or already
	// canonically occupies) the merged folder, to enqueue its upload.
	onMerged func(id string)
	events   *EventLog
}

// BatchReport summarizes one cycle.
type BatchReport struct {
	Groups  int `json:"groups"`
	Merged  int `json:"merged"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// NewBatchRunner wires a runner; onMerged may be nil.
func NewBatchRunner(dirs Dirs, merger Merger, pattern *regexp.Regexp, dedup, normalize bool,
	events *EventLog, onMerged func(string), log *logrus.Logger) *BatchRunner {
	return &BatchRunner{
		dirs: dirs, merger: merger, pattern: pattern,
		dedup: dedup, normalize: normalize,
		events: events, onMerged: onMerged, log: log,
	}
}

// Run executes one cycle. Errors on one identifier never abort the
// cycle; each group is handled independently.
func (b *BatchRunner) Run(ctx context.Context) BatchReport {
	groups := b.collectGroups()
	report := BatchReport{Groups: len(groups)}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		switch err := b.mergeGroup(id, groups[id]); {
		case err == errNothingToDo:
			report.Skipped++
		case err != nil:
			report.Failed++
			b.log.WithField("id", id).Errorf("merge failed: %v", err)
		default:
			report.Merged++
		}
	}
	return report
}

var errNothingToDo = fmt.Errorf("group already canonical")

// collectGroups walks pending, merged and uploaded and groups files
// by identifier. Files whose stem does not match the identifier
// pattern are logged and skipped.
func (b *BatchRunner) collectGroups() map[string][]queueFile {
	groups := make(map[string][]queueFile)
	for _, src := range []struct {
		dir   string
		state queueState
	}{
		{b.dirs.Pending, statePending},
		{b.dirs.Merged, stateMerged},
		{b.dirs.Uploaded, stateUploaded},
	} {
		entries, err := os.ReadDir(src.dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !isPDF(e.Name()) {
				continue
			}
			id := stemOf(e.Name())
			if !b.pattern.MatchString(id) {
				b.log.WithField("file", e.Name()).Warn("skipping file with invalid identifier")
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			groups[id] = append(groups[id], queueFile{
				path:  filepath.Join(src.dir, e.Name()),
				state: src.state,
				mtime: info.ModTime().UnixNano(),
			})
		}
	}
	return groups
}

// mergeGroup produces the canonical artifact for one identifier.
func (b *BatchRunner) mergeGroup(id string, files []queueFile) error {
	targetDir := b.targetDir(files)
	target := filepath.Join(targetDir, id+".pdf")

	// a lone canonical file needs no physical work
	if len(files) == 1 && files[0].path == target {
		if targetDir == b.dirs.Merged && b.onMerged != nil {
			// still awaiting upload
			b.onMerged(id)
		}
		return errNothingToDo
	}

	// oldest first; on equal mtimes uploaded pages precede merged
	// precede pending, preserving chronological reading order
	sort.Slice(files, func(i, j int) bool {
		if files[i].mtime != files[j].mtime {
			return files[i].mtime < files[j].mtime
		}
		return files[i].state < files[j].state
	})

	inputs := make([]string, len(files))
	for i, f := range files {
		inputs[i] = f.path
	}

	pages, err := b.merger.Merge(inputs, target, pdfops.MergeOptions{
		Dedup:     b.dedup,
		Normalize: b.normalize,
	})
	if err != nil {
		inputs = b.quarantineBadInputs(inputs)
		if len(inputs) == 0 {
			return err
		}
		pages, err = b.merger.Merge(inputs, target, pdfops.MergeOptions{
			Dedup:     b.dedup,
			Normalize: b.normalize,
		})
		if err != nil {
			return err
		}
	}

	// remove every input that is not the target itself
	absTarget, _ := filepath.Abs(target)
	for _, in := range inputs {
		absIn, _ := filepath.Abs(in)
		if absIn == absTarget {
			continue
		}
		if err := os.Remove(in); err != nil {
			b.log.Warnf("could not remove merge input %s: %v", in, err)
		}
	}

	b.log.WithFields(logrus.Fields{"id": id, "pages": pages, "inputs": len(inputs)}).
		Info("merged")
	if b.events != nil {
		b.events.Append(Event{
			Type: EventMerged, Identifier: id, File: target,
			Detail: fmt.Sprintf("%d pages from %d inputs", pages, len(inputs)),
		})
	}
	if targetDir == b.dirs.Merged && b.onMerged != nil {
		b.onMerged(id)
	}
	return nil
}

// targetDir applies the folder selection rules: pending plus uploaded
// inputs force a re-merge into merged (the artifact changed and must
// be re-uploaded); uploaded-only groups stay put; everything else
// lands in merged.
func (b *BatchRunner) targetDir(files []queueFile) string {
	hasPending, hasUploaded, hasMerged := false, false, false
	for _, f := range files {
		switch f.state {
		case statePending:
			hasPending = true
		case stateUploaded:
			hasUploaded = true
		case stateMerged:
			hasMerged = true
		}
	}
	if hasUploaded && !hasPending && !hasMerged {
		return b.dirs.Uploaded
	}
	return b.dirs.Merged
}

// quarantineBadInputs probes each input and parks unreadable ones in
// the error folder, returning the survivors.
func (b *BatchRunner) quarantineBadInputs(inputs []string) []string {
	var good []string
	for _, in := range inputs {
		if _, err := b.merger.PageCount(in); err != nil {
			b.log.WithField("file", filepath.Base(in)).Warnf("unreadable input: %v", err)
			if moved, merr := moveToError(b.dirs.Error, in, ErrorSidecar{
				ErrorMessage: fmt.Sprintf("unreadable during merge: %v", err),
			}); merr == nil && b.events != nil {
				b.events.Append(Event{Type: EventError, File: moved, Detail: "unreadable during merge"})
			}
			continue
		}
		good = append(good, in)
	}
	return good
}
