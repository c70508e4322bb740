// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/scandock/scandock/pkg/qr"
	"github.com/scandock/scandock/pkg/upload"
)

// Classifier extracts and classifies identifiers from one PDF.
// *qr.Extractor satisfies it.
type Classifier interface {
	Extract(ctx context.Context, pdfPath string) (*qr.Extraction, error)
}

// Settings parameterize the orchestrator.
type Settings struct {
	Dirs              Dirs
	WorkerCount       int
	IdentifierPattern string
	AmbiguousAction   string // strict | manual
	Watcher           WatcherSettings
	DedupPages        bool
	Normalize         bool
	TriggerMode       string // idle | schedule
	IdleAfter         time.Duration
	Schedule          string
	Retry             RetrySettings
	Retention         RetentionSettings
}

// Pipeline composes the detector, classifier worker pool, batch
// scheduler and upload queue behind one handle. The HTTP layer is
// constructed around this handle, never the other way around.
type Pipeline struct {
	settings   Settings
	classifier Classifier
	merger     Merger
	pattern    *regexp.Regexp
	log        *logrus.Logger

	events  *EventLog
	watcher *Watcher
	batch   *BatchRunner
	uploads *UploadQueue
	cron    *cron.Cron

	jobs chan string
	wg   sync.WaitGroup

	paused      atomic.Bool
	inBatch     atomic.Bool
	lastArrival atomic.Int64 // unix nano, 0 = never
	lastBatch   atomic.Int64
	arrivals    atomic.Int64 // arrivals since the last batch
	started     time.Time

	cancel context.CancelFunc
}

// New assembles a pipeline. The classifier, merger and upload backend
// are injected so the flow can be exercised without PDFs or a network.
func New(settings Settings, classifier Classifier, merger Merger,
	backend upload.Backend, log *logrus.Logger) (*Pipeline, error) {
	if settings.IdentifierPattern == "" {
		settings.IdentifierPattern = `^[0-9]{14}$`
	}
	pattern, err := regexp.Compile(settings.IdentifierPattern)
	if err != nil {
		return nil, fmt.Errorf("identifier pattern: %w", err)
	}
	if settings.WorkerCount < 1 {
		settings.WorkerCount = 3
	}
	if settings.IdleAfter <= 0 {
		settings.IdleAfter = 5 * time.Minute
	}

	p := &Pipeline{
		settings:   settings,
		classifier: classifier,
		merger:     merger,
		pattern:    pattern,
		log:        log,
		events:     NewEventLog(),
		jobs:       make(chan string, 64),
	}
	p.uploads = NewUploadQueue(backend, settings.Dirs, settings.Retry, p.events, log)
	p.batch = NewBatchRunner(settings.Dirs, merger, pattern,
		settings.DedupPages, settings.Normalize, p.events,
		func(id string) { p.uploads.Enqueue(id) }, log)
	p.watcher = NewWatcher(settings.Dirs.Inbox, settings.Watcher, p.handleReady, log)
	return p, nil
}

// Events exposes the event log for API consumers.
func (p *Pipeline) Events() *EventLog { return p.events }

// Start launches the detector, workers and batch trigger. It returns
// immediately; Close stops everything.
func (p *Pipeline) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	p.started = time.Now()
	p.uploads.Start(ctx)

	for i := 0; i < p.settings.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.watcher.Run(ctx)
	}()

	switch p.settings.TriggerMode {
	case "schedule":
		p.cron = cron.New()
		if _, err := p.cron.AddFunc(p.settings.Schedule, func() { p.TriggerBatch() }); err != nil {
			return fmt.Errorf("batch.schedule: %w", err)
		}
		p.cron.Start()
	default:
		p.wg.Add(1)
		go p.idleTrigger(ctx)
	}

	// artifacts left in merged from a previous run go back on the queue
	p.requeueMerged()
	return nil
}

// Close drains workers and in-flight uploads, bounded by timeout.
func (p *Pipeline) Close(timeout time.Duration) {
	if p.cron != nil {
		p.cron.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.uploads.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		p.log.Warn("shutdown timeout, abandoning in-flight work")
	}
}

func (p *Pipeline) handleReady(path string) {
	p.lastArrival.Store(time.Now().UnixNano())
	p.arrivals.Add(1)
	select {
	case p.jobs <- path:
	default:
		// pool saturated, classify inline rather than drop the file
		p.log.Warn("classification queue full, processing inline")
		p.classify(context.Background(), path)
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-p.jobs:
			p.classify(ctx, path)
		}
	}
}

// classify routes one stable inbox file to pending or error.
func (p *Pipeline) classify(ctx context.Context, path string) {
	base := filepath.Base(path)
	ext, err := p.classifier.Extract(ctx, path)
	if err != nil {
		p.toError(path, fmt.Sprintf("extraction failed: %v", err), nil)
		return
	}

	switch ext.Class {
	case qr.ClassSuccess:
		id := ext.ValidCodes[0]
		dst, err := pendingName(p.settings.Dirs.Pending, id)
		if err == nil {
			if err = moveFile(path, dst); err != nil {
				os.Remove(dst)
			}
		}
		if err != nil {
			p.log.WithField("file", base).Errorf("could not move to pending: %v", err)
			return
		}
		p.log.WithFields(logrus.Fields{"file": base, "id": id}).Info("classified")
		p.events.Append(Event{Type: EventClassified, Identifier: id, File: dst})

	case qr.ClassAmbiguous:
		msg := fmt.Sprintf("multiple QR codes: %s", strings.Join(ext.ValidCodes, ", "))
		if p.settings.AmbiguousAction == "manual" {
			msg = "multiple QR codes, awaiting manual identifier"
		}
		p.toError(path, msg, ext.ValidCodes)

	default: // unrecognized
		p.toError(path, "no QR code", nil)
	}
}

func (p *Pipeline) toError(path, msg string, candidates []string) {
	moved, err := moveToError(p.settings.Dirs.Error, path, ErrorSidecar{
		ErrorMessage: msg,
		Candidates:   candidates,
	})
	if err != nil {
		p.log.WithField("file", filepath.Base(path)).Errorf("could not park in error: %v", err)
		return
	}
	p.log.WithField("file", filepath.Base(path)).Warnf("moved to error: %s", msg)
	p.events.Append(Event{Type: EventError, File: moved, Detail: msg})
}

// idleTrigger fires a merge cycle once arrivals have been quiet for
// the configured window and there is work to do.
func (p *Pipeline) idleTrigger(ctx context.Context) {
	defer p.wg.Done()
	tick := time.NewTicker(15 * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			last := p.lastArrival.Load()
			if p.arrivals.Load() == 0 || last == 0 {
				continue
			}
			if time.Since(time.Unix(0, last)) >= p.settings.IdleAfter {
				p.TriggerBatch()
			}
		}
	}
}

// TriggerBatch starts a merge cycle unless one is running or the
// pipeline is paused. Returns whether a cycle was started.
func (p *Pipeline) TriggerBatch() bool {
	if p.paused.Load() {
		return false
	}
	if !p.inBatch.CompareAndSwap(false, true) {
		// a second request while one is in flight is a no-op
		return false
	}
	p.arrivals.Store(0)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inBatch.Store(false)
		p.events.Append(Event{Type: EventBatchStart})

		report := p.batch.Run(context.Background())
		pruned := sweepRetention(p.settings.Dirs, p.settings.Retention, p.log)
		p.lastBatch.Store(time.Now().UnixNano())

		p.log.WithFields(logrus.Fields{
			"groups": report.Groups, "merged": report.Merged,
			"failed": report.Failed, "pruned": pruned,
		}).Info("batch cycle finished")
		p.events.Append(Event{
			Type:   EventBatchDone,
			Detail: fmt.Sprintf("%d groups, %d merged, %d failed", report.Groups, report.Merged, report.Failed),
		})
	}()
	return true
}

// Pause stops batch cycles and uploads at the next boundary; arrivals
// are still detected and classified.
func (p *Pipeline) Pause() {
	if p.paused.CompareAndSwap(false, true) {
		p.uploads.SetPaused(true)
		p.events.Append(Event{Type: EventPaused})
	}
}

// Resume re-enables batch cycles and uploads.
func (p *Pipeline) Resume() {
	if p.paused.CompareAndSwap(true, false) {
		p.uploads.SetPaused(false)
		p.events.Append(Event{Type: EventResumed})
	}
}

// Paused reports the pause flag.
func (p *Pipeline) Paused() bool { return p.paused.Load() }

// Uptime since Start.
func (p *Pipeline) Uptime() time.Duration { return time.Since(p.started) }

// LastBatchAt returns the end time of the last merge cycle, zero if
// none ran yet.
func (p *Pipeline) LastBatchAt() time.Time {
	ns := p.lastBatch.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// QueueCounts is the folder census reported by the status API.
type QueueCounts struct {
	New           int `json:"new"`
	PendingMerge  int `json:"pendingMerge"`
	PendingUpload int `json:"pendingUpload"`
	Uploaded      int `json:"uploaded"`
	Error         int `json:"error"`
	Total         int `json:"total"`
}

// Counts walks the queue folders. The filesystem is the source of
// truth; no mirror state is kept.
func (p *Pipeline) Counts() QueueCounts {
	count := func(dir string) int {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return 0
		}
		n := 0
		for _, e := range entries {
			if !e.IsDir() && isPDF(e.Name()) {
				n++
			}
		}
		return n
	}
	c := QueueCounts{
		New:           count(p.settings.Dirs.Inbox),
		PendingMerge:  count(p.settings.Dirs.Pending),
		PendingUpload: count(p.settings.Dirs.Merged),
		Uploaded:      count(p.settings.Dirs.Uploaded),
		Error:         count(p.settings.Dirs.Error),
	}
	c.Total = c.New + c.PendingMerge + c.PendingUpload + c.Uploaded + c.Error
	return c
}

// Recent returns the newest events, bounded.
func (p *Pipeline) Recent(limit int) []Event { return p.events.Recent(limit) }

// ErrorEntry describes one parked file for the operator.
type ErrorEntry struct {
	File    string        `json:"file"`
	Sidecar *ErrorSidecar `json:"sidecar,omitempty"`
}

// RescanErrors lists the error folder with sidecar details.
func (p *Pipeline) RescanErrors() ([]ErrorEntry, error) {
	entries, err := os.ReadDir(p.settings.Dirs.Error)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []ErrorEntry
	for _, e := range entries {
		if e.IsDir() || !isPDF(e.Name()) {
			continue
		}
		path := filepath.Join(p.settings.Dirs.Error, e.Name())
		sc, _ := readSidecar(path)
		out = append(out, ErrorEntry{File: path, Sidecar: sc})
	}
	return out, nil
}

// Reprocess resubmits a parked error file under an operator-chosen
// identifier: the file moves to pending and the sidecar is removed.
func (p *Pipeline) Reprocess(path, identifier string) error {
	if !p.pattern.MatchString(identifier) {
		return fmt.Errorf("identifier %q does not match the configured pattern", identifier)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	errDir, err := filepath.Abs(p.settings.Dirs.Error)
	if err != nil {
		return err
	}
	if filepath.Dir(abs) != errDir {
		return fmt.Errorf("%s is not in the error folder", path)
	}
	if !fileExists(abs) {
		return fmt.Errorf("%s does not exist", path)
	}

	dst, err := pendingName(p.settings.Dirs.Pending, identifier)
	if err != nil {
		return err
	}
	if err := moveFile(abs, dst); err != nil {
		os.Remove(dst)
		return err
	}
	os.Remove(sidecarPath(abs))
	p.lastArrival.Store(time.Now().UnixNano())
	p.arrivals.Add(1)
	p.log.WithFields(logrus.Fields{"file": filepath.Base(path), "id": identifier}).
		Info("reprocessed from error")
	p.events.Append(Event{Type: EventClassified, Identifier: identifier, File: dst,
		Detail: "manual identifier"})
	return nil
}

// requeueMerged enqueues uploads for artifacts already in merged.
func (p *Pipeline) requeueMerged() {
	entries, err := os.ReadDir(p.settings.Dirs.Merged)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isPDF(e.Name()) {
			continue
		}
		id := stemOf(e.Name())
		if p.pattern.MatchString(id) && isCanonical(e.Name(), id) {
			p.uploads.Enqueue(id)
		}
	}
}
