// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/scandock/scandock/pkg/upload"
)

// RetrySettings mirrors the retry config section.
type RetrySettings struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

func (r RetrySettings) withDefaults() RetrySettings {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 5
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = 60 * time.Second
	}
	if r.BackoffMultiplier <= 0 {
		r.BackoffMultiplier = 2
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = time.Hour
	}
	return r
}

// newBackoff builds the deterministic retry schedule: the delay before
// attempt k is min(initial * multiplier^(k-1), max), no jitter.
func (r RetrySettings) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(float64(r.InitialDelay) * r.BackoffMultiplier)
	b.Multiplier = r.BackoffMultiplier
	b.MaxInterval = r.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// UploadQueue drives delivery of merged artifacts. One goroutine per
// identifier keeps attempts for the same identifier strictly serial;
// distinct identifiers proceed independently.
type UploadQueue struct {
	backend upload.Backend
	dirs    Dirs
	retry   RetrySettings
	events  *EventLog
	log     *logrus.Logger

	paused atomic.Bool

	mu     sync.Mutex
	active map[string]bool
	wg     sync.WaitGroup
	ctx    context.Context
}

// NewUploadQueue builds an idle queue; Start binds its context.
func NewUploadQueue(backend upload.Backend, dirs Dirs, retry RetrySettings,
	events *EventLog, log *logrus.Logger) *UploadQueue {
	return &UploadQueue{
		backend: backend,
		dirs:    dirs,
		retry:   retry.withDefaults(),
		events:  events,
		log:     log,
		active:  make(map[string]bool),
	}
}

// Start makes the queue accept work until ctx is cancelled.
func (q *UploadQueue) Start(ctx context.Context) { q.ctx = ctx }

// SetPaused gates new attempts; in-flight network calls finish.
func (q *UploadQueue) SetPaused(paused bool) { q.paused.Store(paused) }

// Wait blocks until every active task has finished.
func (q *UploadQueue) Wait() { q.wg.Wait() }

// Enqueue schedules the merged artifact for identifier id. Duplicate
// enqueues while a task is active are no-ops.
func (q *UploadQueue) Enqueue(id string) bool {
	q.mu.Lock()
	if q.active[id] {
		q.mu.Unlock()
		return false
	}
	q.active[id] = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.process(id)
	return true
}

func (q *UploadQueue) process(id string) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		delete(q.active, id)
		q.mu.Unlock()
	}()

	src := filepath.Join(q.dirs.Merged, id+".pdf")
	bo := q.retry.newBackoff()

	var lastErr error
	for attempt := 1; attempt <= q.retry.MaxAttempts; attempt++ {
		if !q.waitUntilRunnable() {
			// shutdown; artifact stays in merged, re-enqueued next start
			return
		}
		if !fileExists(src) {
			// a later merge cycle superseded or removed the artifact
			q.log.WithField("id", id).Debug("upload source gone, dropping task")
			return
		}

		lastErr = q.backend.Upload(q.ctx, id, src)
		if lastErr == nil {
			q.finishSuccess(id, src)
			return
		}
		q.log.WithFields(logrus.Fields{"id": id, "attempt": attempt}).
			Warnf("upload failed: %v", lastErr)
		if attempt == q.retry.MaxAttempts {
			break
		}
		if !q.sleep(bo.NextBackOff()) {
			return
		}
	}

	q.finishFailure(id, src, lastErr)
}

func (q *UploadQueue) finishSuccess(id, src string) {
	dst := filepath.Join(q.dirs.Uploaded, id+".pdf")
	// a prior uploaded copy is superseded by the new artifact
	if err := moveFile(src, dst); err != nil {
		q.log.WithField("id", id).Errorf("uploaded but could not archive: %v", err)
		return
	}
	q.log.WithField("id", id).Info("uploaded")
	q.events.Append(Event{Type: EventUploaded, Identifier: id, File: dst})
}

func (q *UploadQueue) finishFailure(id, src string, lastErr error) {
	moved, err := moveToError(q.dirs.Error, src, ErrorSidecar{
		ErrorMessage: fmt.Sprintf("upload failed after %d attempts: %v", q.retry.MaxAttempts, lastErr),
		Attempts:     q.retry.MaxAttempts,
	})
	if err != nil {
		q.log.WithField("id", id).Errorf("could not park failed upload: %v", err)
		return
	}
	q.events.Append(Event{
		Type: EventUploadFailed, Identifier: id, File: moved,
		Detail: fmt.Sprintf("%d attempts", q.retry.MaxAttempts),
	})
}

// waitUntilRunnable blocks while paused; false means shutdown.
func (q *UploadQueue) waitUntilRunnable() bool {
	for q.paused.Load() {
		if !q.sleep(500 * time.Millisecond) {
			return false
		}
	}
	return q.ctx.Err() == nil
}

// sleep waits d or returns false when the queue context ends.
func (q *UploadQueue) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-q.ctx.Done():
		return false
	}
}
