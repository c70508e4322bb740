// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package pipeline owns the document lifecycle: arrival detection,
// classification, batch merging, upload with retry, and retention.
// The directory tree is the source of truth; every state transition
// is an atomic rename between queue folders.
package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one observable pipeline happening, kept in a bounded ring
// for the recent-activity API and streamed to subscribers.
type Event struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Type       string    `json:"type"`
	Identifier string    `json:"identifier,omitempty"`
	File       string    `json:"file,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Event types.
const (
	EventClassified   = "classified"
	EventError        = "error"
	EventMerged       = "merged"
	EventUploaded     = "uploaded"
	EventUploadFailed = "upload_failed"
	EventBatchStart   = "batch_started"
	EventBatchDone    = "batch_finished"
	EventPaused       = "paused"
	EventResumed      = "resumed"
)

const eventRingSize = 200

// EventLog is a fixed-capacity ring of recent events with fan-out to
// registered subscribers. Subscriber callbacks must not block.
type EventLog struct {
	mu   sync.Mutex
	ring []Event
	next int
	full bool
	subs []func(Event)
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog {
	return &EventLog{ring: make([]Event, eventRingSize)}
}

// Subscribe registers a callback invoked for every appended event.
func (l *EventLog) Subscribe(fn func(Event)) {
	l.mu.Lock()
	l.subs = append(l.subs, fn)
	l.mu.Unlock()
}

// Append stamps and records the event.
func (l *EventLog) Append(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	l.mu.Lock()
	l.ring[l.next] = e
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	subs := l.subs
	l.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}

// Recent returns up to limit events, newest first.
func (l *EventLog) Recent(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.ring)) % len(l.ring)
		out = append(out, l.ring[idx])
	}
	return out
}
