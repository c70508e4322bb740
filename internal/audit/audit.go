// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package audit writes the append-only JSON-lines log of admin actions.
// Payloads are hashed before logging so credentials can transit an
// action without ever landing on disk.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the on-disk name of the admin actions log.
const FileName = "admin_actions.log"

// Entry is one audit record. Optional fields are omitted when empty.
type Entry struct {
	Timestamp        string `json:"timestamp"`
	User             string `json:"user"`
	IP               string `json:"ip,omitempty"`
	Action           string `json:"action"`
	TargetInstanceID string `json:"target_instance_id,omitempty"`
	PayloadHash      string `json:"payload_hash,omitempty"`
	Result           string `json:"result"`
	Detail           string `json:"detail,omitempty"`
}

// Logger appends entries to a rotated file. Safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	path string
	out  *lumberjack.Logger
	now  func() time.Time
}

// New creates a logger writing to path, rotating at 50 MB.
func New(path string) *Logger {
	return &Logger{
		path: path,
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // MB
			MaxBackups: 3,
		},
		now: time.Now,
	}
}

// HashPayload returns the stable fingerprint recorded in place of a
// request payload: first 16 hex chars of its SHA-256.
func HashPayload(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}

// Log appends one entry. The timestamp is filled in if empty.
func (l *Logger) Log(e Entry) error {
	if e.Timestamp == "" {
		e.Timestamp = l.now().UTC().Format(time.RFC3339)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.out.Write(line)
	return err
}

// Success records an action that completed.
func (l *Logger) Success(user, ip, action, target string, payload []byte) {
	l.Log(Entry{
		User:             user,
		IP:               ip,
		Action:           action,
		TargetInstanceID: target,
		PayloadHash:      HashPayload(payload),
		Result:           "SUCCESS",
	})
}

// Failure records an action that was denied or failed.
func (l *Logger) Failure(user, ip, action, target, detail string) {
	l.Log(Entry{
		User:             user,
		IP:               ip,
		Action:           action,
		TargetInstanceID: target,
		Result:           "FAILURE",
		Detail:           detail,
	})
}

// ReadRecent returns up to limit entries from the current log file,
// newest first. Rotated files are not consulted.
func (l *Logger) ReadRecent(limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		if json.Unmarshal(sc.Bytes(), &e) != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	// newest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
