// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"os"
	"sync"
)

type gateState struct {
	size   int64
	checks int
}

// StabilityGate releases a file only after its size has been observed
// unchanged on K consecutive checks and a 1-byte read probe succeeds.
// Scanners write large PDFs incrementally; touching one mid-write
// corrupts the merge downstream.
type StabilityGate struct {
	mu       sync.Mutex
	tracked  map[string]*gateState
	required int
}

// NewStabilityGate requires checks consecutive stable observations
// (minimum 1).
func NewStabilityGate(checks int) *StabilityGate {
	if checks < 1 {
		checks = 1
	}
	return &StabilityGate{
		tracked:  make(map[string]*gateState),
		required: checks,
	}
}

// Observe records one observation of path and reports whether the
// file is now stable. On release or disappearance the per-path state
// is evicted.
func (g *StabilityGate) Observe(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		g.Forget(path)
		return false
	}

	g.mu.Lock()
	st, ok := g.tracked[path]
	if !ok {
		st = &gateState{}
		g.tracked[path] = st
	}
	if st.size == info.Size() && st.checks > 0 {
		st.checks++
	} else {
		st.size = info.Size()
		st.checks = 1
	}
	stable := st.checks >= g.required
	g.mu.Unlock()

	if !stable {
		return false
	}
	if !readProbe(path) {
		// still locked by the writer, start the count over
		g.mu.Lock()
		if st, ok := g.tracked[path]; ok {
			st.checks = 0
		}
		g.mu.Unlock()
		return false
	}
	g.Forget(path)
	return true
}

// Forget evicts state for path.
func (g *StabilityGate) Forget(path string) {
	g.mu.Lock()
	delete(g.tracked, path)
	g.mu.Unlock()
}

// Tracking reports whether path is currently gated.
func (g *StabilityGate) Tracking(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.tracked[path]
	return ok
}

// readProbe opens the file and reads one byte.
func readProbe(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 1)
	_, err = f.Read(buf)
	return err == nil
}
