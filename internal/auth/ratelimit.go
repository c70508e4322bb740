// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"sync"
	"time"
)

const (
	defaultMaxFailures = 5
	defaultLockout     = 15 * time.Minute
	idleEviction       = 24 * time.Hour
)

type limitEntry struct {
	failures int
	lastSeen time.Time
	lockedAt time.Time
}

// RateLimiter tracks consecutive auth failures per client IP and
// locks a key out after too many.
type RateLimiter struct {
	mu          sync.Mutex
	entries     map[string]*limitEntry
	maxFailures int
	lockout     time.Duration
	now         func() time.Time
}

// NewRateLimiter returns a limiter with the given thresholds; zero
// values select the defaults (5 failures, 15 minute lockout).
func NewRateLimiter(maxFailures int, lockout time.Duration) *RateLimiter {
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	if lockout <= 0 {
		lockout = defaultLockout
	}
	return &RateLimiter{
		entries:     make(map[string]*limitEntry),
		maxFailures: maxFailures,
		lockout:     lockout,
		now:         time.Now,
	}
}

// Allowed reports whether the key may attempt authentication. When
// locked, the second return value is the seconds remaining.
func (rl *RateLimiter) Allowed(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweepLocked()

	e, ok := rl.entries[key]
	if !ok || e.lockedAt.IsZero() {
		return true, 0
	}
	remaining := rl.lockout - rl.now().Sub(e.lockedAt)
	if remaining <= 0 {
		// lock expired, start over
		delete(rl.entries, key)
		return true, 0
	}
	return false, int(remaining.Seconds()) + 1
}

// Failure records a failed attempt and returns true if the key is now
// locked out.
func (rl *RateLimiter) Failure(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok {
		e = &limitEntry{}
		rl.entries[key] = e
	}
	e.failures++
	e.lastSeen = rl.now()
	if e.failures >= rl.maxFailures {
		e.lockedAt = rl.now()
		return true
	}
	return false
}

// Success clears the failure counter for the key.
func (rl *RateLimiter) Success(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, key)
}

// sweepLocked drops entries idle for more than 24 hours. Caller holds
// the lock.
func (rl *RateLimiter) sweepLocked() {
	cutoff := rl.now().Add(-idleEviction)
	for k, e := range rl.entries {
		if e.lastSeen.Before(cutoff) {
			delete(rl.entries, k)
		}
	}
}
