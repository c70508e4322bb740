// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasic_VerifyGoodAndBad(t *testing.T) {
	b, err := NewBasicFromPassword("admin", "s3cret")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/status", nil)
	req.SetBasicAuth("admin", "s3cret")
	req.RemoteAddr = "10.0.0.9:41234"

	res, err := b.Verify(req)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Authenticated)
	assert.Equal(t, "admin", res.Username)
	assert.Equal(t, "10.0.0.9", res.IP)
	assert.True(t, RequireRole(res, "admin"))

	req.SetBasicAuth("admin", "wrong")
	res, err = b.Verify(req)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Authenticated)
	assert.False(t, RequireRole(res, "admin"))
}

func TestBasic_NoCredentials(t *testing.T) {
	b, err := NewBasicFromPassword("admin", "pw")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	res, err := b.Verify(req)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestBasic_SetPassword(t *testing.T) {
	b, err := NewBasicFromPassword("admin", "old")
	require.NoError(t, err)

	assert.True(t, b.CheckPassword("old"))
	require.NoError(t, b.SetPassword("new"))
	assert.False(t, b.CheckPassword("old"))
	assert.True(t, b.CheckPassword("new"))
}

func TestNewProvider_UnknownAndReserved(t *testing.T) {
	_, err := NewProvider("jwt", nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = NewProvider("carrier-pigeon", nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	assert.True(t, KnownType("sso"))
	assert.False(t, KnownType("carrier-pigeon"))
}

func TestRateLimiter_LocksAfterFailures(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, 15*time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		locked := rl.Failure("1.2.3.4")
		assert.False(t, locked, "attempt %d should not lock", i+1)
	}
	assert.True(t, rl.Failure("1.2.3.4"))

	ok, remaining := rl.Allowed("1.2.3.4")
	assert.False(t, ok)
	assert.Greater(t, remaining, 0)
	assert.LessOrEqual(t, remaining, 15*60+1)

	// correct credentials do not help until the lock expires
	ok, _ = rl.Allowed("1.2.3.4")
	assert.False(t, ok)

	// other keys unaffected
	ok, _ = rl.Allowed("5.6.7.8")
	assert.True(t, ok)

	// lock expires after the window
	now = now.Add(15*time.Minute + time.Second)
	ok, _ = rl.Allowed("1.2.3.4")
	assert.True(t, ok)
}

func TestRateLimiter_SuccessClears(t *testing.T) {
	rl := NewRateLimiter(5, 15*time.Minute)
	rl.Failure("1.2.3.4")
	rl.Failure("1.2.3.4")
	rl.Success("1.2.3.4")

	for i := 0; i < 4; i++ {
		assert.False(t, rl.Failure("1.2.3.4"))
	}
}

func TestRateLimiter_IdleSweep(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(5, 15*time.Minute)
	rl.now = func() time.Time { return now }

	rl.Failure("1.2.3.4")
	now = now.Add(25 * time.Hour)

	// sweep happens lazily on Allowed
	ok, _ := rl.Allowed("9.9.9.9")
	assert.True(t, ok)

	rl.mu.Lock()
	_, exists := rl.entries["1.2.3.4"]
	rl.mu.Unlock()
	assert.False(t, exists)
}
