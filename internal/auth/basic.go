// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"net/http"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Basic authenticates HTTP Basic requests against a single shared
// credential. The password is held only as a bcrypt hash.
type Basic struct {
	mu       sync.RWMutex
	username string
	hash     []byte
}

// NewBasic builds the provider from a username and a bcrypt hash.
// An empty hash means the provider rejects everything until
// SetPassword is called.
func NewBasic(username, passwordHash string) (*Basic, error) {
	if username == "" {
		username = "admin"
	}
	return &Basic{username: username, hash: []byte(passwordHash)}, nil
}

// NewBasicFromPassword hashes the given plaintext password.
func NewBasicFromPassword(username, password string) (*Basic, error) {
	if password == "" {
		return nil, errors.New("basic auth requires a non-empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	b, _ := NewBasic(username, "")
	b.hash = hash
	return b, nil
}

func (b *Basic) Type() string { return "basic" }

// Verify checks the request's Basic credentials. bcrypt comparison is
// constant time with respect to the password.
func (b *Basic) Verify(r *http.Request) (*Result, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}

	b.mu.RLock()
	wantUser, hash := b.username, b.hash
	b.mu.RUnlock()

	res := &Result{
		Username: user,
		IP:       ClientIP(r),
		Method:   "basic",
	}
	if user != wantUser || len(hash) == 0 {
		return res, nil
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(pass)) != nil {
		return res, nil
	}
	res.Authenticated = true
	res.UserID = user
	res.Roles = []string{"admin"}
	return res, nil
}

// SetPassword replaces the stored hash.
func (b *Basic) SetPassword(password string) error {
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.hash = hash
	b.mu.Unlock()
	return nil
}

// CheckPassword verifies a plaintext password out of band, used by the
// password-rotation endpoint to confirm the current credential.
func (b *Basic) CheckPassword(password string) bool {
	b.mu.RLock()
	hash := b.hash
	b.mu.RUnlock()
	if len(hash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
