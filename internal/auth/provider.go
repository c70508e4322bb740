// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the pluggable request-authentication
// contract and the per-IP failure rate limiter.
package auth

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
)

// Result describes one authenticated (or rejected) request.
type Result struct {
	Authenticated bool
	UserID        string
	Username      string
	Roles         []string
	IP            string
	Method        string
	Metadata      map[string]string
}

// Provider verifies a request. A nil Result with nil error means the
// request carried no credentials at all.
type Provider interface {
	// Type returns the provider discriminator ("basic", "jwt", ...).
	Type() string
	// Verify inspects the request credentials.
	Verify(r *http.Request) (*Result, error)
}

// ErrUnknownProvider is returned by NewProvider for a type that is
// declared in the vocabulary but has no implementation yet.
var ErrUnknownProvider = errors.New("unknown auth provider type")

// Reserved provider types. Only "basic" is implemented; the rest are
// part of the registry vocabulary and must not be rejected at load
// time, only at construction.
var knownTypes = []string{"basic", "jwt", "token", "cert", "sso"}

// KnownType reports whether t belongs to the provider vocabulary.
func KnownType(t string) bool { return slices.Contains(knownTypes, t) }

// NewProvider constructs a provider by type.
func NewProvider(typ string, opts map[string]string) (Provider, error) {
	switch typ {
	case "basic":
		return NewBasic(opts["username"], opts["password_hash"])
	case "jwt", "token", "cert", "sso":
		return nil, fmt.Errorf("%w: %s is reserved but not implemented", ErrUnknownProvider, typ)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, typ)
	}
}

// RequireRole reports whether the result carries the given role.
// Unauthenticated results never carry roles.
func RequireRole(res *Result, role string) bool {
	if res == nil || !res.Authenticated {
		return false
	}
	return slices.Contains(res.Roles, role)
}

// ClientIP extracts the remote address without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
