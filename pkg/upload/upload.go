// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package upload delivers merged artifacts to external sinks. Every
// backend is idempotent: re-sending an artifact that already arrived
// is a success, keyed by identifier and content hash.
package upload

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Backend is one delivery sink.
type Backend interface {
	Name() string
	// Upload delivers the file at path for the given identifier.
	Upload(ctx context.Context, identifier, path string) error
}

// Sentinel errors.
var (
	ErrFileTooLarge = errors.New("file exceeds configured size limit")
	ErrSizeMismatch = errors.New("size verification after copy failed")
)

// StatusError is a non-2xx HTTP response from the remote sink.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upload rejected with HTTP %d: %s", e.Code, e.Body)
}

// Config selects and parameterizes the backend set.
type Config struct {
	Type string // nas | http | dual | none

	NASPath     string
	NASUsername string
	NASPassword string

	HTTPEndpoint  string
	HTTPToken     string
	HTTPTimeout   float64 // seconds
	MaxFileSizeMB int
}

// New builds the backend named by cfg.Type.
func New(cfg Config, log *logrus.Logger) (Backend, error) {
	switch cfg.Type {
	case "nas":
		return newNAS(cfg, log), nil
	case "http":
		return newHTTP(cfg, log), nil
	case "dual":
		return &Dual{nas: newNAS(cfg, log), http: newHTTP(cfg, log), log: log}, nil
	case "none":
		return &None{log: log}, nil
	default:
		return nil, fmt.Errorf("unknown upload type %q", cfg.Type)
	}
}

// IdempotencyKey is the stable repeat-detection key sent alongside
// every delivery.
func IdempotencyKey(identifier, sha1hex string) string {
	return identifier + "-" + sha1hex
}

// FileSHA1 hashes a file's content.
func FileSHA1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
