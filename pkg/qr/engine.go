// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package qr extracts QR-encoded identifiers from scanned PDF pages.
// Rasterization is delegated to an external tool; decoding runs
// through an ordered chain of engines, the first engine returning any
// symbol winning the page.
package qr

import (
	"fmt"
	"image"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Result is one engine invocation over one page image.
type Result struct {
	Success bool           `json:"success"`
	Codes   []string       `json:"codes"`
	Elapsed float64        `json:"processing_time"`
	Error   string         `json:"error,omitempty"`
	Debug   map[string]any `json:"debug,omitempty"`
}

// Engine decodes QR symbols from a rasterized page.
type Engine interface {
	Name() string
	// Available probes whether the engine can run at all.
	Available() bool
	// Extract decodes; implementations must be safe for concurrent use.
	Extract(img image.Image) Result
}

// engineTimeout wraps an engine with a per-call time budget. Decoding
// cannot be interrupted, so a timed-out call is abandoned and its
// goroutine left to finish on its own.
type engineTimeout struct {
	Engine
	budget time.Duration
}

func withTimeout(e Engine, budget time.Duration) Engine {
	if budget <= 0 {
		return e
	}
	return &engineTimeout{Engine: e, budget: budget}
}

func (t *engineTimeout) Extract(img image.Image) Result {
	done := make(chan Result, 1)
	go func() { done <- t.Engine.Extract(img) }()
	select {
	case r := <-done:
		return r
	case <-time.After(t.budget):
		return Result{Error: fmt.Sprintf("%s timed out after %s", t.Name(), t.budget)}
	}
}

// Chain is the ordered engine list tried per page.
type Chain struct {
	engines []Engine
	log     *logrus.Logger
}

// NewChain keeps only the engines that report available, preserving
// order. Unavailable engines are logged once and skipped.
func NewChain(log *logrus.Logger, engines ...Engine) *Chain {
	c := &Chain{log: log}
	for _, e := range engines {
		if !e.Available() {
			log.WithField("engine", e.Name()).Warn("QR engine unavailable, skipping")
			continue
		}
		c.engines = append(c.engines, e)
	}
	return c
}

// Names returns the active engine names in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.engines))
	for i, e := range c.engines {
		names[i] = e.Name()
	}
	return names
}

// PageOutcome records what happened on one page.
type PageOutcome struct {
	Page    int               `json:"page"`
	Codes   []string          `json:"codes"`
	Winner  string            `json:"winner,omitempty"`
	Results map[string]Result `json:"results"`
}

// DecodePage runs the chain over one image. The first engine that
// yields at least one symbol wins; later engines are not consulted.
func (c *Chain) DecodePage(page int, img image.Image) PageOutcome {
	out := PageOutcome{Page: page, Results: make(map[string]Result)}
	for _, e := range c.engines {
		r := e.Extract(img)
		out.Results[e.Name()] = r
		if r.Error != "" {
			c.log.WithFields(logrus.Fields{"engine": e.Name(), "page": page}).
				Debugf("engine error: %s", r.Error)
		}
		if len(r.Codes) > 0 {
			out.Winner = e.Name()
			out.Codes = sanitizeCodes(r.Codes, c.log)
			break
		}
	}
	return out
}

// sanitizeCodes drops symbols that are not valid UTF-8. A warning is
// logged; malformed payloads never abort extraction.
func sanitizeCodes(codes []string, log *logrus.Logger) []string {
	var clean []string
	for _, code := range codes {
		if !utf8.ValidString(code) {
			log.Warn("dropping QR payload with invalid UTF-8")
			continue
		}
		clean = append(clean, code)
	}
	return clean
}
