// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package qr

import (
	"image"
	"time"
)

// PreprocEngine is the last-resort decoder: it derives several
// cleaned-up variants of the page (threshold, deskew, sharpen, blur
// removal) and decodes each, deduplicating the symbols found.
type PreprocEngine struct {
	opts map[string]any
}

// NewPreprocEngine builds the engine with its option flags.
func NewPreprocEngine(opts map[string]any) *PreprocEngine {
	return &PreprocEngine{opts: opts}
}

func (e *PreprocEngine) Name() string    { return "PYZBAR_PREPROC" }
func (e *PreprocEngine) Available() bool { return true }

func (e *PreprocEngine) Extract(img image.Image) Result {
	start := time.Now()

	seen := make(map[string]bool)
	var codes []string
	variants := derivedImages(img, e.opts)
	for _, v := range variants {
		for _, code := range decodeZXing(v, true) {
			if seen[code] {
				continue
			}
			seen[code] = true
			codes = append(codes, code)
		}
	}
	return Result{
		Success: len(codes) > 0,
		Codes:   codes,
		Elapsed: time.Since(start).Seconds(),
		Debug:   map[string]any{"variants": len(variants)},
	}
}
