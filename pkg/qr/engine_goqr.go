// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package qr

import (
	"image"
	"time"

	"github.com/liyue201/goqr"
)

// GoQREngine is the baseline decoder: a quirc-style recognizer run on
// the raw grayscale. Fast, handles the common clean-scan case.
type GoQREngine struct{}

// NewGoQREngine returns the baseline engine.
func NewGoQREngine() *GoQREngine { return &GoQREngine{} }

func (e *GoQREngine) Name() string    { return "ZBAR" }
func (e *GoQREngine) Available() bool { return true }

func (e *GoQREngine) Extract(img image.Image) Result {
	start := time.Now()
	symbols, err := goqr.Recognize(grayscale(img))
	elapsed := time.Since(start).Seconds()
	if err != nil {
		// "not found" is the normal empty-page outcome
		return Result{Elapsed: elapsed}
	}
	var codes []string
	for _, s := range symbols {
		codes = append(codes, string(s.Payload))
	}
	return Result{Success: len(codes) > 0, Codes: codes, Elapsed: elapsed}
}
