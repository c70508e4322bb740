// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package qr

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
)

// Classification of a document after extraction.
type Classification string

const (
	ClassSuccess      Classification = "success"      // exactly one valid identifier
	ClassUnrecognized Classification = "unrecognized" // no valid identifier
	ClassAmbiguous    Classification = "ambiguous"    // two or more distinct identifiers
)

// Info is the per-document extraction audit trail.
type Info struct {
	PagesScanned  int            `json:"pages_scanned"`
	PagesWithCode int            `json:"pages_with_code"`
	EngineHits    map[string]int `json:"engine_hits"`
	DPI           int            `json:"dpi"`
	AdaptiveDPI   bool           `json:"adaptive_dpi"`
	Pages         []PageOutcome  `json:"pages"`
}

// Extraction is the full result for one document.
type Extraction struct {
	ValidCodes []string
	AllCodes   []string
	Class      Classification
	Info       Info
}

// Options configure an Extractor.
type Options struct {
	Pattern          string
	AdaptiveDPI      bool
	FixedDPI         int
	DPICandidates    []int
	SaveFailedImages bool
	FailedImagesPath string
}

// Extractor runs the rasterize-then-decode flow for whole documents.
type Extractor struct {
	raster  Rasterizer
	chain   *Chain
	pattern *regexp.Regexp
	opts    Options
	log     *logrus.Logger
}

// NewExtractor wires a rasterizer and engine chain together.
func NewExtractor(raster Rasterizer, chain *Chain, opts Options, log *logrus.Logger) (*Extractor, error) {
	if opts.Pattern == "" {
		opts.Pattern = `^[0-9]{14}$`
	}
	re, err := regexp.Compile(opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("qr.pattern: %w", err)
	}
	if opts.FixedDPI <= 0 {
		opts.FixedDPI = 200
	}
	return &Extractor{raster: raster, chain: chain, pattern: re, opts: opts, log: log}, nil
}

// Extract classifies one PDF. The returned error is reserved for
// rasterization failures; decode misses classify as unrecognized.
func (x *Extractor) Extract(ctx context.Context, pdfPath string) (*Extraction, error) {
	dpi := x.opts.FixedDPI
	if x.opts.AdaptiveDPI {
		dpi = x.pickDPI(ctx, pdfPath)
	}

	pages, err := x.raster.All(ctx, pdfPath, dpi)
	if err != nil {
		return nil, err
	}

	ext := &Extraction{Info: Info{
		PagesScanned: len(pages),
		EngineHits:   make(map[string]int),
		DPI:          dpi,
		AdaptiveDPI:  x.opts.AdaptiveDPI,
	}}
	seenAll := make(map[string]bool)
	seenValid := make(map[string]bool)

	for i, img := range pages {
		outcome := x.chain.DecodePage(i+1, img)
		ext.Info.Pages = append(ext.Info.Pages, outcome)
		if len(outcome.Codes) > 0 {
			ext.Info.PagesWithCode++
			ext.Info.EngineHits[outcome.Winner]++
		} else if x.opts.SaveFailedImages {
			x.captureFailure(pdfPath, i+1, img, outcome)
		}
		for _, code := range outcome.Codes {
			if !seenAll[code] {
				seenAll[code] = true
				ext.AllCodes = append(ext.AllCodes, code)
			}
			if x.pattern.MatchString(code) && !seenValid[code] {
				seenValid[code] = true
				ext.ValidCodes = append(ext.ValidCodes, code)
			}
		}
	}

	switch len(ext.ValidCodes) {
	case 0:
		ext.Class = ClassUnrecognized
	case 1:
		ext.Class = ClassSuccess
	default:
		ext.Class = ClassAmbiguous
	}
	return ext, nil
}

// pickDPI rasterizes only page 1 at each candidate and returns the
// first DPI yielding any symbol, falling back to the fixed DPI.
func (x *Extractor) pickDPI(ctx context.Context, pdfPath string) int {
	for _, dpi := range x.opts.DPICandidates {
		img, err := x.raster.Page(ctx, pdfPath, 1, dpi)
		if err != nil {
			x.log.WithField("dpi", dpi).Debugf("probe rasterize failed: %v", err)
			continue
		}
		outcome := x.chain.DecodePage(1, img)
		if len(outcome.Codes) > 0 {
			x.log.WithFields(logrus.Fields{"file": filepath.Base(pdfPath), "dpi": dpi}).
				Debug("adaptive DPI selected")
			return dpi
		}
	}
	return x.opts.FixedDPI
}

// captureFailure saves the page PNG plus every engine's result for
// offline diagnosis of undecodable pages.
func (x *Extractor) captureFailure(pdfPath string, page int, img image.Image, outcome PageOutcome) {
	dir := x.opts.FailedImagesPath
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	stamp := time.Now().Format("20060102-150405")
	stem := fmt.Sprintf("%s-%s-p%d", stamp, filepath.Base(pdfPath), page)

	if f, err := os.Create(filepath.Join(dir, stem+".png")); err == nil {
		png.Encode(f, img)
		f.Close()
	}
	if data, err := json.MarshalIndent(outcome, "", "  "); err == nil {
		os.WriteFile(filepath.Join(dir, stem+".json"), data, 0o644)
	}
}
