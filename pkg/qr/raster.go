// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package qr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
)

// Rasterizer turns PDF pages into images.
type Rasterizer interface {
	// Page renders a single 1-based page.
	Page(ctx context.Context, pdfPath string, page, dpi int) (image.Image, error)
	// All renders every page in order.
	All(ctx context.Context, pdfPath string, dpi int) ([]image.Image, error)
}

// PopplerRasterizer shells out to pdftoppm from the poppler-utils
// suite, the conventional rasterizer for scanned documents.
type PopplerRasterizer struct {
	// Binary overrides the executable name, for tests.
	Binary string
}

func (p *PopplerRasterizer) binary() string {
	if p.Binary != "" {
		return p.Binary
	}
	return "pdftoppm"
}

// Available reports whether the binary is on PATH.
func (p *PopplerRasterizer) Available() bool {
	_, err := exec.LookPath(p.binary())
	return err == nil
}

func (p *PopplerRasterizer) Page(ctx context.Context, pdfPath string, page, dpi int) (image.Image, error) {
	imgs, err := p.run(ctx, pdfPath, dpi, page, page)
	if err != nil {
		return nil, err
	}
	if len(imgs) == 0 {
		return nil, fmt.Errorf("rasterize %s page %d: no output", filepath.Base(pdfPath), page)
	}
	return imgs[0], nil
}

func (p *PopplerRasterizer) All(ctx context.Context, pdfPath string, dpi int) ([]image.Image, error) {
	return p.run(ctx, pdfPath, dpi, 0, 0)
}

func (p *PopplerRasterizer) run(ctx context.Context, pdfPath string, dpi, first, last int) ([]image.Image, error) {
	tmp, err := os.MkdirTemp("", "scandock-raster-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	prefix := filepath.Join(tmp, "page")
	args := []string{"-png", "-r", strconv.Itoa(dpi)}
	if first > 0 {
		args = append(args, "-f", strconv.Itoa(first), "-l", strconv.Itoa(last))
	}
	args = append(args, pdfPath, prefix)

	cmd := exec.CommandContext(ctx, p.binary(), args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm %s: %w (%s)", filepath.Base(pdfPath), err, string(out))
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".png" {
			files = append(files, filepath.Join(tmp, e.Name()))
		}
	}
	// pdftoppm zero-pads page numbers so lexical order is page order
	sort.Strings(files)

	imgs := make([]image.Image, 0, len(files))
	for _, f := range files {
		fh, err := os.Open(f)
		if err != nil {
			return nil, err
		}
		img, err := png.Decode(fh)
		fh.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(f), err)
		}
		imgs = append(imgs, img)
	}
	return imgs, nil
}
