// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package qr

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// grayscale converts to 8-bit gray using the imaging luminance weights.
func grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	nrgba := imaging.Grayscale(img)
	b := nrgba.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, _, _, _ := nrgba.At(x, y).RGBA()
			gray.SetGray(x, y, color.Gray{Y: uint8(r >> 8)})
		}
	}
	return gray
}

// otsuThreshold binarizes with the Otsu global threshold, the standard
// adaptive choice for bimodal scan histograms.
func otsuThreshold(gray *image.Gray) *image.Gray {
	var hist [256]int
	b := gray.Bounds()
	total := b.Dx() * b.Dy()
	for _, px := range gray.Pix {
		hist[px]++
	}

	var sum float64
	for i, n := range hist {
		sum += float64(i) * float64(n)
	}

	var sumB, wB float64
	var maxVar float64
	threshold := 127
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > maxVar {
			maxVar = between
			threshold = t
		}
	}

	out := image.NewGray(b)
	for i, px := range gray.Pix {
		if int(px) > threshold {
			out.Pix[i] = 255
		} else {
			out.Pix[i] = 0
		}
	}
	return out
}

// estimateSkew returns the dominant text skew in degrees, found by a
// Hough transform over edge pixels restricted to ±15 degrees. The
// median angle of the strongest accumulator cells is used.
func estimateSkew(gray *image.Gray) float64 {
	const (
		angleRange = 15.0
		angleStep  = 0.5
		maxEdges   = 4000
		topCells   = 21
	)
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 8 || h < 8 {
		return 0
	}

	// horizontal gradient edge detection
	var edges []image.Point
	stride := 1
	if w*h > 1_000_000 {
		stride = 3
	}
	for y := 1; y < h-1; y += stride {
		for x := 1; x < w-1; x += stride {
			gx := int(gray.GrayAt(x+1, y).Y) - int(gray.GrayAt(x-1, y).Y)
			gy := int(gray.GrayAt(x, y+1).Y) - int(gray.GrayAt(x, y-1).Y)
			if gx*gx+gy*gy > 128*128 {
				edges = append(edges, image.Point{X: x, Y: y})
				if len(edges) >= maxEdges {
					goto accumulate
				}
			}
		}
	}

accumulate:
	if len(edges) < 50 {
		return 0
	}

	nAngles := int(2*angleRange/angleStep) + 1
	diag := int(math.Hypot(float64(w), float64(h)))
	type cell struct {
		angle float64
		votes int
	}
	acc := make([]map[int]int, nAngles)
	for i := range acc {
		acc[i] = make(map[int]int)
	}
	for _, p := range edges {
		for i := 0; i < nAngles; i++ {
			theta := (-angleRange + float64(i)*angleStep) * math.Pi / 180
			rho := int(float64(p.X)*math.Cos(theta) + float64(p.Y)*math.Sin(theta))
			acc[i][rho+diag]++
		}
	}

	var best []cell
	for i := 0; i < nAngles; i++ {
		angle := -angleRange + float64(i)*angleStep
		for _, votes := range acc[i] {
			best = append(best, cell{angle: angle, votes: votes})
		}
	}
	sort.Slice(best, func(a, b int) bool { return best[a].votes > best[b].votes })
	if len(best) > topCells {
		best = best[:topCells]
	}
	angles := make([]float64, len(best))
	for i, c := range best {
		angles[i] = c.angle
	}
	sort.Float64s(angles)
	return angles[len(angles)/2]
}

// derivedImages builds the preprocessing variants the fallback engine
// decodes, gated by per-option flags.
func derivedImages(img image.Image, opts map[string]any) []image.Image {
	enabled := func(key string) bool {
		v, ok := opts[key]
		if !ok {
			return true
		}
		b, _ := v.(bool)
		return b
	}

	gray := grayscale(img)
	var out []image.Image

	if enabled("adaptive_threshold") {
		out = append(out, otsuThreshold(gray))
	}
	if enabled("deskew") {
		if angle := estimateSkew(gray); math.Abs(angle) > 0.4 {
			rotated := imaging.Rotate(gray, angle, color.White)
			out = append(out, rotated)
			if enabled("adaptive_threshold") {
				out = append(out, otsuThreshold(grayscale(rotated)))
			}
		}
	}
	if enabled("sharpen") {
		out = append(out, imaging.Sharpen(gray, 1.5))
	}
	if enabled("blur_removal") {
		// light gaussian knocks out scanner speckle before binarizing
		out = append(out, otsuThreshold(grayscale(imaging.Blur(gray, 0.8))))
	}
	return out
}
