// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package qr

import (
	"image"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/multi/qrcode"
)

// ZXingEngine is the try-harder decoder: tolerant of rotated and
// partially damaged symbols at the cost of speed.
type ZXingEngine struct {
	tryHarder bool
}

// NewZXingEngine builds the engine; options follow the config schema.
func NewZXingEngine(opts map[string]any) *ZXingEngine {
	tryHarder := true
	if v, ok := opts["try_harder"].(bool); ok {
		tryHarder = v
	}
	return &ZXingEngine{tryHarder: tryHarder}
}

func (e *ZXingEngine) Name() string    { return "ZXING" }
func (e *ZXingEngine) Available() bool { return true }

func (e *ZXingEngine) Extract(img image.Image) Result {
	start := time.Now()
	codes := decodeZXing(img, e.tryHarder)
	return Result{
		Success: len(codes) > 0,
		Codes:   codes,
		Elapsed: time.Since(start).Seconds(),
	}
}

// decodeZXing runs the multi-QR reader over one image. Only QR
// symbols are returned; 1-D formats never appear since the reader is
// QR specific.
func decodeZXing(img image.Image, tryHarder bool) []string {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil
	}
	hints := map[gozxing.DecodeHintType]interface{}{}
	if tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	reader := qrcode.NewQRCodeMultiReader()
	results, err := reader.DecodeMultiple(bmp, hints)
	if err != nil {
		// NotFoundException for blank regions
		return nil
	}
	var codes []string
	for _, r := range results {
		if r.GetBarcodeFormat() != gozxing.BarcodeFormat_QR_CODE {
			continue
		}
		codes = append(codes, r.GetText())
	}
	return codes
}
