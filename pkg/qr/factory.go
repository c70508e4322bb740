// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package qr

import (
	"time"

	"github.com/sirupsen/logrus"
)

// EngineSpec mirrors the per-engine config block.
type EngineSpec struct {
	Enabled bool
	Timeout time.Duration
	Options map[string]any
}

// BuildChain constructs the engine chain in the configured order.
// Unknown names are logged and skipped so a config written for a
// newer build degrades instead of failing.
func BuildChain(log *logrus.Logger, order []string, specs map[string]EngineSpec) *Chain {
	var engines []Engine
	for _, name := range order {
		spec, ok := specs[name]
		if ok && !spec.Enabled {
			continue
		}
		var e Engine
		switch name {
		case "ZBAR":
			e = NewGoQREngine()
		case "ZXING":
			e = NewZXingEngine(spec.Options)
		case "PYZBAR_PREPROC":
			e = NewPreprocEngine(spec.Options)
		default:
			log.WithField("engine", name).Warn("unknown QR engine in engine_order")
			continue
		}
		engines = append(engines, withTimeout(e, spec.Timeout))
	}
	return NewChain(log, engines...)
}
