// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Dual delivers to NAS and HTTP concurrently. One succeeding sink is
// enough; only a double failure propagates.
type Dual struct {
	nas  Backend
	http Backend
	log  *logrus.Logger
}

func (d *Dual) Name() string { return "dual" }

func (d *Dual) Upload(ctx context.Context, identifier, path string) error {
	var nasErr, httpErr error
	var g errgroup.Group
	g.Go(func() error {
		nasErr = d.nas.Upload(ctx, identifier, path)
		return nil
	})
	g.Go(func() error {
		httpErr = d.http.Upload(ctx, identifier, path)
		return nil
	})
	g.Wait()

	switch {
	case nasErr == nil && httpErr == nil:
		return nil
	case nasErr == nil:
		d.log.WithField("id", identifier).Warnf("HTTP leg failed, NAS succeeded: %v", httpErr)
		return nil
	case httpErr == nil:
		d.log.WithField("id", identifier).Warnf("NAS leg failed, HTTP succeeded: %v", nasErr)
		return nil
	default:
		return fmt.Errorf("both sinks failed: nas: %v; http: %v", nasErr, httpErr)
	}
}

// None acknowledges immediately without delivering anywhere. Used in
// test rigs and during commissioning.
type None struct {
	log *logrus.Logger
}

func (n *None) Name() string { return "none" }

func (n *None) Upload(ctx context.Context, identifier, path string) error {
	n.log.WithField("id", identifier).Info("upload type none, acknowledging without delivery")
	return nil
}
