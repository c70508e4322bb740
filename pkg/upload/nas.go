// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// NAS copies artifacts onto a mounted network share. Idempotency is
// hash based: an existing target with the same SHA-1 is a no-op, a
// differing one is overwritten since the caller only uploads after the
// artifact changed.
type NAS struct {
	root     string
	username string
	password string
	log      *logrus.Logger

	mountOnce sync.Once
}

func newNAS(cfg Config, log *logrus.Logger) *NAS {
	return &NAS{
		root:     cfg.NASPath,
		username: cfg.NASUsername,
		password: cfg.NASPassword,
		log:      log,
	}
}

func (n *NAS) Name() string { return "nas" }

func (n *NAS) Upload(ctx context.Context, identifier, path string) error {
	if n.username != "" {
		n.mountOnce.Do(func() { n.tryMount(ctx) })
	}

	srcHash, err := FileSHA1(path)
	if err != nil {
		return fmt.Errorf("hash source: %w", err)
	}

	target := filepath.Join(n.root, identifier+".pdf")
	if dstHash, err := FileSHA1(target); err == nil {
		if dstHash == srcHash {
			n.log.WithField("id", identifier).Info("already on NAS, skipping")
			return nil
		}
		n.log.WithField("id", identifier).Info("NAS copy differs, overwriting")
	}

	if err := os.MkdirAll(n.root, 0o755); err != nil {
		return err
	}
	if err := copyAtomic(path, target); err != nil {
		return fmt.Errorf("copy to NAS: %w", err)
	}

	srcInfo, err := os.Stat(path)
	if err != nil {
		return err
	}
	dstInfo, err := os.Stat(target)
	if err != nil {
		return err
	}
	if srcInfo.Size() != dstInfo.Size() {
		return fmt.Errorf("%w: src %d bytes, dst %d bytes", ErrSizeMismatch, srcInfo.Size(), dstInfo.Size())
	}
	return nil
}

// tryMount attempts a credentialed mount of the share. Failures are
// logged only; on most deployments the share is mounted by the OS.
func (n *NAS) tryMount(ctx context.Context) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "net", "use", n.root, n.password, "/user:"+n.username)
	case "linux":
		cmd = exec.CommandContext(ctx, "mount", n.root)
	default:
		n.log.Debugf("no mount helper for %s, assuming share is mounted", runtime.GOOS)
		return
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		n.log.Warnf("NAS mount attempt failed: %v (%s)", err, string(out))
	}
}

// copyAtomic writes through a temp file in the destination directory
// and fsyncs before renaming so the target appears whole or not at
// all, even across a network filesystem.
func copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
