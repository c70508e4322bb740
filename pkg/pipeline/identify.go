// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// pending files may carry a "(n)" collision suffix
var collisionSuffix = regexp.MustCompile(`\((\d+)\)$`)

// stemOf strips the extension and any collision suffix, yielding the
// candidate identifier encoded in a queue filename.
func stemOf(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return collisionSuffix.ReplaceAllString(stem, "")
}

// isCanonical reports whether the filename is the plain <id>.pdf form
// with no collision suffix.
func isCanonical(filename, id string) bool {
	return filepath.Base(filename) == id+".pdf"
}

// pendingName claims a free path for id in dir: <id>.pdf when
// available, otherwise <id>(n).pdf with the smallest free n >= 1.
func pendingName(dir, id string) (string, error) {
	return claimSlot(dir, id, ".pdf")
}

// claimSlot reserves the first free <stem><ext> or <stem>(n)<ext> name
// in dir with an exclusive create, so concurrent claimants of the same
// stem always get distinct names. The caller moves the real file over
// the placeholder, or releases the slot with os.Remove on failure.
func claimSlot(dir, stem, ext string) (string, error) {
	for n := 0; n <= 10000; n++ {
		name := stem + ext
		if n > 0 {
			name = fmt.Sprintf("%s(%d)%s", stem, n, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			f.Close()
			return path, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free slot for %s in %s", stem, dir)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// moveFile renames src to dst, falling back to copy-then-delete when
// the rename crosses filesystems. The destination appears atomically
// either way.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".part"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}
