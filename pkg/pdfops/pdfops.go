// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package pdfops wraps the pdfcpu toolkit with the small set of
// operations the pipeline needs: page counting, page-level hashing,
// deduplicating merge and optional normalization.
package pdfops

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Ops performs PDF operations with a fixed pdfcpu configuration.
type Ops struct {
	conf *model.Configuration
	// hash algorithm for page dedup, "sha1" or "md5"
	hashAlgo string
}

// New returns an Ops using relaxed validation, which tolerates the
// slightly out-of-spec PDFs that scanner firmware produces.
func New(hashAlgo string) *Ops {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if hashAlgo == "" {
		hashAlgo = "sha1"
	}
	return &Ops{conf: conf, hashAlgo: hashAlgo}
}

// PageCount returns the number of pages in the document.
func (o *Ops) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

func (o *Ops) newHash() hash.Hash {
	if o.hashAlgo == "md5" {
		return md5.New()
	}
	return sha1.New()
}

// PageHashes splits the document into single-page files in a scratch
// directory and returns the hash of each serialized page, in order.
func (o *Ops) PageHashes(path string) ([]string, error) {
	tmp, err := os.MkdirTemp("", "scandock-pages-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	if err := api.SplitFile(path, tmp, 1, o.conf); err != nil {
		return nil, fmt.Errorf("split %s: %w", filepath.Base(path), err)
	}

	count, err := o.PageCount(path)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	hashes := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		page := filepath.Join(tmp, fmt.Sprintf("%s_%d.pdf", base, i))
		data, err := os.ReadFile(page)
		if err != nil {
			return nil, fmt.Errorf("read page %d of %s: %w", i, filepath.Base(path), err)
		}
		h := o.newHash()
		h.Write(data)
		hashes = append(hashes, hex.EncodeToString(h.Sum(nil)))
	}
	return hashes, nil
}

// MergeOptions controls Merge behavior.
type MergeOptions struct {
	// Dedup drops pages whose hash was already written.
	Dedup bool
	// Normalize runs pdfcpu optimize over the result.
	Normalize bool
}

// Merge combines the inputs, in order, into outPath. The output is
// written to a temp file in the destination directory and renamed into
// place so readers never observe a partial artifact. Returns the page
// count of the result.
//
// With Dedup, each input is exploded into single pages first and pages
// whose hash repeats are skipped; without it the whole inputs are
// concatenated directly.
func (o *Ops) Merge(inputs []string, outPath string, opts MergeOptions) (int, error) {
	if len(inputs) == 0 {
		return 0, fmt.Errorf("merge: no inputs")
	}

	dir := filepath.Dir(outPath)
	tmpOut, err := os.CreateTemp(dir, ".merge-*.pdf")
	if err != nil {
		return 0, err
	}
	tmpName := tmpOut.Name()
	tmpOut.Close()
	defer os.Remove(tmpName)

	var parts []string
	var scratch string
	if opts.Dedup {
		scratch, err = os.MkdirTemp("", "scandock-merge-*")
		if err != nil {
			return 0, err
		}
		defer os.RemoveAll(scratch)
		parts, err = o.dedupPages(inputs, scratch)
		if err != nil {
			return 0, err
		}
	} else {
		parts = inputs
	}

	if len(parts) == 1 {
		// single surviving part, copy instead of merging
		if err := copyFile(parts[0], tmpName); err != nil {
			return 0, err
		}
	} else {
		if err := api.MergeCreateFile(parts, tmpName, false, o.conf); err != nil {
			return 0, fmt.Errorf("merge into %s: %w", filepath.Base(outPath), err)
		}
	}

	if opts.Normalize {
		if err := api.OptimizeFile(tmpName, "", o.conf); err != nil {
			return 0, fmt.Errorf("normalize %s: %w", filepath.Base(outPath), err)
		}
	}

	pages, err := o.PageCount(tmpName)
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, outPath); err != nil {
		return 0, err
	}
	return pages, nil
}

// dedupPages explodes every input into single-page files under
// scratch and returns the paths of pages with first-seen hashes,
// preserving input order.
func (o *Ops) dedupPages(inputs []string, scratch string) ([]string, error) {
	seen := make(map[string]bool)
	var kept []string

	for idx, in := range inputs {
		sub := filepath.Join(scratch, fmt.Sprintf("in%d", idx))
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, err
		}
		if err := api.SplitFile(in, sub, 1, o.conf); err != nil {
			return nil, fmt.Errorf("split %s: %w", filepath.Base(in), err)
		}
		count, err := o.PageCount(in)
		if err != nil {
			return nil, err
		}
		base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		for i := 1; i <= count; i++ {
			page := filepath.Join(sub, fmt.Sprintf("%s_%d.pdf", base, i))
			data, err := os.ReadFile(page)
			if err != nil {
				return nil, err
			}
			h := o.newHash()
			h.Write(data)
			sum := hex.EncodeToString(h.Sum(nil))
			if seen[sum] {
				continue
			}
			seen[sum] = true
			kept = append(kept, page)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("merge: all pages were duplicates")
	}
	return kept, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
