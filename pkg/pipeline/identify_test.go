// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStemOf(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"20251010123456.pdf", "20251010123456"},
		{"20251010123456(1).pdf", "20251010123456"},
		{"20251010123456(12).pdf", "20251010123456"},
		{"/data/pending/20251010123456(3).pdf", "20251010123456"},
		{"scan1.pdf", "scan1"},
		{"weird(name)(2).pdf", "weird(name)"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, stemOf(tc.in), tc.in)
	}
}

func TestIsCanonical(t *testing.T) {
	assert.True(t, isCanonical("/x/20251010123456.pdf", "20251010123456"))
	assert.False(t, isCanonical("/x/20251010123456(1).pdf", "20251010123456"))
}

func TestPendingName_SmallestFreeSlot(t *testing.T) {
	dir := t.TempDir()
	id := "99999999999999"

	name, err := pendingName(dir, id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, id+".pdf"), name)
	require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))

	name, err = pendingName(dir, id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, id+"(1).pdf"), name)
	require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))

	name, err = pendingName(dir, id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, id+"(2).pdf"), name)

	// freeing (1) makes it the smallest slot again
	require.NoError(t, os.Remove(filepath.Join(dir, id+"(1).pdf")))
	name, err = pendingName(dir, id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, id+"(1).pdf"), name)
}

func TestPendingName_ParallelClaimsSameIdentifier(t *testing.T) {
	inbox, pending := t.TempDir(), t.TempDir()
	id := "20251010123456"

	srcA := filepath.Join(inbox, "scan-a.pdf")
	srcB := filepath.Join(inbox, "scan-b.pdf")
	require.NoError(t, os.WriteFile(srcA, []byte("page A"), 0o644))
	require.NoError(t, os.WriteFile(srcB, []byte("page B"), 0o644))

	// two workers classify the same identifier; both resolve their
	// destination before either has moved
	dstA, err := pendingName(pending, id)
	require.NoError(t, err)
	dstB, err := pendingName(pending, id)
	require.NoError(t, err)
	assert.NotEqual(t, dstA, dstB, "claims for the same identifier must not collide")

	require.NoError(t, moveFile(srcA, dstA))
	require.NoError(t, moveFile(srcB, dstB))

	entries, err := os.ReadDir(pending)
	require.NoError(t, err)
	require.Len(t, entries, 2, "both pages must survive")

	a, err := os.ReadFile(dstA)
	require.NoError(t, err)
	b, err := os.ReadFile(dstB)
	require.NoError(t, err)
	assert.Equal(t, "page A", string(a))
	assert.Equal(t, "page B", string(b))
}

func TestClaimSlot_ReleasedOnFailedMove(t *testing.T) {
	pending := t.TempDir()
	dst, err := claimSlot(pending, "20251010123456", ".pdf")
	require.NoError(t, err)
	assert.True(t, fileExists(dst))

	// a failed move releases the slot so the next claim reuses it
	require.NoError(t, os.Remove(dst))
	again, err := claimSlot(pending, "20251010123456", ".pdf")
	require.NoError(t, err)
	assert.Equal(t, dst, again)
}

func TestMoveToError_DuplicateBasenamesKept(t *testing.T) {
	inbox, errDir := t.TempDir(), t.TempDir()
	sub := filepath.Join(inbox, "tray2")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	srcA := filepath.Join(inbox, "scan.pdf")
	srcB := filepath.Join(sub, "scan.pdf")
	require.NoError(t, os.WriteFile(srcA, []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(srcB, []byte("second"), 0o644))

	movedA, err := moveToError(errDir, srcA, ErrorSidecar{ErrorMessage: "no QR code"})
	require.NoError(t, err)
	movedB, err := moveToError(errDir, srcB, ErrorSidecar{ErrorMessage: "no QR code"})
	require.NoError(t, err)
	assert.NotEqual(t, movedA, movedB)

	a, err := os.ReadFile(movedA)
	require.NoError(t, err)
	b, err := os.ReadFile(movedB)
	require.NoError(t, err)
	assert.Equal(t, "first", string(a))
	assert.Equal(t, "second", string(b))
}

func TestMoveFile_AcrossDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	src := filepath.Join(a, "f.pdf")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))

	dst := filepath.Join(b, "g.pdf")
	require.NoError(t, moveFile(src, dst))

	assert.False(t, fileExists(src))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}
