// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "20251010123456-abc123", IdempotencyKey("20251010123456", "abc123"))
}

func TestNAS_UploadAndHashNoop(t *testing.T) {
	srcDir, nasDir := t.TempDir(), t.TempDir()
	src := writeFile(t, srcDir, "20251010123456.pdf", "pdf-bytes")

	nas := newNAS(Config{NASPath: nasDir}, quietLog())
	require.NoError(t, nas.Upload(context.Background(), "20251010123456", src))

	target := filepath.Join(nasDir, "20251010123456.pdf")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(data))

	// second upload of identical content is a no-op success
	info1, _ := os.Stat(target)
	require.NoError(t, nas.Upload(context.Background(), "20251010123456", src))
	info2, _ := os.Stat(target)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestNAS_OverwritesDifferingTarget(t *testing.T) {
	srcDir, nasDir := t.TempDir(), t.TempDir()
	src := writeFile(t, srcDir, "x.pdf", "new-content")
	writeFile(t, nasDir, "20251010123456.pdf", "old-content")

	nas := newNAS(Config{NASPath: nasDir}, quietLog())
	require.NoError(t, nas.Upload(context.Background(), "20251010123456", src))

	data, err := os.ReadFile(filepath.Join(nasDir, "20251010123456.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "new-content", string(data))
}

func TestHTTP_SendsMultipartWithHeaders(t *testing.T) {
	var gotKey, gotTransport, gotHash, gotAuth string
	var gotFilename, gotField string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Idempotency-Key")
		gotTransport = r.Header.Get("X-Transport-No")
		gotHash = r.Header.Get("X-File-Hash")
		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		gotField = "file"
		gotFilename = hdr.Filename
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := writeFile(t, t.TempDir(), "doc.pdf", "pdf-bytes")
	hash, err := FileSHA1(src)
	require.NoError(t, err)

	h := newHTTP(Config{HTTPEndpoint: srv.URL, HTTPToken: "tok", HTTPTimeout: 5}, quietLog())
	require.NoError(t, h.Upload(context.Background(), "20251010123456", src))

	assert.Equal(t, "20251010123456-"+hash, gotKey)
	assert.Equal(t, "20251010123456", gotTransport)
	assert.Equal(t, hash, gotHash)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "file", gotField)
	assert.Equal(t, "20251010123456.pdf", gotFilename)
}

func TestHTTP_ConflictIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	src := writeFile(t, t.TempDir(), "doc.pdf", "x")
	h := newHTTP(Config{HTTPEndpoint: srv.URL, HTTPTimeout: 5}, quietLog())
	assert.NoError(t, h.Upload(context.Background(), "20251010123456", src))
}

func TestHTTP_ServerErrorIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := writeFile(t, t.TempDir(), "doc.pdf", "x")
	h := newHTTP(Config{HTTPEndpoint: srv.URL, HTTPTimeout: 5}, quietLog())
	err := h.Upload(context.Background(), "20251010123456", src)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
}

func TestHTTP_SizePrecheck(t *testing.T) {
	src := writeFile(t, t.TempDir(), "big.pdf", "0123456789")
	h := newHTTP(Config{HTTPEndpoint: "http://unused", HTTPTimeout: 5, MaxFileSizeMB: 1}, quietLog())
	// 10 bytes is fine under 1 MB; force the limit down
	h.maxBytes = 5
	err := h.Upload(context.Background(), "20251010123456", src)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

type stubBackend struct {
	name string
	err  error
}

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) Upload(context.Context, string, string) error {
	return s.err
}

func TestDual_EitherSuccessIsSuccess(t *testing.T) {
	fail := errors.New("leg down")
	cases := []struct {
		name    string
		nasErr  error
		httpErr error
		wantErr bool
	}{
		{"both ok", nil, nil, false},
		{"nas only", nil, fail, false},
		{"http only", fail, nil, false},
		{"double failure", fail, fail, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &Dual{
				nas:  &stubBackend{name: "nas", err: tc.nasErr},
				http: &stubBackend{name: "http", err: tc.httpErr},
				log:  quietLog(),
			}
			err := d.Upload(context.Background(), "20251010123456", "unused")
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNone_AlwaysSucceeds(t *testing.T) {
	n := &None{log: quietLog()}
	assert.NoError(t, n.Upload(context.Background(), "20251010123456", "/nonexistent"))
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(Config{Type: "carrier-pigeon"}, quietLog())
	assert.Error(t, err)
}
