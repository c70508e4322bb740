// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTP posts artifacts to a receiving endpoint as multipart form
// data. A 409 from the server means it already holds this artifact
// and is treated as success.
type HTTP struct {
	endpoint string
	token    string
	maxBytes int64
	client   *http.Client
	log      *logrus.Logger
}

func newHTTP(cfg Config, log *logrus.Logger) *HTTP {
	timeout := time.Duration(cfg.HTTPTimeout * float64(time.Second))
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	var maxBytes int64
	if cfg.MaxFileSizeMB > 0 {
		maxBytes = int64(cfg.MaxFileSizeMB) * 1024 * 1024
	}
	return &HTTP{
		endpoint: cfg.HTTPEndpoint,
		token:    cfg.HTTPToken,
		maxBytes: maxBytes,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

func (h *HTTP) Name() string { return "http" }

func (h *HTTP) Upload(ctx context.Context, identifier, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if h.maxBytes > 0 && info.Size() > h.maxBytes {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
	}

	hash, err := FileSHA1(path)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s.pdf"`, identifier))
	hdr.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	f.Close()
	if err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	req.Header.Set("X-Idempotency-Key", IdempotencyKey(identifier, hash))
	req.Header.Set("X-Transport-No", identifier)
	req.Header.Set("X-File-Hash", hash)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", h.endpoint, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		// server already holds this artifact
		h.log.WithField("id", identifier).Info("endpoint reports duplicate, treating as success")
		return nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(snippet)}
	}
}
