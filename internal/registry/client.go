// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Failure categories. Remote errors always land in one of these so
// the dashboard never shows an unhelpful "unknown error".
const (
	FailTimeout    = "timeout"
	FailRefused    = "connection refused"
	FailHTTPStatus = "http status"
	FailDecode     = "invalid response"
)

// Failure is a categorized remote-call error.
type Failure struct {
	Category string
	Status   int // set for FailHTTPStatus
	Err      error
}

func (f *Failure) Error() string {
	switch f.Category {
	case FailHTTPStatus:
		return fmt.Sprintf("%s: HTTP %d", f.Category, f.Status)
	default:
		return fmt.Sprintf("%s: %v", f.Category, f.Err)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// Categorize maps a transport or decode error onto a Failure.
func Categorize(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Failure{Category: FailTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Category: FailTimeout, Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &Failure{Category: FailRefused, Err: err}
	}
	return &Failure{Category: FailDecode, Err: err}
}

// Client performs authenticated calls against an instance's standard
// API.
type Client struct {
	http *http.Client
}

// NewClient returns a client with the default 10 s request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Envelope is the wire wrapper every agent response conforms to.
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp"`
	Signature json.RawMessage `json:"signature"`
	Encrypted bool            `json:"encrypted"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Get calls GET <baseUrl><path> and unwraps the envelope.
func (c *Client) Get(ctx context.Context, inst *Instance, path string) (*Envelope, error) {
	return c.do(ctx, inst, http.MethodGet, path, nil)
}

// Post sends a JSON body.
func (c *Client) Post(ctx context.Context, inst *Instance, path string, body any) (*Envelope, error) {
	return c.do(ctx, inst, http.MethodPost, path, body)
}

// Status fetches the health snapshot with the shorter fleet-polling
// timeout.
func (c *Client) Status(ctx context.Context, inst *Instance) (*Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.Get(ctx, inst, "/api/status")
}

func (c *Client) do(ctx context.Context, inst *Instance, method, path string, body any) (*Envelope, error) {
	url := strings.TrimSuffix(inst.BaseURL, "/") + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, Categorize(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, Categorize(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if inst.Auth.Type == "basic" {
		req.SetBasicAuth(inst.Auth.Username, inst.Auth.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Categorize(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Failure{Category: FailHTTPStatus, Status: resp.StatusCode}
	}

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &Failure{Category: FailDecode, Err: err}
	}
	return &env, nil
}
