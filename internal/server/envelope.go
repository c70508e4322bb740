// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// Envelope is the wrapper every API response conforms to. signature
// and encrypted are reserved for future signing; they are emitted on
// every response to keep the wire format stable.
type Envelope struct {
	Success   bool           `json:"success"`
	Data      any            `json:"data"`
	Message   string         `json:"message,omitempty"`
	Timestamp string         `json:"timestamp"`
	Signature any            `json:"signature"`
	Encrypted bool           `json:"encrypted"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	writeEnvelopeFull(w, status, Envelope{Success: true, Data: data})
}

func writeEnvelopeMsg(w http.ResponseWriter, status int, data any, message string) {
	writeEnvelopeFull(w, status, Envelope{Success: true, Data: data, Message: message})
}

func writeEnvelopeErr(w http.ResponseWriter, status int, message string) {
	writeEnvelopeFull(w, status, Envelope{Success: false, Message: message})
}

func writeEnvelopeFull(w http.ResponseWriter, status int, env Envelope) {
	env.Timestamp = time.Now().UTC().Format(time.RFC3339)
	env.Signature = nil
	env.Encrypted = false
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
