// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/scandock/scandock/internal/auth"
	"github.com/scandock/scandock/pkg/pipeline"
)

// Commands accepted by POST /api/command.
const (
	CmdRunBatch       = "RUN_BATCH"
	CmdPause          = "PAUSE"
	CmdResume         = "RESUME"
	CmdRescanError    = "RESCAN_ERROR"
	CmdUpdateConfig   = "UPDATE_CONFIG"
	CmdRestartService = "RESTART_SERVICE"
)

// StatusData is the GET /api/status payload.
type StatusData struct {
	Version     string               `json:"version"`
	Mode        string               `json:"mode"`
	UptimeSec   int64                `json:"uptimeSec"`
	Paused      bool                 `json:"paused"`
	Queue       pipeline.QueueCounts `json:"queue"`
	DiskFreeMB  uint64               `json:"diskFreeMB"`
	LastBatchAt string               `json:"lastBatchAt,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ *auth.Result) {
	data := StatusData{
		Version: s.config.Version,
		Mode:    s.config.Mode,
	}
	data.UptimeSec = int64(time.Since(s.started).Seconds())
	if s.pipe != nil {
		data.UptimeSec = int64(s.pipe.Uptime().Seconds())
		data.Paused = s.pipe.Paused()
		data.Queue = s.pipe.Counts()
		if t := s.pipe.LastBatchAt(); !t.IsZero() {
			data.LastBatchAt = t.UTC().Format(time.RFC3339)
		}
	}
	if usage, err := disk.Usage(s.config.DataRoot); err == nil {
		data.DiskFreeMB = usage.Free / (1024 * 1024)
	}
	writeEnvelope(w, http.StatusOK, data)
}

type commandRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, res *auth.Result) {
	body, req, ok := decodeJSON[commandRequest](w, r)
	if !ok {
		return
	}

	if s.pipe == nil {
		s.audit.Failure(res.Username, res.IP, req.Type, "", "no pipeline on this instance")
		writeEnvelopeErr(w, http.StatusConflict, "no pipeline running on this instance")
		return
	}

	switch req.Type {
	case CmdRunBatch:
		started := s.pipe.TriggerBatch()
		s.audit.Success(res.Username, res.IP, req.Type, "", body)
		if !started {
			writeEnvelopeMsg(w, http.StatusOK, map[string]any{"started": false}, "batch already running")
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"started": true})

	case CmdPause:
		s.pipe.Pause()
		s.audit.Success(res.Username, res.IP, req.Type, "", body)
		writeEnvelope(w, http.StatusOK, map[string]any{"paused": true})

	case CmdResume:
		s.pipe.Resume()
		s.audit.Success(res.Username, res.IP, req.Type, "", body)
		writeEnvelope(w, http.StatusOK, map[string]any{"paused": false})

	case CmdRescanError:
		entries, err := s.pipe.RescanErrors()
		if err != nil {
			s.audit.Failure(res.Username, res.IP, req.Type, "", err.Error())
			writeEnvelopeErr(w, http.StatusInternalServerError, "rescan failed: "+err.Error())
			return
		}
		s.audit.Success(res.Username, res.IP, req.Type, "", body)
		writeEnvelope(w, http.StatusOK, map[string]any{"errors": entries, "count": len(entries)})

	case CmdUpdateConfig:
		if s.config.ReloadConfig == nil {
			s.audit.Failure(res.Username, res.IP, req.Type, "", "not supported")
			writeEnvelopeErr(w, http.StatusOK, "config reload not supported on this instance")
			return
		}
		if err := s.config.ReloadConfig(); err != nil {
			s.audit.Failure(res.Username, res.IP, req.Type, "", err.Error())
			writeEnvelopeErr(w, http.StatusInternalServerError, "config reload failed: "+err.Error())
			return
		}
		s.audit.Success(res.Username, res.IP, req.Type, "", body)
		writeEnvelopeMsg(w, http.StatusOK, nil, "configuration reloaded")

	case CmdRestartService:
		// Acknowledged but deliberately inert; process supervision owns
		// restarts.
		s.audit.Failure(res.Username, res.IP, req.Type, "", "not implemented")
		writeEnvelopeErr(w, http.StatusOK, "service restart is not implemented")

	default:
		s.audit.Failure(res.Username, res.IP, req.Type, "", "unknown command")
		writeEnvelopeErr(w, http.StatusBadRequest, "unknown command "+strconv.Quote(req.Type))
	}
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request, _ *auth.Result) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeEnvelopeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	var events []pipeline.Event
	if s.pipe != nil {
		events = s.pipe.Recent(limit)
	}
	if events == nil {
		events = []pipeline.Event{}
	}
	writeEnvelope(w, http.StatusOK, map[string]any{"events": events})
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request, res *auth.Result) {
	body, req, ok := decodeJSON[passwordRequest](w, r)
	if !ok {
		return
	}

	if len(req.NewPassword) < 8 {
		writeEnvelopeErr(w, http.StatusBadRequest, "new password must be at least 8 characters")
		return
	}
	if !s.basic.CheckPassword(req.CurrentPassword) {
		s.audit.Failure(res.Username, res.IP, "PASSWORD_CHANGE", "", "current password mismatch")
		writeEnvelopeErr(w, http.StatusForbidden, "current password is incorrect")
		return
	}
	if err := s.basic.SetPassword(req.NewPassword); err != nil {
		writeEnvelopeErr(w, http.StatusInternalServerError, "password update failed")
		return
	}
	if s.config.PersistPassword != nil {
		if err := s.config.PersistPassword(req.NewPassword); err != nil {
			s.audit.Failure(res.Username, res.IP, "PASSWORD_CHANGE", "", "persist failed: "+err.Error())
			writeEnvelopeErr(w, http.StatusInternalServerError, "password changed in memory but could not be persisted")
			return
		}
	}
	s.audit.Success(res.Username, res.IP, "PASSWORD_CHANGE", "", body)
	writeEnvelopeMsg(w, http.StatusOK, nil, "password updated")
}

type reprocessRequest struct {
	Path       string `json:"path"`
	Identifier string `json:"identifier"`
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request, res *auth.Result) {
	body, req, ok := decodeJSON[reprocessRequest](w, r)
	if !ok {
		return
	}

	if s.pipe == nil {
		writeEnvelopeErr(w, http.StatusConflict, "no pipeline running on this instance")
		return
	}
	if err := s.pipe.Reprocess(req.Path, req.Identifier); err != nil {
		s.audit.Failure(res.Username, res.IP, "REPROCESS", "", err.Error())
		writeEnvelopeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit.Success(res.Username, res.IP, "REPROCESS", "", body)
	writeEnvelopeMsg(w, http.StatusOK, map[string]any{"identifier": req.Identifier}, "file queued for merge")
}

// decodeJSON reads a bounded JSON body and reports the raw bytes for
// audit hashing.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) ([]byte, T, bool) {
	var req T
	body, err := readBody(r)
	if err != nil {
		writeEnvelopeErr(w, http.StatusBadRequest, "unreadable request body")
		return nil, req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeEnvelopeErr(w, http.StatusBadRequest, "invalid JSON body")
		return nil, req, false
	}
	return body, req, true
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(nil, r.Body, 1<<20))
}
