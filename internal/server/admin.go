// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/scandock/scandock/internal/auth"
	"github.com/scandock/scandock/internal/registry"
)

// healthProbeLimit bounds concurrent fleet status probes.
const healthProbeLimit = 8

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request, _ *auth.Result) {
	reg, err := s.store.Load(r.Context())
	if err != nil {
		writeEnvelopeErr(w, http.StatusInternalServerError, "load registry: "+err.Error())
		return
	}
	writeEnvelope(w, http.StatusOK, reg)
}

func (s *Server) handleReplaceInstances(w http.ResponseWriter, r *http.Request, res *auth.Result) {
	tier := r.URL.Query().Get("target")
	if tier == "" {
		tier = "local"
	}

	body, reg, ok := decodeJSON[registry.Registry](w, r)
	if !ok {
		return
	}
	for i := range reg.Instances {
		if err := reg.Instances[i].Validate(); err != nil {
			writeEnvelopeErr(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := s.store.Save(&reg, tier); err != nil {
		s.audit.Failure(res.Username, res.IP, "REGISTRY_UPDATE", "", err.Error())
		writeEnvelopeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit.Success(res.Username, res.IP, "REGISTRY_UPDATE", "", body)
	writeEnvelopeMsg(w, http.StatusOK, map[string]any{"count": len(reg.Instances)}, "registry updated")
}

// HealthRow is one instance's entry in the fleet health report.
type HealthRow struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	BaseURL string `json:"baseUrl"`
	Role    string `json:"role"`
	Online  bool   `json:"online"`
	Status  any    `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleFleetHealth(w http.ResponseWriter, r *http.Request, _ *auth.Result) {
	reg, err := s.store.Load(r.Context())
	if err != nil {
		writeEnvelopeErr(w, http.StatusInternalServerError, "load registry: "+err.Error())
		return
	}

	rows := make([]HealthRow, len(reg.Instances))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(healthProbeLimit)
	for i := range reg.Instances {
		i := i
		inst := reg.Instances[i]
		g.Go(func() error {
			row := HealthRow{ID: inst.ID, Label: inst.Label, BaseURL: inst.BaseURL, Role: inst.Role}
			env, err := s.remote.Status(ctx, &inst)
			if err != nil {
				row.Error = registry.Categorize(err).Error()
			} else {
				row.Online = true
				row.Status = env.Data
			}
			rows[i] = row
			return nil
		})
	}
	g.Wait()

	online := 0
	for _, row := range rows {
		if row.Online {
			online++
		}
	}
	writeEnvelopeFull(w, http.StatusOK, Envelope{
		Success:  true,
		Data:     map[string]any{"instances": rows},
		Metadata: map[string]any{"total": len(rows), "online": online},
	})
}

func (s *Server) handleProxyStatus(w http.ResponseWriter, r *http.Request, _ *auth.Result) {
	s.proxyGet(w, r, "/api/status")
}

func (s *Server) handleProxyRecent(w http.ResponseWriter, r *http.Request, _ *auth.Result) {
	path := "/api/recent"
	if limit := r.URL.Query().Get("limit"); limit != "" {
		path += "?limit=" + strconv.Itoa(parseLimitOr(limit, 50))
	}
	s.proxyGet(w, r, path)
}

func (s *Server) handleProxyCommand(w http.ResponseWriter, r *http.Request, res *auth.Result) {
	inst, ok := s.lookupInstance(w, r)
	if !ok {
		return
	}
	body, req, ok := decodeJSON[commandRequest](w, r)
	if !ok {
		return
	}

	env, err := s.remote.Post(r.Context(), inst, "/api/command", req)
	if err != nil {
		s.audit.Failure(res.Username, res.IP, req.Type, inst.ID, registry.Categorize(err).Error())
		writeRemoteFailure(w, err)
		return
	}
	s.audit.Success(res.Username, res.IP, req.Type, inst.ID, body)
	writeRemoteEnvelope(w, env)
}

type testInstanceRequest struct {
	Instance registry.Instance `json:"instance"`
}

func (s *Server) handleTestInstance(w http.ResponseWriter, r *http.Request, _ *auth.Result) {
	_, req, ok := decodeJSON[testInstanceRequest](w, r)
	if !ok {
		return
	}
	if err := req.Instance.Validate(); err != nil {
		writeEnvelopeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	env, err := s.remote.Status(r.Context(), &req.Instance)
	if err != nil {
		writeEnvelope(w, http.StatusOK, map[string]any{
			"reachable": false,
			"reason":    registry.Categorize(err).Error(),
		})
		return
	}
	writeEnvelope(w, http.StatusOK, map[string]any{
		"reachable": true,
		"status":    env.Data,
	})
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request, _ *auth.Result) {
	limit := parseLimitOr(r.URL.Query().Get("limit"), 100)
	entries, err := s.audit.ReadRecent(limit)
	if err != nil {
		writeEnvelopeErr(w, http.StatusInternalServerError, "read audit log: "+err.Error())
		return
	}
	writeEnvelope(w, http.StatusOK, map[string]any{"entries": entries})
}

// proxyGet forwards a GET to the instance named in the path and relays
// its envelope verbatim.
func (s *Server) proxyGet(w http.ResponseWriter, r *http.Request, path string) {
	inst, ok := s.lookupInstance(w, r)
	if !ok {
		return
	}
	env, err := s.remote.Get(r.Context(), inst, path)
	if err != nil {
		writeRemoteFailure(w, err)
		return
	}
	writeRemoteEnvelope(w, env)
}

func (s *Server) lookupInstance(w http.ResponseWriter, r *http.Request) (*registry.Instance, bool) {
	id := r.PathValue("id")
	reg, err := s.store.Load(r.Context())
	if err != nil {
		writeEnvelopeErr(w, http.StatusInternalServerError, "load registry: "+err.Error())
		return nil, false
	}
	inst, ok := reg.Find(id)
	if !ok {
		writeEnvelopeErr(w, http.StatusNotFound, "unknown instance "+strconv.Quote(id))
		return nil, false
	}
	return inst, true
}

// writeRemoteFailure renders a categorized remote error. Remote
// failures surface as gateway statuses so they are distinguishable
// from this instance's own errors.
func writeRemoteFailure(w http.ResponseWriter, err error) {
	f := registry.Categorize(err)
	status := http.StatusBadGateway
	if f.Category == registry.FailTimeout {
		status = http.StatusGatewayTimeout
	}
	writeEnvelopeErr(w, status, "remote call failed: "+f.Error())
}

// writeRemoteEnvelope relays a remote envelope without re-wrapping it.
func writeRemoteEnvelope(w http.ResponseWriter, env *registry.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(env)
}

func parseLimitOr(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
