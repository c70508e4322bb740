// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the agent's HTTP surface: the standard API
// every agent serves, and the fleet admin API on admin instances.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scandock/scandock/internal/audit"
	"github.com/scandock/scandock/internal/auth"
	"github.com/scandock/scandock/internal/registry"
	"github.com/scandock/scandock/pkg/pipeline"
)

// Pipeline is the orchestrator surface the HTTP layer consumes. The
// web layer is constructed around this handle, never the reverse.
type Pipeline interface {
	Counts() pipeline.QueueCounts
	Recent(limit int) []pipeline.Event
	Events() *pipeline.EventLog
	TriggerBatch() bool
	Pause()
	Resume()
	Paused() bool
	LastBatchAt() time.Time
	Uptime() time.Duration
	RescanErrors() ([]pipeline.ErrorEntry, error)
	Reprocess(path, identifier string) error
}

// Config holds server configuration.
type Config struct {
	Addr    string
	Port    int
	Mode    string // kiosk | admin
	Version string

	// DataRoot is probed for free disk space in status responses.
	DataRoot string

	// ReloadConfig services the UPDATE_CONFIG command; nil disables it.
	ReloadConfig func() error
	// PersistPassword stores a rotated admin credential; nil means the
	// rotation lives only in memory.
	PersistPassword func(plaintext string) error
}

// Server is the agent's HTTP server.
type Server struct {
	config  Config
	pipe    Pipeline
	basic   *auth.Basic
	limiter *auth.RateLimiter
	audit   *audit.Logger
	hub     *WSHub
	store   *registry.Store
	remote  *registry.Client
	log     *logrus.Logger
	httpSrv *http.Server
	started time.Time
}

// New creates a server. pipe may be nil on admin instances; store and
// remote may be nil on kiosks.
func New(cfg Config, pipe Pipeline, basic *auth.Basic, auditLog *audit.Logger,
	store *registry.Store, log *logrus.Logger) *Server {
	s := &Server{
		config:  cfg,
		pipe:    pipe,
		basic:   basic,
		limiter: auth.NewRateLimiter(0, 0),
		audit:   auditLog,
		hub:     NewWSHub(log),
		store:   store,
		remote:  registry.NewClient(0),
		log:     log,
		started: time.Now(),
	}
	if pipe != nil {
		// live pipeline events feed the websocket stream
		pipe.Events().Subscribe(s.hub.BroadcastEvent)
	}
	return s
}

// ListenAndServe starts the server and blocks until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.hub.Run(ctx)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	addr := fmt.Sprintf("%s:%d", s.config.Addr, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.log.Infof("%s API listening on http://%s", s.config.Mode, addr)

	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("POST /api/command", s.requireAuth(s.handleCommand))
	mux.HandleFunc("GET /api/recent", s.requireAuth(s.handleRecent))
	mux.HandleFunc("POST /api/admin/password", s.requireAuth(s.handlePassword))
	mux.HandleFunc("POST /api/reprocess", s.requireAuth(s.handleReprocess))
	mux.HandleFunc("GET /api/events", s.requireAuth(s.handleWebSocket))

	if s.config.Mode == "admin" {
		mux.HandleFunc("GET /api/admin/instances", s.requireAuth(s.handleListInstances))
		mux.HandleFunc("PUT /api/admin/instances", s.requireAuth(s.handleReplaceInstances))
		mux.HandleFunc("GET /api/admin/instances/health", s.requireAuth(s.handleFleetHealth))
		mux.HandleFunc("GET /api/admin/instances/{id}/status", s.requireAuth(s.handleProxyStatus))
		mux.HandleFunc("GET /api/admin/instances/{id}/recent", s.requireAuth(s.handleProxyRecent))
		mux.HandleFunc("POST /api/admin/instances/{id}/command", s.requireAuth(s.handleProxyCommand))
		mux.HandleFunc("POST /api/admin/test-instance", s.requireAuth(s.handleTestInstance))
		mux.HandleFunc("GET /api/admin/audit", s.requireAuth(s.handleAuditLog))
	}
}

// requireAuth enforces basic auth with the per-IP failure lockout.
// Every rejected attempt is audited.
func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, *auth.Result)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := auth.ClientIP(r)

		if ok, remaining := s.limiter.Allowed(ip); !ok {
			s.audit.Failure("", ip, "AUTH", "", fmt.Sprintf("locked out, %ds remaining", remaining))
			writeEnvelopeErr(w, http.StatusTooManyRequests,
				fmt.Sprintf("too many failed attempts, locked for %d seconds", remaining))
			return
		}

		res, err := s.basic.Verify(r)
		if err != nil {
			writeEnvelopeErr(w, http.StatusInternalServerError, "authentication error")
			return
		}
		if res == nil || !res.Authenticated {
			s.limiter.Failure(ip)
			user := ""
			if res != nil {
				user = res.Username
			}
			s.audit.Failure(user, ip, "AUTH", "", "invalid credentials")
			w.Header().Set("WWW-Authenticate", `Basic realm="scandock"`)
			writeEnvelopeErr(w, http.StatusUnauthorized, "authentication required")
			return
		}
		s.limiter.Success(ip)
		next(w, r, res)
	}
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"took":   time.Since(start).Round(time.Millisecond).String(),
		}).Debug("request")
	})
}
