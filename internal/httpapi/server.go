// Package httpapi is the HTTP boundary (§4.10 step "authenticate" and §6's
// route table): it terminates client connections, enforces the Bearer/x-api-key
// auth layer, decodes the client wire format, and hands normalized requests to
// internal/pipeline. Structured after the teacher's internal/core.ManagedServer
// (Go 1.22+ http.ServeMux enhanced routing, graceful shutdown with a forced
// Close fallback) and internal/handler (logging middleware, websocket hub).
package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/sicyuan404/proxycast/internal/credential"
	"github.com/sicyuan404/proxycast/internal/pipeline"
	"github.com/sicyuan404/proxycast/internal/reload"
	"github.com/sicyuan404/proxycast/internal/telemetry"
)

// Barrier is the subset of *pipeline.Pipeline the HTTP layer needs to read
// the live config snapshot; it is also reload.Barrier, so one value plays
// both roles without this package importing pipeline's internals.
type Barrier = reload.Barrier

// Server is the gateway's HTTP front door.
type Server struct {
	addr       string
	configPath string
	barrier    Barrier
	pipe       *pipeline.Pipeline
	creds      *credential.Store
	hub        *telemetry.Hub

	httpServer *http.Server
	mux        *http.ServeMux
	running    bool
}

// New builds a Server wired to an already-constructed pipeline, credential
// store, and telemetry hub. configPath is the on-disk YAML file the
// management config-update route persists to (§6 "/v0/management/config").
func New(addr, configPath string, pipe *pipeline.Pipeline, creds *credential.Store, hub *telemetry.Hub) *Server {
	s := &Server{addr: addr, configPath: configPath, barrier: pipe, pipe: pipe, creds: creds, hub: hub}
	s.mux = s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /v1/models", s.requireAPIKey(http.HandlerFunc(s.handleModels)))
	mux.Handle("GET /v1/routes", s.requireAPIKey(http.HandlerFunc(s.handleRoutes)))

	mux.Handle("POST /v1/chat/completions", s.requireAPIKey(http.HandlerFunc(s.handleChatCompletions)))
	mux.Handle("POST /v1/messages", s.requireAPIKey(http.HandlerFunc(s.handleMessages)))
	mux.Handle("POST /v1/messages/count_tokens", s.requireAPIKey(http.HandlerFunc(s.handleCountTokens)))

	mux.Handle("POST /{selector}/v1/messages", s.requireAPIKey(http.HandlerFunc(s.handleSelectorMessages)))
	mux.Handle("POST /{selector}/v1/chat/completions", s.requireAPIKey(http.HandlerFunc(s.handleSelectorChatCompletions)))

	mux.Handle("POST /api/provider/{provider}/v1/", s.requireAPIKey(http.HandlerFunc(s.handleProviderPassthrough)))

	mux.HandleFunc("/api/auth/", s.handleManagementPassthrough)
	mux.HandleFunc("/api/user/", s.handleManagementPassthrough)

	mux.Handle("GET /v1/ws", s.requireAPIKey(http.HandlerFunc(s.handleWebSocket)))
	mux.Handle("GET /ws", s.requireAPIKey(http.HandlerFunc(s.handleWebSocket)))

	mux.Handle("GET /v0/management/status", s.requireManagementKey(http.HandlerFunc(s.handleManagementStatus)))
	mux.Handle("GET /v0/management/config", s.requireManagementKey(http.HandlerFunc(s.handleManagementGetConfig)))
	mux.Handle("PUT /v0/management/config", s.requireManagementKey(http.HandlerFunc(s.handleManagementUpdateConfig)))
	mux.Handle("GET /v0/management/credentials", s.requireManagementKey(http.HandlerFunc(s.handleManagementListCredentials)))
	mux.Handle("POST /v0/management/credentials", s.requireManagementKey(http.HandlerFunc(s.handleManagementAddCredential)))
	mux.Handle("POST /v0/management/backup", s.requireManagementKey(http.HandlerFunc(s.handleManagementBackup)))
	mux.Handle("POST /v0/management/restore", s.requireManagementKey(http.HandlerFunc(s.handleManagementRestore)))

	return mux
}

// Start runs the HTTP server in a background goroutine, matching the
// teacher's fire-and-forget ListenAndServe plus logged async error.
func (s *Server) Start(ctx context.Context) error {
	if s.running {
		return nil
	}
	s.httpServer = &http.Server{Addr: s.addr, Handler: loggingMiddleware(s.mux)}

	go func() {
		log.Printf("[httpapi] listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[httpapi] server error: %v", err)
		}
	}()

	s.running = true
	return nil
}

// Stop gracefully shuts the server down, forcing a hard Close if the 3s
// graceful window elapses (mirrors ManagedServer.Stop).
func (s *Server) Stop(ctx context.Context) error {
	if !s.running {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[httpapi] graceful shutdown failed: %v, forcing close", err)
		if closeErr := s.httpServer.Close(); closeErr != nil {
			log.Printf("[httpapi] force close error: %v", closeErr)
		}
	}
	s.running = false
	return nil
}
