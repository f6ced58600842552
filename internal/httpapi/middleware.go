package httpapi

import (
	"bufio"
	"crypto/subtle"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the status code for
// logging while still forwarding Hijack (websocket upgrade) and Flush
// (SSE) to the underlying writer.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// loggingMiddleware logs method/path/status/duration for every request
// except health checks and websocket upgrades, which are noisy and carry
// no useful status.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/v1/ws" || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// requireAPIKey enforces the proxy surface's bearer/x-api-key auth (§6):
// constant-time compare against the configured key, so a timing side
// channel can't be used to brute-force it.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKeyFromRequest(r)
		expected := s.barrier.Current().Server.APIKey
		if expected == "" || !constantTimeEqual(key, expected) {
			writeAuthError(w, clientFormatFromPath(r.URL.Path), key == "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireManagementKey enforces the separate management auth layer (§6,
// §7 ManagementForbidden -> 403). An empty configured management key
// disables remote management entirely rather than accepting anything.
func (s *Server) requireManagementKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := s.barrier.Current()
		key := apiKeyFromRequest(r)
		if cfg.Server.ManagementKey == "" || !constantTimeEqual(key, cfg.Server.ManagementKey) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":{"message":"management access forbidden"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func apiKeyFromRequest(r *http.Request) string {
	if v := r.Header.Get("x-api-key"); v != "" {
		return v
	}
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return ""
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
