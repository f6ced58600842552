package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/jsonutil"
	"github.com/sicyuan404/proxycast/internal/pipeline"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	creds := s.creds.List()
	poolHealthy := false
	for _, c := range creds {
		if c.IsAvailable() {
			poolHealthy = true
			break
		}
	}

	status := "healthy"
	if len(creds) == 0 {
		status = "degraded"
	}
	if !poolHealthy && len(creds) > 0 {
		status = "unhealthy"
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": map[string]any{
			"credential_pool": poolHealthy,
			"credential_count": len(creds),
		},
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	poolHealthy := false
	for _, c := range s.creds.List() {
		if c.IsAvailable() {
			poolHealthy = true
			break
		}
	}
	if !poolHealthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	grouped := s.creds.GroupByKind()
	models := make([]map[string]any, 0, len(grouped))
	for kind := range grouped {
		models = append(models, map[string]any{
			"id":       string(kind),
			"object":   "model",
			"owned_by": string(kind),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": models})
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	cfg := s.barrier.Current()
	routes := s.pipe.Router.Routes(cfg.Default)
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.proxy(w, r, domain.FormatOpenAI, "", "")
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.proxy(w, r, domain.FormatAnthropic, "", "")
}

func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	// §6: "Returns constant estimate" — this gateway does not run the
	// upstream's own tokenizer, it proxies to models whose tokenizers
	// differ across providers.
	writeJSON(w, http.StatusOK, map[string]any{"input_tokens": 512})
}

func (s *Server) handleSelectorMessages(w http.ResponseWriter, r *http.Request) {
	s.proxy(w, r, domain.FormatAnthropic, r.PathValue("selector"), "")
}

func (s *Server) handleSelectorChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.proxy(w, r, domain.FormatOpenAI, r.PathValue("selector"), "")
}

func (s *Server) handleProviderPassthrough(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	format := domain.FormatOpenAI
	if strings.Contains(r.URL.Path, "/v1/messages") {
		format = domain.FormatAnthropic
	}
	s.proxy(w, r, format, "", domain.CredentialKind(provider))
}

// proxy is the shared dispatch path for every client-facing chat/completion
// route: it resolves an optional selector (by credential uuid/name) or a
// forced provider kind, reads the body, and drives it through the pipeline.
func (s *Server) proxy(w http.ResponseWriter, r *http.Request, format domain.ClientFormat, selector string, forcedKind domain.CredentialKind) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProxyError(w, format, domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "failed to read request body"))
		return
	}

	var parsed map[string]any
	if err := jsonutil.Unmarshal(body, &parsed); err != nil {
		writeProxyError(w, format, domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "request body is not valid JSON"))
		return
	}
	model, _ := parsed["model"].(string)
	stream, _ := parsed["stream"].(bool)

	req := &pipeline.Request{
		RequestID:    newRequestID(),
		ClientFormat: format,
		Model:        model,
		Body:         body,
		Stream:       stream,
		ForcedProvider: forcedKind,
	}

	if selector != "" {
		if cred := s.resolveSelector(selector); cred != nil {
			req.ForcedCredentialUUID = cred.UUID
		} else if kind := domain.CredentialKind(selector); kind != "" {
			req.ForcedProvider = kind
		}
	}

	if stream {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		if err := s.pipe.Handle(r.Context(), w, req); err != nil {
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
			// The SSE headers are already committed; nothing more to do but
			// log — the stream simply ends short.
		}
		return
	}

	var buf bytes.Buffer
	err = s.pipe.Handle(r.Context(), &buf, req)
	if err != nil {
		var perr *domain.ProxyError
		if !errors.As(err, &perr) {
			perr = domain.NewProxyError(domain.ErrUpstreamFatal, err, false)
		}
		writeProxyError(w, format, perr)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// resolveSelector implements §6's "selector resolves to credential by name,
// uuid, or kind" — uuid and name are tried against the live credential
// store; a bare kind string is left to the caller to apply as ForcedProvider.
func (s *Server) resolveSelector(selector string) *domain.Credential {
	if cred := s.creds.GetByUUID(selector); cred != nil {
		return cred
	}
	if cred := s.creds.GetByName(selector); cred != nil {
		return cred
	}
	return nil
}

func newRequestID() string {
	return "req-" + time.Now().UTC().Format("20060102T150405.000000000")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc, err := json.Marshal(v)
	if err != nil {
		return
	}
	w.Write(enc)
}
