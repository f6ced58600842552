package httpapi

import (
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/sicyuan404/proxycast/internal/config"
	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/jsonutil"
)

func (s *Server) handleManagementStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.barrier.Current()
	byKind := s.creds.GroupByKind()
	counts := make(map[string]int, len(byKind))
	for kind, creds := range byKind {
		counts[string(kind)] = len(creds)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listen":            cfg.Server.Host,
		"port":              cfg.Server.Port,
		"remote_management": cfg.Server.RemoteManagement,
		"credentials_by_kind": counts,
	})
}

func (s *Server) handleManagementGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.barrier.Current())
}

// handleManagementUpdateConfig validates and swaps a new config the same
// way the hot-reload manager does on a filesystem event, then persists it so
// the two save paths (interactive update vs. background reload) converge on
// one shared code path (DESIGN.md Open Questions: divergent save_config).
func (s *Server) handleManagementUpdateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "failed to read body"}})
		return
	}

	cfg := config.Default()
	if err := jsonutil.Unmarshal(body, cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "invalid config json: " + err.Error()}})
		return
	}
	if err := config.Validate(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": err.Error()}})
		return
	}
	if err := s.barrier.Swap(cfg); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{"message": err.Error()}})
		return
	}
	if s.configPath != "" {
		if err := config.Save(s.configPath, cfg); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{"message": "config applied but not persisted: " + err.Error()}})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}

func (s *Server) handleManagementListCredentials(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"credentials": redactedCredentials(s.creds.List())})
}

func (s *Server) handleManagementAddCredential(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "failed to read body"}})
		return
	}
	var cred domain.Credential
	if err := jsonutil.Unmarshal(body, &cred); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "invalid credential json: " + err.Error()}})
		return
	}
	cred.IsHealthy = true
	if err := s.creds.Insert(&cred); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": map[string]any{"message": err.Error()}})
		return
	}
	writeJSON(w, http.StatusCreated, redactCredential(&cred))
}

type backupSnapshot struct {
	TakenAt     time.Time             `json:"taken_at"`
	Config      *config.Config        `json:"config"`
	Credentials []*domain.Credential  `json:"credentials"`
}

func (s *Server) handleManagementBackup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, backupSnapshot{
		TakenAt:     time.Now(),
		Config:      s.barrier.Current(),
		Credentials: s.creds.List(),
	})
}

// handleManagementRestore applies a backupSnapshot: validates and swaps the
// embedded config, then upserts every credential it carries. Credentials not
// present in the snapshot are left untouched — restore is additive, not
// destructive, so a partial backup can't wipe out credentials added since.
func (s *Server) handleManagementRestore(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "failed to read body"}})
		return
	}
	var snap backupSnapshot
	if err := jsonutil.Unmarshal(body, &snap); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "invalid snapshot json: " + err.Error()}})
		return
	}

	if snap.Config != nil {
		if err := config.Validate(snap.Config); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": err.Error()}})
			return
		}
		if err := s.barrier.Swap(snap.Config); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{"message": err.Error()}})
			return
		}
		if s.configPath != "" {
			_ = config.Save(s.configPath, snap.Config)
		}
	}

	restored := 0
	for _, cred := range snap.Credentials {
		if existing := s.creds.GetByUUID(cred.UUID); existing != nil {
			if err := s.creds.Update(cred); err == nil {
				restored++
			}
			continue
		}
		if err := s.creds.Insert(cred); err == nil {
			restored++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "restored", "credentials_restored": restored})
}

func redactedCredentials(creds []*domain.Credential) []map[string]any {
	out := make([]map[string]any, 0, len(creds))
	for _, c := range creds {
		out = append(out, redactCredential(c))
	}
	return out
}

// redactCredential strips secret material (API keys, refresh/access tokens)
// from a credential before it crosses the management HTTP boundary — §7:
// user-visible surfaces never leak credential or token material.
func redactCredential(c *domain.Credential) map[string]any {
	m := map[string]any{
		"uuid":              c.UUID,
		"kind":              c.Kind,
		"name":              c.Name,
		"is_healthy":        c.IsHealthy,
		"is_disabled":       c.IsDisabled,
		"error_count":       c.ErrorCount,
		"usage_count":       c.UsageCount,
		"subscription_tier": c.SubscriptionTier,
	}
	if c.Payload.BaseURL != "" {
		m["base_url"] = c.Payload.BaseURL
	}
	if c.Payload.Region != "" {
		m["region"] = c.Payload.Region
	}
	return m
}

// handleManagementPassthrough proxies /api/auth/* and /api/user/* to a
// configured upstream (§6: "Management proxy to a configured upstream;
// optionally localhost-restricted"). Disabled unless the live config names
// an upstream, since there is no sane default to forward to.
func (s *Server) handleManagementPassthrough(w http.ResponseWriter, r *http.Request) {
	target := s.barrier.Current().Server.ManagementUpstream
	if target == "" {
		http.NotFound(w, r)
		return
	}
	upstream, err := url.Parse(target)
	if err != nil {
		http.Error(w, "invalid management upstream configured", http.StatusInternalServerError)
		return
	}
	httputil.NewSingleHostReverseProxy(upstream).ServeHTTP(w, r)
}
