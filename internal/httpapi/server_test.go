package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicyuan404/proxycast/internal/config"
	"github.com/sicyuan404/proxycast/internal/credential"
	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/inject"
	"github.com/sicyuan404/proxycast/internal/pipeline"
	"github.com/sicyuan404/proxycast/internal/ratelimit"
	"github.com/sicyuan404/proxycast/internal/routing"
	"github.com/sicyuan404/proxycast/internal/scheduler"
	"github.com/sicyuan404/proxycast/internal/telemetry"
	"github.com/sicyuan404/proxycast/internal/tokencache"
)

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *credential.Store) {
	t.Helper()
	creds := credential.New(nil)
	tokens := tokencache.New(creds)
	rateLimits := ratelimit.New(0, 0)
	sched := scheduler.New(rateLimits, scheduler.DefaultConfig())
	router := routing.New()
	injector := inject.New()
	hub := telemetry.NewHub()

	pipe := pipeline.New(cfg, creds, tokens, rateLimits, sched, router, injector, hub)
	return New("127.0.0.1:0", "", pipe, creds, hub), creds
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.APIKey = "test-key"
	cfg.Server.ManagementKey = "mgmt-key"
	return cfg
}

func TestClientFormatFromPath(t *testing.T) {
	assert.Equal(t, domain.FormatAnthropic, clientFormatFromPath("/v1/messages"))
	assert.Equal(t, domain.FormatAnthropic, clientFormatFromPath("/acme-uuid/v1/messages"))
	assert.Equal(t, domain.FormatOpenAI, clientFormatFromPath("/v1/chat/completions"))
	assert.Equal(t, domain.FormatOpenAI, clientFormatFromPath("/health"))
}

func TestStatusForKind(t *testing.T) {
	cases := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.ErrAuthMissing, http.StatusUnauthorized},
		{domain.ErrAuthInvalid, http.StatusUnauthorized},
		{domain.ErrTokenRefreshFailed, http.StatusUnauthorized},
		{domain.ErrConfigInvalid, http.StatusBadRequest},
		{domain.ErrParse, http.StatusBadRequest},
		{domain.ErrUpstreamRateLimit, http.StatusTooManyRequests},
		{domain.ErrManagementForbid, http.StatusForbidden},
		{domain.ErrNoRoute, http.StatusServiceUnavailable},
		{domain.ErrNoCredential, http.StatusServiceUnavailable},
		{domain.ErrUpstreamFatal, http.StatusBadGateway},
	}
	for _, tc := range cases {
		perr := domain.NewProxyError(tc.kind, nil, false)
		assert.Equal(t, tc.want, statusForKind(perr), "kind=%s", tc.kind)
	}
}

func TestRequireAPIKeyRejectsMissingAndWrongKey(t *testing.T) {
	cfg := testConfig()
	s, _ := newTestServer(t, cfg)

	handler := s.requireAPIKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAPIKeyAcceptsBearerOrXAPIKey(t *testing.T) {
	cfg := testConfig()
	s, _ := newTestServer(t, cfg)

	handler := s.requireAPIKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("x-api-key", "test-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireManagementKeyForbidsWithoutKey(t *testing.T) {
	cfg := testConfig()
	s, _ := newTestServer(t, cfg)

	handler := s.requireManagementKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v0/management/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v0/management/status", nil)
	req.Header.Set("x-api-key", "mgmt-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReflectsCredentialPool(t *testing.T) {
	cfg := testConfig()
	s, creds := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, creds.Insert(&domain.Credential{
		UUID: "cred-1", Kind: domain.KindOpenAIKey, IsDisabled: true,
	}))

	rec = httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestResolveSelectorByUUIDOrName(t *testing.T) {
	cfg := testConfig()
	s, creds := newTestServer(t, cfg)

	require.NoError(t, creds.Insert(&domain.Credential{
		UUID: "cred-1", Name: "primary", Kind: domain.KindOpenAIKey, IsHealthy: true,
	}))

	assert.NotNil(t, s.resolveSelector("cred-1"))
	assert.NotNil(t, s.resolveSelector("primary"))
	assert.Nil(t, s.resolveSelector("does-not-exist"))
}
