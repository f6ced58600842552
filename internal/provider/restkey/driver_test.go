package restkey

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/provider"
)

func TestSetAuthHeaderClaudeUsesAPIKeyHeader(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "http://example.com", nil)
	setAuthHeader(req, domain.KindClaudeKey, "sk-ant-test")
	assert.Equal(t, "sk-ant-test", req.Header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", req.Header.Get("anthropic-version"))
}

func TestSetAuthHeaderOpenAIUsesBearer(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "http://example.com", nil)
	setAuthHeader(req, domain.KindOpenAIKey, "sk-test")
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
}

func TestIsRetryableStatusCode(t *testing.T) {
	assert.True(t, isRetryableStatusCode(429))
	assert.True(t, isRetryableStatusCode(503))
	assert.False(t, isRetryableStatusCode(400))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, domain.ErrUpstreamAuth, classifyStatus(401))
	assert.Equal(t, domain.ErrUpstreamRateLimit, classifyStatus(429))
	assert.Equal(t, domain.ErrUpstreamTransient, classifyStatus(502))
	assert.Equal(t, domain.ErrUpstreamFatal, classifyStatus(400))
}

func TestExecuteNonStreamingBuffersAndConverts(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer upstream.Close()

	d := &Driver{client: upstream.Client()}
	cred := &domain.Credential{Kind: domain.KindOpenAIKey, Payload: domain.CredentialPayload{APIKey: "sk-test", BaseURL: upstream.URL}}
	rec := httptest.NewRecorder()

	req := &provider.Request{
		Body: []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`),
		Model: "gpt-4o", ClientFormat: domain.FormatOpenAI, Credential: cred,
	}
	err := d.Execute(context.Background(), rec, req)
	require.NoError(t, err)
	assert.Contains(t, rec.Body.String(), `"hi"`)
}
