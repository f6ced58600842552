// Package kiro drives the AWS CodeWhisperer/Q Developer backend ("Kiro")
// through its generateAssistantResponse endpoint: OAuth token refresh
// (Social or IdC), a Claude-shaped request flattened into CodeWhisperer's
// single-running-conversation wire format, and an AWS event-stream response
// parsed back into normalized content via internal/eventstream rather than a
// bespoke parser.
package kiro

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sicyuan404/proxycast/internal/convert"
	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/eventstream"
	"github.com/sicyuan404/proxycast/internal/provider"
)

var sharedDriver = &Driver{client: newHTTPClient(), tokens: make(map[string]*tokenCache)}

func init() {
	provider.Register(sharedDriver)
}

// RefreshToken implements tokencache.RefreshFunc for KindKiroOAuth: it
// performs the Social or IdC refresh grant and returns the result as a
// domain.CachedToken so C2 can serialize refreshes across concurrent
// requests for the same credential (§4.2). The driver's own per-instance
// access-token cache (tokenCache, below) still applies inside Execute; this path exists
// so the pipeline's step 7 "prepare token" always has a registered refresher.
func RefreshToken(ctx context.Context, cred *domain.Credential) (*domain.CachedToken, error) {
	var result refreshResponse
	var err error
	switch cred.Payload.AuthMethod {
	case "idc":
		result, err = sharedDriver.refreshIdC(ctx, cred)
	default:
		result, err = sharedDriver.refreshSocial(ctx, cred)
	}
	if err != nil {
		return nil, err
	}
	expiry := time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	return &domain.CachedToken{
		AccessToken:  result.AccessToken,
		RefreshToken: cred.CachedToken.RefreshToken,
		Expiry:       &expiry,
	}, nil
}

type tokenCache struct {
	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
}

func (c *tokenCache) get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accessToken == "" || time.Now().After(c.expiresAt) {
		return "", false
	}
	return c.accessToken, true
}

func (c *tokenCache) set(token string, expiresIn int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
	c.expiresAt = time.Now().Add(time.Duration(expiresIn-60) * time.Second)
}

func (c *tokenCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = ""
}

// Driver is the Kiro/CodeWhisperer backend driver. One token cache is kept
// per credential UUID since each Kiro credential carries its own refresh
// token and therefore its own access-token lifetime.
type Driver struct {
	client *http.Client

	tokensMu sync.Mutex
	tokens   map[string]*tokenCache
}

func (d *Driver) Kinds() []domain.CredentialKind {
	return []domain.CredentialKind{domain.KindKiroOAuth}
}

func (d *Driver) cacheFor(credUUID string) *tokenCache {
	d.tokensMu.Lock()
	defer d.tokensMu.Unlock()
	c, ok := d.tokens[credUUID]
	if !ok {
		c = &tokenCache{}
		d.tokens[credUUID] = c
	}
	return c
}

func (d *Driver) Execute(ctx context.Context, w io.Writer, req *provider.Request) error {
	cred := req.Credential
	cache := d.cacheFor(cred.UUID)

	accessToken, err := d.getAccessToken(ctx, cred, cache)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrTokenRefreshFailed, err, true, "kiro token refresh failed")
	}

	anthropicBody, err := convert.TransformRequest(req.ClientFormat, domain.FormatAnthropic, req.Body, req.Model, req.Stream)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "request conversion to anthropic shape failed")
	}
	var anthropicReq convert.AnthropicRequest
	if err := json.Unmarshal(anthropicBody, &anthropicReq); err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "decoding intermediate anthropic request")
	}

	mappedModel := mapModel(req.Model, nil)
	conversationID := conversationIDFor(req.SessionID)
	cwReq := buildCodeWhispererRequest(&anthropicReq, mappedModel, conversationID)
	cwBody, err := json.Marshal(cwReq)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "marshaling codewhisperer request")
	}

	region := cred.Payload.Region
	if region == "" {
		region = defaultRegion
	}
	upstreamURL := fmt.Sprintf(codeWhispererURLTemplate, region)

	resp, err := d.call(ctx, upstreamURL, cwBody, accessToken)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrUpstreamTransient, err, true, "kiro upstream call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		cache.invalidate()
		accessToken, err = d.getAccessToken(ctx, cred, cache)
		if err != nil {
			return domain.NewProxyErrorWithMessage(domain.ErrTokenRefreshFailed, err, true, "kiro token refresh retry failed")
		}
		resp.Body.Close()
		resp, err = d.call(ctx, upstreamURL, cwBody, accessToken)
		if err != nil {
			return domain.NewProxyErrorWithMessage(domain.ErrUpstreamTransient, err, true, "kiro upstream retry failed")
		}
		defer resp.Body.Close()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrUpstreamTransient, err, true, "reading kiro response")
	}

	if resp.StatusCode >= 400 {
		return &domain.ProxyError{
			Kind: classifyStatus(resp.StatusCode), Err: fmt.Errorf("kiro upstream returned %d", resp.StatusCode),
			Retryable: isRetryableStatusCode(resp.StatusCode), Status: resp.StatusCode, Body: string(body),
		}
	}

	parsed := eventstream.Parse(body)

	anthropicResp := &convert.AnthropicResponse{
		ID: "msg_" + uuid.NewString(), Type: "message", Role: "assistant", Model: req.Model,
		StopReason: stopReasonFor(parsed),
		Usage:      convert.AnthropicUsage{InputTokens: estimateInputTokens(parsed), OutputTokens: estimateOutputTokens(parsed)},
	}
	anthropicResp.Content = append(anthropicResp.Content, convert.AnthropicContentBlock{Type: "text", Text: parsed.Content})
	for _, tc := range parsed.ToolCalls {
		anthropicResp.Content = append(anthropicResp.Content, convert.AnthropicContentBlock{
			Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: rawJSONToMap(tc.Arguments), RawInput: tc.Arguments,
		})
	}

	respBody, err := json.Marshal(anthropicResp)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "marshaling normalized response")
	}

	if req.Stream {
		sseOut := convert.SynthesizeAnthropicSSE(anthropicResp)
		out, err := convert.TransformChunk(domain.FormatAnthropic, req.ClientFormat, sseOut, convert.NewTransformState())
		if err != nil {
			_, writeErr := w.Write(sseOut)
			return writeErr
		}
		_, err = w.Write(out)
		return err
	}

	out, err := convert.TransformResponse(domain.FormatAnthropic, req.ClientFormat, respBody)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "response format conversion failed")
	}
	_, err = w.Write(out)
	return err
}

func (d *Driver) call(ctx context.Context, url string, body []byte, accessToken string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-amz-json-1.1")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("user-agent", codeWhispererUserAgent)
	return d.client.Do(httpReq)
}

func (d *Driver) getAccessToken(ctx context.Context, cred *domain.Credential, cache *tokenCache) (string, error) {
	if token, ok := cache.get(); ok {
		return token, nil
	}

	var result refreshResponse
	var err error
	switch cred.Payload.AuthMethod {
	case "idc":
		result, err = d.refreshIdC(ctx, cred)
	default:
		result, err = d.refreshSocial(ctx, cred)
	}
	if err != nil {
		return "", err
	}

	cache.set(result.AccessToken, result.ExpiresIn)
	return result.AccessToken, nil
}

func (d *Driver) refreshSocial(ctx context.Context, cred *domain.Credential) (refreshResponse, error) {
	var refreshToken string
	if cred.CachedToken != nil {
		refreshToken = cred.CachedToken.RefreshToken
	}
	reqBody, _ := json.Marshal(refreshRequest{RefreshToken: refreshToken})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, refreshTokenURL, bytes.NewReader(reqBody))
	if err != nil {
		return refreshResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return d.doRefresh(httpReq)
}

func (d *Driver) refreshIdC(ctx context.Context, cred *domain.Credential) (refreshResponse, error) {
	var refreshToken string
	if cred.CachedToken != nil {
		refreshToken = cred.CachedToken.RefreshToken
	}
	clientID := cred.Payload.ClientID
	if clientID == "" {
		clientID = cred.Payload.Email
	}
	reqBody, _ := json.Marshal(idcRefreshRequest{
		ClientID: clientID, ClientSecret: cred.Payload.ClientSecret,
		GrantType: "refresh_token", RefreshToken: refreshToken,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, idcRefreshTokenURL, bytes.NewReader(reqBody))
	if err != nil {
		return refreshResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Host", "oidc.us-east-1.amazonaws.com")
	httpReq.Header.Set("x-amz-user-agent", idcUserAgent)
	httpReq.Header.Set("User-Agent", "node")

	return d.doRefresh(httpReq)
}

func (d *Driver) doRefresh(httpReq *http.Request) (refreshResponse, error) {
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return refreshResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return refreshResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return refreshResponse{}, fmt.Errorf("refresh failed: status %d: %s", resp.StatusCode, string(body))
	}

	var result refreshResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return refreshResponse{}, err
	}
	return result, nil
}

func conversationIDFor(sessionID string) string {
	if sessionID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID)).String()
}

func stopReasonFor(parsed domain.ParsedUpstreamResponse) string {
	if len(parsed.ToolCalls) > 0 {
		return "tool_use"
	}
	return "end_turn"
}

// estimateInputTokens derives the prompt-token estimate from the upstream's
// own context-window accounting rather than the request body size: CodeWhisperer
// reports how much of its 200k-token context window the prompt consumed, not
// a token count directly.
func estimateInputTokens(parsed domain.ParsedUpstreamResponse) int {
	return int((parsed.ContextUsagePercentage / 100.0) * 200000.0)
}

// estimateOutputTokens sums the response text and every tool call's
// argument JSON, since a tool-only response still costs output tokens.
func estimateOutputTokens(parsed domain.ParsedUpstreamResponse) int {
	total := len(parsed.Content)
	for _, tc := range parsed.ToolCalls {
		total += len(tc.Arguments)
	}
	return total / 4
}

func rawJSONToMap(raw string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]any{}
	}
	return m
}

func isRetryableStatusCode(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func classifyStatus(code int) domain.ErrorKind {
	switch {
	case code == 401 || code == 403:
		return domain.ErrUpstreamAuth
	case code == 429:
		return domain.ErrUpstreamRateLimit
	case code >= 500:
		return domain.ErrUpstreamTransient
	default:
		return domain.ErrUpstreamFatal
	}
}

// newHTTPClient pins the TLS handshake to a conservative cipher suite set
// and disables HTTP/2, matching what the upstream CodeWhisperer edge
// expects from the desktop client this backend was built to impersonate.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
				tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			},
		},
		ForceAttemptHTTP2:     false,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: provider.DefaultPacing(transport), Timeout: 5 * time.Minute}
}
