// Package antigravity drives Google's Antigravity backend: a Gemini-shaped
// v1internal endpoint reached with a Google OAuth refresh token and a
// per-project wrapper envelope, with a prod/daily dual base URL. Requests
// from every client format go through the common convert bridge; no
// thinking-signature retry is made.
package antigravity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sicyuan404/proxycast/internal/convert"
	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/provider"
)

const (
	baseURLProd  = "https://cloudcode-pa.googleapis.com/v1internal"
	baseURLDaily = "https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal"
	userAgent    = "google-api-nodejs-client/9.15.1"
	tokenURL     = "https://oauth2.googleapis.com/token"

	// fallbackProjectID is used when a credential has no project_id of its
	// own; Execute logs loudly whenever this fires (§9 Open Questions).
	fallbackProjectID = "default"
)

var sharedDriver = &Driver{
	client: &http.Client{Timeout: 5 * time.Minute, Transport: provider.DefaultPacing(nil)},
	tokens: make(map[string]*cachedToken),
}

func init() {
	provider.Register(sharedDriver)
}

// RefreshToken implements tokencache.RefreshFunc for KindAntigravityOAuth,
// mirroring getAccessToken's Google OAuth refresh grant but returning a
// domain.CachedToken instead of populating the driver's own per-credential
// cache, so the pipeline's step 7 "prepare token" has a registered
// refresher the same way every other OAuth kind does.
func RefreshToken(ctx context.Context, cred *domain.Credential) (*domain.CachedToken, error) {
	var refreshToken string
	if cred.CachedToken != nil {
		refreshToken = cred.CachedToken.RefreshToken
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {cred.Payload.Email},
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := sharedDriver.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google token refresh failed: status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	expiry := time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	return &domain.CachedToken{AccessToken: result.AccessToken, RefreshToken: refreshToken, Expiry: &expiry}, nil
}

type cachedToken struct {
	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
}

func (c *cachedToken) get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accessToken == "" || time.Now().After(c.expiresAt) {
		return "", false
	}
	return c.accessToken, true
}

func (c *cachedToken) set(token string, expiresIn int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
	c.expiresAt = time.Now().Add(time.Duration(expiresIn-60) * time.Second)
}

// Driver is the Antigravity backend driver.
type Driver struct {
	client *http.Client

	mu     sync.Mutex
	tokens map[string]*cachedToken
}

func (d *Driver) Kinds() []domain.CredentialKind {
	return []domain.CredentialKind{domain.KindAntigravityOAuth}
}

func (d *Driver) cacheFor(credUUID string) *cachedToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.tokens[credUUID]
	if !ok {
		c = &cachedToken{}
		d.tokens[credUUID] = c
	}
	return c
}

func (d *Driver) Execute(ctx context.Context, w io.Writer, req *provider.Request) error {
	cred := req.Credential
	cache := d.cacheFor(cred.UUID)

	accessToken, err := d.getAccessToken(ctx, cred, cache)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrTokenRefreshFailed, err, true, "antigravity token refresh failed")
	}

	geminiBody, err := convert.TransformRequest(req.ClientFormat, domain.FormatGemini, req.Body, req.Model, req.Stream)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "request conversion to gemini shape failed")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	projectID := cred.Payload.ProjectID
	if projectID == "" {
		log.Printf("[Antigravity] credential %s has no project_id configured, falling back to %q — configure one to avoid misrouted requests", cred.UUID, fallbackProjectID)
		projectID = fallbackProjectID
	}

	upstreamBody, err := wrapV1Internal(geminiBody, projectID, req.Model, sessionID)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "wrapping v1internal envelope failed")
	}

	action := "generateContent"
	if req.Stream {
		action = "streamGenerateContent"
	}

	var lastErr error
	for i, base := range []string{baseURLProd, baseURLDaily} {
		upstreamURL := base + ":" + action
		if req.Stream {
			upstreamURL += "?alt=sse"
		}

		resp, err := d.call(ctx, upstreamURL, upstreamBody, accessToken)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == 429 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &domain.ProxyError{Kind: classifyStatus(resp.StatusCode), Err: fmt.Errorf("antigravity returned %d", resp.StatusCode), Retryable: true, Status: resp.StatusCode, Body: string(body)}
			if i == 0 {
				continue
			}
			return lastErr
		}

		defer resp.Body.Close()
		return d.handleResponse(w, resp, req)
	}

	return domain.NewProxyErrorWithMessage(domain.ErrUpstreamTransient, lastErr, true, "all antigravity endpoints failed")
}

func (d *Driver) handleResponse(w io.Writer, resp *http.Response, req *provider.Request) error {
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &domain.ProxyError{
			Kind: classifyStatus(resp.StatusCode), Err: fmt.Errorf("antigravity returned %d", resp.StatusCode),
			Retryable: isRetryableStatusCode(resp.StatusCode), Status: resp.StatusCode, Body: string(body),
		}
	}

	if req.Stream {
		return d.streamResponse(w, resp.Body, req.ClientFormat)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrUpstreamTransient, err, true, "reading antigravity response")
	}
	unwrapped := unwrapV1Internal(raw)
	out, err := convert.TransformResponse(domain.FormatGemini, req.ClientFormat, unwrapped)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "response format conversion failed")
	}
	_, err = w.Write(out)
	return err
}

func (d *Driver) streamResponse(w io.Writer, body io.Reader, clientFormat domain.ClientFormat) error {
	flusher, _ := w.(http.Flusher)
	state := convert.NewTransformState()
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			unwrapped := unwrapV1InternalChunk(buf[:n])
			out, convErr := convert.TransformChunk(domain.FormatGemini, clientFormat, unwrapped, state)
			if convErr == nil && len(out) > 0 {
				if _, werr := w.Write(out); werr != nil {
					return werr
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return domain.NewProxyErrorWithMessage(domain.ErrUpstreamTransient, err, true, "reading antigravity stream")
		}
	}
}

func (d *Driver) call(ctx context.Context, upstreamURL string, body []byte, accessToken string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("User-Agent", userAgent)
	return d.client.Do(httpReq)
}

func (d *Driver) getAccessToken(ctx context.Context, cred *domain.Credential, cache *cachedToken) (string, error) {
	if token, ok := cache.get(); ok {
		return token, nil
	}

	refreshToken := ""
	if cred.CachedToken != nil {
		refreshToken = cred.CachedToken.RefreshToken
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {cred.Payload.Email},
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("google token refresh failed: status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}

	cache.set(result.AccessToken, result.ExpiresIn)
	return result.AccessToken, nil
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
