// Package restkey implements the generic REST-key provider driver: any
// provider reached by an API key (or bearer token) over a plain HTTPS
// endpoint, with no OAuth dance and no bespoke wire protocol of its own.
// This covers KindOpenAIKey, KindClaudeKey, KindVertexKey, KindGeminiAPIKey,
// and KindCodexOAuth, KindQwenOAuth and KindIFlowOAuth (these speak the
// OpenAI chat-completions shape and are sent the payload's APIKey as a
// bearer token, so they ride the same path as the static-key providers).
package restkey

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sicyuan404/proxycast/internal/convert"
	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/provider"
)

func init() {
	provider.Register(&Driver{client: &http.Client{
		Timeout:   10 * time.Minute,
		Transport: provider.DefaultPacing(nil),
	}})
}

// Driver is the REST-key provider driver. One instance is shared across all
// credentials of the kinds it supports; it holds no per-credential state.
type Driver struct {
	client *http.Client
}

func (d *Driver) Kinds() []domain.CredentialKind {
	return []domain.CredentialKind{
		domain.KindOpenAIKey, domain.KindClaudeKey, domain.KindVertexKey,
		domain.KindGeminiAPIKey, domain.KindCodexOAuth, domain.KindQwenOAuth, domain.KindIFlowOAuth,
	}
}

// upstreamFormat is the wire format a REST-key credential's base URL speaks,
// independent of the client's own ClientFormat (the convert bridge sits
// between them).
func upstreamFormat(kind domain.CredentialKind) domain.ClientFormat {
	switch kind {
	case domain.KindClaudeKey:
		return domain.FormatAnthropic
	case domain.KindGeminiAPIKey, domain.KindVertexKey:
		return domain.FormatGemini
	default:
		return domain.FormatOpenAI
	}
}

func (d *Driver) Execute(ctx context.Context, w io.Writer, req *provider.Request) error {
	cred := req.Credential
	target := upstreamFormat(cred.Kind)

	upstreamBody, err := convert.TransformRequest(req.ClientFormat, target, req.Body, req.Model, req.Stream)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "request format conversion failed")
	}

	path := chatPath(target)
	if target == domain.FormatGemini {
		action := "generateContent"
		if req.Stream {
			action = "streamGenerateContent"
		}
		path = fmt.Sprintf("/v1beta/models/%s:%s", req.Model, action)
	}

	url := strings.TrimSuffix(cred.Payload.BaseURL, "/") + path
	if target == domain.FormatGemini && cred.Payload.APIKey != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "key=" + cred.Payload.APIKey
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(upstreamBody))
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrUpstreamFatal, err, false, "building upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setAuthHeader(httpReq, cred.Kind, cred.Payload.APIKey)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrUpstreamTransient, err, true, "upstream request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &domain.ProxyError{
			Kind: classifyStatus(resp.StatusCode), Err: fmt.Errorf("upstream returned %d", resp.StatusCode),
			Retryable: isRetryableStatusCode(resp.StatusCode), Status: resp.StatusCode, Body: string(body),
		}
	}

	if req.Stream {
		return d.streamResponse(ctx, w, resp.Body, target, req.ClientFormat)
	}
	return d.bufferedResponse(w, resp.Body, target, req.ClientFormat)
}

func (d *Driver) bufferedResponse(w io.Writer, body io.Reader, upstreamFmt, clientFmt domain.ClientFormat) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrUpstreamTransient, err, true, "reading upstream body")
	}
	out, err := convert.TransformResponse(upstreamFmt, clientFmt, raw)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "response format conversion failed")
	}
	_, err = w.Write(out)
	return err
}

// streamResponse relays an SSE upstream line by line, transforming each
// chunk into the client's format as it arrives, so a slow upstream doesn't
// block the whole response behind a buffering read.
func (d *Driver) streamResponse(ctx context.Context, w io.Writer, body io.Reader, upstreamFmt, clientFmt domain.ClientFormat) error {
	flusher, _ := w.(http.Flusher)
	state := convert.NewTransformState()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-errCh; err != nil {
					return domain.NewProxyErrorWithMessage(domain.ErrUpstreamTransient, err, true, "reading upstream stream")
				}
				return nil
			}
			out, err := convert.TransformChunk(upstreamFmt, clientFmt, []byte(line+"\n\n"), state)
			if err != nil {
				continue
			}
			if len(out) > 0 {
				if _, err := w.Write(out); err != nil {
					return err
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
	}
}

func chatPath(format domain.ClientFormat) string {
	switch format {
	case domain.FormatAnthropic:
		return "/v1/messages"
	case domain.FormatGemini:
		return "/v1beta/models/:generateContent"
	default:
		return "/v1/chat/completions"
	}
}

func setAuthHeader(req *http.Request, kind domain.CredentialKind, apiKey string) {
	switch kind {
	case domain.KindClaudeKey:
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	case domain.KindGeminiAPIKey, domain.KindVertexKey:
		req.Header.Set("x-goog-api-key", apiKey)
	default:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
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
