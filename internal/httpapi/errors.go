package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sicyuan404/proxycast/internal/domain"
)

// clientFormatFromPath picks the error envelope shape for a path: Anthropic
// routes ("/v1/messages", "/{selector}/v1/messages") get the
// {type,error:{type,message}} envelope, everything else gets OpenAI's
// {error:{message}} (§6).
func clientFormatFromPath(path string) domain.ClientFormat {
	if strings.Contains(path, "/v1/messages") {
		return domain.FormatAnthropic
	}
	return domain.FormatOpenAI
}

func writeAuthError(w http.ResponseWriter, format domain.ClientFormat, missing bool) {
	kind := domain.ErrAuthInvalid
	if missing {
		kind = domain.ErrAuthMissing
	}
	writeProxyError(w, format, domain.NewProxyErrorWithMessage(kind, nil, false, "missing or invalid API key"))
}

// writeProxyError renders a *domain.ProxyError as the client-format-specific
// envelope and status code (§7): upstream errors surface the upstream
// status (falling back to 502) and a body truncated to 200 chars, never
// credential/token material.
func writeProxyError(w http.ResponseWriter, format domain.ClientFormat, perr *domain.ProxyError) {
	status := statusForKind(perr)
	w.Header().Set("Content-Type", "application/json")
	if perr.RetryAfter > 0 {
		w.Header().Set("Retry-After", itoa(perr.RetryAfter))
	}
	w.WriteHeader(status)

	message := perr.Message
	if message == "" {
		message = perr.Error()
	}
	if perr.Body != "" {
		message = message + ": " + perr.TruncatedBody()
	}

	var payload any
	if format == domain.FormatAnthropic {
		payload = anthropicErrorEnvelope{Type: "error", Error: anthropicErrorBody{Type: string(perr.Kind), Message: message}}
	} else {
		payload = openAIErrorEnvelope{Error: openAIErrorBody{Message: message, Type: string(perr.Kind)}}
	}
	enc, _ := json.Marshal(payload)
	w.Write(enc)
}

type anthropicErrorEnvelope struct {
	Type  string              `json:"type"`
	Error anthropicErrorBody  `json:"error"`
}

type anthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type openAIErrorEnvelope struct {
	Error openAIErrorBody `json:"error"`
}

type openAIErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func statusForKind(perr *domain.ProxyError) int {
	if perr.Status != 0 {
		return perr.Status
	}
	switch perr.Kind {
	case domain.ErrAuthMissing, domain.ErrAuthInvalid, domain.ErrTokenRefreshFailed:
		return http.StatusUnauthorized
	case domain.ErrConfigInvalid, domain.ErrParse:
		return http.StatusBadRequest
	case domain.ErrUpstreamRateLimit:
		return http.StatusTooManyRequests
	case domain.ErrManagementForbid:
		return http.StatusForbidden
	case domain.ErrNoRoute, domain.ErrNoCredential:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
