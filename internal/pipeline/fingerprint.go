package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SessionFingerprint computes the deterministic sticky-session key (§3): a
// 16-character prefix of SHA-256 over (model || first meaningful user
// message), formatted "sid-<hex16>". "Meaningful" excludes short or
// system-reminder-wrapped content, so injected tool scaffolding doesn't
// dominate the fingerprint.
func SessionFingerprint(model string, body map[string]any) string {
	msg := firstMeaningfulUserMessage(body)
	sum := sha256.Sum256([]byte(model + msg))
	return "sid-" + hex.EncodeToString(sum[:])[:16]
}

func firstMeaningfulUserMessage(body map[string]any) string {
	for _, key := range []string{"messages", "contents"} {
		raw, ok := body[key]
		if !ok {
			continue
		}
		entries, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, entry := range entries {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if role, _ := m["role"].(string); role != "" && role != "user" {
				continue
			}
			if text := meaningfulText(extractText(m)); text != "" {
				return text
			}
		}
	}
	return ""
}

func extractText(m map[string]any) string {
	switch content := m["content"].(type) {
	case string:
		return content
	case []any:
		var b strings.Builder
		for _, part := range content {
			pm, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := pm["text"].(string); ok {
				b.WriteString(t)
			}
		}
		return b.String()
	}
	// Gemini shape: parts: [{text: "..."}]
	if parts, ok := m["parts"].([]any); ok {
		var b strings.Builder
		for _, part := range parts {
			pm, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := pm["text"].(string); ok {
				b.WriteString(t)
			}
		}
		return b.String()
	}
	return ""
}

func meaningfulText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= 10 {
		return ""
	}
	if strings.Contains(trimmed, "<system-reminder>") {
		return ""
	}
	return trimmed
}
