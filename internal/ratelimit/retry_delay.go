package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// ExtractRetryDelay looks for a retry hint in, in order: the Retry-After
// header (seconds or a duration string), error.details[].retryDelay,
// error.details[].quotaResetDelay, and a top-level retryDelay field in the
// decoded JSON body. Returns false if none is present or parseable.
func ExtractRetryDelay(headers http.Header, body map[string]any) (time.Duration, bool) {
	if headers != nil {
		if ra := headers.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseInt(ra, 10, 64); err == nil {
				return time.Duration(secs) * time.Second, true
			}
			if d, ok := ParseDurationString(ra); ok {
				return d, true
			}
		}
	}

	if body == nil {
		return 0, false
	}

	if errObj, ok := body["error"].(map[string]any); ok {
		if details, ok := errObj["details"].([]any); ok {
			for _, raw := range details {
				detail, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				if s, ok := detail["retryDelay"].(string); ok {
					if d, ok := ParseDurationString(s); ok {
						return d, true
					}
				}
				if s, ok := detail["quotaResetDelay"].(string); ok {
					if d, ok := ParseDurationString(s); ok {
						return d, true
					}
				}
			}
		}
	}

	if s, ok := body["retryDelay"].(string); ok {
		if d, ok := ParseDurationString(s); ok {
			return d, true
		}
	}

	return 0, false
}
