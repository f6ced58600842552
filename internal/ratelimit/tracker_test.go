package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sicyuan404/proxycast/internal/domain"
)

func TestParseDurationString(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"1.5s", 1500 * time.Millisecond, true},
		{"30s", 30 * time.Second, true},
		{"5m", 5 * time.Minute, true},
		{"2h", 2 * time.Hour, true},
		{"1h16m0.667s", time.Hour + 16*time.Minute + 667*time.Millisecond, true},
		{"500ms", 500 * time.Millisecond, true},
		{"", 0, false},
		{"invalid", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseDurationString(c.in)
		assert.Equal(t, c.ok, ok, "input %q", c.in)
		if c.ok {
			assert.Equal(t, c.want, got, "input %q", c.in)
		}
	}
}

func TestExponentialBackoffSequence(t *testing.T) {
	tr := New(5*time.Second, 300*time.Second)
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		300 * time.Second, // would be 320s uncapped; clamps to max
	}
	for i, w := range want {
		got := tr.exponentialBackoff(i + 1)
		assert.Equal(t, w, got, "failure count %d", i+1)
	}
}

func TestMarkRateLimitedAccountLevel(t *testing.T) {
	tr := New(5*time.Second, 300*time.Second)
	rec := tr.MarkRateLimited("acct1", domain.ReasonRateLimitExceeded, 0, "")
	assert.Equal(t, 1, rec.ConsecutiveFailures)
	assert.True(t, tr.IsRateLimited("acct1"))
	assert.InDelta(t, 5*time.Second, tr.RemainingWait("acct1"), float64(200*time.Millisecond))
}

func TestMarkRateLimitedWithExplicitRetryAfter(t *testing.T) {
	tr := New(5*time.Second, 300*time.Second)
	rec := tr.MarkRateLimited("acct2", domain.ReasonQuotaExhausted, 2*time.Minute, "")
	assert.InDelta(t, 2*time.Minute, time.Until(rec.ResetAt), float64(time.Second))
}

func TestModelLevelRateLimitIsIndependentOfAccountLevel(t *testing.T) {
	tr := New(5*time.Second, 300*time.Second)
	tr.MarkRateLimited("acct3", domain.ReasonModelCapacityExhausted, time.Minute, "gpt-x")
	assert.False(t, tr.IsRateLimited("acct3"))
	assert.True(t, tr.IsModelRateLimited("acct3", "gpt-x"))
	assert.False(t, tr.IsModelRateLimited("acct3", "gpt-y"))
}

func TestClearRateLimitResetsFailureCount(t *testing.T) {
	tr := New(5*time.Second, 300*time.Second)
	tr.MarkRateLimited("acct4", domain.ReasonServerError, 0, "")
	tr.ClearRateLimit("acct4")
	assert.False(t, tr.IsRateLimited("acct4"))

	rec := tr.MarkRateLimited("acct4", domain.ReasonServerError, 0, "")
	assert.Equal(t, 1, rec.ConsecutiveFailures, "failure count should restart from 1 after clear")
}

func TestCleanupExpiredRemovesPastRecords(t *testing.T) {
	tr := New(5*time.Second, 300*time.Second)
	tr.MarkRateLimited("acct5", domain.ReasonUnknown, time.Nanosecond, "")
	time.Sleep(5 * time.Millisecond)
	tr.CleanupExpired()
	assert.Empty(t, tr.RateLimitedAccounts())
}

func TestExtractRetryDelayFromHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")
	d, ok := ExtractRetryDelay(h, nil)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)
}

func TestExtractRetryDelayFromBodyDetails(t *testing.T) {
	body := map[string]any{
		"error": map[string]any{
			"details": []any{
				map[string]any{"retryDelay": "12s"},
			},
		},
	}
	d, ok := ExtractRetryDelay(nil, body)
	assert.True(t, ok)
	assert.Equal(t, 12*time.Second, d)
}

func TestExtractRetryDelayTopLevelFallback(t *testing.T) {
	body := map[string]any{"retryDelay": "2m"}
	d, ok := ExtractRetryDelay(nil, body)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, d)
}

func TestExtractRetryDelayNoneFound(t *testing.T) {
	_, ok := ExtractRetryDelay(nil, map[string]any{"foo": "bar"})
	assert.False(t, ok)
}
