// Package ratelimit implements the rate-limit tracker (C3): per-account and
// per-account:model cooldown records with exponential backoff, grounded on
// the teacher's cooldown.Manager (map+RWMutex shape, log.Printf style) and
// ported algorithmically from the original rate_limit.rs tracker.
package ratelimit

import (
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sicyuan404/proxycast/internal/domain"
)

const (
	defaultBaseBackoff = 5 * time.Second
	defaultMaxBackoff  = 300 * time.Second
)

// Tracker holds account-level and account:model-level rate-limit records
// behind a single RWMutex, mirroring cooldown.Manager's map-of-keys shape.
type Tracker struct {
	mu             sync.RWMutex
	accountLimits  map[string]domain.RateLimitRecord
	modelLimits    map[string]domain.RateLimitRecord // key: "account:model"
	failureCounts  map[string]int
	baseBackoff    time.Duration
	maxBackoff     time.Duration
}

// New creates a Tracker with the given base/max backoff. Pass 0 for both to
// get the defaults (5s base, 300s cap), matching RateLimitTracker::default().
func New(baseBackoff, maxBackoff time.Duration) *Tracker {
	if baseBackoff <= 0 {
		baseBackoff = defaultBaseBackoff
	}
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Tracker{
		accountLimits: make(map[string]domain.RateLimitRecord),
		modelLimits:   make(map[string]domain.RateLimitRecord),
		failureCounts: make(map[string]int),
		baseBackoff:   baseBackoff,
		maxBackoff:    maxBackoff,
	}
}

func modelKey(accountID, model string) string {
	return accountID + ":" + model
}

// MarkRateLimited records a failure for accountID and returns the resulting
// record. If retryAfter is non-zero it is used directly (e.g. from a 429's
// Retry-After or retryDelay field); otherwise the backoff is computed from
// the account's consecutive failure count. When model is non-empty the
// record is stored at model granularity instead of account granularity.
func (t *Tracker) MarkRateLimited(accountID string, reason domain.RateLimitReason, retryAfter time.Duration, model string) domain.RateLimitRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.failureCounts[accountID]++
	failures := t.failureCounts[accountID]

	backoff := retryAfter
	if backoff <= 0 {
		backoff = t.exponentialBackoff(failures)
	}

	record := domain.RateLimitRecord{
		AccountID:           accountID,
		Reason:              reason,
		StartedAt:           now,
		ResetAt:             now.Add(backoff),
		ConsecutiveFailures: failures,
		Model:               model,
	}

	if model != "" {
		t.modelLimits[modelKey(accountID, model)] = record
	} else {
		t.accountLimits[accountID] = record
	}

	log.Printf("[RateLimit] account %s rate-limited: reason=%s resetAt=%s failures=%d model=%q",
		accountID, reason, record.ResetAt.Format(time.RFC3339), failures, model)

	return record
}

// exponentialBackoff computes base * 2^(failures-1), capped at maxBackoff.
// The exponent is clamped to 10 to avoid overflow on pathological failure
// counts, matching the original tracker's own guard.
func (t *Tracker) exponentialBackoff(failures int) time.Duration {
	exponent := failures - 1
	if exponent < 0 {
		exponent = 0
	}
	if exponent > 10 {
		exponent = 10
	}
	backoff := t.baseBackoff * time.Duration(1<<uint(exponent))
	if backoff > t.maxBackoff {
		backoff = t.maxBackoff
	}
	return backoff
}

// IsRateLimited reports whether accountID is currently in an account-level
// cooldown window.
func (t *Tracker) IsRateLimited(accountID string) bool {
	return t.RemainingWait(accountID) > 0
}

// IsModelRateLimited reports whether account+model is in a cooldown window.
func (t *Tracker) IsModelRateLimited(accountID, model string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.modelLimits[modelKey(accountID, model)]
	if !ok {
		return false
	}
	return time.Now().Before(rec.ResetAt)
}

// RemainingWait returns the remaining account-level cooldown as a duration,
// or 0 if not rate-limited.
func (t *Tracker) RemainingWait(accountID string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.accountLimits[accountID]
	if !ok {
		return 0
	}
	remaining := time.Until(rec.ResetAt)
	if remaining > 0 {
		return remaining
	}
	return 0
}

// ModelRemainingWait returns the remaining account:model cooldown.
func (t *Tracker) ModelRemainingWait(accountID, model string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.modelLimits[modelKey(accountID, model)]
	if !ok {
		return 0
	}
	remaining := time.Until(rec.ResetAt)
	if remaining > 0 {
		return remaining
	}
	return 0
}

// ClearRateLimit removes the account-level record and resets its failure
// count — called after a successful request (§4.3).
func (t *Tracker) ClearRateLimit(accountID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.accountLimits, accountID)
	t.failureCounts[accountID] = 0
}

// ClearModelRateLimit removes only the account:model record.
func (t *Tracker) ClearModelRateLimit(accountID, model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.modelLimits, modelKey(accountID, model))
}

// CleanupExpired drops every record whose ResetAt has already passed.
func (t *Tracker) CleanupExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for k, rec := range t.accountLimits {
		if !rec.ResetAt.After(now) {
			delete(t.accountLimits, k)
		}
	}
	for k, rec := range t.modelLimits {
		if !rec.ResetAt.After(now) {
			delete(t.modelLimits, k)
		}
	}
}

// RateLimitedAccounts returns every account currently in an active
// account-level cooldown.
func (t *Tracker) RateLimitedAccounts() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := time.Now()
	var out []string
	for id, rec := range t.accountLimits {
		if rec.ResetAt.After(now) {
			out = append(out, id)
		}
	}
	return out
}

// ParseDurationString parses the loose Go-duration-like format used in
// upstream retryDelay fields: concatenated h/m/s/ms components (fractional
// allowed), e.g. "1h16m0.667s", or a bare number meaning seconds. Returns
// false if s contains no usable component.
func ParseDurationString(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	var totalMillis float64
	var num strings.Builder
	runes := []rune(s)
	matched := false

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if (c >= '0' && c <= '9') || c == '.' {
			num.WriteRune(c)
			continue
		}
		if num.Len() == 0 {
			continue
		}
		n, err := strconv.ParseFloat(num.String(), 64)
		num.Reset()
		if err != nil {
			return 0, false
		}
		switch c {
		case 'h':
			totalMillis += n * 3600 * 1000
			matched = true
		case 'm':
			if i+1 < len(runes) && runes[i+1] == 's' {
				i++
				totalMillis += n
			} else {
				totalMillis += n * 60 * 1000
			}
			matched = true
		case 's':
			totalMillis += n * 1000
			matched = true
		default:
			return 0, false
		}
	}

	if num.Len() > 0 {
		n, err := strconv.ParseFloat(num.String(), 64)
		if err != nil {
			return 0, false
		}
		totalMillis += n * 1000
		matched = true
	}

	if !matched || totalMillis <= 0 {
		return 0, false
	}
	return time.Duration(totalMillis) * time.Millisecond, true
}
