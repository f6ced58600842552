package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicyuan404/proxycast/internal/ratelimit"
)

func newScheduler() *Scheduler {
	return New(ratelimit.New(5*time.Second, 300*time.Second), DefaultConfig())
}

func TestSessionBindUnbind(t *testing.T) {
	s := newScheduler()
	s.BindSession("session1", "acc1")
	got, ok := s.GetBoundAccount("session1")
	require.True(t, ok)
	assert.Equal(t, "acc1", got)

	s.UnbindSession("session1")
	_, ok = s.GetBoundAccount("session1")
	assert.False(t, ok)
}

func TestSelectAccountPrefersHighestTier(t *testing.T) {
	s := newScheduler()
	accounts := []Account{
		{ID: "acc1", RateLimitKey: "u1", SubscriptionTier: "FREE"},
		{ID: "acc2", RateLimitKey: "u2", SubscriptionTier: "PRO"},
		{ID: "acc3", RateLimitKey: "u3", SubscriptionTier: "ULTRA"},
	}
	selected := s.SelectAccount(accounts, "", false, "claude")
	require.NotNil(t, selected)
	assert.Equal(t, "ULTRA", selected.SubscriptionTier)
}

func TestSelectAccountStickySession(t *testing.T) {
	s := newScheduler()
	accounts := []Account{
		{ID: "acc1", RateLimitKey: "u1", SubscriptionTier: "PRO"},
		{ID: "acc2", RateLimitKey: "u2", SubscriptionTier: "PRO"},
	}
	first := s.SelectAccount(accounts, "session1", false, "claude")
	require.NotNil(t, first)

	second := s.SelectAccount(accounts, "session1", false, "claude")
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
}

func TestSelectAccountUnbindsWhenBoundAccountRateLimited(t *testing.T) {
	rl := ratelimit.New(5*time.Second, 300*time.Second)
	s := New(rl, DefaultConfig())
	accounts := []Account{
		{ID: "acc1", RateLimitKey: "u1", SubscriptionTier: "PRO"},
		{ID: "acc2", RateLimitKey: "u2", SubscriptionTier: "PRO"},
	}
	first := s.SelectAccount(accounts, "session1", false, "claude")
	require.NotNil(t, first)

	rl.MarkRateLimited(first.RateLimitKey, "RateLimitExceeded", time.Minute, "")

	second := s.SelectAccount(accounts, "session1", false, "claude")
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID, "rate-limited bound account should be rotated away from")
}

func TestSelectAccountSkipsDisabledAndRateLimited(t *testing.T) {
	rl := ratelimit.New(5*time.Second, 300*time.Second)
	s := New(rl, DefaultConfig())
	rl.MarkRateLimited("u1", "RateLimitExceeded", time.Minute, "")
	accounts := []Account{
		{ID: "acc1", RateLimitKey: "u1", SubscriptionTier: "ULTRA"},
		{ID: "acc2", RateLimitKey: "u2", SubscriptionTier: "ULTRA", Disabled: true},
		{ID: "acc3", RateLimitKey: "u3", SubscriptionTier: "ULTRA"},
	}
	selected := s.SelectAccount(accounts, "", false, "claude")
	require.NotNil(t, selected)
	assert.Equal(t, "acc3", selected.ID)
}

func TestSelectAccountReturnsNilWhenAllUnavailable(t *testing.T) {
	rl := ratelimit.New(5*time.Second, 300*time.Second)
	s := New(rl, DefaultConfig())
	rl.MarkRateLimited("u1", "RateLimitExceeded", time.Minute, "")
	accounts := []Account{{ID: "acc1", RateLimitKey: "u1", SubscriptionTier: "PRO"}}
	assert.Nil(t, s.SelectAccount(accounts, "", false, "claude"))
}

func TestCacheFirstWaitsOutRateLimitInsteadOfRotating(t *testing.T) {
	rl := ratelimit.New(5*time.Second, 300*time.Second)
	s := New(rl, CacheFirstConfig())
	accounts := []Account{
		{ID: "acc1", RateLimitKey: "u1", SubscriptionTier: "PRO"},
		{ID: "acc2", RateLimitKey: "u2", SubscriptionTier: "PRO"},
	}
	first := s.SelectAccount(accounts, "session1", false, "claude")
	require.NotNil(t, first)

	rl.MarkRateLimited(first.RateLimitKey, "RateLimitExceeded", time.Second, "")

	second := s.SelectAccount(accounts, "session1", false, "claude")
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID, "cache-first should wait out a short rate limit on the bound account rather than rotate")
}

func TestCacheFirstRotatesWhenWaitExceedsMaxWait(t *testing.T) {
	rl := ratelimit.New(5*time.Second, 300*time.Second)
	cfg := CacheFirstConfig()
	cfg.MaxWait = time.Second
	s := New(rl, cfg)
	accounts := []Account{
		{ID: "acc1", RateLimitKey: "u1", SubscriptionTier: "PRO"},
		{ID: "acc2", RateLimitKey: "u2", SubscriptionTier: "PRO"},
	}
	first := s.SelectAccount(accounts, "session1", false, "claude")
	require.NotNil(t, first)

	rl.MarkRateLimited(first.RateLimitKey, "RateLimitExceeded", time.Minute, "")

	second := s.SelectAccount(accounts, "session1", false, "claude")
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID, "cache-first should still rotate once the wait exceeds MaxWait")
}

func TestGlobalLockWindowReusesLastAccountWithoutSession(t *testing.T) {
	s := newScheduler()
	accounts := []Account{
		{ID: "acc1", RateLimitKey: "u1", SubscriptionTier: "PRO"},
		{ID: "acc2", RateLimitKey: "u2", SubscriptionTier: "PRO"},
	}
	first := s.SelectAccount(accounts, "", false, "claude")
	require.NotNil(t, first)

	second := s.SelectAccount(accounts, "", false, "claude")
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID, "within the lock window, the same account should be reused")
}

func TestGlobalLockWindowSkippedForImageGen(t *testing.T) {
	s := newScheduler()
	accounts := []Account{
		{ID: "acc1", RateLimitKey: "u1", SubscriptionTier: "PRO"},
		{ID: "acc2", RateLimitKey: "u2", SubscriptionTier: "PRO"},
	}
	first := s.SelectAccount(accounts, "", false, "image_gen")
	require.NotNil(t, first)
	// Rotation always advances regardless of what first was; just confirm no panic/lock reuse assertion is made.
	second := s.SelectAccount(accounts, "", false, "image_gen")
	require.NotNil(t, second)
}

func TestForceRotateBypassesStickiness(t *testing.T) {
	s := newScheduler()
	accounts := []Account{
		{ID: "acc1", RateLimitKey: "u1", SubscriptionTier: "PRO"},
		{ID: "acc2", RateLimitKey: "u2", SubscriptionTier: "PRO"},
	}
	s.BindSession("session1", "acc1")
	selected := s.SelectAccount(accounts, "session1", true, "claude")
	require.NotNil(t, selected)
}

func TestMarkSuccessClearsRateLimit(t *testing.T) {
	rl := ratelimit.New(5*time.Second, 300*time.Second)
	s := New(rl, DefaultConfig())
	rl.MarkRateLimited("u1", "RateLimitExceeded", time.Minute, "")
	s.MarkSuccess("u1")
	assert.False(t, rl.IsRateLimited("u1"))
}
