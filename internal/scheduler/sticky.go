// Package scheduler implements the session-sticky account scheduler (C4):
// tier-priority ordering, session stickiness across three scheduling modes
// (CacheFirst, Balance, PerformanceFirst), a 60-second global lock window
// for session-less callers, and round-robin rotation as the fallback.
// Ported algorithmically from the original sticky_manager.rs and
// sticky_config.rs, structured the way the teacher structures its stateful
// managers (map + mutex, log.Printf diagnostics, a package-level Default()).
package scheduler

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sicyuan404/proxycast/internal/ratelimit"
)

// Mode mirrors the original SchedulingMode enum: CacheFirst locks onto one
// account and waits out transient rate limits (up to MaxWait) to maximize
// prompt-cache hits; Balance also locks onto one account but switches the
// moment it's rate-limited; PerformanceFirst disables both session
// stickiness and the global lock window, always rotating.
type Mode string

const (
	ModeCacheFirst       Mode = "cache_first"
	ModeBalanced         Mode = "balanced"
	ModePerformanceFirst Mode = "performance_first"
)

// Config tunes the scheduler's stickiness behavior.
type Config struct {
	Mode             Mode
	GlobalLockWindow time.Duration // 0 disables the global lock window
	MaxWait          time.Duration // CacheFirst: how long to wait out a bound account's rate limit before rotating
}

// DefaultConfig matches the original's Balance default: 60-second global
// lock window, 60-second max wait.
func DefaultConfig() Config {
	return Config{Mode: ModeBalanced, GlobalLockWindow: 60 * time.Second, MaxWait: 60 * time.Second}
}

// CacheFirstConfig matches the original's cache_first() constructor: a
// longer 120-second max wait to favor prompt-cache hit rate over latency.
func CacheFirstConfig() Config {
	return Config{Mode: ModeCacheFirst, GlobalLockWindow: 60 * time.Second, MaxWait: 120 * time.Second}
}

// PerformanceFirstConfig matches the original's performance_first()
// constructor: no stickiness, no lock window, no wait.
func PerformanceFirstConfig() Config {
	return Config{Mode: ModePerformanceFirst}
}

// Account is the candidate record the scheduler selects over. RateLimitKey
// is what's checked against the rate-limit tracker (the original uses the
// account's email; ProxyCast credentials may not have one, so callers pass
// whatever uniquely identifies the account against rate-limit state).
type Account struct {
	ID               string
	RateLimitKey     string
	SubscriptionTier string
	Disabled         bool
}

func tierPriority(tier string) int {
	switch tier {
	case "ULTRA":
		return 0
	case "PRO":
		return 1
	case "FREE":
		return 2
	default:
		return 3
	}
}

type lastUsed struct {
	accountID string
	at        time.Time
}

// Scheduler is the sticky account scheduler.
type Scheduler struct {
	mu               sync.RWMutex
	sessionAccounts  map[string]string // session id -> account id
	lastUsedMu       sync.Mutex
	lastUsedAccount  *lastUsed
	currentIndex     uint64
	rateLimits       *ratelimit.Tracker
	config           Config
}

// New creates a Scheduler over the given rate-limit tracker.
func New(rateLimits *ratelimit.Tracker, config Config) *Scheduler {
	return &Scheduler{
		sessionAccounts: make(map[string]string),
		rateLimits:      rateLimits,
		config:          config,
	}
}

// SetConfig replaces the scheduler's tuning parameters.
func (s *Scheduler) SetConfig(config Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = config
}

// BindSession associates sessionID with accountID.
func (s *Scheduler) BindSession(sessionID, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionAccounts[sessionID] = accountID
	log.Printf("[Scheduler] bound session %s to account %s", sessionID, accountID)
}

// UnbindSession removes a session's account binding, if any.
func (s *Scheduler) UnbindSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.sessionAccounts[sessionID]; ok {
		delete(s.sessionAccounts, sessionID)
		log.Printf("[Scheduler] unbound session %s (was account %s)", sessionID, acc)
	}
}

// GetBoundAccount returns the account bound to sessionID, if any.
func (s *Scheduler) GetBoundAccount(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.sessionAccounts[sessionID]
	return acc, ok
}

// SelectAccount chooses an account from accounts per §4.4: sticky session
// reuse (CacheFirst waits out a bound account's rate limit up to MaxWait
// instead of rotating immediately, the way Balance does), then the 60s
// global lock window (skipped for quotaGroup "image_gen"), then round-robin
// rotation skipping disabled/rate-limited accounts. forceRotate bypasses
// both stickiness mechanisms. Returns nil if no account is available.
func (s *Scheduler) SelectAccount(accounts []Account, sessionID string, forceRotate bool, quotaGroup string) *Account {
	if len(accounts) == 0 {
		return nil
	}

	sorted := make([]Account, len(accounts))
	copy(sorted, accounts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return tierPriority(sorted[i].SubscriptionTier) < tierPriority(sorted[j].SubscriptionTier)
	})

	s.mu.RLock()
	config := s.config
	s.mu.RUnlock()

	// Mode A: sticky session reuse.
	if !forceRotate && sessionID != "" && config.Mode != ModePerformanceFirst {
		if boundID, ok := s.GetBoundAccount(sessionID); ok {
			if idx := indexOfAccount(sorted, boundID); idx >= 0 {
				bound := sorted[idx]
				if !s.rateLimits.IsRateLimited(bound.RateLimitKey) {
					log.Printf("[Scheduler] reusing bound account %s for session %s", bound.ID, sessionID)
					return &bound
				}
				// CacheFirst prefers to wait out a transient rate limit over
				// rotating, up to MaxWait, to protect the prompt cache hit.
				if config.Mode == ModeCacheFirst && s.rateLimits.RemainingWait(bound.RateLimitKey) <= config.MaxWait {
					log.Printf("[Scheduler] cache-first waiting out rate limit on bound account %s for session %s", bound.ID, sessionID)
					return &bound
				}
				log.Printf("[Scheduler] bound account %s rate-limited, unbinding session %s", bound.ID, sessionID)
				s.UnbindSession(sessionID)
			} else {
				s.UnbindSession(sessionID)
			}
		}
	}

	// Mode B: 60s global lock window, skipped for image-gen quota groups.
	if !forceRotate && quotaGroup != "image_gen" && config.GlobalLockWindow > 0 {
		s.lastUsedMu.Lock()
		last := s.lastUsedAccount
		s.lastUsedMu.Unlock()

		if last != nil && time.Since(last.at) < config.GlobalLockWindow {
			if idx := indexOfAccount(sorted, last.accountID); idx >= 0 {
				candidate := sorted[idx]
				if !s.rateLimits.IsRateLimited(candidate.RateLimitKey) {
					log.Printf("[Scheduler] reusing account %s within global lock window", candidate.ID)
					return &candidate
				}
			}
		}
	}

	// Mode C: round-robin rotation.
	total := len(sorted)
	startIdx := int(atomic.AddUint64(&s.currentIndex, 1)-1) % total
	for offset := 0; offset < total; offset++ {
		idx := (startIdx + offset) % total
		candidate := sorted[idx]
		if candidate.Disabled {
			continue
		}
		if s.rateLimits.IsRateLimited(candidate.RateLimitKey) {
			continue
		}

		log.Printf("[Scheduler] rotation selected account %s (index %d)", candidate.ID, idx)

		s.lastUsedMu.Lock()
		s.lastUsedAccount = &lastUsed{accountID: candidate.ID, at: time.Now()}
		s.lastUsedMu.Unlock()

		if sessionID != "" && config.Mode != ModePerformanceFirst {
			s.BindSession(sessionID, candidate.ID)
		}

		return &candidate
	}

	log.Printf("[Scheduler] no available account")
	return nil
}

// MarkSuccess clears the rate-limit state for rateLimitKey after a
// successful request.
func (s *Scheduler) MarkSuccess(rateLimitKey string) {
	s.rateLimits.ClearRateLimit(rateLimitKey)
}

func indexOfAccount(accounts []Account, id string) int {
	for i, a := range accounts {
		if a.ID == id {
			return i
		}
	}
	return -1
}
