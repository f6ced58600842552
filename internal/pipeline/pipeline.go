// Package pipeline implements the request pipeline (C10): the single
// orchestration path a proxied request travels from normalization through
// dispatch to telemetry, wiring every other component (C1-C9) together. It
// also owns the reload barrier (§4.10, §5): an RWMutex guarding the live
// config snapshot, held as a read share for the duration of one request and
// as a write lock only for the instant a new config is swapped in.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sicyuan404/proxycast/internal/config"
	"github.com/sicyuan404/proxycast/internal/credential"
	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/inject"
	"github.com/sicyuan404/proxycast/internal/jsonutil"
	"github.com/sicyuan404/proxycast/internal/provider"
	"github.com/sicyuan404/proxycast/internal/ratelimit"
	"github.com/sicyuan404/proxycast/internal/routing"
	"github.com/sicyuan404/proxycast/internal/scheduler"
	"github.com/sicyuan404/proxycast/internal/telemetry"
	"github.com/sicyuan404/proxycast/internal/tokencache"
)

// Request is one inbound call to the pipeline, already authenticated and
// parsed down to a client format and raw JSON body by internal/httpapi
// (§4.10 step 1, "authenticate", happens at the HTTP boundary — everything
// from normalization onward is this package's responsibility).
type Request struct {
	RequestID           string
	SessionID           string // caller-supplied; empty means "compute a fingerprint"
	DeclineStickiness   bool
	ForceRotate         bool
	QuotaGroup          string
	ClientFormat        domain.ClientFormat
	Model               string
	Body                []byte
	Stream              bool

	// ForcedProvider, when set, bypasses alias-resolved route matching and
	// dispatches straight to this kind (selector routes: §6 "/{selector}/...").
	ForcedProvider domain.CredentialKind
	// ForcedCredentialUUID, when set, pins dispatch to one exact credential
	// instead of going through C4's scheduler (selector-by-uuid/name).
	ForcedCredentialUUID string
}

// Pipeline ties C1-C9 together behind the reload barrier.
type Pipeline struct {
	barrierMu sync.RWMutex
	cfg       *config.Config

	Credentials *credential.Store
	Tokens      *tokencache.Cache
	RateLimits  *ratelimit.Tracker
	Scheduler   *scheduler.Scheduler
	Router      *routing.Router
	Injector    *inject.Injector
	Telemetry   telemetry.Sink
}

// New wires a Pipeline over already-constructed components and applies cfg
// as the initial snapshot.
func New(cfg *config.Config, credentials *credential.Store, tokens *tokencache.Cache, rateLimits *ratelimit.Tracker, sched *scheduler.Scheduler, router *routing.Router, injector *inject.Injector, tel telemetry.Sink) *Pipeline {
	if tel == nil {
		tel = telemetry.NopSink{}
	}
	p := &Pipeline{
		Credentials: credentials,
		Tokens:      tokens,
		RateLimits:  rateLimits,
		Scheduler:   sched,
		Router:      router,
		Injector:    injector,
		Telemetry:   tel,
	}
	_ = p.Swap(cfg)
	return p
}

// Swap is the reload barrier's write side (§4.10, §5: "the only process-wide
// exclusive lock ... must be short (no network call happens while it is
// held)"): it replaces the live config snapshot and re-derives the alias,
// routing, and injection tables from it atomically.
func (p *Pipeline) Swap(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("pipeline: nil config")
	}
	p.barrierMu.Lock()
	defer p.barrierMu.Unlock()
	p.cfg = cfg
	p.Router.SetAliases(cfg.Alias)
	p.Router.SetRules(cfg.Routes)
	p.Injector.SetRules(cfg.Inject)
	return nil
}

// Current returns the live config snapshot. Implements reload.Barrier.
func (p *Pipeline) Current() *config.Config {
	p.barrierMu.RLock()
	defer p.barrierMu.RUnlock()
	return p.cfg
}

// Handle runs one request through the full pipeline, writing the response
// (buffered JSON or an SSE stream) to w. The returned error, when non-nil,
// is always a *domain.ProxyError the caller's HTTP handler can render.
func (p *Pipeline) Handle(ctx context.Context, w io.Writer, req *Request) error {
	started := time.Now()
	rec := telemetry.RequestRecord{
		RequestID:    req.RequestID,
		SessionID:    req.SessionID,
		ClientFormat: req.ClientFormat,
		RequestModel: req.Model,
		Stream:       req.Stream,
		StartedAt:    started,
	}

	procErr := func() error {
		p.barrierMu.RLock()
		defer p.barrierMu.RUnlock()
		return p.process(ctx, w, req, &rec, p.cfg.Default)
	}()

	rec.Duration = time.Since(started)
	if procErr != nil {
		rec.Status = "failed"
		rec.Error = procErr.Error()
	} else {
		rec.Status = "completed"
	}
	p.Telemetry.EmitRequest(rec)
	return procErr
}

func (p *Pipeline) process(ctx context.Context, w io.Writer, req *Request, rec *telemetry.RequestRecord, defaultProvider domain.CredentialKind) error {
	// Step: normalize (alias resolution then injection).
	resolvedModel := p.Router.ResolveAlias(req.Model)
	rec.ResolvedModel = resolvedModel

	bodyMap, err := bytesToMap(req.Body)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "request body is not valid JSON")
	}
	bodyMap, _ = p.Injector.Apply(resolvedModel, bodyMap)
	body, err := jsonutil.Marshal(bodyMap)
	if err != nil {
		return domain.NewProxyErrorWithMessage(domain.ErrParse, err, false, "failed to re-encode injected request body")
	}

	// Step: route. A selector-forced provider (§6 "/{selector}/...") skips
	// rule matching outright; otherwise no matching rule falls back to the
	// configured default provider rather than failing, matching
	// Router.Routes's own implicit "*" discovery entry.
	target := req.ForcedProvider
	if target == "" {
		var err error
		target, err = p.Router.Match(resolvedModel)
		if err != nil {
			if defaultProvider == "" {
				var perr *domain.ProxyError
				if errors.As(err, &perr) {
					return perr
				}
				return domain.NewProxyError(domain.ErrNoRoute, err, false)
			}
			target = defaultProvider
		}
	}
	rec.Provider = target

	// Step: fingerprint, unless the caller supplied a session id or declined
	// stickiness outright.
	sessionID := req.SessionID
	if sessionID == "" && !req.DeclineStickiness {
		sessionID = SessionFingerprint(resolvedModel, bodyMap)
	}
	rec.SessionID = sessionID

	// Step: select credential.
	var cred *domain.Credential
	if req.ForcedCredentialUUID != "" {
		cred = p.Credentials.GetByUUID(req.ForcedCredentialUUID)
		if cred == nil || !cred.IsAvailable() {
			return domain.NewProxyErrorWithMessage(domain.ErrNoCredential, domain.ErrNotFound, false,
				fmt.Sprintf("selector credential %q is unavailable", req.ForcedCredentialUUID))
		}
	} else {
		var err error
		cred, err = p.selectCredential(target, resolvedModel, sessionID, req.ForceRotate, req.QuotaGroup)
		if err != nil {
			return err
		}
	}
	rec.CredentialUUID = cred.UUID

	// Step: prepare token (OAuth kinds only; API-key kinds carry their
	// secret directly on the credential payload).
	if isOAuthKind(cred.Kind) {
		if _, err := p.Tokens.GetValidToken(ctx, cred); err != nil {
			// §7: TokenRefreshFailed surfaces as 401 without bumping the
			// credential's error count — tokencache already recorded the
			// refresh failure on the token itself.
			return asProxyError(domain.ErrTokenRefreshFailed, err)
		}
	}

	providerReq := &provider.Request{
		Body:         body,
		Model:        resolvedModel,
		Stream:       req.Stream,
		ClientFormat: req.ClientFormat,
		Credential:   cred,
		SessionID:    sessionID,
		RequestID:    req.RequestID,
	}

	driver, err := provider.Lookup(target)
	if err != nil {
		return domain.NewProxyError(domain.ErrNoCredential, err, false)
	}

	execErr := driver.Execute(ctx, w, providerReq)
	execErr = p.maybeRetryOnAuthFailure(ctx, w, driver, providerReq, cred, execErr, rec)

	p.reconcileCredentialHealth(cred, resolvedModel, sessionID, execErr)

	if execErr != nil {
		var perr *domain.ProxyError
		if errors.As(execErr, &perr) {
			return perr
		}
		return domain.NewProxyError(domain.ErrUpstreamFatal, execErr, false)
	}
	return nil
}

// maybeRetryOnAuthFailure implements §4.10 step 10 and §7's UpstreamAuth
// row: on a 401/403 from an OAuth-backed driver, force a token refresh and
// retry exactly once; a second failure is surfaced as-is.
func (p *Pipeline) maybeRetryOnAuthFailure(ctx context.Context, w io.Writer, driver provider.Driver, req *provider.Request, cred *domain.Credential, execErr error, rec *telemetry.RequestRecord) error {
	if execErr == nil {
		return nil
	}
	var perr *domain.ProxyError
	if !errors.As(execErr, &perr) || perr.Kind != domain.ErrUpstreamAuth {
		return execErr
	}
	if !isOAuthKind(cred.Kind) {
		return execErr
	}

	p.Tokens.Invalidate(cred)
	if _, err := p.Tokens.GetValidToken(ctx, cred); err != nil {
		return asProxyError(domain.ErrTokenRefreshFailed, err)
	}
	rec.RetryCount++
	return driver.Execute(ctx, w, req)
}

// reconcileCredentialHealth applies §4.1/§4.3's health-transition and
// sticky-unbind rules for the outcome of one dispatch.
func (p *Pipeline) reconcileCredentialHealth(cred *domain.Credential, resolvedModel, sessionID string, execErr error) {
	if execErr == nil {
		_ = p.Credentials.MarkHealthy(cred.UUID, resolvedModel)
		_ = p.Credentials.RecordUsage(cred.UUID)
		p.Scheduler.MarkSuccess(cred.UUID)
		return
	}

	var perr *domain.ProxyError
	if !errors.As(execErr, &perr) {
		_ = p.Credentials.MarkUnhealthy(cred.UUID, execErr.Error())
		return
	}

	switch perr.Kind {
	case domain.ErrUpstreamRateLimit:
		retryAfter := time.Duration(perr.RetryAfter) * time.Second
		p.RateLimits.MarkRateLimited(cred.UUID, domain.ReasonRateLimitExceeded, retryAfter, resolvedModel)
		if sessionID != "" {
			p.Scheduler.UnbindSession(sessionID)
		}
	case domain.ErrUpstreamTransient, domain.ErrUpstreamFatal:
		_ = p.Credentials.MarkUnhealthy(cred.UUID, perr.Error())
	case domain.ErrUpstreamAuth, domain.ErrTokenRefreshFailed:
		// Credential error count is not bumped for auth/token failures
		// (§7): the retry above already exhausted the one reasonable
		// recovery, and a stale token isn't evidence the credential itself
		// is unhealthy.
	}
}

func (p *Pipeline) selectCredential(kind domain.CredentialKind, model, sessionID string, forceRotate bool, quotaGroup string) (*domain.Credential, error) {
	candidates := p.Credentials.GetByKind(kind)
	var accounts []scheduler.Account
	byID := make(map[string]*domain.Credential, len(candidates))
	for _, c := range candidates {
		if !c.IsAvailable() || !c.SupportsModel(model) {
			continue
		}
		accounts = append(accounts, scheduler.Account{
			ID:               c.UUID,
			RateLimitKey:     c.UUID,
			SubscriptionTier: c.SubscriptionTier,
			Disabled:         c.IsDisabled,
		})
		byID[c.UUID] = c
	}

	account := p.Scheduler.SelectAccount(accounts, sessionID, forceRotate, quotaGroup)
	if account == nil {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrNoCredential, domain.ErrNotFound, false,
			fmt.Sprintf("no available credential for provider %s", kind))
	}
	return byID[account.ID], nil
}

func isOAuthKind(kind domain.CredentialKind) bool {
	return strings.HasSuffix(string(kind), "_oauth")
}

func asProxyError(kind domain.ErrorKind, err error) *domain.ProxyError {
	var perr *domain.ProxyError
	if errors.As(err, &perr) {
		return perr
	}
	return domain.NewProxyError(kind, err, false)
}

func bytesToMap(body []byte) (map[string]any, error) {
	var m map[string]any
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	if err := jsonutil.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return m, nil
}
