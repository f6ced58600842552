// Package tokencache implements the access-token cache (C2): a cooperative
// single-flight refresh per credential so that N concurrent requests behind
// an expired token produce exactly one upstream refresh call, with every
// waiter receiving the resulting token rather than retrying independently.
package tokencache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/sicyuan404/proxycast/internal/credential"
	"github.com/sicyuan404/proxycast/internal/domain"
)

// RefreshFunc performs the provider-specific token refresh HTTP call and
// returns the new token. It must not touch the credential store directly;
// the Cache persists the result.
type RefreshFunc func(ctx context.Context, c *domain.Credential) (*domain.CachedToken, error)

// Cache wraps a credential.Store with a per-credential singleflight group so
// concurrent requests against the same expired token collapse into one
// refresh (§4.2).
type Cache struct {
	store   *credential.Store
	group   singleflight.Group
	refresh map[domain.CredentialKind]RefreshFunc
}

// New creates a Cache backed by store. Register per-kind refreshers with
// RegisterRefresher before calling GetValidToken.
func New(store *credential.Store) *Cache {
	return &Cache{
		store:   store,
		refresh: make(map[domain.CredentialKind]RefreshFunc),
	}
}

// RegisterRefresher wires a provider driver's refresh implementation for a
// given credential kind (§4.9 drivers own the wire shape of their refresh
// call; the cache owns when to call it and how to share the result).
func (c *Cache) RegisterRefresher(kind domain.CredentialKind, fn RefreshFunc) {
	c.refresh[kind] = fn
}

// GetValidToken returns a token guaranteed valid as of now, refreshing and
// persisting to the store if necessary. Concurrent calls for the same
// credential share one in-flight refresh (§4.2).
func (c *Cache) GetValidToken(ctx context.Context, cred *domain.Credential) (*domain.CachedToken, error) {
	now := time.Now()
	if cred.CachedToken != nil && !cred.CachedToken.NeedsRefresh(now) {
		return cred.CachedToken, nil
	}

	fn, ok := c.refresh[cred.Kind]
	if !ok {
		return nil, domain.NewProxyErrorWithMessage(domain.ErrTokenRefreshFailed, nil, false,
			fmt.Sprintf("no refresher registered for credential kind %s", cred.Kind))
	}

	v, err, _ := c.group.Do(cred.UUID, func() (any, error) {
		// Re-check inside the single-flight section: another goroutine may
		// have refreshed while we were waiting to enter it.
		latest := c.store.GetByUUID(cred.UUID)
		if latest == nil {
			latest = cred
		}
		if latest.CachedToken != nil && !latest.CachedToken.NeedsRefresh(time.Now()) {
			return latest.CachedToken, nil
		}

		log.Printf("[TokenCache] refreshing token for credential %s (kind=%s)", cred.UUID, cred.Kind)
		tok, rerr := fn(ctx, latest)
		if rerr != nil {
			c.recordRefreshFailure(latest, rerr)
			return nil, rerr
		}
		c.recordRefreshSuccess(latest, tok)
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.CachedToken), nil
}

func (c *Cache) recordRefreshSuccess(cred *domain.Credential, tok *domain.CachedToken) {
	now := time.Now()
	tok.LastRefresh = &now
	tok.RefreshErrorCount = 0
	tok.LastError = ""
	cred.CachedToken = tok
	if err := c.store.Update(cred); err != nil {
		log.Printf("[TokenCache] failed to persist refreshed token for %s: %v", cred.UUID, err)
	}
}

func (c *Cache) recordRefreshFailure(cred *domain.Credential, err error) {
	if cred.CachedToken == nil {
		cred.CachedToken = &domain.CachedToken{}
	}
	cred.CachedToken.RefreshErrorCount++
	cred.CachedToken.LastError = err.Error()
	if uerr := c.store.Update(cred); uerr != nil {
		log.Printf("[TokenCache] failed to persist refresh failure for %s: %v", cred.UUID, uerr)
	}
	log.Printf("[TokenCache] refresh failed for %s: %v", cred.UUID, err)
}

// Invalidate forces the next GetValidToken call for cred to refresh rather
// than reuse the cached token, even if it hasn't expired yet. Used by the
// pipeline's forced-refresh retry on a 401/403 from an OAuth-backed driver
// (§4.10 step 10): the cached token may still look unexpired by clock but
// the upstream has already rejected it.
func (c *Cache) Invalidate(cred *domain.Credential) {
	latest := c.store.GetByUUID(cred.UUID)
	if latest == nil {
		latest = cred
	}
	if latest.CachedToken != nil {
		expired := time.Unix(0, 0)
		latest.CachedToken.Expiry = &expired
	}
}

// ExpiryFromJWT extracts the unverified "exp" claim from a JWT access token.
// The refreshers registered in this repository set the expiry from the
// refresh response's expires_in and do not call it. The token's signature is never checked here; the cache only needs the
// claimed expiry, not authentication — the upstream already authenticated it.
func ExpiryFromJWT(accessToken string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(accessToken, claims)
	if err != nil {
		return time.Time{}, false
	}
	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(expFloat), 0), true
}
