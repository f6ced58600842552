package tokencache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicyuan404/proxycast/internal/credential"
	"github.com/sicyuan404/proxycast/internal/domain"
)

func newExpiredCred(uuid string) *domain.Credential {
	past := time.Now().Add(-time.Hour)
	return &domain.Credential{
		UUID:      uuid,
		Kind:      domain.KindKiroOAuth,
		IsHealthy: true,
		CachedToken: &domain.CachedToken{
			AccessToken: "stale",
			Expiry:      &past,
		},
	}
}

func TestGetValidTokenReturnsCachedWhenFresh(t *testing.T) {
	store := credential.New(nil)
	future := time.Now().Add(time.Hour)
	c := &domain.Credential{
		UUID: "fresh1",
		Kind: domain.KindKiroOAuth,
		CachedToken: &domain.CachedToken{
			AccessToken: "good",
			Expiry:      &future,
		},
	}
	require.NoError(t, store.Insert(c))

	cache := New(store)
	var called int32
	cache.RegisterRefresher(domain.KindKiroOAuth, func(ctx context.Context, cred *domain.Credential) (*domain.CachedToken, error) {
		atomic.AddInt32(&called, 1)
		return &domain.CachedToken{AccessToken: "new"}, nil
	})

	tok, err := cache.GetValidToken(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "good", tok.AccessToken)
	assert.Equal(t, int32(0), atomic.LoadInt32(&called))
}

func TestGetValidTokenCollapsesConcurrentRefreshes(t *testing.T) {
	store := credential.New(nil)
	c := newExpiredCred("concurrent1")
	require.NoError(t, store.Insert(c))

	cache := New(store)
	var calls int32
	release := make(chan struct{})
	cache.RegisterRefresher(domain.KindKiroOAuth, func(ctx context.Context, cred *domain.Credential) (*domain.CachedToken, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		future := time.Now().Add(time.Hour)
		return &domain.CachedToken{AccessToken: "refreshed", Expiry: &future}, nil
	})

	const n = 10
	var wg sync.WaitGroup
	results := make([]*domain.CachedToken, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := cache.GetValidToken(context.Background(), c)
			results[i] = tok
			errs[i] = err
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "exactly one refresh should execute for N concurrent waiters")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "refreshed", results[i].AccessToken)
	}
}

func TestGetValidTokenPropagatesRefreshError(t *testing.T) {
	store := credential.New(nil)
	c := newExpiredCred("fails1")
	require.NoError(t, store.Insert(c))

	cache := New(store)
	cache.RegisterRefresher(domain.KindKiroOAuth, func(ctx context.Context, cred *domain.Credential) (*domain.CachedToken, error) {
		return nil, assert.AnError
	})

	_, err := cache.GetValidToken(context.Background(), c)
	require.Error(t, err)

	got := store.GetByUUID("fails1")
	require.NotNil(t, got.CachedToken)
	assert.Equal(t, 1, got.CachedToken.RefreshErrorCount)
}

func TestExpiryFromJWT(t *testing.T) {
	expiry := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": expiry.Unix(),
	})
	signed, err := tok.SignedString([]byte("irrelevant-since-unverified"))
	require.NoError(t, err)

	got, ok := ExpiryFromJWT(signed)
	require.True(t, ok)
	assert.WithinDuration(t, expiry, got, time.Second)
}

func TestExpiryFromJWTRejectsGarbage(t *testing.T) {
	_, ok := ExpiryFromJWT("not-a-jwt")
	assert.False(t, ok)
}
