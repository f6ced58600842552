package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicyuan404/proxycast/internal/domain"
)

func newCred(uuid string) *domain.Credential {
	return &domain.Credential{
		UUID:      uuid,
		Kind:      domain.KindKiroOAuth,
		Name:      "test-" + uuid,
		IsHealthy: true,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := New(nil)
	c := newCred("u1")
	require.NoError(t, s.Insert(c))

	got := s.GetByUUID("u1")
	require.NotNil(t, got)
	assert.Equal(t, "test-u1", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	assert.Equal(t, got, s.GetByName("test-u1"))
	assert.Nil(t, s.GetByUUID("missing"))
}

func TestMarkUnhealthyFlipsAtThreshold(t *testing.T) {
	s := New(nil)
	c := newCred("u2")
	require.NoError(t, s.Insert(c))

	for i := 0; i < domain.MaxCredentialErrors-1; i++ {
		require.NoError(t, s.MarkUnhealthy("u2", "boom"))
		assert.True(t, s.GetByUUID("u2").IsHealthy, "should still be healthy before reaching threshold")
	}
	require.NoError(t, s.MarkUnhealthy("u2", "boom"))
	assert.False(t, s.GetByUUID("u2").IsHealthy)
	assert.Equal(t, domain.MaxCredentialErrors, s.GetByUUID("u2").ErrorCount)
}

func TestMarkHealthyResetsCounters(t *testing.T) {
	s := New(nil)
	c := newCred("u3")
	require.NoError(t, s.Insert(c))
	for i := 0; i < domain.MaxCredentialErrors; i++ {
		require.NoError(t, s.MarkUnhealthy("u3", "err"))
	}
	require.False(t, s.GetByUUID("u3").IsHealthy)

	require.NoError(t, s.MarkHealthy("u3", "gpt-test"))
	got := s.GetByUUID("u3")
	assert.True(t, got.IsHealthy)
	assert.Equal(t, 0, got.ErrorCount)
	assert.Equal(t, "gpt-test", got.CheckPolicy.CheckModel)
	assert.NotNil(t, got.LastHealthCheck)
}

func TestGetByKindAndGroupByKind(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Insert(newCred("u4")))
	other := newCred("u5")
	other.Kind = domain.KindOpenAIKey
	require.NoError(t, s.Insert(other))

	kiro := s.GetByKind(domain.KindKiroOAuth)
	require.Len(t, kiro, 1)
	assert.Equal(t, "u4", kiro[0].UUID)

	grouped := s.GroupByKind()
	assert.Len(t, grouped[domain.KindKiroOAuth], 1)
	assert.Len(t, grouped[domain.KindOpenAIKey], 1)
}

func TestRecordUsageAndResetCounters(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Insert(newCred("u6")))
	require.NoError(t, s.RecordUsage("u6"))
	require.NoError(t, s.RecordUsage("u6"))
	assert.Equal(t, 2, s.GetByUUID("u6").UsageCount)
	require.NotNil(t, s.GetByUUID("u6").LastUsedAt)

	require.NoError(t, s.MarkUnhealthy("u6", "x"))
	require.NoError(t, s.ResetCounters("u6"))
	got := s.GetByUUID("u6")
	assert.Equal(t, 0, got.ErrorCount)
	assert.Equal(t, 0, got.UsageCount)
}

func TestResetHealthByKind(t *testing.T) {
	s := New(nil)
	a := newCred("u7")
	b := newCred("u8")
	require.NoError(t, s.Insert(a))
	require.NoError(t, s.Insert(b))
	for i := 0; i < domain.MaxCredentialErrors; i++ {
		require.NoError(t, s.MarkUnhealthy("u7", "x"))
		require.NoError(t, s.MarkUnhealthy("u8", "x"))
	}
	require.NoError(t, s.ResetHealthByKind(domain.KindKiroOAuth))
	assert.True(t, s.GetByUUID("u7").IsHealthy)
	assert.True(t, s.GetByUUID("u8").IsHealthy)
}

func TestDeleteRemovesFromRegistry(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Insert(newCred("u9")))
	require.NoError(t, s.Delete("u9"))
	assert.Nil(t, s.GetByUUID("u9"))
}

func TestOperationsOnMissingUUIDReturnErrNotFound(t *testing.T) {
	s := New(nil)
	assert.ErrorIs(t, s.MarkHealthy("nope", ""), domain.ErrNotFound)
	assert.ErrorIs(t, s.MarkUnhealthy("nope", ""), domain.ErrNotFound)
	assert.ErrorIs(t, s.RecordUsage("nope"), domain.ErrNotFound)
	assert.ErrorIs(t, s.ResetCounters("nope"), domain.ErrNotFound)
}
