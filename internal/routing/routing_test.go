package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicyuan404/proxycast/internal/domain"
)

func TestResolveAliasFallsBackToOriginal(t *testing.T) {
	r := New()
	r.SetAliases(map[string]string{"gpt-latest": "gpt-5-codex"})
	assert.Equal(t, "gpt-5-codex", r.ResolveAlias("gpt-latest"))
	assert.Equal(t, "claude-opus", r.ResolveAlias("claude-opus"))
}

func TestMatchPicksHighestPriorityEnabledRule(t *testing.T) {
	r := New()
	r.SetRules([]domain.RoutingRule{
		{Pattern: "claude-*", TargetProvider: domain.KindClaudeKey, Priority: 10, Enabled: true},
		{Pattern: "claude-opus*", TargetProvider: domain.KindClaudeOAuth, Priority: 1, Enabled: true},
	})

	target, err := r.Match("claude-opus-4")
	require.NoError(t, err)
	assert.Equal(t, domain.KindClaudeOAuth, target)
}

func TestMatchSkipsDisabledRules(t *testing.T) {
	r := New()
	r.SetRules([]domain.RoutingRule{
		{Pattern: "gemini-*", TargetProvider: domain.KindGeminiOAuth, Priority: 1, Enabled: false},
		{Pattern: "gemini-*", TargetProvider: domain.KindGeminiAPIKey, Priority: 2, Enabled: true},
	})

	target, err := r.Match("gemini-pro")
	require.NoError(t, err)
	assert.Equal(t, domain.KindGeminiAPIKey, target)
}

func TestMatchReturnsErrNoRouteWhenNothingMatches(t *testing.T) {
	r := New()
	r.SetRules([]domain.RoutingRule{
		{Pattern: "qwen-*", TargetProvider: domain.KindQwenOAuth, Priority: 1, Enabled: true},
	})
	_, err := r.Match("gpt-4")
	require.Error(t, err)
	var perr *domain.ProxyError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.ErrNoRoute, perr.Kind)
}

func TestResolveCombinesAliasAndMatch(t *testing.T) {
	r := New()
	r.SetAliases(map[string]string{"fast": "kiro-sonnet"})
	r.SetRules([]domain.RoutingRule{
		{Pattern: "kiro-*", TargetProvider: domain.KindKiroOAuth, Priority: 1, Enabled: true},
	})

	resolved, target, err := r.Resolve("fast")
	require.NoError(t, err)
	assert.Equal(t, "kiro-sonnet", resolved)
	assert.Equal(t, domain.KindKiroOAuth, target)
}

func TestRoutesIncludesImplicitDefault(t *testing.T) {
	r := New()
	r.SetRules([]domain.RoutingRule{
		{Pattern: "claude-*", TargetProvider: domain.KindClaudeKey, Priority: 1, Enabled: true},
	})
	routes := r.Routes(domain.KindKiroOAuth)
	require.Len(t, routes, 2)
	last := routes[len(routes)-1]
	assert.Equal(t, "*", last.Pattern)
	assert.Equal(t, domain.KindKiroOAuth, last.TargetProvider)
}

func TestGlobMatchWildcardForms(t *testing.T) {
	assert.True(t, globMatch("*", "anything"))
	assert.True(t, globMatch("gpt-*", "gpt-4o"))
	assert.True(t, globMatch("*-mini", "gpt-4o-mini"))
	assert.False(t, globMatch("gpt-*", "claude-3"))
}
