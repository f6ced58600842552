package inject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicyuan404/proxycast/internal/domain"
)

func TestApplyMergesMatchingRuleOnly(t *testing.T) {
	i := New()
	i.SetRules([]domain.InjectionRule{
		{MatchModelGlob: "gpt-*", JSONPatch: map[string]any{"temperature": 0.2}, Priority: 1, Enabled: true},
		{MatchModelGlob: "claude-*", JSONPatch: map[string]any{"temperature": 0.9}, Priority: 1, Enabled: true},
	})

	body := map[string]any{"model": "gpt-4o"}
	result, applied := i.Apply("gpt-4o", body)
	assert.Equal(t, 0.2, result["temperature"])
	require.Len(t, applied, 1)
	assert.Equal(t, "gpt-*", applied[0])
}

func TestApplyRunsInPriorityOrderAndLaterWins(t *testing.T) {
	i := New()
	i.SetRules([]domain.InjectionRule{
		{MatchModelGlob: "*", JSONPatch: map[string]any{"max_tokens": 1000}, Priority: 2, Enabled: true},
		{MatchModelGlob: "*", JSONPatch: map[string]any{"max_tokens": 4000}, Priority: 1, Enabled: true},
	})

	body := map[string]any{}
	result, applied := i.Apply("any-model", body)
	assert.Equal(t, 1000, result["max_tokens"], "priority 2 rule applies last and should win")
	assert.Len(t, applied, 2)
}

func TestApplySkipsDisabledRules(t *testing.T) {
	i := New()
	i.SetRules([]domain.InjectionRule{
		{MatchModelGlob: "*", JSONPatch: map[string]any{"foo": "bar"}, Priority: 1, Enabled: false},
	})
	body := map[string]any{}
	_, applied := i.Apply("model", body)
	assert.Empty(t, applied)
	assert.NotContains(t, body, "foo")
}

func TestDeepMergeNestedMaps(t *testing.T) {
	dst := map[string]any{
		"generationConfig": map[string]any{
			"temperature": 0.5,
			"topK":        40,
		},
	}
	src := map[string]any{
		"generationConfig": map[string]any{
			"temperature": 1.0,
		},
	}
	deepMerge(dst, src)
	gc := dst["generationConfig"].(map[string]any)
	assert.Equal(t, 1.0, gc["temperature"])
	assert.Equal(t, 40, gc["topK"], "unrelated nested keys must survive the merge")
}

func TestDeepMergeNilDeletesKey(t *testing.T) {
	dst := map[string]any{"tool_choice": "auto"}
	src := map[string]any{"tool_choice": nil}
	deepMerge(dst, src)
	assert.NotContains(t, dst, "tool_choice")
}

func TestMatchGlobPatterns(t *testing.T) {
	assert.True(t, matchGlob("*", "anything"))
	assert.True(t, matchGlob("gpt-*", "gpt-4o"))
	assert.True(t, matchGlob("*-mini", "gpt-4o-mini"))
	assert.True(t, matchGlob("*opus*", "claude-3-opus-latest"))
	assert.False(t, matchGlob("gpt-*", "claude-3"))
}
