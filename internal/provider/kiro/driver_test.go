package kiro

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sicyuan404/proxycast/internal/convert"
)

func TestMapModelFallsBackToDefault(t *testing.T) {
	assert.Equal(t, "CLAUDE_SONNET_4_5_20250929_V1_0", mapModel("unknown-model", nil))
	assert.Equal(t, "CLAUDE_3_5_HAIKU_20241022_V1_0", mapModel("claude-3-5-haiku-20241022", nil))
}

func TestMapModelUsesOverride(t *testing.T) {
	override := map[string]string{"claude-3-5-haiku-20241022": "CUSTOM_MODEL_V1"}
	assert.Equal(t, "CUSTOM_MODEL_V1", mapModel("claude-3-5-haiku-20241022", override))
}

func TestConversationIDForIsStableForSameSession(t *testing.T) {
	a := conversationIDFor("session-1")
	b := conversationIDFor("session-1")
	assert.Equal(t, a, b)

	c := conversationIDFor("session-2")
	assert.NotEqual(t, a, c)
}

func TestBuildCodeWhispererRequestFlattensMessages(t *testing.T) {
	req := &convert.AnthropicRequest{
		Model: "claude-sonnet-4-5-20250929",
		Messages: []convert.AnthropicMessage{
			{Role: "user", Content: "hello there"},
			{Role: "assistant", Content: "hi"},
		},
	}
	cw := buildCodeWhispererRequest(req, "CLAUDE_SONNET_4_5_20250929_V1_0", "conv-1")
	assert.Contains(t, cw.ConversationState.CurrentMessage.UserInputMessage.Content, "hello there")
	assert.Equal(t, "CLAUDE_SONNET_4_5_20250929_V1_0", cw.ConversationState.CurrentMessage.UserInputMessage.ModelID)
	assert.Equal(t, "conv-1", cw.ConversationState.ConversationID)
}

func TestBuildCodeWhispererRequestDefaultsEmptyContent(t *testing.T) {
	req := &convert.AnthropicRequest{Model: "claude-sonnet-4-5-20250929"}
	cw := buildCodeWhispererRequest(req, "CLAUDE_SONNET_4_5_20250929_V1_0", "conv-2")
	assert.Equal(t, "continue", cw.ConversationState.CurrentMessage.UserInputMessage.Content)
}
