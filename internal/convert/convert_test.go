package convert

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicyuan404/proxycast/internal/domain"
)

func TestTransformRequestAnthropicToOpenAI(t *testing.T) {
	body := []byte(`{"model":"claude-3","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`)
	out, err := TransformRequest(domain.FormatAnthropic, domain.FormatOpenAI, body, "gpt-4o", false)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"model":"gpt-4o"`)
	assert.Contains(t, string(out), `"hi"`)
}

func TestTransformRequestIdentityPassthrough(t *testing.T) {
	body := []byte(`{"model":"gpt-4o"}`)
	out, err := TransformRequest(domain.FormatOpenAI, domain.FormatOpenAI, body, "gpt-4o", false)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestTransformRequestUnknownPairErrors(t *testing.T) {
	_, err := TransformRequest(domain.ClientFormat("bogus"), domain.FormatOpenAI, []byte(`{}`), "m", false)
	require.Error(t, err)
}

func TestTransformResponseOpenAIToAnthropicMapsToolCalls(t *testing.T) {
	body := []byte(`{"id":"c1","choices":[{"message":{"role":"assistant","tool_calls":[{"id":"t1","type":"function","function":{"name":"search","arguments":"{\"q\":\"go\"}"}}]},"finish_reason":"tool_calls"}]}`)
	out, err := TransformResponse(domain.FormatOpenAI, domain.FormatAnthropic, body)
	require.NoError(t, err)

	var resp AnthropicResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "search", resp.Content[0].Name)
}

func TestTransformChunkOpenAIToAnthropicSynthesizesMessageStart(t *testing.T) {
	state := NewTransformState()
	chunk := []byte("data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"hi\"}}]}\n\n")
	out, err := TransformChunk(domain.FormatOpenAI, domain.FormatAnthropic, chunk, state)
	require.NoError(t, err)
	assert.Contains(t, string(out), "message_start")
	assert.Contains(t, string(out), "content_block_delta")
}

func TestSynthesizeAnthropicSSEProducesFullSequence(t *testing.T) {
	resp := &AnthropicResponse{
		ID: "msg_1", Model: "claude-3", StopReason: "end_turn",
		Content: []AnthropicContentBlock{{Type: "text", Text: "hello"}},
		Usage:   AnthropicUsage{InputTokens: 5, OutputTokens: 2},
	}
	out := SynthesizeAnthropicSSE(resp)
	s := string(out)

	order := []string{
		"event: message_start",
		"event: content_block_start",
		"event: content_block_delta",
		"event: content_block_stop",
		"event: message_delta",
		"event: message_stop",
	}
	prev := -1
	for _, ev := range order {
		idx := strings.Index(s, ev)
		require.Greater(t, idx, prev, "expected %q to appear after the preceding event", ev)
		prev = idx
	}

	assert.Contains(t, s, `"input_tokens":5`)
	assert.Contains(t, s, `"output_tokens":2`)
	assert.Contains(t, s, `"text_delta"`)
	assert.Contains(t, s, `"hello"`)
}

func TestSynthesizeAnthropicSSEEmitsEmptyTextTripletForToolOnlyResponse(t *testing.T) {
	resp := &AnthropicResponse{
		ID: "msg_2", Model: "claude-3", StopReason: "tool_use",
		Content: []AnthropicContentBlock{
			{Type: "text", Text: ""},
			{Type: "tool_use", ID: "t1", Name: "search", RawInput: `{"q":"go"}`},
		},
		Usage: AnthropicUsage{InputTokens: 10, OutputTokens: 4},
	}
	out := SynthesizeAnthropicSSE(resp)
	s := string(out)

	// The empty text block still gets its full start/delta/stop triplet, so
	// the client always sees at least one content block.
	firstStop := strings.Index(s, "event: content_block_stop")
	firstToolStart := strings.Index(s, `"tool_use"`)
	require.Greater(t, firstToolStart, -1)
	require.Greater(t, firstStop, -1)
	assert.Less(t, firstStop, firstToolStart, "the empty text block's stop must precede the tool_use block")
	assert.Contains(t, s, "text_delta", "a text_delta is emitted even for empty text")

	// The tool call's raw argument text is carried verbatim as partial_json,
	// not re-marshaled through the already-parsed Input map.
	assert.Contains(t, s, `"partial_json":"{\"q\":\"go\"}"`)
}

func TestParseSSESplitsEventsAndCarriesPartialRemainder(t *testing.T) {
	events, remaining := ParseSSE("data: {\"a\":1}\n\ndata: {\"b")
	require.Len(t, events, 1)
	assert.Equal(t, `data: {"b`, remaining)
}

func TestIsSSEDetectsEventStreamPrefix(t *testing.T) {
	assert.True(t, IsSSE("event: message_start\ndata: {}\n\n"))
	assert.False(t, IsSSE(`{"plain":"json"}`))
}
