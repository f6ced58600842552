package eventstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssemblesContentSkippingFollowup(t *testing.T) {
	body := []byte(`{"content":"Hello, "}{"content":"world"}{"content":"ignored","followupPrompt":"x"}`)
	result := Parse(body)
	assert.Equal(t, "Hello, world", result.Content)
}

func TestParseAssemblesToolCallAcrossChunksUntilStop(t *testing.T) {
	body := []byte(`{"toolUseId":"t1","name":"search"}{"toolUseId":"t1","input":"{\"q\":"}{"toolUseId":"t1","input":"\"go\"}"}{"toolUseId":"t1","stop":true}`)
	result := Parse(body)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "t1", result.ToolCalls[0].ID)
	assert.Equal(t, "search", result.ToolCalls[0].Name)
	assert.Equal(t, `{"q":"go"}`, result.ToolCalls[0].Arguments)
}

func TestParseSurfacesUnterminatedToolCall(t *testing.T) {
	body := []byte(`{"toolUseId":"t2","name":"lookup","input":"partial"}`)
	result := Parse(body)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "lookup", result.ToolCalls[0].Name)
	assert.Equal(t, "partial", result.ToolCalls[0].Arguments)
}

func TestParseMultipleConcurrentToolCalls(t *testing.T) {
	body := []byte(`{"toolUseId":"a","name":"fn_a","input":"1"}{"toolUseId":"b","name":"fn_b","input":"2"}{"toolUseId":"a","stop":true}{"toolUseId":"b","stop":true}`)
	result := Parse(body)
	require.Len(t, result.ToolCalls, 2)
	byID := map[string]string{result.ToolCalls[0].ID: result.ToolCalls[0].Name, result.ToolCalls[1].ID: result.ToolCalls[1].Name}
	assert.Equal(t, "fn_a", byID["a"])
	assert.Equal(t, "fn_b", byID["b"])
}

func TestParseMeteringAndContextUsageEvents(t *testing.T) {
	body := []byte(`{"unit":"credit","unitPlural":"credits","usage":0.34}{"contextUsagePercentage":54.36}`)
	result := Parse(body)
	assert.Equal(t, 0.34, result.UsageCredits)
	assert.Equal(t, 54.36, result.ContextUsagePercentage)
}

func TestParseBracketFormToolCall(t *testing.T) {
	body := []byte(`{"content":"Let me check. [Called get_weather with args: {\"city\": \"NYC\"}] Done."}`)
	result := Parse(body)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "get_weather", result.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city": "NYC"}`, result.ToolCalls[0].Arguments)
	assert.Equal(t, "Let me check. Done.", result.Content)
}

func TestExtractJSONObjectHandlesEscapedQuotesAndNesting(t *testing.T) {
	got := extractJSONObject([]byte(`{"a":"b\"c","d":{"e":1}}trailing`))
	assert.Equal(t, `{"a":"b\"c","d":{"e":1}}`, got)
}

func TestExtractJSONObjectReturnsEmptyWhenUnterminated(t *testing.T) {
	got := extractJSONObject([]byte(`{"a":"b"`))
	assert.Empty(t, got)
}

func TestExtractJSONObjectRejectsNonBraceStart(t *testing.T) {
	assert.Empty(t, extractJSONObject([]byte(`not json`)))
}

func TestParseIgnoresBinaryNoiseBetweenObjects(t *testing.T) {
	body := append([]byte{0x00, 0x01, 0xFF}, []byte(`{"content":"ok"}`)...)
	body = append(body, []byte{0x02, 0x03}...)
	result := Parse(body)
	assert.Equal(t, "ok", result.Content)
}
