package antigravity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapV1InternalRoundTrips(t *testing.T) {
	out, err := wrapV1Internal([]byte(`{"contents":[]}`), "proj-1", "gemini-2.5-pro", "sess-1")
	require.NoError(t, err)

	var env v1InternalRequest
	require.NoError(t, json.Unmarshal(out, &env))
	assert.Equal(t, "proj-1", env.Project)
	assert.Equal(t, "gemini-2.5-pro", env.Model)
	assert.Equal(t, "sess-1", env.Session)
	assert.JSONEq(t, `{"contents":[]}`, string(env.Request))
}

func TestUnwrapV1InternalExtractsNestedResponse(t *testing.T) {
	body := []byte(`{"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}}`)
	out := unwrapV1Internal(body)
	assert.JSONEq(t, `{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`, string(out))
}

func TestUnwrapV1InternalPassesThroughNonEnvelope(t *testing.T) {
	body := []byte(`{"error":"bad request"}`)
	out := unwrapV1Internal(body)
	assert.Equal(t, body, out)
}

func TestUnwrapV1InternalChunkPreservesSSEPrefix(t *testing.T) {
	chunk := []byte(`data: {"response":{"candidates":[]}}`)
	out := unwrapV1InternalChunk(chunk)
	assert.Equal(t, `data: {"candidates":[]}`, string(out))
}
