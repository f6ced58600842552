package antigravity

import "encoding/json"

// v1InternalRequest is the envelope Antigravity's v1internal endpoint wraps
// every Gemini-shaped request in: a project handle, the requested model,
// and a session ID threaded through for server-side conversation grouping.
type v1InternalRequest struct {
	Project string          `json:"project"`
	Model   string          `json:"model"`
	Request json.RawMessage `json:"request"`
	Session string          `json:"session_id,omitempty"`
}

// v1InternalResponse is the envelope a v1internal response arrives in; the
// actual Gemini response shape is nested under "response".
type v1InternalResponse struct {
	Response json.RawMessage `json:"response"`
}

func wrapV1Internal(geminiBody []byte, projectID, model, sessionID string) ([]byte, error) {
	return json.Marshal(v1InternalRequest{
		Project: projectID, Model: model, Request: geminiBody, Session: sessionID,
	})
}

// unwrapV1Internal unwraps a buffered, non-streaming v1internal response
// back to the plain Gemini shape the convert bridges expect. Responses that
// don't carry the envelope (e.g. an error body) pass through unchanged.
func unwrapV1Internal(body []byte) []byte {
	var env v1InternalResponse
	if err := json.Unmarshal(body, &env); err != nil || len(env.Response) == 0 {
		return body
	}
	return env.Response
}

// unwrapV1InternalChunk unwraps a single SSE "data: {...}" line carrying a
// v1internal envelope back to a plain Gemini SSE line. Non-JSON or
// non-enveloped lines (blank lines, "event:" lines) pass through unchanged.
func unwrapV1InternalChunk(chunk []byte) []byte {
	const prefix = "data: "
	trimmed := chunk
	hasPrefix := len(chunk) >= len(prefix) && string(chunk[:len(prefix)]) == prefix
	if hasPrefix {
		trimmed = chunk[len(prefix):]
	}

	var env v1InternalResponse
	if err := json.Unmarshal(trimmed, &env); err != nil || len(env.Response) == 0 {
		return chunk
	}

	if hasPrefix {
		return append([]byte(prefix), env.Response...)
	}
	return env.Response
}
