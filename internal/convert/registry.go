// Package convert implements C8, the bidirectional format bridge between
// the three client wire protocols the gateway speaks (OpenAI, Anthropic,
// Gemini): translating an inbound request into whatever format the selected
// provider expects, and translating that provider's response — or SSE
// stream — back into the format the client asked for. Structured after the
// teacher's converter package: one pair of request/response transformers
// per format pair, self-registering into a shared registry so the pipeline
// only ever deals in domain.ClientFormat values.
package convert

import (
	"fmt"

	"github.com/sicyuan404/proxycast/internal/domain"
)

// RequestTransformer rewrites a client request body (already in the
// client's wire format) into the target provider's wire format.
type RequestTransformer interface {
	Transform(body []byte, model string, stream bool) ([]byte, error)
}

// ResponseTransformer rewrites a provider response back into the client's
// wire format, for both the whole-body and the streaming-chunk cases.
type ResponseTransformer interface {
	Transform(body []byte) ([]byte, error)
	TransformChunk(chunk []byte, state *TransformState) ([]byte, error)
}

type formatPair struct {
	from domain.ClientFormat
	to   domain.ClientFormat
}

type converterEntry struct {
	request  RequestTransformer
	response ResponseTransformer
}

var registry = make(map[formatPair]converterEntry)

// RegisterConverter installs the transformer pair responsible for bridging
// from one client format to another. Called from each bridge file's init().
func RegisterConverter(from, to domain.ClientFormat, req RequestTransformer, resp ResponseTransformer) {
	registry[formatPair{from, to}] = converterEntry{request: req, response: resp}
}

func lookup(from, to domain.ClientFormat) (converterEntry, error) {
	if from == to {
		return converterEntry{request: identityRequest{}, response: identityResponse{}}, nil
	}
	entry, ok := registry[formatPair{from, to}]
	if !ok {
		return converterEntry{}, fmt.Errorf("convert: no bridge registered from %s to %s", from, to)
	}
	return entry, nil
}

// TransformRequest rewrites body from the client's format into the
// provider's format. A same-format pair is a no-op passthrough.
func TransformRequest(from, to domain.ClientFormat, body []byte, model string, stream bool) ([]byte, error) {
	entry, err := lookup(from, to)
	if err != nil {
		return nil, err
	}
	return entry.request.Transform(body, model, stream)
}

// TransformResponse rewrites a complete (non-streaming) provider response
// from the provider's format back into the client's format.
func TransformResponse(providerFormat, clientFormat domain.ClientFormat, body []byte) ([]byte, error) {
	entry, err := lookup(providerFormat, clientFormat)
	if err != nil {
		return nil, err
	}
	return entry.response.Transform(body)
}

// TransformChunk rewrites one streamed chunk of a provider response,
// accumulating cross-chunk state in state.
func TransformChunk(providerFormat, clientFormat domain.ClientFormat, chunk []byte, state *TransformState) ([]byte, error) {
	entry, err := lookup(providerFormat, clientFormat)
	if err != nil {
		return nil, err
	}
	return entry.response.TransformChunk(chunk, state)
}

type identityRequest struct{}

func (identityRequest) Transform(body []byte, model string, stream bool) ([]byte, error) {
	return body, nil
}

type identityResponse struct{}

func (identityResponse) Transform(body []byte) ([]byte, error) { return body, nil }

func (identityResponse) TransformChunk(chunk []byte, state *TransformState) ([]byte, error) {
	return chunk, nil
}
