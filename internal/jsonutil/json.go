// Package jsonutil centralizes the sonic JSON codec choice for the HTTP
// layer's request decoding, the pipeline's body re-encoding, credential
// persistence and event-stream decoding (format conversion and the provider
// drivers use encoding/json), mirroring the Kiro adapter's own json_helpers.go in spirit: a
// fast config for the common case, a stricter one when validation matters.
package jsonutil

import "github.com/bytedance/sonic"

var (
	fastest = sonic.ConfigFastest
	safe    = sonic.ConfigStd
)

// Marshal uses the fastest available configuration for hot paths.
func Marshal(v any) ([]byte, error) {
	return fastest.Marshal(v)
}

// Unmarshal uses the fastest available configuration for hot paths.
func Unmarshal(data []byte, v any) error {
	return fastest.Unmarshal(data, v)
}

// MarshalSafe validates more strictly, so a malformed payload fails clearly
// rather than being accepted permissively.
func MarshalSafe(v any) ([]byte, error) {
	return safe.Marshal(v)
}

// UnmarshalSafe validates more strictly; the event-stream parser uses it to
// decode upstream event objects.
func UnmarshalSafe(data []byte, v any) error {
	return safe.Unmarshal(data, v)
}

// MarshalIndent produces human-readable, indented output.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return safe.MarshalIndent(v, prefix, indent)
}
