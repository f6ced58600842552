package convert

import (
	"encoding/json"
	"strings"
)

// SSEEvent is one parsed server-sent event.
type SSEEvent struct {
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseSSE splits text into complete SSE events plus whatever trailing
// partial line should be carried into the next chunk's buffer.
func ParseSSE(text string) ([]SSEEvent, string) {
	var events []SSEEvent
	lines := strings.Split(text, "\n")

	var currentEvent string
	var currentData []string
	var remaining strings.Builder

	for i, line := range lines {
		if i == len(lines)-1 && line != "" && !strings.HasSuffix(text, "\n") {
			remaining.WriteString(line)
			break
		}

		line = strings.TrimSpace(line)

		if line == "" {
			if len(currentData) > 0 {
				dataStr := strings.Join(currentData, "\n")
				if dataStr == "[DONE]" {
					events = append(events, SSEEvent{Event: "done"})
				} else {
					var rawData json.RawMessage
					if json.Unmarshal([]byte(dataStr), &rawData) == nil {
						events = append(events, SSEEvent{Event: currentEvent, Data: rawData})
					}
				}
			}
			currentEvent = ""
			currentData = nil
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = append(currentData, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	return events, remaining.String()
}

// IsSSE reports whether text looks like an SSE stream rather than a plain
// JSON body.
func IsSSE(text string) bool {
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "data:")
	}
	return false
}

// FormatSSE renders event/data as a wire-ready SSE frame.
func FormatSSE(event string, data interface{}) []byte {
	var sb strings.Builder
	if event != "" {
		sb.WriteString("event: ")
		sb.WriteString(event)
		sb.WriteString("\n")
	}

	var dataBytes []byte
	switch v := data.(type) {
	case []byte:
		dataBytes = v
	case string:
		dataBytes = []byte(v)
	default:
		dataBytes, _ = json.Marshal(v)
	}

	sb.WriteString("data: ")
	sb.Write(dataBytes)
	sb.WriteString("\n\n")

	return []byte(sb.String())
}

// FormatDone returns the OpenAI-style [DONE] sentinel frame.
func FormatDone() []byte {
	return []byte("data: [DONE]\n\n")
}
