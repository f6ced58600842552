// Package eventstream implements the Kiro/CodeWhisperer event-stream parser
// (C7): the wire payload interleaves binary AWS-EventStream framing with
// embedded JSON objects, so rather than decode the binary frame format this
// scans for known JSON-object discriminators and extracts each object by
// brace-balanced, string-aware scanning. Ported algorithmically from
// parse_cw_response/extract_json_from_bytes/find_subsequence in the original
// server.rs; package shape (single exported Parse entrypoint, internal
// helpers) follows the teacher's adapter/provider/kiro parser files.
package eventstream

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/sicyuan404/proxycast/internal/domain"
	"github.com/sicyuan404/proxycast/internal/jsonutil"
)

// jsonPatterns are the discriminator byte sequences that mark the start of
// a JSON object embedded in the binary stream, checked in the original's
// fixed order (content before name/input/stop, metering/context last).
var jsonPatterns = [][]byte{
	[]byte(`{"content":`),
	[]byte(`{"name":`),
	[]byte(`{"input":`),
	[]byte(`{"stop":`),
	[]byte(`{"followupPrompt":`),
	[]byte(`{"toolUseId":`),
	[]byte(`{"unit":`),
	[]byte(`{"contextUsagePercentage":`),
}

type toolAccum struct {
	name  string
	input strings.Builder
}

// Parse scans body for embedded JSON event objects and assembles the
// normalized response: streamed content, completed (and any still-open)
// tool calls, metering usage, and context-window usage (§4.7).
func Parse(body []byte) domain.ParsedUpstreamResponse {
	var result domain.ParsedUpstreamResponse
	var content strings.Builder
	toolOrder := make([]string, 0)
	tools := make(map[string]*toolAccum)

	pos := 0
	for pos < len(body) {
		start := nextPatternStart(body, pos)
		if start < 0 {
			break
		}

		jsonStr := extractJSONObject(body[start:])
		if jsonStr == "" {
			pos = start + 1
			continue
		}

		var event map[string]any
		if err := jsonutil.UnmarshalSafe([]byte(jsonStr), &event); err == nil {
			applyEvent(event, &content, &result, tools, &toolOrder)
		}
		pos = start + len(jsonStr)
	}

	// Tool calls that never received a stop event are still surfaced —
	// the upstream connection may have ended mid-call.
	for _, id := range toolOrder {
		acc := tools[id]
		if acc == nil || acc.name == "" {
			continue
		}
		result.ToolCalls = append(result.ToolCalls, domain.ToolCall{
			ID:        id,
			Name:      acc.name,
			Arguments: acc.input.String(),
		})
		delete(tools, id)
	}

	result.Content = content.String()
	parseBracketToolCalls(&result)
	return result
}

func applyEvent(event map[string]any, content *strings.Builder, result *domain.ParsedUpstreamResponse, tools map[string]*toolAccum, toolOrder *[]string) {
	if c, ok := event["content"].(string); ok {
		if _, hasFollowup := event["followupPrompt"]; !hasFollowup {
			content.WriteString(c)
		}
		return
	}

	if toolUseID, ok := event["toolUseId"].(string); ok {
		acc, exists := tools[toolUseID]
		if !exists {
			acc = &toolAccum{}
			tools[toolUseID] = acc
			*toolOrder = append(*toolOrder, toolUseID)
		}
		if name, ok := event["name"].(string); ok && name != "" {
			acc.name = name
		}
		if input, ok := event["input"].(string); ok {
			acc.input.WriteString(input)
		}
		isStop, _ := event["stop"].(bool)
		if isStop {
			if acc.name != "" {
				result.ToolCalls = append(result.ToolCalls, domain.ToolCall{
					ID:        toolUseID,
					Name:      acc.name,
					Arguments: acc.input.String(),
				})
			}
			delete(tools, toolUseID)
		}
		return
	}

	if usage, ok := event["usage"].(float64); ok {
		result.UsageCredits = usage
		return
	}

	if ctxUsage, ok := event["contextUsagePercentage"].(float64); ok {
		result.ContextUsagePercentage = ctxUsage
	}
}

func nextPatternStart(body []byte, from int) int {
	best := -1
	for _, pattern := range jsonPatterns {
		if idx := bytes.Index(body[from:], pattern); idx >= 0 {
			abs := from + idx
			if best == -1 || abs < best {
				best = abs
			}
		}
	}
	return best
}

// extractJSONObject performs a brace-balanced, string/escape-aware scan
// starting at body[0] (which must be '{') and returns the matched object as
// a string, or "" if the object never closes.
func extractJSONObject(body []byte) string {
	if len(body) == 0 || body[0] != '{' {
		return ""
	}

	braceCount := 0
	inString := false
	escapeNext := false

	for i, b := range body {
		if escapeNext {
			escapeNext = false
			continue
		}
		switch {
		case b == '\\' && inString:
			escapeNext = true
		case b == '"':
			inString = !inString
		case b == '{' && !inString:
			braceCount++
		case b == '}' && !inString:
			braceCount--
			if braceCount == 0 {
				return string(body[:i+1])
			}
		}
	}
	return ""
}

// bracketToolCallPattern matches "[Called name with args: {...}]",
// tolerating one level of nested braces in the argument object.
var bracketToolCallPattern = regexp.MustCompile(`\[Called\s+(\w+)\s+with\s+args:\s*(\{[^}]*(?:\{[^}]*\}[^}]*)*\})\]`)

// parseBracketToolCalls extracts bracket-form tool calls embedded in the
// already-assembled content string — independent of the discriminator scan
// above, since this form is produced by the model's own text output rather
// than a structured event (§4 SUPPLEMENTED FEATURES).
func parseBracketToolCalls(result *domain.ParsedUpstreamResponse) {
	matches := bracketToolCallPattern.FindAllStringSubmatchIndex(result.Content, -1)
	if len(matches) == 0 {
		return
	}

	var toRemove []string
	for _, m := range matches {
		name := result.Content[m[2]:m[3]]
		args := result.Content[m[4]:m[5]]
		full := result.Content[m[0]:m[1]]

		result.ToolCalls = append(result.ToolCalls, domain.ToolCall{
			ID:        fmt.Sprintf("call_%s", strings.ReplaceAll(uuid.New().String(), "-", "")[:8]),
			Name:      name,
			Arguments: args,
		})
		toRemove = append(toRemove, full)
	}

	content := result.Content
	for _, s := range toRemove {
		if strings.Contains(content, " "+s+" ") {
			s = " " + s
		}
		content = strings.Replace(content, s, "", 1)
	}
	result.Content = strings.TrimSpace(content)
}
