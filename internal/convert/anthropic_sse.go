package convert

// SynthesizeAnthropicSSE renders a complete, non-streaming AnthropicResponse
// as the full message_start…message_stop SSE event sequence a streaming
// client expects. The Kiro driver uses it when the client requested
// stream=true: that driver reads the whole upstream event-stream body before
// answering, then replays the buffered response as a single synthetic stream
// rather than forcing the client to handle both a streaming and
// non-streaming Anthropic response shape.
func SynthesizeAnthropicSSE(resp *AnthropicResponse) []byte {
	var output []byte

	msgStart := AnthropicStreamEvent{
		Type: "message_start",
		Message: &AnthropicResponse{
			ID:      resp.ID,
			Type:    "message",
			Role:    "assistant",
			Model:   resp.Model,
			Content: []AnthropicContentBlock{},
			Usage:   AnthropicUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: 0},
		},
	}
	output = append(output, formatAnthropicEvent(msgStart)...)

	for i, block := range resp.Content {
		startBlock := block
		switch block.Type {
		case "tool_use":
			startBlock = AnthropicContentBlock{Type: "tool_use", ID: block.ID, Name: block.Name, Input: map[string]any{}}
		default:
			startBlock.Text = ""
			startBlock.Thinking = ""
		}
		output = append(output, formatAnthropicEvent(AnthropicStreamEvent{Type: "content_block_start", Index: i, ContentBlock: &startBlock})...)

		switch block.Type {
		case "text":
			// Claude Code needs at least one content block, so the text block's
			// start/delta/stop triplet is always sent, even when the text is empty.
			output = append(output, formatAnthropicEvent(AnthropicStreamEvent{
				Type: "content_block_delta", Index: i, Delta: &AnthropicStreamDelta{Type: "text_delta", Text: block.Text},
			})...)
		case "thinking":
			output = append(output, formatAnthropicEvent(AnthropicStreamEvent{
				Type: "content_block_delta", Index: i, Delta: &AnthropicStreamDelta{Type: "thinking_delta", Thinking: block.Thinking},
			})...)
		case "tool_use":
			partialJSON := block.RawInput
			if partialJSON == "" {
				partialJSON = "{}"
			}
			output = append(output, formatAnthropicEvent(AnthropicStreamEvent{
				Type: "content_block_delta", Index: i, Delta: &AnthropicStreamDelta{Type: "input_json_delta", PartialJSON: partialJSON},
			})...)
		}

		output = append(output, formatAnthropicEvent(AnthropicStreamEvent{Type: "content_block_stop", Index: i})...)
	}

	output = append(output, formatAnthropicEvent(AnthropicStreamEvent{
		Type:  "message_delta",
		Delta: &AnthropicStreamDelta{StopReason: resp.StopReason, StopSequence: resp.StopSequence},
		Usage: &AnthropicUsage{OutputTokens: resp.Usage.OutputTokens},
	})...)
	output = append(output, formatAnthropicEvent(AnthropicStreamEvent{Type: "message_stop"})...)

	return output
}

func formatAnthropicEvent(event AnthropicStreamEvent) []byte {
	return FormatSSE(event.Type, event)
}
