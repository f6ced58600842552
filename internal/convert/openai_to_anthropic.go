package convert

import (
	"encoding/json"

	"github.com/sicyuan404/proxycast/internal/domain"
)

func init() {
	RegisterConverter(domain.FormatOpenAI, domain.FormatAnthropic, &openaiToAnthropicRequest{}, &openaiToAnthropicResponse{})
}

type openaiToAnthropicRequest struct{}
type openaiToAnthropicResponse struct{}

func (c *openaiToAnthropicRequest) Transform(body []byte, model string, stream bool) ([]byte, error) {
	var req OpenAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	aReq := AnthropicRequest{
		Model:       model,
		Stream:      stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxCompletionTokens > 0 && req.MaxTokens == 0 {
		aReq.MaxTokens = req.MaxCompletionTokens
	}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			switch content := msg.Content.(type) {
			case string:
				aReq.System = content
			case []interface{}:
				var systemText string
				for _, part := range content {
					if m, ok := part.(map[string]interface{}); ok {
						if text, ok := m["text"].(string); ok {
							systemText += text
						}
					}
				}
				aReq.System = systemText
			}
			continue
		}

		aMsg := AnthropicMessage{Role: msg.Role}

		if msg.Role == "tool" {
			aMsg.Role = "user"
			contentStr, _ := msg.Content.(string)
			aMsg.Content = []AnthropicContentBlock{{Type: "tool_result", ToolUseID: msg.ToolCallID, Content: contentStr}}
			aReq.Messages = append(aReq.Messages, aMsg)
			continue
		}

		switch content := msg.Content.(type) {
		case string:
			aMsg.Content = content
		case []interface{}:
			var blocks []AnthropicContentBlock
			for _, part := range content {
				if m, ok := part.(map[string]interface{}); ok && m["type"] == "text" {
					text, _ := m["text"].(string)
					blocks = append(blocks, AnthropicContentBlock{Type: "text", Text: text})
				}
			}
			if len(blocks) == 1 && blocks[0].Type == "text" {
				aMsg.Content = blocks[0].Text
			} else {
				aMsg.Content = blocks
			}
		}

		if len(msg.ToolCalls) > 0 {
			var blocks []AnthropicContentBlock
			if text, ok := aMsg.Content.(string); ok && text != "" {
				blocks = append(blocks, AnthropicContentBlock{Type: "text", Text: text})
			}
			for _, tc := range msg.ToolCalls {
				var input interface{}
				json.Unmarshal([]byte(tc.Function.Arguments), &input)
				blocks = append(blocks, AnthropicContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
			}
			aMsg.Content = blocks
		}

		aReq.Messages = append(aReq.Messages, aMsg)
	}

	for _, tool := range req.Tools {
		aReq.Tools = append(aReq.Tools, AnthropicTool{Name: tool.Function.Name, Description: tool.Function.Description, InputSchema: tool.Function.Parameters})
	}

	switch stop := req.Stop.(type) {
	case string:
		aReq.StopSequences = []string{stop}
	case []interface{}:
		for _, s := range stop {
			if str, ok := s.(string); ok {
				aReq.StopSequences = append(aReq.StopSequences, str)
			}
		}
	}

	return json.Marshal(aReq)
}

func (c *openaiToAnthropicResponse) Transform(body []byte) ([]byte, error) {
	var resp OpenAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	aResp := AnthropicResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
		Usage: AnthropicUsage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message != nil {
			if content, ok := choice.Message.Content.(string); ok && content != "" {
				aResp.Content = append(aResp.Content, AnthropicContentBlock{Type: "text", Text: content})
			}
			for _, tc := range choice.Message.ToolCalls {
				var input interface{}
				json.Unmarshal([]byte(tc.Function.Arguments), &input)
				aResp.Content = append(aResp.Content, AnthropicContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
			}
			aResp.StopReason = mapFinishReasonToAnthropic(choice.FinishReason)
		}
	}

	return json.Marshal(aResp)
}

func (c *openaiToAnthropicResponse) TransformChunk(chunk []byte, state *TransformState) ([]byte, error) {
	events, remaining := ParseSSE(state.Buffer + string(chunk))
	state.Buffer = remaining

	var output []byte
	for _, event := range events {
		if event.Event == "done" {
			output = append(output, FormatSSE("message_stop", map[string]string{"type": "message_stop"})...)
			continue
		}

		var oChunk OpenAIStreamChunk
		if err := json.Unmarshal(event.Data, &oChunk); err != nil {
			continue
		}
		if len(oChunk.Choices) == 0 {
			continue
		}
		if oChunk.Usage != nil {
			state.Usage.InputTokens = oChunk.Usage.PromptTokens
			state.Usage.OutputTokens = oChunk.Usage.CompletionTokens
		}

		choice := oChunk.Choices[0]

		if state.MessageID == "" {
			state.MessageID = oChunk.ID
			msgStart := map[string]interface{}{
				"type": "message_start",
				"message": map[string]interface{}{
					"id": oChunk.ID, "type": "message", "role": "assistant", "model": oChunk.Model,
					"usage": map[string]int{"input_tokens": 0, "output_tokens": 0},
				},
			}
			output = append(output, FormatSSE("message_start", msgStart)...)
			blockStart := map[string]interface{}{
				"type": "content_block_start", "index": 0,
				"content_block": map[string]interface{}{"type": "text", "text": ""},
			}
			output = append(output, FormatSSE("content_block_start", blockStart)...)
		}

		if choice.Delta != nil {
			if content, ok := choice.Delta.Content.(string); ok && content != "" {
				delta := map[string]interface{}{
					"type": "content_block_delta", "index": 0,
					"delta": map[string]interface{}{"type": "text_delta", "text": content},
				}
				output = append(output, FormatSSE("content_block_delta", delta)...)
			}
		}

		if choice.FinishReason != "" {
			output = append(output, FormatSSE("content_block_stop", map[string]interface{}{"type": "content_block_stop", "index": 0})...)
			msgDelta := map[string]interface{}{
				"type":  "message_delta",
				"delta": map[string]interface{}{"stop_reason": mapFinishReasonToAnthropic(choice.FinishReason)},
				"usage": map[string]int{"output_tokens": state.Usage.OutputTokens},
			}
			output = append(output, FormatSSE("message_delta", msgDelta)...)
		}
	}

	return output, nil
}
