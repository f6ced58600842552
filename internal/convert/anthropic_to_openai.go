package convert

import (
	"encoding/json"
	"time"

	"github.com/sicyuan404/proxycast/internal/domain"
)

func init() {
	RegisterConverter(domain.FormatAnthropic, domain.FormatOpenAI, &anthropicToOpenAIRequest{}, &anthropicToOpenAIResponse{})
}

type anthropicToOpenAIRequest struct{}
type anthropicToOpenAIResponse struct{}

func (c *anthropicToOpenAIRequest) Transform(body []byte, model string, stream bool) ([]byte, error) {
	var req AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	openaiReq := OpenAIRequest{
		Model:       model,
		Stream:      stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	if req.System != nil {
		switch s := req.System.(type) {
		case string:
			openaiReq.Messages = append(openaiReq.Messages, OpenAIMessage{Role: "system", Content: s})
		case []interface{}:
			var systemText string
			for _, block := range s {
				if m, ok := block.(map[string]interface{}); ok {
					if text, ok := m["text"].(string); ok {
						systemText += text
					}
				}
			}
			if systemText != "" {
				openaiReq.Messages = append(openaiReq.Messages, OpenAIMessage{Role: "system", Content: systemText})
			}
		}
	}

	for _, msg := range req.Messages {
		openaiMsg := OpenAIMessage{Role: msg.Role}
		switch content := msg.Content.(type) {
		case string:
			openaiMsg.Content = content
		case []interface{}:
			var parts []OpenAIContentPart
			var toolCalls []OpenAIToolCall
			for _, block := range content {
				m, ok := block.(map[string]interface{})
				if !ok {
					continue
				}
				switch m["type"] {
				case "text":
					if text, ok := m["text"].(string); ok {
						parts = append(parts, OpenAIContentPart{Type: "text", Text: text})
					}
				case "tool_use":
					id, _ := m["id"].(string)
					name, _ := m["name"].(string)
					inputJSON, _ := json.Marshal(m["input"])
					toolCalls = append(toolCalls, OpenAIToolCall{
						ID:       id,
						Type:     "function",
						Function: OpenAIFunctionCall{Name: name, Arguments: string(inputJSON)},
					})
				case "tool_result":
					toolUseID, _ := m["tool_use_id"].(string)
					resultContent, _ := m["content"].(string)
					openaiReq.Messages = append(openaiReq.Messages, OpenAIMessage{
						Role:       "tool",
						Content:    resultContent,
						ToolCallID: toolUseID,
					})
				}
			}
			if len(toolCalls) > 0 {
				openaiMsg.ToolCalls = toolCalls
			}
			switch {
			case len(parts) == 1 && parts[0].Type == "text":
				openaiMsg.Content = parts[0].Text
			case len(parts) > 0:
				openaiMsg.Content = parts
			}
		}
		openaiReq.Messages = append(openaiReq.Messages, openaiMsg)
	}

	for _, tool := range req.Tools {
		openaiReq.Tools = append(openaiReq.Tools, OpenAITool{
			Type:     "function",
			Function: OpenAIFunction{Name: tool.Name, Description: tool.Description, Parameters: tool.InputSchema},
		})
	}

	if len(req.StopSequences) > 0 {
		openaiReq.Stop = req.StopSequences
	}

	return json.Marshal(openaiReq)
}

func (c *anthropicToOpenAIResponse) Transform(body []byte) ([]byte, error) {
	var resp AnthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	openaiResp := OpenAIResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Usage: OpenAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	msg := OpenAIMessage{Role: "assistant"}
	var textContent string
	var toolCalls []OpenAIToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			textContent += block.Text
		case "tool_use":
			inputJSON, _ := json.Marshal(block.Input)
			toolCalls = append(toolCalls, OpenAIToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: OpenAIFunctionCall{Name: block.Name, Arguments: string(inputJSON)},
			})
		}
	}

	if textContent != "" {
		msg.Content = textContent
	}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}

	openaiResp.Choices = []OpenAIChoice{{
		Index:        0,
		Message:      &msg,
		FinishReason: mapAnthropicStopToOpenAI(resp.StopReason),
	}}

	return json.Marshal(openaiResp)
}

func (c *anthropicToOpenAIResponse) TransformChunk(chunk []byte, state *TransformState) ([]byte, error) {
	events, remaining := ParseSSE(state.Buffer + string(chunk))
	state.Buffer = remaining

	var output []byte
	for _, event := range events {
		if event.Event == "done" {
			output = append(output, FormatDone()...)
			continue
		}

		var aEvent AnthropicStreamEvent
		if err := json.Unmarshal(event.Data, &aEvent); err != nil {
			continue
		}

		switch aEvent.Type {
		case "message_start":
			if aEvent.Message != nil {
				state.MessageID = aEvent.Message.ID
			}
			c := OpenAIStreamChunk{
				ID:      state.MessageID,
				Object:  "chat.completion.chunk",
				Created: time.Now().Unix(),
				Choices: []OpenAIChoice{{Index: 0, Delta: &OpenAIMessage{Role: "assistant", Content: ""}}},
			}
			output = append(output, FormatSSE("", c)...)

		case "content_block_start":
			if aEvent.ContentBlock != nil {
				state.CurrentBlockType = aEvent.ContentBlock.Type
				state.CurrentIndex = aEvent.Index
				if aEvent.ContentBlock.Type == "tool_use" {
					state.ToolCalls[aEvent.Index] = &ToolCallState{ID: aEvent.ContentBlock.ID, Name: aEvent.ContentBlock.Name}
				}
			}

		case "content_block_delta":
			if aEvent.Delta == nil {
				continue
			}
			switch aEvent.Delta.Type {
			case "text_delta":
				c := OpenAIStreamChunk{
					ID:      state.MessageID,
					Object:  "chat.completion.chunk",
					Created: time.Now().Unix(),
					Choices: []OpenAIChoice{{Index: 0, Delta: &OpenAIMessage{Content: aEvent.Delta.Text}}},
				}
				output = append(output, FormatSSE("", c)...)
			case "input_json_delta":
				if tc, ok := state.ToolCalls[state.CurrentIndex]; ok {
					tc.Arguments += aEvent.Delta.PartialJSON
					c := OpenAIStreamChunk{
						ID:      state.MessageID,
						Object:  "chat.completion.chunk",
						Created: time.Now().Unix(),
						Choices: []OpenAIChoice{{
							Index: 0,
							Delta: &OpenAIMessage{ToolCalls: []OpenAIToolCall{{
								Index:    state.CurrentIndex,
								ID:       tc.ID,
								Type:     "function",
								Function: OpenAIFunctionCall{Name: tc.Name, Arguments: aEvent.Delta.PartialJSON},
							}}},
						}},
					}
					output = append(output, FormatSSE("", c)...)
				}
			}

		case "message_delta":
			if aEvent.Delta != nil {
				state.StopReason = aEvent.Delta.StopReason
			}
			if aEvent.Usage != nil {
				state.Usage.OutputTokens = aEvent.Usage.OutputTokens
			}

		case "message_stop":
			c := OpenAIStreamChunk{
				ID:      state.MessageID,
				Object:  "chat.completion.chunk",
				Created: time.Now().Unix(),
				Choices: []OpenAIChoice{{Index: 0, Delta: &OpenAIMessage{}, FinishReason: mapAnthropicStopToOpenAI(state.StopReason)}},
			}
			output = append(output, FormatSSE("", c)...)
			output = append(output, FormatDone()...)
		}
	}

	return output, nil
}
