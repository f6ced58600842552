package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sicyuan404/proxycast/internal/domain"
)

func init() {
	RegisterConverter(domain.FormatGemini, domain.FormatAnthropic, &geminiToAnthropicRequest{}, &geminiToAnthropicResponse{})
}

type geminiToAnthropicRequest struct{}
type geminiToAnthropicResponse struct{}

// remapFunctionCallArgs normalizes a handful of Gemini function-call
// argument names into the shape the major CLI agent tools expect (they
// were built assuming an Anthropic-native backend), since Gemini sometimes
// names the equivalent parameter differently.
func remapFunctionCallArgs(toolName string, args map[string]interface{}) {
	if args == nil {
		return
	}

	switch strings.ToLower(toolName) {
	case "grep", "glob":
		if query, ok := args["query"]; ok {
			if _, hasPattern := args["pattern"]; !hasPattern {
				args["pattern"] = query
				delete(args, "query")
			}
		}
		if _, hasPath := args["path"]; !hasPath {
			if paths, ok := args["paths"]; ok {
				args["path"] = extractFirstPath(paths)
				delete(args, "paths")
			} else {
				args["path"] = "."
			}
		}
	case "read":
		if path, ok := args["path"]; ok {
			if _, hasFilePath := args["file_path"]; !hasFilePath {
				args["file_path"] = path
				delete(args, "path")
			}
		}
	case "ls":
		if _, hasPath := args["path"]; !hasPath {
			args["path"] = "."
		}
	}
}

func extractFirstPath(paths interface{}) string {
	switch v := paths.(type) {
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
		return "."
	case string:
		return v
	default:
		return "."
	}
}

func (c *geminiToAnthropicRequest) Transform(body []byte, model string, stream bool) ([]byte, error) {
	var req GeminiRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	aReq := AnthropicRequest{Model: model, Stream: stream}
	if req.GenerationConfig != nil {
		aReq.MaxTokens = req.GenerationConfig.MaxOutputTokens
		aReq.Temperature = req.GenerationConfig.Temperature
		aReq.TopP = req.GenerationConfig.TopP
		aReq.TopK = req.GenerationConfig.TopK
		aReq.StopSequences = req.GenerationConfig.StopSequences
	}

	if req.SystemInstruction != nil {
		var systemText string
		for _, part := range req.SystemInstruction.Parts {
			systemText += part.Text
		}
		if systemText != "" {
			aReq.System = systemText
		}
	}

	toolCallCounter := 0
	for _, content := range req.Contents {
		aMsg := AnthropicMessage{}
		switch content.Role {
		case "model":
			aMsg.Role = "assistant"
		default:
			aMsg.Role = "user"
		}

		var blocks []AnthropicContentBlock
		for _, part := range content.Parts {
			if part.Text != "" {
				blocks = append(blocks, AnthropicContentBlock{Type: "text", Text: part.Text})
			}
			if part.FunctionCall != nil {
				toolCallCounter++
				blocks = append(blocks, AnthropicContentBlock{
					Type: "tool_use", ID: fmt.Sprintf("call_%d", toolCallCounter), Name: part.FunctionCall.Name, Input: part.FunctionCall.Args,
				})
			}
			if part.FunctionResponse != nil {
				respJSON, _ := json.Marshal(part.FunctionResponse.Response)
				blocks = append(blocks, AnthropicContentBlock{Type: "tool_result", ToolUseID: part.FunctionResponse.Name, Content: string(respJSON)})
			}
		}

		if len(blocks) == 1 && blocks[0].Type == "text" {
			aMsg.Content = blocks[0].Text
		} else if len(blocks) > 0 {
			aMsg.Content = blocks
		}
		aReq.Messages = append(aReq.Messages, aMsg)
	}

	for _, tool := range req.Tools {
		for _, decl := range tool.FunctionDeclarations {
			aReq.Tools = append(aReq.Tools, AnthropicTool{Name: decl.Name, Description: decl.Description, InputSchema: decl.Parameters})
		}
	}

	return json.Marshal(aReq)
}

func (c *geminiToAnthropicResponse) Transform(body []byte) ([]byte, error) {
	var resp GeminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	aResp := AnthropicResponse{ID: "msg_gemini", Type: "message", Role: "assistant"}
	if resp.UsageMetadata != nil {
		aResp.Usage = AnthropicUsage{InputTokens: resp.UsageMetadata.PromptTokenCount, OutputTokens: resp.UsageMetadata.CandidatesTokenCount}
	}

	hasToolUse := false
	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		toolCallCounter := 0
		for _, part := range candidate.Content.Parts {
			if part.Thought && part.Text != "" {
				aResp.Content = append(aResp.Content, AnthropicContentBlock{Type: "thinking", Thinking: part.Text, Signature: part.ThoughtSignature})
				continue
			}
			if part.Text != "" {
				aResp.Content = append(aResp.Content, AnthropicContentBlock{Type: "text", Text: part.Text})
			}
			if part.FunctionCall != nil {
				hasToolUse = true
				toolCallCounter++
				args := part.FunctionCall.Args
				remapFunctionCallArgs(part.FunctionCall.Name, args)
				aResp.Content = append(aResp.Content, AnthropicContentBlock{
					Type: "tool_use", ID: fmt.Sprintf("call_%d", toolCallCounter), Name: part.FunctionCall.Name, Input: args,
				})
			}
		}
		aResp.StopReason = mapGeminiFinishToAnthropic(candidate.FinishReason, hasToolUse)
	}

	return json.Marshal(aResp)
}

func (c *geminiToAnthropicResponse) TransformChunk(chunk []byte, state *TransformState) ([]byte, error) {
	events, remaining := ParseSSE(state.Buffer + string(chunk))
	state.Buffer = remaining

	var output []byte
	for _, event := range events {
		var gChunk GeminiStreamChunk
		if err := json.Unmarshal(event.Data, &gChunk); err != nil {
			continue
		}

		if state.MessageID == "" {
			state.MessageID = "msg_gemini"
			msgStart := map[string]interface{}{
				"type": "message_start",
				"message": map[string]interface{}{
					"id": state.MessageID, "type": "message", "role": "assistant",
					"usage": map[string]int{"input_tokens": 0, "output_tokens": 0},
				},
			}
			output = append(output, FormatSSE("message_start", msgStart)...)
			output = append(output, FormatSSE("content_block_start", map[string]interface{}{
				"type": "content_block_start", "index": 0,
				"content_block": map[string]interface{}{"type": "text", "text": ""},
			})...)
		}

		if len(gChunk.Candidates) > 0 {
			candidate := gChunk.Candidates[0]
			for _, part := range candidate.Content.Parts {
				if part.Thought && part.Text != "" {
					output = append(output, FormatSSE("content_block_delta", map[string]interface{}{
						"type": "content_block_delta", "index": 0,
						"delta": map[string]interface{}{"type": "thinking_delta", "thinking": part.Text},
					})...)
					continue
				}
				if part.Text != "" {
					output = append(output, FormatSSE("content_block_delta", map[string]interface{}{
						"type": "content_block_delta", "index": 0,
						"delta": map[string]interface{}{"type": "text_delta", "text": part.Text},
					})...)
				}
			}

			if candidate.FinishReason != "" {
				output = append(output, FormatSSE("content_block_stop", map[string]interface{}{"type": "content_block_stop", "index": 0})...)
				msgDelta := map[string]interface{}{
					"type":  "message_delta",
					"delta": map[string]interface{}{"stop_reason": mapGeminiFinishToAnthropic(candidate.FinishReason, false)},
					"usage": map[string]int{"output_tokens": state.Usage.OutputTokens},
				}
				output = append(output, FormatSSE("message_delta", msgDelta)...)
				output = append(output, FormatSSE("message_stop", map[string]string{"type": "message_stop"})...)
			}
		}

		if gChunk.UsageMetadata != nil {
			state.Usage.InputTokens = gChunk.UsageMetadata.PromptTokenCount
			state.Usage.OutputTokens = gChunk.UsageMetadata.CandidatesTokenCount
		}
	}

	return output, nil
}
