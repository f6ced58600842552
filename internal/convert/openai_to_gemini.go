package convert

import (
	"encoding/json"

	"github.com/sicyuan404/proxycast/internal/domain"
)

func init() {
	RegisterConverter(domain.FormatOpenAI, domain.FormatGemini, &openaiToGeminiRequest{}, &openaiToGeminiResponse{})
}

type openaiToGeminiRequest struct{}
type openaiToGeminiResponse struct{}

func (c *openaiToGeminiRequest) Transform(body []byte, model string, stream bool) ([]byte, error) {
	var req OpenAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	geminiReq := GeminiRequest{
		GenerationConfig: &GeminiGenerationConfig{MaxOutputTokens: req.MaxTokens, Temperature: req.Temperature, TopP: req.TopP},
	}
	if req.MaxCompletionTokens > 0 && req.MaxTokens == 0 {
		geminiReq.GenerationConfig.MaxOutputTokens = req.MaxCompletionTokens
	}

	switch stop := req.Stop.(type) {
	case string:
		geminiReq.GenerationConfig.StopSequences = []string{stop}
	case []interface{}:
		for _, s := range stop {
			if str, ok := s.(string); ok {
				geminiReq.GenerationConfig.StopSequences = append(geminiReq.GenerationConfig.StopSequences, str)
			}
		}
	}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			if content, ok := msg.Content.(string); ok && content != "" {
				geminiReq.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: content}}}
			}
			continue
		}

		content := GeminiContent{}
		switch msg.Role {
		case "user":
			content.Role = "user"
		case "assistant":
			content.Role = "model"
		case "tool":
			content.Role = "user"
			contentStr, _ := msg.Content.(string)
			content.Parts = []GeminiPart{{
				FunctionResponse: &GeminiFunctionResponse{Name: msg.ToolCallID, Response: map[string]string{"result": contentStr}},
			}}
			geminiReq.Contents = append(geminiReq.Contents, content)
			continue
		}

		switch body := msg.Content.(type) {
		case string:
			content.Parts = []GeminiPart{{Text: body}}
		case []interface{}:
			for _, part := range body {
				if m, ok := part.(map[string]interface{}); ok && m["type"] == "text" {
					if text, ok := m["text"].(string); ok {
						content.Parts = append(content.Parts, GeminiPart{Text: text})
					}
				}
			}
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]interface{}
			json.Unmarshal([]byte(tc.Function.Arguments), &args)
			content.Parts = append(content.Parts, GeminiPart{FunctionCall: &GeminiFunctionCall{Name: tc.Function.Name, Args: args}})
		}

		geminiReq.Contents = append(geminiReq.Contents, content)
	}

	if len(req.Tools) > 0 {
		var decls []GeminiFunctionDecl
		for _, tool := range req.Tools {
			decls = append(decls, GeminiFunctionDecl{Name: tool.Function.Name, Description: tool.Function.Description, Parameters: tool.Function.Parameters})
		}
		geminiReq.Tools = []GeminiTool{{FunctionDeclarations: decls}}
	}

	return json.Marshal(geminiReq)
}

func (c *openaiToGeminiResponse) Transform(body []byte) ([]byte, error) {
	var resp OpenAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	geminiResp := GeminiResponse{
		UsageMetadata: &GeminiUsageMetadata{
			PromptTokenCount: resp.Usage.PromptTokens, CandidatesTokenCount: resp.Usage.CompletionTokens, TotalTokenCount: resp.Usage.TotalTokens,
		},
	}

	candidate := GeminiCandidate{Content: GeminiContent{Role: "model"}, Index: 0}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message != nil {
			if content, ok := choice.Message.Content.(string); ok && content != "" {
				candidate.Content.Parts = append(candidate.Content.Parts, GeminiPart{Text: content})
			}
			for _, tc := range choice.Message.ToolCalls {
				var args map[string]interface{}
				json.Unmarshal([]byte(tc.Function.Arguments), &args)
				candidate.Content.Parts = append(candidate.Content.Parts, GeminiPart{FunctionCall: &GeminiFunctionCall{Name: tc.Function.Name, Args: args}})
			}
			candidate.FinishReason = mapFinishReasonToGemini(choice.FinishReason)
		}
	}

	geminiResp.Candidates = []GeminiCandidate{candidate}
	return json.Marshal(geminiResp)
}

func (c *openaiToGeminiResponse) TransformChunk(chunk []byte, state *TransformState) ([]byte, error) {
	events, remaining := ParseSSE(state.Buffer + string(chunk))
	state.Buffer = remaining

	var output []byte
	for _, event := range events {
		if event.Event == "done" {
			continue
		}
		var oChunk OpenAIStreamChunk
		if err := json.Unmarshal(event.Data, &oChunk); err != nil {
			continue
		}
		if len(oChunk.Choices) == 0 {
			continue
		}
		choice := oChunk.Choices[0]
		if choice.Delta != nil {
			if content, ok := choice.Delta.Content.(string); ok && content != "" {
				gChunk := GeminiStreamChunk{Candidates: []GeminiCandidate{{
					Content: GeminiContent{Role: "model", Parts: []GeminiPart{{Text: content}}}, Index: 0,
				}}}
				output = append(output, FormatSSE("", gChunk)...)
			}
		}
		if choice.FinishReason != "" {
			gChunk := GeminiStreamChunk{Candidates: []GeminiCandidate{{FinishReason: mapFinishReasonToGemini(choice.FinishReason), Index: 0}}}
			output = append(output, FormatSSE("", gChunk)...)
		}
	}

	return output, nil
}
