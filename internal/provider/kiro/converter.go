package kiro

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sicyuan404/proxycast/internal/convert"
)

// buildCodeWhispererRequest flattens an AnthropicRequest into the single
// current-message-plus-history shape CodeWhisperer expects: one running
// conversation, not a role-tagged message array.
func buildCodeWhispererRequest(req *convert.AnthropicRequest, mappedModel, conversationID string) *codeWhispererRequest {
	cw := &codeWhispererRequest{}
	cw.ConversationState.AgentContinuationID = uuid.NewString()
	cw.ConversationState.AgentTaskType = "vibe"
	cw.ConversationState.ChatTriggerType = "MANUAL"
	cw.ConversationState.ConversationID = conversationID
	cw.ConversationState.CurrentMessage.UserInputMessage.ModelID = mappedModel
	cw.ConversationState.CurrentMessage.UserInputMessage.Origin = "AI_EDITOR"
	cw.ConversationState.History = []any{}

	for _, tool := range req.Tools {
		cw.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext.Tools = append(
			cw.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext.Tools,
			codeWhispererTool{ToolSpecification: toolSpecification{
				Name: tool.Name, Description: tool.Description, InputSchema: schemaToMap(tool.InputSchema),
			}},
		)
	}

	var content strings.Builder
	if sys, ok := req.System.(string); ok && sys != "" {
		content.WriteString(sys)
		content.WriteString("\n\n")
	}

	for _, msg := range req.Messages {
		switch body := msg.Content.(type) {
		case string:
			writeRoleTag(&content, msg.Role)
			content.WriteString(body)
			content.WriteString("\n")
		case []interface{}:
			for _, raw := range body {
				block, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				switch block["type"] {
				case "text":
					if text, ok := block["text"].(string); ok {
						writeRoleTag(&content, msg.Role)
						content.WriteString(text)
						content.WriteString("\n")
					}
				case "tool_result":
					toolUseID, _ := block["tool_use_id"].(string)
					status := "success"
					if isErr, _ := block["is_error"].(bool); isErr {
						status = "error"
					}
					cw.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext.ToolResults = append(
						cw.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext.ToolResults,
						toolResult{ToolUseID: toolUseID, Status: status, Content: []map[string]any{{"text": fmt.Sprint(block["content"])}}},
					)
				}
			}
		}
	}

	cw.ConversationState.CurrentMessage.UserInputMessage.Content = strings.TrimSpace(content.String())
	if cw.ConversationState.CurrentMessage.UserInputMessage.Content == "" {
		cw.ConversationState.CurrentMessage.UserInputMessage.Content = "continue"
	}
	return cw
}

func writeRoleTag(b *strings.Builder, role string) {
	switch role {
	case "assistant":
		b.WriteString("Assistant: ")
	default:
		b.WriteString("Human: ")
	}
}

func schemaToMap(schema interface{}) map[string]any {
	if m, ok := schema.(map[string]interface{}); ok {
		return m
	}
	return map[string]any{"type": "object"}
}
