package kiro

// codeWhispererRequest is the wire shape the CodeWhisperer/Q Developer
// generateAssistantResponse endpoint expects. Field names and nesting are
// fixed by the upstream API, not ours to simplify.
type codeWhispererRequest struct {
	ConversationState struct {
		AgentContinuationID string `json:"agentContinuationId"`
		AgentTaskType        string `json:"agentTaskType"`
		ChatTriggerType      string `json:"chatTriggerType"`
		CurrentMessage       struct {
			UserInputMessage struct {
				UserInputMessageContext struct {
					ToolResults []toolResult        `json:"toolResults,omitempty"`
					Tools       []codeWhispererTool `json:"tools,omitempty"`
				} `json:"userInputMessageContext"`
				Content string `json:"content"`
				ModelID string `json:"modelId"`
				Origin  string `json:"origin"`
			} `json:"userInputMessage"`
		} `json:"currentMessage"`
		ConversationID string `json:"conversationId"`
		History        []any  `json:"history"`
	} `json:"conversationState"`
}

type codeWhispererTool struct {
	ToolSpecification toolSpecification `json:"toolSpecification"`
}

type toolSpecification struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolResult struct {
	ToolUseID string           `json:"toolUseId"`
	Content   []map[string]any `json:"content"`
	Status    string           `json:"status"`
}

// refreshRequest/refreshResponse are the Social-auth token refresh shapes.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type idcRefreshRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	GrantType    string `json:"grantType"`
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn"`
}
