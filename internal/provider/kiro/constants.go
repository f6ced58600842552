package kiro

const (
	refreshTokenURL    = "https://prod.us-east-1.auth.desktop.kiro.dev/refreshToken"
	idcRefreshTokenURL = "https://oidc.us-east-1.amazonaws.com/token"

	codeWhispererURLTemplate = "https://codewhisperer.%s.amazonaws.com/generateAssistantResponse"
	defaultRegion            = "us-east-1"

	codeWhispererUserAgent = "aws-sdk-js/1.0.18 ua/2.1 os/darwin#25.0.0 lang/js md/nodejs#20.16.0 api/codewhispererstreaming#1.0.18 m/E KiroIDE-0.2.13-66c23a8c5d15afabec89ef9954ef52a119f10d369df04d548fc6c1eac694b0d1"
	idcUserAgent           = "aws-sdk-js/3.738.0 ua/2.1 os/other lang/js md/browser#unknown_unknown api/sso-oidc#3.738.0 m/E KiroIDE"
)

// defaultModelMapping maps a client-facing Claude model name to the
// CodeWhisperer model identifier, used when the credential doesn't carry an
// explicit override mapping.
var defaultModelMapping = map[string]string{
	"claude-3-5-haiku-20241022":   "CLAUDE_3_5_HAIKU_20241022_V1_0",
	"claude-3-7-sonnet-20250219":  "CLAUDE_3_7_SONNET_20250219_V1_0",
	"claude-sonnet-4-20250514":    "CLAUDE_SONNET_4_20250514_V1_0",
	"claude-sonnet-4-5-20250929":  "CLAUDE_SONNET_4_5_20250929_V1_0",
	"claude-opus-4-20250514":      "CLAUDE_OPUS_4_20250514_V1_0",
}

func mapModel(requested string, override map[string]string) string {
	if override != nil {
		if mapped, ok := override[requested]; ok {
			return mapped
		}
	}
	if mapped, ok := defaultModelMapping[requested]; ok {
		return mapped
	}
	return "CLAUDE_SONNET_4_5_20250929_V1_0"
}
