// Package domain holds the data model shared across the gateway core:
// credentials, cached tokens, rate-limit records, routing/injection rules,
// and the per-request context threaded through the pipeline.
package domain

import "time"

// CredentialKind is the enumerated variant of a credential record (§3).
type CredentialKind string

const (
	KindKiroOAuth        CredentialKind = "kiro_oauth"
	KindGeminiOAuth      CredentialKind = "gemini_oauth"
	KindQwenOAuth        CredentialKind = "qwen_oauth"
	KindAntigravityOAuth CredentialKind = "antigravity_oauth"
	KindOpenAIKey        CredentialKind = "openai_key"
	KindClaudeKey        CredentialKind = "claude_key"
	KindVertexKey        CredentialKind = "vertex_key"
	KindGeminiAPIKey     CredentialKind = "gemini_api_key"
	KindCodexOAuth       CredentialKind = "codex_oauth"
	KindClaudeOAuth      CredentialKind = "claude_oauth"
	KindIFlowOAuth       CredentialKind = "iflow_oauth"
	KindIFlowCookie      CredentialKind = "iflow_cookie"
)

// MaxCredentialErrors is the error_count threshold at which is_healthy flips
// to false (§4.1 contract).
const MaxCredentialErrors = 3

// CredentialPayload is the variant-specific content of a Credential. Which
// fields are populated is selected by Kind.
type CredentialPayload struct {
	// OAuth kinds: path to the on-disk token/credentials file.
	FilePath string `json:"file_path,omitempty"`

	// Key kinds: the API key and an optional override base URL.
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`

	// Kiro-specific auth method, one of "social" | "idc".
	AuthMethod string `json:"auth_method,omitempty"`
	// Kiro region, e.g. "us-east-1".
	Region string `json:"region,omitempty"`
	// Kiro IdC client credentials, filled in from a sibling clientIdHash
	// file when the main credentials file doesn't carry them itself.
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	ClientIDHash string `json:"client_id_hash,omitempty"`

	// Antigravity-specific.
	Email     string `json:"email,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// CheckPolicy controls how a credential's health check is scheduled.
type CheckPolicy struct {
	Enabled      bool          `json:"enabled"`
	Interval     time.Duration `json:"interval"`
	CheckModel   string        `json:"check_model,omitempty"`
	CheckTimeout time.Duration `json:"check_timeout"`
}

// CachedToken is the per-credential access-token cache entry (§3).
type CachedToken struct {
	AccessToken       string     `json:"access_token,omitempty"`
	RefreshToken      string     `json:"refresh_token,omitempty"`
	Expiry            *time.Time `json:"expiry,omitempty"`
	LastRefresh       *time.Time `json:"last_refresh,omitempty"`
	RefreshErrorCount int        `json:"refresh_error_count"`
	LastError         string     `json:"last_error,omitempty"`
}

// expirySkew is the lookahead window used by IsExpiringSoon (§3).
const expirySkew = 5 * time.Minute

// IsValid reports whether the cached token can be used as-is.
func (t *CachedToken) IsValid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.Expiry == nil {
		return true
	}
	return t.Expiry.After(now)
}

// IsExpiringSoon reports whether the token expires within the skew window.
func (t *CachedToken) IsExpiringSoon(now time.Time) bool {
	if t == nil || t.Expiry == nil {
		return false
	}
	return !t.Expiry.After(now.Add(expirySkew))
}

// NeedsRefresh is the union predicate the token cache uses to decide whether
// to take the refresh path.
func (t *CachedToken) NeedsRefresh(now time.Time) bool {
	return !t.IsValid(now) || t.IsExpiringSoon(now)
}

// Credential is a tagged credential record (§3).
type Credential struct {
	UUID    string            `json:"uuid"`
	Kind    CredentialKind    `json:"kind"`
	Payload CredentialPayload `json:"payload"`
	Name    string            `json:"name,omitempty"`

	IsHealthy       bool       `json:"is_healthy"`
	IsDisabled      bool       `json:"is_disabled"`
	ErrorCount      int        `json:"error_count"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
	LastError       string     `json:"last_error,omitempty"`

	UsageCount int        `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	CachedToken *CachedToken `json:"cached_token,omitempty"`

	NotSupportedModels []string    `json:"not_supported_models,omitempty"`
	CheckPolicy        CheckPolicy `json:"check_policy"`

	SubscriptionTier string `json:"subscription_tier,omitempty"` // ULTRA, PRO, FREE

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAvailable is the selection predicate: healthy and not administratively
// disabled (§3 invariants).
func (c *Credential) IsAvailable() bool {
	return c.IsHealthy && !c.IsDisabled
}

// SupportsModel reports whether model is absent from the credential's
// not-supported list.
func (c *Credential) SupportsModel(model string) bool {
	for _, m := range c.NotSupportedModels {
		if m == model {
			return false
		}
	}
	return true
}

// TierPriority orders subscription tiers for rotation: lower sorts first
// (ULTRA < PRO < FREE < unknown), per §4.4 step 1.
func (c *Credential) TierPriority() int {
	switch c.SubscriptionTier {
	case "ULTRA":
		return 0
	case "PRO":
		return 1
	case "FREE":
		return 2
	default:
		return 3
	}
}

// RateLimitReason classifies why a credential was marked rate-limited (§3).
type RateLimitReason string

const (
	ReasonQuotaExhausted         RateLimitReason = "QuotaExhausted"
	ReasonRateLimitExceeded      RateLimitReason = "RateLimitExceeded"
	ReasonModelCapacityExhausted RateLimitReason = "ModelCapacityExhausted"
	ReasonServerError            RateLimitReason = "ServerError"
	ReasonUnknown                RateLimitReason = "Unknown"
)

// RateLimitRecord is a single rate-limit entry, keyed by account or
// account:model (§3).
type RateLimitRecord struct {
	AccountID           string
	Reason              RateLimitReason
	StartedAt           time.Time
	ResetAt             time.Time
	ConsecutiveFailures int
	Model               string // empty for account-level records
}

// RoutingRule maps a model-name glob pattern to a target provider kind (§3).
type RoutingRule struct {
	Pattern        string
	TargetProvider CredentialKind
	Priority       int
	Enabled        bool
}

// InjectionRule is a model-scoped JSON patch (§3).
type InjectionRule struct {
	MatchModelGlob string
	JSONPatch      map[string]any
	Priority       int
	Enabled        bool
}

// ClientFormat is the wire format a client request/response is expressed in.
type ClientFormat string

const (
	FormatOpenAI    ClientFormat = "openai"
	FormatAnthropic ClientFormat = "anthropic"
	FormatGemini    ClientFormat = "gemini"
)

// RequestContext is threaded through the pipeline from entry to telemetry (§3).
type RequestContext struct {
	RequestID     string
	OriginalModel string
	ResolvedModel string
	IsStream      bool
	ClientFormat  ClientFormat
	Provider      CredentialKind
	CredentialID  string
	SessionID     string
	RetryCount    int
	StartTime     time.Time
}

// ToolCall is a single normalized tool invocation surfaced by C7/C8.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON text, not yet parsed
}

// ParsedUpstreamResponse is the normalized view downstream of the event
// stream parser (§3).
type ParsedUpstreamResponse struct {
	Content                string
	ToolCalls              []ToolCall
	UsageCredits           float64
	ContextUsagePercentage float64
}
