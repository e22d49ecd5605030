package llms

// PromptCacheRetention controls how long a provider keeps a cached prompt prefix.
type PromptCacheRetention string

const (
	// PromptCacheRetentionInMemory keeps the cached prefix in memory only.
	PromptCacheRetentionInMemory PromptCacheRetention = "in-memory"
	// PromptCacheRetention24h keeps the cached prefix for 24 hours.
	PromptCacheRetention24h PromptCacheRetention = "24h"
)

// PromptCacheTTL is the time-to-live for a single cache breakpoint.
type PromptCacheTTL string

const (
	PromptCacheTTL5m PromptCacheTTL = "5m"
	PromptCacheTTL1h PromptCacheTTL = "1h"
)

// PromptCacheTargetKind selects what a cache breakpoint points at.
type PromptCacheTargetKind string

const (
	// PromptCacheTargetMessagePart targets a part of a message by message and part index.
	PromptCacheTargetMessagePart PromptCacheTargetKind = "message_part"
	// PromptCacheTargetTool targets a tool definition by index.
	PromptCacheTargetTool PromptCacheTargetKind = "tool"
)

// PromptCacheTarget identifies the message part or tool a breakpoint applies to.
// Indexes are in the caller-provided message space, before provider conversion.
type PromptCacheTarget struct {
	Kind         PromptCacheTargetKind `json:"kind"`
	MessageIndex int                   `json:"message_index,omitempty"`
	PartIndex    int                   `json:"part_index,omitempty"`
	ToolIndex    int                   `json:"tool_index,omitempty"`
}

// PromptCacheBreakpoint marks a cacheable boundary in the request.
// Providers that cache by explicit markers (Anthropic) honor Breakpoints;
// providers that cache by request key (OpenAI) honor Request.
type PromptCacheBreakpoint struct {
	Target PromptCacheTarget `json:"target"`
	TTL    PromptCacheTTL    `json:"ttl,omitempty"`
}

// PromptCacheRequestPolicy carries request-level cache settings.
type PromptCacheRequestPolicy struct {
	Key       string               `json:"key,omitempty"`
	Retention PromptCacheRetention `json:"retention,omitempty"`
}

// PromptCachePolicy is a provider-neutral prompt caching policy.
type PromptCachePolicy struct {
	Request     *PromptCacheRequestPolicy `json:"request,omitempty"`
	Breakpoints []PromptCacheBreakpoint   `json:"breakpoints,omitempty"`
}

// ReasoningEffort constrains how much reasoning a model spends before answering.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)
