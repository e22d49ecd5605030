package openai

import (
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/biomcp/pkg/llms/openai/internal/openaiclient"
)

// promptCacheRequestConfig is the request-level slice of a prompt cache
// policy that OpenAI-compatible chat APIs can express.
type promptCacheRequestConfig struct {
	key          string
	retention    llms.PromptCacheRetention
	hasKey       bool
	hasRetention bool
}

// Perplexity has no prompt cache request fields.
func supportsPromptCacheProvider(provider openaiclient.ProviderType) bool {
	switch provider {
	case openaiclient.ProviderOpenAI, "OPEN_AI",
		openaiclient.ProviderAzure, openaiclient.ProviderAzureAD:
		return true
	}
	return false
}

// resolvePromptCacheRequestConfig extracts the request-level cache key
// and retention from the policy. Breakpoint targets are an Anthropic
// concept and are ignored here.
func resolvePromptCacheRequestConfig(opts *llms.CallOptions) promptCacheRequestConfig {
	var cfg promptCacheRequestConfig
	if opts == nil || opts.PromptCachePolicy == nil || opts.PromptCachePolicy.Request == nil {
		return cfg
	}

	req := opts.PromptCachePolicy.Request
	if req.Key != "" {
		cfg.key = req.Key
		cfg.hasKey = true
	}
	if req.Retention != "" {
		cfg.retention = req.Retention
		cfg.hasRetention = true
	}
	return cfg
}

func applyPromptCacheToChatRequest(req *openaiclient.ChatRequest, provider openaiclient.ProviderType, opts *llms.CallOptions) {
	if req == nil || !supportsPromptCacheProvider(provider) {
		return
	}

	cfg := resolvePromptCacheRequestConfig(opts)
	if cfg.hasKey {
		req.PromptCacheKey = cfg.key
	}
	if cfg.hasRetention {
		req.PromptCacheRetention = toChatPromptCacheRetention(cfg.retention)
	}
}

// toChatPromptCacheRetention maps the internal retention constant to the
// wire value: the API expects "in_memory" while the constant is
// "in-memory"; "24h" passes through.
func toChatPromptCacheRetention(retention llms.PromptCacheRetention) string {
	if retention == llms.PromptCacheRetentionInMemory {
		return "in_memory"
	}
	return string(retention)
}
