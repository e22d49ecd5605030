package openai

import (
	"testing"

	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/biomcp/pkg/llms/openai/internal/openaiclient"
	"github.com/stretchr/testify/assert"
)

func requestPolicy(key string, retention llms.PromptCacheRetention) *llms.PromptCachePolicy {
	return &llms.PromptCachePolicy{
		Request: &llms.PromptCacheRequestPolicy{
			Key:       key,
			Retention: retention,
		},
	}
}

func TestResolvePromptCacheRequestConfig(t *testing.T) {
	t.Parallel()

	t.Run("nil options", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, promptCacheRequestConfig{}, resolvePromptCacheRequestConfig(nil))
		assert.Equal(t, promptCacheRequestConfig{}, resolvePromptCacheRequestConfig(&llms.CallOptions{}))
	})

	t.Run("key and retention", func(t *testing.T) {
		t.Parallel()
		got := resolvePromptCacheRequestConfig(&llms.CallOptions{
			PromptCachePolicy: requestPolicy("gene-session", llms.PromptCacheRetentionInMemory),
		})
		assert.Equal(t, promptCacheRequestConfig{
			key:          "gene-session",
			retention:    llms.PromptCacheRetentionInMemory,
			hasKey:       true,
			hasRetention: true,
		}, got)
	})

	t.Run("key only", func(t *testing.T) {
		t.Parallel()
		got := resolvePromptCacheRequestConfig(&llms.CallOptions{
			PromptCachePolicy: requestPolicy("gene-session", ""),
		})
		assert.Equal(t, promptCacheRequestConfig{key: "gene-session", hasKey: true}, got)
	})

	t.Run("breakpoints have no request fields", func(t *testing.T) {
		t.Parallel()
		got := resolvePromptCacheRequestConfig(&llms.CallOptions{
			PromptCachePolicy: &llms.PromptCachePolicy{
				Breakpoints: []llms.PromptCacheBreakpoint{
					{
						Target: llms.PromptCacheTarget{
							Kind:         llms.PromptCacheTargetMessagePart,
							MessageIndex: 0,
							PartIndex:    0,
						},
					},
				},
			},
		})
		assert.Equal(t, promptCacheRequestConfig{}, got)
	})
}

func TestApplyPromptCacheToChatRequest(t *testing.T) {
	t.Parallel()

	t.Run("openai provider", func(t *testing.T) {
		t.Parallel()

		req := &openaiclient.ChatRequest{}
		opts := llms.CallOptions{
			PromptCachePolicy: requestPolicy("chat-session", llms.PromptCacheRetentionInMemory),
		}

		applyPromptCacheToChatRequest(req, openaiclient.ProviderOpenAI, &opts)
		assert.Equal(t, "chat-session", req.PromptCacheKey)
		assert.Equal(t, "in_memory", req.PromptCacheRetention)
	})

	t.Run("24h retention passes through", func(t *testing.T) {
		t.Parallel()

		req := &openaiclient.ChatRequest{}
		opts := llms.CallOptions{
			PromptCachePolicy: requestPolicy("chat-session", llms.PromptCacheRetention24h),
		}

		applyPromptCacheToChatRequest(req, openaiclient.ProviderAzure, &opts)
		assert.Equal(t, "24h", req.PromptCacheRetention)
	})

	t.Run("perplexity ignored", func(t *testing.T) {
		t.Parallel()

		req := &openaiclient.ChatRequest{}
		opts := llms.CallOptions{
			PromptCachePolicy: requestPolicy("chat-session", llms.PromptCacheRetention24h),
		}

		applyPromptCacheToChatRequest(req, openaiclient.ProviderPerplexity, &opts)
		assert.Empty(t, req.PromptCacheKey)
		assert.Empty(t, req.PromptCacheRetention)
	})
}
