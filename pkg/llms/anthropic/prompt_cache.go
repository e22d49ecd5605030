package anthropic

import (
	"strings"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/pkg/llms"
)

// Prompt cache breakpoints are selected by callers in terms of the
// generic message model (message index, part index, tool index), but
// Anthropic applies cache_control markers to converted request blocks:
// system parts land in MessageNewParams.System while chat parts land in
// MessageParam.Content. processMessagesForRequest records the mapping
// between the two index spaces so applyPromptCachePolicyToRequest can
// resolve a caller-facing target to the SDK block it ended up in.

// Anthropic allows at most 4 cache_control markers per request.
const maxAnthropicPromptCacheBreakpoints = 4

// promptCachePartKey identifies a part in the caller's message space.
type promptCachePartKey struct {
	MessageIndex int
	PartIndex    int
}

// promptCachePartLocation is where a part landed in the SDK request.
type promptCachePartLocation struct {
	IsSystem     bool
	SystemIndex  int
	MessageIndex int
	ContentIndex int
}

// processMessagesForRequest converts generic messages to Anthropic
// request params and records, for every input part, the SDK block it
// was converted into.
func processMessagesForRequest(messages []llms.Message) ([]sdkanthropic.MessageParam, []sdkanthropic.TextBlockParam,
	map[promptCachePartKey]promptCachePartLocation, error,
) {
	chatMessages := make([]sdkanthropic.MessageParam, 0, len(messages))
	systemBlocks := make([]sdkanthropic.TextBlockParam, 0)
	partLocations := make(map[promptCachePartKey]promptCachePartLocation)

	appendChat := func(msgIndex int, partCount int, chatMessage sdkanthropic.MessageParam, role llms.Role) error {
		if len(chatMessage.Content) != partCount {
			return errors.Errorf("anthropic: unexpected content mapping length for %s message: parts=%d content=%d",
				strings.ToLower(string(role)), partCount, len(chatMessage.Content))
		}
		chatMessages = append(chatMessages, chatMessage)
		messagePos := len(chatMessages) - 1
		for partIndex := 0; partIndex < partCount; partIndex++ {
			partLocations[promptCachePartKey{MessageIndex: msgIndex, PartIndex: partIndex}] = promptCachePartLocation{
				MessageIndex: messagePos,
				ContentIndex: partIndex,
			}
		}
		return nil
	}

	for msgIndex, msg := range messages {
		if len(msg.Parts) == 0 {
			continue
		}

		switch msg.Role {
		case llms.RoleSystem:
			for partIndex, part := range msg.Parts {
				text, err := HandleSystemMessage(llms.Message{
					Parts: []llms.ContentPart{part},
				})
				if err != nil {
					return nil, nil, nil, errors.Wrap(err, "anthropic: failed to handle system message")
				}

				systemBlocks = append(systemBlocks, sdkanthropic.TextBlockParam{
					Type: "text",
					Text: text,
				})
				partLocations[promptCachePartKey{MessageIndex: msgIndex, PartIndex: partIndex}] = promptCachePartLocation{
					IsSystem:    true,
					SystemIndex: len(systemBlocks) - 1,
				}
			}

		case llms.RoleHuman:
			chatMessage, err := HandleHumanMessage(msg)
			if err != nil {
				return nil, nil, nil, errors.Wrap(err, "anthropic: failed to handle human message")
			}
			if err := appendChat(msgIndex, len(msg.Parts), chatMessage, msg.Role); err != nil {
				return nil, nil, nil, err
			}

		case llms.RoleAI, llms.RoleGeneric:
			chatMessage, err := HandleAIMessage(msg)
			if err != nil {
				return nil, nil, nil, errors.Wrap(err, "anthropic: failed to handle AI message")
			}
			if err := appendChat(msgIndex, len(msg.Parts), chatMessage, msg.Role); err != nil {
				return nil, nil, nil, err
			}

		case llms.RoleTool:
			chatMessage, err := HandleToolMessage(msg)
			if err != nil {
				return nil, nil, nil, errors.WithMessage(err, "anthropic: failed to handle tool message")
			}
			if err := appendChat(msgIndex, len(msg.Parts), chatMessage, msg.Role); err != nil {
				return nil, nil, nil, err
			}

		default:
			return nil, nil, nil, errors.WithMessagef(ErrUnsupportedMessageType, "anthropic: %v", msg.Role)
		}
	}

	return chatMessages, systemBlocks, partLocations, nil
}

// applyPromptCachePolicyToRequest resolves breakpoint targets against
// the part location map and sets cache_control on the matching SDK
// blocks in-place. Returns extra request options when a selected TTL
// requires a beta header.
func applyPromptCachePolicyToRequest(o *LLM, params *sdkanthropic.MessageNewParams, opts *llms.CallOptions,
	partLocations map[promptCachePartKey]promptCachePartLocation,
) ([]option.RequestOption, error) {
	if opts == nil || opts.PromptCachePolicy == nil || len(opts.PromptCachePolicy.Breakpoints) == 0 {
		return nil, nil
	}

	breakpoints := opts.PromptCachePolicy.Breakpoints
	if len(breakpoints) > maxAnthropicPromptCacheBreakpoints {
		return nil, errors.Errorf("anthropic: too many prompt cache breakpoints: %d (max %d)", len(breakpoints), maxAnthropicPromptCacheBreakpoints)
	}

	type dedupKey struct {
		Kind         llms.PromptCacheTargetKind
		MessageIndex int
		PartIndex    int
		ToolIndex    int
	}
	seen := make(map[dedupKey]struct{}, len(breakpoints))
	needsExtendedTTLBeta := false

	for _, bp := range breakpoints {
		cacheControl, extendedTTL, err := cacheControlForTTL(bp.TTL)
		if err != nil {
			return nil, err
		}
		needsExtendedTTLBeta = needsExtendedTTLBeta || extendedTTL

		switch bp.Target.Kind {
		case llms.PromptCacheTargetMessagePart:
			if bp.Target.MessageIndex < 0 || bp.Target.PartIndex < 0 {
				return nil, errors.Errorf("anthropic: invalid prompt cache message_part target: message=%d part=%d", bp.Target.MessageIndex, bp.Target.PartIndex)
			}
			key := dedupKey{
				Kind:         bp.Target.Kind,
				MessageIndex: bp.Target.MessageIndex,
				PartIndex:    bp.Target.PartIndex,
			}
			if _, dup := seen[key]; dup {
				return nil, errors.Errorf("anthropic: duplicate prompt cache breakpoint for message[%d].part[%d]", bp.Target.MessageIndex, bp.Target.PartIndex)
			}
			seen[key] = struct{}{}

			if err := markMessagePart(params, partLocations, bp.Target, cacheControl); err != nil {
				return nil, err
			}

		case llms.PromptCacheTargetTool:
			if bp.Target.ToolIndex < 0 {
				return nil, errors.Errorf("anthropic: invalid prompt cache tool target: tool=%d", bp.Target.ToolIndex)
			}
			key := dedupKey{
				Kind:      bp.Target.Kind,
				ToolIndex: bp.Target.ToolIndex,
			}
			if _, dup := seen[key]; dup {
				return nil, errors.Errorf("anthropic: duplicate prompt cache breakpoint for tool[%d]", bp.Target.ToolIndex)
			}
			seen[key] = struct{}{}

			if bp.Target.ToolIndex >= len(params.Tools) {
				return nil, errors.Errorf("anthropic: prompt cache tool target out of range: tool[%d]", bp.Target.ToolIndex)
			}
			cacheControlPtr := params.Tools[bp.Target.ToolIndex].GetCacheControl()
			if cacheControlPtr == nil {
				return nil, errors.Errorf("anthropic: prompt cache unsupported for tool[%d]", bp.Target.ToolIndex)
			}
			*cacheControlPtr = cacheControl

		default:
			return nil, errors.Errorf("anthropic: unsupported prompt cache target kind: %q", bp.Target.Kind)
		}
	}

	return promptCacheRequestOptions(o, needsExtendedTTLBeta), nil
}

// markMessagePart sets cache_control on the SDK block a message part
// was converted into, whether that block is a system block or a chat
// message content block.
func markMessagePart(params *sdkanthropic.MessageNewParams,
	partLocations map[promptCachePartKey]promptCachePartLocation,
	target llms.PromptCacheTarget, cacheControl sdkanthropic.CacheControlEphemeralParam,
) error {
	loc, ok := partLocations[promptCachePartKey{
		MessageIndex: target.MessageIndex,
		PartIndex:    target.PartIndex,
	}]
	if !ok {
		return errors.Errorf("anthropic: prompt cache target not found for message[%d].part[%d]", target.MessageIndex, target.PartIndex)
	}

	if loc.IsSystem {
		if loc.SystemIndex < 0 || loc.SystemIndex >= len(params.System) {
			return errors.Errorf("anthropic: invalid system prompt cache target index: %d", loc.SystemIndex)
		}
		params.System[loc.SystemIndex].CacheControl = cacheControl
		return nil
	}

	if loc.MessageIndex < 0 || loc.MessageIndex >= len(params.Messages) {
		return errors.Errorf("anthropic: invalid message prompt cache target index: %d", loc.MessageIndex)
	}
	if loc.ContentIndex < 0 || loc.ContentIndex >= len(params.Messages[loc.MessageIndex].Content) {
		return errors.Errorf("anthropic: invalid message content prompt cache target index: %d", loc.ContentIndex)
	}

	cacheControlPtr := params.Messages[loc.MessageIndex].Content[loc.ContentIndex].GetCacheControl()
	if cacheControlPtr == nil {
		return errors.Errorf("anthropic: prompt cache unsupported for message[%d].part[%d]", target.MessageIndex, target.PartIndex)
	}
	*cacheControlPtr = cacheControl
	return nil
}

// cacheControlForTTL maps a generic TTL to the SDK cache_control param.
// The bool reports whether the extended-cache-ttl beta is required.
func cacheControlForTTL(ttl llms.PromptCacheTTL) (sdkanthropic.CacheControlEphemeralParam, bool, error) {
	cacheControl := sdkanthropic.NewCacheControlEphemeralParam()
	switch ttl {
	case "":
		return cacheControl, false, nil
	case llms.PromptCacheTTL5m:
		cacheControl.TTL = sdkanthropic.CacheControlEphemeralTTLTTL5m
		return cacheControl, false, nil
	case llms.PromptCacheTTL1h:
		cacheControl.TTL = sdkanthropic.CacheControlEphemeralTTLTTL1h
		return cacheControl, true, nil
	default:
		return sdkanthropic.CacheControlEphemeralParam{}, false, errors.Errorf("anthropic: unsupported prompt cache TTL: %q", ttl)
	}
}

// promptCacheRequestOptions returns a per-request anthropic-beta header
// when an extended TTL was selected. Request-scoped so the client-level
// header configuration stays untouched.
func promptCacheRequestOptions(o *LLM, needsExtendedTTLBeta bool) []option.RequestOption {
	if o == nil || o.Options == nil || !needsExtendedTTLBeta {
		return nil
	}

	betaToken := string(sdkanthropic.AnthropicBetaExtendedCacheTTL2025_04_11)
	if containsBetaHeaderToken(o.Options.AnthropicBetaHeader, betaToken) {
		return nil
	}

	headerValue := betaToken
	if existing := strings.TrimSpace(o.Options.AnthropicBetaHeader); existing != "" {
		headerValue = existing + "," + betaToken
	}
	return []option.RequestOption{
		option.WithHeader("anthropic-beta", headerValue),
	}
}

func containsBetaHeaderToken(headerValue, token string) bool {
	for _, part := range strings.Split(headerValue, ",") {
		if strings.TrimSpace(part) == token {
			return true
		}
	}
	return false
}
