package llms

import (
	"context"

	"github.com/effective-security/biomcp/pkg/schema"
	"github.com/invopop/jsonschema"
)

// CallOption configures a CallOptions.
type CallOption func(*CallOptions)

// CallOptions holds per-call model parameters. Not every provider
// supports every option; unsupported options are ignored.
type CallOptions struct {
	// Model overrides the client's configured model for this call.
	Model string
	// MaxTokens caps the number of tokens to generate.
	MaxTokens int
	// Temperature is the sampling temperature, between 0 and 1.
	Temperature float64
	// StopWords stop generation when produced.
	StopWords []string
	// StreamingFunc receives each chunk of a streaming response.
	// Returning an error stops the stream.
	StreamingFunc func(ctx context.Context, chunk []byte) error
	// StreamingReasoningFunc receives reasoning and content chunks of a
	// streaming response. Returning an error stops the stream.
	StreamingReasoningFunc func(ctx context.Context, reasoningChunk, chunk []byte) error
	// TopK is the number of tokens considered for top-k sampling.
	TopK int
	// TopP is the cumulative probability for top-p sampling.
	TopP float64
	// Seed makes sampling deterministic where supported.
	Seed int
	// MinLength is the minimum length of the generated text.
	MinLength int
	// MaxLength is the maximum length of the generated text.
	MaxLength int
	// N is how many chat completion choices to generate per input.
	N int
	// RepetitionPenalty penalizes repeated tokens.
	RepetitionPenalty float64
	// FrequencyPenalty penalizes tokens by their frequency so far.
	FrequencyPenalty float64
	// PresencePenalty penalizes tokens that already appeared.
	PresencePenalty float64

	// Tools the model may call during this request.
	Tools []Tool
	// ToolChoice is "none", "auto" (default), or a specific ToolChoice.
	ToolChoice any

	// Metadata is provider-specific request metadata.
	Metadata map[string]any

	// ResponseFormat switches the response to structured output; when
	// unset the response is plain text.
	ResponseFormat *schema.ResponseFormat

	// PromptCachePolicy is a provider-neutral prompt caching policy.
	// Providers ignore parts of the policy they cannot express.
	PromptCachePolicy *PromptCachePolicy

	// ReasoningEffort constrains reasoning effort on models that support it.
	ReasoningEffort ReasoningEffort
}

// Tool is a tool the model may call.
type Tool struct {
	// Type is the type of the tool, typically "function".
	Type string `json:"type"`
	// Function describes the callable function.
	Function *FunctionDefinition `json:"function,omitempty"`
}

// FunctionDefinition describes a function callable by the model.
type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Parameters is the JSON schema of the function arguments.
	Parameters *jsonschema.Schema `json:"parameters,omitempty"`
	// Strict enforces the schema exactly. OpenAI structured output only.
	Strict bool `json:"strict,omitempty"`
}

// ToolChoice forces the model to call a specific tool.
type ToolChoice struct {
	Type     string             `json:"type"`
	Function *FunctionReference `json:"function,omitempty"`
}

// FunctionReference names a function.
type FunctionReference struct {
	Name string `json:"name"`
}

// WithModel specifies which model name to use.
func WithModel(model string) CallOption {
	return func(o *CallOptions) {
		o.Model = model
	}
}

// WithMaxTokens specifies the max number of tokens to generate.
func WithMaxTokens(maxTokens int) CallOption {
	return func(o *CallOptions) {
		o.MaxTokens = maxTokens
	}
}

// WithTemperature specifies the sampling temperature.
func WithTemperature(temperature float64) CallOption {
	return func(o *CallOptions) {
		o.Temperature = temperature
	}
}

// WithStopWords specifies a list of words to stop generation on.
func WithStopWords(stopWords []string) CallOption {
	return func(o *CallOptions) {
		o.StopWords = stopWords
	}
}

// WithOptions replaces all options at once.
func WithOptions(options CallOptions) CallOption {
	return func(o *CallOptions) {
		(*o) = options
	}
}

// WithStreamingFunc specifies the streaming function to use.
func WithStreamingFunc(streamingFunc func(ctx context.Context, chunk []byte) error) CallOption {
	return func(o *CallOptions) {
		o.StreamingFunc = streamingFunc
	}
}

// WithStreamingReasoningFunc specifies the streaming reasoning function to use.
func WithStreamingReasoningFunc(streamingReasoningFunc func(ctx context.Context, reasoningChunk, chunk []byte) error) CallOption {
	return func(o *CallOptions) {
		o.StreamingReasoningFunc = streamingReasoningFunc
	}
}

// WithTopK enables top-k sampling.
func WithTopK(topK int) CallOption {
	return func(o *CallOptions) {
		o.TopK = topK
	}
}

// WithTopP enables top-p sampling.
func WithTopP(topP float64) CallOption {
	return func(o *CallOptions) {
		o.TopP = topP
	}
}

// WithSeed enables deterministic sampling.
func WithSeed(seed int) CallOption {
	return func(o *CallOptions) {
		o.Seed = seed
	}
}

// WithMinLength sets the minimum length of the generated text.
func WithMinLength(minLength int) CallOption {
	return func(o *CallOptions) {
		o.MinLength = minLength
	}
}

// WithMaxLength sets the maximum length of the generated text.
func WithMaxLength(maxLength int) CallOption {
	return func(o *CallOptions) {
		o.MaxLength = maxLength
	}
}

// WithN sets how many chat completion choices to generate per input.
func WithN(n int) CallOption {
	return func(o *CallOptions) {
		o.N = n
	}
}

// WithRepetitionPenalty sets the repetition penalty for sampling.
func WithRepetitionPenalty(repetitionPenalty float64) CallOption {
	return func(o *CallOptions) {
		o.RepetitionPenalty = repetitionPenalty
	}
}

// WithFrequencyPenalty sets the frequency penalty for sampling.
func WithFrequencyPenalty(frequencyPenalty float64) CallOption {
	return func(o *CallOptions) {
		o.FrequencyPenalty = frequencyPenalty
	}
}

// WithPresencePenalty sets the presence penalty for sampling.
func WithPresencePenalty(presencePenalty float64) CallOption {
	return func(o *CallOptions) {
		o.PresencePenalty = presencePenalty
	}
}

// WithToolChoice sets the tool choice: "none", "auto", or a ToolChoice.
func WithToolChoice(choice any) CallOption {
	return func(o *CallOptions) {
		o.ToolChoice = choice
	}
}

// WithTools sets the tools available to the model.
func WithTools(tools []Tool) CallOption {
	return func(o *CallOptions) {
		o.Tools = tools
	}
}

// WithFunctions sets the functions to include in the request.
//
// Deprecated: Use WithTools instead.
func WithFunctions(functions []FunctionDefinition) CallOption {
	return func(o *CallOptions) {
		tools := make([]Tool, len(functions))
		for i := range functions {
			tools[i] = Tool{
				Type:     "function",
				Function: &functions[i],
			}
		}
		o.Tools = tools
	}
}

// WithMetadata sets provider-specific request metadata.
func WithMetadata(metadata map[string]any) CallOption {
	return func(o *CallOptions) {
		o.Metadata = metadata
	}
}

// WithResponseFormat switches the call to structured output.
func WithResponseFormat(responseFormat *schema.ResponseFormat) CallOption {
	return func(o *CallOptions) {
		o.ResponseFormat = responseFormat
	}
}

// WithPromptCachePolicy sets the prompt caching policy.
func WithPromptCachePolicy(policy *PromptCachePolicy) CallOption {
	return func(o *CallOptions) {
		o.PromptCachePolicy = policy
	}
}

// WithReasoningEffort sets the reasoning effort.
func WithReasoningEffort(effort ReasoningEffort) CallOption {
	return func(o *CallOptions) {
		o.ReasoningEffort = effort
	}
}
