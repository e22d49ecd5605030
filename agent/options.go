package agent

import (
	"context"

	"github.com/effective-security/biomcp/chatmodel"
	"github.com/effective-security/biomcp/encoding"
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/biomcp/pkg/schema"
	"github.com/effective-security/biomcp/store"
)

// Defaults for run budgets.
const (
	// DefaultMaxSteps bounds the LLM rounds of a single run.
	DefaultMaxSteps = 10
	// DefaultMaxToolCalls bounds tool executions of a single run.
	DefaultMaxToolCalls = 50
	// DefaultMaxMessages bounds the conversation length of a single run.
	DefaultMaxMessages = 100
	// DefaultMaxContentSize bounds the conversation content bytes of a single run.
	DefaultMaxContentSize = 1024 * 1024
	// DefaultMaxRetries bounds retries of empty LLM responses.
	DefaultMaxRetries = 3
)

// Option is a function that can be used to modify the behavior of the Agent Config.
type Option func(*Config)

type Config struct {
	// Model is the model to use in an LLM call.
	Model    string
	modelSet bool

	// MaxTokens is the maximum number of tokens to generate to use in an LLM call.
	MaxTokens    int
	maxTokensSet bool

	// Temperature is the temperature for sampling to use in an LLM call, between 0 and 1.
	Temperature    float64
	temperatureSet bool

	// StopWords is a list of words to stop on to use in an LLM call.
	StopWords    []string
	stopWordsSet bool

	// TopK is the number of tokens to consider for top-k sampling in an LLM call.
	TopK    int
	topkSet bool

	// TopP is the cumulative probability for top-p sampling in an LLM call.
	TopP    float64
	toppSet bool

	// Seed is a seed for deterministic sampling in an LLM call.
	Seed    int
	seedSet bool

	// MinLength is the minimum length of the generated text in an LLM call.
	MinLength    int
	minLengthSet bool

	// MaxLength is the maximum content size in bytes of the whole conversation.
	MaxLength    int
	maxLengthSet bool

	// RepetitionPenalty is the repetition penalty for sampling in an LLM call.
	RepetitionPenalty    float64
	repetitionPenaltySet bool

	// CallbackHandler is the callback handler for the assistant lifecycle events.
	CallbackHandler Callback

	// Tools is a list of tools to use. Each tool can be a specific tool or a function.
	Tools    []llms.Tool
	toolsSet bool

	// ToolChoice is the choice of tool to use, it can either be "none", "auto" (the default behavior), or a specific tool as described in the ToolChoice type.
	ToolChoice    any
	toolChoiceSet bool

	// ResponseFormat is a custom response format for providers that support structured output.
	ResponseFormat *schema.ResponseFormat

	// StreamingFunc is a function to be called for each chunk of a streaming response.
	// Return an error to stop streaming early.
	StreamingFunc func(ctx context.Context, chunk []byte) error

	//
	// Below are the options for the Agent, not related to LLM call
	//

	// MaxSteps is the maximum number of LLM rounds in a single run.
	MaxSteps int
	// MaxToolCalls is the maximum number of tool executions in a single run.
	MaxToolCalls int
	// MaxMessages is the maximum conversation length in a single run.
	MaxMessages int

	// Store persists the chat history between runs.
	Store store.MessageStore

	PromptInput map[string]any
	Examples    chatmodel.FewShotExamples
	Mode        encoding.Mode

	// SkipMessageHistory skips adding run messages to the Store.
	SkipMessageHistory bool
	// SkipToolHistory skips adding tool calls and their responses to the Store.
	SkipToolHistory bool
	// IsGeneric marks runs on behalf of another assistant,
	// recorded with the generic role in history.
	IsGeneric bool
}

func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Mode:         encoding.ModeDefault,
		MaxSteps:     DefaultMaxSteps,
		MaxToolCalls: DefaultMaxToolCalls,
		MaxMessages:  DefaultMaxMessages,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Apply returns a copy of the config with the given options applied.
func (c *Config) Apply(opts ...Option) *Config {
	cfg := *c
	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMode is an option that allows to specify the encoding mode.
func WithMode(mode encoding.Mode) Option {
	return func(o *Config) {
		o.Mode = mode
	}
}

// WithExamples is an option that allows to specify the few-shot examples for the system prompt.
func WithExamples(examples chatmodel.FewShotExamples) Option {
	return func(o *Config) {
		o.Examples = examples
	}
}

// WithStore is an option that allows to persist chat history between runs.
func WithStore(s store.MessageStore) Option {
	return func(o *Config) {
		o.Store = s
	}
}

// WithSkipMessageHistory is an option that allows to skip adding Assistant messages to History.
func WithSkipMessageHistory(skip bool) Option {
	return func(o *Config) {
		o.SkipMessageHistory = skip
	}
}

// WithSkipToolHistory is an option that allows to skip adding tool calls to History.
func WithSkipToolHistory(skip bool) Option {
	return func(o *Config) {
		o.SkipToolHistory = skip
	}
}

// WithGeneric marks runs on behalf of another assistant.
func WithGeneric(generic bool) Option {
	return func(o *Config) {
		o.IsGeneric = generic
	}
}

// WithMaxSteps is an option that bounds the LLM rounds of a single run.
func WithMaxSteps(steps int) Option {
	return func(o *Config) {
		o.MaxSteps = steps
	}
}

// WithMaxToolCalls is an option that bounds tool executions of a single run.
func WithMaxToolCalls(calls int) Option {
	return func(o *Config) {
		o.MaxToolCalls = calls
	}
}

// WithMaxMessages is an option that bounds the conversation length of a single run.
func WithMaxMessages(messages int) Option {
	return func(o *Config) {
		o.MaxMessages = messages
	}
}

// WithPromptInput is an option that allows the user to specify the system prompt input.
func WithPromptInput(input map[string]any) Option {
	return func(o *Config) {
		o.PromptInput = input
	}
}

// WithResponseFormat is an option that allows setting a custom response format.
func WithResponseFormat(rf *schema.ResponseFormat) Option {
	return func(o *Config) {
		o.ResponseFormat = rf
	}
}

// WithModel is an option for LLM.Call.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
		o.modelSet = true
	}
}

// WithMaxTokens is an option for LLM.Call.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Config) {
		o.MaxTokens = maxTokens
		o.maxTokensSet = true
	}
}

// WithTemperature is an option for LLM.Call.
func WithTemperature(temperature float64) Option {
	return func(o *Config) {
		o.Temperature = temperature
		o.temperatureSet = true
	}
}

// WithStreamingFunc is an option for LLM.Call that allows streaming responses.
func WithStreamingFunc(streamingFunc func(ctx context.Context, chunk []byte) error) Option {
	return func(o *Config) {
		o.StreamingFunc = streamingFunc
	}
}

// WithTopK will add an option to use top-k sampling for LLM.Call.
func WithTopK(topK int) Option {
	return func(o *Config) {
		o.TopK = topK
		o.topkSet = true
	}
}

// WithTopP	will add an option to use top-p sampling for LLM.Call.
func WithTopP(topP float64) Option {
	return func(o *Config) {
		o.TopP = topP
		o.toppSet = true
	}
}

// WithSeed will add an option to use deterministic sampling for LLM.Call.
func WithSeed(seed int) Option {
	return func(o *Config) {
		o.Seed = seed
		o.seedSet = true
	}
}

// WithMinLength will add an option to set the minimum length of the generated text for LLM.Call.
func WithMinLength(minLength int) Option {
	return func(o *Config) {
		o.MinLength = minLength
		o.minLengthSet = true
	}
}

// WithMaxLength will add an option to set the maximum conversation content size in bytes.
func WithMaxLength(maxLength int) Option {
	return func(o *Config) {
		o.MaxLength = maxLength
		o.maxLengthSet = true
	}
}

// WithRepetitionPenalty will add an option to set the repetition penalty for sampling.
func WithRepetitionPenalty(repetitionPenalty float64) Option {
	return func(o *Config) {
		o.RepetitionPenalty = repetitionPenalty
		o.repetitionPenaltySet = true
	}
}

// WithStopWords is an option for setting the stop words for LLM.Call.
func WithStopWords(stopWords []string) Option {
	return func(o *Config) {
		o.StopWords = stopWords
		o.stopWordsSet = true
	}
}

// WithCallback allows setting a custom Callback Handler.
func WithCallback(callbackHandler Callback) Option {
	return func(o *Config) {
		o.CallbackHandler = callbackHandler
	}
}

// WithTools is an option for LLM.Call.
func WithTools(tools []llms.Tool) Option {
	return func(o *Config) {
		o.Tools = tools
		o.toolsSet = true
	}
}

// WithTool is an option for LLM.Call.
func WithTool(tool llms.Tool) Option {
	return func(o *Config) {
		o.Tools = append(o.Tools, tool)
		o.toolsSet = true
	}
}

// WithToolChoice is an option for LLM.Call.
func WithToolChoice(choice any) Option {
	return func(o *Config) {
		o.ToolChoice = choice
		o.toolChoiceSet = true
	}
}

func (c *Config) GetCallOptions(options ...Option) []llms.CallOption {
	cfg := c.Apply(options...)

	var callOptions []llms.CallOption
	if cfg.modelSet {
		callOptions = append(callOptions, llms.WithModel(cfg.Model))
	}
	if cfg.maxTokensSet {
		callOptions = append(callOptions, llms.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.temperatureSet {
		callOptions = append(callOptions, llms.WithTemperature(cfg.Temperature))
	}
	if cfg.stopWordsSet {
		callOptions = append(callOptions, llms.WithStopWords(cfg.StopWords))
	}
	if cfg.topkSet {
		callOptions = append(callOptions, llms.WithTopK(cfg.TopK))
	}
	if cfg.toppSet {
		callOptions = append(callOptions, llms.WithTopP(cfg.TopP))
	}
	if cfg.seedSet {
		callOptions = append(callOptions, llms.WithSeed(cfg.Seed))
	}
	if cfg.minLengthSet {
		callOptions = append(callOptions, llms.WithMinLength(cfg.MinLength))
	}
	if cfg.maxLengthSet {
		callOptions = append(callOptions, llms.WithMaxLength(cfg.MaxLength))
	}
	if cfg.repetitionPenaltySet {
		callOptions = append(callOptions, llms.WithRepetitionPenalty(cfg.RepetitionPenalty))
	}
	if cfg.toolsSet {
		callOptions = append(callOptions, llms.WithTools(cfg.Tools))
	}
	if cfg.toolChoiceSet {
		callOptions = append(callOptions, llms.WithToolChoice(cfg.ToolChoice))
	}
	if cfg.ResponseFormat != nil {
		callOptions = append(callOptions, llms.WithResponseFormat(cfg.ResponseFormat))
	}
	if cfg.StreamingFunc != nil {
		callOptions = append(callOptions, llms.WithStreamingFunc(cfg.StreamingFunc))
	}

	return callOptions
}
