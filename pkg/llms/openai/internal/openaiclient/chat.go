package openaiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/biomcp/pkg/schema"
)

const (
	defaultChatModel = "gpt-4o"
)

// StreamOptions are options for streaming responses.
type StreamOptions struct {
	// IncludeUsage requests an additional chunk before the data: [DONE] message
	// carrying the token usage statistics for the entire request.
	IncludeUsage bool `json:"include_usage"`
}

// ChatRequest is a request to complete a chat completion.
type ChatRequest struct {
	Model            string         `json:"model"`
	Messages         []*ChatMessage `json:"messages"`
	Temperature      float64        `json:"temperature"`
	TopP             float64        `json:"top_p,omitempty"`
	N                int            `json:"n,omitempty"`
	StopWords        []string       `json:"stop,omitempty"`
	Stream           bool           `json:"stream,omitempty"`
	FrequencyPenalty float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64        `json:"presence_penalty,omitempty"`
	Seed             int            `json:"seed,omitempty"`

	// MaxCompletionTokens is an upper bound for the number of tokens that can be
	// generated for a completion, including visible output and reasoning tokens.
	MaxCompletionTokens int `json:"max_completion_tokens,omitempty"`

	// ResponseFormat is the format of the response.
	ResponseFormat *schema.ResponseFormat `json:"response_format,omitempty"`

	Tools []Tool `json:"tools,omitempty"`
	// ToolChoice is the choice of tool to use, it can either be "none", "auto"
	// (the default behavior), or a specific tool described in the ToolChoice type.
	ToolChoice any `json:"tool_choice,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// ReasoningEffort constrains effort on reasoning for supported models.
	ReasoningEffort string `json:"reasoning_effort,omitempty"`

	// PromptCacheKey scopes automatic prompt caching to a caller-chosen key.
	PromptCacheKey string `json:"prompt_cache_key,omitempty"`
	// PromptCacheRetention selects the cache retention window ("in_memory" or "24h").
	PromptCacheRetention string `json:"prompt_cache_retention,omitempty"`

	StreamOptions *StreamOptions `json:"stream_options,omitempty"`

	// StreamingFunc is a function to be called for each chunk of a streaming response.
	// Return an error to stop streaming early.
	StreamingFunc func(ctx context.Context, chunk []byte) error `json:"-"`
	// StreamingReasoningFunc is called for each reasoning and content chunk pair of a
	// streaming response from models that emit reasoning content.
	StreamingReasoningFunc func(ctx context.Context, reasoningChunk, chunk []byte) error `json:"-"`
}

// ChatMessage is a message in a chat request.
type ChatMessage struct {
	// The role of the author of this message. One of system, user, assistant, or tool.
	Role string `json:"role"`
	// The content of the message.
	Content string `json:"content"`
	// MultiContent is a list of content parts used instead of Content when present.
	MultiContent []llms.ContentPart `json:"-"`

	// The name of the author of this message.
	Name string `json:"name,omitempty"`

	// ToolCalls is a list of tools that were called in the message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// FunctionCall represents a legacy function call made in the message.
	FunctionCall *FunctionCall `json:"function_call,omitempty"`

	// ToolCallID is the ID of the tool call this message is for.
	// Only present in tool messages.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ReasoningContent is the reasoning emitted before the final answer by
	// models that expose it, such as deepseek-reasoner.
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type chatMessagePart struct {
	Type     string               `json:"type"`
	Text     string               `json:"text,omitempty"`
	ImageURL *chatMessageImageURL `json:"image_url,omitempty"`
}

type chatMessageImageURL struct {
	URL    string `json:"url,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// MarshalJSON renders MultiContent as the content part array the API expects,
// falling back to the plain string content otherwise.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	msg := struct {
		Role             string        `json:"role"`
		Content          any           `json:"content"`
		Name             string        `json:"name,omitempty"`
		ToolCalls        []ToolCall    `json:"tool_calls,omitempty"`
		FunctionCall     *FunctionCall `json:"function_call,omitempty"`
		ToolCallID       string        `json:"tool_call_id,omitempty"`
		ReasoningContent string        `json:"reasoning_content,omitempty"`
	}{
		Role:             m.Role,
		Content:          m.Content,
		Name:             m.Name,
		ToolCalls:        m.ToolCalls,
		FunctionCall:     m.FunctionCall,
		ToolCallID:       m.ToolCallID,
		ReasoningContent: m.ReasoningContent,
	}

	if len(m.MultiContent) > 0 {
		parts := make([]chatMessagePart, 0, len(m.MultiContent))
		for _, part := range m.MultiContent {
			switch p := part.(type) {
			case llms.TextContent:
				parts = append(parts, chatMessagePart{Type: "text", Text: p.Text})
			case llms.ImageURLContent:
				parts = append(parts, chatMessagePart{
					Type:     "image_url",
					ImageURL: &chatMessageImageURL{URL: p.URL, Detail: p.Detail},
				})
			case llms.BinaryContent:
				parts = append(parts, chatMessagePart{
					Type:     "image_url",
					ImageURL: &chatMessageImageURL{URL: p.String()},
				})
			default:
				return nil, errors.Errorf("unsupported content part type: %T", part)
			}
		}
		msg.Content = parts
	}

	return json.Marshal(msg)
}

// FinishReason is the reason a chat completion finished.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonFunctionCall  FinishReason = "function_call"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
)

// ChatCompletionChoice is a choice in a chat response.
type ChatCompletionChoice struct {
	Index        int          `json:"index"`
	Message      ChatMessage  `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
}

// ChatUsage is the token accounting returned with a chat completion.
type ChatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`

	PromptTokensDetails struct {
		CachedTokens int64 `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`

	CompletionTokensDetails struct {
		ReasoningTokens int64 `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
}

// ChatCompletionResponse is a response to a chat request.
type ChatCompletionResponse struct {
	ID                string                  `json:"id,omitempty"`
	Created           int64                   `json:"created,omitempty"`
	Choices           []*ChatCompletionChoice `json:"choices,omitempty"`
	Model             string                  `json:"model,omitempty"`
	Object            string                  `json:"object,omitempty"`
	Usage             ChatUsage               `json:"usage,omitempty"`
	SystemFingerprint string                  `json:"system_fingerprint,omitempty"`
}

// StreamedChatResponsePayload is a chunk from the stream.
type StreamedChatResponsePayload struct {
	ID      string  `json:"id,omitempty"`
	Created float64 `json:"created,omitempty"`
	Model   string  `json:"model,omitempty"`
	Object  string  `json:"object,omitempty"`
	Choices []struct {
		Index float64 `json:"index,omitempty"`
		Delta struct {
			Role             string        `json:"role,omitempty"`
			Content          string        `json:"content,omitempty"`
			ReasoningContent string        `json:"reasoning_content,omitempty"`
			FunctionCall     *FunctionCall `json:"function_call,omitempty"`
			ToolCalls        []*ToolCall   `json:"tool_calls,omitempty"`
		} `json:"delta,omitempty"`
		FinishReason FinishReason `json:"finish_reason,omitempty"`
	} `json:"choices,omitempty"`
	SystemFingerprint string     `json:"system_fingerprint,omitempty"`
	Usage             *ChatUsage `json:"usage,omitempty"`
	Error             error      `json:"-"`
}

// FunctionDefinition is a definition of a function that can be called by the model.
type FunctionDefinition struct {
	// Name is the name of the function.
	Name string `json:"name"`
	// Description is a description of the function.
	Description string `json:"description,omitempty"`
	// Parameters is a list of parameters for the function.
	Parameters any `json:"parameters"`
	// Strict requires the model to match the parameter schema exactly.
	Strict bool `json:"strict,omitempty"`
}

// FunctionCall is a call to a function.
type FunctionCall struct {
	// Name is the name of the function to call.
	Name string `json:"name"`
	// Arguments is the set of arguments to pass to the function.
	Arguments string `json:"arguments"`
}

// Tool is a tool to use in a chat request.
type Tool struct {
	Type     ToolType           `json:"type"`
	Function FunctionDefinition `json:"function,omitempty"`
}

// ToolCall is a call to a tool.
type ToolCall struct {
	// ID is the unique identifier of the tool call.
	ID string `json:"id"`
	// Type is the type of the tool call.
	Type ToolType `json:"type"`
	// Function is the function to call.
	Function ToolFunction `json:"function,omitempty"`
	// Index is the index of the tool call in the request, used to match
	// streamed argument deltas to their call.
	Index *int `json:"index,omitempty"`
}

// ToolFunction is a function to be called in a tool choice.
type ToolFunction struct {
	// Name is the name of the function.
	Name string `json:"name,omitempty"`
	// Arguments is the argument list for the function, encoded as JSON.
	Arguments string `json:"arguments,omitempty"`
}

func (c *Client) createChat(ctx context.Context, payload *ChatRequest) (*ChatCompletionResponse, error) {
	if payload.StreamingFunc != nil || payload.StreamingReasoningFunc != nil {
		payload.Stream = true
		if payload.StreamOptions == nil {
			payload.StreamOptions = &StreamOptions{IncludeUsage: true}
		}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("/chat/completions", c.Model), bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	c.setHeaders(req)

	r, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if r.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("API returned unexpected status code: %d", r.StatusCode)

		// No need to check the error here: if it fails, we'll just return the
		// status code.
		var errResp errorMessage
		if err := json.NewDecoder(r.Body).Decode(&errResp); err != nil {
			return nil, errors.New(msg) // nolint:goerr113
		}

		return nil, errors.Errorf("%s: %s", msg, errResp.Error.Message) // nolint:goerr113
	}

	if payload.StreamingFunc != nil || payload.StreamingReasoningFunc != nil {
		return parseStreamingChatResponse(ctx, r, payload)
	}

	var response ChatCompletionResponse
	if err := json.NewDecoder(r.Body).Decode(&response); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return &response, nil
}

func parseStreamingChatResponse(ctx context.Context, r *http.Response, payload *ChatRequest) (*ChatCompletionResponse, error) {
	scanner := bufio.NewScanner(r.Body)
	responseChan := make(chan StreamedChatResponsePayload)
	go func() {
		defer close(responseChan)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var streamPayload StreamedChatResponsePayload
			if err := json.Unmarshal([]byte(data), &streamPayload); err != nil {
				streamPayload.Error = errors.Wrap(err, "decode stream payload")
				responseChan <- streamPayload
				return
			}
			responseChan <- streamPayload
		}
		if err := scanner.Err(); err != nil {
			responseChan <- StreamedChatResponsePayload{
				Error: errors.Wrap(err, "read stream"),
			}
		}
	}()

	return combineStreamingChatResponse(ctx, payload, responseChan)
}

func combineStreamingChatResponse(ctx context.Context, payload *ChatRequest,
	responseChan chan StreamedChatResponsePayload,
) (*ChatCompletionResponse, error) {
	response := ChatCompletionResponse{
		Choices: []*ChatCompletionChoice{{}},
	}

	for streamResponse := range responseChan {
		if streamResponse.Error != nil {
			return nil, streamResponse.Error
		}

		if streamResponse.Usage != nil {
			response.Usage = *streamResponse.Usage
		}

		if len(streamResponse.Choices) == 0 {
			continue
		}

		choice := streamResponse.Choices[0]
		chunk := []byte(choice.Delta.Content)
		reasoningChunk := []byte(choice.Delta.ReasoningContent)
		response.Choices[0].Message.Content += choice.Delta.Content
		response.Choices[0].Message.ReasoningContent += choice.Delta.ReasoningContent
		if choice.FinishReason != "" {
			response.Choices[0].FinishReason = choice.FinishReason
		}

		if choice.Delta.FunctionCall != nil {
			chunk = updateFunctionCall(&response.Choices[0].Message, choice.Delta.FunctionCall)
		}

		if len(choice.Delta.ToolCalls) > 0 {
			chunk, response.Choices[0].Message.ToolCalls = updateToolCalls(response.Choices[0].Message.ToolCalls, choice.Delta.ToolCalls)
		}

		if payload.StreamingFunc != nil && len(chunk) > 0 {
			if err := payload.StreamingFunc(ctx, chunk); err != nil {
				return nil, errors.Wrap(err, "streaming func returned an error")
			}
		}
		if payload.StreamingReasoningFunc != nil && (len(reasoningChunk) > 0 || len(chunk) > 0) {
			if err := payload.StreamingReasoningFunc(ctx, reasoningChunk, chunk); err != nil {
				return nil, errors.Wrap(err, "streaming reasoning func returned an error")
			}
		}
	}
	return &response, nil
}

func updateFunctionCall(message *ChatMessage, functionCall *FunctionCall) []byte {
	if message.FunctionCall == nil {
		message.FunctionCall = functionCall
	} else {
		if functionCall.Name != "" {
			message.FunctionCall.Name += functionCall.Name
		}
		if functionCall.Arguments != "" {
			message.FunctionCall.Arguments += functionCall.Arguments
		}
	}
	chunk, _ := json.Marshal(message.FunctionCall)
	return chunk
}

// updateToolCalls appends argument deltas to the tool call being assembled, or
// starts a new tool call when the delta carries a type and ID.
func updateToolCalls(tools []ToolCall, delta []*ToolCall) ([]byte, []ToolCall) {
	if len(delta) == 0 {
		return []byte{}, tools
	}

	for _, t := range delta {
		if t.Type == "" && t.Function.Arguments != "" {
			lindex := len(tools) - 1
			if lindex < 0 {
				continue
			}
			tools[lindex].Function.Arguments += t.Function.Arguments
			continue
		}
		tools = append(tools, *t)
	}

	chunk, _ := json.Marshal(delta)
	return chunk, tools
}

// CompletionRequest is a request to complete a completion.
type CompletionRequest struct {
	Model            string   `json:"model"`
	Prompt           string   `json:"prompt"`
	Temperature      float64  `json:"temperature"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
	N                int      `json:"n,omitempty"`
	FrequencyPenalty float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64  `json:"presence_penalty,omitempty"`
	TopP             float64  `json:"top_p,omitempty"`
	StopWords        []string `json:"stop,omitempty"`

	// StreamingFunc is a function to be called for each chunk of a streaming response.
	// Return an error to stop streaming early.
	StreamingFunc func(ctx context.Context, chunk []byte) error `json:"-"`
}

// createCompletion routes legacy completion requests through the chat endpoint.
func (c *Client) createCompletion(ctx context.Context, payload *CompletionRequest) (*ChatCompletionResponse, error) {
	chatPayload := &ChatRequest{
		Model: payload.Model,
		Messages: []*ChatMessage{
			{Role: "user", Content: payload.Prompt},
		},
		Temperature:         payload.Temperature,
		TopP:                payload.TopP,
		MaxCompletionTokens: payload.MaxTokens,
		N:                   payload.N,
		StopWords:           payload.StopWords,
		FrequencyPenalty:    payload.FrequencyPenalty,
		PresencePenalty:     payload.PresencePenalty,
		StreamingFunc:       payload.StreamingFunc,
	}
	return c.createChat(ctx, chatPayload)
}
