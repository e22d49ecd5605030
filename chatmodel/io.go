package chatmodel

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/pkg/llmutils"
	"github.com/invopop/jsonschema"
)

var (
	// ErrFailedUnmarshalOutput is returned when the LLM output cannot be decoded into the result type.
	ErrFailedUnmarshalOutput = errors.New("failed to unmarshal output")
)

// ContentProvider provides the content of a message for the chat history.
type ContentProvider interface {
	// GetContent gets the content of the message for the chat history
	GetContent() string
}

// InputParser is an optional interface for input types that parse
// themselves from a raw string instead of plain JSON decoding.
type InputParser interface {
	ParseInput(raw string) error
}

// IBaseResult is an optional interface for result types that can carry
// a clarification instead of a final answer.
type IBaseResult interface {
	SetConfidence(confidence string)
	SetClarification(clarification string)
	SetReasoning(reasoning string)
}

// InputRequest is a generic input for an assistant: a single question or request.
type InputRequest struct {
	Input string `json:"input" yaml:"input" jsonschema:"title=Input,description=The message sent by the user to the assistant."`
}

var (
	_ ContentProvider = (*InputRequest)(nil)
	_ InputParser     = (*InputRequest)(nil)
)

func NewInputRequest(input string) *InputRequest {
	return &InputRequest{Input: input}
}

func (r *InputRequest) GetContent() string {
	return r.Input
}

func (r *InputRequest) ParseInput(raw string) error {
	err := json.Unmarshal(llmutils.CleanJSON([]byte(raw)), r)
	if err != nil {
		return errors.WithStack(ErrFailedUnmarshalInput)
	}
	return nil
}

func (InputRequest) JSONSchemaExtend(schema *jsonschema.Schema) {
	schema.Title = "Input Request"
}

// ChatInputRequest is an input bound to an existing chat session.
type ChatInputRequest struct {
	ChatID string `json:"chatID" yaml:"chatID" jsonschema:"title=Chat ID,description=The ID of the chat session."`
	Input  string `json:"input" yaml:"input" jsonschema:"title=Input,description=The input question or request."`
}

var (
	_ ContentProvider = (*ChatInputRequest)(nil)
	_ InputParser     = (*ChatInputRequest)(nil)
)

func (r *ChatInputRequest) GetContent() string {
	return r.Input
}

func (r *ChatInputRequest) ParseInput(raw string) error {
	err := json.Unmarshal(llmutils.CleanJSON([]byte(raw)), r)
	if err != nil {
		return errors.WithStack(ErrFailedUnmarshalInput)
	}
	return nil
}

func (ChatInputRequest) JSONSchemaExtend(schema *jsonschema.Schema) {
	schema.Title = "Chat Input Request"
}

// OutputResult is a generic result from an assistant: a single text answer.
type OutputResult struct {
	Content string `json:"content" yaml:"content" jsonschema:"title=Content,description=The answer content."`
}

var _ ContentProvider = (*OutputResult)(nil)

func NewOutputResult(content string) *OutputResult {
	return &OutputResult{Content: content}
}

func (r OutputResult) GetContent() string {
	return r.Content
}

// BaseClarificationResult can be embedded in result types to carry
// confidence and clarification fields.
type BaseClarificationResult struct {
	Confidence    string `json:"confidence,omitempty" yaml:"confidence,omitempty" jsonschema:"title=Confidence,description=The confidence level: High | Medium | Low."`
	Clarification string `json:"clarification,omitempty" yaml:"clarification,omitempty" jsonschema:"title=Clarification,description=A clarifying question when the request cannot be answered as is."`
	Reasoning     string `json:"reasoning,omitempty" yaml:"reasoning,omitempty" jsonschema:"title=Reasoning,description=Short reasoning for the answer."`
}

var _ IBaseResult = (*BaseClarificationResult)(nil)

func (r *BaseClarificationResult) SetConfidence(confidence string) {
	r.Confidence = confidence
}

func (r *BaseClarificationResult) SetClarification(clarification string) {
	r.Clarification = clarification
}

func (r *BaseClarificationResult) SetReasoning(reasoning string) {
	r.Reasoning = reasoning
}
