// Package agent provides the LLM orchestration loop: an assistant that
// drives native function calling over the tools discovered on MCP servers,
// with callbacks, budgets and chat history.
package agent

import (
	"context"
	"strings"

	"github.com/effective-security/biomcp/chatmodel"
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/biomcp/pkg/llmutils"
	"github.com/effective-security/biomcp/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/biomcp", "agent")

//go:generate mockgen -destination=../mocks/mockllms/llm_mock.gen.go -package mockllms github.com/effective-security/biomcp/pkg/llms  Model

// CallInput is the input for an assistant call.
type CallInput struct {
	// Input is the message sent by the user.
	Input string
	// PromptInputs provides values for the system prompt template.
	PromptInputs map[string]any
	// Messages are additional messages to append to the conversation,
	// after the user input.
	Messages []llms.Message
	// Options are per call options.
	Options []Option
}

// ProvidePromptInputsFunc returns additional prompt inputs for the system prompt,
// resolved from the context and the user input.
type ProvidePromptInputsFunc func(ctx context.Context, input string) (map[string]any, error)

type IAssistant interface {
	// Name returns the name of the Assistant.
	Name() string
	// Description returns the description of the Assistant, to be used in the prompt of other Assistants or LLMs.
	// Should not exceed LLM model limit.
	Description() string
	// GetTools returns the tools registered with the Assistant.
	GetTools() []tools.ITool

	Call(ctx context.Context, req *CallInput) (*llms.ContentResponse, error)
}

type HasCallback interface {
	GetCallback() Callback
}

type TypeableAssistant[O chatmodel.ContentProvider] interface {
	IAssistant
	HasCallback
	// Run executes the assistant with the given input,
	// and decodes the response into the optional output value.
	// Do not use this method directly, use the Run function instead.
	Run(ctx context.Context, req *CallInput, optionalOutputType *O) (*llms.ContentResponse, error)
}

type Callback interface {
	tools.Callback
	OnAssistantStart(ctx context.Context, assistant IAssistant, input string)
	OnAssistantEnd(ctx context.Context, assistant IAssistant, input string, resp *llms.ContentResponse, messages []llms.Message)
	OnAssistantError(ctx context.Context, assistant IAssistant, input string, err error, messages []llms.Message)
	OnAssistantLLMCallStart(ctx context.Context, assistant IAssistant, llm llms.Model, payload []llms.Message)
	OnAssistantLLMCallEnd(ctx context.Context, assistant IAssistant, llm llms.Model, resp *llms.ContentResponse)
	OnAssistantLLMParseError(ctx context.Context, assistant IAssistant, input string, response string, err error)
	OnToolNotFound(ctx context.Context, assistant IAssistant, tool string)
}

type toolDescription struct {
	Name        string `json:"Name" yaml:"Name"`
	Description string `json:"Description" yaml:"Description"`
}

type assistantDescription struct {
	Name        string            `json:"Name" yaml:"Name"`
	Description string            `json:"Description" yaml:"Description"`
	Tools       []toolDescription `json:"Tools,omitempty" yaml:"Tools,omitempty"`
}

type assistantsDescription struct {
	Assistants []assistantDescription `json:"Assistants" yaml:"Assistants"`
}

// describe joins the lines of a description into sentences,
// so that it renders on a single line in the prompt.
func describe(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(strings.TrimSpace(line), ".")
	}
	return strings.Join(lines, ". ") + "."
}

// GetDescriptions returns the descriptions of the assistants,
// as a JSON block to include in a prompt.
func GetDescriptions(list ...IAssistant) string {
	var d assistantsDescription
	for _, assistant := range list {
		d.Assistants = append(d.Assistants, assistantDescription{
			Name:        assistant.Name(),
			Description: describe(assistant.Description()),
		})
	}
	return llmutils.BackticksJSON(llmutils.ToJSONIndent(d))
}

// GetDescriptionsWithTools returns the descriptions of the assistants and their tools,
// as a JSON block to include in a prompt.
func GetDescriptionsWithTools(list ...IAssistant) string {
	var d assistantsDescription
	for _, assistant := range list {
		ad := assistantDescription{
			Name:        assistant.Name(),
			Description: describe(assistant.Description()),
		}
		for _, tool := range assistant.GetTools() {
			ad.Tools = append(ad.Tools, toolDescription{
				Name:        tool.Name(),
				Description: describe(tool.Description()),
			})
		}
		d.Assistants = append(d.Assistants, ad)
	}
	return llmutils.BackticksJSON(llmutils.ToJSONIndent(d))
}

func MapAssistants(list ...IAssistant) map[string]IAssistant {
	if len(list) == 0 {
		return nil
	}
	m := make(map[string]IAssistant, len(list))
	for _, a := range list {
		m[a.Name()] = a
	}
	return m
}

// Run executes the assistant with the given input and decodes the
// response into the output value. The assistant notifies its own
// callback for lifecycle events.
func Run[O chatmodel.ContentProvider](
	ctx context.Context,
	assistant TypeableAssistant[O],
	req *CallInput,
	optionalOutputType *O,
) (*llms.ContentResponse, error) {
	return assistant.Run(ctx, req, optionalOutputType)
}

// Call executes a generic assistant without typed output.
func Call(
	ctx context.Context,
	assistant IAssistant,
	req *CallInput,
) (*llms.ContentResponse, error) {
	return assistant.Call(ctx, req)
}
