package prompts

import (
	"github.com/effective-security/biomcp/pkg/llms"
)

// ChatPromptTemplate is a prompt template for chat messages.
type ChatPromptTemplate struct {
	// Messages is the list of the messages to be formatted.
	Messages []MessageFormatter
}

var _ FormatPrompter = ChatPromptTemplate{}

// NewChatPromptTemplate creates a new chat prompt template from a list of
// message formatters.
func NewChatPromptTemplate(messages []MessageFormatter) ChatPromptTemplate {
	return ChatPromptTemplate{Messages: messages}
}

// FormatPrompt formats the messages with the values and returns them as a
// chat prompt value.
func (p ChatPromptTemplate) FormatPrompt(values map[string]any) (llms.PromptValue, error) {
	formattedMessages, err := p.FormatMessages(values)
	if err != nil {
		return nil, err
	}
	return ChatPromptValue(formattedMessages), nil
}

// FormatMessages formats the messages with the given values.
func (p ChatPromptTemplate) FormatMessages(values map[string]any) ([]llms.Message, error) {
	formattedMessages := make([]llms.Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		curFormattedMessages, err := m.FormatMessages(values)
		if err != nil {
			return nil, err
		}
		formattedMessages = append(formattedMessages, curFormattedMessages...)
	}
	return formattedMessages, nil
}

// GetInputVariables returns the input variables all the messages expect.
func (p ChatPromptTemplate) GetInputVariables() []string {
	var inputVariables []string
	for _, msg := range p.Messages {
		inputVariables = append(inputVariables, msg.GetInputVariables()...)
	}
	return inputVariables
}
