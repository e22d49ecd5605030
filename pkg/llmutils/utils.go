// Package llmutils holds small helpers for cleaning up and inspecting
// model output: code-fence trimming, JSON extraction, comment tags, and
// content size accounting.
package llmutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/x/values"
	"gopkg.in/yaml.v3"
)

// CleanJSON extracts the JSON value from a reply that may wrap it in
// prose, e.g. "Here you go: {...}. Let me know if that helps."
// It trims everything before the first '{' or '[' and after the last
// '}' or ']'.
func CleanJSON(bs []byte) []byte {
	start := len(bs)
	if i := bytes.IndexByte(bs, '{'); i != -1 {
		start = i
	}
	if i := bytes.IndexByte(bs, '['); i != -1 && i < start {
		start = i
	}
	if start == len(bs) {
		return bs
	}
	bs = bs[start:]

	end := -1
	if i := bytes.LastIndexByte(bs, '}'); i != -1 {
		end = i
	}
	if i := bytes.LastIndexByte(bs, ']'); i > end {
		end = i
	}
	if end == -1 {
		return bs
	}
	return bs[:end+1]
}

// TrimBackticks removes a ``` or ```json fence around the text.
func TrimBackticks(text string) string {
	return string(BytesTrimBackticks([]byte(text)))
}

var backtick = []byte("```")

// BytesTrimBackticks removes a ``` or ```json fence around the bytes.
// The language hint after the opening fence is skipped up to the first
// newline, unless the payload starts immediately with '{' or '['.
func BytesTrimBackticks(bs []byte) []byte {
	size := len(bs)
	start := bytes.Index(bs, backtick)
	if start == -1 {
		return bs
	}
	start += len(backtick)

	for i := start; i < size && bs[i] != '{' && bs[i] != '['; i++ {
		if bs[i] == '\n' {
			start = i + 1
			break
		}
	}

	rest := bs[start:]
	end := bytes.LastIndex(rest, backtick)
	if end == -1 {
		return rest
	}
	return bytes.TrimSpace(rest[:end])
}

// StripComments removes the first <!-- --> comment from the text.
func StripComments(text string) string {
	before, after, ok := strings.Cut(text, "<!--")
	if !ok {
		return text
	}
	_, tail, ok := strings.Cut(after, "-->")
	if !ok {
		return text
	}
	if len(tail) > 1 && tail[0] == '\n' {
		tail = tail[1:]
	}
	return before + tail
}

// RemoveAllComments removes every <!-- --> comment from the text.
func RemoveAllComments(input string) string {
	for {
		cleaned := StripComments(input)
		if cleaned == input {
			return cleaned
		}
		input = cleaned
	}
}

// AddComment prepends a metadata comment used to track the origin of
// scratchpad content.
func AddComment(role, name, typ, content string) string {
	return fmt.Sprintf("<!-- @role=%s @name=%s @content=%s -->\n", role, name, typ) + content
}

func JSONIndent(body string) string {
	var buf bytes.Buffer
	_ = json.Indent(&buf, []byte(body), "", "\t")
	return buf.String()
}

func ToJSON(val any) string {
	js, _ := json.Marshal(val)
	return string(js)
}

func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

func ToYAML(val any) string {
	js, _ := yaml.Marshal(val)
	return string(js)
}

func BackticksJSON(js string) string {
	return "\n```json\n" + strings.TrimSpace(js) + "\n```\n"
}

func BackticksYAM(js string) string {
	return "\n```yaml\n" + strings.TrimSpace(js) + "\n```\n"
}

type Stringer interface {
	String() string
}

// Stringify renders a value for inclusion in message content: strings
// and Stringers pass through, everything else becomes fenced JSON.
func Stringify(s any) string {
	if v, ok := s.(Stringer); ok {
		return v.String()
	}
	if v, ok := s.(string); ok {
		return v
	}
	js, _ := json.MarshalIndent(s, "", "\t")
	return BackticksJSON(string(js))
}

// NewContentResponse wraps a value as a single-choice content response.
func NewContentResponse(val any) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				Content: Stringify(val),
			},
		},
	}
}

// MergeInputs combines configured defaults with user inputs, where the
// user values win.
func MergeInputs(configInputs map[string]any, userInputs map[string]any) map[string]any {
	res := make(map[string]any, len(configInputs)+len(userInputs))
	for k, v := range configInputs {
		res[k] = v
	}
	for k, v := range userInputs {
		res[k] = v
	}
	return res
}

// RoleName returns a display name for the message role.
func RoleName(role llms.Role) string {
	switch role {
	case llms.RoleAI:
		return "AI"
	case llms.RoleHuman:
		return "Human"
	case llms.RoleSystem:
		return "System"
	case llms.RoleGeneric:
		return "Generic"
	case llms.RoleTool:
		return "Tool"
	default:
		return string(role)
	}
}

// PrintMessages is a debugging helper for messages. Binary parts are
// skipped.
func PrintMessages(w io.Writer, msgs []llms.Message) {
	for _, mc := range msgs {
		fmt.Fprintf(w, "%s: ", RoleName(mc.Role))
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				fmt.Fprintln(w, pp.Text)
			case llms.ImageURLContent:
				fmt.Fprintln(w, pp.URL)
			case llms.ToolCall:
				js, _ := json.Marshal(pp)
				fmt.Fprintf(w, "Tool Call: %s\n", js)
			case llms.ToolCallResponse:
				js, _ := json.Marshal(pp)
				fmt.Fprintf(w, "%s: Response: %s\n", pp.Name, js)
			}
		}
	}
}

// CountMessagesContentSize returns the total byte size of message
// content, used for scratchpad budgeting.
func CountMessagesContentSize(msgs []llms.Message) uint64 {
	var size uint64
	for _, mc := range msgs {
		size += uint64(len(mc.Role))
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				size += uint64(len(pp.Text))
			case llms.ImageURLContent:
				size += uint64(len(pp.URL)) + uint64(len(pp.Detail))
			case llms.BinaryContent:
				size += uint64(len(pp.MIMEType)) + uint64(len(pp.Data))
			case llms.ToolCall:
				size += uint64(len(pp.ID)) + uint64(len(pp.Type))
				if pp.FunctionCall != nil {
					size += uint64(len(pp.FunctionCall.Name)) + uint64(len(pp.FunctionCall.Arguments))
				}
			case llms.ToolCallResponse:
				size += uint64(len(pp.ToolCallID)) + uint64(len(pp.Name)) + uint64(len(pp.Content))
			}
		}
	}
	return size
}

// CountResponseContentSize returns the total byte size of the response
// content across all choices.
func CountResponseContentSize(resp *llms.ContentResponse) uint64 {
	var size uint64
	for _, choice := range resp.Choices {
		size += uint64(len(choice.Content)) + uint64(len(choice.ReasoningContent))
		if choice.FuncCall != nil {
			size += uint64(len(choice.FuncCall.Name)) + uint64(len(choice.FuncCall.Arguments))
		}
		for _, toolCall := range choice.ToolCalls {
			size += uint64(len(toolCall.ID)) + uint64(len(toolCall.Type))
			if toolCall.FunctionCall != nil {
				size += uint64(len(toolCall.FunctionCall.Name)) + uint64(len(toolCall.FunctionCall.Arguments))
			}
		}
	}
	return size
}

// CountTokens sums the token usage reported in the generation info.
func CountTokens(resp *llms.ContentResponse) (in, out, total int64) {
	for _, choice := range resp.Choices {
		ma := values.MapAny(choice.GenerationInfo)
		in += ma.Int64("InputTokens")
		out += ma.Int64("OutputTokens")
		total += ma.Int64("TotalTokens")
	}
	return
}

// FindLastUserQuestion returns the text of the most recent human
// message, or empty when there is none.
func FindLastUserQuestion(messages []llms.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != llms.RoleHuman {
			continue
		}
		for _, part := range msg.Parts {
			if textPart, ok := part.(llms.TextContent); ok {
				return textPart.Text
			}
		}
	}
	return ""
}

// ExtractTag returns the value of a #tag or @tag in the input, read up
// to the next space or newline.
func ExtractTag(input string, tagPrefix string) string {
	start := strings.Index(input, tagPrefix)
	if start == -1 {
		return ""
	}
	start += len(tagPrefix)

	end := strings.IndexAny(input[start:], " \n")
	if end == -1 {
		return input[start:]
	}
	return input[start : start+end]
}

// EnsureEndsWithNewline trims surrounding whitespace and guarantees a
// trailing newline on non-empty text.
func EnsureEndsWithNewline(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if s[len(s)-1] != '\n' {
		return s + "\n"
	}
	return s
}
