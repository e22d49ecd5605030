package anthropic_test

import (
	"net/http"
	"os"
	"reflect"
	"testing"

	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/biomcp/pkg/llms/anthropic"
	"github.com/effective-security/biomcp/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "claude-3-5-sonnet-20241022"

func TestNew_MissingToken(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	llm, err := anthropic.New(anthropic.WithModel(testModel))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing API key")
	assert.Nil(t, llm)
}

func TestNew_MissingModel(t *testing.T) {
	t.Parallel()

	llm, err := anthropic.New(anthropic.WithToken("fake-token"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is required")
	assert.Nil(t, llm)
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []anthropic.Option
	}{
		{
			name: "token and model",
			opts: nil,
		},
		{
			name: "custom base URL",
			opts: []anthropic.Option{anthropic.WithBaseURL("https://custom.anthropic.com")},
		},
		{
			name: "custom HTTP client",
			opts: []anthropic.Option{anthropic.WithHTTPClient(&http.Client{})},
		},
		{
			name: "beta header",
			opts: []anthropic.Option{anthropic.WithAnthropicBetaHeader("beta-feature-1")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := append([]anthropic.Option{
				anthropic.WithToken("fake-token"),
				anthropic.WithModel(testModel),
			}, tt.opts...)

			llm, err := anthropic.New(opts...)
			require.NoError(t, err)
			require.NotNil(t, llm)
			assert.NotNil(t, llm.Client)
			assert.NotNil(t, llm.Options)
		})
	}
}

func TestNew_TokenFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-token")

	llm, err := anthropic.New(anthropic.WithModel(testModel))
	require.NoError(t, err)
	require.NotNil(t, llm)
	assert.Equal(t, "env-token", llm.Options.Token)
}

func TestGetProviderType(t *testing.T) {
	t.Parallel()

	llm, err := anthropic.New(
		anthropic.WithToken("fake-token"),
		anthropic.WithModel(testModel),
	)
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderAnthropic, llm.GetProviderType())
}

func TestProcessMessages(t *testing.T) {
	t.Parallel()

	searchCall := llms.ToolCall{
		ID: "call_123",
		FunctionCall: &llms.FunctionCall{
			Name:      "search_targets",
			Arguments: `{"query": "BRAF"}`,
		},
	}

	tests := []struct {
		name         string
		messages     []llms.Message
		wantMessages int
		wantSystem   string
		errContains  string
	}{
		{
			name:     "empty messages",
			messages: []llms.Message{},
		},
		{
			name: "system message only",
			messages: []llms.Message{
				llms.MessageFromTextParts(llms.RoleSystem, "You are a biomedical research assistant."),
			},
			wantSystem: "You are a biomedical research assistant.",
		},
		{
			name: "multiple system messages joined",
			messages: []llms.Message{
				llms.MessageFromTextParts(llms.RoleSystem, "You are a biomedical research assistant."),
				llms.MessageFromTextParts(llms.RoleSystem, "Cite database identifiers in answers."),
			},
			wantSystem: "You are a biomedical research assistant.\nCite database identifiers in answers.",
		},
		{
			name: "human text message",
			messages: []llms.Message{
				llms.MessageFromTextParts(llms.RoleHuman, "What diseases involve BRAF?"),
			},
			wantMessages: 1,
		},
		{
			name: "human message with image",
			messages: []llms.Message{
				{
					Role: llms.RoleHuman,
					Parts: []llms.ContentPart{
						llms.TextPart("Describe this pathway diagram"),
						llms.BinaryPart("image/jpeg", []byte("fake-image-data")),
					},
				},
			},
			wantMessages: 1,
		},
		{
			name: "AI message with tool call",
			messages: []llms.Message{
				{
					Role:  llms.RoleAI,
					Parts: []llms.ContentPart{searchCall},
				},
			},
			wantMessages: 1,
		},
		{
			name: "tool message",
			messages: []llms.Message{
				{
					Role: llms.RoleTool,
					Parts: []llms.ContentPart{
						llms.ToolCallResponse{
							ToolCallID: "call_123",
							Content:    "BRAF maps to ENSG00000157764",
						},
					},
				},
			},
			wantMessages: 1,
		},
		{
			name: "generic message",
			messages: []llms.Message{
				llms.MessageFromTextParts(llms.RoleGeneric, "Session note"),
			},
			wantMessages: 1,
		},
		{
			name: "unsupported binary content",
			messages: []llms.Message{
				{
					Role: llms.RoleHuman,
					Parts: []llms.ContentPart{
						llms.BinaryPart("application/pdf", []byte("fake-pdf-data")),
					},
				},
			},
			errContains: "unsupported binary content type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			messages, system, err := anthropic.ProcessMessages(tt.messages)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Len(t, messages, tt.wantMessages)
			assert.Equal(t, tt.wantSystem, system)
		})
	}
}

func TestToTools(t *testing.T) {
	t.Parallel()

	type SearchParams struct {
		Query string `json:"query" description:"Target symbol or free text"`
	}
	searchSchema, err := schema.New(reflect.TypeOf(SearchParams{}))
	require.NoError(t, err)

	type VariantParams struct {
		Notation string `json:"notation" description:"HGVS variant notation"`
	}
	variantSchema, err := schema.New(reflect.TypeOf(VariantParams{}))
	require.NoError(t, err)

	searchTool := llms.Tool{
		Function: &llms.FunctionDefinition{
			Name:        "search_targets",
			Description: "Search for therapeutic targets",
			Parameters:  searchSchema.Parameters,
		},
	}
	variantTool := llms.Tool{
		Function: &llms.FunctionDefinition{
			Name:        "annotate_variant",
			Description: "Annotate a variant",
			Parameters:  variantSchema.Parameters,
		},
	}

	assert.Nil(t, anthropic.ToTools(nil))
	assert.Nil(t, anthropic.ToTools([]llms.Tool{}))

	result := anthropic.ToTools([]llms.Tool{searchTool, variantTool})
	require.Len(t, result, 2)

	first := result[0]
	require.NotNil(t, first.OfTool)
	assert.Equal(t, "search_targets", first.OfTool.Name)
	assert.NotNil(t, first.OfTool.Description)
	assert.Equal(t, "object", string(first.OfTool.InputSchema.Type))
	assert.Equal(t, "annotate_variant", result[1].OfTool.Name)
}

// runMessageHandlerTests drives the per-role message conversion tests,
// which only differ in the handler under test and its fixtures.
type messageHandlerTest struct {
	name        string
	msg         llms.Message
	errContains string
}

func runMessageHandlerTests[T any](t *testing.T, handler func(llms.Message) (T, error), tests []messageHandlerTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := handler(tt.msg)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, result)
		})
	}
}

func TestHandleSystemMessage(t *testing.T) {
	t.Parallel()

	content, err := anthropic.HandleSystemMessage(llms.Message{
		Parts: []llms.ContentPart{llms.TextPart("You are a biomedical research assistant.")},
	})
	require.NoError(t, err)
	assert.Equal(t, "You are a biomedical research assistant.", content)

	_, err = anthropic.HandleSystemMessage(llms.Message{
		Parts: []llms.ContentPart{llms.BinaryPart("image/jpeg", []byte("data"))},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid content type")
}

func TestHandleHumanMessage(t *testing.T) {
	t.Parallel()

	runMessageHandlerTests(t, anthropic.HandleHumanMessage, []messageHandlerTest{
		{
			name: "text only",
			msg: llms.Message{
				Parts: []llms.ContentPart{llms.TextPart("What is BRAF?")},
			},
		},
		{
			name: "text and image",
			msg: llms.Message{
				Parts: []llms.ContentPart{
					llms.TextPart("Describe this pathway diagram"),
					llms.BinaryPart("image/jpeg", []byte("fake-image-data")),
				},
			},
		},
		{
			name: "unsupported binary type",
			msg: llms.Message{
				Parts: []llms.ContentPart{
					llms.BinaryPart("application/pdf", []byte("pdf-data")),
				},
			},
			errContains: "unsupported binary content type",
		},
		{
			name:        "empty parts",
			msg:         llms.Message{Parts: []llms.ContentPart{}},
			errContains: "no valid content",
		},
	})
}

func TestHandleAIMessage(t *testing.T) {
	t.Parallel()

	runMessageHandlerTests(t, anthropic.HandleAIMessage, []messageHandlerTest{
		{
			name: "text content",
			msg: llms.Message{
				Parts: []llms.ContentPart{llms.TextPart("BRAF encodes a serine/threonine kinase.")},
			},
		},
		{
			name: "tool call",
			msg: llms.Message{
				Parts: []llms.ContentPart{
					llms.ToolCall{
						ID: "call_123",
						FunctionCall: &llms.FunctionCall{
							Name:      "search_targets",
							Arguments: `{"query": "BRAF"}`,
						},
					},
				},
			},
		},
		{
			name: "invalid JSON in tool call",
			msg: llms.Message{
				Parts: []llms.ContentPart{
					llms.ToolCall{
						ID: "call_123",
						FunctionCall: &llms.FunctionCall{
							Name:      "search_targets",
							Arguments: `{invalid-json}`,
						},
					},
				},
			},
			errContains: "failed to unmarshal tool call arguments",
		},
		{
			name:        "empty parts",
			msg:         llms.Message{Parts: []llms.ContentPart{}},
			errContains: "no valid content",
		},
	})
}

func TestHandleToolMessage(t *testing.T) {
	t.Parallel()

	runMessageHandlerTests(t, anthropic.HandleToolMessage, []messageHandlerTest{
		{
			name: "valid tool response",
			msg: llms.Message{
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: "call_123",
						Content:    "BRAF maps to ENSG00000157764",
					},
				},
			},
		},
		{
			name: "invalid content type",
			msg: llms.Message{
				Parts: []llms.ContentPart{llms.TextPart("Not a tool response")},
			},
			errContains: "invalid content type",
		},
		{
			name:        "empty parts",
			msg:         llms.Message{Parts: []llms.ContentPart{}},
			errContains: "no valid content",
		},
	})
}

// newTestClient skips unless a real API key is configured.
func newTestClient(t *testing.T, opts ...anthropic.Option) llms.Model {
	t.Helper()
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey == "" || apiKey == "fakekey" {
		t.Skip("ANTHROPIC_API_KEY not set")
		return nil
	}

	defaultOpts := []anthropic.Option{
		anthropic.WithModel(testModel),
	}
	defaultOpts = append(defaultOpts, opts...)

	llm, err := anthropic.New(defaultOpts...)
	require.NoError(t, err)
	return llm
}

func BenchmarkProcessMessages(b *testing.B) {
	messages := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "You are a biomedical research assistant."),
		llms.MessageFromTextParts(llms.RoleHuman, "What diseases involve BRAF?"),
		llms.MessageFromTextParts(llms.RoleAI, "BRAF encodes a serine/threonine kinase."),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, err := anthropic.ProcessMessages(messages)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkToTools(b *testing.B) {
	type SearchParams struct {
		Query string `json:"query"`
	}
	searchSchema, err := schema.New(reflect.TypeOf(SearchParams{}))
	if err != nil {
		b.Fatal(err)
	}

	tools := []llms.Tool{
		{
			Function: &llms.FunctionDefinition{
				Name:        "search_targets",
				Description: "Search for therapeutic targets",
				Parameters:  searchSchema.Parameters,
			},
		},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		result := anthropic.ToTools(tools)
		if len(result) != 1 {
			b.Fatal("unexpected result length")
		}
	}
}
