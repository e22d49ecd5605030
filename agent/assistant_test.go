package agent_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/agent"
	"github.com/effective-security/biomcp/chatmodel"
	"github.com/effective-security/biomcp/encoding"
	"github.com/effective-security/biomcp/mocks/mockllms"
	"github.com/effective-security/biomcp/mocks/mocktools"
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/biomcp/pkg/prompts"
	"github.com/effective-security/biomcp/store"
	"github.com/effective-security/biomcp/tools"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func chatCtx() context.Context {
	return chatmodel.WithChatContext(context.Background(),
		chatmodel.NewChatContext("tenant1", "chat1", nil))
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: text},
		},
	}
}

func toolCallResponse(name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				ToolCalls: []llms.ToolCall{
					{
						ID:   name + "_1",
						Type: "function",
						FunctionCall: &llms.FunctionCall{
							Name:      name,
							Arguments: args,
						},
					},
				},
			},
		},
	}
}

func newSearchTool(ctrl *gomock.Controller) *mocktools.MockITool {
	mockTool := mocktools.NewMockITool(ctrl)
	mockTool.EXPECT().Name().Return("opentargets.search_targets").AnyTimes()
	mockTool.EXPECT().Description().Return("Search for therapeutic targets by symbol.").AnyTimes()
	mockTool.EXPECT().Parameters().Return(&jsonschema.Schema{Type: "object"}).AnyTimes()
	return mockTool
}

func Test_Assistant_ToolCallingLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTool := newSearchTool(ctrl)
	mockTool.EXPECT().Call(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, input string) (string, error) {
			assert.JSONEq(t, `{"query":"BRAF"}`, input)
			return `{"targets":[{"id":"ENSG00000157764","symbol":"BRAF"}]}`, nil
		})

	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetName().Return("gpt-4o").AnyTimes()
	mockLLM.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()

	round := 0
	mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, messages []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			round++
			if round == 1 {
				return toolCallResponse("opentargets.search_targets", `{"query":"BRAF"}`), nil
			}
			// the tool response must be in the conversation by now
			last := messages[len(messages)-1]
			assert.Equal(t, llms.RoleTool, last.Role)
			return textResponse("BRAF is ENSG00000157764."), nil
		}).Times(2)

	sysprompt := prompts.NewPromptTemplate("You are a research assistant.", []string{})
	ast := agent.NewAssistant[chatmodel.String](mockLLM, sysprompt, agent.WithMode(encoding.ModePlainText)).
		WithName("Researcher").
		WithTools(mockTool)

	var out chatmodel.String
	resp, err := ast.Run(chatCtx(), &agent.CallInput{Input: "What is the Ensembl ID of BRAF?"}, &out)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "BRAF is ENSG00000157764.", out.GetContent())
	assert.Equal(t, 2, round)
}

func Test_Assistant_MaxSteps(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTool := newSearchTool(ctrl)
	mockTool.EXPECT().Call(gomock.Any(), gomock.Any()).Return(`{"targets":[]}`, nil).AnyTimes()

	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetName().Return("gpt-4o").AnyTimes()
	mockLLM.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()
	// never produces a final answer
	mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			return toolCallResponse("opentargets.search_targets", `{"query":"BRAF"}`), nil
		}).Times(2)

	sysprompt := prompts.NewPromptTemplate("You are a research assistant.", []string{})
	ast := agent.NewAssistant[chatmodel.String](mockLLM, sysprompt,
		agent.WithMode(encoding.ModePlainText),
		agent.WithMaxSteps(2)).
		WithTools(mockTool)

	_, err := ast.Call(chatCtx(), &agent.CallInput{Input: "loop forever"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps count exceeded limit of 2")
}

func Test_Assistant_MaxToolCalls(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTool := newSearchTool(ctrl)
	mockTool.EXPECT().Call(gomock.Any(), gomock.Any()).Return(`{"targets":[]}`, nil).AnyTimes()

	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetName().Return("gpt-4o").AnyTimes()
	mockLLM.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()
	mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			return toolCallResponse("opentargets.search_targets", `{"query":"BRAF"}`), nil
		}).Times(1)

	sysprompt := prompts.NewPromptTemplate("You are a research assistant.", []string{})
	ast := agent.NewAssistant[chatmodel.String](mockLLM, sysprompt,
		agent.WithMode(encoding.ModePlainText),
		agent.WithMaxToolCalls(1)).
		WithTools(mockTool)

	_, err := ast.Call(chatCtx(), &agent.CallInput{Input: "search a lot"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool calls limit is exceeded")
}

func Test_Assistant_ToolNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTool := newSearchTool(ctrl)

	notFound := func(i string) llms.ToolCall {
		return llms.ToolCall{
			ID:   "missing_" + i,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      "opentargets.no_such_tool_" + i,
				Arguments: `{}`,
			},
		}
	}

	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetName().Return("gpt-4o").AnyTimes()
	mockLLM.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()
	mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(&llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{ToolCalls: []llms.ToolCall{notFound("1"), notFound("2"), notFound("3"), notFound("4")}},
		},
	}, nil).Times(1)

	sysprompt := prompts.NewPromptTemplate("You are a research assistant.", []string{})
	ast := agent.NewAssistant[chatmodel.String](mockLLM, sysprompt, agent.WithMode(encoding.ModePlainText)).
		WithTools(mockTool)

	_, err := ast.Call(chatCtx(), &agent.CallInput{Input: "call missing tools"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found tools is exceeded")
}

func Test_Assistant_ToolNotFoundAcrossRounds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTool := newSearchTool(ctrl)

	notFound := func(i string) llms.ToolCall {
		return llms.ToolCall{
			ID:   "missing_" + i,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      "opentargets.no_such_tool_" + i,
				Arguments: `{}`,
			},
		}
	}

	// two unknown tools per round: the second round crosses the limit
	round := 0
	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetName().Return("gpt-4o").AnyTimes()
	mockLLM.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()
	mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			round++
			return &llms.ContentResponse{
				Choices: []*llms.ContentChoice{
					{ToolCalls: []llms.ToolCall{notFound("1"), notFound("2")}},
				},
			}, nil
		}).Times(2)

	sysprompt := prompts.NewPromptTemplate("You are a research assistant.", []string{})
	ast := agent.NewAssistant[chatmodel.String](mockLLM, sysprompt, agent.WithMode(encoding.ModePlainText)).
		WithTools(mockTool)

	_, err := ast.Call(chatCtx(), &agent.CallInput{Input: "call missing tools"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found tools is exceeded")
	assert.Equal(t, 2, round)
}

func Test_Assistant_ToolError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTool := newSearchTool(ctrl)
	mockTool.EXPECT().Call(gomock.Any(), gomock.Any()).Return("", errors.New("connection refused"))

	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetName().Return("gpt-4o").AnyTimes()
	mockLLM.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()

	round := 0
	mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, messages []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			round++
			if round == 1 {
				return toolCallResponse("opentargets.search_targets", `{"query":"BRAF"}`), nil
			}
			// the failure is surfaced to the model as a tool response
			last := messages[len(messages)-1]
			require.Equal(t, llms.RoleTool, last.Role)
			require.NotEmpty(t, last.Parts)
			tr, ok := last.Parts[0].(llms.ToolCallResponse)
			require.True(t, ok)
			assert.Contains(t, tr.Content, "Tool call failed")
			return textResponse("The targets database is unreachable."), nil
		}).Times(2)

	sysprompt := prompts.NewPromptTemplate("You are a research assistant.", []string{})
	ast := agent.NewAssistant[chatmodel.String](mockLLM, sysprompt, agent.WithMode(encoding.ModePlainText)).
		WithTools(mockTool)

	resp, err := ast.Call(chatCtx(), &agent.CallInput{Input: "What targets does BRAF have?"})
	require.NoError(t, err)
	require.NotNil(t, resp)
}

func Test_Assistant_EmptyResponseRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetName().Return("gpt-4o").AnyTimes()
	mockLLM.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()

	round := 0
	mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			round++
			if round < 3 {
				return &llms.ContentResponse{}, nil
			}
			return textResponse("recovered"), nil
		}).Times(3)

	sysprompt := prompts.NewPromptTemplate("You are a research assistant.", []string{})
	ast := agent.NewAssistant[chatmodel.String](mockLLM, sysprompt, agent.WithMode(encoding.ModePlainText))

	var out chatmodel.String
	_, err := ast.Run(chatCtx(), &agent.CallInput{Input: "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out.GetContent())
}

func Test_Assistant_NoChatContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()

	sysprompt := prompts.NewPromptTemplate("You are a research assistant.", []string{})
	ast := agent.NewAssistant[chatmodel.String](mockLLM, sysprompt, agent.WithMode(encoding.ModePlainText))

	_, err := ast.Call(context.Background(), &agent.CallInput{Input: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, chatmodel.ErrInvalidChatContext))
}

func Test_Assistant_StoreHistory(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	memStore := store.NewMemoryStore()

	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetName().Return("gpt-4o").AnyTimes()
	mockLLM.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()

	var sawHistory bool
	mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, messages []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			for _, m := range messages {
				for _, p := range m.Parts {
					if tc, ok := p.(llms.TextContent); ok && strings.Contains(tc.Text, "first question") {
						sawHistory = true
					}
				}
			}
			return textResponse("answer"), nil
		}).Times(2)

	sysprompt := prompts.NewPromptTemplate("You are a research assistant.", []string{})
	ast := agent.NewAssistant[chatmodel.String](mockLLM, sysprompt,
		agent.WithMode(encoding.ModePlainText),
		agent.WithStore(memStore))

	ctx := chatCtx()
	_, err := ast.Call(ctx, &agent.CallInput{Input: "first question"})
	require.NoError(t, err)
	require.Len(t, ast.LastRunMessages(), 2)

	_, err = ast.Call(ctx, &agent.CallInput{Input: "second question"})
	require.NoError(t, err)
	assert.True(t, sawHistory, "the second run should carry the first question from the store")
}

func Test_Assistant_Callbacks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTool := newSearchTool(ctrl)
	mockTool.EXPECT().Call(gomock.Any(), gomock.Any()).Return(`{"targets":[]}`, nil)

	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetName().Return("gpt-4o").AnyTimes()
	mockLLM.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()

	round := 0
	mockLLM.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			round++
			if round == 1 {
				return toolCallResponse("opentargets.search_targets", `{"query":"BRAF"}`), nil
			}
			return textResponse("done"), nil
		}).Times(2)

	cb := &recordingCallback{}
	sysprompt := prompts.NewPromptTemplate("You are a research assistant.", []string{})
	ast := agent.NewAssistant[chatmodel.String](mockLLM, sysprompt,
		agent.WithMode(encoding.ModePlainText),
		agent.WithCallback(cb)).
		WithTools(mockTool)

	require.NotNil(t, ast.GetCallback())

	_, err := ast.Call(chatCtx(), &agent.CallInput{Input: "q"})
	require.NoError(t, err)

	assert.Equal(t, 1, cb.count("assistant_start"))
	assert.Equal(t, 1, cb.count("assistant_end"))
	assert.Equal(t, 2, cb.count("llm_start"))
	assert.Equal(t, 2, cb.count("llm_end"))
	assert.Equal(t, 1, cb.count("tool_start"))
	assert.Equal(t, 1, cb.count("tool_end"))
	assert.Equal(t, 0, cb.count("assistant_error"))
}

func Test_Assistant_Describe(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLLM := mockllms.NewMockModel(ctrl)
	mockLLM.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()

	sysprompt := prompts.NewPromptTemplate("You are a research assistant.", []string{})
	ast := agent.NewAssistant[chatmodel.String](mockLLM, sysprompt, agent.WithMode(encoding.ModePlainText)).
		WithName("Researcher").
		WithDescription("Answers biomedical questions.\nUses external databases.")

	descr := agent.GetDescriptions(ast)
	assert.Contains(t, descr, "Researcher")
	assert.Contains(t, descr, "Answers biomedical questions. Uses external databases.")

	m := agent.MapAssistants(ast)
	require.Len(t, m, 1)
	assert.Same(t, any(ast), any(m["Researcher"]))
}

// recordingCallback counts lifecycle events by name.
type recordingCallback struct {
	mu     sync.Mutex
	events []string
}

var _ agent.Callback = (*recordingCallback)(nil)

func (r *recordingCallback) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recordingCallback) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev == name {
			n++
		}
	}
	return n
}

func (r *recordingCallback) OnAssistantStart(_ context.Context, _ agent.IAssistant, _ string) {
	r.record("assistant_start")
}

func (r *recordingCallback) OnAssistantEnd(_ context.Context, _ agent.IAssistant, _ string, _ *llms.ContentResponse, _ []llms.Message) {
	r.record("assistant_end")
}

func (r *recordingCallback) OnAssistantError(_ context.Context, _ agent.IAssistant, _ string, _ error, _ []llms.Message) {
	r.record("assistant_error")
}

func (r *recordingCallback) OnAssistantLLMCallStart(_ context.Context, _ agent.IAssistant, _ llms.Model, _ []llms.Message) {
	r.record("llm_start")
}

func (r *recordingCallback) OnAssistantLLMCallEnd(_ context.Context, _ agent.IAssistant, _ llms.Model, _ *llms.ContentResponse) {
	r.record("llm_end")
}

func (r *recordingCallback) OnAssistantLLMParseError(_ context.Context, _ agent.IAssistant, _ string, _ string, _ error) {
	r.record("llm_parse_error")
}

func (r *recordingCallback) OnToolNotFound(_ context.Context, _ agent.IAssistant, _ string) {
	r.record("tool_not_found")
}

func (r *recordingCallback) OnToolStart(_ context.Context, _ tools.ITool, _ string, _ string) {
	r.record("tool_start")
}

func (r *recordingCallback) OnToolEnd(_ context.Context, _ tools.ITool, _ string, _ string, _ string) {
	r.record("tool_end")
}

func (r *recordingCallback) OnToolError(_ context.Context, _ tools.ITool, _ string, _ string, _ error) {
	r.record("tool_error")
}
