package llmfactory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/effective-security/biomcp/pkg/llmfactory"
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setFakeKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "fakekey")
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")
	t.Setenv("PERPLEXITY_TOKEN", "fakekey")
}

// useFakeLLM swaps the provider constructor so tests observe which
// provider and model the factory resolved without dialing anything.
func useFakeLLM(t *testing.T) {
	llmfactory.NewLLM = func(cfg *llmfactory.ProviderConfig, preferredModels ...string) (llms.Model, error) {
		return &fakeLLM{provider: cfg.Name, model: cfg.FindModel(preferredModels...)}, nil
	}
	t.Cleanup(func() {
		llmfactory.NewLLM = llmfactory.CreateLLM
	})
}

func assertResolved(t *testing.T, model llms.Model, wantModel, wantProvider string) {
	t.Helper()
	require.NotNil(t, model)
	fm, ok := model.(*fakeLLM)
	require.True(t, ok)
	assert.Equal(t, wantModel, fm.model)
	assert.Equal(t, wantProvider, fm.provider)
}

func Test_Factory(t *testing.T) {
	setFakeKeys(t)

	cfg, err := llmfactory.LoadConfig("testdata/llm.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Providers)

	useFakeLLM(t)
	f := llmfactory.New(cfg)

	tcases := []struct {
		name         string
		resolve      func() (llms.Model, error)
		wantModel    string
		wantProvider string
	}{
		{"default", f.DefaultModel, "gpt-4o", "OPEN_AI"},
		{"by name", func() (llms.Model, error) { return f.ModelByName("gpt-4-mini") }, "gpt-4-mini", "OPEN_AI"},
		{"by name preferred list", func() (llms.Model, error) { return f.ModelByName("gpt-4-unknown", "gpt-41-mini") }, "gpt-41-mini", "AZURE"},
		{"by name fallback to default", func() (llms.Model, error) { return f.ModelByName("non-existent-model") }, "gpt-4o", "OPEN_AI"},
		{"by type openai", func() (llms.Model, error) { return f.ModelByType("OPEN_AI") }, "gpt-4o", "OPEN_AI"},
		{"by type anthropic", func() (llms.Model, error) { return f.ModelByType("ANTHROPIC") }, "claude-sonnet-4-20250514", "ANTHROPIC"},
		{"by type perplexity", func() (llms.Model, error) { return f.ModelByType("PERPLEXITY") }, "sonar", "PERPLEXITY"},
		{"by type azure", func() (llms.Model, error) { return f.ModelByType("AZURE") }, "gpt-41", "AZURE"},
		{"tool mapping", func() (llms.Model, error) { return f.ToolModel("biomed_lookup") }, "gpt-4-mini", "OPEN_AI"},
		{"tool mapping wins over preferred", func() (llms.Model, error) { return f.ToolModel("biomed_lookup", "gpt-41-mini") }, "gpt-4-mini", "OPEN_AI"},
		{"unknown tool uses default", func() (llms.Model, error) { return f.ToolModel("non-existent-tool") }, "gpt-4o", "OPEN_AI"},
		{"assistant mapping", func() (llms.Model, error) { return f.AssistantModel("researcher") }, "gpt-41-mini", "AZURE"},
		{"assistant mapping wins over preferred", func() (llms.Model, error) { return f.AssistantModel("researcher", "gpt-4-mini") }, "gpt-41-mini", "AZURE"},
		{"unknown assistant uses default", func() (llms.Model, error) { return f.AssistantModel("non-existent-assistant") }, "gpt-4o", "OPEN_AI"},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			model, err := tc.resolve()
			require.NoError(t, err)
			assertResolved(t, model, tc.wantModel, tc.wantProvider)
		})
	}

	_, err = f.ModelByType("UNSUPPORTED")
	assert.EqualError(t, err, "provider not found for type: UNSUPPORTED")

	// unknown default provider falls back to the first configured one
	invalidFactory := llmfactory.New(&llmfactory.Config{
		DefaultProvider: "non-existent",
		Providers:       cfg.Providers,
	})
	model, err := invalidFactory.DefaultModel()
	require.NoError(t, err)
	assertResolved(t, model, "gpt-4o", "OPEN_AI")
}

func Test_Load(t *testing.T) {
	setFakeKeys(t)

	f, err := llmfactory.Load("testdata/llm.yaml")
	require.NoError(t, err)
	require.NotNil(t, f)

	_, err = llmfactory.Load("testdata/non-existent.yaml")
	require.Error(t, err)

	// empty location assembles the default provider from the environment
	f, err = llmfactory.Load("")
	require.NoError(t, err)
	require.NotNil(t, f)
}

func Test_LoadConfig(t *testing.T) {
	_, err := llmfactory.LoadConfig("testdata/non-existent.yaml")
	require.Error(t, err)

	_, err = llmfactory.LoadConfig("testdata/invalid.yaml")
	require.Error(t, err)
}

func Test_DefaultConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "fakekey")
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg := llmfactory.DefaultConfig()
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "OPEN_AI", cfg.DefaultProvider)
	assert.Equal(t, "gpt-4o", cfg.Providers[0].DefaultModel)

	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")

	cfg = llmfactory.DefaultConfig()
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers[0].DefaultModel)
	assert.Equal(t, "ANTHROPIC", cfg.Providers[1].Name)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Providers[1].DefaultModel)
}

func Test_CreateLLM(t *testing.T) {
	setFakeKeys(t)

	tcases := []struct {
		apiType string
		wantErr string
	}{
		{apiType: "OPEN_AI"},
		{apiType: "AZURE"},
		{apiType: "AZURE_AD"},
		{apiType: "ANTHROPIC"},
		{apiType: "PERPLEXITY"},
		{apiType: "UNSUPPORTED", wantErr: "unsupported provider type"},
	}
	for _, tc := range tcases {
		t.Run(tc.apiType, func(t *testing.T) {
			cfg := &llmfactory.ProviderConfig{
				Name:  "test-provider",
				Token: "fakekey",
				OpenAI: llmfactory.OpenAIConfig{
					APIType:    tc.apiType,
					APIVersion: "2024-02-15-preview",
				},
				AvailableModels: []string{"gpt-4"},
				DefaultModel:    "gpt-4",
			}
			model, err := llmfactory.CreateLLM(cfg)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, model)
		})
	}
}

func Test_CreateLLM_SparseConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "fakekey")

	// models and token may be omitted, the provider falls back to env
	cfg := &llmfactory.ProviderConfig{
		Name: "sparse",
		OpenAI: llmfactory.OpenAIConfig{
			APIType: "OPEN_AI",
		},
	}

	model, err := llmfactory.CreateLLM(cfg)
	require.NoError(t, err)
	require.NotNil(t, model)

	cfg.OpenAI.BaseURL = "https://custom.openai.example.com"
	model, err = llmfactory.CreateLLM(cfg)
	require.NoError(t, err)
	require.NotNil(t, model)

	cfg.OpenAI.APIType = "AZURE"
	cfg.OpenAI.BaseURL = "https://azure-test.openai.azure.com"
	cfg.OpenAI.APIVersion = "2024-02-15-preview"
	model, err = llmfactory.CreateLLM(cfg)
	require.NoError(t, err)
	require.NotNil(t, model)
}

func singleProviderConfig() *llmfactory.Config {
	return &llmfactory.Config{
		Providers: []*llmfactory.ProviderConfig{
			{
				Name: "OPEN_AI",
				OpenAI: llmfactory.OpenAIConfig{
					APIType: "OPEN_AI",
				},
				AvailableModels: []string{"gpt-4o", "gpt-4-mini"},
				DefaultModel:    "gpt-4o",
			},
		},
	}
}

func Test_ModelCaching(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "fakekey")
	useFakeLLM(t)

	f := llmfactory.New(singleProviderConfig())

	model1, err := f.ModelByType("OPEN_AI")
	require.NoError(t, err)
	model2, err := f.ModelByType("OPEN_AI")
	require.NoError(t, err)
	assert.Equal(t, model1, model2)

	model3, err := f.ModelByName("gpt-4-mini")
	require.NoError(t, err)
	model4, err := f.ModelByName("gpt-4-mini")
	require.NoError(t, err)
	assert.Equal(t, model3, model4)
}

func Test_ConcurrentAccess(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "fakekey")
	useFakeLLM(t)

	f := llmfactory.New(singleProviderConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			model, err := f.ModelByType("OPEN_AI")
			assert.NoError(t, err)
			assert.NotNil(t, model)
		}()
		go func() {
			defer wg.Done()
			model, err := f.ModelByName("gpt-4-mini")
			assert.NoError(t, err)
			assert.NotNil(t, model)
		}()
	}
	wg.Wait()
}

func Test_MappingFallbacks(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "fakekey")
	useFakeLLM(t)

	cfg := &llmfactory.Config{
		Providers: []*llmfactory.ProviderConfig{
			{
				Name: "OPEN_AI",
				OpenAI: llmfactory.OpenAIConfig{
					APIType: "OPEN_AI",
				},
				AvailableModels: []string{"gpt-4", "gpt-4-mini"},
				DefaultModel:    "gpt-4",
			},
		},
		ToolModels: map[string][]string{
			"default":       {"gpt-4-mini"},
			"biomed_lookup": {"gpt-4-mini"},
		},
		AssistantModels: map[string][]string{
			"default":    {"gpt-4-mini"},
			"researcher": {"gpt-4-mini"},
		},
	}
	f := llmfactory.New(cfg)

	tcases := []struct {
		name    string
		resolve func() (llms.Model, error)
	}{
		{"tool mapped", func() (llms.Model, error) { return f.ToolModel("biomed_lookup") }},
		{"tool default mapping", func() (llms.Model, error) { return f.ToolModel("unknown_tool") }},
		{"tool mapping wins over preferred", func() (llms.Model, error) { return f.ToolModel("unknown_tool", "gpt-4") }},
		{"assistant mapped", func() (llms.Model, error) { return f.AssistantModel("researcher") }},
		{"assistant default mapping", func() (llms.Model, error) { return f.AssistantModel("unknown_assistant") }},
		{"assistant mapping wins over preferred", func() (llms.Model, error) { return f.AssistantModel("unknown_assistant", "gpt-4") }},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			model, err := tc.resolve()
			require.NoError(t, err)
			assertResolved(t, model, "gpt-4-mini", "OPEN_AI")
		})
	}
}

func Test_ModelByNameAcrossProviders(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "fakekey")
	useFakeLLM(t)

	cfg := &llmfactory.Config{
		Providers: []*llmfactory.ProviderConfig{
			{
				Name: "OPEN_AI",
				OpenAI: llmfactory.OpenAIConfig{
					APIType: "OPEN_AI",
				},
				AvailableModels: []string{"gpt-4"},
				DefaultModel:    "gpt-4",
			},
			{
				Name: "AZURE",
				OpenAI: llmfactory.OpenAIConfig{
					APIType: "AZURE",
				},
				AvailableModels: []string{"gpt-41-mini"},
				DefaultModel:    "gpt-41-mini",
			},
		},
	}
	f := llmfactory.New(cfg)

	// second preferred model resolves on the second provider
	model, err := f.ModelByName("non-existent", "gpt-41-mini")
	require.NoError(t, err)
	assertResolved(t, model, "gpt-41-mini", "AZURE")

	// none found falls back to the default provider's default model
	model, err = f.ModelByName("non-existent-1", "non-existent-2")
	require.NoError(t, err)
	assertResolved(t, model, "gpt-4", "OPEN_AI")
}

func Test_FindModel(t *testing.T) {
	cfg := &llmfactory.ProviderConfig{
		AvailableModels: []string{"gpt-4", "gpt-4-mini", "gpt-3.5-turbo"},
		DefaultModel:    "gpt-4",
	}

	assert.Equal(t, "gpt-4-mini", cfg.FindModel("gpt-4-mini"))
	assert.Equal(t, "gpt-4-mini", cfg.FindModel("gpt-4-mini", "gpt-3.5-turbo"))
	assert.Equal(t, "gpt-4", cfg.FindModel("non-existent-model"))
	assert.Equal(t, "gpt-4", cfg.FindModel())

	cfg.AvailableModels = nil
	assert.Equal(t, "gpt-4", cfg.FindModel("gpt-4-mini"))

	cfg.AvailableModels = []string{}
	assert.Equal(t, "gpt-4", cfg.FindModel("gpt-4-mini"))
}

func Test_EmptyConfig(t *testing.T) {
	f := llmfactory.New(&llmfactory.Config{})

	_, err := f.DefaultModel()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no providers configured")

	_, err = f.ModelByType("OPEN_AI")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider not found for type: OPEN_AI")

	_, err = f.ModelByName("gpt-4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no providers configured")

	_, err = f.ToolModel("biomed_lookup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no providers configured")

	_, err = f.AssistantModel("researcher")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no providers configured")
}

type fakeLLM struct {
	provider string
	model    string
}

func (f *fakeLLM) GetName() string {
	return f.model
}

func (f *fakeLLM) GetProviderType() llms.ProviderType {
	return llms.ProviderType(f.provider)
}

func (f *fakeLLM) GenerateContent(_ context.Context, _ []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, nil
}
