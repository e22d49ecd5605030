// Package llmfactory creates and caches LLM clients from configuration,
// with per-tool and per-assistant model mappings.
package llmfactory

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/biomcp/pkg/llms/anthropic"
	"github.com/effective-security/biomcp/pkg/llms/openai"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/biomcp", "llmfactory")

// NewLLM constructs a provider client. Overridable in tests.
var NewLLM = CreateLLM

// Factory creates and caches LLM models.
type Factory interface {
	// DefaultModel returns the default LLM model.
	DefaultModel() (llms.Model, error)
	// ModelByType returns an LLM model by provider type, e.g.
	// OPEN_AI, AZURE, AZURE_AD, ANTHROPIC, PERPLEXITY.
	ModelByType(providerType string) (llms.Model, error)
	// ModelByName returns the first available of the preferred models,
	// falling back to the default model.
	ModelByName(preferredModels ...string) (llms.Model, error)
	// ToolModel returns the model mapped to the tool name.
	ToolModel(toolName string, preferredModels ...string) (llms.Model, error)
	// AssistantModel returns the model mapped to the assistant name.
	AssistantModel(assistantName string, preferredModels ...string) (llms.Model, error)
}

// Load returns the LLM factory for the given config file location.
// When location is empty, a single provider is assembled from the
// OPENAI_API_KEY, OPENAI_MODEL and ANTHROPIC_API_KEY environment variables.
func Load(location string) (Factory, error) {
	if location == "" {
		return New(DefaultConfig()), nil
	}
	cfg, err := LoadConfig(location)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

type factory struct {
	cfg *Config

	defaultProvider *ProviderConfig
	toolModels      map[string][]string
	assistantModels map[string][]string
	byType          map[string]llms.Model
	byName          map[string]llms.Model
	lock            sync.Mutex
}

// New creates an LLM factory from the config. When the configured
// default provider is unknown, the first provider becomes the default.
func New(cfg *Config) Factory {
	f := &factory{
		cfg:             cfg,
		byType:          make(map[string]llms.Model),
		byName:          make(map[string]llms.Model),
		toolModels:      make(map[string][]string),
		assistantModels: make(map[string][]string),
	}

	for k, v := range cfg.ToolModels {
		f.toolModels[k] = slices.Clone(v)
	}
	for k, v := range cfg.AssistantModels {
		f.assistantModels[k] = slices.Clone(v)
	}

	if cfg.DefaultProvider != "" {
		for _, provider := range cfg.Providers {
			if provider.Name == cfg.DefaultProvider {
				f.defaultProvider = provider
				break
			}
		}
	}
	if f.defaultProvider == nil && len(cfg.Providers) > 0 {
		f.defaultProvider = cfg.Providers[0]
	}

	return f
}

// CreateLLM constructs a provider client from its config.
func CreateLLM(cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	provType := strings.ToUpper(cfg.OpenAI.APIType)
	switch provType {
	case "OPENAI", "OPEN_AI":
		return newOpenAILike(cfg, openai.WithProvider(openai.ProviderOpenAI), preferredModels...)
	case "PERPLEXITY":
		return newOpenAILike(cfg, nil, preferredModels...)
	case "AZURE":
		return newAzure(cfg, openai.ProviderAzure, preferredModels...)
	case "AZURE_AD":
		return newAzure(cfg, openai.ProviderAzureAD, preferredModels...)
	case "ANTHROPIC":
		return newAnthropic(cfg, preferredModels...)
	}
	return nil, errors.Errorf("unsupported provider type: %s", provType)
}

func newOpenAILike(cfg *ProviderConfig, providerOpt openai.Option, preferredModels ...string) (llms.Model, error) {
	opts := []openai.Option{openai.WithModel(cfg.FindModel(preferredModels...))}
	if providerOpt != nil {
		opts = append(opts, providerOpt)
	}
	if cfg.Token != "" {
		opts = append(opts, openai.WithToken(cfg.Token))
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	return openai.New(opts...)
}

func newAzure(cfg *ProviderConfig, provider openai.ProviderType, preferredModels ...string) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithAPIVersion(cfg.OpenAI.APIVersion),
		openai.WithModel(cfg.FindModel(preferredModels...)),
		openai.WithProvider(provider),
	}
	if cfg.Token != "" {
		opts = append(opts, openai.WithToken(cfg.Token))
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	return openai.New(opts...)
}

func newAnthropic(cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	opts := []anthropic.Option{anthropic.WithModel(cfg.FindModel(preferredModels...))}
	if cfg.Token != "" {
		opts = append(opts, anthropic.WithToken(cfg.Token))
	}
	return anthropic.New(opts...)
}

func (f *factory) DefaultModel() (llms.Model, error) {
	if len(f.cfg.Providers) == 0 || f.defaultProvider == nil {
		return nil, errors.New("no providers configured")
	}

	return NewLLM(f.defaultProvider, f.defaultProvider.DefaultModel)
}

func (f *factory) ModelByType(providerType string) (llms.Model, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if client, ok := f.byType[providerType]; ok {
		return client, nil
	}

	for _, cfg := range f.cfg.Providers {
		if cfg.OpenAI.APIType != providerType {
			continue
		}
		model, err := NewLLM(cfg)
		if err != nil {
			return nil, err
		}

		logger.KV(xlog.DEBUG,
			"status", "created_llm",
			"type", cfg.OpenAI.APIType,
			"version", cfg.OpenAI.APIVersion,
			"name", cfg.Name)

		f.byType[providerType] = model
		return model, nil
	}
	return nil, errors.Errorf("provider not found for type: %s", providerType)
}

func (f *factory) ModelByName(modelNames ...string) (llms.Model, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, modelName := range modelNames {
		if client, ok := f.byName[modelName]; ok {
			return client, nil
		}

		for _, cfg := range f.cfg.Providers {
			if !slices.Contains(cfg.AvailableModels, modelName) {
				continue
			}
			model, err := NewLLM(cfg, modelNames...)
			if err != nil {
				logger.KV(xlog.ERROR,
					"reason", "NewLLM",
					"type", cfg.OpenAI.APIType,
					"version", cfg.OpenAI.APIVersion,
					"models", modelNames,
				)
				continue
			}

			logger.KV(xlog.DEBUG,
				"status", "created_llm",
				"type", cfg.OpenAI.APIType,
				"version", cfg.OpenAI.APIVersion,
				"name", cfg.Name)

			f.byName[modelName] = model
			return model, nil
		}
	}
	return f.DefaultModel()
}

// ToolModel resolves the model for a tool via the tool mapping, then
// the "default" mapping, then the preferred models.
func (f *factory) ToolModel(toolName string, preferredModels ...string) (llms.Model, error) {
	if modelNames, ok := f.toolModels[toolName]; ok {
		return f.ModelByName(modelNames...)
	}
	if modelNames, ok := f.toolModels["default"]; ok {
		return f.ModelByName(modelNames...)
	}
	return f.ModelByName(preferredModels...)
}

// AssistantModel resolves the model for an assistant via the assistant
// mapping, then the "default" mapping, then the preferred models.
func (f *factory) AssistantModel(assistantName string, preferredModels ...string) (llms.Model, error) {
	if modelNames, ok := f.assistantModels[assistantName]; ok {
		return f.ModelByName(modelNames...)
	}
	if modelNames, ok := f.assistantModels["default"]; ok {
		return f.ModelByName(modelNames...)
	}
	return f.ModelByName(preferredModels...)
}

// DefaultConfig assembles the provider configuration from the environment.
// OPENAI_API_KEY and OPENAI_MODEL select the default OpenAI provider,
// with gpt-4o used when no model is set. When ANTHROPIC_API_KEY is present
// an Anthropic provider is added as well.
func DefaultConfig() *Config {
	model := values.StringsCoalesce(os.Getenv("OPENAI_MODEL"), "gpt-4o")
	cfg := &Config{
		DefaultProvider: "OPEN_AI",
		Providers: []*ProviderConfig{
			{
				Name:            "OPEN_AI",
				DefaultModel:    model,
				AvailableModels: []string{model},
				OpenAI: OpenAIConfig{
					APIType: "OPEN_AI",
					BaseURL: os.Getenv("OPENAI_BASE_URL"),
				},
			},
		},
	}

	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		anthropicModel := values.StringsCoalesce(os.Getenv("ANTHROPIC_MODEL"), "claude-sonnet-4-20250514")
		cfg.Providers = append(cfg.Providers, &ProviderConfig{
			Name:            "ANTHROPIC",
			DefaultModel:    anthropicModel,
			AvailableModels: []string{anthropicModel},
			OpenAI: OpenAIConfig{
				APIType: "ANTHROPIC",
			},
		})
	}

	return cfg
}
