package openai

import (
	"github.com/effective-security/biomcp/pkg/llms/openai/internal/openaiclient"
	"github.com/effective-security/biomcp/pkg/schema"
)

const (
	tokenEnvVarName        = "OPENAI_API_KEY"      //nolint:gosec
	modelEnvVarName        = "OPENAI_MODEL"        //nolint:gosec
	baseURLEnvVarName      = "OPENAI_BASE_URL"     //nolint:gosec
	baseAPIBaseEnvVarName  = "OPENAI_API_BASE"     //nolint:gosec
	organizationEnvVarName = "OPENAI_ORGANIZATION" //nolint:gosec
)

// ProviderType selects the OpenAI-compatible API flavor.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "OPENAI"
	ProviderAzure      ProviderType = "AZURE"
	ProviderAzureAD    ProviderType = "AZURE_AD"
	ProviderPerplexity ProviderType = "PERPLEXITY"
)

// DefaultAPIVersion is used for Azure deployments when none is set.
const DefaultAPIVersion = "2023-05-15"

type options struct {
	token        string
	model        string
	baseURL      string
	organization string
	provider     ProviderType
	httpClient   openaiclient.Doer

	responseFormat *schema.ResponseFormat

	// apiVersion applies to Azure deployments only.
	apiVersion string
}

// Option is a functional option for the OpenAI client.
type Option func(*options)

// WithToken sets the API token. Falls back to OPENAI_API_KEY.
func WithToken(token string) Option {
	return func(opts *options) {
		opts.token = token
	}
}

// WithModel sets the model. Falls back to OPENAI_MODEL.
// Required for Azure deployments.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithBaseURL sets the API base URL. Falls back to OPENAI_BASE_URL,
// then to https://api.openai.com/v1.
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

// WithOrganization sets the organization. Falls back to
// OPENAI_ORGANIZATION.
func WithOrganization(organization string) Option {
	return func(opts *options) {
		opts.organization = organization
	}
}

// WithProvider selects the API flavor. Defaults to ProviderOpenAI.
func WithProvider(apiType ProviderType) Option {
	return func(opts *options) {
		opts.provider = apiType
	}
}

// WithAPIVersion sets the Azure API version. Defaults to
// DefaultAPIVersion.
func WithAPIVersion(apiVersion string) Option {
	return func(opts *options) {
		opts.apiVersion = apiVersion
	}
}

// WithHTTPClient sets a custom HTTP client. Defaults to
// http.DefaultClient.
func WithHTTPClient(client openaiclient.Doer) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

// WithResponseFormat sets a default response format for all calls.
func WithResponseFormat(responseFormat *schema.ResponseFormat) Option {
	return func(opts *options) {
		opts.responseFormat = responseFormat
	}
}
