package anthropic

import (
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/effective-security/biomcp/pkg/schema"
)

// anthropicBetaStructuredOutputs gates the output_format request field.
const anthropicBetaStructuredOutputs = "structured-outputs-2025-11-13"

type anthropicOutputFormat struct {
	Type   string         `json:"type"`
	Schema map[string]any `json:"schema"`
}

type anthropicOutputConfig struct {
	Format anthropicOutputFormat `json:"format"`
}

// toAnthropicOutputConfig maps a JSON schema response format onto the
// output_format request field. Returns nil when the format carries no schema,
// in which case the request is sent without structured output constraints.
func toAnthropicOutputConfig(rf *schema.ResponseFormat) *anthropicOutputConfig {
	if rf == nil || rf.Type != "json_schema" || rf.JSONSchema == nil || rf.JSONSchema.Schema == nil {
		return nil
	}
	return &anthropicOutputConfig{
		Format: anthropicOutputFormat{
			Type:   "json_schema",
			Schema: convertToAnthropicSchema(rf.JSONSchema.Schema),
		},
	}
}

// convertToAnthropicSchema converts a response format schema property tree
// into the plain JSON schema map the API expects.
func convertToAnthropicSchema(prop *schema.ResponseFormatJSONSchemaProperty) map[string]any {
	if prop == nil {
		return nil
	}

	out := map[string]any{}
	if prop.Type != "" {
		out["type"] = prop.Type
	}
	if prop.Description != "" {
		out["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		out["enum"] = prop.Enum
	}
	if len(prop.Properties) > 0 {
		props := make(map[string]any, len(prop.Properties))
		for name, p := range prop.Properties {
			props[name] = convertToAnthropicSchema(p)
		}
		out["properties"] = props
	}
	if prop.Items != nil {
		out["items"] = convertToAnthropicSchema(prop.Items)
	}
	if len(prop.Required) > 0 {
		out["required"] = prop.Required
	}
	if prop.AdditionalProperties != nil {
		out["additionalProperties"] = *prop.AdditionalProperties
	}
	return out
}

// structuredOutputRequestOptions injects the output_format body field and the
// structured-outputs beta header. The header is added rather than set so it
// composes with beta headers required by other request features.
func structuredOutputRequestOptions(cfg *anthropicOutputConfig) []option.RequestOption {
	if cfg == nil {
		return nil
	}
	return []option.RequestOption{
		option.WithJSONSet("output_format", cfg.Format),
		option.WithHeaderAdd("anthropic-beta", anthropicBetaStructuredOutputs),
	}
}
