package mcptool_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/effective-security/biomcp/hub"
	"github.com/effective-security/biomcp/mcp"
	"github.com/effective-security/biomcp/tools/mcptool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	lastQualified string
	lastArgs      string
	result        *mcp.ToolResult
	err           error
}

func (c *fakeCaller) CallTool(ctx context.Context, qualified, argsJSON string) (*mcp.ToolResult, error) {
	c.lastQualified = qualified
	c.lastArgs = argsJSON
	return c.result, c.err
}

func searchRef() hub.ToolRef {
	return hub.ToolRef{
		ID:     "opentargets.search_targets",
		Server: "opentargets",
		Tool: mcp.Tool{
			Name:        "search_targets",
			Description: "Search for gene targets by symbol or name",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "Target symbol"},
					"size": {"type": "integer"}
				},
				"required": ["query"]
			}`),
		},
	}
}

func TestToolIdentity(t *testing.T) {
	tool, err := mcptool.New(&fakeCaller{}, searchRef())
	require.NoError(t, err)

	assert.Equal(t, "opentargets.search_targets", tool.Name())
	assert.Equal(t, "Search for gene targets by symbol or name", tool.Description())

	raw, err := json.Marshal(tool.Parameters())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"query"`)
	assert.Contains(t, string(raw), `"required"`)
}

func TestToolNoSchema(t *testing.T) {
	ref := searchRef()
	ref.Tool.InputSchema = nil

	tool, err := mcptool.New(&fakeCaller{}, ref)
	require.NoError(t, err)

	raw, err := json.Marshal(tool.Parameters())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object"}`, string(raw))
}

func TestToolInvalidSchema(t *testing.T) {
	ref := searchRef()
	ref.Tool.InputSchema = json.RawMessage(`{"broken`)

	_, err := mcptool.New(&fakeCaller{}, ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input schema")
}

func TestCallJSONResult(t *testing.T) {
	caller := &fakeCaller{
		result: &mcp.ToolResult{
			Content: []mcp.ContentItem{{
				Type: "text",
				Text: `{"targets":[{"id":"ENSG00000157764","symbol":"BRAF"}]}`,
			}},
		},
	}
	tool, err := mcptool.New(caller, searchRef())
	require.NoError(t, err)

	out, err := tool.Call(context.Background(), `{"query":"BRAF"}`)
	require.NoError(t, err)
	assert.Equal(t, "opentargets.search_targets", caller.lastQualified)
	assert.JSONEq(t, `{"query":"BRAF"}`, caller.lastArgs)
	assert.JSONEq(t, `{"targets":[{"id":"ENSG00000157764","symbol":"BRAF"}]}`, out)
}

func TestCallTextResult(t *testing.T) {
	caller := &fakeCaller{
		result: &mcp.ToolResult{
			Content: []mcp.ContentItem{{Type: "text", Text: "no results for FAKE1"}},
		},
	}
	tool, err := mcptool.New(caller, searchRef())
	require.NoError(t, err)

	out, err := tool.Call(context.Background(), `{"query":"FAKE1"}`)
	require.NoError(t, err)
	assert.Equal(t, "no results for FAKE1", out)
}

func TestCallServerError(t *testing.T) {
	// isError results come back as text so the model can correct itself
	caller := &fakeCaller{
		result: &mcp.ToolResult{
			Content: []mcp.ContentItem{{Type: "text", Text: "invalid target id"}},
			IsError: true,
		},
	}
	tool, err := mcptool.New(caller, searchRef())
	require.NoError(t, err)

	out, err := tool.Call(context.Background(), `{"query":""}`)
	require.NoError(t, err)
	assert.Equal(t, "invalid target id", out)
}

func TestCallTransportError(t *testing.T) {
	caller := &fakeCaller{err: assert.AnError}
	tool, err := mcptool.New(caller, searchRef())
	require.NoError(t, err)

	_, err = tool.Call(context.Background(), `{"query":"BRAF"}`)
	require.Error(t, err)
}
