// Package mcptool adapts tools discovered on MCP servers into the
// tools.ITool interface the assistant loop executes.
package mcptool

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/hub"
	"github.com/effective-security/biomcp/mcp"
	"github.com/effective-security/biomcp/pkg/llmutils"
	"github.com/effective-security/biomcp/pkg/schema"
	"github.com/effective-security/biomcp/tools"
	"github.com/invopop/jsonschema"
)

// Caller routes a qualified tool invocation, typically *hub.Registry.
type Caller interface {
	CallTool(ctx context.Context, qualified, argsJSON string) (*mcp.ToolResult, error)
}

// Tool exposes one remote MCP tool under its qualified `server.tool` name.
type Tool struct {
	caller      Caller
	id          string
	description string
	funcParams  *jsonschema.Schema
}

var _ tools.ITool = (*Tool)(nil)

// New wraps a catalog entry. The tool's input schema passes through from
// the server unmodified.
func New(caller Caller, ref hub.ToolRef) (*Tool, error) {
	params := &jsonschema.Schema{Type: "object"}
	if len(ref.Tool.InputSchema) > 0 {
		sc, err := schema.FromAny(ref.Tool.InputSchema)
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid input schema: %s", ref.ID)
		}
		params = sc
	}

	return &Tool{
		caller:      caller,
		id:          ref.ID,
		description: ref.Tool.Description,
		funcParams:  params,
	}, nil
}

// FromRegistry adapts the catalog of the named connected servers,
// or of all connected servers when no names are given.
func FromRegistry(r *hub.Registry, names ...string) ([]tools.ITool, error) {
	refs := r.Tools(names...)
	list := make([]tools.ITool, 0, len(refs))
	for _, ref := range refs {
		tool, err := New(r, ref)
		if err != nil {
			return nil, err
		}
		list = append(list, tool)
	}
	return list, nil
}

// Name returns the qualified `server.tool` id.
func (t *Tool) Name() string {
	return t.id
}

// Description returns the description the server advertised.
func (t *Tool) Description() string {
	return t.description
}

// Parameters returns the server's input schema.
func (t *Tool) Parameters() *jsonschema.Schema {
	return t.funcParams
}

// Call invokes the remote tool with the LLM-produced arguments and
// returns the result as a string for the conversation. Results the
// server flags as errors are returned as text so the model can adjust
// its next call.
func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	result, err := t.caller.CallTool(ctx, t.id, input)
	if err != nil {
		return "", err
	}

	value := result.Value()
	if s, ok := value.(string); ok {
		return s, nil
	}
	return llmutils.ToJSON(value), nil
}
