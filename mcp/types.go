// Package mcp implements the client side of the Model Context Protocol:
// JSON-RPC 2.0 over a transport, with the initialize handshake,
// tool discovery and tool invocation used by the biomedical servers.
package mcp

import (
	"encoding/json"

	"github.com/effective-security/biomcp/mcp/transport"
)

// ProtocolVersion is the MCP revision this client speaks.
const ProtocolVersion = "2024-11-05"

// RPCError is a JSON-RPC error object, surfaced exactly as the server sent it.
type RPCError = transport.RPCError

// Implementation identifies a protocol party in the initialize handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server's answer to the initialize request.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      Implementation  `json:"serverInfo"`
	Instructions    string          `json:"instructions,omitempty"`
}

// Tool is a tool advertised by a server. The input schema is kept as the
// raw JSON the server sent; the hub never normalizes remote schemas.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the response to tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// ContentItem is one item of a tool result's content array.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the response to tools/call.
type ToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Text returns the first text content item, or empty.
func (r *ToolResult) Text() string {
	for _, item := range r.Content {
		if item.Type == "text" {
			return item.Text
		}
	}
	return ""
}

// Value returns the first text item decoded as JSON when it parses,
// the raw text otherwise. When there is no text item the whole content
// list is returned.
func (r *ToolResult) Value() any {
	text := r.Text()
	if text == "" {
		return r.Content
	}
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return decoded
	}
	return text
}
