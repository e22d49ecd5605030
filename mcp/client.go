package mcp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/mcp/internal/protocol"
	"github.com/effective-security/biomcp/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/biomcp", "mcp")

// StderrProvider is implemented by transports that capture the child
// process stderr, to include in connection error diagnostics.
type StderrProvider interface {
	StderrTail() string
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithClientInfo overrides the client identity sent in the initialize request.
func WithClientInfo(info Implementation) ClientOption {
	return func(c *Client) {
		c.info = info
	}
}

// Client speaks the MCP client protocol over a transport.
// It is safe for concurrent use after Initialize.
type Client struct {
	tr       transport.Transport
	protocol *protocol.Protocol
	info     Implementation

	mu          sync.Mutex
	initialized bool
	serverInfo  *InitializeResult
}

// NewClient creates a client over the given transport.
// Initialize must be called before any other operation.
func NewClient(tr transport.Transport, opts ...ClientOption) *Client {
	c := &Client{
		tr:       tr,
		protocol: protocol.NewProtocol(),
		info: Implementation{
			Name:    "biomcp",
			Version: "0.1.0",
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize starts the transport, performs the initialize handshake and
// sends the initialized notification. When the transport captures the
// child's stderr, its tail is included in handshake errors.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return c.serverInfo, nil
	}

	if err := c.protocol.Connect(c.tr); err != nil {
		return nil, c.withStderr(errors.WithMessage(err, "failed to start transport"))
	}

	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"clientInfo": c.info,
	}

	raw, err := c.protocol.Request(ctx, "initialize", params, nil)
	if err != nil {
		return nil, c.withStderr(errors.WithMessage(err, "initialize failed"))
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal initialize result")
	}

	if err := c.protocol.Notification("notifications/initialized", nil); err != nil {
		return nil, c.withStderr(errors.WithMessage(err, "failed to send initialized notification"))
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "initialized",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion,
	)

	c.initialized = true
	c.serverInfo = &result
	return &result, nil
}

// ListTools returns the tools the server advertises.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := c.protocol.Request(ctx, "tools/list", map[string]any{}, nil)
	if err != nil {
		return nil, err
	}

	var result ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tools/list result")
	}
	return result.Tools, nil
}

// CallTool invokes the named tool with the given JSON arguments string.
// The arguments pass through untouched; JSON-RPC error objects surface
// as *RPCError with the server's code and message unmodified.
func (c *Client) CallTool(ctx context.Context, name, argsJSON string) (*ToolResult, error) {
	if argsJSON == "" {
		argsJSON = "{}"
	}
	if !json.Valid([]byte(argsJSON)) {
		return nil, errors.Errorf("tool arguments are not valid JSON: %s", name)
	}

	params := map[string]any{
		"name":      name,
		"arguments": json.RawMessage(argsJSON),
	}

	raw, err := c.protocol.Request(ctx, "tools/call", params, nil)
	if err != nil {
		return nil, err
	}

	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tools/call result")
	}
	return &result, nil
}

// Close closes the connection and stops the child process.
func (c *Client) Close() error {
	return c.protocol.Close()
}

func (c *Client) withStderr(err error) error {
	if provider, ok := c.tr.(StderrProvider); ok {
		if tail := provider.StderrTail(); tail != "" {
			return errors.WithMessagef(err, "stderr: %s", tail)
		}
	}
	return err
}
