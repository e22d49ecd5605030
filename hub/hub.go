// Package hub manages connections to the configured MCP servers and
// exposes their tools as one catalog with qualified `server.tool` names.
package hub

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/mcp"
	"github.com/effective-security/biomcp/mcp/transport/stdio"
	"github.com/effective-security/biomcp/pkg/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/biomcp", "hub")

//go:generate mockgen -source=hub.go -destination=../mocks/mockhub/hub_mock.gen.go -package mockhub

// Client is the per-server MCP connection the registry manages.
type Client interface {
	Initialize(ctx context.Context) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name, argsJSON string) (*mcp.ToolResult, error)
	Close() error
}

// Dialer creates an unconnected client for a server definition.
type Dialer func(cfg *ServerConfig) (Client, error)

// ToolRef is one catalog entry: a tool qualified by its owning server.
type ToolRef struct {
	// ID is the qualified name `server.tool`.
	ID     string
	Server string
	Tool   mcp.Tool
}

// ServerStatus describes a configured server for listings.
type ServerStatus struct {
	Name         string
	Description  string
	Capabilities []string
	Path         string
	Found        bool
	Connected    bool
	ToolCount    int
}

const (
	connectRetryInterval = 500 * time.Millisecond
	connectRetries       = 2
)

type connection struct {
	cfg    *ServerConfig
	client Client
	tools  []mcp.Tool
}

// Option configures the registry.
type Option func(*Registry)

// WithDialer overrides how per-server clients are created.
func WithDialer(d Dialer) Option {
	return func(r *Registry) {
		r.dialer = d
	}
}

// WithServers adds or overrides server definitions by name.
func WithServers(servers ...*ServerConfig) Option {
	return func(r *Registry) {
		for _, cfg := range servers {
			if _, ok := r.configs[cfg.Name]; !ok {
				r.order = append(r.order, cfg.Name)
			}
			r.configs[cfg.Name] = cfg
		}
	}
}

// Registry holds the server definitions and live connections.
// All methods are safe for concurrent use.
type Registry struct {
	dialer Dialer

	mu      sync.RWMutex
	configs map[string]*ServerConfig
	order   []string
	conns   map[string]*connection
}

// NewRegistry creates a registry seeded with the built-in servers.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		dialer:  stdioDialer,
		configs: make(map[string]*ServerConfig),
		conns:   make(map[string]*connection),
	}
	for _, cfg := range BuiltinServers() {
		r.configs[cfg.Name] = cfg
		r.order = append(r.order, cfg.Name)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func stdioDialer(cfg *ServerConfig) (Client, error) {
	command, args := cfg.LaunchCommand()
	tr := stdio.New(command, args,
		stdio.WithDir(cfg.ResolvePath()),
		stdio.WithEnv(cfg.Env),
	)
	return mcp.NewClient(tr), nil
}

// Names returns the configured server names in definition order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Connect starts and initializes connections to the named servers, or to
// every configured server whose install path is present when no names are
// given. Servers connect in parallel; already connected servers are
// skipped. The returned error aggregates per-server failures.
func (r *Registry) Connect(ctx context.Context, names ...string) error {
	explicit := len(names) > 0
	if !explicit {
		names = r.Names()
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(names))

	for _, name := range names {
		r.mu.RLock()
		cfg := r.configs[name]
		_, connected := r.conns[name]
		r.mu.RUnlock()

		if cfg == nil {
			errCh <- errors.Errorf("unknown server: %s, available: %s",
				name, strings.Join(r.Names(), ", "))
			continue
		}
		if connected {
			continue
		}
		if !cfg.PathExists() {
			if explicit {
				errCh <- errors.Errorf("server path not found: %s: %s", name, cfg.ResolvePath())
			} else {
				logger.ContextKV(ctx, xlog.WARNING,
					"reason", "path_not_found",
					"server", name,
					"path", cfg.ResolvePath(),
				)
			}
			continue
		}

		wg.Add(1)
		go func(cfg *ServerConfig) {
			defer wg.Done()
			if err := r.connectOne(ctx, cfg); err != nil {
				errCh <- err
			}
		}(cfg)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.WithMessagef(errors.Join(errs...), "failed to connect %d of %d servers", len(errs), len(names))
	}
	return nil
}

func (r *Registry) connectOne(ctx context.Context, cfg *ServerConfig) error {
	var client Client
	var tools []mcp.Tool

	// retry covers child process startup races
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(connectRetryInterval), connectRetries),
		ctx)
	err := backoff.Retry(func() error {
		c, err := r.dialer(cfg)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err = c.Initialize(ctx); err != nil {
			_ = c.Close()
			return err
		}
		if tools, err = c.ListTools(ctx); err != nil {
			_ = c.Close()
			return err
		}
		client = c
		return nil
	}, bo)
	if err != nil {
		metricskey.StatsMCPConnectsFailed.IncrCounter(1, cfg.Name)
		return errors.WithMessagef(err, "failed to connect to %s", cfg.Name)
	}

	r.mu.Lock()
	if _, ok := r.conns[cfg.Name]; ok {
		// lost a concurrent connect for the same server; keep the
		// existing connection and stop the duplicate child process
		r.mu.Unlock()
		_ = client.Close()
		return nil
	}
	r.conns[cfg.Name] = &connection{
		cfg:    cfg,
		client: client,
		tools:  tools,
	}
	r.mu.Unlock()

	metricskey.StatsMCPConnectsSucceeded.IncrCounter(1, cfg.Name)
	logger.ContextKV(ctx, xlog.INFO,
		"status", "connected",
		"server", cfg.Name,
		"tools", len(tools),
	)
	return nil
}

// Disconnect stops the named server's child process.
func (r *Registry) Disconnect(name string) error {
	r.mu.Lock()
	conn := r.conns[name]
	delete(r.conns, name)
	r.mu.Unlock()

	if conn == nil {
		return errors.Errorf("not connected: %s", name)
	}
	return conn.client.Close()
}

// Close disconnects every connected server.
func (r *Registry) Close() error {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*connection)
	r.mu.Unlock()

	var errs []error
	for name, conn := range conns {
		if err := conn.client.Close(); err != nil {
			errs = append(errs, errors.WithMessagef(err, "failed to close %s", name))
		}
	}
	return errors.Join(errs...)
}

// Connected returns the names of connected servers, sorted.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Servers returns the status of every configured server, in definition order.
func (r *Registry) Servers() []ServerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]ServerStatus, 0, len(r.order))
	for _, name := range r.order {
		cfg := r.configs[name]
		status := ServerStatus{
			Name:         cfg.Name,
			Description:  cfg.Description,
			Capabilities: cfg.Capabilities,
			Path:         cfg.ResolvePath(),
			Found:        cfg.PathExists(),
		}
		if conn, ok := r.conns[name]; ok {
			status.Connected = true
			status.ToolCount = len(conn.tools)
		}
		list = append(list, status)
	}
	return list
}

// Tools returns the catalog across the named connected servers,
// or across all connected servers when no names are given.
func (r *Registry) Tools(names ...string) []ToolRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		names = r.order
	}

	var refs []ToolRef
	for _, name := range names {
		conn, ok := r.conns[name]
		if !ok {
			continue
		}
		for _, tool := range conn.tools {
			refs = append(refs, ToolRef{
				ID:     QualifiedName(name, tool.Name),
				Server: name,
				Tool:   tool,
			})
		}
	}
	return refs
}

// FindTools returns catalog entries matching the capability keyword:
// a case-insensitive substring of the tool name, the tool description,
// or one of the owning server's capability tags.
func (r *Registry) FindTools(capability string) []ToolRef {
	needle := strings.ToLower(capability)

	var refs []ToolRef
	for _, ref := range r.Tools() {
		if strings.Contains(strings.ToLower(ref.Tool.Name), needle) ||
			strings.Contains(strings.ToLower(ref.Tool.Description), needle) {
			refs = append(refs, ref)
			continue
		}
		r.mu.RLock()
		cfg := r.configs[ref.Server]
		r.mu.RUnlock()
		for _, tag := range cfg.Capabilities {
			if strings.Contains(strings.ToLower(tag), needle) {
				refs = append(refs, ref)
				break
			}
		}
	}
	return refs
}

// CallTool routes a qualified `server.tool` invocation to the owning
// connection. Arguments and results pass through untouched.
func (r *Registry) CallTool(ctx context.Context, qualified, argsJSON string) (*mcp.ToolResult, error) {
	server, tool, err := SplitName(qualified)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	conn := r.conns[server]
	r.mu.RUnlock()

	if conn == nil {
		return nil, errors.Errorf("unknown tool: %s, server %q is not connected, connected: %s",
			qualified, server, strings.Join(r.Connected(), ", "))
	}

	found := false
	for _, t := range conn.tools {
		if t.Name == tool {
			found = true
			break
		}
	}
	if !found {
		var names []string
		for _, t := range conn.tools {
			names = append(names, t.Name)
		}
		return nil, errors.Errorf("unknown tool: %s, available on %s: %s",
			qualified, server, strings.Join(names, ", "))
	}

	started := time.Now()
	result, err := conn.client.CallTool(ctx, tool, argsJSON)
	metricskey.PerfMCPCall.MeasureSince(started, server)
	if err != nil {
		metricskey.StatsMCPCallsFailed.IncrCounter(1, server)
		return nil, errors.WithMessagef(err, "tool call failed: %s", qualified)
	}
	metricskey.StatsMCPCallsSucceeded.IncrCounter(1, server)
	return result, nil
}

// QualifiedName joins a server and tool name into the catalog id.
func QualifiedName(server, tool string) string {
	return fmt.Sprintf("%s.%s", server, tool)
}

// SplitName splits a qualified `server.tool` id. Tool names may contain
// dots, so only the first separator splits.
func SplitName(qualified string) (server, tool string, err error) {
	server, tool, ok := strings.Cut(qualified, ".")
	if !ok || server == "" || tool == "" {
		return "", "", errors.Errorf("invalid tool name: %q, expected server.tool", qualified)
	}
	return server, tool, nil
}
