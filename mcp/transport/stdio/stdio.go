// Package stdio implements the MCP child-process transport:
// newline-delimited JSON-RPC over the stdin/stdout of a spawned server.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/biomcp/mcp/transport", "stdio")

const (
	// DefaultCloseTimeout is how long Close waits for the child to exit
	// after stdin is closed, before killing it.
	DefaultCloseTimeout = 5 * time.Second

	// maxLineSize bounds a single JSON-RPC line from the server.
	maxLineSize = 10 * 1024 * 1024

	// stderrTailSize bounds the captured stderr kept for diagnostics.
	stderrTailSize = 4 * 1024
)

// Option configures the transport.
type Option func(*Transport)

// WithDir sets the working directory of the child process.
func WithDir(dir string) Option {
	return func(t *Transport) {
		t.dir = dir
	}
}

// WithEnv adds environment variables to the child process,
// on top of the current process environment.
func WithEnv(env map[string]string) Option {
	return func(t *Transport) {
		t.env = env
	}
}

// WithCloseTimeout overrides the wait-before-kill timeout on Close.
func WithCloseTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.closeTimeout = d
	}
}

// Transport spawns a command and exchanges newline-delimited JSON-RPC
// messages over its stdin/stdout. Stderr is captured for diagnostics.
type Transport struct {
	command      string
	args         []string
	dir          string
	env          map[string]string
	closeTimeout time.Duration

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer

	sendMu sync.Mutex

	mu             sync.RWMutex
	started        bool
	closed         bool
	closeNotified  bool
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()

	readerDone chan struct{}
}

// New creates a transport that will spawn the given command on Start.
func New(command string, args []string, opts ...Option) *Transport {
	t := &Transport{
		command:      command,
		args:         args,
		closeTimeout: DefaultCloseTimeout,
		stderr:       newTailBuffer(stderrTailSize),
		readerDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start spawns the child process and begins reading its stdout.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return errors.New("transport already started")
	}

	cmd := exec.Command(t.command, t.args...)
	cmd.Dir = t.dir
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = t.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "failed to create stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "failed to create stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to start command: %s", t.command)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.started = true

	go t.readLoop(stdout)

	return nil
}

// Send writes the message as a single newline-terminated JSON line.
// One writer at a time; concurrent senders are serialized.
func (t *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	t.mu.RLock()
	started, closed := t.started, t.closed
	t.mu.RUnlock()

	if !started {
		return errors.New("transport not started")
	}
	if closed {
		return errors.New("transport closed")
	}

	line, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if _, err := t.stdin.Write(append(line, '\n')); err != nil {
		return errors.Wrapf(err, "failed to write to %s", t.command)
	}
	return nil
}

// Close closes stdin and waits for the child to exit,
// killing it after the close timeout.
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	closeHandler := t.closeHandler
	if t.closeNotified {
		closeHandler = nil
	}
	t.closeNotified = true
	t.mu.Unlock()

	_ = t.stdin.Close()

	done := make(chan error, 1)
	go func() {
		done <- t.cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(t.closeTimeout):
		logger.KV(xlog.WARNING,
			"status", "kill_after_close_timeout",
			"command", t.command,
		)
		_ = t.cmd.Process.Kill()
		<-done
	}

	<-t.readerDone

	if closeHandler != nil {
		closeHandler()
	}
	return nil
}

// SetCloseHandler sets the callback for when the connection is closed.
func (t *Transport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler sets the callback for out of band errors.
func (t *Transport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

// SetMessageHandler sets the callback for received messages.
func (t *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

// StderrTail returns the captured tail of the child's stderr,
// to include in connection error diagnostics.
func (t *Transport) StderrTail() string {
	return strings.TrimSpace(t.stderr.String())
}

func (t *Transport) readLoop(stdout io.Reader) {
	defer close(t.readerDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// Servers may write banners or log lines to stdout; skip them.
		if line[0] != '{' {
			logger.KV(xlog.TRACE,
				"command", t.command,
				"skipped", string(line),
			)
			continue
		}

		message, err := transport.ParseMessage(line)
		if err != nil {
			t.handleError(errors.Wrapf(err, "failed to parse message from %s", t.command))
			continue
		}

		t.mu.RLock()
		handler := t.messageHandler
		t.mu.RUnlock()
		if handler != nil {
			handler(context.Background(), message)
		}
	}

	if err := scanner.Err(); err != nil {
		t.handleError(errors.Wrapf(err, "failed to read from %s", t.command))
	}

	// The child closed its stdout. When that is not our own Close, notify
	// so in-flight requests fail immediately instead of waiting out their
	// timeout.
	t.mu.Lock()
	closeHandler := t.closeHandler
	if t.closed || t.closeNotified {
		closeHandler = nil
	}
	t.closeNotified = true
	t.mu.Unlock()
	if closeHandler != nil {
		closeHandler()
	}
}

func (t *Transport) handleError(err error) {
	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}

var _ transport.Transport = (*Transport)(nil)

// tailBuffer keeps the last capacity bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{cap: capacity}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.cap {
		b.buf = b.buf[len(b.buf)-b.cap:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
