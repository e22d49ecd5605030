// Package localtransport provides an in-process transport pair,
// used to test the protocol and client layers without child processes.
package localtransport

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/mcp/transport"
)

// Transport is one side of an in-process connection.
// Messages sent on one side are delivered to the peer's message handler.
type Transport struct {
	mu             sync.RWMutex
	peer           *Transport
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
	closed         bool
}

// Pair returns two connected transports.
func Pair() (*Transport, *Transport) {
	a := &Transport{}
	b := &Transport{}
	a.peer = b
	b.peer = a
	return a, b
}

// Start does nothing for the in-process transport.
func (s *Transport) Start(ctx context.Context) error {
	return nil
}

// Send delivers the message to the peer's message handler.
func (s *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	s.mu.RLock()
	closed := s.closed
	peer := s.peer
	s.mu.RUnlock()

	if closed {
		return errors.New("transport closed")
	}

	peer.mu.RLock()
	handler := peer.messageHandler
	peer.mu.RUnlock()

	if handler == nil {
		return errors.New("peer has no message handler")
	}
	handler(ctx, message)
	return nil
}

// Close closes both sides of the connection.
func (s *Transport) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closeHandler := s.closeHandler
	peer := s.peer
	s.mu.Unlock()

	if closeHandler != nil {
		closeHandler()
	}

	peer.mu.Lock()
	peerClosed := peer.closed
	peer.mu.Unlock()
	if !peerClosed {
		_ = peer.Close()
	}
	return nil
}

// SetCloseHandler sets the callback for when the connection is closed.
func (s *Transport) SetCloseHandler(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeHandler = handler
}

// SetErrorHandler sets the callback for out of band errors.
func (s *Transport) SetErrorHandler(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

// SetMessageHandler sets the callback for received messages.
func (s *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageHandler = handler
}

var _ transport.Transport = (*Transport)(nil)
