// Package protocol implements JSON-RPC framing on top of a pluggable
// transport: request/response correlation by numeric id, per-request
// timeouts, notifications, and handlers for server-initiated messages.
package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/biomcp/mcp/internal", "protocol")

// DefaultRequestTimeout is applied to requests without an explicit timeout.
const DefaultRequestTimeout = 30 * time.Second

// RequestOptions contains options that can be given per request.
type RequestOptions struct {
	// Context can be used to cancel an in-flight request.
	Context context.Context
	// Timeout specifies a timeout for this request.
	// If not specified, DefaultRequestTimeout is used.
	Timeout time.Duration
}

// RequestHandlerExtra contains extra data given to request handlers.
type RequestHandlerExtra struct {
	// Context is cancelled if the request is cancelled by the sender.
	Context context.Context
}

// RequestHandler handles a request initiated by the remote side.
type RequestHandler func(ctx context.Context, request *transport.BaseJSONRPCRequest, extra RequestHandlerExtra) (transport.JsonRpcBody, error)

// NotificationHandler handles a notification from the remote side.
type NotificationHandler func(notification *transport.BaseJSONRPCNotification) error

// Protocol links requests to responses over a transport. All public
// methods are safe for concurrent use.
type Protocol struct {
	transport transport.Transport

	mu               sync.RWMutex
	requestMessageID transport.RequestId

	requestHandlers      map[string]RequestHandler
	requestCancellers    map[transport.RequestId]context.CancelFunc
	notificationHandlers map[string]NotificationHandler
	responseHandlers     map[transport.RequestId]chan *responseEnvelope

	// OnClose is called when the connection is closed for any reason.
	OnClose func()
	// OnError is called when an out of band error occurs.
	OnError func(error)
}

type responseEnvelope struct {
	result json.RawMessage
	err    error
}

// NewProtocol creates a new Protocol instance.
func NewProtocol() *Protocol {
	p := &Protocol{
		requestHandlers:      make(map[string]RequestHandler),
		requestCancellers:    make(map[transport.RequestId]context.CancelFunc),
		notificationHandlers: make(map[string]NotificationHandler),
		responseHandlers:     make(map[transport.RequestId]chan *responseEnvelope),
	}

	p.SetNotificationHandler("notifications/cancelled", p.handleCancelledNotification)

	return p
}

// Connect attaches to the given transport, starts it, and starts listening for messages.
func (p *Protocol) Connect(tr transport.Transport) error {
	p.transport = tr

	tr.SetCloseHandler(func() {
		p.handleClose()
	})

	tr.SetErrorHandler(func(err error) {
		p.handleError(err)
	})

	tr.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		switch message.Type {
		case transport.BaseMessageTypeJSONRPCRequestType:
			p.handleRequest(ctx, message.JsonRpcRequest)
		case transport.BaseMessageTypeJSONRPCNotificationType:
			p.handleNotification(message.JsonRpcNotification)
		case transport.BaseMessageTypeJSONRPCResponseType:
			p.handleResponse(message.JsonRpcResponse, nil)
		case transport.BaseMessageTypeJSONRPCErrorType:
			p.handleResponse(nil, message.JsonRpcError)
		}
	})

	return tr.Start(context.Background())
}

func (p *Protocol) handleClose() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cancel := range p.requestCancellers {
		cancel()
	}

	// Fail all in-flight requests
	for id, ch := range p.responseHandlers {
		ch <- &responseEnvelope{err: errors.New("connection closed")}
		close(ch)
		delete(p.responseHandlers, id)
	}

	if p.OnClose != nil {
		p.OnClose()
	}

	p.requestHandlers = make(map[string]RequestHandler)
	p.notificationHandlers = make(map[string]NotificationHandler)
	p.responseHandlers = make(map[transport.RequestId]chan *responseEnvelope)
}

func (p *Protocol) handleError(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}

func (p *Protocol) handleNotification(notification *transport.BaseJSONRPCNotification) {
	logger.KV(xlog.DEBUG, "method", notification.Method)

	p.mu.RLock()
	handler := p.notificationHandlers[notification.Method]
	p.mu.RUnlock()

	if handler == nil {
		return
	}

	go func() {
		if err := handler(notification); err != nil {
			p.handleError(errors.Wrap(err, "notification handler error"))
		}
	}()
}

func (p *Protocol) handleRequest(ctx context.Context, request *transport.BaseJSONRPCRequest) {
	logger.KV(xlog.DEBUG,
		"method", request.Method,
		"id", request.Id,
	)

	p.mu.RLock()
	handler := p.requestHandlers[request.Method]
	p.mu.RUnlock()

	if handler == nil {
		handler = func(ctx context.Context, req *transport.BaseJSONRPCRequest, extra RequestHandlerExtra) (transport.JsonRpcBody, error) {
			return nil, errors.Errorf("method not found: %s", req.Method)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.requestCancellers[request.Id] = cancel
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.requestCancellers, request.Id)
			p.mu.Unlock()
			cancel()
		}()

		result, err := handler(ctx, request, RequestHandlerExtra{Context: ctx})
		if err != nil {
			_ = p.sendErrorResponse(request.Id, err)
			return
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			_ = p.sendErrorResponse(request.Id, errors.Wrap(err, "failed to marshal result"))
			return
		}
		response := &transport.BaseJSONRPCResponse{
			Jsonrpc: "2.0",
			Id:      request.Id,
			Result:  jsonResult,
		}

		if err := p.transport.Send(ctx, transport.NewBaseMessageResponse(response)); err != nil {
			p.handleError(errors.Wrap(err, "failed to send response"))
		}
	}()
}

func (p *Protocol) handleCancelledNotification(notification *transport.BaseJSONRPCNotification) error {
	var params struct {
		RequestId transport.RequestId `json:"requestId"`
		Reason    string              `json:"reason"`
	}

	if err := json.Unmarshal(notification.Params, &params); err != nil {
		return errors.Wrap(err, "failed to unmarshal cancelled params")
	}

	p.mu.RLock()
	cancel := p.requestCancellers[params.RequestId]
	p.mu.RUnlock()

	if cancel != nil {
		cancel()
	}

	return nil
}

func (p *Protocol) handleResponse(response *transport.BaseJSONRPCResponse, errResp *transport.BaseJSONRPCError) {
	var id transport.RequestId
	var result json.RawMessage
	var err error

	if errResp != nil {
		id = errResp.Id
		// surface the server's error object unmodified
		rpcErr := errResp.Error
		err = errors.WithStack(&rpcErr)
	} else {
		id = response.Id
		result = response.Result
	}

	p.mu.RLock()
	ch := p.responseHandlers[id]
	p.mu.RUnlock()

	if ch != nil {
		ch <- &responseEnvelope{
			result: result,
			err:    err,
		}
	}
}

// Close closes the connection.
func (p *Protocol) Close() error {
	if p.transport != nil {
		return p.transport.Close()
	}
	return nil
}

// Request sends a request and waits for the correlated response.
// JSON-RPC error responses are returned as *transport.RPCError.
func (p *Protocol) Request(ctx context.Context, method string, params any, opts *RequestOptions) (json.RawMessage, error) {
	if p.transport == nil {
		return nil, errors.New("not connected")
	}

	if opts == nil {
		opts = &RequestOptions{}
	}
	if opts.Context == nil {
		opts.Context = ctx
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultRequestTimeout
	}

	p.mu.Lock()
	p.requestMessageID++
	id := p.requestMessageID
	ch := make(chan *responseEnvelope, 1)
	p.responseHandlers[id] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.responseHandlers, id)
		p.mu.Unlock()
	}()

	marshalledParams, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}

	request := &transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  marshalledParams,
		Id:      id,
	}

	if err := p.transport.Send(ctx, transport.NewBaseMessageRequest(request)); err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}

	select {
	case envelope := <-ch:
		if envelope.err != nil {
			return nil, envelope.err
		}
		return envelope.result, nil
	case <-opts.Context.Done():
		_ = p.sendCancelNotification(id, opts.Context.Err().Error())
		return nil, opts.Context.Err()
	case <-time.After(opts.Timeout):
		_ = p.sendCancelNotification(id, "request timeout")
		return nil, errors.Errorf("request timeout after %v: %s", opts.Timeout, method)
	}
}

func (p *Protocol) sendCancelNotification(requestID transport.RequestId, reason string) error {
	params := map[string]any{
		"requestId": requestID,
		"reason":    reason,
	}
	marshalled, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "failed to marshal cancel params")
	}
	notification := &transport.BaseJSONRPCNotification{
		Jsonrpc: "2.0",
		Method:  "notifications/cancelled",
		Params:  marshalled,
	}

	if err := p.transport.Send(context.Background(), transport.NewBaseMessageNotification(notification)); err != nil {
		p.handleError(errors.Wrap(err, "failed to send cancel notification"))
	}
	return nil
}

func (p *Protocol) sendErrorResponse(requestID transport.RequestId, err error) error {
	response := &transport.BaseJSONRPCError{
		Jsonrpc: "2.0",
		Id:      requestID,
		Error: transport.RPCError{
			Code:    -32000, // Internal error
			Message: err.Error(),
		},
	}

	if err := p.transport.Send(context.Background(), transport.NewBaseMessageError(response)); err != nil {
		p.handleError(errors.Wrap(err, "failed to send error response"))
	}
	return nil
}

// Notification emits a one-way message that does not expect a response.
func (p *Protocol) Notification(method string, params any) error {
	if p.transport == nil {
		return errors.New("not connected")
	}

	marshalled, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification params")
	}

	notification := &transport.BaseJSONRPCNotification{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  marshalled,
	}

	return p.transport.Send(context.Background(), transport.NewBaseMessageNotification(notification))
}

// SetRequestHandler registers a handler for requests with the given method.
func (p *Protocol) SetRequestHandler(method string, handler RequestHandler) {
	p.mu.Lock()
	p.requestHandlers[method] = handler
	p.mu.Unlock()
}

// SetNotificationHandler registers a handler for notifications with the given method.
func (p *Protocol) SetNotificationHandler(method string, handler NotificationHandler) {
	p.mu.Lock()
	p.notificationHandlers[method] = handler
	p.mu.Unlock()
}
