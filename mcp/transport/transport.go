// Package transport defines the JSON-RPC 2.0 message framing shared by all
// MCP transports, and the Transport interface the protocol layer drives.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// RequestId is the JSON-RPC request correlation id.
type RequestId int64

// JsonRpcBody is any marshalable request or response body.
type JsonRpcBody any

// BaseJSONRPCRequest is a request expecting a response.
type BaseJSONRPCRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCNotification is a one-way message without an id.
type BaseJSONRPCNotification struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCResponse is a successful response to a request.
type BaseJSONRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id"`
	Result  json.RawMessage `json:"result"`
}

// RPCError is the error object of a JSON-RPC error response.
// The code, message and data are surfaced exactly as the server sent them.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// BaseJSONRPCError is an error response to a request.
type BaseJSONRPCError struct {
	Jsonrpc string    `json:"jsonrpc"`
	Id      RequestId `json:"id"`
	Error   RPCError  `json:"error"`
}

// BaseMessageType discriminates the message union.
type BaseMessageType string

const (
	BaseMessageTypeJSONRPCRequestType      BaseMessageType = "request"
	BaseMessageTypeJSONRPCNotificationType BaseMessageType = "notification"
	BaseMessageTypeJSONRPCResponseType     BaseMessageType = "response"
	BaseMessageTypeJSONRPCErrorType        BaseMessageType = "error"
)

// BaseJsonRpcMessage is the union of the four JSON-RPC message kinds.
// Exactly one of the pointers is set, according to Type.
type BaseJsonRpcMessage struct {
	Type                BaseMessageType
	JsonRpcRequest      *BaseJSONRPCRequest
	JsonRpcNotification *BaseJSONRPCNotification
	JsonRpcResponse     *BaseJSONRPCResponse
	JsonRpcError        *BaseJSONRPCError
}

func NewBaseMessageRequest(request *BaseJSONRPCRequest) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:           BaseMessageTypeJSONRPCRequestType,
		JsonRpcRequest: request,
	}
}

func NewBaseMessageNotification(notification *BaseJSONRPCNotification) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:                BaseMessageTypeJSONRPCNotificationType,
		JsonRpcNotification: notification,
	}
}

func NewBaseMessageResponse(response *BaseJSONRPCResponse) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:            BaseMessageTypeJSONRPCResponseType,
		JsonRpcResponse: response,
	}
}

func NewBaseMessageError(errResp *BaseJSONRPCError) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:         BaseMessageTypeJSONRPCErrorType,
		JsonRpcError: errResp,
	}
}

// MessageID returns the correlation id of the message, or 0 for notifications.
func (m *BaseJsonRpcMessage) MessageID() RequestId {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return m.JsonRpcRequest.Id
	case BaseMessageTypeJSONRPCResponseType:
		return m.JsonRpcResponse.Id
	case BaseMessageTypeJSONRPCErrorType:
		return m.JsonRpcError.Id
	}
	return 0
}

// SetID sets the correlation id of the message, ignored for notifications.
func (m *BaseJsonRpcMessage) SetID(id RequestId) {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		m.JsonRpcRequest.Id = id
	case BaseMessageTypeJSONRPCResponseType:
		m.JsonRpcResponse.Id = id
	case BaseMessageTypeJSONRPCErrorType:
		m.JsonRpcError.Id = id
	}
}

// MarshalJSON marshals the active member of the union.
func (m *BaseJsonRpcMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return json.Marshal(m.JsonRpcRequest)
	case BaseMessageTypeJSONRPCNotificationType:
		return json.Marshal(m.JsonRpcNotification)
	case BaseMessageTypeJSONRPCResponseType:
		return json.Marshal(m.JsonRpcResponse)
	case BaseMessageTypeJSONRPCErrorType:
		return json.Marshal(m.JsonRpcError)
	}
	return nil, fmt.Errorf("unknown message type: %s", m.Type)
}

// ParseMessage deserializes a raw JSON-RPC message into the union.
// A message with an id and a method is a request, with a method only a
// notification, with an error member an error response, otherwise a response.
func ParseMessage(body []byte) (*BaseJsonRpcMessage, error) {
	var probe struct {
		Id     *RequestId      `json:"id"`
		Method string          `json:"method"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, err
	}

	switch {
	case probe.Method != "" && probe.Id != nil:
		var request BaseJSONRPCRequest
		if err := json.Unmarshal(body, &request); err != nil {
			return nil, err
		}
		return NewBaseMessageRequest(&request), nil
	case probe.Method != "":
		var notification BaseJSONRPCNotification
		if err := json.Unmarshal(body, &notification); err != nil {
			return nil, err
		}
		return NewBaseMessageNotification(&notification), nil
	case len(probe.Error) > 0:
		var errResp BaseJSONRPCError
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, err
		}
		return NewBaseMessageError(&errResp), nil
	default:
		var response BaseJSONRPCResponse
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, err
		}
		return NewBaseMessageResponse(&response), nil
	}
}

// Transport is the channel over which JSON-RPC messages are exchanged.
type Transport interface {
	// Start begins processing messages, including any connection steps
	// that might need to be taken.
	Start(ctx context.Context) error

	// Send sends a JSON-RPC message (request, notification or response).
	Send(ctx context.Context, message *BaseJsonRpcMessage) error

	// Close closes the connection.
	Close() error

	// SetCloseHandler sets the callback for when the connection is closed
	// for any reason. This should be invoked when Close() is called as well.
	SetCloseHandler(handler func())

	// SetErrorHandler sets the callback for when an error occurs.
	// Note that errors are not necessarily fatal; they are used for
	// reporting any kind of exceptional condition out of band.
	SetErrorHandler(handler func(err error))

	// SetMessageHandler sets the callback for when a message
	// (request, notification or response) is received over the connection.
	SetMessageHandler(handler func(ctx context.Context, message *BaseJsonRpcMessage))
}
