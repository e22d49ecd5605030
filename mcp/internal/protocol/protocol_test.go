package protocol_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/mcp/internal/protocol"
	"github.com/effective-security/biomcp/mcp/transport"
	"github.com/effective-security/biomcp/mcp/transport/localtransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers requests arriving on its transport side.
func fakeServer(t *testing.T, tr *localtransport.Transport, respond func(req *transport.BaseJSONRPCRequest) *transport.BaseJsonRpcMessage) {
	t.Helper()
	tr.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		if message.Type != transport.BaseMessageTypeJSONRPCRequestType {
			return
		}
		resp := respond(message.JsonRpcRequest)
		if resp != nil {
			go func() {
				_ = tr.Send(context.Background(), resp)
			}()
		}
	})
}

func TestRequestResponseCorrelation(t *testing.T) {
	clientTr, serverTr := localtransport.Pair()

	fakeServer(t, serverTr, func(req *transport.BaseJSONRPCRequest) *transport.BaseJsonRpcMessage {
		return transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
			Jsonrpc: "2.0",
			Id:      req.Id,
			Result:  []byte(`{"echo":"` + req.Method + `"}`),
		})
	})

	p := protocol.NewProtocol()
	require.NoError(t, p.Connect(clientTr))
	defer p.Close()

	result, err := p.Request(context.Background(), "tools/list", map[string]any{}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"tools/list"}`, string(result))

	result, err = p.Request(context.Background(), "initialize", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"initialize"}`, string(result))
}

func TestRequestRPCError(t *testing.T) {
	clientTr, serverTr := localtransport.Pair()

	fakeServer(t, serverTr, func(req *transport.BaseJSONRPCRequest) *transport.BaseJsonRpcMessage {
		return transport.NewBaseMessageError(&transport.BaseJSONRPCError{
			Jsonrpc: "2.0",
			Id:      req.Id,
			Error: transport.RPCError{
				Code:    -32602,
				Message: "Invalid params",
				Data:    []byte(`{"field":"gene_id"}`),
			},
		})
	})

	p := protocol.NewProtocol()
	require.NoError(t, p.Connect(clientTr))
	defer p.Close()

	_, err := p.Request(context.Background(), "tools/call", map[string]any{}, nil)
	require.Error(t, err)

	var rpcErr *transport.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32602, rpcErr.Code)
	assert.Equal(t, "Invalid params", rpcErr.Message)
	assert.JSONEq(t, `{"field":"gene_id"}`, string(rpcErr.Data))
}

func TestRequestTimeout(t *testing.T) {
	clientTr, serverTr := localtransport.Pair()

	// server never answers
	fakeServer(t, serverTr, func(req *transport.BaseJSONRPCRequest) *transport.BaseJsonRpcMessage {
		return nil
	})

	p := protocol.NewProtocol()
	require.NoError(t, p.Connect(clientTr))
	defer p.Close()

	_, err := p.Request(context.Background(), "tools/call", nil, &protocol.RequestOptions{
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request timeout")
}

func TestRequestContextCancelled(t *testing.T) {
	clientTr, serverTr := localtransport.Pair()

	fakeServer(t, serverTr, func(req *transport.BaseJSONRPCRequest) *transport.BaseJsonRpcMessage {
		return nil
	})

	p := protocol.NewProtocol()
	require.NoError(t, p.Connect(clientTr))
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Request(ctx, "tools/call", nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNotification(t *testing.T) {
	clientTr, serverTr := localtransport.Pair()

	received := make(chan *transport.BaseJSONRPCNotification, 1)
	serverTr.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		if message.Type == transport.BaseMessageTypeJSONRPCNotificationType {
			received <- message.JsonRpcNotification
		}
	})

	p := protocol.NewProtocol()
	require.NoError(t, p.Connect(clientTr))
	defer p.Close()

	require.NoError(t, p.Notification("notifications/initialized", nil))

	select {
	case notif := <-received:
		assert.Equal(t, "notifications/initialized", notif.Method)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestIncomingRequestHandler(t *testing.T) {
	clientTr, serverTr := localtransport.Pair()

	p := protocol.NewProtocol()
	p.SetRequestHandler("ping", func(ctx context.Context, req *transport.BaseJSONRPCRequest, extra protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
		return map[string]string{"pong": "ok"}, nil
	})
	require.NoError(t, p.Connect(clientTr))
	defer p.Close()

	responses := make(chan *transport.BaseJsonRpcMessage, 1)
	serverTr.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		responses <- message
	})

	err := serverTr.Send(context.Background(), transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      99,
		Method:  "ping",
	}))
	require.NoError(t, err)

	select {
	case msg := <-responses:
		require.Equal(t, transport.BaseMessageTypeJSONRPCResponseType, msg.Type)
		assert.Equal(t, transport.RequestId(99), msg.JsonRpcResponse.Id)
		var body map[string]string
		require.NoError(t, json.Unmarshal(msg.JsonRpcResponse.Result, &body))
		assert.Equal(t, "ok", body["pong"])
	case <-time.After(time.Second):
		t.Fatal("no response to incoming request")
	}
}

func TestIncomingUnknownMethod(t *testing.T) {
	clientTr, serverTr := localtransport.Pair()

	p := protocol.NewProtocol()
	require.NoError(t, p.Connect(clientTr))
	defer p.Close()

	responses := make(chan *transport.BaseJsonRpcMessage, 1)
	serverTr.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		responses <- message
	})

	err := serverTr.Send(context.Background(), transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      100,
		Method:  "no/such/method",
	}))
	require.NoError(t, err)

	select {
	case msg := <-responses:
		require.Equal(t, transport.BaseMessageTypeJSONRPCErrorType, msg.Type)
		assert.Equal(t, -32000, msg.JsonRpcError.Error.Code)
		assert.Contains(t, msg.JsonRpcError.Error.Message, "method not found")
	case <-time.After(time.Second):
		t.Fatal("no error response")
	}
}

func TestCloseFailsInflight(t *testing.T) {
	clientTr, serverTr := localtransport.Pair()

	fakeServer(t, serverTr, func(req *transport.BaseJSONRPCRequest) *transport.BaseJsonRpcMessage {
		return nil
	})

	p := protocol.NewProtocol()
	require.NoError(t, p.Connect(clientTr))

	done := make(chan error, 1)
	go func() {
		_, err := p.Request(context.Background(), "tools/call", nil, nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection closed")
	case <-time.After(time.Second):
		t.Fatal("in-flight request not failed on close")
	}
}
