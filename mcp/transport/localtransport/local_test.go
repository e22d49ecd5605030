package localtransport_test

import (
	"context"
	"testing"

	"github.com/effective-security/biomcp/mcp/transport"
	"github.com/effective-security/biomcp/mcp/transport/localtransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairDelivery(t *testing.T) {
	t.Parallel()

	a, b := localtransport.Pair()

	received := make(chan *transport.BaseJsonRpcMessage, 1)
	b.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		received <- message
	})

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	msg := transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      1,
		Method:  "tools/list",
	})
	require.NoError(t, a.Send(context.Background(), msg))

	got := <-received
	assert.Equal(t, transport.BaseMessageTypeJSONRPCRequestType, got.Type)
	assert.Equal(t, "tools/list", got.JsonRpcRequest.Method)
}

func TestSendWithoutHandler(t *testing.T) {
	t.Parallel()

	a, _ := localtransport.Pair()
	err := a.Send(context.Background(), transport.NewBaseMessageNotification(&transport.BaseJSONRPCNotification{
		Jsonrpc: "2.0",
		Method:  "notifications/initialized",
	}))
	assert.EqualError(t, err, "peer has no message handler")
}

func TestCloseClosesBothSides(t *testing.T) {
	t.Parallel()

	a, b := localtransport.Pair()

	aClosed := false
	bClosed := false
	a.SetCloseHandler(func() { aClosed = true })
	b.SetCloseHandler(func() { bClosed = true })

	require.NoError(t, a.Close())
	assert.True(t, aClosed)
	assert.True(t, bClosed)

	err := a.Send(context.Background(), transport.NewBaseMessageNotification(&transport.BaseJSONRPCNotification{}))
	assert.EqualError(t, err, "transport closed")

	// Close is idempotent
	require.NoError(t, a.Close())
}
