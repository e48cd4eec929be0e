package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/0xmhha/pool-indexer/events"
	"github.com/0xmhha/pool-indexer/internal/testutil"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return s.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	data, err := encodeMessage(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	msg := read(t, conn)
	require.Equal(t, MessageEvent, msg.Type)
	var ev Event
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	return ev
}

func TestSubscribeFlow(t *testing.T) {
	s := NewServer(testutil.NewTestLogger(t))
	defer s.Stop()
	conn := dial(t, s)

	send(t, conn, MessageSubscribe, SubscribeRequest{Type: SubscribeDeposit})
	assert.Equal(t, MessageSubscribed, read(t, conn).Type)

	// Withdrawals are not delivered to a deposit-only client
	s.Hub().BroadcastRecord(testutil.NewRecord(1, types.ActionWithdraw, "1.0"))
	deposit := testutil.NewRecord(2, types.ActionDeposit, "2.0")
	s.Hub().BroadcastRecord(deposit)

	ev := readEvent(t, conn)
	assert.Equal(t, SubscribeDeposit, ev.Type)
	assert.Equal(t, deposit.TxHash, ev.Data.TxHash)
	assert.Equal(t, "2.0", ev.Data.Amount)

	send(t, conn, MessageSubscribe, SubscribeRequest{Type: SubscribeNewTransaction})
	assert.Equal(t, MessageSubscribed, read(t, conn).Type)

	withdraw := testutil.NewRecord(3, types.ActionWithdraw, "3.0")
	s.Hub().BroadcastRecord(withdraw)
	ev = readEvent(t, conn)
	assert.Equal(t, SubscribeNewTransaction, ev.Type)
	assert.Equal(t, withdraw.TxHash, ev.Data.TxHash)

	send(t, conn, MessageUnsubscribe, SubscribeRequest{Type: SubscribeNewTransaction})
	assert.Equal(t, MessageUnsubscribed, read(t, conn).Type)
	send(t, conn, MessageUnsubscribe, SubscribeRequest{Type: SubscribeDeposit})
	assert.Equal(t, MessageUnsubscribed, read(t, conn).Type)

	s.Hub().BroadcastRecord(testutil.NewRecord(4, types.ActionDeposit, "4.0"))
	send(t, conn, MessagePing, nil)
	assert.Equal(t, MessagePong, read(t, conn).Type, "no event after unsubscribing")
}

func TestClientErrors(t *testing.T) {
	s := NewServer(nil)
	defer s.Stop()
	conn := dial(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, MessageError, read(t, conn).Type)

	send(t, conn, MessageSubscribe, SubscribeRequest{Type: "newBlock"})
	assert.Equal(t, MessageError, read(t, conn).Type)

	send(t, conn, "publish", nil)
	assert.Equal(t, MessageError, read(t, conn).Type)
}

func TestHubAttach(t *testing.T) {
	bus := events.NewBus(16)
	go bus.Run()
	defer bus.Stop()

	s := NewServer(nil)
	require.NoError(t, s.Attach(bus))
	conn := dial(t, s)

	send(t, conn, MessageSubscribe, SubscribeRequest{Type: SubscribeNewTransaction})
	assert.Equal(t, MessageSubscribed, read(t, conn).Type)

	rec := testutil.NewRecord(9, types.ActionDeposit, "9.0")
	require.True(t, bus.Publish(rec))
	assert.Equal(t, rec.TxHash, readEvent(t, conn).Data.TxHash)

	s.Stop()
	assert.Equal(t, 0, s.Hub().ClientCount())
	assert.Equal(t, 0, bus.SubscriberCount())
	assert.False(t, s.Hub().BroadcastRecord(rec))
}

func TestSubscriptionTypeValid(t *testing.T) {
	assert.True(t, SubscribeDeposit.Valid())
	assert.True(t, SubscribeWithdraw.Valid())
	assert.True(t, SubscribeNewTransaction.Valid())
	assert.False(t, SubscriptionType("newBlock").Valid())
	assert.Equal(t, SubscribeWithdraw, actionSubscription(types.ActionWithdraw))
}
