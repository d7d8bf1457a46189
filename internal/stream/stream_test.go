package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/galactic-exchange/internal/clearing"
	"github.com/ksred/galactic-exchange/internal/codec"
	"github.com/ksred/galactic-exchange/internal/types"
)

func testTrade(id string) types.Trade {
	return types.Trade{
		TradeID:   id,
		Buyer:     "alice",
		Seller:    "bob",
		Price:     150,
		Quantity:  10,
		Contract:  types.ContractKey{DeliveryStart: 3_600_000, DeliveryEnd: 7_200_000},
		Timestamp: 42,
		V2:        true,
	}
}

func TestEncodeTradeFields(t *testing.T) {
	data, err := EncodeTrade(testTrade("t1"))
	require.NoError(t, err)

	msg, err := codec.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, codec.Map{
		"trade_id":       "t1",
		"buyer":          "alice",
		"seller":         "bob",
		"price":          int64(150),
		"quantity":       int64(10),
		"delivery_start": int64(3_600_000),
		"delivery_end":   int64(7_200_000),
		"timestamp":      int64(42),
	}, msg)
}

func newStreamServer(t *testing.T) (*Broadcaster, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewBroadcaster(zerolog.Nop())
	go hub.Run()

	router := gin.New()
	router.GET("/v2/stream/trades", hub.Handler())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v2/stream/trades"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastReachesConsumer(t *testing.T) {
	hub, srv := newStreamServer(t)
	conn := dialStream(t, srv)

	// Registration races the broadcast; give the run loop a moment.
	time.Sleep(50 * time.Millisecond)

	hub.BroadcastTrade(testTrade("t1"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	msg, err := codec.Decode(frame)
	require.NoError(t, err)
	id, _ := msg.String("trade_id")
	assert.Equal(t, "t1", id)
}

func TestLegacyTradesNeverBroadcast(t *testing.T) {
	hub, srv := newStreamServer(t)
	conn := dialStream(t, srv)
	time.Sleep(50 * time.Millisecond)

	legacy := testTrade("legacy")
	legacy.V2 = false
	hub.BroadcastTrade(legacy)
	hub.BroadcastTrade(testTrade("live"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	msg, err := codec.Decode(frame)
	require.NoError(t, err)
	id, _ := msg.String("trade_id")
	assert.Equal(t, "live", id, "the v1 trade must be skipped")
}

func TestLiveSinkRecordsAndBroadcasts(t *testing.T) {
	hub, srv := newStreamServer(t)
	conn := dialStream(t, srv)
	time.Sleep(50 * time.Millisecond)

	ledger := clearing.NewLedger(zerolog.Nop())
	sink := NewLiveSink(ledger, hub)

	trade := sink.Record(types.Trade{
		Buyer: "alice", Seller: "bob", Price: 10, Quantity: 2, V2: true,
	})
	assert.NotEmpty(t, trade.TradeID)
	assert.Equal(t, int64(-20), ledger.Balance("alice"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := codec.Decode(frame)
	require.NoError(t, err)
	id, _ := msg.String("trade_id")
	assert.Equal(t, trade.TradeID, id)
}

func TestBufferedSinkHoldsBroadcasts(t *testing.T) {
	hub, srv := newStreamServer(t)
	conn := dialStream(t, srv)
	time.Sleep(50 * time.Millisecond)

	ledger := clearing.NewLedger(zerolog.Nop())
	sink := NewBufferedSink(ledger)

	first := sink.Record(types.Trade{Buyer: "a", Seller: "b", Price: 1, Quantity: 1, V2: true})
	second := sink.Record(types.Trade{Buyer: "a", Seller: "b", Price: 2, Quantity: 1, V2: true})

	// Recorded in the ledger immediately, broadcast only on flush.
	assert.Len(t, ledger.All(), 2)
	require.Len(t, sink.Pending(), 2)

	sink.Flush(hub)
	assert.Empty(t, sink.Pending())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{first.TradeID, second.TradeID} {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		msg, err := codec.Decode(frame)
		require.NoError(t, err)
		id, _ := msg.String("trade_id")
		assert.Equal(t, want, id, "flush must preserve production order")
	}
}

func TestDroppedConsumerDoesNotBlockBroadcasts(t *testing.T) {
	hub, srv := newStreamServer(t)

	conn := dialStream(t, srv)
	time.Sleep(50 * time.Millisecond)
	conn.Close()
	time.Sleep(50 * time.Millisecond)

	// Must not panic or wedge with the consumer gone.
	hub.BroadcastTrade(testTrade("after-close"))

	survivor := dialStream(t, srv)
	time.Sleep(50 * time.Millisecond)
	hub.BroadcastTrade(testTrade("second"))

	survivor.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := survivor.ReadMessage()
	require.NoError(t, err)
	msg, err := codec.Decode(frame)
	require.NoError(t, err)
	id, _ := msg.String("trade_id")
	assert.Equal(t, "second", id)
}

func TestHandlerRejectsPlainHTTP(t *testing.T) {
	_, srv := newStreamServer(t)

	resp, err := http.Get(srv.URL + "/v2/stream/trades")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
