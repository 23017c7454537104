package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/econia-labs/econia-sub002/internal/market"
)

var wsTestMarket = market.Market{ID: 7, Name: "APT-USDC"}

// wsServer is an in-process indexer endpoint. It records every control
// message and lets tests push envelopes or kill connections.
type wsServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conn    *websocket.Conn
	control chan ControlMessage
}

func newWsServer(t *testing.T) *wsServer {
	s := &wsServer{t: t, control: make(chan ControlMessage, 32)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cm ControlMessage
			if err := json.Unmarshal(msg, &cm); err != nil {
				continue
			}
			s.control <- cm
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) expectControl(t *testing.T) ControlMessage {
	t.Helper()
	select {
	case cm := <-s.control:
		return cm
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for control message")
		return ControlMessage{}
	}
}

func (s *wsServer) push(t *testing.T, payload string) {
	t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(t, conn, "no active connection to push on")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func (s *wsServer) dropConnection() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func expectEvent(t *testing.T, events <-chan Event, typ EventType) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event stream closed")
		require.Equal(t, typ, ev.Type)
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event type %d", typ)
		return Event{}
	}
}

func startTestSession(t *testing.T, srv *wsServer) *Session {
	t.Helper()
	s := NewSession(srv.url())
	require.NoError(t, s.Start(context.Background(), wsTestMarket))
	t.Cleanup(s.Stop)
	return s
}

func TestSessionSubscribesOnStart(t *testing.T) {
	srv := newWsServer(t)
	s := startTestSession(t, srv)

	cm := srv.expectControl(t)
	assert.Equal(t, "subscribe", cm.Method)
	assert.Equal(t, ChannelPriceLevels, cm.Channel)
	assert.Equal(t, uint64(7), cm.Params.MarketID)
	assert.Empty(t, cm.Params.UserAddress)

	expectEvent(t, s.Events(), EventConnected)
	require.Eventually(t, s.IsConnected, 5*time.Second, 5*time.Millisecond)
}

func TestSessionAccountLifecycle(t *testing.T) {
	srv := newWsServer(t)
	s := startTestSession(t, srv)
	srv.expectControl(t) // price_levels subscribe
	expectEvent(t, s.Events(), EventConnected)

	require.NoError(t, s.OnAccountChange("0xabc"))
	for _, channel := range []string{ChannelOrders, ChannelFills} {
		cm := srv.expectControl(t)
		assert.Equal(t, "subscribe", cm.Method)
		assert.Equal(t, channel, cm.Channel)
		assert.Equal(t, "0xabc", cm.Params.UserAddress)
	}

	// Switching identities must unsubscribe the old account before the new
	// one subscribes, for both channels.
	require.NoError(t, s.OnAccountChange("0xdef"))
	for _, channel := range []string{ChannelOrders, ChannelFills} {
		cm := srv.expectControl(t)
		assert.Equal(t, "unsubscribe", cm.Method)
		assert.Equal(t, channel, cm.Channel)
		assert.Equal(t, "0xabc", cm.Params.UserAddress)
	}
	for _, channel := range []string{ChannelOrders, ChannelFills} {
		cm := srv.expectControl(t)
		assert.Equal(t, "subscribe", cm.Method)
		assert.Equal(t, channel, cm.Channel)
		assert.Equal(t, "0xdef", cm.Params.UserAddress)
	}

	// Logout only unsubscribes.
	require.NoError(t, s.OnAccountChange(""))
	for _, channel := range []string{ChannelOrders, ChannelFills} {
		cm := srv.expectControl(t)
		assert.Equal(t, "unsubscribe", cm.Method)
		assert.Equal(t, channel, cm.Channel)
		assert.Equal(t, "0xdef", cm.Params.UserAddress)
	}

	// Re-applying the same identity is a no-op.
	require.NoError(t, s.OnAccountChange(""))
	select {
	case cm := <-srv.control:
		t.Fatalf("unexpected control message: %+v", cm)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionRoutesEnvelopes(t *testing.T) {
	srv := newWsServer(t)
	s := startTestSession(t, srv)
	srv.expectControl(t)
	expectEvent(t, s.Events(), EventConnected)

	// Noise the session must drop without erroring: malformed JSON, an
	// unknown channel, a non-update event, a bad payload.
	srv.push(t, `{not json`)
	srv.push(t, `{"event":"update","channel":"candles","data":{}}`)
	srv.push(t, `{"event":"heartbeat","channel":"price_levels","data":{}}`)
	srv.push(t, `{"event":"update","channel":"price_levels","data":{"side":"limit","price":1,"size":1}}`)

	srv.push(t, `{"event":"update","channel":"price_levels","data":{"side":"buy","price":100.5,"size":3}}`)
	ev := expectEvent(t, s.Events(), EventPriceLevel)
	assert.Equal(t, "buy", ev.PriceLevel.Side)
	assert.Equal(t, "100.5", ev.PriceLevel.Price.String())
	assert.Equal(t, "3", ev.PriceLevel.Size.String())

	srv.push(t, `{"event":"update","channel":"orders","data":{"order_state":"open","market_order_id":42}}`)
	ev = expectEvent(t, s.Events(), EventOrder)
	assert.Equal(t, "open", ev.Order.OrderState)
	assert.Equal(t, uint64(42), ev.Order.MarketOrderID)

	srv.push(t, `{"event":"update","channel":"fills","data":{"order_state":"filled","market_order_id":42,"size":1.5}}`)
	ev = expectEvent(t, s.Events(), EventFill)
	assert.Equal(t, "filled", ev.Order.OrderState)
}

func TestSessionReconnectsAndResubscribes(t *testing.T) {
	srv := newWsServer(t)
	s := startTestSession(t, srv)
	srv.expectControl(t)
	expectEvent(t, s.Events(), EventConnected)
	require.NoError(t, s.OnAccountChange("0xabc"))
	srv.expectControl(t) // orders
	srv.expectControl(t) // fills

	srv.dropConnection()

	// The session must come back by itself and replay every subscription,
	// market first, then the recorded account.
	cm := srv.expectControl(t)
	assert.Equal(t, "subscribe", cm.Method)
	assert.Equal(t, ChannelPriceLevels, cm.Channel)
	for _, channel := range []string{ChannelOrders, ChannelFills} {
		cm = srv.expectControl(t)
		assert.Equal(t, "subscribe", cm.Method)
		assert.Equal(t, channel, cm.Channel)
		assert.Equal(t, "0xabc", cm.Params.UserAddress)
	}

	// A fresh EventConnected tells the consumer to re-seed its book.
	expectEvent(t, s.Events(), EventConnected)
}

func TestSessionStopClosesEventStream(t *testing.T) {
	srv := newWsServer(t)
	s := NewSession(srv.url())
	require.NoError(t, s.Start(context.Background(), wsTestMarket))
	srv.expectControl(t)
	expectEvent(t, s.Events(), EventConnected)

	s.Stop()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-s.Events():
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)

	assert.Error(t, s.OnAccountChange("0xabc"))
}

func TestSessionStartTwiceFails(t *testing.T) {
	srv := newWsServer(t)
	s := startTestSession(t, srv)
	assert.Error(t, s.Start(context.Background(), wsTestMarket))
}
