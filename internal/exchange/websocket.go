// Package exchange
//
// WebSocket Implementation Notes:
//   - A Session owns exactly one live connection for one mounted market view.
//     Market activation opens the transport and subscribes the price_levels
//     channel; account login/logout toggles the orders/fills channels.
//   - All inbound envelopes are parsed here and forwarded on a single events
//     channel, so exactly one consumer goroutine ever touches the book.
//   - On a transport drop the session reconnects with exponential backoff and
//     re-issues every active subscription; an EventConnected is emitted after
//     each (re)subscribe so the consumer re-seeds its book from a snapshot.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/econia-labs/econia-sub002/internal/market"
)

// ConnectionState represents the state of the websocket connection
// (for health checks and monitoring)
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

// EventType discriminates the events a Session emits.
type EventType int

const (
	// EventConnected is emitted after every successful connect and
	// subscribe, including reconnects. The consumer must treat its book as
	// stale and re-seed from a snapshot.
	EventConnected EventType = iota
	// EventPriceLevel carries one book diff.
	EventPriceLevel
	// EventOrder carries an order lifecycle update for the subscribed account.
	EventOrder
	// EventFill carries a fill for the subscribed account.
	EventFill
)

// Event is one item on the session's outbound stream. Exactly one payload
// field is meaningful, selected by Type.
type Event struct {
	Type       EventType
	PriceLevel PriceLevelUpdate
	Order      OrderUpdate
}

// Session keeps one market view's subscriptions consistent over a single
// websocket connection.
type Session struct {
	wsURL string

	mu         sync.RWMutex
	state      ConnectionState
	conn       *websocket.Conn
	writeMu    sync.Mutex
	mkt        market.Market
	account    string // subscribed account address, "" when logged out
	started    bool
	closed     bool
	healthErr  error
	lastPing   time.Time
	lastPong   time.Time
	cancelFunc context.CancelFunc

	events chan Event
	done   chan struct{}
}

// NewSession builds a session for the given websocket endpoint. Start must
// be called before any events flow.
func NewSession(wsURL string) *Session {
	return &Session{
		wsURL:  wsURL,
		state:  Disconnected,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
}

// Events is the single outbound stream. It is closed when the session stops.
// Events are delivered in the order the transport produced them.
func (s *Session) Events() <-chan Event {
	return s.events
}

// IsConnected returns true if the websocket is connected.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == Connected && s.conn != nil
}

// Health returns the last connection error (if any).
func (s *Session) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthErr
}

// Start connects and subscribes the price_levels channel for mkt, with
// reconnect and health check. It returns immediately; events arrive on
// Events(). Calling Start twice is an error.
func (s *Session) Start(ctx context.Context, mkt market.Market) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session is closed")
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started for %s", s.mkt)
	}
	s.started = true
	s.mkt = mkt
	s.state = Connecting
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel
	s.mu.Unlock()

	go func() {
		defer close(s.events)
		defer close(s.done)
		retryDelay := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			default:
				start := time.Now()
				if err := s.connectAndStream(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					s.mu.Lock()
					s.state = Reconnecting
					s.healthErr = err
					s.mu.Unlock()
					if time.Since(start) > time.Minute {
						// The previous connection held for a while; reset backoff.
						retryDelay = time.Second
					}
					log.Printf("EconiaWS | Disconnected from %s, retrying in %v: %v", mkt, retryDelay, err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(retryDelay):
					}
					if retryDelay < 60*time.Second {
						retryDelay *= 2
						if retryDelay > 60*time.Second {
							retryDelay = 60 * time.Second
						}
					}
					continue
				}
				return
			}
		}
	}()
	return nil
}

// Stop closes the transport, which invalidates every subscription at once.
// It blocks until the event stream drains and closes.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()

	if started {
		<-s.done
	} else {
		close(s.events)
		close(s.done)
	}
	log.Printf("EconiaWS | Session closed for %s", s.mkt)
}

// OnAccountChange switches the account-scoped channels to address. An empty
// address means logged out. The previous account is always unsubscribed
// before a new one subscribes, so notifications never leak across
// identities. While disconnected only the desired state is recorded; the
// reconnect path replays it.
func (s *Session) OnAccountChange(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session is closed")
	}
	prev := s.account
	if prev == address {
		return nil
	}
	s.account = address
	if s.state != Connected || s.conn == nil {
		return nil
	}
	if prev != "" {
		if err := s.sendAccountControl(s.conn, "unsubscribe", prev); err != nil {
			return err
		}
	}
	if address != "" {
		if err := s.sendAccountControl(s.conn, "subscribe", address); err != nil {
			return err
		}
	}
	return nil
}

// connectAndStream handles a single websocket connection session.
func (s *Session) connectAndStream(ctx context.Context) error {
	s.mu.Lock()
	s.state = Connecting
	s.healthErr = nil
	mkt := s.mkt
	s.mu.Unlock()

	c, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return nil
	}
	s.conn = c
	s.state = Connected
	s.lastPing = time.Now()
	s.lastPong = time.Now()
	account := s.account
	s.mu.Unlock()

	log.Printf("EconiaWS | Connection established for %s", mkt)
	defer func() {
		c.Close()
		s.mu.Lock()
		s.conn = nil
		s.state = Disconnected
		s.mu.Unlock()
	}()

	if err := s.writeControl(c, ControlMessage{
		Method:  "subscribe",
		Channel: ChannelPriceLevels,
		Params:  ControlParams{MarketID: mkt.ID},
	}); err != nil {
		return err
	}
	if account != "" {
		if err := s.sendAccountControl(c, "subscribe", account); err != nil {
			return err
		}
	}
	log.Printf("EconiaWS | Subscribed to %s channel for %s", ChannelPriceLevels, mkt)

	if err := s.emit(ctx, Event{Type: EventConnected}); err != nil {
		return nil
	}

	c.SetPongHandler(func(appData string) error {
		s.mu.Lock()
		s.lastPong = time.Now()
		s.mu.Unlock()
		return nil
	})

	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		pingTicker := time.NewTicker(20 * time.Second)
		defer pingTicker.Stop()
		for {
			select {
			case <-pingStop:
				return
			case <-ctx.Done():
				return
			case <-pingTicker.C:
				s.writeMu.Lock()
				err := c.WriteMessage(websocket.PingMessage, nil)
				s.writeMu.Unlock()
				if err != nil {
					return
				}
				s.mu.Lock()
				s.lastPing = time.Now()
				s.mu.Unlock()
			}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			s.writeMu.Lock()
			c.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			s.writeMu.Unlock()
			return nil
		}

		c.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, message, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		ev, ok := s.route(message)
		if !ok {
			continue
		}
		if err := s.emit(ctx, ev); err != nil {
			return nil
		}
	}
}

// emit forwards one event, preserving transport order. It only fails when
// the session is being torn down.
func (s *Session) emit(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// route parses one inbound frame. Malformed frames and unknown channels or
// events are dropped here so nothing downstream ever sees them; unknown
// channels are deliberately not an error, to tolerate server additions.
func (s *Session) route(message []byte) (Event, bool) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Printf("EconiaWS | Dropping malformed envelope: %v", err)
		return Event{}, false
	}
	if env.Event != "update" {
		return Event{}, false
	}

	switch env.Channel {
	case ChannelPriceLevels:
		var u PriceLevelUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			log.Printf("EconiaWS | Dropping malformed price_levels payload: %v", err)
			return Event{}, false
		}
		if _, _, err := u.ToLevel(); err != nil {
			log.Printf("EconiaWS | Dropping invalid price_levels payload: %v", err)
			return Event{}, false
		}
		return Event{Type: EventPriceLevel, PriceLevel: u}, true
	case ChannelOrders, ChannelFills:
		var u OrderUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			log.Printf("EconiaWS | Dropping malformed %s payload: %v", env.Channel, err)
			return Event{}, false
		}
		typ := EventOrder
		if env.Channel == ChannelFills {
			typ = EventFill
		}
		return Event{Type: typ, Order: u}, true
	default:
		return Event{}, false
	}
}

// sendAccountControl issues one subscribe/unsubscribe pair for the account
// channels. conn writes are serialized by writeMu.
func (s *Session) sendAccountControl(c *websocket.Conn, method, address string) error {
	for _, channel := range []string{ChannelOrders, ChannelFills} {
		msg := ControlMessage{
			Method:  method,
			Channel: channel,
			Params:  ControlParams{MarketID: s.mkt.ID, UserAddress: address},
		}
		if err := s.writeControl(c, msg); err != nil {
			return fmt.Errorf("%s %s for %s: %w", method, channel, s.mkt, err)
		}
	}
	log.Printf("EconiaWS | %s orders/fills for %s user=%s", method, s.mkt, address)
	return nil
}

func (s *Session) writeControl(c *websocket.Conn, msg ControlMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return c.WriteMessage(websocket.TextMessage, payload)
}
