// Package exchange
package exchange

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/econia-labs/econia-sub002/internal/book"
)

// Subscription channels offered by the indexer websocket.
const (
	ChannelPriceLevels = "price_levels"
	ChannelOrders      = "orders"
	ChannelFills       = "fills"
)

// ControlMessage is a client-to-server subscribe/unsubscribe request.
type ControlMessage struct {
	Method  string        `json:"method"` // "subscribe" or "unsubscribe"
	Channel string        `json:"channel"`
	Params  ControlParams `json:"params"`
}

// ControlParams scopes a subscription. UserAddress is set only for the
// account channels (orders, fills).
type ControlParams struct {
	MarketID    uint64 `json:"market_id"`
	UserAddress string `json:"user_address,omitempty"`
}

// Envelope is the server-to-client event wrapper. Data stays raw until the
// channel is known.
type Envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// PriceLevelUpdate is the price_levels payload. Size is the new absolute
// size at the price, not a delta.
type PriceLevelUpdate struct {
	Side  string          `json:"side"` // "buy" or "sell"
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// ToLevel converts the wire payload into book terms.
func (u PriceLevelUpdate) ToLevel() (book.Side, book.Level, error) {
	side, err := book.ParseSide(u.Side)
	if err != nil {
		return 0, book.Level{}, err
	}
	if u.Size.Sign() < 0 {
		return 0, book.Level{}, fmt.Errorf("negative size %s at price %s", u.Size, u.Price)
	}
	return side, book.Level{Price: u.Price, Size: u.Size}, nil
}

// OrderUpdate is the orders/fills payload. Servers may attach more fields;
// only the ones the client acts on are decoded.
type OrderUpdate struct {
	OrderState    string          `json:"order_state"`
	MarketOrderID uint64          `json:"market_order_id"`
	MarketID      uint64          `json:"market_id"`
	UserAddress   string          `json:"user_address"`
	Side          string          `json:"side,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
}

// OrderbookSnapshot is the REST depth response used to seed a book.
type OrderbookSnapshot struct {
	Bids []book.Level `json:"bids"`
	Asks []book.Level `json:"asks"`
}
