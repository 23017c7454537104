// Package market
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/econia-labs/econia-sub002/internal/book"
)

// Market identifies a tradable market and its display metadata. It is
// read-only context for the reconciliation pipeline; nothing here is mutated
// by the engine.
type Market struct {
	ID            uint64 `json:"market_id" yaml:"market_id"`
	Name          string `json:"name" yaml:"name"` // e.g. "APT-USDC"
	BaseSymbol    string `json:"base_symbol" yaml:"base_symbol"`
	QuoteSymbol   string `json:"quote_symbol" yaml:"quote_symbol"`
	BaseDecimals  int32  `json:"base_decimals" yaml:"base_decimals"`
	QuoteDecimals int32  `json:"quote_decimals" yaml:"quote_decimals"`
}

func (m Market) String() string {
	if m.Name != "" {
		return m.Name
	}
	return fmt.Sprintf("market-%d", m.ID)
}

// BookSnapshot is one journaled observation of a market's book.
type BookSnapshot struct {
	MarketID  uint64
	Bids      []book.Level
	Asks      []book.Level
	Timestamp time.Time
}

// Manager is the interface for journaled book snapshot storage.
type Manager interface {
	SaveBookSnapshot(ctx context.Context, snap BookSnapshot) error
	GetBookSnapshots(ctx context.Context, marketID uint64, start, end time.Time) ([]BookSnapshot, error)
	DeleteBookSnapshots(ctx context.Context, marketID uint64, before time.Time) error
}
