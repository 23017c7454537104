// Package book
package book

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Side identifies which half of the book a level belongs to.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// ParseSide maps the wire values used by the price_levels channel.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Bid, nil
	case "sell":
		return Ask, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// Level is the aggregate resting quantity at a price. Size is the absolute
// new size at that price, never an increment.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// NewLevel builds a level from float inputs. Intended for tests and fixtures;
// wire data should decode straight into decimals.
func NewLevel(price, size float64) Level {
	return Level{Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(size)}
}

// AppliedLevel records the most recent event applied to the book, for
// consumers that want to highlight the changed row. It is observational only.
type AppliedLevel struct {
	Side  Side
	Level Level
}

// Book is a two-sided price-level view for one market.
//
// Invariants after every Seed or Apply: bids strictly descending by price,
// asks strictly ascending, no duplicate price on a side, no zero-size level
// retained. Book is not safe for concurrent use; the feed pipeline owns it
// and mutates it from a single goroutine.
type Book struct {
	Bids        []Level
	Asks        []Level
	LastApplied *AppliedLevel
}

// Summary is the top-of-book view handed to display collaborators.
type Summary struct {
	BestBid *Level          `json:"best_bid,omitempty"`
	BestAsk *Level          `json:"best_ask,omitempty"`
	Spread  decimal.Decimal `json:"spread"`
}

func New() *Book {
	return &Book{}
}

// Seed replaces both sides from a snapshot. Zero- and negative-size levels
// are dropped and each side is normalized to its sort order, so a snapshot
// from any source leaves the book obeying its invariants.
func (b *Book) Seed(bids, asks []Level) {
	b.Bids = normalize(bids, Bid)
	b.Asks = normalize(asks, Ask)
	b.LastApplied = nil
}

func normalize(levels []Level, side Side) []Level {
	out := make([]Level, 0, len(levels))
	for _, lv := range levels {
		if lv.Size.Sign() > 0 {
			out = append(out, lv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if side == Bid {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	// Collapse duplicate prices, keeping the later entry.
	dedup := out[:0]
	for _, lv := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Price.Equal(lv.Price) {
			dedup[n-1] = lv
			continue
		}
		dedup = append(dedup, lv)
	}
	return dedup
}

// Apply reconciles one diff event into the book. The event's size is the new
// absolute size at that price: a positive size updates the level in place or
// inserts it at its sorted position, a zero size removes the level if present
// and is a no-op otherwise. Apply is total for well-formed input and runs in
// O(depth), where depth is bounded by the snapshot depth parameter.
func (b *Book) Apply(side Side, lv Level) {
	if side == Bid {
		b.Bids = reconcile(b.Bids, lv, func(event, existing decimal.Decimal) bool {
			return event.GreaterThan(existing)
		})
	} else {
		b.Asks = reconcile(b.Asks, lv, func(event, existing decimal.Decimal) bool {
			return event.LessThan(existing)
		})
	}
	b.LastApplied = &AppliedLevel{Side: side, Level: lv}
}

// reconcile scans from the head of one side. before reports whether the event
// price sorts strictly ahead of an existing price for this side's ordering.
func reconcile(levels []Level, lv Level, before func(event, existing decimal.Decimal) bool) []Level {
	remove := lv.Size.Sign() <= 0
	for i, e := range levels {
		if lv.Price.Equal(e.Price) {
			if remove {
				return append(levels[:i], levels[i+1:]...)
			}
			levels[i].Size = lv.Size
			return levels
		}
		if before(lv.Price, e.Price) {
			if remove {
				return levels
			}
			levels = append(levels, Level{})
			copy(levels[i+1:], levels[i:])
			levels[i] = lv
			return levels
		}
	}
	if remove {
		return levels
	}
	return append(levels, lv)
}

// BestBid returns the highest-priced bid, or nil on an empty side.
func (b *Book) BestBid() *Level {
	if len(b.Bids) == 0 {
		return nil
	}
	lv := b.Bids[0]
	return &lv
}

// BestAsk returns the lowest-priced ask, or nil on an empty side.
func (b *Book) BestAsk() *Level {
	if len(b.Asks) == 0 {
		return nil
	}
	lv := b.Asks[0]
	return &lv
}

// Summarize computes the top-of-book summary. Spread is zero unless both
// sides are populated.
func (b *Book) Summarize() Summary {
	s := Summary{BestBid: b.BestBid(), BestAsk: b.BestAsk()}
	if s.BestBid != nil && s.BestAsk != nil {
		s.Spread = s.BestAsk.Price.Sub(s.BestBid.Price)
	}
	return s
}

// Clone returns a deep copy safe to hand to readers on other goroutines.
func (b *Book) Clone() *Book {
	c := &Book{
		Bids: append([]Level(nil), b.Bids...),
		Asks: append([]Level(nil), b.Asks...),
	}
	if b.LastApplied != nil {
		la := *b.LastApplied
		c.LastApplied = &la
	}
	return c
}

// Depth returns the number of maintained levels per side.
func (b *Book) Depth() (bids, asks int) {
	return len(b.Bids), len(b.Asks)
}
