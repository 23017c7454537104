// Package feed
//
// A Feed owns the order book for one active market. It merges the REST
// snapshot with the websocket diff stream under a deterministic policy:
// diffs that arrive while the snapshot is in flight are buffered in arrival
// order and flushed into the book once the snapshot lands. A generation
// counter ties every snapshot response to the connection that requested it,
// so a response arriving after a reconnect or teardown is ignored.
//
// All book mutations happen on the Run goroutine. Readers get deep copies.
package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/econia-labs/econia-sub002/internal/book"
	"github.com/econia-labs/econia-sub002/internal/exchange"
	"github.com/econia-labs/econia-sub002/internal/market"
	"github.com/econia-labs/econia-sub002/internal/notifier"
)

// Status reports how far the current connection generation has gotten with
// its snapshot.
type Status int

const (
	// StatusLoading means no snapshot has been applied for the current
	// connection; diffs are being buffered.
	StatusLoading Status = iota
	// StatusReady means the book is seeded and diffs apply directly.
	StatusReady
	// StatusError means the snapshot fetch failed. Diffs keep buffering; a
	// reconnect retries the fetch.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "loading"
	}
}

// EventSource is the inbound stream. Satisfied by *exchange.Session.
type EventSource interface {
	Events() <-chan exchange.Event
}

// Config controls one feed.
type Config struct {
	Market market.Market
	Depth  int
	// JournalInterval enables periodic book snapshot journaling when a
	// store is configured. Zero disables it.
	JournalInterval time.Duration
}

type snapshotResult struct {
	gen  uint64
	snap exchange.OrderbookSnapshot
	err  error
}

// Feed reconciles one market's book from a snapshot plus a diff stream.
type Feed struct {
	cfg        Config
	loader     exchange.SnapshotLoader
	source     EventSource
	dispatcher *notifier.Dispatcher
	store      market.Manager // optional

	mu      sync.RWMutex
	bk      *book.Book
	status  Status
	loadErr error

	// Loop-goroutine state, never touched elsewhere.
	gen     uint64
	pending []exchange.PriceLevelUpdate
	snapCh  chan snapshotResult
}

// New builds a feed. store may be nil to disable journaling; dispatcher may
// be nil when no account channels are in use.
func New(cfg Config, loader exchange.SnapshotLoader, source EventSource, dispatcher *notifier.Dispatcher, store market.Manager) *Feed {
	if cfg.Depth <= 0 {
		cfg.Depth = exchange.DefaultSnapshotDepth
	}
	return &Feed{
		cfg:        cfg,
		loader:     loader,
		source:     source,
		dispatcher: dispatcher,
		store:      store,
		bk:         book.New(),
		snapCh:     make(chan snapshotResult, 1),
	}
}

// Run consumes events until the context is cancelled or the source closes.
// It is the only goroutine that mutates the book.
func (f *Feed) Run(ctx context.Context) error {
	var journalC <-chan time.Time
	if f.store != nil && f.cfg.JournalInterval > 0 {
		ticker := time.NewTicker(f.cfg.JournalInterval)
		defer ticker.Stop()
		journalC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-f.source.Events():
			if !ok {
				log.Printf("Feed | Event stream closed for %s", f.cfg.Market)
				return nil
			}
			f.handleEvent(ctx, ev)
		case res := <-f.snapCh:
			f.handleSnapshot(res)
		case <-journalC:
			f.journal(ctx)
		}
	}
}

func (f *Feed) handleEvent(ctx context.Context, ev exchange.Event) {
	switch ev.Type {
	case exchange.EventConnected:
		f.beginGeneration(ctx)
	case exchange.EventPriceLevel:
		f.handlePriceLevel(ev.PriceLevel)
	case exchange.EventOrder, exchange.EventFill:
		if f.dispatcher == nil {
			return
		}
		err := f.dispatcher.Dispatch(notifier.OrderEvent{
			Market:        f.cfg.Market.String(),
			OrderState:    ev.Order.OrderState,
			MarketOrderID: ev.Order.MarketOrderID,
		})
		if err != nil {
			log.Printf("Feed | Notification for order %d failed: %v", ev.Order.MarketOrderID, err)
		}
	}
}

// beginGeneration starts a fresh snapshot fetch for a new connection. The
// previous generation's buffered diffs describe a dead subscription and are
// discarded; any in-flight fetch result will fail the generation check.
func (f *Feed) beginGeneration(ctx context.Context) {
	f.gen++
	f.pending = f.pending[:0]

	f.mu.Lock()
	f.status = StatusLoading
	f.loadErr = nil
	f.mu.Unlock()

	gen := f.gen
	log.Printf("Feed | Fetching snapshot for %s (generation %d)", f.cfg.Market, gen)
	go func() {
		snap, err := f.loader.FetchOrderbook(ctx, f.cfg.Market.ID, f.cfg.Depth)
		select {
		case f.snapCh <- snapshotResult{gen: gen, snap: snap, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (f *Feed) handlePriceLevel(u exchange.PriceLevelUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != StatusReady {
		f.pending = append(f.pending, u)
		return
	}
	f.apply(u)
}

// apply assumes f.mu is held.
func (f *Feed) apply(u exchange.PriceLevelUpdate) {
	side, lv, err := u.ToLevel()
	if err != nil {
		// The session validates payloads before forwarding; anything that
		// still fails here is dropped at this boundary too.
		log.Printf("Feed | Dropping invalid level for %s: %v", f.cfg.Market, err)
		return
	}
	f.bk.Apply(side, lv)
}

func (f *Feed) handleSnapshot(res snapshotResult) {
	if res.gen != f.gen {
		log.Printf("Feed | Ignoring stale snapshot for %s (generation %d, current %d)", f.cfg.Market, res.gen, f.gen)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if res.err != nil {
		f.status = StatusError
		f.loadErr = res.err
		log.Printf("Feed | Snapshot fetch failed for %s: %v", f.cfg.Market, res.err)
		return
	}

	f.bk.Seed(res.snap.Bids, res.snap.Asks)
	for _, u := range f.pending {
		f.apply(u)
	}
	flushed := len(f.pending)
	f.pending = f.pending[:0]
	f.status = StatusReady
	f.loadErr = nil
	log.Printf("Feed | Book ready for %s (%d buffered diffs applied)", f.cfg.Market, flushed)
}

// Snapshot returns a deep copy of the book together with the load status.
// The copy is safe to read from any goroutine.
func (f *Feed) Snapshot() (*book.Book, Status, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bk.Clone(), f.status, f.loadErr
}

// Summary is a convenience for display collaborators.
func (f *Feed) Summary() book.Summary {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bk.Summarize()
}

func (f *Feed) journal(ctx context.Context) {
	bk, status, _ := f.Snapshot()
	if status != StatusReady {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := f.store.SaveBookSnapshot(ctx, market.BookSnapshot{
		MarketID:  f.cfg.Market.ID,
		Bids:      bk.Bids,
		Asks:      bk.Asks,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("Feed | Failed to journal book for %s: %v", f.cfg.Market, err)
	}
}
