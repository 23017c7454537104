package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/econia-labs/econia-sub002/internal/book"
	"github.com/econia-labs/econia-sub002/internal/db/conf"
	"github.com/econia-labs/econia-sub002/internal/market"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executeWithTransaction executes a function with proper transaction management.
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}

	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

type Default struct {
	db *sql.DB
}

func New(c conf.Config) (*Default, error) {
	return &Default{db: c.DB}, nil
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

// SaveBookSnapshot journals one observation of a market's book. Levels are
// stored as JSONB so replay tooling can read them without schema churn.
func (p *Default) SaveBookSnapshot(ctx context.Context, snap market.BookSnapshot) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		bids, err := json.Marshal(snap.Bids)
		if err != nil {
			return fmt.Errorf("failed to marshal bids: %w", err)
		}
		asks, err := json.Marshal(snap.Asks)
		if err != nil {
			return fmt.Errorf("failed to marshal asks: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO orderbook_snapshots (market_id, timestamp, bids, asks) VALUES ($1,$2,$3,$4)`,
			snap.MarketID, snap.Timestamp, bids, asks)
		if err != nil {
			return fmt.Errorf("failed to save book snapshot: %w", err)
		}
		return nil
	})
}

func (p *Default) GetBookSnapshots(ctx context.Context, marketID uint64, start, end time.Time) ([]market.BookSnapshot, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT market_id, timestamp, bids, asks FROM orderbook_snapshots WHERE market_id=$1 AND timestamp >= $2 AND timestamp < $3 ORDER BY timestamp ASC`,
		marketID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []market.BookSnapshot
	for rows.Next() {
		var snap market.BookSnapshot
		var bids, asks []byte
		if err := rows.Scan(&snap.MarketID, &snap.Timestamp, &bids, &asks); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(bids, &snap.Bids); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bids: %w", err)
		}
		if err := json.Unmarshal(asks, &snap.Asks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal asks: %w", err)
		}
		snap.Timestamp = snap.Timestamp.UTC()
		if snap.Bids == nil {
			snap.Bids = []book.Level{}
		}
		if snap.Asks == nil {
			snap.Asks = []book.Level{}
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (p *Default) DeleteBookSnapshots(ctx context.Context, marketID uint64, before time.Time) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM orderbook_snapshots WHERE market_id=$1 AND timestamp < $2`, marketID, before)
		if err != nil {
			return fmt.Errorf("failed to delete book snapshots: %w", err)
		}
		return nil
	})
}
