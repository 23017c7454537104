package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/econia-labs/econia-sub002/internal/market"
)

// Memory is an in-memory Storage for tests and headless runs without a
// database.
type Memory struct {
	mu    sync.RWMutex
	snaps []market.BookSnapshot
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) GetDB() *sql.DB { return nil }

func (m *Memory) SaveBookSnapshot(ctx context.Context, snap market.BookSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *Memory) GetBookSnapshots(ctx context.Context, marketID uint64, start, end time.Time) ([]market.BookSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []market.BookSnapshot
	for _, s := range m.snaps {
		if s.MarketID != marketID {
			continue
		}
		if s.Timestamp.Before(start) || !s.Timestamp.Before(end) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) DeleteBookSnapshots(ctx context.Context, marketID uint64, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.snaps[:0]
	for _, s := range m.snaps {
		if s.MarketID == marketID && s.Timestamp.Before(before) {
			continue
		}
		kept = append(kept, s)
	}
	m.snaps = kept
	return nil
}
