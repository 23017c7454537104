// Package db
package db

import (
	"database/sql"

	"github.com/econia-labs/econia-sub002/internal/market"
)

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB
	market.Manager
}
