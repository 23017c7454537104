package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lib/pq"

	"github.com/econia-labs/econia-sub002/internal/config"
	"github.com/econia-labs/econia-sub002/internal/db"
	"github.com/econia-labs/econia-sub002/internal/db/conf"
	"github.com/econia-labs/econia-sub002/internal/exchange"
	"github.com/econia-labs/econia-sub002/internal/feed"
	"github.com/econia-labs/econia-sub002/internal/market"
	"github.com/econia-labs/econia-sub002/internal/notifier"
)

func main() {
	// Load configuration
	cfg := config.MustLoadConfig()
	log.Printf("Starting Econia client for %s", cfg.Market)

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Run migrations if enabled
	if cfg.RunMigration {
		if err := runMigrations(ctx, cfg.DBConnStr); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize database connection; journaling is skipped without one.
	var store market.Manager
	if cfg.DBConnStr != "" {
		dbConfig, err := conf.NewConfig(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
		if err != nil {
			log.Fatalf("Failed to configure database: %v", err)
		}
		defer dbConfig.DB.Close()

		dbadapter, err := db.New(*dbConfig)
		if err != nil {
			log.Fatalf("Failed to create database adapter: %v", err)
		}
		store = dbadapter
		log.Println("Book snapshot journaling enabled")
	}

	// Notifications: Telegram when configured, process log otherwise.
	var n notifier.Notifier = notifier.LogNotifier{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		n = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay)
	}
	dispatcher := notifier.NewDispatcher(n)

	restClient := exchange.NewRestClient(cfg.RestURL)
	session := exchange.NewSession(cfg.WsURL)
	bookFeed := feed.New(feed.Config{
		Market:          cfg.Market,
		Depth:           cfg.Depth,
		JournalInterval: cfg.JournalInterval,
	}, restClient, session, dispatcher, store)

	if err := session.Start(ctx, cfg.Market); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	if cfg.AccountAddress != "" {
		if err := session.OnAccountChange(cfg.AccountAddress); err != nil {
			log.Printf("Failed to subscribe account channels: %v", err)
		}
	}

	go summaryLogger(ctx, bookFeed, 10*time.Second)

	if err := bookFeed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Feed stopped: %v", err)
	}
	session.Stop()
	log.Println("Shutdown complete")
}

// summaryLogger periodically prints the top of book.
func summaryLogger(ctx context.Context, f *feed.Feed, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bk, status, err := f.Snapshot()
			if status != feed.StatusReady {
				log.Printf("Book | status=%s err=%v", status, err)
				continue
			}
			s := bk.Summarize()
			bid, ask := "-", "-"
			if s.BestBid != nil {
				bid = fmt.Sprintf("%s (%s)", s.BestBid.Price, s.BestBid.Size)
			}
			if s.BestAsk != nil {
				ask = fmt.Sprintf("%s (%s)", s.BestAsk.Price, s.BestAsk.Size)
			}
			nb, na := bk.Depth()
			log.Printf("Book | bid=%s ask=%s spread=%s depth=%d/%d", bid, ask, s.Spread, nb, na)
		}
	}
}

// runMigrations creates the database if it doesn't exist and runs the schema.sql script
func runMigrations(ctx context.Context, connStr string) error {
	log.Println("Running database migrations...")

	// Parse connection string to extract database name
	u, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name not found in connection string")
	}

	// Create a connection string to the postgres database to create our database
	baseConnStr := fmt.Sprintf("postgres://%s:%s@%s/postgres%s",
		u.User.Username(),
		func() string {
			p, _ := u.User.Password()
			return p
		}(),
		u.Host,
		func() string {
			if u.RawQuery != "" {
				return "?" + u.RawQuery
			}
			return ""
		}())

	// Connect to the postgres database
	baseDB, err := sql.Open("postgres", baseConnStr)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer baseDB.Close()

	// Check if our database exists
	var exists bool
	err = baseDB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}

	// Create the database if it doesn't exist
	if !exists {
		log.Printf("Creating database %s...", dbName)
		_, err = baseDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	// Connect to our database
	migrateDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer migrateDB.Close()

	// Read the schema.sql file
	schemaSQL, err := os.ReadFile("scripts/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}

	// Execute the schema.sql script
	_, err = migrateDB.ExecContext(ctx, string(schemaSQL))
	if err != nil {
		return fmt.Errorf("failed to execute schema.sql: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}
