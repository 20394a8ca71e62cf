/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time checks: *Service must satisfy the ledger and journal contracts.
var (
	_ store.LedgerStore         = (*Service)(nil)
	_ store.CompensationJournal = (*Service)(nil)
)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	// Every write transaction takes the RESERVED lock on BEGIN, so balance
	// mutations for the whole file are linearized by SQLite itself.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate&_busy_timeout=%d",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after ping failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after schema failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema(ctx context.Context) error {
	schema := `
	-- Balances (current state - hot data)
	CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT NOT NULL,
		venue_id TEXT NOT NULL,
		current_balance INTEGER NOT NULL DEFAULT 0 CHECK (current_balance >= 0),
		total_earned INTEGER NOT NULL DEFAULT 0,
		total_spent INTEGER NOT NULL DEFAULT 0,
		last_activity TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, venue_id)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_venue ON balances(venue_id);

	-- Ledger transactions (append-only audit trail - cold data)
	CREATE TABLE IF NOT EXISTS ledger_transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		venue_id TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('earn', 'spend', 'bonus', 'penalty', 'refund')),
		amount INTEGER NOT NULL CHECK (amount > 0),
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL,
		reference_type TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_transactions_reference
		ON ledger_transactions(reference_id, reference_type, type);
	CREATE INDEX IF NOT EXISTS idx_ledger_transactions_user_venue ON ledger_transactions(user_id, venue_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_transactions_created_at ON ledger_transactions(created_at);

	-- Compensations that could not complete in-line
	CREATE TABLE IF NOT EXISTS pending_compensations (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		venue_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		track_id TEXT NOT NULL,
		amount INTEGER NOT NULL DEFAULT 0,
		correlation_id TEXT NOT NULL,
		original_transaction_id TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		resolved BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(kind, correlation_id)
	);

	CREATE INDEX IF NOT EXISTS idx_pending_compensations_open ON pending_compensations(resolved, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
