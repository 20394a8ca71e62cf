package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/store"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

type rowScanner interface {
	Scan(dest ...any) error
}

// ApplyTransaction atomically adjusts the balance and appends the audit row.
// The reference lookup, the guarded balance update and the insert share one
// immediate-mode transaction, so concurrent debits against the same balance
// are serialized and a replayed reference never mutates twice.
func (s *Service) ApplyTransaction(ctx context.Context, params models.ApplyTransactionParams) (*models.LedgerTransaction, error) {
	if err := store.ValidateParams(params); err != nil {
		return nil, err
	}

	zap.L().Debug("Applying ledger transaction",
		zap.String("user_id", params.UserId),
		zap.String("venue_id", params.VenueId),
		zap.String("type", string(params.Type)),
		zap.Int64("amount", params.Amount),
		zap.String("reference_id", params.ReferenceId),
		zap.String("reference_type", params.ReferenceType))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %w", store.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	existing, err := scanTransaction(tx.QueryRowContext(ctx, queryFindTransactionByReference,
		params.ReferenceId, params.ReferenceType, string(params.Type)))
	if err == nil {
		return replayed(existing, params)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: failed to check reference: %w", store.ErrStoreUnavailable, err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, queryEnsureBalance, params.UserId, params.VenueId, now); err != nil {
		return nil, fmt.Errorf("%w: failed to create balance: %w", store.ErrStoreUnavailable, err)
	}

	delta := store.SignedAmount(params.Type, params.Amount)
	earnedDelta, spentDelta := totalsDelta(params.Type, params.Amount)

	var balanceAfter int64
	err = tx.QueryRowContext(ctx, queryAdjustBalance,
		delta, earnedDelta, spentDelta, now, params.UserId, params.VenueId, delta).Scan(&balanceAfter)
	if errors.Is(err, sql.ErrNoRows) {
		zap.L().Info("Debit rejected for insufficient balance",
			zap.String("user_id", params.UserId),
			zap.String("venue_id", params.VenueId),
			zap.Int64("amount", params.Amount))
		return nil, fmt.Errorf("%w: user %s at venue %s cannot cover %d points",
			store.ErrInsufficientBalance, params.UserId, params.VenueId, params.Amount)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to update balance: %w", store.ErrStoreUnavailable, err)
	}

	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	transaction := &models.LedgerTransaction{
		Id:            uuid.New().String(),
		UserId:        params.UserId,
		VenueId:       params.VenueId,
		Type:          params.Type,
		Amount:        params.Amount,
		BalanceBefore: balanceAfter - delta,
		BalanceAfter:  balanceAfter,
		Description:   params.Description,
		ReferenceId:   params.ReferenceId,
		ReferenceType: params.ReferenceType,
		Metadata:      metadata,
		CreatedAt:     now,
	}

	_, err = tx.ExecContext(ctx, queryInsertTransaction,
		transaction.Id, transaction.UserId, transaction.VenueId, string(transaction.Type), transaction.Amount,
		transaction.BalanceBefore, transaction.BalanceAfter, transaction.Description,
		transaction.ReferenceId, transaction.ReferenceType, string(metadataJSON), transaction.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback()
			return s.replayExisting(ctx, params)
		}
		return nil, fmt.Errorf("%w: failed to insert transaction: %w", store.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit transaction: %w", store.ErrStoreUnavailable, err)
	}

	zap.L().Info("Ledger transaction applied",
		zap.String("transaction_id", transaction.Id),
		zap.String("user_id", transaction.UserId),
		zap.String("venue_id", transaction.VenueId),
		zap.String("type", string(transaction.Type)),
		zap.Int64("old_balance", transaction.BalanceBefore),
		zap.Int64("new_balance", transaction.BalanceAfter))

	return transaction, nil
}

func (s *Service) replayExisting(ctx context.Context, params models.ApplyTransactionParams) (*models.LedgerTransaction, error) {
	existing, err := s.FindTransaction(ctx, params.ReferenceId, params.ReferenceType, params.Type)
	if err != nil {
		return nil, err
	}
	return replayed(existing, params)
}

// replayed returns the stored row for a repeated reference, refusing a
// reference that was recorded for a different account or amount.
func replayed(existing *models.LedgerTransaction, params models.ApplyTransactionParams) (*models.LedgerTransaction, error) {
	if existing.UserId != params.UserId || existing.VenueId != params.VenueId || existing.Amount != params.Amount {
		return nil, fmt.Errorf("%w: reference %s/%s already recorded for a different mutation",
			store.ErrInvalidTransaction, params.ReferenceId, params.ReferenceType)
	}

	zap.L().Info("Duplicate reference, returning existing transaction",
		zap.String("transaction_id", existing.Id),
		zap.String("reference_id", existing.ReferenceId),
		zap.String("reference_type", existing.ReferenceType),
		zap.String("type", string(existing.Type)))

	existing.Replayed = true
	return existing, nil
}

// FindTransaction returns the transaction recorded for a reference, or store.ErrTransactionNotFound.
func (s *Service) FindTransaction(ctx context.Context, referenceId, referenceType string, txType models.TransactionType) (*models.LedgerTransaction, error) {
	transaction, err := scanTransaction(s.db.QueryRowContext(ctx, queryFindTransactionByReference,
		referenceId, referenceType, string(txType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s/%s", store.ErrTransactionNotFound, referenceId, referenceType, txType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find transaction: %w", store.ErrStoreUnavailable, err)
	}
	return transaction, nil
}

// GetTransactionHistory returns paginated transaction history for a user at a venue, newest first
func (s *Service) GetTransactionHistory(ctx context.Context, userId, venueId string, limit, offset int) ([]models.LedgerTransaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	zap.L().Debug("Getting transaction history",
		zap.String("user_id", userId),
		zap.String("venue_id", venueId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, userId, venueId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get transaction history: %w", store.ErrStoreUnavailable, err)
	}
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]models.LedgerTransaction, error) {
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.LedgerTransaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *transaction)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}

func scanTransaction(row rowScanner) (*models.LedgerTransaction, error) {
	var transaction models.LedgerTransaction
	var txType, metadataJSON string
	err := row.Scan(&transaction.Id, &transaction.UserId, &transaction.VenueId, &txType,
		&transaction.Amount, &transaction.BalanceBefore, &transaction.BalanceAfter,
		&transaction.Description, &transaction.ReferenceId, &transaction.ReferenceType,
		&metadataJSON, &transaction.CreatedAt)
	if err != nil {
		return nil, err
	}

	transaction.Type = models.TransactionType(txType)
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &transaction.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", transaction.Id, err)
		}
	}
	return &transaction, nil
}

// totalsDelta maps a transaction onto the lifetime counters: refunds give
// back spent points, penalties only move the current balance.
func totalsDelta(txType models.TransactionType, amount int64) (earned, spent int64) {
	switch txType {
	case models.TransactionEarn, models.TransactionBonus:
		return amount, 0
	case models.TransactionSpend:
		return 0, amount
	case models.TransactionRefund:
		return 0, -amount
	}
	return 0, 0
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
