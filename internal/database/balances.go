package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/store"

	"go.uber.org/zap"
)

// GetBalance returns the balance for user/venue, creating a zero balance on first touch
func (s *Service) GetBalance(ctx context.Context, userId, venueId string) (*models.Balance, error) {
	if userId == "" || venueId == "" {
		return nil, fmt.Errorf("%w: user id and venue id are required", store.ErrInvalidTransaction)
	}

	zap.L().Debug("Getting balance", zap.String("user_id", userId), zap.String("venue_id", venueId))

	if _, err := s.db.ExecContext(ctx, queryEnsureBalance, userId, venueId, time.Now().UTC()); err != nil {
		zap.L().Error("Failed to create balance", zap.String("user_id", userId), zap.String("venue_id", venueId), zap.Error(err))
		return nil, fmt.Errorf("%w: failed to create balance: %w", store.ErrStoreUnavailable, err)
	}

	balance, err := scanBalance(s.db.QueryRowContext(ctx, queryGetBalance, userId, venueId))
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("user_id", userId), zap.String("venue_id", venueId), zap.Error(err))
		return nil, fmt.Errorf("%w: failed to get balance: %w", store.ErrStoreUnavailable, err)
	}

	zap.L().Debug("Retrieved balance",
		zap.String("user_id", userId),
		zap.String("venue_id", venueId),
		zap.Int64("balance", balance.CurrentBalance))
	return balance, nil
}

// GetVenueBalances returns every balance held at a venue
func (s *Service) GetVenueBalances(ctx context.Context, venueId string) ([]models.Balance, error) {
	zap.L().Debug("Getting venue balances", zap.String("venue_id", venueId))

	rows, err := s.db.QueryContext(ctx, queryGetVenueBalances, venueId)
	if err != nil {
		zap.L().Error("Failed to get venue balances", zap.String("venue_id", venueId), zap.Error(err))
		return nil, fmt.Errorf("%w: failed to get venue balances: %w", store.ErrStoreUnavailable, err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var balances []models.Balance
	for rows.Next() {
		balance, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, *balance)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during balance row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}

	zap.L().Debug("Retrieved venue balances", zap.String("venue_id", venueId), zap.Int("count", len(balances)))
	return balances, nil
}

// ReconcileBalance replays the transaction log in creation order and verifies
// it reproduces the current balance
func (s *Service) ReconcileBalance(ctx context.Context, userId, venueId string) error {
	zap.L().Info("Reconciling balance", zap.String("user_id", userId), zap.String("venue_id", venueId))

	current, err := s.GetBalance(ctx, userId, venueId)
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryReplayTransactions, userId, venueId)
	if err != nil {
		return fmt.Errorf("%w: failed to load transactions: %w", store.ErrStoreUnavailable, err)
	}
	transactions, err := collectTransactions(rows)
	if err != nil {
		return err
	}

	var replayedBalance int64
	for _, transaction := range transactions {
		if transaction.BalanceBefore != replayedBalance {
			return mismatch(userId, venueId, fmt.Sprintf("transaction %s starts at %d, expected %d",
				transaction.Id, transaction.BalanceBefore, replayedBalance))
		}
		replayedBalance += store.SignedAmount(transaction.Type, transaction.Amount)
		if transaction.BalanceAfter != replayedBalance {
			return mismatch(userId, venueId, fmt.Sprintf("transaction %s ends at %d, expected %d",
				transaction.Id, transaction.BalanceAfter, replayedBalance))
		}
	}

	if current.CurrentBalance != replayedBalance {
		return mismatch(userId, venueId, fmt.Sprintf("current=%d, calculated=%d", current.CurrentBalance, replayedBalance))
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("user_id", userId),
		zap.String("venue_id", venueId),
		zap.Int64("balance", current.CurrentBalance),
		zap.Int("transactions", len(transactions)))
	return nil
}

func mismatch(userId, venueId, detail string) error {
	zap.L().Error("Balance reconciliation failed",
		zap.String("user_id", userId),
		zap.String("venue_id", venueId),
		zap.String("detail", detail))
	return fmt.Errorf("%w: %s", store.ErrBalanceMismatch, detail)
}

func scanBalance(row rowScanner) (*models.Balance, error) {
	var balance models.Balance
	err := row.Scan(&balance.UserId, &balance.VenueId, &balance.CurrentBalance,
		&balance.TotalEarned, &balance.TotalSpent, &balance.LastActivity)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}
