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

package api

import (
	"context"
	"errors"
	"fmt"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/store"

	"go.uber.org/zap"
)

// GetBalance returns the current balance for a user at a venue
func (s *PointsService) GetBalance(ctx context.Context, userId, venueId string) (int64, error) {
	if userId == "" || venueId == "" {
		return 0, fmt.Errorf("user_id and venue_id are required")
	}

	balance, err := s.ledger.GetBalance(ctx, userId, venueId)
	if err != nil {
		zap.L().Error("Failed to get balance",
			zap.String("user_id", userId),
			zap.String("venue_id", venueId),
			zap.Error(err))
		return 0, fmt.Errorf("failed to retrieve balance")
	}

	return balance.CurrentBalance, nil
}

// GetVenueReport returns every balance at a venue with its reconciliation status
func (s *PointsService) GetVenueReport(ctx context.Context, venueId string) ([]models.BalanceReport, error) {
	if venueId == "" {
		return nil, fmt.Errorf("venue_id is required")
	}

	balances, err := s.ledger.GetVenueBalances(ctx, venueId)
	if err != nil {
		zap.L().Error("Failed to get venue balances", zap.String("venue_id", venueId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve balances")
	}

	reports := make([]models.BalanceReport, len(balances))
	for i, balance := range balances {
		reports[i] = models.BalanceReport{Balance: balance, Reconciled: true}

		if err := s.ledger.ReconcileBalance(ctx, balance.UserId, venueId); err != nil {
			reports[i].Reconciled = false
			reports[i].Error = err.Error()
			if !errors.Is(err, store.ErrBalanceMismatch) {
				zap.L().Warn("Reconciliation check failed",
					zap.String("user_id", balance.UserId),
					zap.String("venue_id", venueId),
					zap.Error(err))
			}
		}
	}

	return reports, nil
}

// GetTransactionHistory returns paginated transaction history for a user at a venue
func (s *PointsService) GetTransactionHistory(ctx context.Context, userId, venueId string, limit, offset int) ([]models.LedgerTransaction, error) {
	if userId == "" || venueId == "" {
		return nil, fmt.Errorf("user_id and venue_id are required")
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	transactions, err := s.ledger.GetTransactionHistory(ctx, userId, venueId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history",
			zap.String("user_id", userId),
			zap.String("venue_id", venueId),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve transaction history")
	}

	return transactions, nil
}
