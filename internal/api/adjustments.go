package api

import (
	"context"
	"fmt"

	"venue-jukebox-go/internal/models"

	"go.uber.org/zap"
)

// AdminAdjust applies a manual correction. Positive deltas are bonuses,
// negative ones penalties.
func (s *PointsService) AdminAdjust(ctx context.Context, userId, venueId string, delta int64, reason, ref string) (*models.LedgerTransaction, error) {
	if userId == "" || venueId == "" || ref == "" {
		return nil, fmt.Errorf("user_id, venue_id and ref are required")
	}
	if delta == 0 {
		return nil, fmt.Errorf("delta cannot be zero")
	}

	txType, amount := models.TransactionBonus, delta
	if delta < 0 {
		txType, amount = models.TransactionPenalty, -delta
	}

	tx, err := s.ledger.ApplyTransaction(ctx, models.ApplyTransactionParams{
		UserId:        userId,
		VenueId:       venueId,
		Type:          txType,
		Amount:        amount,
		Description:   reason,
		ReferenceId:   ref,
		ReferenceType: models.ReferenceAdmin,
	})
	if err != nil {
		zap.L().Error("Admin adjustment failed",
			zap.String("user_id", userId),
			zap.String("venue_id", venueId),
			zap.Int64("delta", delta),
			zap.Error(err))
		return nil, err
	}

	zap.L().Info("Admin adjustment applied",
		zap.String("user_id", userId),
		zap.String("venue_id", venueId),
		zap.String("type", string(txType)),
		zap.Int64("amount", amount),
		zap.String("reason", reason),
		zap.Int64("new_balance", tx.BalanceAfter))
	return tx, nil
}
