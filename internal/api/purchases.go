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

// CreditPurchase credits the points of a paid package. Repeating the call
// with the same payment reference returns the original credit.
func (s *PointsService) CreditPurchase(ctx context.Context, userId, venueId, packageId, paymentRef string) (*models.PurchaseResult, error) {
	zap.L().Info("Processing purchase",
		zap.String("user_id", userId),
		zap.String("venue_id", venueId),
		zap.String("package_id", packageId),
		zap.String("payment_ref", paymentRef))

	pkg, result := s.resolvePackage(userId, venueId, packageId, paymentRef)
	if result != nil {
		return result, nil
	}

	tx, err := s.ledger.ApplyTransaction(ctx, models.ApplyTransactionParams{
		UserId:        userId,
		VenueId:       venueId,
		Type:          models.TransactionEarn,
		Amount:        pkg.Points,
		Description:   fmt.Sprintf("purchase of %s (%s %s)", pkg.Id, pkg.Price.StringFixed(2), pkg.Currency),
		ReferenceId:   paymentRef,
		ReferenceType: models.ReferencePurchase,
		Metadata: map[string]string{
			"package_id": pkg.Id,
			"price":      pkg.Price.String(),
			"currency":   pkg.Currency,
		},
	})
	if err != nil {
		zap.L().Error("Purchase credit failed",
			zap.String("user_id", userId),
			zap.String("venue_id", venueId),
			zap.String("payment_ref", paymentRef),
			zap.Error(err))
		if errors.Is(err, store.ErrStoreUnavailable) {
			return nil, err
		}
		return &models.PurchaseResult{Success: false, Error: err.Error()}, nil
	}

	if tx.Replayed {
		zap.L().Info("Duplicate purchase detected, returning original credit",
			zap.String("payment_ref", paymentRef),
			zap.String("transaction_id", tx.Id))
	} else {
		zap.L().Info("Purchase credited",
			zap.String("user_id", userId),
			zap.String("venue_id", venueId),
			zap.Int64("points", pkg.Points),
			zap.String("price", pkg.Price.String()),
			zap.Int64("new_balance", tx.BalanceAfter))
	}

	return purchaseResult(tx, pkg), nil
}

// RefundPurchase reverses a purchase after the payment was refunded. It fails
// with an unsuccessful result when the points were already spent; the caller
// decides how to settle the difference.
func (s *PointsService) RefundPurchase(ctx context.Context, userId, venueId, packageId, paymentRef string) (*models.PurchaseResult, error) {
	pkg, result := s.resolvePackage(userId, venueId, packageId, paymentRef)
	if result != nil {
		return result, nil
	}

	zap.L().Info("Reversing purchase",
		zap.String("user_id", userId),
		zap.String("venue_id", venueId),
		zap.String("payment_ref", paymentRef),
		zap.Int64("points", pkg.Points))

	tx, err := s.ledger.ApplyTransaction(ctx, models.ApplyTransactionParams{
		UserId:        userId,
		VenueId:       venueId,
		Type:          models.TransactionPenalty,
		Amount:        pkg.Points,
		Description:   fmt.Sprintf("reversal of purchase %s", paymentRef),
		ReferenceId:   paymentRef,
		ReferenceType: models.ReferencePurchase,
		Metadata:      map[string]string{"package_id": pkg.Id},
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			zap.L().Warn("Purchase reversal exceeds balance",
				zap.String("user_id", userId),
				zap.String("venue_id", venueId),
				zap.String("payment_ref", paymentRef))
			return &models.PurchaseResult{Success: false, UserId: userId, VenueId: venueId, Error: err.Error()}, nil
		}
		if errors.Is(err, store.ErrStoreUnavailable) {
			return nil, err
		}
		return &models.PurchaseResult{Success: false, Error: err.Error()}, nil
	}

	return purchaseResult(tx, pkg), nil
}

func (s *PointsService) resolvePackage(userId, venueId, packageId, paymentRef string) (models.PointPackage, *models.PurchaseResult) {
	if userId == "" || venueId == "" || packageId == "" || paymentRef == "" {
		return models.PointPackage{}, &models.PurchaseResult{Success: false, Error: "invalid purchase parameters"}
	}
	venue, err := s.Venue(venueId)
	if err != nil {
		return models.PointPackage{}, &models.PurchaseResult{Success: false, Error: err.Error()}
	}
	pkg, ok := venue.Package(packageId)
	if !ok {
		return models.PointPackage{}, &models.PurchaseResult{
			Success: false,
			Error:   fmt.Sprintf("unknown package %s at venue %s", packageId, venueId),
		}
	}
	return pkg, nil
}

func purchaseResult(tx *models.LedgerTransaction, pkg models.PointPackage) *models.PurchaseResult {
	return &models.PurchaseResult{
		Success:       true,
		UserId:        tx.UserId,
		VenueId:       tx.VenueId,
		PackageId:     pkg.Id,
		Points:        pkg.Points,
		Price:         pkg.Price,
		NewBalance:    tx.BalanceAfter,
		TransactionId: tx.Id,
		Replayed:      tx.Replayed,
	}
}
