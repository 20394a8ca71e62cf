package points

import (
	"context"
	"errors"
	"fmt"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/store"

	"go.uber.org/zap"
)

var _ Client = (*LocalClient)(nil)

// LocalClient charges an in-process ledger.
type LocalClient struct {
	ledger store.LedgerStore
}

func NewLocalClient(ledger store.LedgerStore) *LocalClient {
	return &LocalClient{ledger: ledger}
}

func (c *LocalClient) Reserve(ctx context.Context, req ReserveRequest) (*Receipt, error) {
	tx, err := c.ledger.ApplyTransaction(ctx, models.ApplyTransactionParams{
		UserId:        req.UserId,
		VenueId:       req.VenueId,
		Type:          models.TransactionSpend,
		Amount:        req.Amount,
		Description:   describe(req.Reason, "reserve"),
		ReferenceId:   req.CorrelationId,
		ReferenceType: referenceType(req.Reason),
		Metadata:      req.Metadata,
	})
	if err != nil {
		return nil, classify(err)
	}
	return receipt(tx), nil
}

func (c *LocalClient) Refund(ctx context.Context, req RefundRequest) (*Receipt, error) {
	tx, err := c.ledger.ApplyTransaction(ctx, models.ApplyTransactionParams{
		UserId:        req.UserId,
		VenueId:       req.VenueId,
		Type:          models.TransactionRefund,
		Amount:        req.Amount,
		Description:   describe(req.Reason, "refund"),
		ReferenceId:   req.CorrelationId,
		ReferenceType: referenceType(req.Reason),
		Metadata:      map[string]string{"original_transaction_id": req.OriginalTransactionId},
	})
	if err != nil {
		return nil, classify(err)
	}
	return receipt(tx), nil
}

func (c *LocalClient) FindCharge(ctx context.Context, reason, correlationId string) (*Receipt, error) {
	tx, err := c.ledger.FindTransaction(ctx, correlationId, referenceType(reason), models.TransactionSpend)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrChargeNotFound, correlationId)
		}
		return nil, classify(err)
	}
	return receipt(tx), nil
}

// classify maps ledger errors onto the client outcomes.
func classify(err error) error {
	switch {
	case errors.Is(err, store.ErrInsufficientBalance):
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	case errors.Is(err, store.ErrInvalidTransaction):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	zap.L().Warn("Ledger call failed", zap.Error(err))
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func receipt(tx *models.LedgerTransaction) *Receipt {
	return &Receipt{
		TransactionId: tx.Id,
		NewBalance:    tx.BalanceAfter,
		Replayed:      tx.Replayed,
		Metadata:      tx.Metadata,
	}
}

func referenceType(reason string) string {
	if reason == "" {
		return models.ReferenceQueueRequest
	}
	return reason
}

func describe(reason, action string) string {
	return fmt.Sprintf("%s %s", referenceType(reason), action)
}
