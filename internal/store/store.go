package store

import (
	"context"
	"errors"
	"fmt"

	"venue-jukebox-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrStoreUnavailable    = errors.New("ledger store unavailable")
	ErrBalanceMismatch     = errors.New("balance mismatch")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// LedgerStore defines the contract that every points ledger backend (SQLite, Formance, ...) must satisfy.
type LedgerStore interface {
	// --- Balances ---
	GetBalance(ctx context.Context, userId, venueId string) (*models.Balance, error)
	GetVenueBalances(ctx context.Context, venueId string) ([]models.Balance, error)
	ReconcileBalance(ctx context.Context, userId, venueId string) error

	// --- Transactions ---

	// ApplyTransaction is idempotent per (ReferenceId, ReferenceType, Type). A replay
	// returns the stored row with Replayed set and never mutates the balance twice.
	ApplyTransaction(ctx context.Context, params models.ApplyTransactionParams) (*models.LedgerTransaction, error)
	FindTransaction(ctx context.Context, referenceId, referenceType string, txType models.TransactionType) (*models.LedgerTransaction, error)
	GetTransactionHistory(ctx context.Context, userId, venueId string, limit, offset int) ([]models.LedgerTransaction, error)

	// --- Lifecycle ---
	Close()
}

// CompensationJournal durably records saga compensations that could not complete in-line.
type CompensationJournal interface {
	RecordCompensation(ctx context.Context, entry models.PendingCompensation) (*models.PendingCompensation, error)
	ListOpenCompensations(ctx context.Context, limit int) ([]models.PendingCompensation, error)
	RecordCompensationAttempt(ctx context.Context, id, lastError string) error
	ResolveCompensation(ctx context.Context, id string) error
}

// ValidateParams rejects malformed ledger mutations before they reach a backend.
func ValidateParams(params models.ApplyTransactionParams) error {
	switch {
	case params.UserId == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidTransaction)
	case params.VenueId == "":
		return fmt.Errorf("%w: venue id is required", ErrInvalidTransaction)
	case !params.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, params.Type)
	case params.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidTransaction, params.Amount)
	case params.ReferenceId == "" || params.ReferenceType == "":
		return fmt.Errorf("%w: reference id and type are required", ErrInvalidTransaction)
	}
	return nil
}

// SignedAmount returns the balance delta for a transaction type.
func SignedAmount(txType models.TransactionType, amount int64) int64 {
	if txType.IsDebit() {
		return -amount
	}
	return amount
}
