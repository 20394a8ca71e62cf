package database

import (
	"context"
	"errors"
	"testing"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/store"
)

func TestGetBalance_LazilyCreatesZero(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	balance, err := service.GetBalance(ctx, "newcomer", "venue1")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance.CurrentBalance != 0 {
		t.Errorf("Expected zero balance, got %d", balance.CurrentBalance)
	}

	balances, err := service.GetVenueBalances(ctx, "venue1")
	if err != nil {
		t.Fatalf("GetVenueBalances failed: %v", err)
	}
	if len(balances) != 1 || balances[0].UserId != "newcomer" {
		t.Errorf("Expected the lazily created row to persist, got %+v", balances)
	}
}

func TestGetBalance_RequiresIds(t *testing.T) {
	service := setupTestDb(t)

	if _, err := service.GetBalance(context.Background(), "", "venue1"); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Errorf("Expected ErrInvalidTransaction, got %v", err)
	}
}

func TestGetVenueBalances_ScopedToVenue(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	earn(t, service, "alice", "venue1", 10, "pay-1")
	earn(t, service, "bob", "venue1", 20, "pay-2")
	earn(t, service, "alice", "venue2", 30, "pay-3")

	balances, err := service.GetVenueBalances(ctx, "venue1")
	if err != nil {
		t.Fatalf("GetVenueBalances failed: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("Expected 2 balances, got %d", len(balances))
	}
	if balances[0].UserId != "alice" || balances[0].CurrentBalance != 10 {
		t.Errorf("Unexpected first balance %+v", balances[0])
	}
	if balances[1].UserId != "bob" || balances[1].CurrentBalance != 20 {
		t.Errorf("Unexpected second balance %+v", balances[1])
	}
}

func TestReconcileBalance_Success(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	earn(t, service, "user1", "venue1", 100, "pay-1")

	_, err := service.ApplyTransaction(ctx, models.ApplyTransactionParams{
		UserId:        "user1",
		VenueId:       "venue1",
		Type:          models.TransactionPenalty,
		Amount:        15,
		ReferenceId:   "pay-1",
		ReferenceType: models.ReferencePurchase,
	})
	if err != nil {
		t.Fatalf("Penalty failed: %v", err)
	}

	if err := service.ReconcileBalance(ctx, "user1", "venue1"); err != nil {
		t.Errorf("Expected reconciliation to pass, got %v", err)
	}
}

func TestReconcileBalance_DetectsDrift(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	earn(t, service, "user1", "venue1", 100, "pay-1")

	// Simulate an out-of-band write that bypassed the ledger
	if _, err := service.db.Exec("UPDATE balances SET current_balance = 250 WHERE user_id = ? AND venue_id = ?", "user1", "venue1"); err != nil {
		t.Fatalf("Failed to tamper with balance: %v", err)
	}

	err := service.ReconcileBalance(ctx, "user1", "venue1")
	if !errors.Is(err, store.ErrBalanceMismatch) {
		t.Errorf("Expected ErrBalanceMismatch, got %v", err)
	}
}

func TestReconcileBalance_DetectsBrokenChain(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	earn(t, service, "user1", "venue1", 100, "pay-1")
	earn(t, service, "user1", "venue1", 50, "pay-2")

	if _, err := service.db.Exec("UPDATE ledger_transactions SET balance_before = 90 WHERE reference_id = ?", "pay-2"); err != nil {
		t.Fatalf("Failed to tamper with transaction: %v", err)
	}

	err := service.ReconcileBalance(ctx, "user1", "venue1")
	if !errors.Is(err, store.ErrBalanceMismatch) {
		t.Errorf("Expected ErrBalanceMismatch, got %v", err)
	}
}
