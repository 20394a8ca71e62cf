package database

import (
	"context"
	"testing"

	"venue-jukebox-go/internal/models"
)

func TestCompensationJournal_Lifecycle(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	recorded, err := service.RecordCompensation(ctx, models.PendingCompensation{
		Kind:                  models.CompensationRefund,
		VenueId:               "venue1",
		UserId:                "user1",
		TrackId:               "track1",
		Amount:                50,
		CorrelationId:         "venue1:track1:user1:req1",
		OriginalTransactionId: "tx-1",
		Attempts:              5,
		LastError:             "points service unavailable",
	})
	if err != nil {
		t.Fatalf("RecordCompensation failed: %v", err)
	}
	if recorded.Id == "" || recorded.Resolved {
		t.Fatalf("Unexpected recorded entry %+v", recorded)
	}

	open, err := service.ListOpenCompensations(ctx, 10)
	if err != nil {
		t.Fatalf("ListOpenCompensations failed: %v", err)
	}
	if len(open) != 1 || open[0].Amount != 50 || open[0].Kind != models.CompensationRefund {
		t.Fatalf("Unexpected open entries %+v", open)
	}

	if err := service.RecordCompensationAttempt(ctx, recorded.Id, "still down"); err != nil {
		t.Fatalf("RecordCompensationAttempt failed: %v", err)
	}
	open, err = service.ListOpenCompensations(ctx, 10)
	if err != nil {
		t.Fatalf("ListOpenCompensations failed: %v", err)
	}
	if open[0].Attempts != 6 || open[0].LastError != "still down" {
		t.Errorf("Expected attempt to be counted, got %+v", open[0])
	}

	if err := service.ResolveCompensation(ctx, recorded.Id); err != nil {
		t.Fatalf("ResolveCompensation failed: %v", err)
	}
	open, err = service.ListOpenCompensations(ctx, 10)
	if err != nil {
		t.Fatalf("ListOpenCompensations failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("Expected no open entries, got %d", len(open))
	}
}

func TestCompensationJournal_RecordTwiceReopens(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	entry := models.PendingCompensation{
		Kind:          models.CompensationRelease,
		VenueId:       "venue1",
		UserId:        "user1",
		TrackId:       "track1",
		CorrelationId: "corr-1",
		Attempts:      1,
	}
	first, err := service.RecordCompensation(ctx, entry)
	if err != nil {
		t.Fatalf("RecordCompensation failed: %v", err)
	}
	if err := service.ResolveCompensation(ctx, first.Id); err != nil {
		t.Fatalf("ResolveCompensation failed: %v", err)
	}

	second, err := service.RecordCompensation(ctx, entry)
	if err != nil {
		t.Fatalf("RecordCompensation failed: %v", err)
	}
	if second.Id != first.Id {
		t.Errorf("Expected the same entry to be reopened, got %s and %s", first.Id, second.Id)
	}
	if second.Resolved || second.Attempts != 2 {
		t.Errorf("Unexpected reopened entry %+v", second)
	}
}

func TestCompensationJournal_UnknownId(t *testing.T) {
	service := setupTestDb(t)

	if err := service.ResolveCompensation(context.Background(), "missing"); err == nil {
		t.Error("Expected error for unknown compensation id")
	}
}
