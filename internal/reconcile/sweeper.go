package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/points"
	"venue-jukebox-go/internal/queue"
	"venue-jukebox-go/internal/store"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sweepTimeout = 50 * time.Second

// Result summarises one sweep.
type Result struct {
	Processed  int
	Resolved   int
	Failed     int
	Mismatches int
}

// Sweeper finishes compensations the coordinator could not complete in-line
// and checks the balances they touched against the transaction log.
type Sweeper struct {
	journal store.CompensationJournal
	ledger  store.LedgerStore
	points  points.Client
	queue   queue.Store
	cfg     models.SweeperConfig

	cron    *cron.Cron
	running sync.Mutex
}

func NewSweeper(journal store.CompensationJournal, ledger store.LedgerStore, client points.Client, q queue.Store, cfg models.SweeperConfig) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "* * * * *"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Sweeper{
		journal: journal,
		ledger:  ledger,
		points:  client,
		queue:   q,
		cfg:     cfg,
	}
}

// Start schedules RunOnce on the configured cron spec. Overlapping runs are
// skipped.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if !s.running.TryLock() {
			zap.L().Warn("Previous sweep still running, skipping")
			return
		}
		defer s.running.Unlock()

		runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
		defer cancel()
		if _, err := s.RunOnce(runCtx); err != nil {
			zap.L().Error("Sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweeper schedule %q: %w", s.cfg.Schedule, err)
	}

	s.cron.Start()
	zap.L().Info("Compensation sweeper started", zap.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	zap.L().Info("Compensation sweeper stopped")
}

type account struct {
	userId  string
	venueId string
}

// RunOnce processes one batch of open journal entries.
func (s *Sweeper) RunOnce(ctx context.Context) (*Result, error) {
	entries, err := s.journal.ListOpenCompensations(ctx, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("unable to list compensations: %w", err)
	}
	if len(entries) == 0 {
		zap.L().Debug("No open compensations")
		return &Result{}, nil
	}

	var resolved, failed atomic.Int64
	var mu sync.Mutex
	touched := make(map[account]struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, entry := range entries {
		g.Go(func() error {
			log := zap.L().With(
				zap.String("compensation_id", entry.Id),
				zap.String("kind", string(entry.Kind)),
				zap.String("correlation_id", entry.CorrelationId))

			if err := s.process(gctx, entry); err != nil {
				failed.Add(1)
				log.Warn("Compensation still pending", zap.Int("attempts", entry.Attempts+1), zap.Error(err))
				if err := s.journal.RecordCompensationAttempt(gctx, entry.Id, err.Error()); err != nil {
					log.Error("Unable to record compensation attempt", zap.Error(err))
				}
				return nil
			}

			if err := s.journal.ResolveCompensation(gctx, entry.Id); err != nil {
				failed.Add(1)
				log.Error("Unable to resolve compensation", zap.Error(err))
				return nil
			}
			resolved.Add(1)
			log.Info("Compensation resolved")

			if entry.UserId != "" {
				mu.Lock()
				touched[account{userId: entry.UserId, venueId: entry.VenueId}] = struct{}{}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		Processed: len(entries),
		Resolved:  int(resolved.Load()),
		Failed:    int(failed.Load()),
	}
	for acct := range touched {
		if err := s.ledger.ReconcileBalance(ctx, acct.userId, acct.venueId); err != nil {
			result.Mismatches++
			zap.L().Error("Balance does not match transaction log",
				zap.String("alert", "reconciliation_required"),
				zap.String("user_id", acct.userId),
				zap.String("venue_id", acct.venueId),
				zap.Error(err))
		}
	}

	zap.L().Info("Sweep complete",
		zap.Int("processed", result.Processed),
		zap.Int("resolved", result.Resolved),
		zap.Int("failed", result.Failed),
		zap.Int("mismatches", result.Mismatches))
	return result, nil
}

func (s *Sweeper) process(ctx context.Context, entry models.PendingCompensation) error {
	switch entry.Kind {
	case models.CompensationRefund:
		return s.refund(ctx, entry, entry.OriginalTransactionId)
	case models.CompensationRelease:
		return s.release(ctx, entry)
	case models.CompensationVerifyCharge:
		return s.verifyCharge(ctx, entry)
	case models.CompensationDecrement:
		if err := s.queue.DecrementActiveCount(ctx, entry.VenueId, entry.UserId); err != nil {
			return fmt.Errorf("decrement: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown compensation kind %q", entry.Kind)
}

func (s *Sweeper) refund(ctx context.Context, entry models.PendingCompensation, originalTransactionId string) error {
	receipt, err := s.points.Refund(ctx, points.RefundRequest{
		UserId:                entry.UserId,
		VenueId:               entry.VenueId,
		Amount:                entry.Amount,
		Reason:                models.ReferenceQueueRequest,
		CorrelationId:         entry.CorrelationId,
		OriginalTransactionId: originalTransactionId,
	})
	if err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	zap.L().Info("Refund applied",
		zap.String("correlation_id", entry.CorrelationId),
		zap.String("transaction_id", receipt.TransactionId),
		zap.Bool("replayed", receipt.Replayed))
	return nil
}

// release frees the dedup slot unless the track is sitting in a lane, in
// which case a later request legitimately owns it.
func (s *Sweeper) release(ctx context.Context, entry models.PendingCompensation) error {
	queued, err := s.findQueued(ctx, entry.VenueId, func(e models.QueueEntry) bool {
		return e.TrackId == entry.TrackId
	})
	if err != nil {
		return err
	}
	if queued != nil {
		zap.L().Info("Track is queued, leaving reservation in place",
			zap.String("venue_id", entry.VenueId),
			zap.String("track_id", entry.TrackId))
		return nil
	}
	if err := s.queue.ReleaseTrack(ctx, entry.VenueId, entry.TrackId); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	return nil
}

// verifyCharge settles a charge whose outcome was unknown: a spend that
// committed without reaching the queue is refunded.
func (s *Sweeper) verifyCharge(ctx context.Context, entry models.PendingCompensation) error {
	charge, err := s.points.FindCharge(ctx, models.ReferenceQueueRequest, entry.CorrelationId)
	if errors.Is(err, points.ErrChargeNotFound) {
		zap.L().Info("Charge never committed", zap.String("correlation_id", entry.CorrelationId))
		return nil
	}
	if err != nil {
		return fmt.Errorf("find charge: %w", err)
	}

	queued, err := s.findQueued(ctx, entry.VenueId, func(e models.QueueEntry) bool {
		return e.TransactionId == charge.TransactionId
	})
	if err != nil {
		return err
	}
	if queued != nil {
		return nil
	}
	return s.refund(ctx, entry, charge.TransactionId)
}

func (s *Sweeper) findQueued(ctx context.Context, venueId string, match func(models.QueueEntry) bool) (*models.QueueEntry, error) {
	for _, lane := range []models.Lane{models.LanePriority, models.LaneStandard} {
		entries, err := s.queue.List(ctx, venueId, lane)
		if err != nil {
			return nil, fmt.Errorf("list %s lane: %w", lane, err)
		}
		for _, e := range entries {
			if match(e) {
				return &e, nil
			}
		}
	}
	return nil, nil
}
