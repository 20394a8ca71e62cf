package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"venue-jukebox-go/internal/database"
	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/notify"
	"venue-jukebox-go/internal/points"
	"venue-jukebox-go/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// faultyQueue injects store failures into an otherwise working queue.
type faultyQueue struct {
	queue.Store
	failEnqueue   atomic.Bool
	failRelease   atomic.Bool
	failDecrement atomic.Bool
	corruptNext   atomic.Bool
}

func (f *faultyQueue) Enqueue(ctx context.Context, entry models.QueueEntry) error {
	if f.failEnqueue.Load() {
		return fmt.Errorf("%w: injected enqueue failure", queue.ErrStoreUnavailable)
	}
	return f.Store.Enqueue(ctx, entry)
}

// ReleaseTrack honours ctx the way a network-backed store does.
func (f *faultyQueue) ReleaseTrack(ctx context.Context, venueId, trackId string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", queue.ErrStoreUnavailable, err)
	}
	if f.failRelease.Load() {
		return fmt.Errorf("%w: injected release failure", queue.ErrStoreUnavailable)
	}
	return f.Store.ReleaseTrack(ctx, venueId, trackId)
}

func (f *faultyQueue) DecrementActiveCount(ctx context.Context, venueId, userId string) error {
	if f.failDecrement.Load() {
		return fmt.Errorf("%w: injected decrement failure", queue.ErrStoreUnavailable)
	}
	return f.Store.DecrementActiveCount(ctx, venueId, userId)
}

// PopHead garbles the next popped entry once corruptNext is set.
func (f *faultyQueue) PopHead(ctx context.Context, venueId string, lane models.Lane) (*models.QueueEntry, error) {
	entry, err := f.Store.PopHead(ctx, venueId, lane)
	if err != nil || entry == nil || !f.corruptNext.CompareAndSwap(true, false) {
		return entry, err
	}
	return nil, &queue.CorruptEntryError{
		VenueId:     venueId,
		Lane:        lane,
		TrackId:     entry.TrackId,
		RequestedBy: entry.RequestedBy,
		Payload:     `{"track_id":"` + entry.TrackId + `","added_at":"garbled"}`,
		Err:         errors.New("invalid added_at"),
	}
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, venueId string, kind notify.EventKind, payload any) error {
	return m.Called(ctx, venueId, kind, payload).Error(0)
}

func (m *mockNotifier) Close() error { return nil }

type harness struct {
	coord    *Coordinator
	queue    *faultyQueue
	ledger   *database.Service
	notifier *mockNotifier
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ledger, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "coordinator.db"),
		MaxOpenConns: 4,
		PingTimeout:  time.Second,
		BusyTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(ledger.Close)

	return newHarnessWithClient(t, ledger, points.NewLocalClient(ledger), opts)
}

func newHarnessWithClient(t *testing.T, ledger *database.Service, client points.Client, opts Options) *harness {
	t.Helper()
	if opts.CompensationAttempts == 0 {
		opts.CompensationAttempts = 3
	}
	opts.CompensationBackoff = time.Millisecond

	q := &faultyQueue{Store: queue.NewMemoryStore()}
	n := &mockNotifier{}
	n.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	return &harness{
		coord:    New(q, client, ledger, n, opts),
		queue:    q,
		ledger:   ledger,
		notifier: n,
	}
}

func (h *harness) fund(t *testing.T, userId string, amount int64) {
	t.Helper()
	_, err := h.ledger.ApplyTransaction(context.Background(), models.ApplyTransactionParams{
		UserId:        userId,
		VenueId:       "v1",
		Type:          models.TransactionEarn,
		Amount:        amount,
		ReferenceId:   fmt.Sprintf("seed-%s-%d", userId, amount),
		ReferenceType: models.ReferencePurchase,
	})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, userId string) int64 {
	t.Helper()
	b, err := h.ledger.GetBalance(context.Background(), userId, "v1")
	require.NoError(t, err)
	return b.CurrentBalance
}

func (h *harness) active(t *testing.T, trackId string) bool {
	t.Helper()
	ok, err := h.queue.IsActive(context.Background(), "v1", trackId)
	require.NoError(t, err)
	return ok
}

func request(userId, trackId string, lane models.Lane, cost int64) AddTrackRequest {
	return AddTrackRequest{
		VenueId:         "v1",
		UserId:          userId,
		TrackId:         trackId,
		Title:           "Track " + trackId,
		DurationSeconds: 200,
		Lane:            lane,
		Cost:            cost,
	}
}

func TestAddTrack_Success(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 3})
	h.fund(t, "u1", 100)

	entry, err := h.coord.AddTrack(context.Background(), request("u1", "t1", models.LaneStandard, 25))
	require.NoError(t, err)

	assert.Equal(t, "t1", entry.TrackId)
	assert.Equal(t, "u1", entry.RequestedBy)
	assert.NotEmpty(t, entry.TransactionId)
	assert.NotEmpty(t, entry.RequestId)
	assert.Equal(t, int64(75), h.balance(t, "u1"))
	assert.True(t, h.active(t, "t1"))

	count, err := h.queue.ActiveCount(context.Background(), "v1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	h.notifier.AssertCalled(t, "Notify", mock.Anything, "v1", notify.EventTrackAdded, mock.Anything)
}

func TestAddTrack_ConcurrentDuplicatesChargeOnce(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 10})
	h.fund(t, "u1", 100)

	const k = 8
	var wg sync.WaitGroup
	errs := make([]error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.coord.AddTrack(context.Background(), request("u1", "same-track", models.LanePriority, 10))
		}(i)
	}
	wg.Wait()

	successes, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case IsCode(err, CodeDuplicateTrack):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, k-1, duplicates)
	assert.Equal(t, int64(90), h.balance(t, "u1"))
}

func TestAddTrack_ConcurrentSpendsNeverOverdraw(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 10})
	h.fund(t, "u1", 100)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.coord.AddTrack(context.Background(),
				request("u1", fmt.Sprintf("track-%d", i), models.LanePriority, 60))
		}(i)
	}
	wg.Wait()

	var ok, short int
	var loser string
	for i, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.True(t, IsCode(err, CodeInsufficientBalance), "unexpected error: %v", err)
		short++
		loser = fmt.Sprintf("track-%d", i)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, int64(40), h.balance(t, "u1"))
	assert.False(t, h.active(t, loser), "failed request must not hold its reservation")
}

func TestAddTrack_EnqueueFailureRefundsAndReleases(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 3})
	h.fund(t, "u1", 100)
	h.queue.failEnqueue.Store(true)

	req := request("u1", "t1", models.LaneStandard, 30)
	req.RequestId = "r1"
	_, err := h.coord.AddTrack(context.Background(), req)

	require.Error(t, err)
	assert.Equal(t, CodeQueueStoreUnavailable, CodeOf(err))
	assert.True(t, errors.Is(err, queue.ErrStoreUnavailable))
	assert.Equal(t, int64(100), h.balance(t, "u1"))
	assert.False(t, h.active(t, "t1"))

	correlationId := CorrelationId("v1", "t1", "u1", "r1")
	refund, err := h.ledger.FindTransaction(context.Background(), correlationId, models.ReferenceQueueRequest, models.TransactionRefund)
	require.NoError(t, err)
	assert.Equal(t, int64(30), refund.Amount)

	open, err := h.ledger.ListOpenCompensations(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, open)
	require.NoError(t, h.ledger.ReconcileBalance(context.Background(), "u1", "v1"))
	h.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, notify.EventTrackAdded, mock.Anything)
}

func TestAddTrack_IncompleteCompensationIsJournaled(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 3})
	h.fund(t, "u1", 100)
	h.queue.failEnqueue.Store(true)
	h.queue.failRelease.Store(true)

	req := request("u1", "t1", models.LanePriority, 30)
	req.RequestId = "r1"
	_, err := h.coord.AddTrack(context.Background(), req)

	assert.Equal(t, CodeCompensationFailed, CodeOf(err))
	assert.Equal(t, int64(100), h.balance(t, "u1"), "refund still completes")

	open, err := h.ledger.ListOpenCompensations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.CompensationRelease, open[0].Kind)
	assert.Equal(t, "t1", open[0].TrackId)
	assert.Equal(t, CorrelationId("v1", "t1", "u1", "r1"), open[0].CorrelationId)
}

func TestAddTrack_DequeuedTrackCanBeRequestedAgain(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 3})
	h.fund(t, "u1", 100)
	ctx := context.Background()

	_, err := h.coord.AddTrack(ctx, request("u1", "t1", models.LaneStandard, 10))
	require.NoError(t, err)

	_, err = h.coord.AddTrack(ctx, request("u1", "t1", models.LaneStandard, 10))
	assert.Equal(t, CodeDuplicateTrack, CodeOf(err))

	played, err := h.coord.NextTrack(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "t1", played.TrackId)
	assert.False(t, h.active(t, "t1"))

	_, err = h.coord.AddTrack(ctx, request("u1", "t1", models.LaneStandard, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(80), h.balance(t, "u1"))
}

func TestNextTrack_PriorityOrdering(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 5})
	h.fund(t, "u1", 100)
	ctx := context.Background()

	for _, r := range []AddTrackRequest{
		request("u1", "C", models.LaneStandard, 5),
		request("u1", "A", models.LanePriority, 10),
		request("u1", "D", models.LaneStandard, 5),
		request("u1", "B", models.LanePriority, 10),
	} {
		_, err := h.coord.AddTrack(ctx, r)
		require.NoError(t, err)
	}

	var order []string
	for i := 0; i < 4; i++ {
		entry, err := h.coord.NextTrack(ctx, "v1")
		require.NoError(t, err)
		order = append(order, entry.TrackId)
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, order)

	_, err := h.coord.NextTrack(ctx, "v1")
	assert.Equal(t, CodeNoTrackAvailable, CodeOf(err))

	snapshot, err := h.coord.Snapshot(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, snapshot.Current)
	assert.Equal(t, "D", snapshot.Current.TrackId)
	h.notifier.AssertNumberOfCalls(t, "Notify", 8)
}

func TestAddTrack_QuotaEnforcement(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 2})
	h.fund(t, "u1", 100)
	ctx := context.Background()

	_, err := h.coord.AddTrack(ctx, request("u1", "s1", models.LaneStandard, 5))
	require.NoError(t, err)
	_, err = h.coord.AddTrack(ctx, request("u1", "s2", models.LaneStandard, 5))
	require.NoError(t, err)

	_, err = h.coord.AddTrack(ctx, request("u1", "s3", models.LaneStandard, 5))
	assert.Equal(t, CodeQuotaExceeded, CodeOf(err))
	assert.False(t, h.active(t, "s3"))
	assert.Equal(t, int64(90), h.balance(t, "u1"), "rejected request is not charged")

	_, err = h.coord.AddTrack(ctx, request("u1", "p1", models.LanePriority, 10))
	require.NoError(t, err, "priority lane is exempt from the cap")

	// p1 plays first, then s1 frees a slot
	_, err = h.coord.NextTrack(ctx, "v1")
	require.NoError(t, err)
	_, err = h.coord.AddTrack(ctx, request("u1", "s3", models.LaneStandard, 5))
	assert.Equal(t, CodeQuotaExceeded, CodeOf(err))

	played, err := h.coord.NextTrack(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "s1", played.TrackId)

	_, err = h.coord.AddTrack(ctx, request("u1", "s3", models.LaneStandard, 5))
	require.NoError(t, err)
}

func TestAddTrack_RequestCapOverridesVenue(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 5, VenueUserCaps: map[string]int{"v1": 1}})
	h.fund(t, "u1", 100)
	ctx := context.Background()

	_, err := h.coord.AddTrack(ctx, request("u1", "s1", models.LaneStandard, 5))
	require.NoError(t, err)
	_, err = h.coord.AddTrack(ctx, request("u1", "s2", models.LaneStandard, 5))
	assert.Equal(t, CodeQuotaExceeded, CodeOf(err))

	req := request("u1", "s2", models.LaneStandard, 5)
	req.UserCap = 2
	_, err = h.coord.AddTrack(ctx, req)
	require.NoError(t, err)
}

type stubPoints struct {
	points.Client
	reserve func(ctx context.Context, req points.ReserveRequest) (*points.Receipt, error)
	refund  func(ctx context.Context, req points.RefundRequest) (*points.Receipt, error)
}

func (s *stubPoints) Reserve(ctx context.Context, req points.ReserveRequest) (*points.Receipt, error) {
	if s.reserve == nil {
		return s.Client.Reserve(ctx, req)
	}
	return s.reserve(ctx, req)
}

func (s *stubPoints) Refund(ctx context.Context, req points.RefundRequest) (*points.Receipt, error) {
	if s.refund == nil {
		return s.Client.Refund(ctx, req)
	}
	return s.refund(ctx, req)
}

func TestAddTrack_PointsUnavailableReleasesAndJournals(t *testing.T) {
	base := newHarness(t, Options{})
	client := &stubPoints{
		Client: points.NewLocalClient(base.ledger),
		reserve: func(context.Context, points.ReserveRequest) (*points.Receipt, error) {
			return nil, fmt.Errorf("%w: timed out", points.ErrUnavailable)
		},
	}
	h := newHarnessWithClient(t, base.ledger, client, Options{DefaultUserCap: 3})

	req := request("u1", "t1", models.LaneStandard, 10)
	req.RequestId = "r1"
	_, err := h.coord.AddTrack(context.Background(), req)

	assert.Equal(t, CodePointsServiceUnavailable, CodeOf(err))
	assert.True(t, errors.Is(err, points.ErrUnavailable))
	assert.False(t, h.active(t, "t1"))

	open, err := h.ledger.ListOpenCompensations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.CompensationVerifyCharge, open[0].Kind)
	assert.Equal(t, int64(10), open[0].Amount)
}

func TestAddTrack_CallerCancelAfterChargeStillCompletes(t *testing.T) {
	base := newHarness(t, Options{})
	base.fund(t, "u1", 100)
	local := points.NewLocalClient(base.ledger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &stubPoints{
		Client: local,
		reserve: func(ctx context.Context, req points.ReserveRequest) (*points.Receipt, error) {
			receipt, err := local.Reserve(ctx, req)
			cancel()
			return receipt, err
		},
	}
	h := newHarnessWithClient(t, base.ledger, client, Options{DefaultUserCap: 3})

	entry, err := h.coord.AddTrack(ctx, request("u1", "t1", models.LaneStandard, 10))
	require.NoError(t, err)
	assert.Equal(t, "t1", entry.TrackId)
	assert.True(t, h.active(t, "t1"))
	assert.Equal(t, int64(90), h.balance(t, "u1"))
}

func TestAddTrack_CancelledBeforeChargeHasNoEffect(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 3})
	h.fund(t, "u1", 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.coord.AddTrack(ctx, request("u1", "t1", models.LanePriority, 10))

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, h.active(t, "t1"))
	assert.Equal(t, int64(100), h.balance(t, "u1"))
}

func TestAddTrack_NotifyFailureDoesNotRollBack(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 3})
	h.notifier.ExpectedCalls = nil
	h.notifier.On("Notify", mock.Anything, "v1", notify.EventTrackAdded, mock.Anything).Return(errors.New("broker down"))
	h.fund(t, "u1", 100)

	_, err := h.coord.AddTrack(context.Background(), request("u1", "t1", models.LanePriority, 10))
	require.NoError(t, err)
	assert.True(t, h.active(t, "t1"))
	assert.Equal(t, int64(90), h.balance(t, "u1"))
}

func TestAddTrack_InvalidRequests(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 3})

	tests := []struct {
		name   string
		mutate func(r *AddTrackRequest)
	}{
		{"missing venue", func(r *AddTrackRequest) { r.VenueId = "" }},
		{"missing user", func(r *AddTrackRequest) { r.UserId = "" }},
		{"missing track", func(r *AddTrackRequest) { r.TrackId = "" }},
		{"separator in track", func(r *AddTrackRequest) { r.TrackId = "a:b" }},
		{"unknown lane", func(r *AddTrackRequest) { r.Lane = "vip" }},
		{"zero cost", func(r *AddTrackRequest) { r.Cost = 0 }},
		{"negative duration", func(r *AddTrackRequest) { r.DurationSeconds = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("u1", "t1", models.LaneStandard, 10)
			tt.mutate(&req)
			_, err := h.coord.AddTrack(context.Background(), req)
			assert.Equal(t, CodeInvalidRequest, CodeOf(err))
		})
	}
	assert.False(t, h.active(t, "t1"))
}

func TestAddTrack_InsufficientBalanceReleases(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 3})
	h.fund(t, "u1", 5)

	_, err := h.coord.AddTrack(context.Background(), request("u1", "t1", models.LaneStandard, 10))
	assert.Equal(t, CodeInsufficientBalance, CodeOf(err))
	assert.False(t, h.active(t, "t1"))
	assert.Equal(t, int64(5), h.balance(t, "u1"))

	var qe *QueueError
	require.True(t, errors.As(err, &qe))
	assert.False(t, qe.Retryable())
}

func TestAddTrack_SettledRequestIdIsRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("after compensation", func(t *testing.T) {
		h := newHarness(t, Options{DefaultUserCap: 3})
		h.fund(t, "u1", 100)
		req := request("u1", "t1", models.LaneStandard, 30)
		req.RequestId = "r1"

		h.queue.failEnqueue.Store(true)
		_, err := h.coord.AddTrack(ctx, req)
		require.Equal(t, CodeQueueStoreUnavailable, CodeOf(err))
		h.queue.failEnqueue.Store(false)

		_, err = h.coord.AddTrack(ctx, req)
		assert.Equal(t, CodeInvalidRequest, CodeOf(err))
		assert.Equal(t, int64(100), h.balance(t, "u1"))
		assert.False(t, h.active(t, "t1"))

		_, err = h.coord.NextTrack(ctx, "v1")
		assert.Equal(t, CodeNoTrackAvailable, CodeOf(err))
	})

	t.Run("after the track played", func(t *testing.T) {
		h := newHarness(t, Options{DefaultUserCap: 3})
		h.fund(t, "u1", 100)
		req := request("u1", "t1", models.LaneStandard, 30)
		req.RequestId = "r1"

		_, err := h.coord.AddTrack(ctx, req)
		require.NoError(t, err)
		_, err = h.coord.NextTrack(ctx, "v1")
		require.NoError(t, err)

		_, err = h.coord.AddTrack(ctx, req)
		assert.Equal(t, CodeInvalidRequest, CodeOf(err))
		assert.Equal(t, int64(70), h.balance(t, "u1"))
		assert.False(t, h.active(t, "t1"))

		count, err := h.queue.ActiveCount(ctx, "v1", "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		req.RequestId = "r2"
		_, err = h.coord.AddTrack(ctx, req)
		require.NoError(t, err, "a fresh request id plays again")
		assert.Equal(t, int64(40), h.balance(t, "u1"))
	})
}

func TestAddTrack_ChargeReplayedWithinCallIsAccepted(t *testing.T) {
	base := newHarness(t, Options{})
	base.fund(t, "u1", 100)
	local := points.NewLocalClient(base.ledger)

	// The first reserve commits but its answer is lost; the retry replays it.
	client := &stubPoints{
		Client: local,
		reserve: func(ctx context.Context, req points.ReserveRequest) (*points.Receipt, error) {
			if _, err := local.Reserve(ctx, req); err != nil {
				return nil, err
			}
			return local.Reserve(ctx, req)
		},
	}
	h := newHarnessWithClient(t, base.ledger, client, Options{DefaultUserCap: 3})

	entry, err := h.coord.AddTrack(context.Background(), request("u1", "t1", models.LanePriority, 10))
	require.NoError(t, err)
	assert.Equal(t, "t1", entry.TrackId)
	assert.Equal(t, int64(90), h.balance(t, "u1"))
}

func TestAddTrack_RefundFailureIsJournaled(t *testing.T) {
	base := newHarness(t, Options{})
	base.fund(t, "u1", 100)
	client := &stubPoints{
		Client: points.NewLocalClient(base.ledger),
		refund: func(context.Context, points.RefundRequest) (*points.Receipt, error) {
			return nil, fmt.Errorf("%w: refund timed out", points.ErrUnavailable)
		},
	}
	h := newHarnessWithClient(t, base.ledger, client, Options{DefaultUserCap: 3})
	h.queue.failEnqueue.Store(true)

	req := request("u1", "t1", models.LaneStandard, 30)
	req.RequestId = "r1"
	_, err := h.coord.AddTrack(context.Background(), req)

	assert.Equal(t, CodeCompensationFailed, CodeOf(err))
	assert.True(t, errors.Is(err, queue.ErrStoreUnavailable))
	assert.Equal(t, int64(70), h.balance(t, "u1"), "charge stands until the sweeper refunds it")
	assert.False(t, h.active(t, "t1"), "reservation is still released")

	correlationId := CorrelationId("v1", "t1", "u1", "r1")
	spend, err := h.ledger.FindTransaction(context.Background(), correlationId, models.ReferenceQueueRequest, models.TransactionSpend)
	require.NoError(t, err)

	open, err := h.ledger.ListOpenCompensations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.CompensationRefund, open[0].Kind)
	assert.Equal(t, spend.Id, open[0].OriginalTransactionId)
	assert.Equal(t, int64(30), open[0].Amount)
	assert.Equal(t, correlationId, open[0].CorrelationId)
}

func TestAddTrack_SlowRefundDoesNotStarveRelease(t *testing.T) {
	base := newHarness(t, Options{})
	base.fund(t, "u1", 100)
	client := &stubPoints{
		Client: points.NewLocalClient(base.ledger),
		refund: func(ctx context.Context, _ points.RefundRequest) (*points.Receipt, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	h := newHarnessWithClient(t, base.ledger, client, Options{
		DefaultUserCap:      3,
		CompensationTimeout: 50 * time.Millisecond,
	})
	h.queue.failEnqueue.Store(true)

	_, err := h.coord.AddTrack(context.Background(), request("u1", "t1", models.LanePriority, 30))

	assert.Equal(t, CodeCompensationFailed, CodeOf(err))
	assert.False(t, h.active(t, "t1"))

	open, err := h.ledger.ListOpenCompensations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.CompensationRefund, open[0].Kind)
}

func TestNextTrack_DecrementFailureIsJournaled(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 3})
	h.fund(t, "u1", 100)
	ctx := context.Background()

	req := request("u1", "t1", models.LaneStandard, 10)
	req.RequestId = "r1"
	_, err := h.coord.AddTrack(ctx, req)
	require.NoError(t, err)

	h.queue.failDecrement.Store(true)
	played, err := h.coord.NextTrack(ctx, "v1")
	require.NoError(t, err, "the pop already committed")
	assert.Equal(t, "t1", played.TrackId)

	open, err := h.ledger.ListOpenCompensations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.CompensationDecrement, open[0].Kind)
	assert.Equal(t, "u1", open[0].UserId)
	assert.Equal(t, CorrelationId("v1", "t1", "u1", "r1"), open[0].CorrelationId)
}

func TestNextTrack_SkipsCorruptEntry(t *testing.T) {
	h := newHarness(t, Options{DefaultUserCap: 3})
	h.fund(t, "u1", 100)
	ctx := context.Background()

	_, err := h.coord.AddTrack(ctx, request("u1", "t1", models.LaneStandard, 10))
	require.NoError(t, err)
	_, err = h.coord.AddTrack(ctx, request("u1", "t2", models.LaneStandard, 10))
	require.NoError(t, err)

	h.queue.corruptNext.Store(true)
	played, err := h.coord.NextTrack(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "t2", played.TrackId)

	assert.False(t, h.active(t, "t1"), "garbled entry frees its reservation")
	count, err := h.queue.ActiveCount(ctx, "v1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = h.coord.NextTrack(ctx, "v1")
	assert.Equal(t, CodeNoTrackAvailable, CodeOf(err))
}
