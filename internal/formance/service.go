package formance

import (
	"context"
	"errors"
	"fmt"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.LedgerStore.
var _ store.LedgerStore = (*Service)(nil)

// pointsAsset is the Formance asset for venue points. Points are whole units.
const pointsAsset = "PTS"

// Service implements store.LedgerStore backed by a Formance Stack ledger.
//
// Chart of accounts:
//
//	@world                          source of earned and bonus points
//	@venues:{venue}:users:{user}    a patron's spendable balance (never overdrawn)
//	@venues:{venue}:spent           points spent on queue requests, source of refunds
//	@venues:{venue}:penalties       points clawed back by purchase refunds or admins
type Service struct {
	client *v3.Formance
	ledger string
}

// NewService creates a Formance-backed LedgerStore.
// It connects to the stack, creates the ledger if it doesn't already exist, and returns ready to use.
func NewService(ctx context.Context, cfg models.FormanceConfig) (*Service, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = "venue-points"
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	svc := &Service{client: client, ledger: cfg.LedgerName}

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to ensure ledger exists: %w", store.ErrStoreUnavailable, err)
	}

	zap.L().Info("Formance service initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

// ensureLedger creates the ledger if it does not already exist.
func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "venue-jukebox",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

// Close is a no-op for the Formance backend (HTTP client needs no teardown).
func (s *Service) Close() {}

// ---------- helpers ----------

func userAccount(venueId, userId string) string {
	return fmt.Sprintf("venues:%s:users:%s", venueId, userId)
}

func venueUsersPrefix(venueId string) string {
	return fmt.Sprintf("venues:%s:users:", venueId)
}

// referenceKey is the ledger-wide idempotency key for a mutation. Formance
// rejects a second transaction with the same reference.
func referenceKey(referenceId, referenceType string, txType models.TransactionType) string {
	return fmt.Sprintf("%s:%s:%s", txType, referenceType, referenceId)
}

// isConflictError checks whether a Formance SDK error is a CONFLICT (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

// isInsufficientFundError checks whether a posting was refused because the source would be overdrawn.
func isInsufficientFundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumInsufficientFund
}

// isNotFoundError checks whether a Formance SDK error is NOT_FOUND.
func isNotFoundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumNotFound
}

func strPtr(s string) *string  { return &s }
func ptrInt64(v int64) *int64 { return &v }
