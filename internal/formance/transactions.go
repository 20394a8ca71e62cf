package formance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates. Every script stamps the same descriptive metadata so
// a transaction can be mapped back to a ledger row without extra lookups.
// ---------------------------------------------------------------------------

const numscriptMetadata = `
set_tx_meta("event_type", "points_mutation")
set_tx_meta("user_id", $user_id)
set_tx_meta("venue_id", $venue_id)
set_tx_meta("tx_type", $tx_type)
set_tx_meta("reference_id", $reference_id)
set_tx_meta("reference_type", $reference_type)
set_tx_meta("reference_key", $reference_key)
set_tx_meta("description", $description)
`

const numscriptVars = `vars {
  asset $asset
  number $amount
  account $user_id
  account $venue_id
  string $tx_type
  string $reference_id
  string $reference_type
  string $reference_key
  string $description
}
`

// Debits never allow overdraft: the interpreter refuses the posting with
// INSUFFICIENT_FUND and the ledger stays untouched.
const numscriptSpend = numscriptVars + `
send [$asset $amount] (
  source = @venues:$venue_id:users:$user_id
  destination = @venues:$venue_id:spent
)
` + numscriptMetadata

const numscriptPenalty = numscriptVars + `
send [$asset $amount] (
  source = @venues:$venue_id:users:$user_id
  destination = @venues:$venue_id:penalties
)
` + numscriptMetadata

const numscriptCredit = numscriptVars + `
send [$asset $amount] (
  source = @world
  destination = @venues:$venue_id:users:$user_id
)
` + numscriptMetadata

const numscriptRefund = numscriptVars + `
send [$asset $amount] (
  source = @venues:$venue_id:spent allowing unbounded overdraft
  destination = @venues:$venue_id:users:$user_id
)
` + numscriptMetadata

func scriptFor(txType models.TransactionType) string {
	switch txType {
	case models.TransactionSpend:
		return numscriptSpend
	case models.TransactionPenalty:
		return numscriptPenalty
	case models.TransactionRefund:
		return numscriptRefund
	}
	return numscriptCredit
}

// ApplyTransaction posts a single Numscript transaction. The Formance
// reference carries the idempotency key, so a replay surfaces as CONFLICT and
// resolves to the transaction already stored.
func (s *Service) ApplyTransaction(ctx context.Context, params models.ApplyTransactionParams) (*models.LedgerTransaction, error) {
	if err := store.ValidateParams(params); err != nil {
		return nil, err
	}

	key := referenceKey(params.ReferenceId, params.ReferenceType, params.Type)
	description := params.Description
	if description == "" {
		description = string(params.Type)
	}
	metadata := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata["meta_"+k] = v
	}

	resp, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(key),
			Metadata:  metadata,
			Script: &shared.V2PostTransactionScript{
				Plain: scriptFor(params.Type),
				Vars: map[string]string{
					"asset":          pointsAsset,
					"amount":         strconv.FormatInt(params.Amount, 10),
					"user_id":        params.UserId,
					"venue_id":       params.VenueId,
					"tx_type":        string(params.Type),
					"reference_id":   params.ReferenceId,
					"reference_type": params.ReferenceType,
					"reference_key":  key,
					"description":    description,
				},
			},
		},
	})
	if err != nil {
		switch {
		case isConflictError(err):
			existing, findErr := s.FindTransaction(ctx, params.ReferenceId, params.ReferenceType, params.Type)
			if findErr != nil {
				return nil, findErr
			}
			if existing.UserId != params.UserId || existing.VenueId != params.VenueId || existing.Amount != params.Amount {
				return nil, fmt.Errorf("%w: reference %s already recorded for a different mutation", store.ErrInvalidTransaction, key)
			}
			zap.L().Info("Duplicate reference, returning existing Formance transaction",
				zap.String("reference_key", key),
				zap.String("transaction_id", existing.Id))
			existing.Replayed = true
			return existing, nil
		case isInsufficientFundError(err):
			return nil, fmt.Errorf("%w: user %s at venue %s cannot cover %d points",
				store.ErrInsufficientBalance, params.UserId, params.VenueId, params.Amount)
		}
		return nil, fmt.Errorf("%w: error creating transaction: %w", store.ErrStoreUnavailable, err)
	}

	transaction := toLedgerTransaction(resp.V2CreateTransactionResponse.Data)

	zap.L().Info("Ledger transaction applied in Formance",
		zap.String("transaction_id", transaction.Id),
		zap.String("user_id", params.UserId),
		zap.String("venue_id", params.VenueId),
		zap.String("type", string(params.Type)),
		zap.Int64("new_balance", transaction.BalanceAfter))
	return transaction, nil
}

// FindTransaction looks a transaction up by its reference metadata.
func (s *Service) FindTransaction(ctx context.Context, referenceId, referenceType string, txType models.TransactionType) (*models.LedgerTransaction, error) {
	key := referenceKey(referenceId, referenceType, txType)
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: ptrInt64(1),
		Expand:   v3.Pointer("volumes"),
		RequestBody: map[string]any{
			"$match": map[string]any{
				"metadata[reference_key]": key,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find transaction %s: %w", store.ErrStoreUnavailable, key, err)
	}
	if len(resp.V2TransactionsCursorResponse.Cursor.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrTransactionNotFound, key)
	}
	return toLedgerTransaction(resp.V2TransactionsCursorResponse.Cursor.Data[0]), nil
}

// GetTransactionHistory returns the transactions touching a patron's account, newest first.
func (s *Service) GetTransactionHistory(ctx context.Context, userId, venueId string, limit, offset int) ([]models.LedgerTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	address := userAccount(venueId, userId)
	pageSize := int64(limit + offset) // fetch enough to skip offset
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
		Expand:   v3.Pointer("volumes"),
		RequestBody: map[string]any{
			"$match": map[string]any{"account": address},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list transactions: %w", store.ErrStoreUnavailable, err)
	}

	data := resp.V2TransactionsCursorResponse.Cursor.Data
	if offset >= len(data) {
		return nil, nil
	}
	data = data[offset:]
	if len(data) > limit {
		data = data[:limit]
	}

	result := make([]models.LedgerTransaction, 0, len(data))
	for _, tx := range data {
		result = append(result, *toLedgerTransaction(tx))
	}
	return result, nil
}

// toLedgerTransaction maps a Formance transaction onto a ledger row. The
// patron-side posting gives the amount, post-commit volumes give the balance.
func toLedgerTransaction(tx shared.V2Transaction) *models.LedgerTransaction {
	transaction := &models.LedgerTransaction{
		UserId:        tx.Metadata["user_id"],
		VenueId:       tx.Metadata["venue_id"],
		Type:          models.TransactionType(tx.Metadata["tx_type"]),
		Description:   tx.Metadata["description"],
		ReferenceId:   tx.Metadata["reference_id"],
		ReferenceType: tx.Metadata["reference_type"],
		CreatedAt:     tx.Timestamp,
	}
	if tx.ID != nil {
		transaction.Id = tx.ID.String()
	}

	for k, v := range tx.Metadata {
		if name, ok := strings.CutPrefix(k, "meta_"); ok {
			if transaction.Metadata == nil {
				transaction.Metadata = map[string]string{}
			}
			transaction.Metadata[name] = v
		}
	}

	address := userAccount(transaction.VenueId, transaction.UserId)
	for _, p := range tx.Postings {
		if p.Asset != pointsAsset || p.Amount == nil {
			continue
		}
		if p.Source == address || p.Destination == address {
			transaction.Amount = p.Amount.Int64()
		}
	}

	if vols, ok := tx.PostCommitVolumes[address]; ok {
		if bal := volumeBalance(vols, pointsAsset); bal != nil {
			transaction.BalanceAfter = bal.Int64()
			transaction.BalanceBefore = transaction.BalanceAfter - store.SignedAmount(transaction.Type, transaction.Amount)
		}
	}
	return transaction
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, asset string) *big.Int {
	vol, ok := vols[asset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

func unavailable(msg string, err error) error {
	if errors.Is(err, store.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", store.ErrStoreUnavailable, msg, err)
}
