package formance

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// GetBalance returns the patron's balance at a venue. Formance accounts exist
// implicitly, so an untouched account reads as zero.
func (s *Service) GetBalance(ctx context.Context, userId, venueId string) (*models.Balance, error) {
	if userId == "" || venueId == "" {
		return nil, fmt.Errorf("%w: user id and venue id are required", store.ErrInvalidTransaction)
	}

	zap.L().Debug("Getting balance from Formance",
		zap.String("user_id", userId), zap.String("venue_id", venueId))

	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: userAccount(venueId, userId),
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return &models.Balance{UserId: userId, VenueId: venueId, LastActivity: time.Now().UTC()}, nil
		}
		return nil, unavailable("failed to get account", err)
	}

	return accountToBalance(resp.V2AccountResponse.Data, userId, venueId), nil
}

// GetVenueBalances lists every patron account under a venue.
func (s *Service) GetVenueBalances(ctx context.Context, venueId string) ([]models.Balance, error) {
	zap.L().Debug("Getting venue balances from Formance", zap.String("venue_id", venueId))

	prefix := venueUsersPrefix(venueId)
	resp, err := s.client.Ledger.V2.ListAccounts(ctx, operations.V2ListAccountsRequest{
		Ledger:   s.ledger,
		PageSize: ptrInt64(1000),
		Expand:   v3.Pointer("volumes"),
		RequestBody: map[string]any{
			"$match": map[string]any{"address": prefix},
		},
	})
	if err != nil {
		return nil, unavailable("failed to list accounts", err)
	}

	var balances []models.Balance
	for _, acct := range resp.V2AccountsCursorResponse.Cursor.Data {
		userId, ok := strings.CutPrefix(acct.Address, prefix)
		if !ok || userId == "" {
			continue
		}
		balances = append(balances, *accountToBalance(acct, userId, venueId))
	}
	return balances, nil
}

// ReconcileBalance replays the postings that touched the patron's account and
// compares the sum with the balance Formance reports.
func (s *Service) ReconcileBalance(ctx context.Context, userId, venueId string) error {
	zap.L().Info("Reconciling balance in Formance", zap.String("user_id", userId), zap.String("venue_id", venueId))

	balance, err := s.GetBalance(ctx, userId, venueId)
	if err != nil {
		return err
	}

	address := userAccount(venueId, userId)
	replayed := new(big.Int)
	var cursor *string
	for {
		resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
			Ledger:   s.ledger,
			PageSize: ptrInt64(100),
			Cursor:   cursor,
			RequestBody: map[string]any{
				"$match": map[string]any{"account": address},
			},
		})
		if err != nil {
			return unavailable("failed to list transactions", err)
		}
		page := resp.V2TransactionsCursorResponse.Cursor
		for _, tx := range page.Data {
			addPostings(replayed, tx.Postings, address)
		}
		if !page.HasMore || page.Next == nil {
			break
		}
		cursor = page.Next
	}

	if replayed.Int64() != balance.CurrentBalance {
		zap.L().Error("Balance reconciliation failed",
			zap.String("user_id", userId),
			zap.String("venue_id", venueId),
			zap.Int64("current_balance", balance.CurrentBalance),
			zap.String("calculated_balance", replayed.String()))
		return fmt.Errorf("%w: current=%d, calculated=%s", store.ErrBalanceMismatch, balance.CurrentBalance, replayed.String())
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("user_id", userId),
		zap.String("venue_id", venueId),
		zap.Int64("balance", balance.CurrentBalance))
	return nil
}

// addPostings adds the net effect of postings on address to sum.
func addPostings(sum *big.Int, postings []shared.V2Posting, address string) {
	for _, p := range postings {
		if p.Asset != pointsAsset || p.Amount == nil {
			continue
		}
		if p.Destination == address {
			sum.Add(sum, p.Amount)
		}
		if p.Source == address {
			sum.Sub(sum, p.Amount)
		}
	}
}

// accountToBalance maps account volumes onto a Balance. Input volume counts
// every credit (earn, bonus, refund) and output volume every debit.
func accountToBalance(acct shared.V2Account, userId, venueId string) *models.Balance {
	balance := &models.Balance{UserId: userId, VenueId: venueId, LastActivity: time.Now().UTC()}
	if vol, ok := acct.Volumes[pointsAsset]; ok {
		if vol.Input != nil {
			balance.TotalEarned = vol.Input.Int64()
		}
		if vol.Output != nil {
			balance.TotalSpent = vol.Output.Int64()
		}
	}
	if bal := volumeBalance(acct.Volumes, pointsAsset); bal != nil {
		balance.CurrentBalance = bal.Int64()
	}
	if acct.UpdatedAt != nil {
		balance.LastActivity = *acct.UpdatedAt
	} else if acct.FirstUsage != nil {
		balance.LastActivity = *acct.FirstUsage
	}
	return balance
}
