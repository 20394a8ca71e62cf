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

package points

import (
	"context"
	"errors"
)

// Outcomes a caller must distinguish. Anything that is not a receipt or one
// of these errors is reported as ErrUnavailable, never as "maybe succeeded".
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnavailable       = errors.New("points service unavailable")
	ErrInvalidRequest    = errors.New("invalid points request")
	ErrChargeNotFound    = errors.New("charge not found")
)

// Receipt is the result of a committed reserve or refund. Metadata is what
// the call that committed the transaction stored with it.
type Receipt struct {
	TransactionId string            `json:"transaction_id"`
	NewBalance    int64             `json:"new_balance"`
	Replayed      bool              `json:"replayed"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type ReserveRequest struct {
	UserId        string            `json:"user_id"`
	VenueId       string            `json:"venue_id"`
	Amount        int64             `json:"amount"`
	Reason        string            `json:"reason"`
	CorrelationId string            `json:"correlation_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type RefundRequest struct {
	UserId                string `json:"user_id"`
	VenueId               string `json:"venue_id"`
	Amount                int64  `json:"amount"`
	Reason                string `json:"reason"`
	CorrelationId         string `json:"correlation_id"`
	OriginalTransactionId string `json:"original_transaction_id"`
}

// Client is the synchronous boundary the queue coordinator charges through.
// CorrelationId is the idempotency key: a reserve and its refund share it, and
// repeating either call with it never applies twice.
type Client interface {
	Reserve(ctx context.Context, req ReserveRequest) (*Receipt, error)
	Refund(ctx context.Context, req RefundRequest) (*Receipt, error)
	// FindCharge reports the reserve recorded for a correlation id, or ErrChargeNotFound.
	FindCharge(ctx context.Context, reason, correlationId string) (*Receipt, error)
}
