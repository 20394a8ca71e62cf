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

package models

import "time"

// TransactionType is the kind of ledger mutation.
type TransactionType string

const (
	TransactionEarn    TransactionType = "earn"
	TransactionSpend   TransactionType = "spend"
	TransactionBonus   TransactionType = "bonus"
	TransactionPenalty TransactionType = "penalty"
	TransactionRefund  TransactionType = "refund"
)

// Reference types used to correlate ledger rows with the flow that caused them.
const (
	ReferenceQueueRequest = "queue_request"
	ReferencePurchase     = "purchase"
	ReferenceAdmin        = "admin_adjustment"
)

// IsDebit reports whether the type decreases the balance.
func (t TransactionType) IsDebit() bool {
	return t == TransactionSpend || t == TransactionPenalty
}

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionEarn, TransactionSpend, TransactionBonus, TransactionPenalty, TransactionRefund:
		return true
	}
	return false
}

// Balance represents the current points state for a user at a venue (hot data)
type Balance struct {
	UserId         string    `db:"user_id" json:"user_id"`
	VenueId        string    `db:"venue_id" json:"venue_id"`
	CurrentBalance int64     `db:"current_balance" json:"current_balance"`
	TotalEarned    int64     `db:"total_earned" json:"total_earned"`
	TotalSpent     int64     `db:"total_spent" json:"total_spent"`
	LastActivity   time.Time `db:"last_activity" json:"last_activity"`
}

// LedgerTransaction represents an immutable ledger row (cold data)
type LedgerTransaction struct {
	Id            string            `db:"id" json:"id"`
	UserId        string            `db:"user_id" json:"user_id"`
	VenueId       string            `db:"venue_id" json:"venue_id"`
	Type          TransactionType   `db:"type" json:"type"`
	Amount        int64             `db:"amount" json:"amount"`
	BalanceBefore int64             `db:"balance_before" json:"balance_before"`
	BalanceAfter  int64             `db:"balance_after" json:"balance_after"`
	Description   string            `db:"description" json:"description"`
	ReferenceId   string            `db:"reference_id" json:"reference_id"`
	ReferenceType string            `db:"reference_type" json:"reference_type"`
	Metadata      map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`

	// Replayed is set when the row already existed for the same reference.
	Replayed bool `db:"-" json:"replayed"`
}

// ApplyTransactionParams contains the parameters for a ledger mutation
type ApplyTransactionParams struct {
	UserId        string            `json:"user_id"`
	VenueId       string            `json:"venue_id"`
	Type          TransactionType   `json:"type"`
	Amount        int64             `json:"amount"`
	Description   string            `json:"description"`
	ReferenceId   string            `json:"reference_id"`
	ReferenceType string            `json:"reference_type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
