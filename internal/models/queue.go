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

// Lane is one of the two ordered sub-queues of a venue.
type Lane string

const (
	LanePriority Lane = "priority"
	LaneStandard Lane = "standard"
)

// Valid reports whether l is a known lane.
func (l Lane) Valid() bool {
	return l == LanePriority || l == LaneStandard
}

// QueueEntry is a paid-for track waiting in (or playing from) a venue queue.
type QueueEntry struct {
	TrackId         string    `json:"track_id"`
	Title           string    `json:"title"`
	Thumbnail       string    `json:"thumbnail,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	Lane            Lane      `json:"lane"`
	RequestedBy     string    `json:"requested_by"`
	VenueId         string    `json:"venue_id"`
	RequestId       string    `json:"request_id"`
	TransactionId   string    `json:"transaction_id,omitempty"`
	AddedAt         time.Time `json:"added_at"`
}

// QueueSnapshot is a read-only view of a venue's queue.
type QueueSnapshot struct {
	VenueId  string       `json:"venue_id"`
	Current  *QueueEntry  `json:"current,omitempty"`
	Next     *QueueEntry  `json:"next,omitempty"`
	Priority []QueueEntry `json:"priority"`
	Standard []QueueEntry `json:"standard"`
}

// CompensationKind names the step a pending compensation still has to perform.
type CompensationKind string

const (
	CompensationRefund       CompensationKind = "refund"
	CompensationRelease      CompensationKind = "release"
	CompensationVerifyCharge CompensationKind = "verify_charge"
	CompensationDecrement    CompensationKind = "decrement"
)

// PendingCompensation is a saga step that could not complete in-line and
// needs out-of-band reconciliation.
type PendingCompensation struct {
	Id                    string           `db:"id"`
	Kind                  CompensationKind `db:"kind"`
	VenueId               string           `db:"venue_id"`
	UserId                string           `db:"user_id"`
	TrackId               string           `db:"track_id"`
	Amount                int64            `db:"amount"`
	CorrelationId         string           `db:"correlation_id"`
	OriginalTransactionId string           `db:"original_transaction_id"`
	Attempts              int              `db:"attempts"`
	LastError             string           `db:"last_error"`
	Resolved              bool             `db:"resolved"`
	CreatedAt             time.Time        `db:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at"`
}
