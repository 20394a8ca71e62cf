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

package database

const (
	// Balance queries
	queryEnsureBalance = `
		INSERT INTO balances (user_id, venue_id, last_activity)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, venue_id) DO NOTHING`

	queryGetBalance = `
		SELECT user_id, venue_id, current_balance, total_earned, total_spent, last_activity
		FROM balances
		WHERE user_id = ? AND venue_id = ?`

	queryGetVenueBalances = `
		SELECT user_id, venue_id, current_balance, total_earned, total_spent, last_activity
		FROM balances
		WHERE venue_id = ?
		ORDER BY user_id`

	// The guard on current_balance makes the check and the write one statement:
	// a debit that would go negative matches no row and changes nothing.
	queryAdjustBalance = `
		UPDATE balances
		SET current_balance = current_balance + ?,
		    total_earned = total_earned + ?,
		    total_spent = MAX(total_spent + ?, 0),
		    last_activity = ?
		WHERE user_id = ? AND venue_id = ? AND current_balance + ? >= 0
		RETURNING current_balance`

	// Transaction queries
	queryInsertTransaction = `
		INSERT INTO ledger_transactions (
			id, user_id, venue_id, type, amount, balance_before, balance_after,
			description, reference_id, reference_type, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	transactionColumns = `
		id, user_id, venue_id, type, amount, balance_before, balance_after,
		description, reference_id, reference_type, metadata, created_at`

	queryFindTransactionByReference = `
		SELECT ` + transactionColumns + `
		FROM ledger_transactions
		WHERE reference_id = ? AND reference_type = ? AND type = ?`

	queryGetTransactionHistory = `
		SELECT ` + transactionColumns + `
		FROM ledger_transactions
		WHERE user_id = ? AND venue_id = ?
		ORDER BY seq DESC
		LIMIT ? OFFSET ?`

	queryReplayTransactions = `
		SELECT ` + transactionColumns + `
		FROM ledger_transactions
		WHERE user_id = ? AND venue_id = ?
		ORDER BY seq ASC`

	// Compensation journal queries
	compensationColumns = `
		id, kind, venue_id, user_id, track_id, amount, correlation_id,
		original_transaction_id, attempts, last_error, resolved, created_at, updated_at`

	queryUpsertCompensation = `
		INSERT INTO pending_compensations (` + compensationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(kind, correlation_id) DO UPDATE SET
			attempts = attempts + excluded.attempts,
			last_error = excluded.last_error,
			original_transaction_id = CASE
				WHEN excluded.original_transaction_id != '' THEN excluded.original_transaction_id
				ELSE original_transaction_id END,
			resolved = 0,
			updated_at = excluded.updated_at`

	queryGetCompensationByCorrelation = `
		SELECT ` + compensationColumns + `
		FROM pending_compensations
		WHERE kind = ? AND correlation_id = ?`

	queryListOpenCompensations = `
		SELECT ` + compensationColumns + `
		FROM pending_compensations
		WHERE resolved = 0
		ORDER BY created_at ASC
		LIMIT ?`

	queryRecordCompensationAttempt = `
		UPDATE pending_compensations
		SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`

	queryResolveCompensation = `
		UPDATE pending_compensations
		SET resolved = 1, updated_at = ?
		WHERE id = ?`
)
