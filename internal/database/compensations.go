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

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordCompensation stores a compensation that still has to run. Recording
// the same kind and correlation id again reopens the existing entry.
func (s *Service) RecordCompensation(ctx context.Context, entry models.PendingCompensation) (*models.PendingCompensation, error) {
	if entry.Kind == "" || entry.CorrelationId == "" {
		return nil, fmt.Errorf("compensation kind and correlation id are required")
	}
	if entry.Id == "" {
		entry.Id = uuid.New().String()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, queryUpsertCompensation,
		entry.Id, string(entry.Kind), entry.VenueId, entry.UserId, entry.TrackId, entry.Amount,
		entry.CorrelationId, entry.OriginalTransactionId, entry.Attempts, entry.LastError, now, now)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to record compensation: %w", store.ErrStoreUnavailable, err)
	}

	recorded, err := scanCompensation(s.db.QueryRowContext(ctx, queryGetCompensationByCorrelation,
		string(entry.Kind), entry.CorrelationId))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load compensation: %w", store.ErrStoreUnavailable, err)
	}

	zap.L().Warn("Compensation recorded for reconciliation",
		zap.String("compensation_id", recorded.Id),
		zap.String("kind", string(recorded.Kind)),
		zap.String("correlation_id", recorded.CorrelationId),
		zap.Int("attempts", recorded.Attempts))
	return recorded, nil
}

// ListOpenCompensations returns unresolved entries, oldest first
func (s *Service) ListOpenCompensations(ctx context.Context, limit int) ([]models.PendingCompensation, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, queryListOpenCompensations, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list compensations: %w", store.ErrStoreUnavailable, err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var entries []models.PendingCompensation
	for rows.Next() {
		entry, err := scanCompensation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compensation: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compensation rows: %w", err)
	}
	return entries, nil
}

func (s *Service) RecordCompensationAttempt(ctx context.Context, id, lastError string) error {
	return s.updateCompensation(ctx, queryRecordCompensationAttempt, id, lastError, time.Now().UTC(), id)
}

func (s *Service) ResolveCompensation(ctx context.Context, id string) error {
	if err := s.updateCompensation(ctx, queryResolveCompensation, id, time.Now().UTC(), id); err != nil {
		return err
	}
	zap.L().Info("Compensation resolved", zap.String("compensation_id", id))
	return nil
}

func (s *Service) updateCompensation(ctx context.Context, query, id string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: failed to update compensation %s: %w", store.ErrStoreUnavailable, id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("compensation %s not found", id)
	}
	return nil
}

func scanCompensation(row rowScanner) (*models.PendingCompensation, error) {
	var entry models.PendingCompensation
	var kind string
	err := row.Scan(&entry.Id, &kind, &entry.VenueId, &entry.UserId, &entry.TrackId, &entry.Amount,
		&entry.CorrelationId, &entry.OriginalTransactionId, &entry.Attempts, &entry.LastError,
		&entry.Resolved, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	entry.Kind = models.CompensationKind(kind)
	return &entry, nil
}
