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

package api

import (
	"context"
	"fmt"

	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/store"
)

// PointsService is the ledger API used by payment-completion and admin flows
type PointsService struct {
	ledger store.LedgerStore
	venues map[string]models.Venue
}

func NewPointsService(ledger store.LedgerStore, venues []models.Venue) *PointsService {
	byId := make(map[string]models.Venue, len(venues))
	for _, v := range venues {
		byId[v.Id] = v
	}
	return &PointsService{
		ledger: ledger,
		venues: byId,
	}
}

func (s *PointsService) HealthCheck(ctx context.Context) error {
	_, err := s.ledger.GetVenueBalances(ctx, "")
	if err != nil {
		return fmt.Errorf("ledger health check failed: %w", err)
	}
	return nil
}

func (s *PointsService) Venue(venueId string) (models.Venue, error) {
	venue, ok := s.venues[venueId]
	if !ok {
		return models.Venue{}, fmt.Errorf("unknown venue %s", venueId)
	}
	return venue, nil
}

// CostFor returns the configured points cost of a request on a lane
func (s *PointsService) CostFor(venueId string, lane models.Lane) (int64, error) {
	if !lane.Valid() {
		return 0, fmt.Errorf("unknown lane %q", lane)
	}
	venue, err := s.Venue(venueId)
	if err != nil {
		return 0, err
	}
	return venue.CostFor(lane), nil
}
