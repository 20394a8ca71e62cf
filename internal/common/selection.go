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

package common

import (
	"fmt"

	"venue-jukebox-go/internal/models"

	"go.uber.org/zap"
)

// SelectVenues narrows the configured venues to an optional id filter.
// An empty filter returns all venues.
func SelectVenues(venues []models.Venue, venueFilter string, logger *zap.Logger) ([]models.Venue, error) {
	if venueFilter == "" {
		logger.Info("Selected venues", zap.Int("count", len(venues)))
		return venues, nil
	}

	logger.Info("Looking up venue", zap.String("venue_id", venueFilter))
	for _, v := range venues {
		if v.Id == venueFilter {
			return []models.Venue{v}, nil
		}
	}

	// Venues that are not in the policy file can still carry balances.
	logger.Warn("Venue not in policy file", zap.String("venue_id", venueFilter))
	return []models.Venue{{Id: venueFilter}}, nil
}

// RequireVenue returns an error when no venue could be selected.
func RequireVenue(venues []models.Venue) error {
	if len(venues) == 0 {
		return fmt.Errorf("no venues configured; pass -venue or set VENUES_FILE")
	}
	return nil
}
