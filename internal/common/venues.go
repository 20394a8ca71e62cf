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
	"os"
	"path/filepath"

	"venue-jukebox-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type VenuesConfig struct {
	Venues []models.Venue `yaml:"venues"`
}

func LoadVenueConfig(venuesFile string) ([]models.Venue, error) {
	var venuesPath string
	if filepath.IsAbs(venuesFile) {
		venuesPath = venuesFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		venuesPath = filepath.Join(wd, venuesFile)
	}

	data, err := os.ReadFile(venuesPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", venuesFile, err)
	}

	return ParseVenueConfig(data)
}

func ParseVenueConfig(data []byte) ([]models.Venue, error) {
	var config VenuesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse venues: %w", err)
	}

	seen := make(map[string]struct{}, len(config.Venues))
	for i := range config.Venues {
		venue := &config.Venues[i]
		if venue.Id == "" {
			return nil, fmt.Errorf("venue at index %d missing id", i)
		}
		if _, dup := seen[venue.Id]; dup {
			return nil, fmt.Errorf("duplicate venue %s", venue.Id)
		}
		seen[venue.Id] = struct{}{}

		if venue.StandardCost <= 0 || venue.PriorityCost <= 0 {
			return nil, fmt.Errorf("venue %s: lane costs must be positive", venue.Id)
		}
		if venue.UserCap < 0 {
			return nil, fmt.Errorf("venue %s: user_cap cannot be negative", venue.Id)
		}

		for j := range venue.Packages {
			pkg := &venue.Packages[j]
			if pkg.Id == "" || pkg.Points <= 0 {
				return nil, fmt.Errorf("venue %s: package at index %d needs an id and positive points", venue.Id, j)
			}
			price, err := decimal.NewFromString(pkg.RawPrice)
			if err != nil {
				return nil, fmt.Errorf("venue %s: package %s has invalid price %q: %w", venue.Id, pkg.Id, pkg.RawPrice, err)
			}
			if price.IsNegative() {
				return nil, fmt.Errorf("venue %s: package %s has negative price", venue.Id, pkg.Id)
			}
			pkg.Price = price
			if pkg.Currency == "" {
				pkg.Currency = "USD"
			}
		}
	}

	return config.Venues, nil
}

// VenueUserCaps extracts the per-venue standard-lane caps that are set.
func VenueUserCaps(venues []models.Venue) map[string]int {
	caps := make(map[string]int, len(venues))
	for _, v := range venues {
		if v.UserCap > 0 {
			caps[v.Id] = v.UserCap
		}
	}
	return caps
}
