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

import (
	"github.com/shopspring/decimal"
)

// Venue is the per-venue policy loaded from venues.yaml
type Venue struct {
	Id           string         `yaml:"id" json:"id"`
	Name         string         `yaml:"name" json:"name"`
	StandardCost int64          `yaml:"standard_cost" json:"standard_cost"`
	PriorityCost int64          `yaml:"priority_cost" json:"priority_cost"`
	UserCap      int            `yaml:"user_cap" json:"user_cap"`
	Packages     []PointPackage `yaml:"packages" json:"packages"`
}

// PointPackage is a purchasable bundle of points
type PointPackage struct {
	Id       string          `yaml:"id" json:"id"`
	Points   int64           `yaml:"points" json:"points"`
	RawPrice string          `yaml:"price" json:"-"`
	Price    decimal.Decimal `yaml:"-" json:"price"`
	Currency string          `yaml:"currency" json:"currency"`
}

// CostFor returns the points charged for a request on the given lane
func (v Venue) CostFor(lane Lane) int64 {
	if lane == LanePriority {
		return v.PriorityCost
	}
	return v.StandardCost
}

// Package looks up a point package by id
func (v Venue) Package(id string) (PointPackage, bool) {
	for _, p := range v.Packages {
		if p.Id == id {
			return p, true
		}
	}
	return PointPackage{}, false
}

// PurchaseResult represents the result of crediting or reversing a purchase
type PurchaseResult struct {
	Success       bool            `json:"success"`
	UserId        string          `json:"user_id,omitempty"`
	VenueId       string          `json:"venue_id,omitempty"`
	PackageId     string          `json:"package_id,omitempty"`
	Points        int64           `json:"points,omitempty"`
	Price         decimal.Decimal `json:"price,omitempty"`
	NewBalance    int64           `json:"new_balance"`
	TransactionId string          `json:"transaction_id,omitempty"`
	Replayed      bool            `json:"replayed,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// BalanceReport pairs a balance with the outcome of replaying its log
type BalanceReport struct {
	Balance    Balance `json:"balance"`
	Reconciled bool    `json:"reconciled"`
	Error      string  `json:"error,omitempty"`
}
