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

package main

import (
	"context"
	"flag"
	"fmt"

	"venue-jukebox-go/internal/api"
	"venue-jukebox-go/internal/common"
	"venue-jukebox-go/internal/config"
	"venue-jukebox-go/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalVenues    int
	totalAccounts  int
	unreconciled   int
	outstandingPts int64
}

func printBalance(report models.BalanceReport, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	status := "ok"
	if !report.Reconciled {
		status = "MISMATCH: " + report.Error
	}

	fmt.Printf("%s %-20s: %16s (earned %s, spent %s, last: %s) %s\n",
		symbol,
		report.Balance.UserId,
		common.FormatPoints(report.Balance.CurrentBalance),
		common.FormatPoints(report.Balance.TotalEarned),
		common.FormatPoints(report.Balance.TotalSpent),
		report.Balance.LastActivity.Format("2006-01-02 15:04:05"),
		status)
}

func processVenue(ctx context.Context, venue models.Venue, svc *api.PointsService, stats *balanceStats) error {
	reports, err := svc.GetVenueReport(ctx, venue.Id)
	if err != nil {
		return fmt.Errorf("failed to get balances: %w", err)
	}
	if len(reports) == 0 {
		return nil
	}

	common.PrintVenueHeader(venue.Id, venue.Name, len(reports), common.WideWidth)
	for i, report := range reports {
		printBalance(report, i == len(reports)-1)
		stats.totalAccounts++
		stats.outstandingPts += report.Balance.CurrentBalance
		if !report.Reconciled {
			stats.unreconciled++
		}
	}
	return nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	venueFlag := flag.String("venue", "", "Filter by venue id (optional)")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only: no queue store or notifier is needed
	dbService, ledger, err := common.InitializeLedger(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger", zap.Error(err))
	}
	defer dbService.Close()
	if ledger != dbService {
		defer ledger.Close()
	}

	venues, err := common.LoadVenueConfig(cfg.VenuesFile)
	if err != nil && *venueFlag == "" {
		logger.Fatal("Failed to load venues", zap.String("file", cfg.VenuesFile), zap.Error(err))
	}

	selected, err := common.SelectVenues(venues, *venueFlag, logger)
	if err != nil {
		logger.Fatal("Failed to select venues", zap.Error(err))
	}
	if err := common.RequireVenue(selected); err != nil {
		logger.Fatal("Nothing to report", zap.Error(err))
	}

	svc := api.NewPointsService(ledger, venues)

	common.PrintHeader("VENUE POINTS BALANCE REPORT", common.WideWidth)

	stats := balanceStats{}
	for _, venue := range selected {
		stats.totalVenues++
		if err := processVenue(ctx, venue, svc, &stats); err != nil {
			logger.Error("Failed to process venue",
				zap.String("venue_id", venue.Id),
				zap.Error(err))
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d accounts across %d venues, %s outstanding, %d unreconciled",
		stats.totalAccounts, stats.totalVenues, common.FormatPoints(stats.outstandingPts), stats.unreconciled)
	common.PrintFooter(summary, common.WideWidth)

	logger.Info("Balance query completed",
		zap.Int("venues_queried", stats.totalVenues),
		zap.Int("accounts", stats.totalAccounts),
		zap.Int("unreconciled", stats.unreconciled))
}
