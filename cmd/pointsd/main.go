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
	"os/signal"
	"syscall"

	"venue-jukebox-go/internal/common"
	"venue-jukebox-go/internal/config"
	"venue-jukebox-go/internal/points"
	"venue-jukebox-go/internal/pointsapi"

	"go.uber.org/zap"
)

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zap.L().Info("Starting points service",
		zap.String("ledger_backend", cfg.Ledger.Backend),
		zap.String("addr", cfg.Server.ListenAddr))

	dbService, ledger, err := common.InitializeLedger(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize ledger", zap.Error(err))
	}
	defer dbService.Close()
	if ledger != dbService {
		defer ledger.Close()
	}

	server := pointsapi.NewServer(points.NewLocalClient(ledger), ledger, cfg.Server)
	if err := server.ListenAndServe(ctx); err != nil {
		zap.L().Error("Points service stopped with error", zap.Error(err))
		return
	}

	zap.L().Info("Points service stopped")
}
