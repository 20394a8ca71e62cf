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
	"os"
	"os/signal"
	"syscall"

	"venue-jukebox-go/internal/common"
	"venue-jukebox-go/internal/config"
	"venue-jukebox-go/internal/reconcile"

	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "Run a single sweep and exit")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	sweeper := reconcile.NewSweeper(services.Database, services.Ledger, services.Points, services.Queue, cfg.Sweeper)

	if *once {
		result, err := sweeper.RunOnce(ctx)
		if err != nil {
			zap.L().Error("Sweep failed", zap.Error(err))
			return
		}
		zap.L().Info("Sweep completed",
			zap.Int("processed", result.Processed),
			zap.Int("resolved", result.Resolved),
			zap.Int("failed", result.Failed),
			zap.Int("mismatches", result.Mismatches))
		return
	}

	if err := sweeper.Start(ctx); err != nil {
		zap.L().Error("Failed to start sweeper", zap.Error(err))
		return
	}

	zap.L().Info("Compensation sweeper running", zap.String("schedule", cfg.Sweeper.Schedule))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping sweeper...")
	cancel()
	sweeper.Stop()
}
