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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"

	"venue-jukebox-go/internal/api"
	"venue-jukebox-go/internal/coordinator"
	"venue-jukebox-go/internal/database"
	"venue-jukebox-go/internal/formance"
	"venue-jukebox-go/internal/models"
	"venue-jukebox-go/internal/notify"
	"venue-jukebox-go/internal/points"
	"venue-jukebox-go/internal/queue"
	"venue-jukebox-go/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	// Database is always SQLite; it holds the compensation journal and, for
	// the sqlite backend, the ledger itself.
	Database    *database.Service
	Ledger      store.LedgerStore
	Points      points.Client
	Queue       queue.Store
	Notifier    notify.Notifier
	Venues      []models.Venue
	PointsAPI   *api.PointsService
	Coordinator *coordinator.Coordinator
}

func InitializeLogger() (*zap.Logger, func()) {
	zapCfg := zap.NewProductionConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			log.Printf("Ignoring invalid LOG_LEVEL %q: %v\n", level, err)
		} else {
			zapCfg.Level = zap.NewAtomicLevelAt(parsed)
		}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires the full queue coordinator stack.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	services := &Services{}

	dbService, ledger, err := InitializeLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	services.Database = dbService
	services.Ledger = ledger

	venues, err := LoadVenueConfig(cfg.VenuesFile)
	if errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("No venue policy file, using defaults", zap.String("file", cfg.VenuesFile))
	} else if err != nil {
		services.Close()
		return nil, err
	}
	services.Venues = venues
	services.PointsAPI = api.NewPointsService(ledger, venues)

	services.Points, err = newPointsClient(cfg, ledger)
	if err != nil {
		services.Close()
		return nil, err
	}

	services.Queue, err = newQueueStore(ctx, cfg.Queue)
	if err != nil {
		services.Close()
		return nil, err
	}

	services.Notifier, err = newNotifier(cfg.Notify)
	if err != nil {
		services.Close()
		return nil, err
	}

	opts := coordinator.OptionsFromConfig(cfg.Coordinator)
	opts.VenueUserCaps = VenueUserCaps(venues)
	services.Coordinator = coordinator.New(services.Queue, services.Points, dbService, services.Notifier, opts)

	zap.L().Info("Services initialized",
		zap.String("ledger_backend", cfg.Ledger.Backend),
		zap.String("points_mode", cfg.Points.Mode),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.Int("venues", len(venues)))

	return services, nil
}

// InitializeLedger opens the SQLite database and the configured ledger
// backend. With the sqlite backend both are the same service.
func InitializeLedger(ctx context.Context, cfg *models.Config) (*database.Service, store.LedgerStore, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Ledger.Backend {
	case "formance":
		zap.L().Info("Using Formance ledger", zap.String("ledger", cfg.Ledger.Formance.LedgerName))
		formanceService, err := formance.NewService(ctx, cfg.Ledger.Formance)
		if err != nil {
			dbService.Close()
			return nil, nil, err
		}
		return dbService, formanceService, nil
	default:
		return dbService, dbService, nil
	}
}

func newPointsClient(cfg *models.Config, ledger store.LedgerStore) (points.Client, error) {
	var client points.Client
	switch cfg.Points.Mode {
	case "http":
		zap.L().Info("Using remote points service", zap.String("base_url", cfg.Points.BaseURL))
		httpClient, err := points.NewHTTPClient(cfg.Points.BaseURL)
		if err != nil {
			return nil, err
		}
		client = httpClient
	default:
		client = points.NewLocalClient(ledger)
	}
	return points.NewRetryingClient(client, cfg.Points), nil
}

func newQueueStore(ctx context.Context, cfg models.QueueStoreConfig) (queue.Store, error) {
	switch cfg.Backend {
	case "memory":
		zap.L().Warn("Using in-memory queue store; queue state is lost on restart")
		return queue.NewMemoryStore(), nil
	default:
		redisStore, err := queue.NewRedisStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("unable to connect queue store: %w", err)
		}
		return redisStore, nil
	}
}

func newNotifier(cfg models.NotifyConfig) (notify.Notifier, error) {
	if cfg.AMQPURL == "" {
		zap.L().Info("No AMQP_URL set, queue events go to the log")
		return notify.NewLogNotifier(), nil
	}
	return notify.NewAMQPPublisher(cfg)
}

func (cs *Services) Close() {
	if cs.Notifier != nil {
		if err := cs.Notifier.Close(); err != nil {
			zap.L().Warn("Failed to close notifier", zap.Error(err))
		}
	}
	if cs.Queue != nil {
		if err := cs.Queue.Close(); err != nil {
			zap.L().Warn("Failed to close queue store", zap.Error(err))
		}
	}
	if cs.Ledger != nil && cs.Ledger != store.LedgerStore(cs.Database) {
		cs.Ledger.Close()
	}
	if cs.Database != nil {
		cs.Database.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
