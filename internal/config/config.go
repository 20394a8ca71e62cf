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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"venue-jukebox-go/internal/models"
)

func Load() (*models.Config, error) {
	durations := map[string]time.Duration{
		"DB_CONN_MAX_LIFETIME":    5 * time.Minute,
		"DB_CONN_MAX_IDLE_TIME":   30 * time.Second,
		"DB_PING_TIMEOUT":         5 * time.Second,
		"DB_BUSY_TIMEOUT":         5 * time.Second,
		"POINTS_CALL_TIMEOUT":     3 * time.Second,
		"POINTS_INITIAL_BACKOFF":  100 * time.Millisecond,
		"POINTS_MAX_BACKOFF":      1 * time.Second,
		"COMPENSATION_TIMEOUT":    10 * time.Second,
		"COMPENSATION_BACKOFF":    50 * time.Millisecond,
		"NOTIFY_TIMEOUT":          2 * time.Second,
		"SERVER_SHUTDOWN_TIMEOUT": 30 * time.Second,
	}
	resolved := make(map[string]time.Duration, len(durations))
	for key, def := range durations {
		d, err := getEnvDuration(key, def)
		if err != nil {
			return nil, err
		}
		resolved[key] = d
	}

	ledgerBackend := strings.ToLower(getEnvString("LEDGER_BACKEND", "sqlite"))
	if ledgerBackend != "sqlite" && ledgerBackend != "formance" {
		return nil, fmt.Errorf("invalid LEDGER_BACKEND %q (want sqlite or formance)", ledgerBackend)
	}

	pointsMode := strings.ToLower(getEnvString("POINTS_MODE", "local"))
	if pointsMode != "local" && pointsMode != "http" {
		return nil, fmt.Errorf("invalid POINTS_MODE %q (want local or http)", pointsMode)
	}

	queueBackend := strings.ToLower(getEnvString("QUEUE_BACKEND", "redis"))
	if queueBackend != "redis" && queueBackend != "memory" {
		return nil, fmt.Errorf("invalid QUEUE_BACKEND %q (want redis or memory)", queueBackend)
	}

	rateLimit, err := getEnvFloat("SERVER_RATE_LIMIT", 50)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "points.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: resolved["DB_CONN_MAX_LIFETIME"],
			ConnMaxIdleTime: resolved["DB_CONN_MAX_IDLE_TIME"],
			PingTimeout:     resolved["DB_PING_TIMEOUT"],
			BusyTimeout:     resolved["DB_BUSY_TIMEOUT"],
		},
		Ledger: models.LedgerConfig{
			Backend: ledgerBackend,
			Formance: models.FormanceConfig{
				StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
				ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
				ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
				LedgerName:   getEnvString("FORMANCE_LEDGER", "venue-points"),
			},
		},
		Points: models.PointsConfig{
			Mode:           pointsMode,
			BaseURL:        getEnvString("POINTS_BASE_URL", "http://localhost:8081"),
			CallTimeout:    resolved["POINTS_CALL_TIMEOUT"],
			MaxAttempts:    getEnvInt("POINTS_MAX_ATTEMPTS", 3),
			InitialBackoff: resolved["POINTS_INITIAL_BACKOFF"],
			MaxBackoff:     resolved["POINTS_MAX_BACKOFF"],
		},
		Queue: models.QueueStoreConfig{
			Backend:   queueBackend,
			RedisAddr: getEnvString("REDIS_ADDR", "localhost:6379"),
			RedisDB:   getEnvInt("REDIS_DB", 0),
			Password:  getEnvString("REDIS_PASSWORD", ""),
			KeyPrefix: getEnvString("QUEUE_KEY_PREFIX", "jukebox"),
		},
		Notify: models.NotifyConfig{
			AMQPURL:  getEnvString("AMQP_URL", ""),
			Exchange: getEnvString("AMQP_EXCHANGE", "queue_events"),
		},
		Coordinator: models.CoordinatorConfig{
			CompensationAttempts: getEnvInt("COMPENSATION_ATTEMPTS", 5),
			CompensationTimeout:  resolved["COMPENSATION_TIMEOUT"],
			CompensationBackoff:  resolved["COMPENSATION_BACKOFF"],
			NotifyTimeout:        resolved["NOTIFY_TIMEOUT"],
			DefaultUserCap:       getEnvInt("DEFAULT_USER_CAP", 3),
		},
		Sweeper: models.SweeperConfig{
			Schedule:    getEnvString("SWEEPER_SCHEDULE", "* * * * *"),
			BatchSize:   getEnvInt("SWEEPER_BATCH_SIZE", 100),
			Concurrency: getEnvInt("SWEEPER_CONCURRENCY", 4),
		},
		Server: models.ServerConfig{
			ListenAddr:      getEnvString("POINTS_LISTEN_ADDR", ":8081"),
			RateLimit:       rateLimit,
			RateBurst:       getEnvInt("SERVER_RATE_BURST", 100),
			ShutdownTimeout: resolved["SERVER_SHUTDOWN_TIMEOUT"],
		},
		VenuesFile: getEnvString("VENUES_FILE", "venues.yaml"),
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %q (%w)", key, value, err)
		}
		return f, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
