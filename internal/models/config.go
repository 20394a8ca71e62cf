package models

import "time"

// Config represents the application configuration
type Config struct {
	Database    DatabaseConfig
	Ledger      LedgerConfig
	Points      PointsConfig
	Queue       QueueStoreConfig
	Notify      NotifyConfig
	Coordinator CoordinatorConfig
	Sweeper     SweeperConfig
	Server      ServerConfig
	VenuesFile  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// LedgerConfig selects the points ledger backend
type LedgerConfig struct {
	Backend  string // "sqlite" or "formance"
	Formance FormanceConfig
}

// FormanceConfig holds Formance Stack connection settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// PointsConfig holds settings for the points service client
type PointsConfig struct {
	Mode           string // "local" or "http"
	BaseURL        string
	CallTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// QueueStoreConfig holds queue store connection settings
type QueueStoreConfig struct {
	Backend   string // "redis" or "memory"
	RedisAddr string
	RedisDB   int
	Password  string
	KeyPrefix string
}

// NotifyConfig holds real-time fan-out publisher settings
type NotifyConfig struct {
	AMQPURL  string
	Exchange string
}

// CoordinatorConfig holds saga settings
type CoordinatorConfig struct {
	CompensationAttempts int
	CompensationTimeout  time.Duration
	CompensationBackoff  time.Duration
	NotifyTimeout        time.Duration
	DefaultUserCap       int
}

// SweeperConfig holds compensation sweeper settings
type SweeperConfig struct {
	Schedule    string
	BatchSize   int
	Concurrency int
}

// ServerConfig holds remote points service settings
type ServerConfig struct {
	ListenAddr      string
	RateLimit       float64
	RateBurst       int
	ShutdownTimeout time.Duration
}
