// Package config provides configuration structures and validation for the
// wallet ledger engine. All operational and money-policy parameters (server,
// storage, fee basis points, KYC tiers, velocity windows, protocol secrets)
// are loaded once at startup into an immutable struct and injected into each
// component; business logic never reads ambient state.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete application configuration.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Outbox      OutboxConfig
	Reaper      ReaperConfig
	Wallet      WalletConfig
	Guardrail   GuardrailConfig
	Sonic       SonicConfig
	Cash        CashConfig
	Voucher     VoucherConfig
	RedPacket   RedPacketConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MigrationsPath  string
}

// MongoDBConfig contains MongoDB configuration for the audit trail store
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// RedisConfig contains Redis configuration for risk-scoring state
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig contains Kafka configuration for transaction event fanout
type KafkaConfig struct {
	Brokers           string
	TxnEventsTopic    string
	DLQTopic          string
	NumPartitions     int
	ReplicationFactor int
	WriteTimeout      time.Duration
}

// OutboxConfig contains outbox pattern configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int
}

// ReaperConfig contains the background expiry/reconciliation sweep settings
type ReaperConfig struct {
	Interval   time.Duration
	BatchSize  int
	PoolSize   int // worker pool size for sweep tasks
	DriftSweep bool
}

// WalletConfig contains money-movement policy
type WalletConfig struct {
	Currency    string
	FeeBps      int64  // fee = floor(amount * FeeBps / 10000), transfer/bill only
	FeeWalletID string // optional fee-collector wallet; empty posts fees to the pool
	DevTopup    bool   // allow unauthenticated topups (development only)
}

// TierLimit bounds one KYC tier.
type TierLimit struct {
	PerTxn int64 // per-transaction cap, minor units
	Daily  int64 // rolling 24h cumulative outbound cap
}

// GuardrailConfig contains KYC, velocity and risk-scoring limits
type GuardrailConfig struct {
	Tiers [3]TierLimit

	VelocityWindow    time.Duration
	SenderMaxCount    int
	SenderMaxAmount   int64
	ReceiverMaxCount  int
	ReceiverMaxAmount int64

	RiskWindow      time.Duration // event-density window
	RiskDensityMax  int64         // events per window per device/ip before scoring
	RiskThreshold   int           // composite score that blocks
	StrikeTTL       time.Duration // strike counter decay after inactivity
	BackoffBase     time.Duration // backoff hint = BackoffBase << strikes
	BackoffMaxShift int
}

// SonicConfig contains the offline token protocol settings
type SonicConfig struct {
	Secret string // HMAC key for token signatures
	TTL    time.Duration
}

// CashConfig contains the cash mandate protocol settings
type CashConfig struct {
	TTL         time.Duration
	MaxAttempts int
	CodeDigits  int
}

// VoucherConfig contains topup voucher batch settings
type VoucherConfig struct {
	Secret   string // HMAC key for code signatures
	TTL      time.Duration
	MaxBatch int
}

// RedPacketConfig contains red packet pool settings
type RedPacketConfig struct {
	TTL      time.Duration
	MaxCount int
}

// TierLimit returns the limits for a KYC tier, clamping unknown tiers to the
// most restricted one.
func (g *GuardrailConfig) TierLimit(tier int) TierLimit {
	if tier < 0 || tier >= len(g.Tiers) {
		return g.Tiers[0]
	}
	return g.Tiers[tier]
}

// validate performs comprehensive validation of all configuration values
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}

	// Validate Redis config
	if c.Redis.Addr == "" {
		validationErrors = append(validationErrors, "REDIS_ADDR is required")
	}

	// Validate Kafka config
	if c.Kafka.Brokers == "" {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.TxnEventsTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_TXN_EVENTS_TOPIC is required")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate Outbox config
	if c.Outbox.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	}
	if c.Outbox.BatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")
	}

	// Validate Reaper config
	if c.Reaper.Interval <= 0 {
		validationErrors = append(validationErrors, "REAPER_INTERVAL must be greater than 0")
	}
	if c.Reaper.BatchSize <= 0 {
		validationErrors = append(validationErrors, "REAPER_BATCH_SIZE must be greater than 0")
	}
	if c.Reaper.PoolSize <= 0 {
		validationErrors = append(validationErrors, "REAPER_POOL_SIZE must be greater than 0")
	}

	// Validate Wallet config
	if len(c.Wallet.Currency) != 3 {
		validationErrors = append(validationErrors, "WALLET_CURRENCY must be a 3-letter code")
	}
	if c.Wallet.FeeBps < 0 || c.Wallet.FeeBps >= 10000 {
		validationErrors = append(validationErrors, "WALLET_FEE_BPS must be in [0, 10000)")
	}

	// Validate Guardrail config
	for i, tier := range c.Guardrail.Tiers {
		if tier.PerTxn <= 0 || tier.Daily <= 0 {
			validationErrors = append(validationErrors, fmt.Sprintf("GUARDRAIL_KYC%d limits must be greater than 0", i))
		}
	}
	if c.Guardrail.VelocityWindow <= 0 {
		validationErrors = append(validationErrors, "GUARDRAIL_VELOCITY_WINDOW must be greater than 0")
	}
	if c.Guardrail.SenderMaxCount <= 0 || c.Guardrail.ReceiverMaxCount <= 0 {
		validationErrors = append(validationErrors, "GUARDRAIL velocity counts must be greater than 0")
	}
	if c.Guardrail.SenderMaxAmount <= 0 || c.Guardrail.ReceiverMaxAmount <= 0 {
		validationErrors = append(validationErrors, "GUARDRAIL velocity amounts must be greater than 0")
	}
	if c.Guardrail.RiskWindow <= 0 || c.Guardrail.StrikeTTL <= 0 || c.Guardrail.BackoffBase <= 0 {
		validationErrors = append(validationErrors, "GUARDRAIL risk windows must be greater than 0")
	}
	if c.Guardrail.RiskThreshold <= 0 {
		validationErrors = append(validationErrors, "GUARDRAIL_RISK_THRESHOLD must be greater than 0")
	}

	// Validate protocol configs
	if c.Sonic.Secret == "" {
		validationErrors = append(validationErrors, "SONIC_SECRET is required")
	}
	if c.Sonic.TTL <= 0 {
		validationErrors = append(validationErrors, "SONIC_TTL must be greater than 0")
	}
	if c.Cash.TTL <= 0 {
		validationErrors = append(validationErrors, "CASH_TTL must be greater than 0")
	}
	if c.Cash.MaxAttempts <= 0 {
		validationErrors = append(validationErrors, "CASH_MAX_ATTEMPTS must be greater than 0")
	}
	if c.Cash.CodeDigits < 6 {
		validationErrors = append(validationErrors, "CASH_CODE_DIGITS must be at least 6")
	}
	if c.Voucher.Secret == "" {
		validationErrors = append(validationErrors, "VOUCHER_SECRET is required")
	}
	if c.Voucher.TTL <= 0 || c.Voucher.MaxBatch <= 0 {
		validationErrors = append(validationErrors, "VOUCHER_TTL and VOUCHER_MAX_BATCH must be greater than 0")
	}
	if c.RedPacket.TTL <= 0 || c.RedPacket.MaxCount <= 0 {
		validationErrors = append(validationErrors, "REDPACKET_TTL and REDPACKET_MAX_COUNT must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
