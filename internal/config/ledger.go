package config

import (
	"time"

	"github.com/spf13/viper"
)

// MaxReversalAge is how long after its timestamp a transaction may still be reversed.
const MaxReversalAge = 30 * 24 * time.Hour

type LedgerConfig struct {
	Port     string
	LogLevel string

	// Store selects the repository backend: "postgres" or "memory".
	Store string

	ReversalWindow time.Duration

	ScoringURL            string
	ScoringTimeout        time.Duration
	MaxScoringConcurrency int
	// SuspiciousThreshold is nil when no entry should ever be flagged.
	SuspiciousThreshold *float64
	HighAmountThreshold int64

	MaxRetries     int
	InitialBackoff time.Duration

	EventsQueue  string
	OTLPEndpoint string
	JWTSecret    string
}

// LoadLedgerConfig returns ledger configuration with defaults.
func LoadLedgerConfig() *LedgerConfig {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("ledger.store", "postgres")
	viper.SetDefault("ledger.reversal_window", MaxReversalAge)
	viper.SetDefault("ledger.max_retries", 3)
	viper.SetDefault("ledger.initial_backoff", 20*time.Millisecond)
	viper.SetDefault("ledger.events_queue", "ledger_events")
	viper.SetDefault("risk.scoring_url", "")
	viper.SetDefault("risk.timeout", 800*time.Millisecond)
	viper.SetDefault("risk.max_concurrency", 32)
	viper.SetDefault("risk.high_amount_threshold", int64(10_000_000))
	viper.SetDefault("otel.endpoint", "")

	cfg := &LedgerConfig{
		Port:                  viper.GetString("server.port"),
		LogLevel:              viper.GetString("log.level"),
		Store:                 viper.GetString("ledger.store"),
		ReversalWindow:        viper.GetDuration("ledger.reversal_window"),
		ScoringURL:            viper.GetString("risk.scoring_url"),
		ScoringTimeout:        viper.GetDuration("risk.timeout"),
		MaxScoringConcurrency: viper.GetInt("risk.max_concurrency"),
		HighAmountThreshold:   viper.GetInt64("risk.high_amount_threshold"),
		MaxRetries:            viper.GetInt("ledger.max_retries"),
		InitialBackoff:        viper.GetDuration("ledger.initial_backoff"),
		EventsQueue:           viper.GetString("ledger.events_queue"),
		OTLPEndpoint:          viper.GetString("otel.endpoint"),
		JWTSecret:             viper.GetString("jwt.secret_key"),
	}

	// The window can be shortened but never extended past MaxReversalAge.
	if cfg.ReversalWindow <= 0 || cfg.ReversalWindow > MaxReversalAge {
		cfg.ReversalWindow = MaxReversalAge
	}

	if viper.IsSet("risk.suspicious_threshold") && viper.GetString("risk.suspicious_threshold") != "" {
		threshold := viper.GetFloat64("risk.suspicious_threshold")
		cfg.SuspiciousThreshold = &threshold
	}

	return cfg
}
