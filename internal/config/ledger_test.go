package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLedgerConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg := LoadLedgerConfig()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, MaxReversalAge, cfg.ReversalWindow)
	assert.Equal(t, 800*time.Millisecond, cfg.ScoringTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "ledger_events", cfg.EventsQueue)
	assert.Nil(t, cfg.SuspiciousThreshold)
}

func TestLoadLedgerConfig_Overrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("RISK_SUSPICIOUS_THRESHOLD", "0.75")
	t.Setenv("LEDGER_STORE", "memory")
	t.Setenv("RISK_TIMEOUT", "250ms")
	require.NoError(t, viper.BindEnv("risk.suspicious_threshold", "RISK_SUSPICIOUS_THRESHOLD"))
	require.NoError(t, viper.BindEnv("ledger.store", "LEDGER_STORE"))
	require.NoError(t, viper.BindEnv("risk.timeout", "RISK_TIMEOUT"))

	cfg := LoadLedgerConfig()

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 250*time.Millisecond, cfg.ScoringTimeout)
	require.NotNil(t, cfg.SuspiciousThreshold)
	assert.InDelta(t, 0.75, *cfg.SuspiciousThreshold, 1e-9)
}

func TestLoadLedgerConfig_ReversalWindowIsCapped(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("ledger.reversal_window", 90*24*time.Hour)
	assert.Equal(t, MaxReversalAge, LoadLedgerConfig().ReversalWindow)

	viper.Set("ledger.reversal_window", 24*time.Hour)
	assert.Equal(t, 24*time.Hour, LoadLedgerConfig().ReversalWindow)
}
