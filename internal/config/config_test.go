package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/statarb-engine/internal/utils"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 10, cfg.Generator.TopN)
	assert.Equal(t, PairingExtremes, cfg.Generator.PairingStrategy)
	assert.Equal(t, 0.4, cfg.Generator.RankWeights.Liquidity)
	assert.Equal(t, 0.2, cfg.Generator.RankWeights.RSI)
	assert.Equal(t, 20.0, cfg.Generator.Strict.MaxHalfLife)
	assert.Equal(t, 0.8, cfg.Generator.Strict.MinAbsZ)
	assert.Equal(t, 40.0, cfg.Generator.Relaxed.MaxHalfLife)
	assert.Equal(t, 0.5, cfg.Generator.Relaxed.MinAbsZ)
	assert.Equal(t, 0.10, cfg.Generator.MaxPValue)

	assert.Equal(t, 30, cfg.Scanner.CorrelationDays)
	assert.Equal(t, 90, cfg.Scanner.CointegrationDays)
	assert.Equal(t, 7, cfg.Scanner.HedgeDays)
	assert.Equal(t, 30, cfg.Scanner.ZScoreDays)
	assert.Equal(t, 2.0, cfg.Scanner.EntryThreshold)
	assert.Equal(t, 0.5, cfg.Scanner.ExitThreshold)

	assert.Equal(t, -40.0, cfg.Lifecycle.RiskReductionUSD)
	assert.Equal(t, -100.0, cfg.Lifecycle.RiskExitUSD)

	assert.Equal(t, 4*time.Hour, cfg.MarketData.CacheTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.MarketData.InitialBackoff)
	assert.Equal(t, 4*time.Hour, cfg.Engine.CycleInterval)

	require.NotEmpty(t, cfg.Universe)
	assert.Equal(t, "BTCUSDT", cfg.Universe[0].Symbol)
	assert.Equal(t, "Store of Value", cfg.Universe[0].Sector)
	require.Len(t, cfg.Watchlist, 2)
	assert.Equal(t, "ETHUSDT", cfg.Watchlist[0].SymbolB)
}

func TestMarketDataConfig_Bars(t *testing.T) {
	tests := []struct {
		timeframe string
		perDay    int
		hours     float64
	}{
		{"4h", 6, 4},
		{"1h", 24, 1},
		{"15m", 96, 0.25},
		{"1d", 1, 24},
		{"1w", 1, 168},
		{"bogus", 6, 4},
	}

	for _, tt := range tests {
		t.Run(tt.timeframe, func(t *testing.T) {
			m := MarketDataConfig{Timeframe: tt.timeframe}
			assert.Equal(t, tt.perDay, m.BarsPerDay())
			assert.Equal(t, tt.hours, m.BarHours())
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"top n", func(c *Config) { c.Generator.TopN = 0 }},
		{"strategy", func(c *Config) { c.Generator.PairingStrategy = "random" }},
		{"correlation", func(c *Config) { c.Generator.MinCorrelation = 1.5 }},
		{"tiers", func(c *Config) { c.Generator.Strict.MaxHalfLife = 50 }},
		{"relaxed z", func(c *Config) { c.Generator.Relaxed.MinAbsZ = 1.0 }},
		{"window", func(c *Config) { c.Scanner.HedgeDays = 0 }},
		{"thresholds", func(c *Config) { c.Scanner.ExitThreshold = 2.5 }},
		{"workers", func(c *Config) { c.MarketData.MaxWorkers = 1 }},
	}

	require.NoError(t, Defaults().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var validationErr *utils.ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	os.Setenv("GENERATOR_TOP_N", "4")
	os.Setenv("SCANNER_ENTRY_THRESHOLD", "2.5")
	os.Setenv("ENVIRONMENT", "PRODUCTION")
	defer os.Unsetenv("GENERATOR_TOP_N")
	defer os.Unsetenv("SCANNER_ENTRY_THRESHOLD")
	defer os.Unsetenv("ENVIRONMENT")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Generator.TopN)
	assert.Equal(t, 2.5, cfg.Scanner.EntryThreshold)
	assert.Equal(t, "production", cfg.Environment)
}
