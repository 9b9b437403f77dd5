package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/irfndi/statarb-engine/internal/utils"
)

type Config struct {
	Environment string             `mapstructure:"environment"`
	LogLevel    string             `mapstructure:"log_level"`
	Server      ServerConfig       `mapstructure:"server"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Redis       RedisConfig        `mapstructure:"redis"`
	CCXT        CCXTConfig         `mapstructure:"ccxt"`
	Telemetry   TelemetryConfig    `mapstructure:"telemetry"`
	MarketData  MarketDataConfig   `mapstructure:"market_data"`
	Generator   GeneratorConfig    `mapstructure:"generator"`
	Scanner     ScannerConfig      `mapstructure:"scanner"`
	Lifecycle   LifecycleConfig    `mapstructure:"lifecycle"`
	Engine      EngineConfig       `mapstructure:"engine"`
	Universe    []models.Asset     `mapstructure:"universe"`
	Watchlist   []models.WatchPair `mapstructure:"watchlist"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AdminAPIKey guards the pair entry and close endpoints. Empty leaves them open.
	AdminAPIKey string `mapstructure:"admin_api_key"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type CCXTConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	Timeout    int    `mapstructure:"timeout"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	Exporter     string `mapstructure:"exporter"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	LogsEnabled  bool   `mapstructure:"logs_enabled"`
}

// MarketDataConfig controls how klines and funding history are fetched.
type MarketDataConfig struct {
	Exchange          string        `mapstructure:"exchange"`
	Timeframe         string        `mapstructure:"timeframe"`
	HistoryLimit      int           `mapstructure:"history_limit"`
	FundingLimit      int           `mapstructure:"funding_limit"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	MinWorkers        int           `mapstructure:"min_workers"`
	MaxWorkers        int           `mapstructure:"max_workers"`
}

// BarDuration parses Timeframe ("15m", "4h", "1d"). It falls back to four hours.
func (m MarketDataConfig) BarDuration() time.Duration {
	tf := strings.TrimSpace(strings.ToLower(m.Timeframe))
	if strings.HasSuffix(tf, "d") {
		if n, err := strconv.Atoi(strings.TrimSuffix(tf, "d")); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if strings.HasSuffix(tf, "w") {
		if n, err := strconv.Atoi(strings.TrimSuffix(tf, "w")); err == nil && n > 0 {
			return time.Duration(n) * 7 * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(tf); err == nil && d > 0 {
		return d
	}
	return 4 * time.Hour
}

// BarsPerDay is the number of bars per 24 hours, at least 1.
func (m MarketDataConfig) BarsPerDay() int {
	n := int((24 * time.Hour) / m.BarDuration())
	if n < 1 {
		return 1
	}
	return n
}

// BarHours is the bar length in hours.
func (m MarketDataConfig) BarHours() float64 {
	return m.BarDuration().Hours()
}

// TierThresholds is one level of the half-life / |z| gate.
type TierThresholds struct {
	MaxHalfLife float64 `mapstructure:"max_half_life"`
	MinAbsZ     float64 `mapstructure:"min_abs_z"`
}

// RankWeights weight the capped z-scores in the asset rank score.
type RankWeights struct {
	Liquidity   float64 `mapstructure:"liquidity"`
	Volatility  float64 `mapstructure:"volatility"`
	Funding     float64 `mapstructure:"funding"`
	QuoteVolume float64 `mapstructure:"quote_volume"`
	RSI         float64 `mapstructure:"rsi"`
}

// GeneratorConfig holds every tunable of the candidate generator.
type GeneratorConfig struct {
	TopN                    int            `mapstructure:"top_n"`
	PairingStrategy         string         `mapstructure:"pairing_strategy"`
	IncludeGlobal           bool           `mapstructure:"include_global"`
	NoFilters               bool           `mapstructure:"no_filters"`
	MinHistoryBars          int            `mapstructure:"min_history_bars"`
	MinCorrelation          float64        `mapstructure:"min_correlation"`
	CorrelationLookbackDays int            `mapstructure:"correlation_lookback_days"`
	MinFallbackPoints       int            `mapstructure:"min_fallback_points"`
	HedgeLookbackDays       int            `mapstructure:"hedge_lookback_days"`
	MinSpreadPoints         int            `mapstructure:"min_spread_points"`
	RatioZLookbackDays      int            `mapstructure:"ratio_z_lookback_days"`
	MaxPValue               float64        `mapstructure:"max_p_value"`
	Strict                  TierThresholds `mapstructure:"strict"`
	Relaxed                 TierThresholds `mapstructure:"relaxed"`
	RankWeights             RankWeights    `mapstructure:"rank_weights"`
	MaxLongRSI              float64        `mapstructure:"max_long_rsi"`
	MinShortRSI             float64        `mapstructure:"min_short_rsi"`
	TradableTiers           []string       `mapstructure:"tradable_tiers"`
	QuoteSuffix             string         `mapstructure:"quote_suffix"`
}

// Pairing strategies.
const (
	PairingExtremes = "extremes"
	PairingPool     = "pool"
)

// ScannerConfig holds the independent scanner windows (in days) and thresholds.
type ScannerConfig struct {
	CorrelationDays   int     `mapstructure:"correlation_days"`
	CointegrationDays int     `mapstructure:"cointegration_days"`
	HedgeDays         int     `mapstructure:"hedge_days"`
	ZScoreDays        int     `mapstructure:"zscore_days"`
	EntryThreshold    float64 `mapstructure:"entry_threshold"`
	ExitThreshold     float64 `mapstructure:"exit_threshold"`
	WatchThreshold    float64 `mapstructure:"watch_threshold"`
}

// LifecycleConfig holds the exit trigger thresholds.
type LifecycleConfig struct {
	ProfitTargetZ    float64 `mapstructure:"profit_target_z"`
	TimeStopMultiple float64 `mapstructure:"time_stop_multiple"`
	ConvergenceRatio float64 `mapstructure:"convergence_ratio"`
	RiskReductionUSD float64 `mapstructure:"risk_reduction_usd"`
	RiskExitUSD      float64 `mapstructure:"risk_exit_usd"`
	RestoreOnStartup bool    `mapstructure:"restore_on_startup"`
}

type EngineConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
	SnapshotTTL   time.Duration `mapstructure:"snapshot_ttl"`
}

func Load() (*Config, error) {
	v := viper.GetViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set default values
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("database.database_url", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind DATABASE_URL environment variable: %w", err)
	}
	if err := v.BindEnv("server.admin_api_key", "ADMIN_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind ADMIN_API_KEY environment variable: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return decode(v)
}

// Defaults returns the configuration built from defaults alone, ignoring
// config files and the environment.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("invalid default configuration: %v", err))
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Normalize environment to lowercase for consistent comparison
	config.Environment = strings.ToLower(config.Environment)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects combinations of thresholds that break the engine's invariants.
func (c *Config) Validate() error {
	g, s := c.Generator, c.Scanner

	if g.TopN <= 0 {
		return utils.NewValidationErrorf("generator.top_n must be positive, got %d", g.TopN)
	}
	if g.PairingStrategy != PairingExtremes && g.PairingStrategy != PairingPool {
		return utils.NewValidationErrorf("generator.pairing_strategy must be %q or %q, got %q",
			PairingExtremes, PairingPool, g.PairingStrategy)
	}
	if g.MinCorrelation < -1 || g.MinCorrelation > 1 {
		return utils.NewValidationErrorf("generator.min_correlation must be within [-1, 1], got %v", g.MinCorrelation)
	}
	if g.Strict.MaxHalfLife > g.Relaxed.MaxHalfLife {
		return utils.NewValidationError("generator.strict.max_half_life must not exceed generator.relaxed.max_half_life")
	}
	if g.Relaxed.MinAbsZ > g.Strict.MinAbsZ {
		return utils.NewValidationError("generator.relaxed.min_abs_z must not exceed generator.strict.min_abs_z")
	}
	for name, days := range map[string]int{
		"generator.correlation_lookback_days": g.CorrelationLookbackDays,
		"generator.hedge_lookback_days":       g.HedgeLookbackDays,
		"scanner.correlation_days":            s.CorrelationDays,
		"scanner.cointegration_days":          s.CointegrationDays,
		"scanner.hedge_days":                  s.HedgeDays,
		"scanner.zscore_days":                 s.ZScoreDays,
	} {
		if days <= 0 {
			return utils.NewValidationErrorf("%s must be positive, got %d", name, days)
		}
	}
	if s.ExitThreshold >= s.EntryThreshold {
		return utils.NewValidationErrorf("scanner.exit_threshold (%v) must be below scanner.entry_threshold (%v)",
			s.ExitThreshold, s.EntryThreshold)
	}
	if c.MarketData.MaxWorkers < c.MarketData.MinWorkers {
		return utils.NewValidationError("market_data.max_workers must not be below market_data.min_workers")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Environment
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.admin_api_key", "")

	// Set database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "statarb")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.database_url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "300s")

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "statarb")

	// CCXT
	v.SetDefault("ccxt.service_url", "http://localhost:3001")
	v.SetDefault("ccxt.timeout", 30)

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "statarb-engine")
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.logs_enabled", false)

	// Market Data
	v.SetDefault("market_data.exchange", "binance")
	v.SetDefault("market_data.timeframe", "4h")
	v.SetDefault("market_data.history_limit", 600)
	v.SetDefault("market_data.funding_limit", 90)
	v.SetDefault("market_data.requests_per_second", 2.0)
	v.SetDefault("market_data.burst", 1)
	v.SetDefault("market_data.cache_ttl", "4h")
	v.SetDefault("market_data.max_retries", 3)
	v.SetDefault("market_data.initial_backoff", "500ms")
	v.SetDefault("market_data.max_backoff", "8s")
	v.SetDefault("market_data.min_workers", 5)
	v.SetDefault("market_data.max_workers", 10)

	// Candidate generator
	v.SetDefault("generator.top_n", 10)
	v.SetDefault("generator.pairing_strategy", PairingExtremes)
	v.SetDefault("generator.include_global", false)
	v.SetDefault("generator.no_filters", false)
	v.SetDefault("generator.min_history_bars", 30)
	v.SetDefault("generator.min_correlation", 0.65)
	v.SetDefault("generator.correlation_lookback_days", 90)
	v.SetDefault("generator.min_fallback_points", 10)
	v.SetDefault("generator.hedge_lookback_days", 30)
	v.SetDefault("generator.min_spread_points", 5)
	v.SetDefault("generator.ratio_z_lookback_days", 30)
	v.SetDefault("generator.max_p_value", 0.10)
	v.SetDefault("generator.strict.max_half_life", 20.0)
	v.SetDefault("generator.strict.min_abs_z", 0.8)
	v.SetDefault("generator.relaxed.max_half_life", 40.0)
	v.SetDefault("generator.relaxed.min_abs_z", 0.5)
	v.SetDefault("generator.rank_weights.liquidity", 0.4)
	v.SetDefault("generator.rank_weights.volatility", 0.3)
	v.SetDefault("generator.rank_weights.funding", 0.2)
	v.SetDefault("generator.rank_weights.quote_volume", 0.1)
	v.SetDefault("generator.rank_weights.rsi", 0.2)
	v.SetDefault("generator.max_long_rsi", 70.0)
	v.SetDefault("generator.min_short_rsi", 30.0)
	v.SetDefault("generator.tradable_tiers", []string{models.LiquidityTierHigh, models.LiquidityTierMedium})
	v.SetDefault("generator.quote_suffix", "USDT")

	// Scanner
	v.SetDefault("scanner.correlation_days", 30)
	v.SetDefault("scanner.cointegration_days", 90)
	v.SetDefault("scanner.hedge_days", 7)
	v.SetDefault("scanner.zscore_days", 30)
	v.SetDefault("scanner.entry_threshold", 2.0)
	v.SetDefault("scanner.exit_threshold", 0.5)
	v.SetDefault("scanner.watch_threshold", 1.5)

	// Lifecycle
	v.SetDefault("lifecycle.profit_target_z", 0.5)
	v.SetDefault("lifecycle.time_stop_multiple", 2.0)
	v.SetDefault("lifecycle.convergence_ratio", 0.5)
	v.SetDefault("lifecycle.risk_reduction_usd", -40.0)
	v.SetDefault("lifecycle.risk_exit_usd", -100.0)
	v.SetDefault("lifecycle.restore_on_startup", true)

	// Engine
	v.SetDefault("engine.cycle_interval", "4h")
	v.SetDefault("engine.run_on_start", true)
	v.SetDefault("engine.snapshot_ttl", "24h")

	// Universe and watchlist
	v.SetDefault("universe", []map[string]interface{}{
		{"symbol": "BTCUSDT", "exchange": "binance", "sector": "Store of Value", "ecosystem": "Bitcoin", "asset_type": "Coin"},
		{"symbol": "ETHUSDT", "exchange": "binance", "sector": "Layer 1", "ecosystem": "Ethereum", "asset_type": "Coin"},
		{"symbol": "SOLUSDT", "exchange": "binance", "sector": "Layer 1", "ecosystem": "Solana", "asset_type": "Coin"},
		{"symbol": "ARBUSDT", "exchange": "binance", "sector": "Layer 2", "ecosystem": "Ethereum", "asset_type": "Token"},
		{"symbol": "OPUSDT", "exchange": "binance", "sector": "Layer 2", "ecosystem": "Ethereum", "asset_type": "Token"},
		{"symbol": "LINKUSDT", "exchange": "binance", "sector": "Oracle", "ecosystem": "Ethereum", "asset_type": "Token"},
	})
	v.SetDefault("watchlist", []map[string]interface{}{
		{"symbol_a": "BTCUSDT", "symbol_b": "ETHUSDT", "exchange": "binance"},
		{"symbol_a": "ARBUSDT", "symbol_b": "OPUSDT", "exchange": "binance"},
	})
}
