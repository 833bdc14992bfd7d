// Package config defines the top-level configuration for the perpetual
// futures bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PERPBOT_* environment variables.
type Config struct {
	Binance  BinanceConfig  `toml:"binance"`
	Sim      SimConfig      `toml:"sim"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Engine   EngineConfig   `toml:"engine"`
	Notify   NotifyConfig   `toml:"notify"`
	Symbols  []string       `toml:"symbols"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BinanceConfig holds Binance USDT-M futures API credentials and options.
type BinanceConfig struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	Testnet   bool   `toml:"testnet"`
	StreamURL string `toml:"stream_url"`
	BookDepth int    `toml:"book_depth"`
	// RateLimit / RateWindow shape the shared sliding-window limiter for
	// REST calls.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// SimConfig tunes the paper-trading venue.
type SimConfig struct {
	StartingBalance float64 `toml:"starting_balance"`
	SlippageBps     float64 `toml:"slippage_bps"`
	SpreadBps       float64 `toml:"spread_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// EngineConfig holds every position-lifecycle tunable. All thresholds live
// here; none are hardcoded in the engine.
type EngineConfig struct {
	StakeAmount float64 `toml:"stake_amount"`
	Leverage    float64 `toml:"leverage"`
	SizingMode  string  `toml:"sizing_mode"` // "margin" or "notional"

	MaxPositions   int      `toml:"max_positions"`
	MinConfidence  float64  `toml:"min_confidence"`
	MaxSignalAge   duration `toml:"max_signal_age"`
	MinNotionalUSD float64  `toml:"min_notional_usd"`
	// PriceDriftPct skips opens whose live price drifted more than this
	// percentage from the signal entry. Zero disables the guard.
	PriceDriftPct float64 `toml:"price_drift_pct"`

	StepSize    float64            `toml:"step_size"`
	TickSize    float64            `toml:"tick_size"`
	SymbolSteps map[string]float64 `toml:"symbol_steps"`
	SymbolTicks map[string]float64 `toml:"symbol_ticks"`

	FloorStart     float64 `toml:"floor_start"`
	FloorIncrement float64 `toml:"floor_increment"`
	CapDollars     float64 `toml:"cap_dollars"`
	StopLossPct    float64 `toml:"stop_loss_pct"`

	TrailingBasis string  `toml:"trailing_basis"` // "gross" or "net"
	TakerFeeRate  float64 `toml:"taker_fee_rate"`

	MonitorInterval duration `toml:"monitor_interval"`
	TickTimeout     duration `toml:"tick_timeout"`
	CloseGrace      duration `toml:"close_grace"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration for TOML round-tripping.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			Testnet:    false,
			BookDepth:  5,
			RateLimit:  10,
			RateWindow: duration{time.Second},
		},
		Sim: SimConfig{
			StartingBalance: 10_000,
			SlippageBps:     2,
			SpreadBps:       4,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "perpbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Engine: EngineConfig{
			StakeAmount:     100,
			Leverage:        10,
			SizingMode:      "margin",
			MaxPositions:    3,
			MinConfidence:   0.5,
			MaxSignalAge:    duration{90 * time.Second},
			MinNotionalUSD:  5,
			PriceDriftPct:   0,
			StepSize:        0.001,
			TickSize:        0.01,
			FloorStart:      15,
			FloorIncrement:  10,
			CapDollars:      100,
			StopLossPct:     2,
			TrailingBasis:   "gross",
			TakerFeeRate:    0.0005,
			MonitorInterval: duration{3 * time.Second},
			TickTimeout:     duration{10 * time.Second},
			CloseGrace:      duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "engine_error"},
		},
		Symbols:  []string{"BTCUSDT", "ETHUSDT"},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade": true,
	"paper": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: at least one trading symbol must be configured")
	}

	if strings.EqualFold(c.Mode, "trade") {
		if c.Binance.APIKey == "" || c.Binance.APISecret == "" {
			errs = append(errs, "binance: api_key and api_secret are required for mode trade")
		}
	}

	e := c.Engine
	if e.StakeAmount <= 0 {
		errs = append(errs, "engine: stake_amount must be positive")
	}
	if e.Leverage < 1 {
		errs = append(errs, "engine: leverage must be at least 1")
	}
	if e.SizingMode != "margin" && e.SizingMode != "notional" {
		errs = append(errs, fmt.Sprintf("engine: unknown sizing_mode %q (valid: margin, notional)", e.SizingMode))
	}
	if e.MaxPositions <= 0 {
		errs = append(errs, "engine: max_positions must be positive")
	}
	if e.MinConfidence < 0 || e.MinConfidence > 1 {
		errs = append(errs, "engine: min_confidence must be within [0, 1]")
	}
	if e.MaxSignalAge.Duration <= 0 {
		errs = append(errs, "engine: max_signal_age must be positive")
	}
	if e.FloorStart <= 0 || e.FloorIncrement <= 0 {
		errs = append(errs, "engine: floor_start and floor_increment must be positive")
	}
	if e.CapDollars <= e.FloorStart {
		errs = append(errs, "engine: cap_dollars must exceed floor_start")
	}
	if e.StopLossPct <= 0 {
		errs = append(errs, "engine: stop_loss_pct must be positive")
	}
	if e.TrailingBasis != "gross" && e.TrailingBasis != "net" {
		errs = append(errs, fmt.Sprintf("engine: unknown trailing_basis %q (valid: gross, net)", e.TrailingBasis))
	}
	if e.TakerFeeRate < 0 {
		errs = append(errs, "engine: taker_fee_rate must not be negative")
	}
	if e.MonitorInterval.Duration <= 0 {
		errs = append(errs, "engine: monitor_interval must be positive")
	}
	if e.CloseGrace.Duration < 0 {
		errs = append(errs, "engine: close_grace must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsPaper reports whether the bot runs against the simulated venue.
func (c *Config) IsPaper() bool {
	return strings.EqualFold(c.Mode, "paper")
}
