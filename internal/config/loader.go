package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PERPBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PERPBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Binance ──
	setStr(&cfg.Binance.APIKey, "PERPBOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.APISecret, "PERPBOT_BINANCE_API_SECRET")
	setBool(&cfg.Binance.Testnet, "PERPBOT_BINANCE_TESTNET")
	setStr(&cfg.Binance.StreamURL, "PERPBOT_BINANCE_STREAM_URL")
	setInt(&cfg.Binance.BookDepth, "PERPBOT_BINANCE_BOOK_DEPTH")
	setInt(&cfg.Binance.RateLimit, "PERPBOT_BINANCE_RATE_LIMIT")
	setDuration(&cfg.Binance.RateWindow, "PERPBOT_BINANCE_RATE_WINDOW")

	// ── Sim ──
	setFloat64(&cfg.Sim.StartingBalance, "PERPBOT_SIM_STARTING_BALANCE")
	setFloat64(&cfg.Sim.SlippageBps, "PERPBOT_SIM_SLIPPAGE_BPS")
	setFloat64(&cfg.Sim.SpreadBps, "PERPBOT_SIM_SPREAD_BPS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PERPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PERPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PERPBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PERPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERPBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERPBOT_REDIS_TLS_ENABLED")

	// ── Engine ──
	setFloat64(&cfg.Engine.StakeAmount, "PERPBOT_ENGINE_STAKE_AMOUNT")
	setFloat64(&cfg.Engine.Leverage, "PERPBOT_ENGINE_LEVERAGE")
	setStr(&cfg.Engine.SizingMode, "PERPBOT_ENGINE_SIZING_MODE")
	setInt(&cfg.Engine.MaxPositions, "PERPBOT_ENGINE_MAX_POSITIONS")
	setFloat64(&cfg.Engine.MinConfidence, "PERPBOT_ENGINE_MIN_CONFIDENCE")
	setDuration(&cfg.Engine.MaxSignalAge, "PERPBOT_ENGINE_MAX_SIGNAL_AGE")
	setFloat64(&cfg.Engine.MinNotionalUSD, "PERPBOT_ENGINE_MIN_NOTIONAL_USD")
	setFloat64(&cfg.Engine.PriceDriftPct, "PERPBOT_ENGINE_PRICE_DRIFT_PCT")
	setFloat64(&cfg.Engine.StepSize, "PERPBOT_ENGINE_STEP_SIZE")
	setFloat64(&cfg.Engine.TickSize, "PERPBOT_ENGINE_TICK_SIZE")
	setFloat64(&cfg.Engine.FloorStart, "PERPBOT_ENGINE_FLOOR_START")
	setFloat64(&cfg.Engine.FloorIncrement, "PERPBOT_ENGINE_FLOOR_INCREMENT")
	setFloat64(&cfg.Engine.CapDollars, "PERPBOT_ENGINE_CAP_DOLLARS")
	setFloat64(&cfg.Engine.StopLossPct, "PERPBOT_ENGINE_STOP_LOSS_PCT")
	setStr(&cfg.Engine.TrailingBasis, "PERPBOT_ENGINE_TRAILING_BASIS")
	setFloat64(&cfg.Engine.TakerFeeRate, "PERPBOT_ENGINE_TAKER_FEE_RATE")
	setDuration(&cfg.Engine.MonitorInterval, "PERPBOT_ENGINE_MONITOR_INTERVAL")
	setDuration(&cfg.Engine.TickTimeout, "PERPBOT_ENGINE_TICK_TIMEOUT")
	setDuration(&cfg.Engine.CloseGrace, "PERPBOT_ENGINE_CLOSE_GRACE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PERPBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERPBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERPBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERPBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERPBOT_MODE")
	setStr(&cfg.LogLevel, "PERPBOT_LOG_LEVEL")
	setStringSlice(&cfg.Symbols, "PERPBOT_SYMBOLS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
