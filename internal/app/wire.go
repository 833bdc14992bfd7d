package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/perpbot/internal/cache/redis"
	"github.com/alanyoungcy/perpbot/internal/config"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/engine"
	"github.com/alanyoungcy/perpbot/internal/notify"
	"github.com/alanyoungcy/perpbot/internal/store/postgres"
	"github.com/alanyoungcy/perpbot/internal/venue/binance"
	"github.com/alanyoungcy/perpbot/internal/venue/sim"
)

// Dependencies bundles every domain-level dependency that the trading mode
// needs to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Venue      domain.Venue
	TradeStore domain.TradeStore

	PriceCache  domain.PriceCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiterWithLimit(
		redisClient, cfg.Binance.RateLimit, cfg.Binance.RateWindow.Duration,
	)

	// --- Venue ---
	if cfg.IsPaper() {
		deps.Venue = sim.New(deps.PriceCache, sim.Config{
			StartingBalance: cfg.Sim.StartingBalance,
			SlippageBps:     cfg.Sim.SlippageBps,
			SpreadBps:       cfg.Sim.SpreadBps,
		}, logger)
	} else {
		deps.Venue = binance.New(binance.Config{
			APIKey:    cfg.Binance.APIKey,
			APISecret: cfg.Binance.APISecret,
			Testnet:   cfg.Binance.Testnet,
			BookDepth: cfg.Binance.BookDepth,
		}, deps.RateLimiter, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// engineSettings maps the engine section of the configuration onto the
// engine's Settings struct.
func engineSettings(cfg *config.Config) engine.Settings {
	e := cfg.Engine
	return engine.Settings{
		StakeAmount:     e.StakeAmount,
		Leverage:        e.Leverage,
		SizingMode:      engine.SizingMode(e.SizingMode),
		MaxPositions:    e.MaxPositions,
		MinConfidence:   e.MinConfidence,
		MaxSignalAge:    e.MaxSignalAge.Duration,
		MinNotionalUSD:  e.MinNotionalUSD,
		PriceDriftPct:   e.PriceDriftPct,
		StepSize:        e.StepSize,
		TickSize:        e.TickSize,
		SymbolSteps:     e.SymbolSteps,
		SymbolTicks:     e.SymbolTicks,
		FloorStart:      e.FloorStart,
		FloorIncrement:  e.FloorIncrement,
		CapDollars:      e.CapDollars,
		StopLossPct:     e.StopLossPct,
		TrailingBasis:   engine.TrailingBasis(e.TrailingBasis),
		TakerFeeRate:    e.TakerFeeRate,
		MonitorInterval: e.MonitorInterval.Duration,
		TickTimeout:     e.TickTimeout.Duration,
		CloseGrace:      e.CloseGrace.Duration,
	}
}
