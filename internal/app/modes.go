package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/engine"
	"github.com/alanyoungcy/perpbot/internal/feed"
)

// TradeMode starts the mark-price feed, the signal feeder, and the position
// lifecycle engine, then blocks until one of them fails or the context is
// cancelled. Trade and paper mode share this path; only the venue wired into
// deps differs.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		"symbols", a.cfg.Symbols,
		"paper", a.cfg.IsPaper(),
	)

	signals := make(chan []domain.Signal, 8)

	priceFeed := feed.NewMarkPriceFeed(a.cfg.Binance.StreamURL, a.cfg.Symbols, deps.PriceCache, a.logger)
	signalFeeder := feed.NewSignalFeeder(deps.SignalBus, signals, a.logger)
	eng := engine.New(
		deps.Venue,
		deps.TradeStore,
		deps.SignalBus,
		deps.Notifier,
		engineSettings(a.cfg),
		signals,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return priceFeed.Run(ctx) })
	g.Go(func() error { return signalFeeder.Run(ctx) })
	g.Go(func() error { return eng.Run(ctx) })

	return g.Wait()
}
