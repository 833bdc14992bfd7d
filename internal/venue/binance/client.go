// Package binance adapts the Binance USDT-M futures API to domain.Venue.
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// rateLimitKey buckets all REST calls under one sliding window; Binance
// weighs most of the endpoints this client uses identically.
const rateLimitKey = "binance:rest"

// Config holds API credentials and venue options.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	// BookDepth is the depth snapshot size for GetBookTop. Zero means 5.
	BookDepth int
}

// Venue implements domain.Venue against Binance USDT-M futures. All REST
// calls pass through the shared rate limiter before hitting the API.
type Venue struct {
	client    *futures.Client
	limiter   domain.RateLimiter
	bookDepth int
	logger    *slog.Logger
}

// New creates a Venue. limiter may be nil, in which case calls are not
// throttled locally and rely on the API's own limits.
func New(cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Venue {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	depth := cfg.BookDepth
	if depth <= 0 {
		depth = 5
	}
	return &Venue{
		client:    binance.NewFuturesClient(cfg.APIKey, cfg.APISecret),
		limiter:   limiter,
		bookDepth: depth,
		logger:    logger.With(slog.String("component", "binance")),
	}
}

func (v *Venue) throttle(ctx context.Context) error {
	if v.limiter == nil {
		return nil
	}
	return v.limiter.Wait(ctx, rateLimitKey)
}

// GetPrice returns the latest ticker price for the symbol.
func (v *Venue) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := v.throttle(ctx); err != nil {
		return 0, err
	}
	prices, err := v.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: list prices %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("binance: price %s: %w", symbol, domain.ErrNoPrice)
	}
	p, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: parse price %s: %w", symbol, err)
	}
	return p, nil
}

// GetBookTop returns the best bid and ask from a shallow depth snapshot.
func (v *Venue) GetBookTop(ctx context.Context, symbol string) (domain.BookTop, error) {
	if err := v.throttle(ctx); err != nil {
		return domain.BookTop{}, err
	}
	depth, err := v.client.NewDepthService().Symbol(symbol).Limit(v.bookDepth).Do(ctx)
	if err != nil {
		return domain.BookTop{}, fmt.Errorf("binance: depth %s: %w", symbol, err)
	}

	var top domain.BookTop
	if len(depth.Bids) > 0 {
		if p, perr := strconv.ParseFloat(depth.Bids[0].Price, 64); perr == nil {
			top.Bid = p
		}
	}
	if len(depth.Asks) > 0 {
		if p, perr := strconv.ParseFloat(depth.Asks[0].Price, 64); perr == nil {
			top.Ask = p
		}
	}
	return top, nil
}

// PlaceMarketOrder submits a market order and returns the acknowledgement
// with whatever fill information the RESULT response carries.
func (v *Venue) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, reduceOnly bool) (domain.OrderAck, error) {
	if err := v.throttle(ctx); err != nil {
		return domain.OrderAck{}, err
	}

	svc := v.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(quantity)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("binance: %w: market order %s %s: %v",
			domain.ErrVenueRejected, side, symbol, err)
	}

	ack := domain.OrderAck{
		OrderID:      strconv.FormatInt(res.OrderID, 10),
		AvgFillPrice: parseFloat(res.AvgPrice),
		Price:        parseFloat(res.Price),
	}
	v.logger.Debug("market order placed",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("order_id", ack.OrderID),
		slog.Float64("avg_price", ack.AvgFillPrice),
	)
	return ack, nil
}

// PlaceStopOrder submits a STOP_MARKET order triggered on the mark price.
func (v *Venue) PlaceStopOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, triggerPrice float64, reduceOnly bool) (domain.OrderAck, error) {
	if err := v.throttle(ctx); err != nil {
		return domain.OrderAck{}, err
	}

	svc := v.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(side)).
		Type(futures.OrderTypeStopMarket).
		Quantity(formatQty(quantity)).
		StopPrice(formatQty(triggerPrice)).
		WorkingType(futures.WorkingTypeMarkPrice)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("binance: %w: stop order %s %s: %v",
			domain.ErrVenueRejected, side, symbol, err)
	}
	return domain.OrderAck{OrderID: strconv.FormatInt(res.OrderID, 10)}, nil
}

// CancelOrder cancels an open order by id.
func (v *Venue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: parse order id %q: %w", orderID, err)
	}
	if err := v.throttle(ctx); err != nil {
		return err
	}
	if _, err := v.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return fmt.Errorf("binance: cancel order %s/%s: %w", symbol, orderID, err)
	}
	return nil
}

// GetPosition returns the venue-side position for the symbol. Quantity is
// signed: negative for shorts, zero when flat.
func (v *Venue) GetPosition(ctx context.Context, symbol string) (domain.VenuePosition, error) {
	if err := v.throttle(ctx); err != nil {
		return domain.VenuePosition{}, err
	}
	risks, err := v.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.VenuePosition{}, fmt.Errorf("binance: position risk %s: %w", symbol, err)
	}
	pos := domain.VenuePosition{Symbol: symbol}
	for _, r := range risks {
		if r.Symbol == symbol {
			pos.Quantity = parseFloat(r.PositionAmt)
			break
		}
	}
	return pos, nil
}

// GetBalance returns the USDT futures wallet balance.
func (v *Venue) GetBalance(ctx context.Context) (domain.Balance, error) {
	if err := v.throttle(ctx); err != nil {
		return domain.Balance{}, err
	}
	balances, err := v.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("binance: get balance: %w", err)
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			return domain.Balance{
				Total:     parseFloat(b.Balance),
				Available: parseFloat(b.AvailableBalance),
			}, nil
		}
	}
	return domain.Balance{}, nil
}

// SetLeverage sets the leverage for the symbol.
func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := v.throttle(ctx); err != nil {
		return err
	}
	if _, err := v.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return fmt.Errorf("binance: change leverage %s: %w", symbol, err)
	}
	return nil
}

func orderSide(side domain.OrderSide) futures.SideType {
	if side == domain.OrderSideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// Compile-time interface check.
var _ domain.Venue = (*Venue)(nil)
