package domain

import "context"

// BookTop is the best bid and ask of a symbol's order book.
type BookTop struct {
	Bid float64
	Ask float64
}

// Fill is a single fill event reported for an order.
type Fill struct {
	Price    float64
	Quantity float64
}

// OrderAck is the venue's response to an order submission. Price fields may
// be zero when the venue does not report them immediately; callers must apply
// their own fallbacks.
type OrderAck struct {
	OrderID      string
	AvgFillPrice float64
	Price        float64
	Fills        []Fill
}

// VenuePosition is the venue-side view of a position. Quantity is signed:
// positive for long, negative for short, zero when flat.
type VenuePosition struct {
	Symbol   string
	Quantity float64
}

// Balance is the account balance reported by the venue.
type Balance struct {
	Total     float64
	Available float64
}

// Venue abstracts the exchange (or its paper-trading simulation). Every
// method is a network suspension point and must honour ctx cancellation.
type Venue interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetBookTop(ctx context.Context, symbol string) (BookTop, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, quantity float64, reduceOnly bool) (OrderAck, error)
	PlaceStopOrder(ctx context.Context, symbol string, side OrderSide, quantity, triggerPrice float64, reduceOnly bool) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetPosition(ctx context.Context, symbol string) (VenuePosition, error)
	GetBalance(ctx context.Context) (Balance, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
