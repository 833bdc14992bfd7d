// Package feed contains the long-running intake loops: the mark-price
// WebSocket stream and the Redis signal subscription.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

const (
	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// writeWait is the time allowed to write a control message.
	writeWait = 10 * time.Second

	// reconnectDelay is the pause before redialing after a disconnect.
	reconnectDelay = 2 * time.Second
)

// DefaultStreamURL is the Binance USDT-M futures combined stream endpoint.
const DefaultStreamURL = "wss://fstream.binance.com/stream"

// markPriceEvent is the payload of a markPrice stream message.
type markPriceEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
	EventTime int64  `json:"E"`
}

// combinedMessage wraps events on the combined stream endpoint.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// MarkPriceFeed subscribes to the per-second mark-price stream for the
// configured symbols and writes every update into the price cache. It
// reconnects with a fixed delay on disconnect and runs until ctx is
// cancelled.
type MarkPriceFeed struct {
	baseURL string
	symbols []string
	prices  domain.PriceCache
	logger  *slog.Logger
}

// NewMarkPriceFeed creates a feed for the given symbols. baseURL may be empty
// to use the production endpoint.
func NewMarkPriceFeed(baseURL string, symbols []string, prices domain.PriceCache, logger *slog.Logger) *MarkPriceFeed {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	return &MarkPriceFeed{
		baseURL: baseURL,
		symbols: symbols,
		prices:  prices,
		logger:  logger.With(slog.String("component", "markprice_feed")),
	}
}

// streamURL builds the combined-stream URL for the configured symbols.
func (f *MarkPriceFeed) streamURL() string {
	streams := make([]string, 0, len(f.symbols))
	for _, sym := range f.symbols {
		streams = append(streams, strings.ToLower(sym)+"@markPrice@1s")
	}
	return f.baseURL + "?streams=" + strings.Join(streams, "/")
}

// Run connects and pumps mark prices into the cache until ctx is cancelled.
func (f *MarkPriceFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols configured, mark price feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("mark price stream disconnected, reconnecting",
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *MarkPriceFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("feed: dial mark price stream: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Close the connection when ctx ends so the read loop unblocks, and keep
	// the peer alive with periodic pings.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	f.logger.Info("mark price stream connected", slog.Int("symbols", len(f.symbols)))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read mark price stream: %w", err)
		}
		f.handleMessage(ctx, data)
	}
}

func (f *MarkPriceFeed) handleMessage(ctx context.Context, data []byte) {
	var msg combinedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("malformed stream message", slog.String("error", err.Error()))
		return
	}

	payload := msg.Data
	if len(payload) == 0 {
		// Raw (non-combined) endpoints deliver the event at the top level.
		payload = data
	}

	var ev markPriceEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Symbol == "" {
		return
	}
	price, err := strconv.ParseFloat(ev.MarkPrice, 64)
	if err != nil || price <= 0 {
		return
	}

	ts := time.Now()
	if ev.EventTime > 0 {
		ts = time.UnixMilli(ev.EventTime)
	}
	if err := f.prices.SetPrice(ctx, ev.Symbol, price, ts); err != nil {
		f.logger.Warn("cache mark price failed",
			slog.String("symbol", ev.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
