package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// SignalChannel is the Redis Pub/Sub channel the signal generator publishes
// candidate batches to.
const SignalChannel = "signals"

// SignalFeeder subscribes to the signal channel and delivers decoded batches
// to the engine. A payload may be a single signal object or an array; either
// way the engine receives one batch per message so same-batch candidates
// compete for capacity together.
type SignalFeeder struct {
	bus    domain.SignalBus
	out    chan<- []domain.Signal
	logger *slog.Logger
}

// NewSignalFeeder creates a SignalFeeder writing batches to out.
func NewSignalFeeder(bus domain.SignalBus, out chan<- []domain.Signal, logger *slog.Logger) *SignalFeeder {
	return &SignalFeeder{
		bus:    bus,
		out:    out,
		logger: logger.With(slog.String("component", "signal_feeder")),
	}
}

// Run subscribes and pumps batches until ctx is cancelled.
func (f *SignalFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, SignalChannel)
	if err != nil {
		return err
	}
	f.logger.Info("signal feeder started", slog.String("channel", SignalChannel))
	defer f.logger.Info("signal feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			batch := decodeBatch(data)
			if len(batch) == 0 {
				f.logger.Debug("discarding undecodable signal payload",
					slog.Int("payload_len", len(data)),
				)
				continue
			}
			select {
			case f.out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// decodeBatch accepts either a JSON array of signals or a single object.
func decodeBatch(data []byte) []domain.Signal {
	var batch []domain.Signal
	if err := json.Unmarshal(data, &batch); err == nil {
		return batch
	}
	var single domain.Signal
	if err := json.Unmarshal(data, &single); err == nil && single.Symbol != "" {
		return []domain.Signal{single}
	}
	return nil
}
