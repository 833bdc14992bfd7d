package engine

import (
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// scoredSignal pairs a signal with its precomputed sort keys.
type scoredSignal struct {
	sig    domain.Signal
	bucket float64 // expected profit rounded to cents
	jitter float64
}

// Rank orders candidate signals so capital is always offered first to the
// most profitable one. The sort key, descending, is: expected USD profit
// (rounded to cents), confidence, risk/reward, lower volatility, then a
// deterministic per-minute jitter that breaks exact ties without systematic
// symbol bias. Malformed signals degrade to a zero expected profit and sort
// last among equals; the batch never aborts.
func Rank(signals []domain.Signal, stake, leverage float64, now time.Time) []domain.Signal {
	if len(signals) == 0 {
		return nil
	}

	minute := now.Unix() / 60
	scored := lo.Map(signals, func(sig domain.Signal, _ int) scoredSignal {
		profit := ExpectedProfitUSD(sig, stake, leverage)
		return scoredSignal{
			sig:    sig,
			bucket: math.Round(profit*100) / 100,
			jitter: tieJitter(sig.Symbol, minute),
		}
	})

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.bucket != b.bucket {
			return a.bucket > b.bucket
		}
		if a.sig.Confidence != b.sig.Confidence {
			return a.sig.Confidence > b.sig.Confidence
		}
		if a.sig.RiskReward != b.sig.RiskReward {
			return a.sig.RiskReward > b.sig.RiskReward
		}
		if a.sig.Volatility != b.sig.Volatility {
			return a.sig.Volatility < b.sig.Volatility
		}
		return a.jitter > b.jitter
	})

	return lo.Map(scored, func(s scoredSignal, _ int) domain.Signal { return s.sig })
}

// ExpectedProfitUSD estimates the dollar profit of a signal reaching its take
// profit. An explicit positive expected_profit wins; otherwise the favorable
// move from entry to take-profit is scaled by the deployed notional. Missing
// or non-finite numbers degrade to zero rather than failing the batch.
func ExpectedProfitUSD(sig domain.Signal, stake, leverage float64) float64 {
	if sig.ExpectedProfit > 0 && isFinite(sig.ExpectedProfit) {
		return sig.ExpectedProfit
	}
	if sig.EntryPrice <= 0 || sig.TakeProfit <= 0 || !isFinite(sig.EntryPrice) || !isFinite(sig.TakeProfit) {
		return 0
	}

	var move float64
	switch sig.Direction {
	case domain.SideShort:
		move = (sig.EntryPrice - sig.TakeProfit) / sig.EntryPrice
	default:
		move = (sig.TakeProfit - sig.EntryPrice) / sig.EntryPrice
	}
	if move < 0 || !isFinite(move) {
		return 0
	}
	return move * stake * leverage
}

// tieJitter derives a reproducible value in [0,1) from the symbol and the
// current minute. It is compared last, so it can never outweigh a real
// difference in the preceding keys.
func tieJitter(symbol string, minute int64) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	_, _ = h.Write([]byte(strconv.FormatInt(minute, 10)))
	return float64(h.Sum64()%1_000_000) / 1_000_000
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
