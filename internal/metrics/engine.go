// Package metrics implements the trader-metrics engine (C2): it computes
// win rate, maximum drawdown, Sharpe/Sortino/Calmar ratios, profit factor,
// expectancy, composite score, and quality gating from a trader's trade
// history. It is a pure function of its inputs — it owns no state.
//
// Grounded on internal/backtester/metrics.go (teacher) for the statistics
// shape, with the formulas replaced by spec §4.1's exact definitions.
package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lucidarc/copytrader/pkg/types"
)

// RoundTrip is one closed entry/exit pair produced by PairRoundTrips.
type RoundTrip struct {
	MarketID string
	Outcome  string
	Side     types.Side // the side of the opening leg
	Size     decimal.Decimal
	EntryAt  time.Time
	ExitAt   time.Time
	PnL      decimal.Decimal
}

// HoldingHours is the wall-clock duration the round trip was open.
func (r RoundTrip) HoldingHours() float64 {
	return r.ExitAt.Sub(r.EntryAt).Hours()
}

type openLot struct {
	side  types.Side
	size  decimal.Decimal
	price decimal.Decimal
	at    time.Time
}

// PairRoundTrips resolves Open Question (b): the source's P&L series is
// never supplied (original_source zeroes it out), so realized P&L is
// derived locally by FIFO-matching opposite-side trades within the same
// (market_id, outcome). Each matched lot yields (exit − entry) × matched
// size for a Buy lot and the sign-flipped value for a Sell lot; lots are
// not averaged together. The trades are sorted by timestamp before
// matching; unpaired (still-open) tail trades contribute no P&L value.
func PairRoundTrips(trades []types.Trade) []RoundTrip {
	type key struct{ market, outcome string }
	lots := map[key][]openLot{}
	var out []RoundTrip

	sorted := make([]types.Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	for _, t := range sorted {
		k := key{t.MarketID, t.Outcome}
		queue := lots[k]
		remaining := t.Size

		for remaining.IsPositive() && len(queue) > 0 && queue[0].side != t.Side {
			lot := &queue[0]
			matched := decimal.Min(remaining, lot.size)

			var pnl decimal.Decimal
			if lot.side == types.Buy {
				pnl = t.Price.Sub(lot.price).Mul(matched)
			} else {
				pnl = lot.price.Sub(t.Price).Mul(matched)
			}
			out = append(out, RoundTrip{
				MarketID: t.MarketID,
				Outcome:  t.Outcome,
				Side:     lot.side,
				Size:     matched,
				EntryAt:  lot.at,
				ExitAt:   t.Timestamp,
				PnL:      pnl,
			})

			lot.size = lot.size.Sub(matched)
			remaining = remaining.Sub(matched)
			if lot.size.IsZero() {
				queue = queue[1:]
			}
		}

		if remaining.IsPositive() {
			queue = append(queue, openLot{side: t.Side, size: remaining, price: t.Price, at: t.Timestamp})
		}
		lots[k] = queue
	}

	return out
}

// Compute derives a full TraderMetrics snapshot from a trader's raw trade
// history at instant now. It pairs round trips internally (Open Question b)
// so callers only ever supply raw trades.
func Compute(address string, trades []types.Trade, now time.Time) types.TraderMetrics {
	roundTrips := PairRoundTrips(trades)

	m := types.TraderMetrics{
		Address:      address,
		TotalTrades:  len(trades),
		CalculatedAt: now,
	}
	for _, t := range trades {
		m.TotalVolume = m.TotalVolume.Add(t.Notional)
	}
	if len(roundTrips) == 0 {
		return m
	}

	pnls := make([]decimal.Decimal, len(roundTrips))
	for i, rt := range roundTrips {
		pnls[i] = rt.PnL
	}

	winCount, lossCount := 0, 0
	grossProfit, grossLoss := decimal.Zero, decimal.Zero
	for _, p := range pnls {
		m.TotalPnL = m.TotalPnL.Add(p)
		switch {
		case p.IsPositive():
			winCount++
			grossProfit = grossProfit.Add(p)
		case p.IsNegative():
			lossCount++
			grossLoss = grossLoss.Add(p.Abs())
		}
	}
	m.WinningTrades = winCount
	m.LosingTrades = lossCount
	if n := winCount + lossCount; n > 0 {
		m.WinRate = decimal.NewFromInt(int64(winCount)).Div(decimal.NewFromInt(int64(n)))
	}
	if winCount > 0 {
		m.AvgWin = grossProfit.Div(decimal.NewFromInt(int64(winCount)))
	}
	if lossCount > 0 {
		m.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(lossCount)))
	}
	if grossLoss.IsZero() {
		if grossProfit.IsPositive() {
			m.ProfitFactor = decimal.NewFromInt(1 << 30) // spec: "∞ when denominator=0 and numerator>0"
		}
	} else {
		m.ProfitFactor = grossProfit.Div(grossLoss)
	}
	m.Expectancy = m.TotalPnL.Div(decimal.NewFromInt(int64(len(pnls))))

	maxDD, maxDDAbs, peak := computeDrawdown(pnls)
	m.MaxDrawdown = maxDD
	m.MaxDrawdownAbs = maxDDAbs
	m.PeakEquity = peak

	floats := make([]float64, len(pnls))
	for i, p := range pnls {
		floats[i], _ = p.Float64()
	}
	m.Sharpe = sharpe(floats)
	m.Sortino = sortino(floats)
	if maxDD == 0 {
		m.Calmar = 0
	} else {
		totalPnL, _ := m.TotalPnL.Float64()
		m.Calmar = totalPnL / (maxDD * 100)
	}

	var totalHours float64
	for _, rt := range roundTrips {
		totalHours += rt.HoldingHours()
	}
	m.AvgHoldingHours = totalHours / float64(len(roundTrips))

	span := roundTrips[len(roundTrips)-1].ExitAt.Sub(roundTrips[0].EntryAt).Hours() / 24
	if span > 0 {
		m.TradesPerDay = float64(len(trades)) / span
	}

	m.PnL7d, m.WinRate7d = windowed(roundTrips, now, 7*24*time.Hour)
	m.PnL30d, m.WinRate30d = windowed(roundTrips, now, 30*24*time.Hour)

	m.CompositeScore = compositeScore(m)

	return m
}

func computeDrawdown(pnls []decimal.Decimal) (maxDD float64, maxDDAbs decimal.Decimal, peak decimal.Decimal) {
	equity := decimal.Zero
	runningPeak := decimal.Zero
	for _, p := range pnls {
		equity = equity.Add(p)
		if equity.GreaterThan(runningPeak) {
			runningPeak = equity
		}
		if runningPeak.GreaterThan(decimal.Zero) {
			dd := runningPeak.Sub(equity).Div(runningPeak)
			ddF, _ := dd.Float64()
			if ddF > maxDD {
				maxDD = ddF
			}
		}
		abs := runningPeak.Sub(equity)
		if abs.GreaterThan(maxDDAbs) {
			maxDDAbs = abs
		}
	}
	return maxDD, maxDDAbs, runningPeak
}

// Sharpe is the spec §4.1 ratio exported for reuse by the paper and
// backtest engines (spec §4.5: "aggregate ratios ... as in §4.1 but
// computed over per-tick returns"), so every simulator annualizes with the
// same population-std, √365 convention as this live metrics engine.
func Sharpe(r []float64) float64 { return sharpe(r) }

// Sortino is Sharpe's downside-only counterpart, exported for the same
// reason.
func Sortino(r []float64) float64 { return sortino(r) }

// sharpe is (mean(r)/std(r))*sqrt(365), using the population standard
// deviation (matches original_source's single-pass statistics, not the
// sample/Bessel-corrected variant). Undefined (0) when fewer than two
// samples or a zero standard deviation.
func sharpe(r []float64) float64 {
	if len(r) < 2 {
		return 0
	}
	mean, std := meanStd(r)
	if std == 0 {
		return 0
	}
	return (mean / std) * math.Sqrt(365)
}

// sortino mirrors sharpe but divides by the population standard deviation
// of the negative-return subset only.
func sortino(r []float64) float64 {
	if len(r) < 2 {
		return 0
	}
	mean, _ := meanStd(r)
	var negatives []float64
	for _, v := range r {
		if v < 0 {
			negatives = append(negatives, v)
		}
	}
	if len(negatives) == 0 {
		return 0
	}
	_, downsideStd := meanStd(negatives)
	if downsideStd == 0 {
		return 0
	}
	return (mean / downsideStd) * math.Sqrt(365)
}

func meanStd(xs []float64) (mean, std float64) {
	n := float64(len(xs))
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / n
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	std = math.Sqrt(sq / n)
	return mean, std
}

func windowed(roundTrips []RoundTrip, now time.Time, window time.Duration) (pnl decimal.Decimal, winRate decimal.Decimal) {
	cutoff := now.Add(-window)
	wins, total := 0, 0
	for _, rt := range roundTrips {
		if rt.ExitAt.Before(cutoff) {
			continue
		}
		pnl = pnl.Add(rt.PnL)
		total++
		if rt.PnL.IsPositive() {
			wins++
		}
	}
	if total > 0 {
		winRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(total)))
	}
	return pnl, winRate
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// compositeScore implements spec §4.1's S formula; forced to 0 below 10
// total trades.
func compositeScore(m types.TraderMetrics) float64 {
	if m.TotalTrades < 10 {
		return 0
	}
	winRate, _ := m.WinRate.Float64()
	totalPnL, _ := m.TotalPnL.Float64()
	pnl7d, _ := m.PnL7d.Float64()

	s := 25 * math.Min(winRate/0.6, 1)
	s += 25 * clip(m.Sharpe/2, 0, 1)
	s += 25 * clip(1-m.MaxDrawdown/0.5, 0, 1)
	s += 15 * clip(totalPnL/5000, 0, 1)
	s += 10 * math.Max(0, math.Min(pnl7d/500, 1))
	return s
}
