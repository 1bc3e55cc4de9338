package backtest

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lucidarc/copytrader/internal/metrics"
	"github.com/lucidarc/copytrader/pkg/utils"
)

// RoundTrip is one closed entry/exit pair contributing to a Result, shared
// by the backtest and paper engines so both build their report from the
// same shape.
type RoundTrip struct {
	PnL          decimal.Decimal
	HoldingHours float64
}

// Result is the backtest report, shaped after original_source/src/backtest.rs's
// BacktestResults Display impl: initial/final capital, return %, win rate,
// profit factor, Sharpe/Sortino, max drawdown %, avg holding hours, fees,
// and how many candidate trades were skipped by the strategy evaluator.
type Result struct {
	InitialCapital  decimal.Decimal
	FinalCapital    decimal.Decimal
	TotalReturnPct  float64
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	WinRate         float64
	ProfitFactor    float64
	Sharpe          float64
	Sortino         float64
	MaxDrawdownPct  float64
	AvgHoldingHours float64
	TotalFees       decimal.Decimal
	SkippedTrades   int
}

// BuildResult assembles a Result from a completed run's round trips and
// equity curve. Exported so internal/paper can produce the same "result
// record" spec §4.5 requires of both simulators without duplicating the
// ratio math.
func BuildResult(initial, final decimal.Decimal, roundTrips []RoundTrip, equityCurve []decimal.Decimal, fees decimal.Decimal, skipped int) Result {
	r := Result{InitialCapital: initial, FinalCapital: final, TotalFees: fees, SkippedTrades: skipped, TotalTrades: len(roundTrips)}

	if initial.IsPositive() {
		ret, _ := final.Sub(initial).Div(initial).Float64()
		r.TotalReturnPct = ret * 100
	}

	var grossProfit, grossLoss float64
	var totalHours float64
	for _, rt := range roundTrips {
		pnl, _ := rt.PnL.Float64()
		if pnl > 0 {
			r.WinningTrades++
			grossProfit += pnl
		} else if pnl < 0 {
			r.LosingTrades++
			grossLoss += -pnl
		}
		totalHours += rt.HoldingHours
	}
	if r.TotalTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades)
		r.AvgHoldingHours = totalHours / float64(r.TotalTrades)
	}
	if grossLoss > 0 {
		r.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		r.ProfitFactor = math.Inf(1)
	}

	returns := make([]float64, 0, len(equityCurve))
	for i := 1; i < len(equityCurve); i++ {
		prev, _ := equityCurve[i-1].Float64()
		curr, _ := equityCurve[i].Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (curr-prev)/prev)
	}
	// Per spec §4.5 ("as in §4.1 but computed over per-tick returns"), reuse
	// the C2 engine's population-std, √365-annualized ratios rather than the
	// sample-std/√252 equities convention.
	r.Sharpe = metrics.Sharpe(returns)
	r.Sortino = metrics.Sortino(returns)

	peak := initial
	for _, e := range equityCurve {
		if e.GreaterThan(peak) {
			peak = e
		}
		if peak.IsPositive() {
			dd, _ := peak.Sub(e).Div(peak).Float64()
			if dd > r.MaxDrawdownPct {
				r.MaxDrawdownPct = dd
			}
		}
	}
	r.MaxDrawdownPct *= 100

	return r
}

// String renders the human-readable report original_source prints after a
// backtest run.
func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Initial capital:   %s\n", utils.FormatMoney(r.InitialCapital))
	fmt.Fprintf(&b, "Final capital:     %s\n", utils.FormatMoney(r.FinalCapital))
	fmt.Fprintf(&b, "Total return:      %.2f%%\n", r.TotalReturnPct)
	fmt.Fprintf(&b, "Total trades:      %d (win %d / loss %d)\n", r.TotalTrades, r.WinningTrades, r.LosingTrades)
	fmt.Fprintf(&b, "Win rate:          %.2f%%\n", r.WinRate*100)
	fmt.Fprintf(&b, "Profit factor:     %.2f\n", r.ProfitFactor)
	fmt.Fprintf(&b, "Sharpe:            %.2f\n", r.Sharpe)
	fmt.Fprintf(&b, "Sortino:           %.2f\n", r.Sortino)
	fmt.Fprintf(&b, "Max drawdown:      %.2f%%\n", r.MaxDrawdownPct)
	fmt.Fprintf(&b, "Avg holding hours: %.1f\n", r.AvgHoldingHours)
	fmt.Fprintf(&b, "Total fees:        %s\n", utils.FormatMoney(r.TotalFees))
	fmt.Fprintf(&b, "Skipped trades:    %d\n", r.SkippedTrades)
	return b.String()
}
