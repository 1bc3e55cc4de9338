package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/lucidarc/copytrader/pkg/types"
)

// Builds a synthetic single-market trade history whose FIFO pairing
// produces exactly the requested pnl sequence, so the higher-level
// statistics (win rate, drawdown, composite score) can be exercised
// through the public Compute entrypoint as well as the pure helpers.
func tradesForPnls(pnls []float64) []types.Trade {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var trades []types.Trade
	entry := decimal.NewFromInt(50)
	for i, p := range pnls {
		size := decimal.NewFromInt(1)
		exit := entry.Add(decimal.NewFromFloat(p))
		t0 := base.Add(time.Duration(i) * 2 * time.Hour)
		t1 := t0.Add(time.Hour)
		trades = append(trades,
			types.Trade{MarketID: "m", Outcome: "YES", Side: types.Buy, Size: size, Price: entry, Notional: size.Mul(entry), Timestamp: t0},
			types.Trade{MarketID: "m", Outcome: "YES", Side: types.Sell, Size: size, Price: exit, Notional: size.Mul(exit), Timestamp: t1},
		)
	}
	return trades
}

func TestMetricsWinLossPartition(t *testing.T) {
	pnls := []float64{100, -50, 200, -30, 150}
	trades := tradesForPnls(pnls)
	now := trades[len(trades)-1].Timestamp.Add(time.Hour)

	m := Compute("0xabc", trades, now)

	assert.Equal(t, 3, m.WinningTrades)
	assert.Equal(t, 2, m.LosingTrades)
	assert.True(t, m.TotalPnL.Equal(decimal.NewFromInt(370)), "total_pnl got %s", m.TotalPnL)
	winRate, _ := m.WinRate.Float64()
	assert.InDelta(t, 0.6, winRate, 1e-9)
}

func TestMetricsMaxDrawdown(t *testing.T) {
	pnls := []float64{100, 50, -80, -20, 100, 50}
	trades := tradesForPnls(pnls)
	now := trades[len(trades)-1].Timestamp.Add(time.Hour)

	m := Compute("0xabc", trades, now)

	assert.InDelta(t, 100.0/150.0, m.MaxDrawdown, 1e-9)
	assert.True(t, m.MaxDrawdownAbs.Equal(decimal.NewFromInt(100)), "max_drawdown_abs got %s", m.MaxDrawdownAbs)
}

func TestSharpeConstantReturnsIsZero(t *testing.T) {
	// A constant-return series has zero standard deviation, so Sharpe is
	// undefined and must return 0 (spec §8).
	r := []float64{10, 10, 10, 10, 10}
	assert.Equal(t, 0.0, sharpe(r))
}

func TestSharpeSingleSampleIsZero(t *testing.T) {
	assert.Equal(t, 0.0, sharpe([]float64{42}))
}

func TestCompositeScoreZeroBelowTenTrades(t *testing.T) {
	// 4 round trips = 8 raw trades, under the total_trades=10 gate.
	pnls := make([]float64, 4)
	for i := range pnls {
		pnls[i] = 10
	}
	trades := tradesForPnls(pnls)
	now := trades[len(trades)-1].Timestamp.Add(time.Hour)

	m := Compute("0xabc", trades, now)
	assert.Equal(t, 0.0, m.CompositeScore)
}

func TestPairRoundTripsFIFOMatchesOppositeSide(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []types.Trade{
		{MarketID: "m", Outcome: "YES", Side: types.Buy, Size: decimal.NewFromInt(10), Price: decimal.NewFromFloat(0.50), Notional: decimal.NewFromFloat(5), Timestamp: base},
		{MarketID: "m", Outcome: "YES", Side: types.Sell, Size: decimal.NewFromInt(10), Price: decimal.NewFromFloat(0.65), Notional: decimal.NewFromFloat(6.5), Timestamp: base.Add(time.Hour)},
	}
	rts := PairRoundTrips(trades)
	assert.Len(t, rts, 1)
	assert.True(t, rts[0].PnL.Equal(decimal.NewFromFloat(1.5)), "got %s", rts[0].PnL)
}

func TestPairRoundTripsLeavesUnmatchedTailOpen(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []types.Trade{
		{MarketID: "m", Outcome: "YES", Side: types.Buy, Size: decimal.NewFromInt(10), Price: decimal.NewFromFloat(0.50), Timestamp: base},
	}
	rts := PairRoundTrips(trades)
	assert.Empty(t, rts)
}
