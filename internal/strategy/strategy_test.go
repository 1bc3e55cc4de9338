package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/pkg/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func baseEntryInput(now time.Time) EntryInput {
	return EntryInput{
		Now:          now,
		SourceTrade:  types.Trade{Price: d(0.50), Timestamp: now},
		CurrentPrice: d(0.50),
		Metrics:      types.TraderMetrics{CompositeScore: 80, TotalPnL: d(500)},
		Portfolio: types.PortfolioState{
			TotalValue:    d(10000),
			CashAvailable: d(10000),
		},
		ProposedSize: d(100),
	}
}

func TestValidateEntryTradeTooOld(t *testing.T) {
	e := New(zap.NewNop(), types.DefaultStrategyConfig())
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	in := baseEntryInput(t0)
	in.SourceTrade.Timestamp = t0
	in.Now = t0.Add(310 * time.Second)

	got := e.ValidateEntry(in)
	assert.False(t, got.Allowed)
	assert.Equal(t, "trade too old", got.Reason)
}

func TestValidateEntryMarketExposureClampTo300(t *testing.T) {
	cfg := types.DefaultStrategyConfig()
	cfg.MaxSingleMarketExposure = 0.25
	e := New(zap.NewNop(), cfg)
	now := time.Now().UTC()

	in := baseEntryInput(now)
	in.Portfolio.TotalValue = d(10000)
	in.ExistingMarketExposure = d(2200)
	in.ProposedSize = d(500)

	got := e.ValidateEntry(in)
	assert.True(t, got.Allowed)
	assert.True(t, got.Size.Equal(d(300)), "expected clamp to 300, got %s", got.Size)
}

func TestValidateEntryDeniesWhenClampedBelowOne(t *testing.T) {
	cfg := types.DefaultStrategyConfig()
	cfg.MaxSingleMarketExposure = 0.25
	e := New(zap.NewNop(), cfg)
	now := time.Now().UTC()

	in := baseEntryInput(now)
	in.Portfolio.TotalValue = d(10000)
	in.ExistingMarketExposure = d(2499.5)
	in.ProposedSize = d(500)

	got := e.ValidateEntry(in)
	assert.False(t, got.Allowed)
	assert.Equal(t, "market exposure cap", got.Reason)
}

func TestCheckExitTakeProfit(t *testing.T) {
	e := New(zap.NewNop(), types.DefaultStrategyConfig())
	now := time.Now().UTC()

	pos := types.Position{
		Side:         types.Buy,
		Size:         d(100),
		AverageEntry: d(0.50),
		CurrentPrice: d(0.65),
		OpenedAt:     now.Add(-time.Hour),
	}
	got := e.CheckExit(ExitInput{Now: now, Position: pos, TraderStillHolding: true})
	assert.True(t, got.ShouldExit)
	assert.Equal(t, types.ExitTakeProfit, got.Reason)
	assert.Equal(t, types.UrgencyNormal, got.Urgency)
}

func TestCheckExitStopLossIsImmediate(t *testing.T) {
	e := New(zap.NewNop(), types.DefaultStrategyConfig())
	now := time.Now().UTC()

	pos := types.Position{
		Side:         types.Buy,
		Size:         d(100),
		AverageEntry: d(0.50),
		CurrentPrice: d(0.40),
		OpenedAt:     now.Add(-time.Hour),
	}
	got := e.CheckExit(ExitInput{Now: now, Position: pos, TraderStillHolding: true})
	assert.True(t, got.ShouldExit)
	assert.Equal(t, types.ExitStopLoss, got.Reason)
	assert.Equal(t, types.UrgencyImmediate, got.Urgency)
}

func TestCheckExitPriorityTakeProfitBeatsLaterRules(t *testing.T) {
	// Stable-priority test: the position also meets MaxHoldingPeriod
	// (400h >= 336h) and TraderExited (trader no longer holding), so if the
	// checks ran in reverse order one of those would win; TakeProfit (rule 1)
	// must still be evaluated first and shadow everything below it.
	e := New(zap.NewNop(), types.DefaultStrategyConfig())
	now := time.Now().UTC()

	pos := types.Position{
		Side:         types.Buy,
		Size:         d(100),
		AverageEntry: d(0.50),
		CurrentPrice: d(0.70), // +40%, comfortably above take_profit_pct=0.25
		OpenedAt:     now.Add(-400 * time.Hour),
	}
	got := e.CheckExit(ExitInput{Now: now, Position: pos, TraderStillHolding: false})
	assert.Equal(t, types.ExitTakeProfit, got.Reason)
}

func TestShouldHaltTrading(t *testing.T) {
	cfg := types.DefaultStrategyConfig()
	cfg.MaxPortfolioDrawdown = 0.30
	e := New(zap.NewNop(), cfg)

	p := types.PortfolioState{TotalValue: d(7000), PeakEquity: d(10000)}
	assert.True(t, e.ShouldHaltTrading(p))
}
