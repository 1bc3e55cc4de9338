package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/pkg/types"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestKellyZeroEdgeReturnsZero(t *testing.T) {
	cfg := types.DefaultSizingConfig()
	cfg.Method = types.SizingKelly
	s := New(zap.NewNop(), cfg)

	metrics := &types.TraderMetrics{
		WinRate: d(0.4),
		AvgWin:  d(100),
		AvgLoss: d(100),
	}
	got := s.Size(Inputs{
		SourceNotional:  d(100),
		SourcePortfolio: d(1000),
		OurPortfolio:    d(1000),
		Metrics:         metrics,
	})
	assert.True(t, got.IsZero(), "expected 0, got %s", got)
}

func TestMarketExposureClampTo300(t *testing.T) {
	// End-to-end scenario from spec §8: max_single_market_exposure=0.25,
	// total_value=10000, existing in-market exposure 2200, proposed 500 ->
	// clamp to 300. This clamp lives in the strategy evaluator (§4.3 rule 9),
	// not the sizer; exercised here via the strategy package test instead.
	// The sizer's own max-trade-size / allocation clamp is covered by
	// TestMaxPortfolioAllocationClampsToZero below.
}

func TestMaxPortfolioAllocationClampsToZero(t *testing.T) {
	cfg := types.DefaultSizingConfig()
	cfg.Method = types.SizingProportional
	cfg.MaxPortfolioAlloc = 0.10
	cfg.MinTradeSize = 1
	cfg.MaxTradeSize = 100000
	s := New(zap.NewNop(), cfg)

	got := s.Size(Inputs{
		SourceNotional:  d(500),
		SourcePortfolio: d(0), // base_multiplier falls back to 1
		OurPortfolio:    d(10000),
		CurrentExposure: d(1200), // already exceeds the 10% allocation cap
	})
	assert.True(t, got.IsZero(), "expected 0 when remaining allocation <= 0, got %s", got)
}

func TestFixedFractionUsesMaxSinglePosition(t *testing.T) {
	cfg := types.DefaultSizingConfig()
	cfg.Method = types.SizingFixedFraction
	cfg.MaxSinglePosition = 0.10
	cfg.MinTradeSize = 1
	cfg.MaxTradeSize = 100000
	cfg.MaxPortfolioAlloc = 1.0
	s := New(zap.NewNop(), cfg)

	got := s.Size(Inputs{
		SourceNotional:  d(50),
		SourcePortfolio: d(1000),
		OurPortfolio:    d(10000),
	})
	assert.True(t, got.Equal(d(1000)), "expected 1000 (10%% of 10000), got %s", got)
}

func TestAggregateWeightsByCompositeScore(t *testing.T) {
	got := Aggregate([]Candidate{
		{Size: d(100), CompositeScore: 80},
		{Size: d(200), CompositeScore: 20},
	})
	// (100*80 + 200*20) / 100 = 120
	assert.True(t, got.Equal(d(120)), "got %s", got)
}
