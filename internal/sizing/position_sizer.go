// Package sizing implements the position sizer (C3): it maps a source
// trader's trade notional onto a local order size under one of four
// selectable policies, with layered caps.
//
// Grounded on internal/sizing/position_sizer.go (teacher: logger+config
// struct shape, quarter-Kelly default) rewritten around spec §4.2's four
// sizing methods instead of the teacher's perp-regime-adjusted Kelly.
package sizing

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/pkg/types"
	"github.com/lucidarc/copytrader/pkg/utils"
)

// Sizer computes copy-order sizes from source-trade notional and trader
// metrics. It is stateless (spec §3: "sizer ... are stateless pure
// functions over immutable inputs") aside from holding its config/logger.
type Sizer struct {
	logger *zap.Logger
	config types.SizingConfig
}

// New builds a Sizer.
func New(logger *zap.Logger, config types.SizingConfig) *Sizer {
	return &Sizer{logger: logger.Named("sizer"), config: config}
}

// Inputs bundles the per-call parameters of spec §4.2's size() entry point.
type Inputs struct {
	SourceNotional  decimal.Decimal
	SourcePortfolio decimal.Decimal
	OurPortfolio    decimal.Decimal
	Metrics         *types.TraderMetrics // nil when no metrics are available yet
	CurrentExposure decimal.Decimal      // existing exposure in this market
}

// Size implements spec §4.2 in full: base multiplier, method dispatch, and
// the three-step constraint pipeline.
func (s *Sizer) Size(in Inputs) decimal.Decimal {
	baseMultiplier := decimal.NewFromInt(1)
	if in.SourcePortfolio.IsPositive() {
		baseMultiplier = in.OurPortfolio.Div(in.SourcePortfolio)
	}
	raw := in.SourceNotional.Mul(baseMultiplier)

	candidate := s.dispatch(raw, in)
	if candidate.IsZero() || candidate.IsNegative() {
		return decimal.Zero
	}

	return s.applyConstraints(candidate, in)
}

func (s *Sizer) dispatch(raw decimal.Decimal, in Inputs) decimal.Decimal {
	switch s.config.Method {
	case types.SizingKelly:
		return s.kelly(raw, in)
	case types.SizingFixedFraction:
		return in.OurPortfolio.Mul(decimal.NewFromFloat(s.config.MaxSinglePosition))
	case types.SizingRiskParity:
		return s.riskParity(raw, in)
	case types.SizingProportional:
		return raw
	default:
		s.logger.Warn("unknown sizing method, falling back to proportional", zap.String("method", string(s.config.Method)))
		return raw
	}
}

func (s *Sizer) kelly(raw decimal.Decimal, in Inputs) decimal.Decimal {
	if in.Metrics == nil {
		return decimal.Zero
	}
	p, _ := in.Metrics.WinRate.Float64()
	avgWin, _ := in.Metrics.AvgWin.Float64()
	avgLoss, _ := in.Metrics.AvgLoss.Float64()

	if p < 0.5 || avgLoss == 0 {
		return decimal.Zero
	}
	b := avgWin / avgLoss
	q := 1 - p
	k := (p*b - q) / b
	if k <= 0 {
		return decimal.Zero
	}

	drawdownCap := in.Metrics.MaxDrawdown
	if drawdownCap > 0.9 {
		drawdownCap = 0.9
	}
	adj := k * s.config.KellyFraction * (1 - drawdownCap)
	candidate := in.OurPortfolio.Mul(decimal.NewFromFloat(adj))
	return utils.MinDecimal(candidate, raw)
}

func (s *Sizer) riskParity(raw decimal.Decimal, in Inputs) decimal.Decimal {
	vol := 0.1
	if in.Metrics != nil && in.Metrics.MaxDrawdown > vol {
		vol = in.Metrics.MaxDrawdown
	}
	mult := 0.1 / vol
	if mult > 2.0 {
		mult = 2.0
	}
	candidate := in.OurPortfolio.Mul(decimal.NewFromFloat(s.config.MaxSinglePosition)).Mul(decimal.NewFromFloat(mult))
	return utils.MinDecimal(candidate, raw)
}

// applyConstraints runs the three ordered clamps of spec §4.2 step 3.
func (s *Sizer) applyConstraints(size decimal.Decimal, in Inputs) decimal.Decimal {
	minTrade := decimal.NewFromFloat(s.config.MinTradeSize)
	maxTrade := decimal.NewFromFloat(s.config.MaxTradeSize)
	size = utils.ClampDecimal(size, minTrade, maxTrade)

	singlePositionCap := in.OurPortfolio.Mul(decimal.NewFromFloat(s.config.MaxSinglePosition))
	size = utils.MinDecimal(size, singlePositionCap)

	allocationCap := in.OurPortfolio.Mul(decimal.NewFromFloat(s.config.MaxPortfolioAlloc))
	remaining := allocationCap.Sub(in.CurrentExposure)
	if remaining.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	size = utils.MinDecimal(size, remaining)

	if size.LessThan(minTrade) {
		return decimal.Zero
	}
	return size
}

// Aggregate implements the score-weighted mean across multiple source
// traders sizing the same market (spec §4.2's final paragraph).
type Candidate struct {
	Size           decimal.Decimal
	CompositeScore float64
}

// Aggregate returns the composite-score-weighted mean of candidate sizes.
// Candidates with a non-positive score are excluded from the weighting.
func Aggregate(candidates []Candidate) decimal.Decimal {
	totalWeight := 0.0
	weightedSum := decimal.Zero
	for _, c := range candidates {
		if c.CompositeScore <= 0 {
			continue
		}
		weightedSum = weightedSum.Add(c.Size.Mul(decimal.NewFromFloat(c.CompositeScore)))
		totalWeight += c.CompositeScore
	}
	if totalWeight == 0 {
		return decimal.Zero
	}
	return weightedSum.Div(decimal.NewFromFloat(totalWeight))
}
