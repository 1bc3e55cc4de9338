// Package strategy implements the strategy evaluator (C4): pure predicates
// over portfolio, position, trade, and trader-metrics state that decide
// whether to mirror an entry and when to exit an open position.
//
// Grounded on internal/strategy/strategy.go (teacher: an Evaluator-shaped
// package with a logger and config, originally dispatching 8 alpha
// strategies) rewritten around spec §4.3's ordered deny-reason and
// exit-priority tables — this evaluator has no alpha generation of its
// own, only entry/exit gating, per spec §1's Non-goal.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/pkg/types"
)

// Evaluator is a stateless (spec §3) pure decision engine configured with
// the operator's risk thresholds.
type Evaluator struct {
	logger *zap.Logger
	config types.StrategyConfig
}

// New builds an Evaluator.
func New(logger *zap.Logger, config types.StrategyConfig) *Evaluator {
	return &Evaluator{logger: logger.Named("strategy"), config: config}
}

// EntryInput bundles everything validate_entry needs.
type EntryInput struct {
	Now                   time.Time
	SourceTrade           types.Trade
	CurrentPrice          decimal.Decimal
	Metrics               types.TraderMetrics
	Portfolio             types.PortfolioState
	ProposedSize          decimal.Decimal // notional, pre-clamp
	ExistingMarketExposure decimal.Decimal
}

// ValidateEntry implements spec §4.3's 11 ordered deny reasons; the first
// rule that fires wins. A clamp (rules 8 and 9) reduces the size instead of
// denying, except when the clamped remainder is negligible.
func (e *Evaluator) ValidateEntry(in EntryInput) types.EntryDecision {
	cfg := e.config
	deny := func(reason string) types.EntryDecision {
		return types.EntryDecision{Allowed: false, Reason: reason}
	}

	if in.Now.Sub(in.SourceTrade.Timestamp) > time.Duration(cfg.MaxTradeAgeSecs)*time.Second {
		return deny("trade too old")
	}

	price, _ := in.CurrentPrice.Float64()
	if price < cfg.MinEntryPrice || price > cfg.MaxEntryPrice {
		return deny("price out of band")
	}

	if in.SourceTrade.Price.IsPositive() {
		slippage := in.CurrentPrice.Sub(in.SourceTrade.Price).Abs().Div(in.SourceTrade.Price)
		slipF, _ := slippage.Float64()
		if slipF > cfg.MaxEntrySlippage {
			return deny("slippage")
		}
	}

	if in.Metrics.CompositeScore < cfg.MinTraderScore {
		return deny("trader score")
	}

	if cfg.RequireProfitableTrader && in.Metrics.TotalPnL.LessThanOrEqual(decimal.Zero) {
		return deny("trader unprofitable")
	}

	currentDD, _ := in.Portfolio.CurrentDrawdown().Float64()
	if currentDD >= cfg.MaxPortfolioDrawdown {
		return deny("portfolio drawdown")
	}

	if in.Portfolio.PositionCount >= cfg.MaxConcurrentPositions {
		return deny("too many positions")
	}

	if in.Portfolio.CashAvailable.LessThan(decimal.NewFromInt(1)) {
		return deny("cash exhausted")
	}
	proposed := in.ProposedSize
	if proposed.GreaterThan(in.Portfolio.CashAvailable) {
		proposed = in.Portfolio.CashAvailable
	}

	maxMarketExposure := in.Portfolio.TotalValue.Mul(decimal.NewFromFloat(cfg.MaxSingleMarketExposure))
	if in.ExistingMarketExposure.Add(proposed).GreaterThan(maxMarketExposure) {
		clamped := maxMarketExposure.Sub(in.ExistingMarketExposure)
		if clamped.LessThan(decimal.NewFromInt(1)) {
			return deny("market exposure cap")
		}
		proposed = clamped
	}

	if in.Portfolio.LastTradeAt != nil && in.Now.Sub(*in.Portfolio.LastTradeAt) < time.Duration(cfg.MinTradeIntervalSecs)*time.Second {
		return deny("anti-churn interval")
	}

	if in.Portfolio.LastLossAt != nil && in.Now.Sub(*in.Portfolio.LastLossAt) < time.Duration(cfg.LossCooloffSecs)*time.Second {
		return deny("loss cooloff")
	}

	return types.EntryDecision{Allowed: true, Size: proposed}
}

// ExitInput bundles everything check_exit needs.
type ExitInput struct {
	Now                time.Time
	Position           types.Position
	Portfolio          types.PortfolioState
	TraderStillHolding bool
	HoursToResolution  *float64 // nil when unknown/not resolving soon
}

// CheckExit implements spec §4.3's 6 ordered exit conditions; the first
// match wins.
func (e *Evaluator) CheckExit(in ExitInput) types.ExitDecision {
	cfg := e.config

	returnPct, _ := in.Position.ReturnPct().Float64()
	if returnPct >= cfg.TakeProfitPct {
		return types.ExitDecision{ShouldExit: true, Reason: types.ExitTakeProfit, Urgency: types.UrgencyNormal}
	}
	if returnPct <= -cfg.StopLossPct {
		return types.ExitDecision{ShouldExit: true, Reason: types.ExitStopLoss, Urgency: types.UrgencyImmediate}
	}

	holdingHours := in.Now.Sub(in.Position.OpenedAt).Hours()
	if holdingHours >= cfg.MaxHoldingHours {
		return types.ExitDecision{ShouldExit: true, Reason: types.ExitMaxHoldingPeriod, Urgency: types.UrgencyNormal}
	}

	if cfg.FollowTraderExits && !in.TraderStillHolding {
		return types.ExitDecision{ShouldExit: true, Reason: types.ExitTraderExited, Urgency: types.UrgencyNormal}
	}

	if in.HoursToResolution != nil && *in.HoursToResolution > 0 && *in.HoursToResolution <= cfg.ExitBeforeResolutionHours {
		return types.ExitDecision{ShouldExit: true, Reason: types.ExitMarketResolution, Urgency: types.UrgencyNormal}
	}

	currentDD, _ := in.Portfolio.CurrentDrawdown().Float64()
	if currentDD >= cfg.MaxPortfolioDrawdown {
		return types.ExitDecision{ShouldExit: true, Reason: types.ExitPortfolioRisk, Urgency: types.UrgencyImmediate}
	}

	return types.ExitDecision{ShouldExit: false, Reason: types.ExitNone, Urgency: types.UrgencyNone}
}

// ShouldHaltTrading implements spec §4.3's trading-halt predicate.
func (e *Evaluator) ShouldHaltTrading(p types.PortfolioState) bool {
	dd, _ := p.CurrentDrawdown().Float64()
	return dd >= e.config.MaxPortfolioDrawdown
}
