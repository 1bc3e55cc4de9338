// Package backtest implements the replay-driven simulator (C8): it fetches
// a bounded lookback of historical trades per tracked trader, merges them
// into one chronological stream, and runs the same mirror-entry/mirror-exit
// decisions as the live orchestrator against that stream instead of polling,
// booking every fill with a configurable slippage and fee debit.
//
// Grounded on internal/backtester/engine.go, portfolio.go, metrics.go
// (teacher: Engine/Run/logger shape, Portfolio's mutex-protected
// Buy/Sell/CloseAll arithmetic, MetricsCalculator's Sharpe/Sortino/
// max-drawdown-from-equity-curve derivation) rewritten for trade replay
// instead of OHLCV-bar replay, and original_source/src/backtest.rs's
// run_simulation_multi (per-trade entry debit, opposite-side close,
// end-of-replay flat close of remainders).
package backtest

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/internal/clock"
	"github.com/lucidarc/copytrader/internal/marketdata"
	"github.com/lucidarc/copytrader/internal/metrics"
	"github.com/lucidarc/copytrader/internal/sizing"
	"github.com/lucidarc/copytrader/internal/strategy"
	"github.com/lucidarc/copytrader/pkg/types"
)

// ledgerPosition is the engine's own in-memory open position; distinct from
// types.Position because the backtest never persists through internal/store.
type ledgerPosition struct {
	types.Position
}

// Engine replays historical trades through C2-C4 and books simulated fills.
type Engine struct {
	logger    *zap.Logger
	market    marketdata.Client
	sizer     *sizing.Sizer
	evaluator *strategy.Evaluator
	cfg       types.BacktestConfig
}

// New builds a backtest Engine.
func New(logger *zap.Logger, market marketdata.Client, sizer *sizing.Sizer, evaluator *strategy.Evaluator, cfg types.BacktestConfig) *Engine {
	return &Engine{
		logger:    logger.Named("backtest"),
		market:    market,
		sizer:     sizer,
		evaluator: evaluator,
		cfg:       cfg,
	}
}

// Run fetches each trader's recent trades (bounded by cfg.LookbackTrades),
// merges them chronologically, and replays them through the mirror logic.
func (e *Engine) Run(ctx context.Context, traders []string) (Result, error) {
	var all []types.Trade
	for _, addr := range traders {
		trades, err := e.market.GetTrades(ctx, addr, e.cfg.LookbackTrades, nil)
		if err != nil {
			e.logger.Warn("failed to fetch trades for backtest", zap.String("address", addr), zap.Error(err))
			continue
		}
		all = append(all, trades...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return e.replay(ctx, all)
}

func (e *Engine) replay(ctx context.Context, trades []types.Trade) (Result, error) {
	initial := decimal.NewFromFloat(e.cfg.InitialCapital)
	cash := initial
	realized := decimal.Zero
	peakEquity := initial
	positions := map[types.PositionKey]*ledgerPosition{}
	metricsByTrader := map[string][]types.Trade{}

	var roundTrips []RoundTrip
	var equityCurve []decimal.Decimal
	skipped := 0
	totalFees := decimal.Zero
	clk := clock.NewFixed(time.Now())

	equity := func() decimal.Decimal {
		unrealized := decimal.Zero
		for _, p := range positions {
			unrealized = unrealized.Add(p.UnrealizedPnL())
		}
		return initial.Add(realized).Add(unrealized)
	}
	exposure := func(marketID string) decimal.Decimal {
		sum := decimal.Zero
		for _, p := range positions {
			if p.MarketID == marketID {
				sum = sum.Add(p.CostBasis())
			}
		}
		return sum
	}
	portfolioSnapshot := func() types.PortfolioState {
		unrealized := decimal.Zero
		totalExposure := decimal.Zero
		for _, p := range positions {
			unrealized = unrealized.Add(p.UnrealizedPnL())
			totalExposure = totalExposure.Add(p.CostBasis())
		}
		return types.PortfolioState{
			TotalValue:    initial,
			CashAvailable: cash,
			TotalExposure: totalExposure,
			UnrealizedPnL: unrealized,
			RealizedPnL:   realized,
			PeakEquity:    peakEquity,
			PositionCount: len(positions),
		}
	}
	fillPrice := func(quote decimal.Decimal, side types.Side) decimal.Decimal {
		slip := decimal.NewFromFloat(e.cfg.Slippage)
		if side == types.Buy {
			return quote.Mul(decimal.NewFromInt(1).Add(slip))
		}
		return quote.Mul(decimal.NewFromInt(1).Sub(slip))
	}
	closePosition := func(key types.PositionKey, fill decimal.Decimal, at time.Time) {
		pos, ok := positions[key]
		if !ok {
			return
		}
		pos.CurrentPrice = fill
		fee := pos.Size.Mul(fill).Mul(decimal.NewFromFloat(e.cfg.FeeRate))
		pnl := pos.UnrealizedPnL().Sub(fee)
		totalFees = totalFees.Add(fee)
		realized = realized.Add(pnl)
		cash = cash.Add(pos.Size.Mul(fill)).Sub(fee)
		roundTrips = append(roundTrips, RoundTrip{PnL: pnl, HoldingHours: at.Sub(pos.OpenedAt).Hours()})
		delete(positions, key)
	}

	for _, trade := range trades {
		clk.Set(trade.Timestamp)
		metricsByTrader[trade.TraderAddress] = append(metricsByTrader[trade.TraderAddress], trade)

		opposingKey := types.PositionKey{MarketID: trade.MarketID, Outcome: trade.Outcome, Side: trade.Side.Opposite()}
		if pos, ok := positions[opposingKey]; ok && pos.SourceTrader == trade.TraderAddress {
			closePosition(opposingKey, fillPrice(trade.Price, trade.Side), trade.Timestamp)
			if equity().GreaterThan(peakEquity) {
				peakEquity = equity()
			}
			equityCurve = append(equityCurve, equity())
			continue
		}

		// Long-only book: a Sell that closes no mirrored position is skipped
		// rather than opening a short.
		if trade.Side == types.Sell {
			skipped++
			continue
		}

		// Metrics are derived only from trades of this trader observed so far,
		// to avoid look-ahead bias in a replay.
		seenSoFar := metricsByTrader[trade.TraderAddress]
		m := types.TraderMetrics{}
		if len(seenSoFar) > 1 {
			m = metrics.Compute(trade.TraderAddress, seenSoFar, trade.Timestamp)
		}

		marketExp := exposure(trade.MarketID)
		portfolio := portfolioSnapshot()
		proposed := e.sizer.Size(sizing.Inputs{
			SourceNotional:  trade.Notional,
			SourcePortfolio: decimal.Zero, // no per-trader portfolio value during replay
			OurPortfolio:    initial,
			Metrics:         &m,
			CurrentExposure: marketExp,
		})

		decision := e.evaluator.ValidateEntry(strategy.EntryInput{
			Now: trade.Timestamp, SourceTrade: trade, CurrentPrice: trade.Price, Metrics: m,
			Portfolio: portfolio, ProposedSize: proposed, ExistingMarketExposure: marketExp,
		})
		if !decision.Allowed {
			skipped++
			continue
		}

		fill := fillPrice(trade.Price, trade.Side)
		if fill.IsZero() {
			skipped++
			continue
		}
		shareSize := decision.Size.Div(fill)
		fee := decision.Size.Mul(decimal.NewFromFloat(e.cfg.FeeRate))
		totalFees = totalFees.Add(fee)
		cash = cash.Sub(decision.Size).Sub(fee)

		key := types.PositionKey{MarketID: trade.MarketID, Outcome: trade.Outcome, Side: trade.Side}
		if existing, ok := positions[key]; ok {
			existing.AddFill(shareSize, fill)
		} else {
			positions[key] = &ledgerPosition{types.Position{
				MarketID: trade.MarketID, Outcome: trade.Outcome, Side: trade.Side,
				Size: shareSize, AverageEntry: fill, CurrentPrice: fill,
				SourceTrader: trade.TraderAddress, OpenedAt: trade.Timestamp,
			}}
		}
		if equity().GreaterThan(peakEquity) {
			peakEquity = equity()
		}
		equityCurve = append(equityCurve, equity())
	}

	// End-of-replay flat close of remaining open positions at their last
	// known mark, per original_source/src/backtest.rs.
	lastTime := clk.Now()
	for key, pos := range positions {
		closePosition(key, pos.CurrentPrice, lastTime)
	}
	if equity().GreaterThan(peakEquity) {
		peakEquity = equity()
	}
	equityCurve = append(equityCurve, equity())

	return BuildResult(initial, equity(), roundTrips, equityCurve, totalFees, skipped), nil
}
