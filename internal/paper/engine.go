// Package paper implements the paper-trading engine (C7): an in-memory
// simulator that runs the same tick shape as internal/orchestrator against
// live market-data prices, but never talks to the exchange — every fill is
// synthesized at the current quote, widened by a slippage tolerance and
// debited a flat fee, exactly like the backtest engine's bookkeeping
// (internal/backtest) but driven by polling instead of trade replay.
//
// Grounded on original_source/src/bot.rs's dry-run branches (the same
// tick drives both live and paper paths, differing only in whether
// ClobClient::market_order is actually called) and cmd/server/main.go's
// `-paper` flag (teacher), reusing C2-C4 (internal/metrics,
// internal/sizing, internal/strategy) completely unchanged.
package paper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/internal/backtest"
	"github.com/lucidarc/copytrader/internal/marketdata"
	"github.com/lucidarc/copytrader/internal/sizing"
	"github.com/lucidarc/copytrader/internal/store"
	"github.com/lucidarc/copytrader/internal/strategy"
	"github.com/lucidarc/copytrader/pkg/types"
	"github.com/lucidarc/copytrader/pkg/utils"
)

const fetchConcurrency = 8

// Config parameterizes the simulated fill arithmetic (CLI: `paper --capital
// --interval --slippage --fee`).
type Config struct {
	Trading  types.TradingConfig
	Slippage float64 // fractional price impact applied against the taker
	FeeRate  float64 // fractional taker fee, debited from cash on every fill
}

// Engine runs the paper-trading tick loop.
type Engine struct {
	logger    *zap.Logger
	store     store.Store
	market    marketdata.Client
	sizer     *sizing.Sizer
	evaluator *strategy.Evaluator
	cfg       Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	// Result-record accumulators, mirroring internal/backtest's replay
	// bookkeeping (spec §4.5: paper and backtest "emit the same result
	// record"). Touched only from the single goroutine driving the tick
	// loop in Run, so they need no locking of their own.
	initialCapital decimal.Decimal
	roundTrips     []backtest.RoundTrip
	equityCurve    []decimal.Decimal
	totalFees      decimal.Decimal
	skipped        int
}

// New builds a paper Engine.
func New(logger *zap.Logger, st store.Store, market marketdata.Client, sizer *sizing.Sizer, evaluator *strategy.Evaluator, cfg Config) *Engine {
	return &Engine{
		logger:         logger.Named("paper"),
		store:          st,
		market:         market,
		sizer:          sizer,
		evaluator:      evaluator,
		cfg:            cfg,
		initialCapital: decimal.NewFromFloat(cfg.Trading.PortfolioValue),
	}
}

// Run drives the tick loop until ctx is cancelled or Stop() is called,
// returning the same result record (spec §4.5) internal/backtest's Run does.
func (e *Engine) Run(ctx context.Context) (backtest.Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return backtest.Result{}, fmt.Errorf("paper engine already running")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.logger.Info("starting paper engine",
		zap.Float64("slippage", e.cfg.Slippage), zap.Float64("feeRate", e.cfg.FeeRate))

	interval := time.Duration(e.cfg.Trading.PollIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.Tick(ctx); err != nil {
			e.logger.Error("paper tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			e.finish()
			return e.Report(), ctx.Err()
		case <-e.stopCh:
			e.finish()
			return e.Report(), nil
		case <-ticker.C:
		}
	}
}

// Report assembles the current result record from this run's accumulated
// round trips, equity curve, fees, and skip count.
func (e *Engine) Report() backtest.Result {
	final := e.initialCapital
	if n := len(e.equityCurve); n > 0 {
		final = e.equityCurve[n-1]
	}
	return backtest.BuildResult(e.initialCapital, final, e.roundTrips, e.equityCurve, e.totalFees, e.skipped)
}

// Stop requests the loop to exit after its current tick.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
}

func (e *Engine) finish() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// Tick runs one simulated iteration: refresh+evaluate exits, then evaluate
// new trades from tracked traders, booking every fill synthetically.
func (e *Engine) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	portfolio, bs, err := e.buildPortfolioState(ctx)
	if err != nil {
		return err
	}
	if e.evaluator.ShouldHaltTrading(portfolio) {
		e.logger.Warn("paper trading halted: portfolio drawdown threshold breached")
		return e.recordTick(ctx, portfolio, bs, now)
	}

	positions, err := e.store.OpenPositions(ctx)
	if err != nil {
		return err
	}
	positions = e.refreshPrices(ctx, positions)
	e.evaluateExits(ctx, positions, &portfolio, now)
	e.processNewTrades(ctx, &portfolio, now)

	return e.recordTick(ctx, portfolio, bs, now)
}

func (e *Engine) buildPortfolioState(ctx context.Context) (types.PortfolioState, *types.BotState, error) {
	bs, err := e.store.GetBotState(ctx)
	if err != nil {
		return types.PortfolioState{}, nil, err
	}
	if bs == nil {
		bs = &types.BotState{
			IsRunning:     true,
			Mode:          "paper",
			TotalValue:    decimal.NewFromFloat(e.cfg.Trading.PortfolioValue),
			CashAvailable: decimal.NewFromFloat(e.cfg.Trading.PortfolioValue),
			RealizedPnL:   decimal.Zero,
			PeakEquity:    decimal.NewFromFloat(e.cfg.Trading.PortfolioValue),
			UpdatedAt:     time.Now().UTC(),
		}
	}
	positions, err := e.store.OpenPositions(ctx)
	if err != nil {
		return types.PortfolioState{}, nil, err
	}
	exposure, unrealized := decimal.Zero, decimal.Zero
	for _, p := range positions {
		exposure = exposure.Add(p.CostBasis())
		unrealized = unrealized.Add(p.UnrealizedPnL())
	}
	return types.PortfolioState{
		TotalValue:    bs.TotalValue,
		CashAvailable: bs.CashAvailable,
		TotalExposure: exposure,
		UnrealizedPnL: unrealized,
		RealizedPnL:   bs.RealizedPnL,
		PeakEquity:    bs.PeakEquity,
		PositionCount: len(positions),
		LastTradeAt:   bs.LastTradeAt,
		LastLossAt:    bs.LastLossAt,
	}, bs, nil
}

func (e *Engine) quoteFor(ctx context.Context, token string, side types.Side) (*decimal.Decimal, error) {
	if side == types.Buy {
		return e.market.GetBestBid(ctx, token)
	}
	return e.market.GetBestAsk(ctx, token)
}

// fillPrice widens a quote against the taker by the configured slippage:
// buying costs more, selling receives less.
func (e *Engine) fillPrice(quote decimal.Decimal, side types.Side) decimal.Decimal {
	slip := decimal.NewFromFloat(e.cfg.Slippage)
	if side == types.Buy {
		return quote.Mul(decimal.NewFromInt(1).Add(slip))
	}
	return quote.Mul(decimal.NewFromInt(1).Sub(slip))
}

func (e *Engine) refreshPrices(ctx context.Context, positions []types.Position) []types.Position {
	for i, p := range positions {
		price, err := e.quoteFor(ctx, p.Outcome, p.Side)
		if err != nil || price == nil {
			continue
		}
		positions[i].CurrentPrice = *price
		if err := e.store.UpsertPosition(ctx, positions[i]); err != nil {
			e.logger.Warn("failed to persist refreshed price", zap.Error(err))
		}
	}
	return positions
}

func (e *Engine) traderStillHolds(ctx context.Context, trader, market, outcome string) bool {
	if trader == "" {
		return true
	}
	positions, err := e.market.GetPositions(ctx, trader, 500)
	if err != nil {
		return true
	}
	for _, p := range positions {
		if p.MarketID == market && p.Outcome == outcome && p.Size.IsPositive() {
			return true
		}
	}
	return false
}

func (e *Engine) evaluateExits(ctx context.Context, positions []types.Position, portfolio *types.PortfolioState, now time.Time) {
	for _, p := range positions {
		holding := e.traderStillHolds(ctx, p.SourceTrader, p.MarketID, p.Outcome)
		decision := e.evaluator.CheckExit(strategy.ExitInput{
			Now: now, Position: p, Portfolio: *portfolio,
			TraderStillHolding: holding, HoursToResolution: nil,
		})
		if decision.ShouldExit {
			e.closePosition(ctx, p, portfolio, now)
		}
	}
}

func (e *Engine) closePosition(ctx context.Context, p types.Position, portfolio *types.PortfolioState, now time.Time) {
	quote, err := e.quoteFor(ctx, p.Outcome, p.Side.Opposite())
	if err != nil || quote == nil {
		return
	}
	fill := e.fillPrice(*quote, p.Side.Opposite())
	p.CurrentPrice = fill
	realized := p.UnrealizedPnL()

	fee := p.Size.Mul(fill).Mul(decimal.NewFromFloat(e.cfg.FeeRate))
	realized = realized.Sub(fee)

	if err := e.store.ClosePosition(ctx, p.Key(), now, realized); err != nil {
		e.logger.Error("failed to persist closed paper position", zap.Error(err))
		return
	}
	e.totalFees = e.totalFees.Add(fee)
	e.roundTrips = append(e.roundTrips, backtest.RoundTrip{PnL: realized, HoldingHours: now.Sub(p.OpenedAt).Hours()})
	proceeds := p.Size.Mul(fill).Sub(fee)
	portfolio.CashAvailable = portfolio.CashAvailable.Add(proceeds)
	portfolio.RealizedPnL = portfolio.RealizedPnL.Add(realized)
	portfolio.TotalExposure = portfolio.TotalExposure.Sub(p.CostBasis())
	portfolio.PositionCount--
	portfolio.LastTradeAt = &now
	if realized.IsNegative() {
		portfolio.LastLossAt = &now
	}
}

func dedupKey(trader, market string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", trader, market, ts.UnixNano())))
	return hex.EncodeToString(sum[:])
}

func (e *Engine) processNewTrades(ctx context.Context, portfolio *types.PortfolioState, now time.Time) {
	addresses, err := e.store.GetTrackedAddresses(ctx)
	if err != nil || len(addresses) == 0 {
		return
	}

	type fetched struct {
		trades []types.Trade
		err    error
	}
	results := make([]fetched, len(addresses))
	sem := make(chan struct{}, fetchConcurrency)
	var wg sync.WaitGroup
	for i, addr := range addresses {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, addr string) {
			defer wg.Done()
			defer func() { <-sem }()
			trades, err := e.market.GetTrades(ctx, addr, 50, nil)
			results[i] = fetched{trades: trades, err: err}
		}(i, addr)
	}
	wg.Wait()

	var all []types.Trade
	for _, r := range results {
		if r.err == nil {
			all = append(all, r.trades...)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })

	overrides := e.resolveGroupSizes(ctx, all, portfolio)

	for _, trade := range all {
		e.processOneTrade(ctx, trade, portfolio, now, overrides)
	}
}

// resolveGroupSizes mirrors internal/orchestrator's same-tick aggregation
// (spec §4.2's final paragraph): multiple tracked traders entering the same
// (market, outcome, side) this tick get a single composite-score-weighted
// size instead of each trading at its own independently sized notional.
func (e *Engine) resolveGroupSizes(ctx context.Context, trades []types.Trade, portfolio *types.PortfolioState) map[string]decimal.Decimal {
	type groupKey struct {
		market, outcome string
		side            types.Side
	}
	groups := map[groupKey][]int{}
	for i, t := range trades {
		opposingKey := types.PositionKey{MarketID: t.MarketID, Outcome: t.Outcome, Side: t.Side.Opposite()}
		if existing, err := e.store.GetPosition(ctx, opposingKey); err == nil && existing != nil && existing.SourceTrader == t.TraderAddress {
			continue
		}
		k := groupKey{t.MarketID, t.Outcome, t.Side}
		groups[k] = append(groups[k], i)
	}

	overrides := map[string]decimal.Decimal{}
	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}
		candidates := make([]sizing.Candidate, 0, len(idxs))
		for _, i := range idxs {
			t := trades[i]
			m, _ := e.store.LatestMetrics(ctx, t.TraderAddress)
			sourcePortfolioValue, err := e.market.GetPortfolioValue(ctx, t.TraderAddress)
			if err != nil {
				sourcePortfolioValue = decimal.Zero
			}
			size := e.sizer.Size(sizing.Inputs{
				SourceNotional:  t.Notional,
				SourcePortfolio: sourcePortfolioValue,
				OurPortfolio:    portfolio.TotalValue,
				Metrics:         m,
				CurrentExposure: e.marketExposure(ctx, t.MarketID),
			})
			score := 0.0
			if m != nil {
				score = m.CompositeScore
			}
			candidates = append(candidates, sizing.Candidate{Size: size, CompositeScore: score})
		}
		blended := sizing.Aggregate(candidates)
		for _, i := range idxs {
			t := trades[i]
			overrides[dedupKey(t.TraderAddress, t.MarketID, t.Timestamp)] = blended
		}
	}
	return overrides
}

func (e *Engine) processOneTrade(ctx context.Context, trade types.Trade, portfolio *types.PortfolioState, now time.Time, overrides map[string]decimal.Decimal) {
	key := dedupKey(trade.TraderAddress, trade.MarketID, trade.Timestamp)
	seen, err := e.store.HasSeenTrade(ctx, key)
	if err != nil || seen {
		return
	}

	opposingKey := types.PositionKey{MarketID: trade.MarketID, Outcome: trade.Outcome, Side: trade.Side.Opposite()}
	if existing, err := e.store.GetPosition(ctx, opposingKey); err == nil && existing != nil && existing.SourceTrader == trade.TraderAddress {
		_ = e.store.MarkTradeSeen(ctx, key, "closed_mirror", "")
		e.closePosition(ctx, *existing, portfolio, now)
		return
	}

	// Long-only book: a Sell that closes no mirrored position is rejected
	// rather than opening a short.
	if trade.Side == types.Sell {
		_ = e.store.MarkTradeSeen(ctx, key, "rejected", "no position to close")
		e.skipped++
		return
	}

	metrics, _ := e.store.LatestMetrics(ctx, trade.TraderAddress)
	sourcePortfolioValue, err := e.market.GetPortfolioValue(ctx, trade.TraderAddress)
	if err != nil {
		sourcePortfolioValue = decimal.Zero
	}
	marketExposure := e.marketExposure(ctx, trade.MarketID)

	proposed := e.sizer.Size(sizing.Inputs{
		SourceNotional:  trade.Notional,
		SourcePortfolio: sourcePortfolioValue,
		OurPortfolio:    portfolio.TotalValue,
		Metrics:         metrics,
		CurrentExposure: marketExposure,
	})
	if blended, ok := overrides[key]; ok {
		proposed = blended
	}

	quote, err := e.quoteFor(ctx, trade.Outcome, trade.Side)
	if err != nil || quote == nil {
		quote = &trade.Price
	}

	var metricsVal types.TraderMetrics
	if metrics != nil {
		metricsVal = *metrics
	}
	decision := e.evaluator.ValidateEntry(strategy.EntryInput{
		Now: now, SourceTrade: trade, CurrentPrice: *quote, Metrics: metricsVal,
		Portfolio: *portfolio, ProposedSize: proposed, ExistingMarketExposure: marketExposure,
	})
	if !decision.Allowed {
		_ = e.store.MarkTradeSeen(ctx, key, "rejected", decision.Reason)
		e.skipped++
		return
	}
	if err := e.store.MarkTradeSeen(ctx, key, "pending", ""); err != nil {
		e.logger.Warn("failed to mark trade seen", zap.Error(err))
		return
	}

	fill := e.fillPrice(*quote, trade.Side)
	if fill.IsZero() {
		e.logger.Warn("skipping simulated entry: zero fill price", zap.String("market", trade.MarketID))
		return
	}
	shareSize := decision.Size.Div(fill)
	fee := decision.Size.Mul(decimal.NewFromFloat(e.cfg.FeeRate))
	e.totalFees = e.totalFees.Add(fee)

	ct := types.CopyTrade{
		ID: utils.GenerateCopyTradeID(), SourceTrader: trade.TraderAddress, SourceTradeID: trade.ID,
		MarketID: trade.MarketID, Outcome: trade.Outcome, Side: trade.Side,
		SourceSize: trade.Size, SourcePrice: trade.Price,
		ExecutedSize: shareSize, ExecutedPrice: fill,
		Status: types.StatusSimulated, CreatedAt: now,
	}
	if err := e.store.SaveCopyTrade(ctx, ct); err != nil {
		e.logger.Error("failed to persist simulated copy-trade", zap.Error(err))
		return
	}

	pos := types.Position{
		MarketID: trade.MarketID, Outcome: trade.Outcome, Side: trade.Side,
		Size: shareSize, AverageEntry: fill, CurrentPrice: fill,
		SourceTrader: trade.TraderAddress, OpenedAt: now, RealizedPnL: decimal.Zero,
	}
	if existing, err := e.store.GetPosition(ctx, pos.Key()); err == nil && existing != nil {
		existing.AddFill(pos.Size, pos.AverageEntry)
		pos = *existing
	}
	if err := e.store.UpsertPosition(ctx, pos); err != nil {
		e.logger.Error("failed to persist simulated position", zap.Error(err))
	}

	cost := shareSize.Mul(fill).Add(fee)
	portfolio.CashAvailable = portfolio.CashAvailable.Sub(cost)
	portfolio.TotalExposure = portfolio.TotalExposure.Add(cost)
	portfolio.PositionCount++
	portfolio.LastTradeAt = &now
}

func (e *Engine) marketExposure(ctx context.Context, marketID string) decimal.Decimal {
	positions, err := e.store.OpenPositions(ctx)
	if err != nil {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, p := range positions {
		if p.MarketID == marketID {
			sum = sum.Add(p.CostBasis())
		}
	}
	return sum
}

func (e *Engine) recordTick(ctx context.Context, portfolio types.PortfolioState, bs *types.BotState, now time.Time) error {
	equity := portfolio.Equity()
	if equity.GreaterThan(portfolio.PeakEquity) {
		portfolio.PeakEquity = equity
	}
	e.equityCurve = append(e.equityCurve, equity)
	if err := e.store.RecordEquityPoint(ctx, types.EquityPoint{
		Timestamp: now, Equity: equity, Exposure: portfolio.TotalExposure,
		UnrealizedPnL: portfolio.UnrealizedPnL, RealizedPnL: portfolio.RealizedPnL,
	}); err != nil {
		return err
	}
	bs.IsRunning = true
	bs.Mode = "paper"
	bs.TotalValue = portfolio.TotalValue
	bs.CashAvailable = portfolio.CashAvailable
	bs.RealizedPnL = portfolio.RealizedPnL
	bs.PeakEquity = portfolio.PeakEquity
	bs.LastTradeAt = portfolio.LastTradeAt
	bs.LastLossAt = portfolio.LastLossAt
	bs.UpdatedAt = now
	return e.store.SaveBotState(ctx, *bs)
}
