// Package orchestrator implements the copy orchestrator (C6): the 8-step
// tick loop of spec §4.4 that turns tracked traders' trades into local
// positions, evaluates exits, and persists every state transition before
// acting on it.
//
// Grounded on internal/orchestrator/orchestrator.go (teacher: the
// logger+config+mu+running+stopCh Start/Stop shape of TradingOrchestrator)
// rewritten entirely around spec §4.4/§4.5's copy-trading tick instead of
// the teacher's event-bus/regime/Monte-Carlo integration, which has no
// counterpart in this domain.
package orchestrator

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

	"github.com/lucidarc/copytrader/internal/clock"
	"github.com/lucidarc/copytrader/internal/errkind"
	"github.com/lucidarc/copytrader/internal/exchange"
	"github.com/lucidarc/copytrader/internal/marketdata"
	"github.com/lucidarc/copytrader/internal/sizing"
	"github.com/lucidarc/copytrader/internal/store"
	"github.com/lucidarc/copytrader/internal/strategy"
	"github.com/lucidarc/copytrader/pkg/types"
	"github.com/lucidarc/copytrader/pkg/utils"
)

// Bookkeeping convention (spec §3/§4.4): BotState.TotalValue is the fixed
// capital baseline set at startup from config; it is never mutated by
// trading. CashAvailable is the deployable-cash counter debited on entry
// and credited on exit. TotalExposure and UnrealizedPnL in the per-tick
// PortfolioState are derived fresh each tick by summing open positions, so
// PortfolioState.Equity() = TotalValue + RealizedPnL + UnrealizedPnL holds
// exactly as pkg/types/types.go defines it.

const fetchConcurrency = 8

// Orchestrator runs the live copy-trading tick loop.
type Orchestrator struct {
	logger    *zap.Logger
	store     store.Store
	market    marketdata.Client
	exchange  exchange.Client
	sizer     *sizing.Sizer
	evaluator *strategy.Evaluator
	clock     clock.Clock
	cfg       types.TradingConfig

	mu        sync.Mutex
	running   bool
	cancelled bool
	stopCh    chan struct{}
}

// New builds an Orchestrator.
func New(logger *zap.Logger, st store.Store, market marketdata.Client, ex exchange.Client, sizer *sizing.Sizer, evaluator *strategy.Evaluator, clk clock.Clock, cfg types.TradingConfig) *Orchestrator {
	return &Orchestrator{
		logger:    logger.Named("orchestrator"),
		store:     st,
		market:    market,
		exchange:  ex,
		sizer:     sizer,
		evaluator: evaluator,
		clock:     clk,
		cfg:       cfg,
	}
}

// Cancel sets the shared cancellation flag; it is polled at the top of each
// tick (spec §5: "a shared cancellation flag is polled at the top of each
// tick and at every external-call return").
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	o.cancelled = true
	o.mu.Unlock()
}

func (o *Orchestrator) isCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

// Start runs the tick loop until ctx is cancelled or Cancel() is called.
// On startup it performs crash recovery (spec §4.4) by retrying any
// pending copy-trades regardless of age, then schedules a tick every
// poll_interval_secs.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.cancelled = false
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	o.logger.Info("starting copy orchestrator",
		zap.Int64("pollIntervalSecs", o.cfg.PollIntervalSecs),
		zap.Bool("dryRun", o.cfg.DryRun))

	// PendingCopyTrades filters on created_at < cutoff, so recovering "every
	// pending row regardless of age" needs a cutoff in the future, not the
	// zero time (which would match nothing).
	if err := o.recoverPendingCopyTrades(ctx, o.clock.Now().Add(24*time.Hour)); err != nil {
		o.logger.Warn("crash recovery pass failed", zap.Error(err))
	}

	interval := time.Duration(o.cfg.PollIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := o.Tick(ctx); err != nil {
			o.logger.Error("tick failed", zap.Error(err))
			if errkind.Is(err, errkind.InvariantViolation) {
				o.finish(ctx)
				return err
			}
		}
		if o.isCancelled() {
			o.finish(ctx)
			return nil
		}
		select {
		case <-ctx.Done():
			o.finish(ctx)
			return ctx.Err()
		case <-o.stopCh:
			o.finish(ctx)
			return nil
		case <-ticker.C:
		}
	}
}

// Stop requests the loop to exit after its current tick.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.running = false
	close(o.stopCh)
}

func (o *Orchestrator) finish(ctx context.Context) {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	bs, err := o.store.GetBotState(ctx)
	if err != nil || bs == nil {
		return
	}
	bs.IsRunning = false
	bs.UpdatedAt = o.clock.Now()
	if err := o.store.SaveBotState(ctx, *bs); err != nil {
		o.logger.Warn("failed to persist stopped bot_state", zap.Error(err))
	}
}

// Tick runs one full iteration of spec §4.4's 8-step loop.
func (o *Orchestrator) Tick(ctx context.Context) error {
	now := o.clock.Now()

	portfolio, bs, err := o.buildPortfolioState(ctx, now) // step 1
	if err != nil {
		return errkind.New(errkind.TransientExternal, "orchestrator.Tick.buildState", err)
	}

	halted := o.evaluator.ShouldHaltTrading(portfolio) // step 2
	if halted {
		o.logger.Warn("trading halted: portfolio drawdown threshold breached")
	}

	if !halted && !o.isCancelled() {
		positions, err := o.store.OpenPositions(ctx)
		if err != nil {
			return errkind.New(errkind.TransientExternal, "orchestrator.Tick.openPositions", err)
		}
		positions = o.refreshPrices(ctx, positions) // step 3
		o.evaluateExits(ctx, positions, &portfolio, now) // step 4

		if !o.isCancelled() {
			o.processNewTrades(ctx, &portfolio, now) // step 5
		}
		if !o.isCancelled() {
			if err := o.recoverPendingCopyTrades(ctx, now.Add(-o.cfg.PendingRetryAfter)); err != nil { // step 6
				o.logger.Warn("pending copy-trade retry pass failed", zap.Error(err))
			}
		}
	}

	if err := o.recordTick(ctx, portfolio, bs, now); err != nil { // step 7
		return errkind.New(errkind.TransientExternal, "orchestrator.Tick.record", err)
	}
	return nil // step 8: yield is the caller's ticker wait
}

// buildPortfolioState implements step 1, composing the persisted bot_state
// row with freshly summed open-position exposure/unrealized P&L.
func (o *Orchestrator) buildPortfolioState(ctx context.Context, now time.Time) (types.PortfolioState, *types.BotState, error) {
	bs, err := o.store.GetBotState(ctx)
	if err != nil {
		return types.PortfolioState{}, nil, err
	}
	if bs == nil {
		bs = &types.BotState{
			IsRunning:     true,
			Mode:          "live",
			TotalValue:    decimal.NewFromFloat(o.cfg.PortfolioValue),
			CashAvailable: decimal.NewFromFloat(o.cfg.PortfolioValue),
			RealizedPnL:   decimal.Zero,
			PeakEquity:    decimal.NewFromFloat(o.cfg.PortfolioValue),
			UpdatedAt:     now,
		}
	}

	positions, err := o.store.OpenPositions(ctx)
	if err != nil {
		return types.PortfolioState{}, nil, err
	}
	exposure := decimal.Zero
	unrealized := decimal.Zero
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

// refreshPrices implements step 3: probe each open position's current
// price via the order-book oracle and persist it.
func (o *Orchestrator) refreshPrices(ctx context.Context, positions []types.Position) []types.Position {
	updated := fanOut(positions, fetchConcurrency, func(p types.Position) types.Position {
		price, err := o.quoteFor(ctx, p.Outcome, p.Side)
		if err != nil || price == nil {
			return p
		}
		p.CurrentPrice = *price
		if err := o.store.UpsertPosition(ctx, p); err != nil {
			o.logger.Warn("failed to persist refreshed price", zap.String("market", p.MarketID), zap.Error(err))
		}
		return p
	})
	return updated
}

// quoteFor returns the price at which a position of the given side could be
// closed: a Buy position marks to the best bid (its exit side is a sell),
// a Sell position marks to the best ask.
func (o *Orchestrator) quoteFor(ctx context.Context, token string, side types.Side) (*decimal.Decimal, error) {
	if side == types.Buy {
		return o.market.GetBestBid(ctx, token)
	}
	return o.market.GetBestAsk(ctx, token)
}

// evaluateExits implements step 4.
func (o *Orchestrator) evaluateExits(ctx context.Context, positions []types.Position, portfolio *types.PortfolioState, now time.Time) {
	for _, p := range positions {
		holding := o.traderStillHolds(ctx, p.SourceTrader, p.MarketID, p.Outcome)
		decision := o.evaluator.CheckExit(strategy.ExitInput{
			Now:                now,
			Position:           p,
			Portfolio:          *portfolio,
			TraderStillHolding: holding,
			HoursToResolution:  nil, // no market-resolution feed in the read-API contract
		})
		if !decision.ShouldExit {
			continue
		}
		o.closePosition(ctx, p, portfolio, now, string(decision.Reason))
	}
}

// traderStillHolds checks whether a source trader still has an open
// position in (market, outcome), per spec §4.3's trader_exited exit rule.
func (o *Orchestrator) traderStillHolds(ctx context.Context, trader, market, outcome string) bool {
	if trader == "" {
		return true
	}
	positions, err := o.market.GetPositions(ctx, trader, 500)
	if err != nil {
		o.logger.Warn("could not check source trader holdings, assuming still held", zap.Error(err))
		return true
	}
	for _, p := range positions {
		if p.MarketID == market && p.Outcome == outcome && p.Size.IsPositive() {
			return true
		}
	}
	return false
}

// closePosition submits the opposite-side order, persists the close, and
// rolls the realized P&L and loss timer into the in-memory portfolio and
// bot state.
func (o *Orchestrator) closePosition(ctx context.Context, p types.Position, portfolio *types.PortfolioState, now time.Time, reason string) {
	result, err := o.submitOrder(ctx, p.Outcome, p.Side.Opposite(), p.Size)
	if err != nil {
		o.logger.Warn("exit order failed, leaving position open for next tick",
			zap.String("market", p.MarketID), zap.String("reason", reason), zap.Error(err))
		return
	}

	realized := p.UnrealizedPnL()
	if err := o.store.ClosePosition(ctx, p.Key(), now, realized); err != nil {
		o.logger.Error("failed to persist closed position", zap.Error(err))
		return
	}

	proceeds := result.FilledSize.Mul(result.FilledPrice)
	portfolio.CashAvailable = portfolio.CashAvailable.Add(proceeds)
	portfolio.RealizedPnL = portfolio.RealizedPnL.Add(realized)
	portfolio.TotalExposure = portfolio.TotalExposure.Sub(p.CostBasis())
	portfolio.UnrealizedPnL = portfolio.UnrealizedPnL.Sub(p.UnrealizedPnL())
	portfolio.PositionCount--
	portfolio.LastTradeAt = &now
	if realized.IsNegative() {
		portfolio.LastLossAt = &now
	}

	o.logger.Info("closed position",
		zap.String("market", p.MarketID), zap.String("outcome", p.Outcome),
		zap.String("reason", reason), zap.String("realizedPnl", realized.String()))
}

// submitOrder places a live market order, or synthesizes a dry-run fill at
// the oracle's current price when cfg.DryRun is set (per CLI "run
// --dry-run": no real order ever reaches the exchange in that mode).
func (o *Orchestrator) submitOrder(ctx context.Context, token string, side types.Side, size decimal.Decimal) (exchange.OrderResult, error) {
	if o.cfg.DryRun {
		price, err := o.quoteFor(ctx, token, side.Opposite())
		if err != nil || price == nil {
			return exchange.OrderResult{}, fmt.Errorf("dry-run quote unavailable for %s", token)
		}
		return exchange.OrderResult{Success: true, Status: "simulated", FilledSize: size, FilledPrice: *price}, nil
	}
	// exchange.CLOBClient.MarketOrder already bounds its own retry loop
	// (spec §5's order-submission retry policy), so no outer retry here.
	return o.exchange.MarketOrder(ctx, token, side, size)
}

// dedupKey computes spec §4.4.a's trade_id = hash(trader ∥ market ∥
// timestamp) for the seen_trades idempotency check.
func dedupKey(trader, market string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", trader, market, ts.UnixNano())))
	return hex.EncodeToString(sum[:])
}

// processNewTrades implements step 5.
func (o *Orchestrator) processNewTrades(ctx context.Context, portfolio *types.PortfolioState, now time.Time) {
	addresses, err := o.store.GetTrackedAddresses(ctx)
	if err != nil {
		o.logger.Warn("failed to list tracked traders", zap.Error(err))
		return
	}
	if len(addresses) == 0 {
		return
	}

	type fetched struct {
		trades []types.Trade
		err    error
	}
	results := fanOut(addresses, fetchConcurrency, func(addr string) fetched {
		trades, err := o.market.GetTrades(ctx, addr, 50, nil)
		return fetched{trades: trades, err: err}
	})

	var all []types.Trade
	for i, r := range results {
		if r.err != nil {
			o.logger.Warn("failed to fetch trades for tracked trader", zap.String("address", addresses[i]), zap.Error(r.err))
			continue
		}
		all = append(all, r.trades...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })

	overrides := o.resolveGroupSizes(ctx, all, portfolio)

	for _, trade := range all {
		if o.isCancelled() {
			return
		}
		o.processOneTrade(ctx, trade, portfolio, now, overrides)
	}
}

// resolveGroupSizes implements spec §4.2's final paragraph: when more than
// one tracked trader's new trade this tick targets the same
// (market, outcome, side), each trader's independently sized candidate is
// blended into a single composite-score-weighted size instead of executing
// every trade in the group at its own raw size. Trades that close an
// existing mirrored position (§4.4 step 5.b) are never entries and are
// excluded from grouping.
func (o *Orchestrator) resolveGroupSizes(ctx context.Context, trades []types.Trade, portfolio *types.PortfolioState) map[string]decimal.Decimal {
	type groupKey struct {
		market, outcome string
		side            types.Side
	}
	groups := map[groupKey][]int{}
	for i, t := range trades {
		opposingKey := types.PositionKey{MarketID: t.MarketID, Outcome: t.Outcome, Side: t.Side.Opposite()}
		if existing, err := o.store.GetPosition(ctx, opposingKey); err == nil && existing != nil && existing.SourceTrader == t.TraderAddress {
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
			m, _ := o.store.LatestMetrics(ctx, t.TraderAddress)
			sourcePortfolioValue, err := o.market.GetPortfolioValue(ctx, t.TraderAddress)
			if err != nil {
				sourcePortfolioValue = decimal.Zero
			}
			size := o.sizer.Size(sizing.Inputs{
				SourceNotional:  t.Notional,
				SourcePortfolio: sourcePortfolioValue,
				OurPortfolio:    portfolio.TotalValue,
				Metrics:         m,
				CurrentExposure: o.marketExposure(ctx, t.MarketID),
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

func (o *Orchestrator) processOneTrade(ctx context.Context, trade types.Trade, portfolio *types.PortfolioState, now time.Time, overrides map[string]decimal.Decimal) {
	key := dedupKey(trade.TraderAddress, trade.MarketID, trade.Timestamp)
	seen, err := o.store.HasSeenTrade(ctx, key)
	if err != nil {
		o.logger.Warn("seen_trades lookup failed, skipping trade this tick", zap.Error(err))
		return
	}
	if seen {
		return
	}

	// 5.b: does this trade oppose an existing local position we opened by
	// mirroring this same source trader in this market/outcome?
	opposingKey := types.PositionKey{MarketID: trade.MarketID, Outcome: trade.Outcome, Side: trade.Side.Opposite()}
	if existing, err := o.store.GetPosition(ctx, opposingKey); err == nil && existing != nil && existing.SourceTrader == trade.TraderAddress {
		if err := o.store.MarkTradeSeen(ctx, key, "closed_mirror", ""); err != nil {
			o.logger.Warn("failed to mark trade seen", zap.Error(err))
		}
		o.closePosition(ctx, *existing, portfolio, now, "trader_exited")
		return
	}

	// Long-only book: a Sell that closes no mirrored position is rejected
	// rather than opening a short.
	if trade.Side == types.Sell {
		if err := o.store.MarkTradeSeen(ctx, key, "rejected", "no position to close"); err != nil {
			o.logger.Warn("failed to mark trade seen (rejected)", zap.Error(err))
		}
		return
	}

	// 5.c: size and validate a new entry.
	metrics, _ := o.store.LatestMetrics(ctx, trade.TraderAddress)
	sourcePortfolioValue, err := o.market.GetPortfolioValue(ctx, trade.TraderAddress)
	if err != nil {
		sourcePortfolioValue = decimal.Zero
	}
	marketExposure := o.marketExposure(ctx, trade.MarketID)

	proposed := o.sizer.Size(sizing.Inputs{
		SourceNotional:  trade.Notional,
		SourcePortfolio: sourcePortfolioValue,
		OurPortfolio:    portfolio.TotalValue,
		Metrics:         metrics,
		CurrentExposure: marketExposure,
	})
	if blended, ok := overrides[key]; ok {
		proposed = blended
	}

	currentPrice, err := o.quoteFor(ctx, trade.Outcome, trade.Side.Opposite())
	if err != nil || currentPrice == nil {
		currentPrice = &trade.Price
	}

	var metricsVal types.TraderMetrics
	if metrics != nil {
		metricsVal = *metrics
	}
	decision := o.evaluator.ValidateEntry(strategy.EntryInput{
		Now:                    now,
		SourceTrade:            trade,
		CurrentPrice:           *currentPrice,
		Metrics:                metricsVal,
		Portfolio:              *portfolio,
		ProposedSize:           proposed,
		ExistingMarketExposure: marketExposure,
	})
	if !decision.Allowed {
		if err := o.store.MarkTradeSeen(ctx, key, "rejected", decision.Reason); err != nil {
			o.logger.Warn("failed to mark trade seen (rejected)", zap.Error(err))
		}
		return
	}

	// 5.d: persist seen_trades *before* submission, per the idempotency
	// guarantee, then the pending copy-trade row, then submit.
	if err := o.store.MarkTradeSeen(ctx, key, "pending", ""); err != nil {
		o.logger.Warn("failed to mark trade seen (pending)", zap.Error(err))
		return
	}
	o.submitNewCopyTrade(ctx, trade, decision.Size, *currentPrice, portfolio, now)
}

func (o *Orchestrator) marketExposure(ctx context.Context, marketID string) decimal.Decimal {
	positions, err := o.store.OpenPositions(ctx)
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

func (o *Orchestrator) submitNewCopyTrade(ctx context.Context, trade types.Trade, size, price decimal.Decimal, portfolio *types.PortfolioState, now time.Time) {
	ct := types.CopyTrade{
		ID:            utils.GenerateCopyTradeID(),
		SourceTrader:  trade.TraderAddress,
		SourceTradeID: trade.ID,
		MarketID:      trade.MarketID,
		Outcome:       trade.Outcome,
		Side:          trade.Side,
		SourceSize:    trade.Size,
		SourcePrice:   trade.Price,
		ExecutedSize:  decimal.Zero,
		ExecutedPrice: decimal.Zero,
		Status:        types.StatusPending,
		CreatedAt:     now,
	}
	if err := o.store.SaveCopyTrade(ctx, ct); err != nil {
		o.logger.Error("failed to persist pending copy-trade", zap.Error(err))
		return
	}

	if price.IsZero() {
		o.failCopyTrade(ctx, ct.ID, "zero quote price")
		return
	}
	shareSize := size.Div(price)

	result, err := o.submitOrder(ctx, trade.Outcome, trade.Side, shareSize)
	if err != nil {
		o.failCopyTrade(ctx, ct.ID, err.Error())
		return
	}

	status := types.StatusExecuted
	if o.cfg.DryRun {
		status = types.StatusSimulated
	}
	if err := o.store.UpdateCopyTradeStatus(ctx, ct.ID, status, ""); err != nil {
		o.logger.Error("failed to mark copy-trade executed", zap.Error(err))
	}

	pos := types.Position{
		MarketID:     trade.MarketID,
		Outcome:      trade.Outcome,
		Side:         trade.Side,
		Size:         result.FilledSize,
		AverageEntry: result.FilledPrice,
		CurrentPrice: result.FilledPrice,
		SourceTrader: trade.TraderAddress,
		OpenedAt:     now,
		RealizedPnL:  decimal.Zero,
	}
	if existing, err := o.store.GetPosition(ctx, pos.Key()); err == nil && existing != nil {
		existing.AddFill(pos.Size, pos.AverageEntry)
		existing.CurrentPrice = pos.CurrentPrice
		pos = *existing
	}
	if err := o.store.UpsertPosition(ctx, pos); err != nil {
		o.logger.Error("failed to persist new position", zap.Error(err))
	}

	cost := result.FilledSize.Mul(result.FilledPrice)
	portfolio.CashAvailable = portfolio.CashAvailable.Sub(cost)
	portfolio.TotalExposure = portfolio.TotalExposure.Add(cost)
	portfolio.PositionCount++
	portfolio.LastTradeAt = &now
}

func (o *Orchestrator) failCopyTrade(ctx context.Context, id, reason string) {
	if err := o.store.UpdateCopyTradeStatus(ctx, id, types.StatusFailed, reason); err != nil {
		o.logger.Error("failed to mark copy-trade failed", zap.Error(err))
	}
}

// recoverPendingCopyTrades implements step 6 and the crash-recovery pass:
// re-attempt every pending copy-trade created before cutoff. At startup,
// Start passes a cutoff 24h in the future so every pending row is included.
func (o *Orchestrator) recoverPendingCopyTrades(ctx context.Context, cutoff time.Time) error {
	pending, err := o.store.PendingCopyTrades(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, ct := range pending {
		if ct.RetryCount >= o.cfg.MaxPendingRetries {
			o.failCopyTrade(ctx, ct.ID, "retry budget exhausted")
			continue
		}
		if err := o.store.IncrementRetryCount(ctx, ct.ID); err != nil {
			o.logger.Warn("failed to increment retry count", zap.Error(err))
		}

		shareSize := decimal.Zero
		if ct.SourcePrice.IsPositive() {
			shareSize = ct.SourceSize
		}
		result, err := o.submitOrder(ctx, ct.Outcome, ct.Side, shareSize)
		if err != nil {
			o.logger.Warn("pending copy-trade retry failed, will retry again later",
				zap.String("id", ct.ID), zap.Error(err))
			continue
		}
		status := types.StatusExecuted
		if o.cfg.DryRun {
			status = types.StatusSimulated
		}
		if err := o.store.UpdateCopyTradeStatus(ctx, ct.ID, status, ""); err != nil {
			o.logger.Error("failed to mark retried copy-trade executed", zap.Error(err))
			continue
		}
		pos := types.Position{
			MarketID: ct.MarketID, Outcome: ct.Outcome, Side: ct.Side,
			Size: result.FilledSize, AverageEntry: result.FilledPrice,
			CurrentPrice: result.FilledPrice, SourceTrader: ct.SourceTrader,
			OpenedAt: o.clock.Now(), RealizedPnL: decimal.Zero,
		}
		if existing, err := o.store.GetPosition(ctx, pos.Key()); err == nil && existing != nil {
			existing.AddFill(pos.Size, pos.AverageEntry)
			pos = *existing
		}
		if err := o.store.UpsertPosition(ctx, pos); err != nil {
			o.logger.Error("failed to persist position from retried copy-trade", zap.Error(err))
		}
	}
	return nil
}

// recordTick implements step 7.
func (o *Orchestrator) recordTick(ctx context.Context, portfolio types.PortfolioState, bs *types.BotState, now time.Time) error {
	equity := portfolio.Equity()
	if equity.GreaterThan(portfolio.PeakEquity) {
		portfolio.PeakEquity = equity
	}

	if err := o.store.RecordEquityPoint(ctx, types.EquityPoint{
		Timestamp:     now,
		Equity:        equity,
		Exposure:      portfolio.TotalExposure,
		UnrealizedPnL: portfolio.UnrealizedPnL,
		RealizedPnL:   portfolio.RealizedPnL,
	}); err != nil {
		return err
	}

	bs.IsRunning = true
	bs.Mode = "live"
	bs.TotalValue = portfolio.TotalValue
	bs.CashAvailable = portfolio.CashAvailable
	bs.RealizedPnL = portfolio.RealizedPnL
	bs.PeakEquity = portfolio.PeakEquity
	bs.LastTradeAt = portfolio.LastTradeAt
	bs.LastLossAt = portfolio.LastLossAt
	bs.UpdatedAt = now
	return o.store.SaveBotState(ctx, *bs)
}
