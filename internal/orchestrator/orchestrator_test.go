package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/internal/clock"
	"github.com/lucidarc/copytrader/internal/exchange"
	"github.com/lucidarc/copytrader/internal/marketdata"
	"github.com/lucidarc/copytrader/internal/sizing"
	"github.com/lucidarc/copytrader/internal/strategy"
	"github.com/lucidarc/copytrader/pkg/types"
)

// memStore is a minimal in-memory store.Store, sufficient to drive one tick
// of the orchestrator end to end without a real database.
type memStore struct {
	mu         sync.Mutex
	botState   *types.BotState
	traders    map[string]types.Trader
	metrics    map[string]types.TraderMetrics
	seen       map[string]bool
	positions  map[types.PositionKey]types.Position
	copyTrades map[string]types.CopyTrade
	equity     []types.EquityPoint
}

func newMemStore() *memStore {
	return &memStore{
		traders:    map[string]types.Trader{},
		metrics:    map[string]types.TraderMetrics{},
		seen:       map[string]bool{},
		positions:  map[types.PositionKey]types.Position{},
		copyTrades: map[string]types.CopyTrade{},
	}
}

func (m *memStore) GetBotState(ctx context.Context) (*types.BotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.botState == nil {
		return nil, nil
	}
	cp := *m.botState
	return &cp, nil
}

func (m *memStore) SaveBotState(ctx context.Context, s types.BotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.botState = &cp
	return nil
}

func (m *memStore) SaveTrader(ctx context.Context, t types.Trader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traders[t.Address] = t
	return nil
}

func (m *memStore) GetTrackedAddresses(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for addr, t := range m.traders {
		if t.IsTracked {
			out = append(out, addr)
		}
	}
	return out, nil
}

func (m *memStore) GetTrader(ctx context.Context, address string) (*types.Trader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traders[address]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memStore) RemoveTrader(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.traders, address)
	return nil
}

func (m *memStore) SaveMetrics(ctx context.Context, mt types.TraderMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[mt.Address] = mt
	return nil
}

func (m *memStore) LatestMetrics(ctx context.Context, address string) (*types.TraderMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.metrics[address]
	if !ok {
		return nil, nil
	}
	return &mt, nil
}

func (m *memStore) HasSeenTrade(ctx context.Context, tradeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[tradeID], nil
}

func (m *memStore) MarkTradeSeen(ctx context.Context, tradeID, status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[tradeID] = true
	return nil
}

func (m *memStore) CountSeenTrades(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen), nil
}

func (m *memStore) UpsertPosition(ctx context.Context, p types.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Key()] = p
	return nil
}

func (m *memStore) OpenPositions(ctx context.Context) ([]types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) GetPosition(ctx context.Context, key types.PositionKey) (*types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) ClosePosition(ctx context.Context, key types.PositionKey, closedAt time.Time, realizedPnL decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, key)
	return nil
}

func (m *memStore) SaveCopyTrade(ctx context.Context, c types.CopyTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copyTrades[c.ID] = c
	return nil
}

func (m *memStore) UpdateCopyTradeStatus(ctx context.Context, id string, status types.CopyTradeStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ct, ok := m.copyTrades[id]
	if !ok {
		return nil
	}
	ct.Status = status
	ct.ErrorMessage = errMsg
	m.copyTrades[id] = ct
	return nil
}

func (m *memStore) PendingCopyTrades(ctx context.Context, olderThan time.Time) ([]types.CopyTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.CopyTrade
	for _, ct := range m.copyTrades {
		if ct.Status == types.StatusPending && ct.CreatedAt.Before(olderThan) {
			out = append(out, ct)
		}
	}
	return out, nil
}

func (m *memStore) IncrementRetryCount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ct, ok := m.copyTrades[id]
	if !ok {
		return nil
	}
	ct.RetryCount++
	m.copyTrades[id] = ct
	return nil
}

func (m *memStore) RecordEquityPoint(ctx context.Context, p types.EquityPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = append(m.equity, p)
	return nil
}

func (m *memStore) LatestEquityPoint(ctx context.Context) (*types.EquityPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.equity) == 0 {
		return nil, nil
	}
	cp := m.equity[len(m.equity)-1]
	return &cp, nil
}

func (m *memStore) Close() error { return nil }

// fakeMarket serves one fixed trade per tracked trader and a constant
// best bid/ask, enough to drive one orchestrator tick deterministically.
type fakeMarket struct {
	trades map[string][]types.Trade
	bid    decimal.Decimal
	ask    decimal.Decimal
}

func (f *fakeMarket) GetLeaderboard(ctx context.Context, category, period, orderBy string, limit, offset int) ([]marketdata.LeaderboardEntry, error) {
	return nil, nil
}
// GetPositions reports the trader as still holding every market/outcome it
// has a trade in, so evaluateExits's "trader_exited" rule does not fire on
// traders this fake never actually sees exit.
func (f *fakeMarket) GetPositions(ctx context.Context, wallet string, limit int) ([]types.Position, error) {
	var out []types.Position
	for _, trade := range f.trades[wallet] {
		out = append(out, types.Position{MarketID: trade.MarketID, Outcome: trade.Outcome, Size: decimal.NewFromInt(1)})
	}
	return out, nil
}
func (f *fakeMarket) GetTrades(ctx context.Context, wallet string, limit int, market *string) ([]types.Trade, error) {
	return f.trades[wallet], nil
}
func (f *fakeMarket) GetPortfolioValue(ctx context.Context, wallet string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeMarket) GetActivity(ctx context.Context, wallet string, kind *string, limit int) ([]marketdata.ActivityRow, error) {
	return nil, nil
}
func (f *fakeMarket) GetBestBid(ctx context.Context, token string) (*decimal.Decimal, error) {
	b := f.bid
	return &b, nil
}
func (f *fakeMarket) GetBestAsk(ctx context.Context, token string) (*decimal.Decimal, error) {
	a := f.ask
	return &a, nil
}
func (f *fakeMarket) GetOrderBook(ctx context.Context, token string) (marketdata.OrderBook, error) {
	return marketdata.OrderBook{}, nil
}

var _ marketdata.Client = (*fakeMarket)(nil)

// fakeExchange fills every market order at a fixed price, recording how
// many orders it was asked to place.
type fakeExchange struct {
	mu     sync.Mutex
	fills  int
	price  decimal.Decimal
}

func (f *fakeExchange) MarketOrder(ctx context.Context, token string, side types.Side, size decimal.Decimal) (exchange.OrderResult, error) {
	f.mu.Lock()
	f.fills++
	f.mu.Unlock()
	return exchange.OrderResult{Success: true, Status: "filled", FilledSize: size, FilledPrice: f.price}, nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeExchange) GetOrder(ctx context.Context, orderID string) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, nil
}

var _ exchange.Client = (*fakeExchange)(nil)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func relaxedStrategyConfig() types.StrategyConfig {
	cfg := types.DefaultStrategyConfig()
	cfg.RequireProfitableTrader = false
	cfg.MinTraderScore = 0
	cfg.MaxTradeAgeSecs = 1 << 30
	cfg.MaxConcurrentPositions = 10
	cfg.MaxSingleMarketExposure = 1
	cfg.MinTradeIntervalSecs = 0
	return cfg
}

func newTestOrchestrator(st *memStore, market marketdata.Client, ex exchange.Client, cfg types.TradingConfig) *Orchestrator {
	sizer := sizing.New(zap.NewNop(), types.DefaultSizingConfig())
	evaluator := strategy.New(zap.NewNop(), relaxedStrategyConfig())
	return New(zap.NewNop(), st, market, ex, sizer, evaluator, clock.System{}, cfg)
}

func TestTickOpensPositionFromTrackedTraderTrade(t *testing.T) {
	now := time.Now().UTC()
	st := newMemStore()
	require.NoError(t, st.SaveTrader(context.Background(), types.Trader{
		Address: "0xabc", IsTracked: true, TrackingSince: now, AllocationWeight: d(1),
	}))

	market := &fakeMarket{
		trades: map[string][]types.Trade{
			"0xabc": {{
				ID: "t1", TraderAddress: "0xabc", MarketID: "m1", Outcome: "Yes",
				Side: types.Buy, Size: d(1000), Price: d(0.40), Notional: d(400),
				Timestamp: now,
			}},
		},
		bid: d(0.40), ask: d(0.40),
	}
	ex := &fakeExchange{price: d(0.40)}

	cfg := types.DefaultTradingConfig()
	cfg.DryRun = false
	orch := newTestOrchestrator(st, market, ex, cfg)

	require.NoError(t, orch.Tick(context.Background()))

	positions, err := st.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1, "the tracked trader's buy should mirror into one open position")
	require.Equal(t, "0xabc", positions[0].SourceTrader)

	require.Equal(t, 1, ex.fills, "exactly one market order should have been submitted")

	bs, err := st.GetBotState(context.Background())
	require.NoError(t, err)
	require.NotNil(t, bs)
	require.True(t, bs.CashAvailable.LessThan(bs.TotalValue), "cash should be debited by the entry cost")
}

func TestTickSkipsTradeAlreadySeen(t *testing.T) {
	now := time.Now().UTC()
	st := newMemStore()
	require.NoError(t, st.SaveTrader(context.Background(), types.Trader{
		Address: "0xabc", IsTracked: true, TrackingSince: now, AllocationWeight: d(1),
	}))
	trade := types.Trade{
		ID: "t1", TraderAddress: "0xabc", MarketID: "m1", Outcome: "Yes",
		Side: types.Buy, Size: d(1000), Price: d(0.40), Notional: d(400),
		Timestamp: now,
	}
	market := &fakeMarket{trades: map[string][]types.Trade{"0xabc": {trade}}, bid: d(0.40), ask: d(0.40)}
	ex := &fakeExchange{price: d(0.40)}

	cfg := types.DefaultTradingConfig()
	cfg.DryRun = false
	orch := newTestOrchestrator(st, market, ex, cfg)

	require.NoError(t, orch.Tick(context.Background()))
	require.Equal(t, 1, ex.fills)

	// A second tick observes the same trade id again; it must not be mirrored twice.
	require.NoError(t, orch.Tick(context.Background()))
	require.Equal(t, 1, ex.fills, "an already-seen trade must not be mirrored a second time")
}

func TestTickHaltsWhenDrawdownBreached(t *testing.T) {
	now := time.Now().UTC()
	st := newMemStore()
	require.NoError(t, st.SaveBotState(context.Background(), types.BotState{
		IsRunning: true, Mode: "live",
		TotalValue: d(10000), CashAvailable: d(10000),
		RealizedPnL: d(-5000), PeakEquity: d(10000),
		UpdatedAt: now,
	}))
	require.NoError(t, st.SaveTrader(context.Background(), types.Trader{
		Address: "0xabc", IsTracked: true, TrackingSince: now, AllocationWeight: d(1),
	}))
	market := &fakeMarket{
		trades: map[string][]types.Trade{"0xabc": {{
			ID: "t1", TraderAddress: "0xabc", MarketID: "m1", Outcome: "Yes",
			Side: types.Buy, Size: d(1000), Price: d(0.40), Notional: d(400),
			Timestamp: now,
		}}},
		bid: d(0.40), ask: d(0.40),
	}
	ex := &fakeExchange{price: d(0.40)}

	cfg := types.DefaultTradingConfig()
	cfg.DryRun = false
	orch := newTestOrchestrator(st, market, ex, cfg)

	require.NoError(t, orch.Tick(context.Background()))

	require.Equal(t, 0, ex.fills, "trading should halt entirely once the drawdown cap is breached")
	positions, err := st.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Empty(t, positions)
}
