package store

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidarc/copytrader/pkg/types"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMarkTradeSeenIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seen, err := s.HasSeenTrade(ctx, "trade-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkTradeSeen(ctx, "trade-1", "copied", ""))
	require.NoError(t, s.MarkTradeSeen(ctx, "trade-1", "copied", ""))

	seen, err = s.HasSeenTrade(ctx, "trade-1")
	require.NoError(t, err)
	assert.True(t, seen)

	n, err := s.CountSeenTrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCopyTradeReachesTerminalStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ct := types.CopyTrade{
		ID: "ct-1", SourceTrader: "0xabc", SourceTradeID: "trade-1",
		MarketID: "m1", Outcome: "YES", Side: types.Buy,
		SourceSize: decimal.NewFromInt(100), SourcePrice: decimal.NewFromFloat(0.5),
		ExecutedSize: decimal.Zero, ExecutedPrice: decimal.Zero,
		Status: types.StatusPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveCopyTrade(ctx, ct))

	pending, err := s.PendingCopyTrades(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.False(t, pending[0].Status.IsTerminal())

	require.NoError(t, s.UpdateCopyTradeStatus(ctx, "ct-1", types.StatusExecuted, ""))

	pending, err = s.PendingCopyTrades(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, pending, 0)
}

func TestPositionUpsertAndClose(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	p := types.Position{
		MarketID: "m1", Outcome: "YES", Side: types.Buy,
		Size: decimal.NewFromInt(100), AverageEntry: decimal.NewFromFloat(0.5),
		CurrentPrice: decimal.NewFromFloat(0.5), SourceTrader: "0xabc",
		OpenedAt: now, RealizedPnL: decimal.Zero,
	}
	require.NoError(t, s.UpsertPosition(ctx, p))

	open, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	key := p.Key()
	require.NoError(t, s.ClosePosition(ctx, key, now.Add(time.Hour), decimal.NewFromInt(15)))

	open, err = s.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 0)

	got, err := s.GetPosition(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.RealizedPnL.Equal(decimal.NewFromInt(15)))
	assert.NotNil(t, got.ClosedAt)
}

func TestBotStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetBotState(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	st := types.BotState{
		IsRunning: true, Mode: "live",
		TotalValue: decimal.NewFromInt(10000), CashAvailable: decimal.NewFromInt(9000),
		RealizedPnL: decimal.NewFromInt(100), PeakEquity: decimal.NewFromInt(10100),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveBotState(ctx, st))

	got, err = s.GetBotState(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsRunning)
	assert.True(t, got.TotalValue.Equal(decimal.NewFromInt(10000)))

	st.IsRunning = false
	require.NoError(t, s.SaveBotState(ctx, st))

	got, err = s.GetBotState(ctx)
	require.NoError(t, err)
	assert.False(t, got.IsRunning)
}

func TestAtomicRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := assert.AnError
	err := s.Atomic(ctx, func(tx *sqlx.Tx) error {
		_, execErr := tx.ExecContext(ctx, `INSERT INTO seen_trades (trade_id, status, reason, seen_at) VALUES (?, ?, ?, ?)`,
			"trade-rollback", "copied", "", time.Now().UTC().Format(isoLayout))
		require.NoError(t, execErr)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	seen, err := s.HasSeenTrade(ctx, "trade-rollback")
	require.NoError(t, err)
	assert.False(t, seen, "write inside a failed Atomic must not be visible")
}
