// Package store implements the state store (C5): CRUD and idempotent
// upserts over the seven-table schema of spec §6. Migrations are a concern
// of the adapter, per spec's component table — the interface below is what
// the orchestrator, paper engine, and CLI depend on; SQLite is the only
// adapter shipped.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lucidarc/copytrader/pkg/types"
)

// Store is the persistence contract every other component depends on.
type Store interface {
	// bot_state (single row, id=1)
	GetBotState(ctx context.Context) (*types.BotState, error)
	SaveBotState(ctx context.Context, s types.BotState) error

	// tracked_traders
	SaveTrader(ctx context.Context, t types.Trader) error
	GetTrackedAddresses(ctx context.Context) ([]string, error)
	GetTrader(ctx context.Context, address string) (*types.Trader, error)
	RemoveTrader(ctx context.Context, address string) error

	// trader_metrics (append-only snapshots)
	SaveMetrics(ctx context.Context, m types.TraderMetrics) error
	LatestMetrics(ctx context.Context, address string) (*types.TraderMetrics, error)

	// seen_trades (idempotency set)
	HasSeenTrade(ctx context.Context, tradeID string) (bool, error)
	MarkTradeSeen(ctx context.Context, tradeID, status, reason string) error
	CountSeenTrades(ctx context.Context) (int, error)

	// positions
	UpsertPosition(ctx context.Context, p types.Position) error
	OpenPositions(ctx context.Context) ([]types.Position, error)
	GetPosition(ctx context.Context, key types.PositionKey) (*types.Position, error)
	ClosePosition(ctx context.Context, key types.PositionKey, closedAt time.Time, realizedPnL decimal.Decimal) error

	// copy_trades
	SaveCopyTrade(ctx context.Context, c types.CopyTrade) error
	UpdateCopyTradeStatus(ctx context.Context, id string, status types.CopyTradeStatus, errMsg string) error
	PendingCopyTrades(ctx context.Context, olderThan time.Time) ([]types.CopyTrade, error)
	IncrementRetryCount(ctx context.Context, id string) error

	// equity_curve
	RecordEquityPoint(ctx context.Context, p types.EquityPoint) error
	LatestEquityPoint(ctx context.Context) (*types.EquityPoint, error)

	Close() error
}
