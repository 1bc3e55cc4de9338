// Package marketdata implements the read-API and order-book oracle client
// (C9): leaderboard discovery, trader positions/trades/activity, portfolio
// value, and best bid/ask/order-book lookups against the exchange's public
// data API.
//
// Grounded on original_source/src/api/data_client.rs (DataClient): same
// endpoints, same camelCase response shapes, same 30s timeout, rebuilt
// around go-resty/resty/v2 and classified through internal/errkind instead
// of anyhow::Result.
package marketdata

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/lucidarc/copytrader/pkg/types"
)

// LeaderboardEntry is one row of /v1/leaderboard.
type LeaderboardEntry struct {
	Rank            string          `json:"rank"`
	ProxyWallet     string          `json:"proxyWallet"`
	UserName        string          `json:"userName"`
	Vol             decimal.Decimal `json:"vol"`
	PnL             decimal.Decimal `json:"pnl"`
	ProfileImage    string          `json:"profileImage"`
	XUsername       string          `json:"xUsername"`
	VerifiedBadge   bool            `json:"verifiedBadge"`
}

// ActivityRow is one row of /activity.
type ActivityRow struct {
	Type            string          `json:"type"`
	ProxyWallet     string          `json:"proxyWallet"`
	ConditionID     string          `json:"conditionId"`
	Size            decimal.Decimal `json:"size"`
	UsdcSize        decimal.Decimal `json:"usdcSize"`
	Timestamp       int64           `json:"timestamp"`
	TransactionHash string          `json:"transactionHash"`
	Side            string          `json:"side"`
	Outcome         string          `json:"outcome"`
}

// BookLevel is one price/size rung of an order book.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is the CLOB's book snapshot for one token.
type OrderBook struct {
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Hash      string      `json:"hash"`
	Timestamp string      `json:"timestamp"`
}

// Client is the read-only contract the orchestrator, CLI, and paper engine
// depend on for trader discovery and live pricing (spec §6).
type Client interface {
	GetLeaderboard(ctx context.Context, category, period, orderBy string, limit, offset int) ([]LeaderboardEntry, error)
	GetPositions(ctx context.Context, wallet string, limit int) ([]types.Position, error)
	GetTrades(ctx context.Context, wallet string, limit int, market *string) ([]types.Trade, error)
	GetPortfolioValue(ctx context.Context, wallet string) (decimal.Decimal, error)
	GetActivity(ctx context.Context, wallet string, kind *string, limit int) ([]ActivityRow, error)
	GetBestBid(ctx context.Context, token string) (*decimal.Decimal, error)
	GetBestAsk(ctx context.Context, token string) (*decimal.Decimal, error)
	GetOrderBook(ctx context.Context, token string) (OrderBook, error)
}
