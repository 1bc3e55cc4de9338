// Package types provides the shared value types for the copy-trading engine:
// trades, positions, trader metrics, and portfolio state. All monetary and
// price quantities are fixed-precision decimal.Decimal; float64 is used only
// for TraderMetrics' ratio, duration and score statistics (MaxDrawdown,
// Sharpe, Sortino, Calmar, AvgHoldingHours, TradesPerDay, CompositeScore).
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade or position.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// SizingMethod is the closed set of position-sizing policies (spec §9: no
// open polymorphism needed here).
type SizingMethod string

const (
	SizingKelly          SizingMethod = "kelly"
	SizingFixedFraction  SizingMethod = "fixed_fraction"
	SizingRiskParity     SizingMethod = "risk_parity"
	SizingProportional   SizingMethod = "proportional"
)

// ExitReason enumerates why a position was signalled to close.
type ExitReason string

const (
	ExitNone             ExitReason = "none"
	ExitTakeProfit       ExitReason = "take_profit"
	ExitStopLoss         ExitReason = "stop_loss"
	ExitMaxHoldingPeriod ExitReason = "max_holding_period"
	ExitTraderExited     ExitReason = "trader_exited"
	ExitMarketResolution ExitReason = "market_resolution"
	ExitPortfolioRisk    ExitReason = "portfolio_risk"
)

// Urgency describes how quickly an exit must be actioned.
type Urgency string

const (
	UrgencyNone      Urgency = "none"
	UrgencyNormal    Urgency = "normal"
	UrgencyImmediate Urgency = "immediate"
)

// CopyTradeStatus is the terminal-status set every copy_trades row reaches.
type CopyTradeStatus string

const (
	StatusPending   CopyTradeStatus = "pending"
	StatusExecuted  CopyTradeStatus = "executed"
	StatusSimulated CopyTradeStatus = "simulated"
	StatusFailed    CopyTradeStatus = "failed"
	StatusRejected  CopyTradeStatus = "rejected"
)

// IsTerminal reports whether the status represents a finished attempt.
func (s CopyTradeStatus) IsTerminal() bool {
	return s != StatusPending
}

// Trade is one execution observed on a source account.
type Trade struct {
	ID             string          `db:"id" json:"id"`
	TraderAddress  string          `db:"trader_address" json:"traderAddress"`
	MarketID       string          `db:"market_id" json:"marketId"`
	Outcome        string          `db:"outcome" json:"outcome"`
	Side           Side            `db:"side" json:"side"`
	Size           decimal.Decimal `db:"size" json:"size"`
	Price          decimal.Decimal `db:"price" json:"price"`
	Notional       decimal.Decimal `db:"notional" json:"notional"`
	Timestamp      time.Time       `db:"timestamp" json:"timestamp"`
	TxHash         string          `db:"tx_hash" json:"txHash"`
	Fee            decimal.Decimal `db:"fee" json:"fee"`
}

// Valid reports the invariants spec §3 places on a Trade.
func (t Trade) Valid() bool {
	if t.Price.LessThan(decimal.Zero) || t.Price.GreaterThan(decimal.NewFromInt(1)) {
		return false
	}
	expected := t.Size.Mul(t.Price)
	diff := expected.Sub(t.Notional).Abs()
	return diff.LessThanOrEqual(decimal.NewFromFloat(1e-6))
}

// PositionKey uniquely identifies an open Position.
type PositionKey struct {
	MarketID string
	Outcome  string
	Side     Side
}

// Position is one open (or closed) holding, keyed by (market, outcome, side).
type Position struct {
	MarketID      string          `db:"market_id" json:"marketId"`
	Outcome       string          `db:"outcome" json:"outcome"`
	Side          Side            `db:"side" json:"side"`
	Size          decimal.Decimal `db:"size" json:"size"`
	AverageEntry  decimal.Decimal `db:"average_entry" json:"averageEntry"`
	CurrentPrice  decimal.Decimal `db:"current_price" json:"currentPrice"`
	SourceTrader  string          `db:"source_trader" json:"sourceTrader,omitempty"`
	OpenedAt      time.Time       `db:"opened_at" json:"openedAt"`
	ClosedAt      *time.Time      `db:"closed_at" json:"closedAt,omitempty"`
	RealizedPnL   decimal.Decimal `db:"realized_pnl" json:"realizedPnl"`
}

// Key returns the unique identity tuple for this position.
func (p Position) Key() PositionKey {
	return PositionKey{MarketID: p.MarketID, Outcome: p.Outcome, Side: p.Side}
}

// CostBasis is size * average_entry.
func (p Position) CostBasis() decimal.Decimal {
	return p.Size.Mul(p.AverageEntry)
}

// CurrentValue is size * current_price.
func (p Position) CurrentValue() decimal.Decimal {
	return p.Size.Mul(p.CurrentPrice)
}

// UnrealizedPnL is (current - entry) * size, sign-flipped for a short (Sell) position.
func (p Position) UnrealizedPnL() decimal.Decimal {
	delta := p.CurrentPrice.Sub(p.AverageEntry).Mul(p.Size)
	if p.Side == Sell {
		return delta.Neg()
	}
	return delta
}

// ReturnPct is the position's return percentage per spec §4.3: (current-entry)/entry
// for a Buy, (entry-current)/entry for a Sell.
func (p Position) ReturnPct() decimal.Decimal {
	if p.AverageEntry.IsZero() {
		return decimal.Zero
	}
	if p.Side == Sell {
		return p.AverageEntry.Sub(p.CurrentPrice).Div(p.AverageEntry)
	}
	return p.CurrentPrice.Sub(p.AverageEntry).Div(p.AverageEntry)
}

// AddFill averages a same-side fill into the position: new_avg = (old_cost + add_cost) / new_size.
func (p *Position) AddFill(size, price decimal.Decimal) {
	oldCost := p.CostBasis()
	addCost := size.Mul(price)
	newSize := p.Size.Add(size)
	if newSize.IsZero() {
		p.AverageEntry = decimal.Zero
	} else {
		p.AverageEntry = oldCost.Add(addCost).Div(newSize)
	}
	p.Size = newSize
}

// TraderMetrics is a derived statistics snapshot for one tracked trader.
type TraderMetrics struct {
	Address          string          `db:"address" json:"address"`
	TotalTrades      int             `db:"total_trades" json:"totalTrades"`
	TotalVolume      decimal.Decimal `db:"total_volume" json:"totalVolume"`
	TotalPnL         decimal.Decimal `db:"total_pnl" json:"totalPnl"`
	WinningTrades    int             `db:"winning_trades" json:"winningTrades"`
	LosingTrades     int             `db:"losing_trades" json:"losingTrades"`
	WinRate          decimal.Decimal `db:"win_rate" json:"winRate"`
	AvgWin           decimal.Decimal `db:"avg_win" json:"avgWin"`
	AvgLoss          decimal.Decimal `db:"avg_loss" json:"avgLoss"`
	ProfitFactor     decimal.Decimal `db:"profit_factor" json:"profitFactor"`
	Expectancy       decimal.Decimal `db:"expectancy" json:"expectancy"`
	MaxDrawdown      float64         `db:"max_drawdown" json:"maxDrawdown"`
	MaxDrawdownAbs   decimal.Decimal `db:"max_drawdown_abs" json:"maxDrawdownAbs"`
	PeakEquity       decimal.Decimal `db:"peak_equity" json:"peakEquity"`
	Sharpe           float64         `db:"sharpe" json:"sharpe"`
	Sortino          float64         `db:"sortino" json:"sortino"`
	Calmar           float64         `db:"calmar" json:"calmar"`
	AvgHoldingHours  float64         `db:"avg_holding_hours" json:"avgHoldingHours"`
	TradesPerDay     float64         `db:"trades_per_day" json:"tradesPerDay"`
	PnL7d            decimal.Decimal `db:"pnl_7d" json:"pnl7d"`
	PnL30d           decimal.Decimal `db:"pnl_30d" json:"pnl30d"`
	WinRate7d        decimal.Decimal `db:"win_rate_7d" json:"winRate7d"`
	WinRate30d       decimal.Decimal `db:"win_rate_30d" json:"winRate30d"`
	CompositeScore   float64         `db:"composite_score" json:"compositeScore"`
	CalculatedAt     time.Time       `db:"calculated_at" json:"calculatedAt"`
}

// IsQuality reports the quality-trader predicate of spec §4.1.
func (m TraderMetrics) IsQuality() bool {
	winRate, _ := m.WinRate.Float64()
	totalPnL, _ := m.TotalPnL.Float64()
	return m.TotalTrades >= 20 &&
		winRate >= 0.52 &&
		m.Sharpe >= 0.3 &&
		m.MaxDrawdown <= 0.5 &&
		totalPnL > 0
}

// PortfolioState is the running aggregate the orchestrator maintains each tick.
type PortfolioState struct {
	TotalValue      decimal.Decimal `json:"totalValue"`
	CashAvailable   decimal.Decimal `json:"cashAvailable"`
	TotalExposure   decimal.Decimal `json:"totalExposure"`
	UnrealizedPnL   decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnL     decimal.Decimal `json:"realizedPnl"`
	PeakEquity      decimal.Decimal `json:"peakEquity"`
	PositionCount   int             `json:"positionCount"`
	LastTradeAt     *time.Time      `json:"lastTradeAt,omitempty"`
	LastLossAt      *time.Time      `json:"lastLossAt,omitempty"`
}

// Equity is total_value + realized_pnl + unrealized_pnl.
func (p PortfolioState) Equity() decimal.Decimal {
	return p.TotalValue.Add(p.RealizedPnL).Add(p.UnrealizedPnL)
}

// CurrentDrawdown is max(0, (peak_equity - equity) / peak_equity).
func (p PortfolioState) CurrentDrawdown() decimal.Decimal {
	if p.PeakEquity.IsZero() {
		return decimal.Zero
	}
	dd := p.PeakEquity.Sub(p.Equity()).Div(p.PeakEquity)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// Trader is a tracked source account plus its latest metrics snapshot.
// Note (spec §9): Position never back-references Trader; only
// trader_address is stored on Position, avoiding a cyclic in-memory graph.
type Trader struct {
	Address         string         `db:"address" json:"address"`
	Pseudonym       string         `db:"pseudonym" json:"pseudonym"`
	ProfileImage    string         `db:"profile_image" json:"profileImage"`
	IsTracked       bool           `db:"is_tracked" json:"isTracked"`
	TrackingSince   time.Time      `db:"tracking_since" json:"trackingSince"`
	AllocationWeight decimal.Decimal `db:"allocation_weight" json:"allocationWeight"`
	Metrics         *TraderMetrics `json:"metrics,omitempty"`
}

// EquityPoint is one periodic portfolio snapshot recorded into equity_curve.
type EquityPoint struct {
	ID            int64           `db:"id" json:"id"`
	Timestamp     time.Time       `db:"timestamp" json:"timestamp"`
	Equity        decimal.Decimal `db:"equity" json:"equity"`
	Exposure      decimal.Decimal `db:"exposure" json:"exposure"`
	UnrealizedPnL decimal.Decimal `db:"unrealized_pnl" json:"unrealizedPnl"`
	RealizedPnL   decimal.Decimal `db:"realized_pnl" json:"realizedPnl"`
}

// CopyTrade is one row per mirrored-trade attempt.
type CopyTrade struct {
	ID             string          `db:"id" json:"id"`
	SourceTrader   string          `db:"source_trader" json:"sourceTrader"`
	SourceTradeID  string          `db:"source_trade_id" json:"sourceTradeId"`
	MarketID       string          `db:"market_id" json:"marketId"`
	Outcome        string          `db:"outcome" json:"outcome"`
	Side           Side            `db:"side" json:"side"`
	SourceSize     decimal.Decimal `db:"source_size" json:"sourceSize"`
	SourcePrice    decimal.Decimal `db:"source_price" json:"sourcePrice"`
	ExecutedSize   decimal.Decimal `db:"executed_size" json:"executedSize"`
	ExecutedPrice  decimal.Decimal `db:"executed_price" json:"executedPrice"`
	Status         CopyTradeStatus `db:"status" json:"status"`
	ErrorMessage   string          `db:"error_message" json:"errorMessage,omitempty"`
	OrderID        string          `db:"order_id" json:"orderId,omitempty"`
	TxHash         string          `db:"tx_hash" json:"txHash,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	ExecutedAt     *time.Time      `db:"executed_at" json:"executedAt,omitempty"`
	RetryCount     int             `db:"retry_count" json:"retryCount"`
}

// BotState is the single-row (id=1) runtime snapshot persisted each tick.
type BotState struct {
	ID            int             `db:"id" json:"id"`
	IsRunning     bool            `db:"is_running" json:"isRunning"`
	Mode          string          `db:"mode" json:"mode"`
	TotalValue    decimal.Decimal `db:"total_value" json:"totalValue"`
	CashAvailable decimal.Decimal `db:"cash_available" json:"cashAvailable"`
	RealizedPnL   decimal.Decimal `db:"realized_pnl" json:"realizedPnl"`
	PeakEquity    decimal.Decimal `db:"peak_equity" json:"peakEquity"`
	LastTradeAt   *time.Time      `db:"last_trade_at" json:"lastTradeAt,omitempty"`
	LastLossAt    *time.Time      `db:"last_loss_at" json:"lastLossAt,omitempty"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// EntryDecision is the verdict of validate_entry.
type EntryDecision struct {
	Allowed bool
	Size    decimal.Decimal
	Reason  string
}

// ExitDecision is the verdict of check_exit.
type ExitDecision struct {
	ShouldExit bool
	Reason     ExitReason
	Urgency    Urgency
}
