package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // CGO-free embedded driver

	"github.com/lucidarc/copytrader/pkg/types"
)

// SQLiteStore is the concrete C5 adapter: modernc.org/sqlite for the driver
// (grounded via stadam23-Eve-flipper's migration idiom) wrapped by
// jmoiron/sqlx for struct scanning (grounded via sawpanic-cryptorun's
// connection-pool-configuration idiom, repointed from postgres to sqlite).
// Every write is wrapped in an implicit single-statement transaction by
// database/sql itself. Atomic runs a caller-supplied function inside one
// explicit transaction, but the Store interface does not expose it: each
// Store method runs on its own, so a caller's multi-step sequence (such as
// saving a copy-trade and then upserting its position) is not wrapped in
// one transaction.
type SQLiteStore struct {
	db *sqlx.DB
}

const isoLayout = time.RFC3339

// Open opens (creating if necessary) the sqlite database at dsn and runs
// migrations. The connection pool is bounded to ~5 per spec §5.
func Open(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	var current int
	row := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`)
	err := row.Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		// table almost certainly doesn't exist yet; fall through to create it
		current = 0
	}

	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Close closes the underlying connection pool.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Atomic runs fn inside an explicit transaction, per spec §5's requirement
// that multi-step state transitions (e.g. insert copy-trade + update
// position) preserve invariants across a crash.
func (s *SQLiteStore) Atomic(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func fmtTime(t time.Time) string { return t.UTC().Format(isoLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(isoLayout, s)
	return t.UTC()
}

// --- bot_state ---

type botStateRow struct {
	ID            int            `db:"id"`
	IsRunning     bool           `db:"is_running"`
	Mode          string         `db:"mode"`
	TotalValue    string         `db:"total_value"`
	CashAvailable string         `db:"cash_available"`
	RealizedPnL   string         `db:"realized_pnl"`
	PeakEquity    string         `db:"peak_equity"`
	LastTradeAt   sql.NullString `db:"last_trade_at"`
	LastLossAt    sql.NullString `db:"last_loss_at"`
	UpdatedAt     string         `db:"updated_at"`
}

func (r botStateRow) toDomain() types.BotState {
	s := types.BotState{
		ID:            r.ID,
		IsRunning:     r.IsRunning,
		Mode:          r.Mode,
		TotalValue:    decimalOrZero(r.TotalValue),
		CashAvailable: decimalOrZero(r.CashAvailable),
		RealizedPnL:   decimalOrZero(r.RealizedPnL),
		PeakEquity:    decimalOrZero(r.PeakEquity),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
	if r.LastTradeAt.Valid {
		t := parseTime(r.LastTradeAt.String)
		s.LastTradeAt = &t
	}
	if r.LastLossAt.Valid {
		t := parseTime(r.LastLossAt.String)
		s.LastLossAt = &t
	}
	return s
}

func decimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func (s *SQLiteStore) GetBotState(ctx context.Context) (*types.BotState, error) {
	var row botStateRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM bot_state WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st := row.toDomain()
	return &st, nil
}

func (s *SQLiteStore) SaveBotState(ctx context.Context, st types.BotState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_state (id, is_running, mode, total_value, cash_available, realized_pnl, peak_equity, last_trade_at, last_loss_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_running = excluded.is_running,
			mode = excluded.mode,
			total_value = excluded.total_value,
			cash_available = excluded.cash_available,
			realized_pnl = excluded.realized_pnl,
			peak_equity = excluded.peak_equity,
			last_trade_at = excluded.last_trade_at,
			last_loss_at = excluded.last_loss_at,
			updated_at = excluded.updated_at`,
		st.IsRunning, st.Mode, st.TotalValue.String(), st.CashAvailable.String(),
		st.RealizedPnL.String(), st.PeakEquity.String(),
		nullableTime(st.LastTradeAt), nullableTime(st.LastLossAt), fmtTime(st.UpdatedAt))
	return err
}

// --- tracked_traders ---

func (s *SQLiteStore) SaveTrader(ctx context.Context, t types.Trader) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_traders (address, pseudonym, profile_image, is_tracked, tracking_since, allocation_weight, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			pseudonym = excluded.pseudonym,
			profile_image = excluded.profile_image,
			is_tracked = excluded.is_tracked,
			allocation_weight = excluded.allocation_weight,
			updated_at = excluded.updated_at`,
		t.Address, t.Pseudonym, t.ProfileImage, t.IsTracked, fmtTime(t.TrackingSince),
		t.AllocationWeight.String(), fmtTime(now), fmtTime(now))
	return err
}

func (s *SQLiteStore) GetTrackedAddresses(ctx context.Context) ([]string, error) {
	var addrs []string
	err := s.db.SelectContext(ctx, &addrs, `SELECT address FROM tracked_traders WHERE is_tracked = 1`)
	return addrs, err
}

type traderRow struct {
	Address          string `db:"address"`
	Pseudonym        string `db:"pseudonym"`
	ProfileImage     string `db:"profile_image"`
	IsTracked        bool   `db:"is_tracked"`
	TrackingSince    string `db:"tracking_since"`
	AllocationWeight string `db:"allocation_weight"`
}

func (s *SQLiteStore) GetTrader(ctx context.Context, address string) (*types.Trader, error) {
	var row traderRow
	err := s.db.GetContext(ctx, &row, `SELECT address, pseudonym, profile_image, is_tracked, tracking_since, allocation_weight FROM tracked_traders WHERE address = ?`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := &types.Trader{
		Address:          row.Address,
		Pseudonym:        row.Pseudonym,
		ProfileImage:     row.ProfileImage,
		IsTracked:        row.IsTracked,
		TrackingSince:    parseTime(row.TrackingSince),
		AllocationWeight: decimalOrZero(row.AllocationWeight),
	}
	m, err := s.LatestMetrics(ctx, address)
	if err != nil {
		return nil, err
	}
	t.Metrics = m
	return t, nil
}

func (s *SQLiteStore) RemoveTrader(ctx context.Context, address string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tracked_traders SET is_tracked = 0, updated_at = ? WHERE address = ?`, fmtTime(time.Now()), address)
	return err
}

// --- trader_metrics ---

func (s *SQLiteStore) SaveMetrics(ctx context.Context, m types.TraderMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trader_metrics (
			address, calculated_at, total_trades, total_volume, total_pnl, winning_trades, losing_trades,
			win_rate, avg_win, avg_loss, profit_factor, expectancy, max_drawdown, max_drawdown_abs, peak_equity,
			sharpe, sortino, calmar, avg_holding_hours, trades_per_day, pnl_7d, pnl_30d, win_rate_7d, win_rate_30d,
			composite_score, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.Address, fmtTime(m.CalculatedAt), m.TotalTrades, m.TotalVolume.String(), m.TotalPnL.String(),
		m.WinningTrades, m.LosingTrades, m.WinRate.String(), m.AvgWin.String(), m.AvgLoss.String(),
		m.ProfitFactor.String(), m.Expectancy.String(), m.MaxDrawdown, m.MaxDrawdownAbs.String(), m.PeakEquity.String(),
		m.Sharpe, m.Sortino, m.Calmar, m.AvgHoldingHours, m.TradesPerDay,
		m.PnL7d.String(), m.PnL30d.String(), m.WinRate7d.String(), m.WinRate30d.String(),
		m.CompositeScore, fmtTime(time.Now()))
	return err
}

type metricsRow struct {
	Address         string  `db:"address"`
	CalculatedAt    string  `db:"calculated_at"`
	TotalTrades     int     `db:"total_trades"`
	TotalVolume     string  `db:"total_volume"`
	TotalPnL        string  `db:"total_pnl"`
	WinningTrades   int     `db:"winning_trades"`
	LosingTrades    int     `db:"losing_trades"`
	WinRate         string  `db:"win_rate"`
	AvgWin          string  `db:"avg_win"`
	AvgLoss         string  `db:"avg_loss"`
	ProfitFactor    string  `db:"profit_factor"`
	Expectancy      string  `db:"expectancy"`
	MaxDrawdown     float64 `db:"max_drawdown"`
	MaxDrawdownAbs  string  `db:"max_drawdown_abs"`
	PeakEquity      string  `db:"peak_equity"`
	Sharpe          float64 `db:"sharpe"`
	Sortino         float64 `db:"sortino"`
	Calmar          float64 `db:"calmar"`
	AvgHoldingHours float64 `db:"avg_holding_hours"`
	TradesPerDay    float64 `db:"trades_per_day"`
	PnL7d           string  `db:"pnl_7d"`
	PnL30d          string  `db:"pnl_30d"`
	WinRate7d       string  `db:"win_rate_7d"`
	WinRate30d      string  `db:"win_rate_30d"`
	CompositeScore  float64 `db:"composite_score"`
}

func (r metricsRow) toDomain() types.TraderMetrics {
	return types.TraderMetrics{
		Address: r.Address, CalculatedAt: parseTime(r.CalculatedAt),
		TotalTrades: r.TotalTrades, TotalVolume: decimalOrZero(r.TotalVolume), TotalPnL: decimalOrZero(r.TotalPnL),
		WinningTrades: r.WinningTrades, LosingTrades: r.LosingTrades,
		WinRate: decimalOrZero(r.WinRate), AvgWin: decimalOrZero(r.AvgWin), AvgLoss: decimalOrZero(r.AvgLoss),
		ProfitFactor: decimalOrZero(r.ProfitFactor), Expectancy: decimalOrZero(r.Expectancy),
		MaxDrawdown: r.MaxDrawdown, MaxDrawdownAbs: decimalOrZero(r.MaxDrawdownAbs), PeakEquity: decimalOrZero(r.PeakEquity),
		Sharpe: r.Sharpe, Sortino: r.Sortino, Calmar: r.Calmar,
		AvgHoldingHours: r.AvgHoldingHours, TradesPerDay: r.TradesPerDay,
		PnL7d: decimalOrZero(r.PnL7d), PnL30d: decimalOrZero(r.PnL30d),
		WinRate7d: decimalOrZero(r.WinRate7d), WinRate30d: decimalOrZero(r.WinRate30d),
		CompositeScore: r.CompositeScore,
	}
}

func (s *SQLiteStore) LatestMetrics(ctx context.Context, address string) (*types.TraderMetrics, error) {
	var row metricsRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM trader_metrics WHERE address = ? ORDER BY calculated_at DESC LIMIT 1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m := row.toDomain()
	return &m, nil
}

// --- seen_trades ---

func (s *SQLiteStore) HasSeenTrade(ctx context.Context, tradeID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM seen_trades WHERE trade_id = ?`, tradeID)
	return n > 0, err
}

func (s *SQLiteStore) MarkTradeSeen(ctx context.Context, tradeID, status, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_trades (trade_id, status, reason, seen_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(trade_id) DO UPDATE SET status = excluded.status, reason = excluded.reason`,
		tradeID, status, reason, fmtTime(time.Now()))
	return err
}

func (s *SQLiteStore) CountSeenTrades(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM seen_trades`)
	return n, err
}

// --- positions ---

type positionRow struct {
	MarketID     string         `db:"market_id"`
	Outcome      string         `db:"outcome"`
	Side         string         `db:"side"`
	Size         string         `db:"size"`
	AverageEntry string         `db:"average_entry"`
	CurrentPrice string         `db:"current_price"`
	SourceTrader string         `db:"source_trader"`
	OpenedAt     string         `db:"opened_at"`
	ClosedAt     sql.NullString `db:"closed_at"`
	RealizedPnL  string         `db:"realized_pnl"`
}

func (r positionRow) toDomain() types.Position {
	p := types.Position{
		MarketID: r.MarketID, Outcome: r.Outcome, Side: types.Side(r.Side),
		Size: decimalOrZero(r.Size), AverageEntry: decimalOrZero(r.AverageEntry),
		CurrentPrice: decimalOrZero(r.CurrentPrice), SourceTrader: r.SourceTrader,
		OpenedAt: parseTime(r.OpenedAt), RealizedPnL: decimalOrZero(r.RealizedPnL),
	}
	if r.ClosedAt.Valid {
		t := parseTime(r.ClosedAt.String)
		p.ClosedAt = &t
	}
	return p
}

func (s *SQLiteStore) UpsertPosition(ctx context.Context, p types.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (market_id, outcome, side, size, average_entry, current_price, source_trader, opened_at, closed_at, realized_pnl)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(market_id, outcome, side) DO UPDATE SET
			size = excluded.size,
			average_entry = excluded.average_entry,
			current_price = excluded.current_price,
			source_trader = excluded.source_trader,
			closed_at = excluded.closed_at,
			realized_pnl = excluded.realized_pnl`,
		p.MarketID, p.Outcome, string(p.Side), p.Size.String(), p.AverageEntry.String(),
		p.CurrentPrice.String(), p.SourceTrader, fmtTime(p.OpenedAt), nullableTime(p.ClosedAt), p.RealizedPnL.String())
	return err
}

func (s *SQLiteStore) OpenPositions(ctx context.Context) ([]types.Position, error) {
	var rows []positionRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM positions WHERE closed_at IS NULL`)
	if err != nil {
		return nil, err
	}
	out := make([]types.Position, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *SQLiteStore) GetPosition(ctx context.Context, key types.PositionKey) (*types.Position, error) {
	var row positionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM positions WHERE market_id = ? AND outcome = ? AND side = ?`,
		key.MarketID, key.Outcome, string(key.Side))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := row.toDomain()
	return &p, nil
}

func (s *SQLiteStore) ClosePosition(ctx context.Context, key types.PositionKey, closedAt time.Time, realizedPnL decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE positions SET closed_at = ?, realized_pnl = ? WHERE market_id = ? AND outcome = ? AND side = ?`,
		fmtTime(closedAt), realizedPnL.String(), key.MarketID, key.Outcome, string(key.Side))
	return err
}

// --- copy_trades ---

func (s *SQLiteStore) SaveCopyTrade(ctx context.Context, c types.CopyTrade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO copy_trades (id, source_trader, source_trade_id, market_id, outcome, side, source_size, source_price,
			executed_size, executed_price, status, error_message, order_id, tx_hash, created_at, executed_at, retry_count)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.SourceTrader, c.SourceTradeID, c.MarketID, c.Outcome, string(c.Side),
		c.SourceSize.String(), c.SourcePrice.String(), c.ExecutedSize.String(), c.ExecutedPrice.String(),
		string(c.Status), c.ErrorMessage, c.OrderID, c.TxHash, fmtTime(c.CreatedAt), nullableTime(c.ExecutedAt), c.RetryCount)
	return err
}

func (s *SQLiteStore) UpdateCopyTradeStatus(ctx context.Context, id string, status types.CopyTradeStatus, errMsg string) error {
	var executedAt sql.NullString
	if status.IsTerminal() {
		executedAt = sql.NullString{String: fmtTime(time.Now()), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `UPDATE copy_trades SET status = ?, error_message = ?, executed_at = COALESCE(executed_at, ?) WHERE id = ?`,
		string(status), errMsg, executedAt, id)
	return err
}

type copyTradeRow struct {
	ID             string         `db:"id"`
	SourceTrader   string         `db:"source_trader"`
	SourceTradeID  string         `db:"source_trade_id"`
	MarketID       string         `db:"market_id"`
	Outcome        string         `db:"outcome"`
	Side           string         `db:"side"`
	SourceSize     string         `db:"source_size"`
	SourcePrice    string         `db:"source_price"`
	ExecutedSize   string         `db:"executed_size"`
	ExecutedPrice  string         `db:"executed_price"`
	Status         string         `db:"status"`
	ErrorMessage   string         `db:"error_message"`
	OrderID        string         `db:"order_id"`
	TxHash         string         `db:"tx_hash"`
	CreatedAt      string         `db:"created_at"`
	ExecutedAt     sql.NullString `db:"executed_at"`
	RetryCount     int            `db:"retry_count"`
}

func (r copyTradeRow) toDomain() types.CopyTrade {
	c := types.CopyTrade{
		ID: r.ID, SourceTrader: r.SourceTrader, SourceTradeID: r.SourceTradeID,
		MarketID: r.MarketID, Outcome: r.Outcome, Side: types.Side(r.Side),
		SourceSize: decimalOrZero(r.SourceSize), SourcePrice: decimalOrZero(r.SourcePrice),
		ExecutedSize: decimalOrZero(r.ExecutedSize), ExecutedPrice: decimalOrZero(r.ExecutedPrice),
		Status: types.CopyTradeStatus(r.Status), ErrorMessage: r.ErrorMessage,
		OrderID: r.OrderID, TxHash: r.TxHash, CreatedAt: parseTime(r.CreatedAt), RetryCount: r.RetryCount,
	}
	if r.ExecutedAt.Valid {
		t := parseTime(r.ExecutedAt.String)
		c.ExecutedAt = &t
	}
	return c
}

func (s *SQLiteStore) PendingCopyTrades(ctx context.Context, olderThan time.Time) ([]types.CopyTrade, error) {
	var rows []copyTradeRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM copy_trades WHERE status = 'pending' AND created_at <= ?`, fmtTime(olderThan))
	if err != nil {
		return nil, err
	}
	out := make([]types.CopyTrade, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *SQLiteStore) IncrementRetryCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE copy_trades SET retry_count = retry_count + 1 WHERE id = ?`, id)
	return err
}

// --- equity_curve ---

func (s *SQLiteStore) RecordEquityPoint(ctx context.Context, p types.EquityPoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO equity_curve (timestamp, equity, exposure, unrealized_pnl, realized_pnl) VALUES (?,?,?,?,?)`,
		fmtTime(p.Timestamp), p.Equity.String(), p.Exposure.String(), p.UnrealizedPnL.String(), p.RealizedPnL.String())
	return err
}

type equityRow struct {
	ID            int64  `db:"id"`
	Timestamp     string `db:"timestamp"`
	Equity        string `db:"equity"`
	Exposure      string `db:"exposure"`
	UnrealizedPnL string `db:"unrealized_pnl"`
	RealizedPnL   string `db:"realized_pnl"`
}

func (s *SQLiteStore) LatestEquityPoint(ctx context.Context) (*types.EquityPoint, error) {
	var row equityRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM equity_curve ORDER BY timestamp DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &types.EquityPoint{
		ID: row.ID, Timestamp: parseTime(row.Timestamp), Equity: decimalOrZero(row.Equity),
		Exposure: decimalOrZero(row.Exposure), UnrealizedPnL: decimalOrZero(row.UnrealizedPnL),
		RealizedPnL: decimalOrZero(row.RealizedPnL),
	}, nil
}

var _ Store = (*SQLiteStore)(nil)
