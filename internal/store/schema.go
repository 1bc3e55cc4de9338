package store

// Hand-rolled versioned migrations, following stadam23-Eve-flipper's
// internal/db/db.go idiom: a schema_version table gates which
// CREATE TABLE IF NOT EXISTS blocks still need to run, rather than pulling
// in a migration-framework dependency for seven small tables.

const schemaVersion = 1

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,

	`CREATE TABLE IF NOT EXISTS bot_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		is_running INTEGER NOT NULL DEFAULT 0,
		mode TEXT NOT NULL DEFAULT 'live',
		total_value TEXT NOT NULL DEFAULT '0',
		cash_available TEXT NOT NULL DEFAULT '0',
		realized_pnl TEXT NOT NULL DEFAULT '0',
		peak_equity TEXT NOT NULL DEFAULT '0',
		last_trade_at TEXT,
		last_loss_at TEXT,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS tracked_traders (
		address TEXT PRIMARY KEY,
		pseudonym TEXT NOT NULL DEFAULT '',
		profile_image TEXT NOT NULL DEFAULT '',
		is_tracked INTEGER NOT NULL DEFAULT 1,
		tracking_since TEXT NOT NULL,
		allocation_weight TEXT NOT NULL DEFAULT '1',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS trader_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		calculated_at TEXT NOT NULL,
		total_trades INTEGER NOT NULL,
		total_volume TEXT NOT NULL,
		total_pnl TEXT NOT NULL,
		winning_trades INTEGER NOT NULL,
		losing_trades INTEGER NOT NULL,
		win_rate TEXT NOT NULL,
		avg_win TEXT NOT NULL,
		avg_loss TEXT NOT NULL,
		profit_factor TEXT NOT NULL,
		expectancy TEXT NOT NULL,
		max_drawdown REAL NOT NULL,
		max_drawdown_abs TEXT NOT NULL,
		peak_equity TEXT NOT NULL,
		sharpe REAL NOT NULL,
		sortino REAL NOT NULL,
		calmar REAL NOT NULL,
		avg_holding_hours REAL NOT NULL,
		trades_per_day REAL NOT NULL,
		pnl_7d TEXT NOT NULL,
		pnl_30d TEXT NOT NULL,
		win_rate_7d TEXT NOT NULL,
		win_rate_30d TEXT NOT NULL,
		composite_score REAL NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trader_metrics_address ON trader_metrics(address)`,

	`CREATE TABLE IF NOT EXISTS seen_trades (
		trade_id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'seen',
		reason TEXT NOT NULL DEFAULT '',
		seen_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS positions (
		market_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		side TEXT NOT NULL,
		size TEXT NOT NULL,
		average_entry TEXT NOT NULL,
		current_price TEXT NOT NULL,
		source_trader TEXT NOT NULL DEFAULT '',
		opened_at TEXT NOT NULL,
		closed_at TEXT,
		realized_pnl TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (market_id, outcome, side)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_open ON positions(closed_at)`,

	`CREATE TABLE IF NOT EXISTS copy_trades (
		id TEXT PRIMARY KEY,
		source_trader TEXT NOT NULL,
		source_trade_id TEXT NOT NULL,
		market_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		side TEXT NOT NULL,
		source_size TEXT NOT NULL,
		source_price TEXT NOT NULL,
		executed_size TEXT NOT NULL DEFAULT '0',
		executed_price TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		tx_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		executed_at TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_copy_trades_status ON copy_trades(status)`,

	`CREATE TABLE IF NOT EXISTS equity_curve (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		equity TEXT NOT NULL,
		exposure TEXT NOT NULL,
		unrealized_pnl TEXT NOT NULL,
		realized_pnl TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_equity_curve_timestamp ON equity_curve(timestamp)`,
}
