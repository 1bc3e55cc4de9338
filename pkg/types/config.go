// Package types provides configuration types for the copy-trading engine.
package types

import "time"

// SizingConfig parameterizes the position sizer (C3, spec §4.2).
type SizingConfig struct {
	Method            SizingMethod `mapstructure:"method" json:"method"`
	KellyFraction     float64      `mapstructure:"kelly_fraction" json:"kellyFraction"`
	MaxSinglePosition float64      `mapstructure:"max_single_position" json:"maxSinglePosition"`
	MaxPortfolioAlloc float64      `mapstructure:"max_portfolio_allocation" json:"maxPortfolioAllocation"`
	MinTradeSize      float64      `mapstructure:"min_trade_size" json:"minTradeSize"`
	MaxTradeSize      float64      `mapstructure:"max_trade_size" json:"maxTradeSize"`
}

// DefaultSizingConfig matches the conservative defaults implied by the
// Kelly-fraction glossary entry (a "conservative scaling, typically 0.25").
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		Method:            SizingProportional,
		KellyFraction:     0.25,
		MaxSinglePosition: 0.10,
		MaxPortfolioAlloc: 0.60,
		MinTradeSize:      5,
		MaxTradeSize:      5000,
	}
}

// StrategyConfig parameterizes the strategy evaluator (C4, spec §4.3).
type StrategyConfig struct {
	MaxTradeAgeSecs           int64   `mapstructure:"max_trade_age_secs" json:"maxTradeAgeSecs"`
	MinEntryPrice             float64 `mapstructure:"min_entry_price" json:"minEntryPrice"`
	MaxEntryPrice             float64 `mapstructure:"max_entry_price" json:"maxEntryPrice"`
	MaxEntrySlippage          float64 `mapstructure:"max_entry_slippage" json:"maxEntrySlippage"`
	MinTraderScore            float64 `mapstructure:"min_trader_score" json:"minTraderScore"`
	RequireProfitableTrader   bool    `mapstructure:"require_profitable_trader" json:"requireProfitableTrader"`
	MaxPortfolioDrawdown      float64 `mapstructure:"max_portfolio_drawdown" json:"maxPortfolioDrawdown"`
	MaxConcurrentPositions    int     `mapstructure:"max_concurrent_positions" json:"maxConcurrentPositions"`
	MaxSingleMarketExposure   float64 `mapstructure:"max_single_market_exposure" json:"maxSingleMarketExposure"`
	MinTradeIntervalSecs      int64   `mapstructure:"min_trade_interval_secs" json:"minTradeIntervalSecs"`
	LossCooloffSecs           int64   `mapstructure:"loss_cooloff_secs" json:"lossCooloffSecs"`
	TakeProfitPct             float64 `mapstructure:"take_profit_pct" json:"takeProfitPct"`
	StopLossPct               float64 `mapstructure:"stop_loss_pct" json:"stopLossPct"`
	MaxHoldingHours           float64 `mapstructure:"max_holding_hours" json:"maxHoldingHours"`
	FollowTraderExits         bool    `mapstructure:"follow_trader_exits" json:"followTraderExits"`
	ExitBeforeResolutionHours float64 `mapstructure:"exit_before_resolution_hours" json:"exitBeforeResolutionHours"`
}

// DefaultStrategyConfig mirrors the literal scenarios in spec §8 where they
// pin a threshold (max_trade_age_secs=300, take_profit_pct=0.25,
// stop_loss_pct=0.15, max_single_market_exposure=0.25) and otherwise chooses
// conservative values consistent with the rest of spec §4.3.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		MaxTradeAgeSecs:           300,
		MinEntryPrice:             0.02,
		MaxEntryPrice:             0.98,
		MaxEntrySlippage:          0.05,
		MinTraderScore:            40,
		RequireProfitableTrader:   true,
		MaxPortfolioDrawdown:      0.30,
		MaxConcurrentPositions:    20,
		MaxSingleMarketExposure:   0.25,
		MinTradeIntervalSecs:      30,
		LossCooloffSecs:           300,
		TakeProfitPct:             0.25,
		StopLossPct:               0.15,
		MaxHoldingHours:           336,
		FollowTraderExits:         true,
		ExitBeforeResolutionHours: 6,
	}
}

// TradingConfig bundles the runtime parameters common to live/paper/backtest.
type TradingConfig struct {
	Sizing            SizingConfig   `mapstructure:"sizing" json:"sizing"`
	Strategy          StrategyConfig `mapstructure:"strategy" json:"strategy"`
	PortfolioValue    float64        `mapstructure:"portfolio_value" json:"portfolioValue"`
	PollIntervalSecs  int64          `mapstructure:"poll_interval_secs" json:"pollIntervalSecs"`
	DryRun            bool           `mapstructure:"dry_run" json:"dryRun"`
	PendingRetryAfter time.Duration  `mapstructure:"pending_retry_after" json:"pendingRetryAfter"`
	MaxPendingRetries int            `mapstructure:"max_pending_retries" json:"maxPendingRetries"`
}

// DefaultTradingConfig returns the baseline live/paper configuration.
func DefaultTradingConfig() TradingConfig {
	return TradingConfig{
		Sizing:            DefaultSizingConfig(),
		Strategy:          DefaultStrategyConfig(),
		PortfolioValue:    10000,
		PollIntervalSecs:  30,
		DryRun:            true,
		PendingRetryAfter: 60 * time.Second,
		MaxPendingRetries: 5,
	}
}

// BacktestConfig parameterizes the replay engine (C8, spec §4.5).
type BacktestConfig struct {
	Trading        TradingConfig `mapstructure:"trading" json:"trading"`
	InitialCapital float64       `mapstructure:"initial_capital" json:"initialCapital"`
	Slippage       float64       `mapstructure:"slippage" json:"slippage"`
	FeeRate        float64       `mapstructure:"fee_rate" json:"feeRate"`
	LookbackTrades int           `mapstructure:"lookback_trades" json:"lookbackTrades"`
}

// DefaultBacktestConfig mirrors original_source's BacktestConfig defaults.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		Trading:        DefaultTradingConfig(),
		InitialCapital: 10000,
		Slippage:       0.005,
		FeeRate:        0.001,
		LookbackTrades: 500,
	}
}

// ServerConfig parameterizes the optional ambient status/observability
// surface (SPEC_FULL.md §9), kept in the teacher's Host/Port shape.
type ServerConfig struct {
	Host          string        `mapstructure:"host" json:"host"`
	Port          int           `mapstructure:"port" json:"port"`
	WebSocketPath string        `mapstructure:"websocket_path" json:"websocketPath"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" json:"readTimeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" json:"writeTimeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics" json:"enableMetrics"`
	MetricsPort   int           `mapstructure:"metrics_port" json:"metricsPort"`
}

// DefaultServerConfig returns the status-surface defaults. Host is empty by
// default; cmd/copytrader sets Host and Port from --status-addr, which alone
// decides whether the surface is started.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:          "",
		Port:          8090,
		WebSocketPath: "/ws",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		EnableMetrics: true,
		MetricsPort:   9090,
	}
}
