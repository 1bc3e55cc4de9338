// Package main is the copytrader CLI entry point: discover/track traders,
// run the live orchestrator, paper-trade, backtest, and inspect state.
//
// Grounded on original_source/src/main.rs's Commands enum
// (discover/track/untrack/list/stats/run/config), extended with
// backtest/paper/status per the domain-stack expansion, and structured the
// way sawpanic-cryptorun/cmd/cryptorun/main.go builds a cobra root command
// with flag-bearing subcommands. Logger setup follows cmd/server/main.go's
// setupLogger (teacher) via internal/logging.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/internal/backtest"
	"github.com/lucidarc/copytrader/internal/clock"
	"github.com/lucidarc/copytrader/internal/config"
	"github.com/lucidarc/copytrader/internal/errkind"
	"github.com/lucidarc/copytrader/internal/exchange"
	"github.com/lucidarc/copytrader/internal/logging"
	"github.com/lucidarc/copytrader/internal/marketdata"
	"github.com/lucidarc/copytrader/internal/orchestrator"
	"github.com/lucidarc/copytrader/internal/paper"
	"github.com/lucidarc/copytrader/internal/sizing"
	"github.com/lucidarc/copytrader/internal/status"
	"github.com/lucidarc/copytrader/internal/store"
	"github.com/lucidarc/copytrader/internal/strategy"
	"github.com/lucidarc/copytrader/pkg/types"
	"github.com/lucidarc/copytrader/pkg/utils"
)

const (
	dataAPIBase = "https://data-api.polymarket.com"
	clobBase    = "https://clob.polymarket.com"
)

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "copytrader",
		Short: "Mirror-trade prediction-market traders on Polymarket",
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newDiscoverCmd(&logLevel),
		newTrackCmd(&logLevel),
		newUntrackCmd(&logLevel),
		newListCmd(&logLevel),
		newStatsCmd(&logLevel),
		newRunCmd(&logLevel),
		newPaperCmd(&logLevel),
		newBacktestCmd(&logLevel),
		newConfigCmd(&logLevel),
		newStatusCmd(&logLevel),
	)

	if err := rootCmd.Execute(); err != nil {
		if errkind.Is(err, errkind.ConfigError) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newDiscoverCmd(logLevel *string) *cobra.Command {
	var minPnL float64
	var limit int
	var period string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the top traders by the exchange's leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(*logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			market := marketdata.New(logger, dataAPIBase, clobBase)
			entries, err := market.GetLeaderboard(cmd.Context(), "pnl", period, "pnl", limit, 0)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if minPnL > 0 && e.PnL.LessThan(decimalFromFloat(minPnL)) {
					continue
				}
				fmt.Printf("%-6s %-42s pnl=%-14s vol=%s\n", e.Rank, e.ProxyWallet, utils.FormatMoney(e.PnL), utils.FormatMoney(e.Vol))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&minPnL, "min-pnl", 0, "Minimum lifetime P&L to include")
	cmd.Flags().IntVar(&limit, "limit", 25, "Number of traders to list")
	cmd.Flags().StringVar(&period, "period", "all", "Leaderboard period (all, month, week)")
	return cmd
}

func newTrackCmd(logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track <address>",
		Short: "Start tracking a trader's address for copy-trading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _, st, err := bootstrap(*logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer st.Close()

			addr := args[0]
			trader := types.Trader{
				Address:          addr,
				IsTracked:        true,
				TrackingSince:    time.Now().UTC(),
				AllocationWeight: decimalFromFloat(1.0),
			}
			if err := st.SaveTrader(cmd.Context(), trader); err != nil {
				return err
			}
			logger.Info("now tracking trader", zap.String("address", addr))
			return nil
		},
	}
	return cmd
}

func newUntrackCmd(logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "untrack <address>",
		Short: "Stop tracking a trader's address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _, st, err := bootstrap(*logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer st.Close()

			if err := st.RemoveTrader(cmd.Context(), args[0]); err != nil {
				return err
			}
			logger.Info("stopped tracking trader", zap.String("address", args[0]))
			return nil
		},
	}
	return cmd
}

func newListCmd(logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked traders and open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _, st, err := bootstrap(*logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer st.Close()

			addrs, err := st.GetTrackedAddresses(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println("Tracked traders:")
			for _, a := range addrs {
				fmt.Printf("  %s\n", a)
			}

			positions, err := st.OpenPositions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println("Open positions:")
			for _, p := range positions {
				fmt.Printf("  %s/%s %s size=%s entry=%s mark=%s pnl=%s\n",
					p.MarketID, p.Outcome, p.Side, p.Size.String(), utils.FormatMoney(p.AverageEntry),
					utils.FormatMoney(p.CurrentPrice), utils.FormatMoney(p.UnrealizedPnL()))
			}
			return nil
		},
	}
	return cmd
}

func newStatsCmd(logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <address>",
		Short: "Show the latest computed performance metrics for a trader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _, st, err := bootstrap(*logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer st.Close()

			m, err := st.LatestMetrics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if m == nil {
				fmt.Println("no metrics recorded yet for this trader")
				return nil
			}
			fmt.Printf("trades:        %d (win %d / loss %d, rate %s)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades, utils.FormatPct(toFloat(m.WinRate)))
			fmt.Printf("total pnl:     %s\n", utils.FormatMoney(m.TotalPnL))
			fmt.Printf("profit factor: %s\n", m.ProfitFactor.String())
			fmt.Printf("sharpe:        %.2f  sortino: %.2f  calmar: %.2f\n", m.Sharpe, m.Sortino, m.Calmar)
			fmt.Printf("max drawdown:  %s\n", utils.FormatPct(m.MaxDrawdown))
			return nil
		},
	}
	return cmd
}

func newRunCmd(logLevel *string) *cobra.Command {
	var portfolio float64
	var interval int64
	var dryRun bool
	var statusAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live copy-trading orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cfg, st, err := bootstrap(*logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer st.Close()

			cfg.Trading.PortfolioValue = portfolio
			cfg.Trading.PollIntervalSecs = interval
			cfg.Trading.DryRun = dryRun

			var signer exchange.OrderSigner
			if dryRun {
				signer = exchange.NewNullSigner(cfg.Secrets.Address)
			} else {
				if err := cfg.RequireLiveSecrets(); err != nil {
					return err
				}
				signer, err = exchange.NewHMACSigner(cfg.Secrets.APIKey, cfg.Secrets.APISecret, cfg.Secrets.Passphrase, cfg.Secrets.Address)
				if err != nil {
					return errkind.New(errkind.ConfigError, "cmd.run", err)
				}
			}

			market := marketdata.New(logger, dataAPIBase, clobBase)
			clobClient := exchange.New(logger, clobBase, signer)
			sizer := sizing.New(logger, cfg.Trading.Sizing)
			evaluator := strategy.New(logger, cfg.Trading.Strategy)

			orch := orchestrator.New(logger, st, market, clobClient, sizer, evaluator, clock.System{}, cfg.Trading)

			ctx, cancel := signalContext()
			defer cancel()

			stopStatus := maybeStartStatusServer(ctx, logger, st, cfg, statusAddr)
			defer stopStatus()

			logger.Info("starting live orchestrator", zap.Bool("dryRun", dryRun), zap.Float64("portfolio", portfolio))
			return orch.Start(ctx)
		},
	}
	cmd.Flags().Float64Var(&portfolio, "portfolio", 10000, "Total portfolio value in USDC")
	cmd.Flags().Int64Var(&interval, "interval", 30, "Poll interval in seconds")
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "Simulate order submission instead of sending it")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "host:port to serve /health, /status, /metrics, and /ws on (disabled if empty)")
	return cmd
}

func newPaperCmd(logLevel *string) *cobra.Command {
	var capital float64
	var interval int64
	var slippage float64
	var feeRate float64
	var statusAddr string

	cmd := &cobra.Command{
		Use:   "paper",
		Short: "Run the paper-trading engine against live market data",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cfg, st, err := bootstrap(*logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer st.Close()

			cfg.Trading.PortfolioValue = capital
			cfg.Trading.PollIntervalSecs = interval

			market := marketdata.New(logger, dataAPIBase, clobBase)
			sizer := sizing.New(logger, cfg.Trading.Sizing)
			evaluator := strategy.New(logger, cfg.Trading.Strategy)

			eng := paper.New(logger, st, market, sizer, evaluator, paper.Config{
				Trading:  cfg.Trading,
				Slippage: slippage,
				FeeRate:  feeRate,
			})

			ctx, cancel := signalContext()
			defer cancel()

			stopStatus := maybeStartStatusServer(ctx, logger, st, cfg, statusAddr)
			defer stopStatus()

			logger.Info("starting paper engine", zap.Float64("capital", capital))
			result, err := eng.Run(ctx)
			fmt.Print(result.String())
			return err
		},
	}
	cmd.Flags().Float64Var(&capital, "capital", 10000, "Simulated starting capital in USDC")
	cmd.Flags().Int64Var(&interval, "interval", 30, "Poll interval in seconds")
	cmd.Flags().Float64Var(&slippage, "slippage", 0.005, "Simulated fill slippage fraction")
	cmd.Flags().Float64Var(&feeRate, "fee", 0.001, "Simulated fee rate fraction")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "host:port to serve /health, /status, /metrics, and /ws on (disabled if empty)")
	return cmd
}

func newBacktestCmd(logLevel *string) *cobra.Command {
	var trader string
	var all bool
	var capital float64
	var lookback int
	var slippage float64
	var feeRate float64

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay tracked traders' recent history through the strategy and print a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cfg, st, err := bootstrap(*logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer st.Close()

			var traders []string
			if all {
				traders, err = st.GetTrackedAddresses(cmd.Context())
				if err != nil {
					return err
				}
			} else if trader != "" {
				traders = []string{trader}
			} else {
				return errkind.New(errkind.ConfigError, "cmd.backtest", fmt.Errorf("either --trader or --all is required"))
			}

			cfg.Backtest.InitialCapital = capital
			cfg.Backtest.LookbackTrades = lookback
			cfg.Backtest.Slippage = slippage
			cfg.Backtest.FeeRate = feeRate

			market := marketdata.New(logger, dataAPIBase, clobBase)
			sizer := sizing.New(logger, cfg.Trading.Sizing)
			evaluator := strategy.New(logger, cfg.Trading.Strategy)
			eng := backtest.New(logger, market, sizer, evaluator, cfg.Backtest)

			result, err := eng.Run(cmd.Context(), traders)
			if err != nil {
				return err
			}
			fmt.Print(result.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&trader, "trader", "", "Single trader address to backtest")
	cmd.Flags().BoolVar(&all, "all", false, "Backtest every currently tracked trader")
	cmd.Flags().Float64Var(&capital, "capital", 10000, "Starting capital for the replay")
	cmd.Flags().IntVar(&lookback, "lookback", 500, "Maximum trades fetched per trader")
	cmd.Flags().Float64Var(&slippage, "slippage", 0.005, "Simulated fill slippage fraction")
	cmd.Flags().Float64Var(&feeRate, "fee", 0.001, "Simulated fee rate fraction")
	return cmd
}

func newConfigCmd(logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Printf("database:            %s\n", cfg.Database)
			fmt.Printf("portfolio value:      %.2f\n", cfg.Trading.PortfolioValue)
			fmt.Printf("poll interval (secs):  %d\n", cfg.Trading.PollIntervalSecs)
			fmt.Printf("dry run:               %v\n", cfg.Trading.DryRun)
			fmt.Printf("sizing method:         %s\n", cfg.Trading.Sizing.Method)
			fmt.Printf("kelly fraction:        %.2f\n", cfg.Trading.Sizing.KellyFraction)
			fmt.Printf("min trader score:      %.0f\n", cfg.Trading.Strategy.MinTraderScore)
			fmt.Printf("take profit / stop:    %.0f%% / %.0f%%\n", cfg.Trading.Strategy.TakeProfitPct*100, cfg.Trading.Strategy.StopLossPct*100)
			fmt.Printf("chain id:              %d\n", cfg.Secrets.ChainID)
			fmt.Printf("secrets configured:    private_key=%v api_key=%v\n", cfg.Secrets.PrivateKey != "", cfg.Secrets.APIKey != "")
			return nil
		},
	}
	return cmd
}

func newStatusCmd(logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the persisted bot state and open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _, st, err := bootstrap(*logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer st.Close()

			bs, err := st.GetBotState(cmd.Context())
			if err != nil {
				return err
			}
			if bs == nil {
				fmt.Println("bot has never run")
				return nil
			}
			positions, err := st.OpenPositions(cmd.Context())
			if err != nil {
				return err
			}
			unrealized := decimalFromFloat(0)
			for _, p := range positions {
				unrealized = unrealized.Add(p.UnrealizedPnL())
			}
			state := types.PortfolioState{
				TotalValue: bs.TotalValue, CashAvailable: bs.CashAvailable,
				UnrealizedPnL: unrealized, RealizedPnL: bs.RealizedPnL,
				PeakEquity: bs.PeakEquity, PositionCount: len(positions),
			}
			fmt.Printf("mode:            %s\n", bs.Mode)
			fmt.Printf("running:         %v\n", bs.IsRunning)
			fmt.Printf("equity:          %s\n", utils.FormatMoney(state.Equity()))
			fmt.Printf("cash available:  %s\n", utils.FormatMoney(bs.CashAvailable))
			fmt.Printf("realized pnl:    %s\n", utils.FormatMoney(bs.RealizedPnL))
			fmt.Printf("unrealized pnl:  %s\n", utils.FormatMoney(unrealized))
			fmt.Printf("open positions:  %d\n", len(positions))
			fmt.Printf("drawdown:        %s\n", utils.FormatPct(toFloat(state.CurrentDrawdown())))
			return nil
		},
	}
	return cmd
}

// bootstrap loads config, builds a logger, and opens the state store — the
// common setup every non-discover subcommand needs.
func bootstrap(logLevel string) (*zap.Logger, *config.Config, store.Store, error) {
	logger, err := logging.New(logLevel)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, nil, nil, errkind.New(errkind.ConfigError, "cmd.bootstrap", err)
	}
	return logger, cfg, st, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, the same
// graceful-shutdown trigger cmd/server/main.go (teacher) wires up.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

// maybeStartStatusServer starts the optional observability surface (spec
// §9) in the background when addr is non-empty, returning a no-op stop
// function otherwise so callers can unconditionally defer it.
func maybeStartStatusServer(ctx context.Context, logger *zap.Logger, st store.Store, cfg *config.Config, addr string) func() {
	if addr == "" {
		return func() {}
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		logger.Warn("invalid --status-addr, status surface disabled", zap.String("addr", addr), zap.Error(err))
		return func() {}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		logger.Warn("invalid --status-addr port, status surface disabled", zap.String("addr", addr), zap.Error(err))
		return func() {}
	}
	serverCfg := cfg.Server
	serverCfg.Host = host
	serverCfg.Port = port

	srv := status.New(logger, st, serverCfg)
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("status surface stopped with error", zap.Error(err))
		}
	}()
	return func() { srv.Stop() }
}

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
