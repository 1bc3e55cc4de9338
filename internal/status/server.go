package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucidarc/copytrader/internal/store"
	"github.com/lucidarc/copytrader/pkg/types"
	"github.com/lucidarc/copytrader/pkg/utils"
)

// Server is the optional HTTP/WebSocket observability surface. It is
// started by cmd/copytrader only when --status-addr is set (spec §9) and never
// holds any trading state of its own — every response is read fresh from
// the store, the same source of truth the CLI's `status` subcommand reads.
//
// Grounded on internal/api/server.go (teacher): mux.Router + rs/cors +
// http.Server lifecycle, narrowed from the teacher's backtest-progress API
// to a read-only portfolio surface, with Prometheus gauges added per the
// domain-stack expansion (spec §9's metrics endpoint).
type Server struct {
	logger     *zap.Logger
	cfg        types.ServerConfig
	store      store.Store
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	upgrader   websocket.Upgrader
	registry   *prometheus.Registry
	gauges     gaugeSet
	pollEvery  time.Duration
	stopHub    chan struct{}
}

type gaugeSet struct {
	equity        prometheus.Gauge
	cashAvailable prometheus.Gauge
	realizedPnL   prometheus.Gauge
	unrealizedPnL prometheus.Gauge
	openPositions prometheus.Gauge
	drawdown      prometheus.Gauge
}

// New builds a Server; call Start to bind and serve.
func New(logger *zap.Logger, st store.Store, cfg types.ServerConfig) *Server {
	registry := prometheus.NewRegistry()
	gauges := gaugeSet{
		equity:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "copytrader", Name: "equity_usd", Help: "Current portfolio equity in USDC"}),
		cashAvailable: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "copytrader", Name: "cash_available_usd", Help: "Deployable cash in USDC"}),
		realizedPnL:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "copytrader", Name: "realized_pnl_usd", Help: "Cumulative realized P&L in USDC"}),
		unrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "copytrader", Name: "unrealized_pnl_usd", Help: "Mark-to-market unrealized P&L in USDC"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "copytrader", Name: "open_positions", Help: "Number of currently open positions"}),
		drawdown:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "copytrader", Name: "drawdown_ratio", Help: "Current drawdown from peak equity, 0-1"}),
	}
	registry.MustRegister(gauges.equity, gauges.cashAvailable, gauges.realizedPnL, gauges.unrealizedPnL, gauges.openPositions, gauges.drawdown)

	s := &Server{
		logger:    logger.Named("status"),
		cfg:       cfg,
		store:     st,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		registry:  registry,
		gauges:    gauges,
		pollEvery: 5 * time.Second,
		stopHub:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc(s.cfg.WebSocketPath, s.handleWebSocket)
}

// Start runs the hub's event loop, the background poller, and binds the
// HTTP server; it blocks until the server stops or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(s.stopHub)
	go s.pollLoop(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("status surface listening", zap.String("addr", addr))
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Stop gracefully shuts the HTTP server and hub down.
func (s *Server) Stop() error {
	close(s.stopHub)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// pollLoop periodically reads bot_state + open positions from the store,
// updates the Prometheus gauges, and broadcasts a snapshot to WS clients —
// this surface never touches orchestrator internals directly.
func (s *Server) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.snapshot(ctx)
			if err != nil {
				s.logger.Warn("failed to build status snapshot", zap.Error(err))
				continue
			}
			if snap == nil {
				continue
			}
			s.updateGauges(*snap)
			s.hub.BroadcastSnapshot(*snap)
		}
	}
}

func (s *Server) snapshot(ctx context.Context) (*types.PortfolioState, error) {
	bs, err := s.store.GetBotState(ctx)
	if err != nil {
		return nil, err
	}
	if bs == nil {
		return nil, nil
	}
	positions, err := s.store.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	unrealized := decimal.Zero
	exposure := decimal.Zero
	for _, p := range positions {
		unrealized = unrealized.Add(p.UnrealizedPnL())
		exposure = exposure.Add(p.CostBasis())
	}
	state := types.PortfolioState{
		TotalValue:    bs.TotalValue,
		CashAvailable: bs.CashAvailable,
		TotalExposure: exposure,
		UnrealizedPnL: unrealized,
		RealizedPnL:   bs.RealizedPnL,
		PeakEquity:    bs.PeakEquity,
		PositionCount: len(positions),
		LastTradeAt:   bs.LastTradeAt,
		LastLossAt:    bs.LastLossAt,
	}
	return &state, nil
}

func (s *Server) updateGauges(p types.PortfolioState) {
	equity, _ := p.Equity().Float64()
	cash, _ := p.CashAvailable.Float64()
	realized, _ := p.RealizedPnL.Float64()
	unrealized, _ := p.UnrealizedPnL.Float64()
	drawdown, _ := p.CurrentDrawdown().Float64()

	s.gauges.equity.Set(equity)
	s.gauges.cashAvailable.Set(cash)
	s.gauges.realizedPnL.Set(realized)
	s.gauges.unrealizedPnL.Set(unrealized)
	s.gauges.openPositions.Set(float64(p.PositionCount))
	s.gauges.drawdown.Set(drawdown)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if snap == nil {
		http.Error(w, "bot has never run", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(utils.GenerateID("ws"), s.hub, conn)
	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}
