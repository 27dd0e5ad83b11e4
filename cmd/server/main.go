// Package main runs the HTTP API for backtest execution and risk reports.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"backtest-cost-engine/services/arrowexport"
	"backtest-cost-engine/services/clickhouse"
	"backtest-cost-engine/services/config"
	"backtest-cost-engine/services/engine"
	"backtest-cost-engine/services/monitoring"
)

type server struct {
	cfg      *config.Config
	store    *clickhouse.Client
	exporter *arrowexport.Exporter
	logger   *zap.Logger
}

type backtestRequest struct {
	Symbol  string               `json:"symbol" binding:"required"`
	Bars    []engine.Bar         `json:"bars"`
	Intents []engine.OrderIntent `json:"intents" binding:"required"`
	// When Bars is empty the server loads them from ClickHouse.
	Interval string `json:"interval"`
	StartMs  uint64 `json:"start_ms"`
	EndMs    uint64 `json:"end_ms"`

	Cost        *costOverrides `json:"cost"`
	InitialCash float64        `json:"initial_cash"`
}

type riskReportRequest struct {
	Runs []struct {
		Symbol  string               `json:"symbol" binding:"required"`
		Bars    []engine.Bar         `json:"bars" binding:"required"`
		Intents []engine.OrderIntent `json:"intents" binding:"required"`
	} `json:"runs" binding:"required"`
	Benchmark   []engine.Bar   `json:"benchmark"`
	Cost        *costOverrides `json:"cost"`
	InitialCash float64        `json:"initial_cash"`
}

// costOverrides lets a request replace the configured cost model wholesale.
type costOverrides struct {
	CommissionPct    float64  `json:"commission_pct"`
	SlippageBps      float64  `json:"slippage_bps"`
	ParticipationCap *float64 `json:"participation_cap"`
	BaseSpreadBps    float64  `json:"base_spread_bps"`
	ImpactCoef       float64  `json:"impact_coef"`
	ImpactModel      string   `json:"impact_model"`
	ImpactPower      float64  `json:"impact_power"`
}

func (s *server) costConfig(o *costOverrides) (engine.CostConfig, error) {
	if o == nil {
		return s.cfg.CostConfig()
	}
	model, err := engine.ParseImpactModel(o.ImpactModel)
	if err != nil {
		return engine.CostConfig{}, err
	}
	cost := engine.CostConfig{
		CommissionPct:    o.CommissionPct,
		SlippageBps:      o.SlippageBps,
		ParticipationCap: o.ParticipationCap,
		BaseSpreadBps:    o.BaseSpreadBps,
		ImpactCoef:       o.ImpactCoef,
		ImpactModel:      model,
		ImpactPower:      o.ImpactPower,
	}
	if err := cost.Validate(); err != nil {
		return engine.CostConfig{}, err
	}
	return cost, nil
}

func (s *server) handleBacktest(c *gin.Context) {
	start := time.Now()
	jobID := uuid.New().String()

	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cost, err := s.costConfig(req.Cost)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bars := req.Bars
	if len(bars) == 0 {
		if s.store == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no bars supplied and no bar store configured"})
			return
		}
		interval := req.Interval
		if interval == "" {
			interval = s.cfg.Backtest.Interval
		}
		bars, err = s.store.LoadEngineBars(c.Request.Context(), req.Symbol, interval, req.StartMs, req.EndMs)
		if err != nil {
			s.logger.Error("bar load failed", zap.String("job_id", jobID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := engine.Run(req.Symbol, bars, req.Intents, engine.RunConfig{
		Cost:        cost,
		InitialCash: req.InitialCash,
	})
	if err != nil {
		monitoring.BacktestsTotal.WithLabelValues("error").Inc()
		var dataErr *engine.DataError
		status := http.StatusInternalServerError
		if errors.As(err, &dataErr) {
			status = http.StatusUnprocessableEntity
		}
		s.logger.Warn("backtest failed", zap.String("job_id", jobID), zap.Error(err))
		c.JSON(status, gin.H{"job_id": jobID, "error": err.Error()})
		return
	}

	monitoring.BacktestsTotal.WithLabelValues("ok").Inc()
	monitoring.BacktestDuration.Observe(time.Since(start).Seconds())
	monitoring.BarsProcessed.Add(float64(len(bars)))

	s.logger.Info("backtest completed",
		zap.String("job_id", jobID),
		zap.String("symbol", req.Symbol),
		zap.Int("bars", len(bars)),
		zap.Int("trades", result.TotalTrades),
		zap.Duration("elapsed", time.Since(start)),
	)

	if c.Query("format") == "arrow" {
		data, err := s.exporter.TradesToArrow(req.Symbol, result)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"job_id": jobID, "error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/vnd.apache.arrow.stream", data)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "result": result})
}

func (s *server) handleRiskReport(c *gin.Context) {
	start := time.Now()
	jobID := uuid.New().String()

	var req riskReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cost, err := s.costConfig(req.Cost)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runs := make([]engine.SymbolRun, len(req.Runs))
	for i, r := range req.Runs {
		runs[i] = engine.SymbolRun{Symbol: r.Symbol, Bars: r.Bars, Intents: r.Intents}
	}

	report, err := engine.BuildRiskReport(runs, engine.ReportConfig{
		Cost:             cost,
		InitialCash:      req.InitialCash,
		Benchmark:        req.Benchmark,
		VaRConfidence:    s.cfg.Risk.VaRConfidence,
		VolatilityWindow: s.cfg.Risk.VolatilityWindow,
		Workers:          s.cfg.Risk.Workers,
	})
	if err != nil {
		monitoring.RiskReportsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("risk report failed", zap.String("job_id", jobID), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"job_id": jobID, "error": err.Error()})
		return
	}

	monitoring.RiskReportsTotal.WithLabelValues("ok").Inc()
	monitoring.RiskReportSymbols.Observe(float64(len(req.Runs)))

	s.logger.Info("risk report completed",
		zap.String("job_id", jobID),
		zap.Int("symbols", len(req.Runs)),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("elapsed", time.Since(start)),
	)
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "report": report})
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(monitoring.GinMiddleware())

	limiter := rate.NewLimiter(rate.Limit(s.cfg.Server.RatePerSec), s.cfg.Server.RateBurst)

	api := r.Group("/api/v1", rateLimitMiddleware(limiter))
	{
		api.POST("/backtest", s.handleBacktest)
		api.POST("/risk-report", s.handleRiskReport)
	}
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(monitoring.Handler()))
	return r
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := clickhouse.NewClient(ctx, cfg.ClickHouse, logger)
	cancel()
	if err != nil {
		// The API stays usable with inline bars when the store is down.
		logger.Warn("clickhouse unavailable, inline bars only", zap.Error(err))
		store = nil
	}

	srv := &server{
		cfg:      cfg,
		store:    store,
		exporter: arrowexport.NewExporter(logger),
		logger:   logger,
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.routes(),
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http serve failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if store != nil {
		_ = store.Close()
	}
	logger.Info("stopped")
}
