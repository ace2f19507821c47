// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"upbit-trading-engine/internal/backtest"
	"upbit-trading-engine/internal/database"
	"upbit-trading-engine/internal/ingest"
	"upbit-trading-engine/internal/jobs"
	"upbit-trading-engine/internal/logging"
	"upbit-trading-engine/internal/signals"
	"upbit-trading-engine/internal/trading"
	"upbit-trading-engine/internal/upbit"
)

// Server wires the HTTP surface to the engine's services.
type Server struct {
	engine      *backtest.Engine
	runner      *jobs.Runner
	trading     *trading.Service
	pipeline    *ingest.Pipeline
	exchange    *upbit.Client
	cusum       *signals.CusumCache
	predLoader  *signals.PredictionLoader
	db          *database.DB
	minuteRepo  *database.CandleRepository
	dayRepo     *database.CandleRepository
	predRepo    *database.PredictionRepository
	market      string
	dataDir     string
	httpServer  *http.Server
	logger      *logging.Logger
}

// Deps bundles everything the server serves.
type Deps struct {
	Engine     *backtest.Engine
	Runner     *jobs.Runner
	Trading    *trading.Service
	Pipeline   *ingest.Pipeline
	Exchange   *upbit.Client
	Cusum      *signals.CusumCache
	PredLoader *signals.PredictionLoader
	DB         *database.DB
	MinuteRepo *database.CandleRepository
	DayRepo    *database.CandleRepository
	PredRepo   *database.PredictionRepository
	Market     string
	DataDir    string
}

func NewServer(deps Deps) *Server {
	return &Server{
		engine:     deps.Engine,
		runner:     deps.Runner,
		trading:    deps.Trading,
		pipeline:   deps.Pipeline,
		exchange:   deps.Exchange,
		cusum:      deps.Cusum,
		predLoader: deps.PredLoader,
		db:         deps.DB,
		minuteRepo: deps.MinuteRepo,
		dayRepo:    deps.DayRepo,
		predRepo:   deps.PredRepo,
		market:     deps.Market,
		dataDir:    deps.DataDir,
		logger:     logging.Default().WithComponent("api"),
	}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	bt := r.Group("/api/backtest")
	{
		bt.GET("/run", s.runSingle)
		bt.GET("/run-sequential", s.runSequential)
		bt.POST("/tp-sl/run", s.runTPSL)
		bt.POST("/tp-sl/run-batch", s.runBatch)
		bt.POST("/tp-sl/run-batch-async", s.runBatchAsync)
		bt.GET("/tp-sl/job/:jobId", s.jobStatus)
		bt.GET("/tp-sl/job/:jobId/results", s.jobResults)
		bt.POST("/cusum/run", s.runCusum)
		bt.GET("/cusum/summary", s.cusumSummary)
		bt.POST("/rule-based/run", s.runRuleBased)
		bt.POST("/buy-hold/run", s.runBuyHold)
	}

	v1 := r.Group("/api/v1")
	{
		orders := v1.Group("/trading/orders")
		{
			orders.POST("/buy", s.buy)
			orders.POST("/sell", s.sell)
			orders.GET("/local", s.localOrders)
			orders.POST("/sync-all", s.syncAll)
		}

		account := v1.Group("/account")
		{
			account.GET("/balance", s.balances)
			account.GET("/balance/summary", s.balanceSummary)
			account.GET("/balance/:currency", s.balanceByCurrency)
		}

		market := v1.Group("/market")
		{
			market.GET("/ticker", s.ticker)
			market.GET("/ticker/:market", s.tickerByMarket)
		}

		data := v1.Group("/data")
		{
			data.POST("/init-ohlcv-all", s.initDayCandles)
			data.POST("/init-multi-model-predictions-all", s.initPredictions)
			data.POST("/init-minute-candles", s.initMinuteCandles)
			data.POST("/fill-signal-candles", s.fillSignalCandles)
			data.GET("/ohlcv/status", s.dayCandleStatus)
			data.GET("/minute-candles/status", s.minuteCandleStatus)
			data.GET("/predictions/status", s.predictionStatus)
		}
	}
	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // synchronous batch backtests are slow
	}
	s.logger.Info("HTTP server listening", "port", port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	if err := s.db.HealthCheck(c.Request.Context()); err != nil {
		errorResponse(c, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	successResponse(c, http.StatusOK, gin.H{"healthy": true})
}
