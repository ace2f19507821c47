package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"upbit-trading-engine/config"
	"upbit-trading-engine/internal/api"
	"upbit-trading-engine/internal/backtest"
	"upbit-trading-engine/internal/database"
	"upbit-trading-engine/internal/ingest"
	"upbit-trading-engine/internal/jobs"
	"upbit-trading-engine/internal/logging"
	"upbit-trading-engine/internal/signals"
	"upbit-trading-engine/internal/trading"
	"upbit-trading-engine/internal/upbit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error("Failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		Component:   "app",
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
	}))
	logging.Info("Starting upbit trading engine", "market", cfg.BacktestConfig.Market)

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logging.Error("Failed to connect to database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		logging.Error("Failed to run migrations", "error", err.Error())
		os.Exit(1)
	}

	minuteRepo := database.NewMinuteCandleRepository(db)
	dayRepo := database.NewDayCandleRepository(db)
	predRepo := database.NewPredictionRepository(db)
	orderRepo := database.NewOrderRepository(db)
	jobRepo := database.NewJobRepository(db)

	cusum := signals.NewCusumCache(cfg.DataConfig.CusumCSV)
	if err := cusum.Load(); err != nil {
		// backtests against predictions still work without the signal cache
		logging.Warn("CUSUM signal cache not loaded", "error", err.Error())
	}
	predLoader := signals.NewPredictionLoader(predRepo, cfg.BacktestConfig.Market)

	exchange := upbit.NewClient(cfg.UpbitConfig.AccessKey, cfg.UpbitConfig.SecretKey)
	if cfg.UpbitConfig.BaseURL != "" {
		exchange.SetBaseURL(cfg.UpbitConfig.BaseURL)
	}

	engine := backtest.NewEngine(
		minuteRepo, predRepo, cusum,
		cfg.BacktestConfig.Market,
		cfg.BacktestConfig.FeeRateDecimal(),
		cfg.BacktestConfig.HoldingPeriodDays,
	)
	runner := jobs.NewRunner(jobRepo, engine, cfg.BacktestConfig.JobWorkers)

	pipeline := ingest.NewPipeline(
		exchange, minuteRepo, dayRepo, cusum,
		cfg.BacktestConfig.Market,
		cfg.DataConfig.BatchSize,
		cfg.DataConfig.RequestDelay(),
	)

	tradingService := trading.NewService(exchange, orderRepo, trading.Limits{
		Market:         cfg.TradingConfig.Market,
		MinOrderAmount: decimal.NewFromFloat(cfg.TradingConfig.MinOrderAmount),
		MaxOrderAmount: decimal.NewFromFloat(cfg.TradingConfig.MaxOrderAmount),
		MaxDailyTrades: cfg.TradingConfig.MaxDailyTrades,
	}, trading.NewTracker(os.Stdout))

	scheduler := cron.New()
	if spec := cfg.TradingConfig.OrderSyncCron; spec != "" {
		_, err := scheduler.AddFunc(spec, func() {
			if _, err := tradingService.SyncAll(context.Background()); err != nil {
				logging.Error("Scheduled order sync failed", "error", err.Error())
			}
		})
		if err != nil {
			logging.Error("Invalid order sync cron spec", "spec", spec, "error", err.Error())
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := api.NewServer(api.Deps{
		Engine:     engine,
		Runner:     runner,
		Trading:    tradingService,
		Pipeline:   pipeline,
		Exchange:   exchange,
		Cusum:      cusum,
		PredLoader: predLoader,
		DB:         db,
		MinuteRepo: minuteRepo,
		DayRepo:    dayRepo,
		PredRepo:   predRepo,
		Market:     cfg.BacktestConfig.Market,
		DataDir:    cfg.DataConfig.Dir,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerConfig.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logging.Error("HTTP server failed", "error", err.Error())
			os.Exit(1)
		}
	case sig := <-quit:
		logging.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx,
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown failed", "error", err.Error())
	}
	runner.Wait()
	logging.Info("Shutdown complete")
}
