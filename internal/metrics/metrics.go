// Package metrics exposes Prometheus collectors for the engine's hot paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BacktestsRun counts completed backtest runs by variant.
	BacktestsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_backtests_run_total",
		Help: "Number of backtest runs completed, by variant.",
	}, []string{"variant"})

	// TradesSimulated counts simulated trades by exit reason.
	TradesSimulated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_trades_simulated_total",
		Help: "Number of trades produced by the simulator, by exit reason.",
	}, []string{"reason"})

	// SignalsSkipped counts signals the simulator skipped.
	SignalsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_signals_skipped_total",
		Help: "Number of signals skipped by the simulator, by reason.",
	}, []string{"reason"})

	// CandlesIngested counts candle rows inserted by the backfill pipeline.
	CandlesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_candles_ingested_total",
		Help: "Number of candle rows inserted, by granularity.",
	}, []string{"granularity"})

	// ExchangeRequests counts calls to the exchange API by endpoint group.
	ExchangeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_exchange_requests_total",
		Help: "Number of exchange API requests, by endpoint group and outcome.",
	}, []string{"endpoint", "outcome"})

	// JobTasks counts async backtest job task completions.
	JobTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_job_tasks_total",
		Help: "Number of async job tasks finished, by outcome.",
	}, []string{"outcome"})
)
