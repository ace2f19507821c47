package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"upbit-trading-engine/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logging.Info("Connected to PostgreSQL database", "database", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		logging.Info("Database connection closed")
	}
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	logging.Info("Running database migrations...")

	migrations := []string{
		// Daily candles
		`CREATE TABLE IF NOT EXISTS historical_ohlcv (
			id BIGSERIAL PRIMARY KEY,
			market VARCHAR(20) NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			open DECIMAL(20, 8) NOT NULL,
			high DECIMAL(20, 8) NOT NULL,
			low DECIMAL(20, 8) NOT NULL,
			close DECIMAL(20, 8) NOT NULL,
			volume DECIMAL(30, 8) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_ohlcv_market_ts UNIQUE (market, timestamp)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ohlcv_market_ts ON historical_ohlcv(market, timestamp)`,

		// Minute candles
		`CREATE TABLE IF NOT EXISTS historical_minute_ohlcv (
			id BIGSERIAL PRIMARY KEY,
			market VARCHAR(20) NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			open DECIMAL(20, 8) NOT NULL,
			high DECIMAL(20, 8) NOT NULL,
			low DECIMAL(20, 8) NOT NULL,
			close DECIMAL(20, 8) NOT NULL,
			volume DECIMAL(30, 8) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_minute_ohlcv_market_ts UNIQUE (market, timestamp)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_minute_ohlcv_market_ts ON historical_minute_ohlcv(market, timestamp)`,

		// Per-model daily predictions
		`CREATE TABLE IF NOT EXISTS historical_ai_predictions (
			id BIGSERIAL PRIMARY KEY,
			market VARCHAR(20) NOT NULL,
			prediction_date DATE NOT NULL,
			fold_number INT NOT NULL,
			model_name VARCHAR(50) NOT NULL,
			actual_direction INT,
			actual_return DECIMAL(12, 6),
			pred_direction INT NOT NULL,
			pred_proba_up DECIMAL(10, 6) NOT NULL,
			pred_proba_down DECIMAL(10, 6) NOT NULL,
			max_proba DECIMAL(10, 6) NOT NULL,
			confidence DECIMAL(10, 6) NOT NULL,
			take_profit_price DECIMAL(20, 8) NOT NULL,
			stop_loss_price DECIMAL(20, 8) NOT NULL,
			correct BOOLEAN,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_predictions_key UNIQUE (market, prediction_date, fold_number, model_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_fold_model ON historical_ai_predictions(market, fold_number, model_name)`,

		// Live trading orders
		`CREATE TABLE IF NOT EXISTS trade_order (
			id BIGSERIAL PRIMARY KEY,
			order_uuid VARCHAR(64) NOT NULL UNIQUE,
			market VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			ord_type VARCHAR(10) NOT NULL,
			price DECIMAL(20, 8),
			volume DECIMAL(20, 8),
			status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_order_status ON trade_order(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_order_created_at ON trade_order(created_at)`,

		// Local account reference (single default row for now)
		`CREATE TABLE IF NOT EXISTS account (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(50) NOT NULL UNIQUE,
			currency VARCHAR(10) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`INSERT INTO account (name, currency) VALUES ('default', 'KRW')
			ON CONFLICT (name) DO NOTHING`,

		// Trading safety settings
		`CREATE TABLE IF NOT EXISTS trading_settings (
			id BIGSERIAL PRIMARY KEY,
			market VARCHAR(20) NOT NULL UNIQUE,
			min_order_amount DECIMAL(20, 2) NOT NULL,
			max_order_amount DECIMAL(20, 2) NOT NULL,
			max_daily_trades INT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,

		// Async backtest jobs
		`CREATE TABLE IF NOT EXISTS backtest_jobs (
			job_id VARCHAR(40) PRIMARY KEY,
			status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			total_tasks INT NOT NULL,
			completed_tasks INT NOT NULL DEFAULT 0,
			failed_tasks INT NOT NULL DEFAULT 0,
			error_message TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_jobs_status ON backtest_jobs(status)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	logging.Info("Database migrations completed")
	return nil
}
