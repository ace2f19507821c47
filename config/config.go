package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	UpbitConfig    UpbitConfig    `json:"upbit"`
	TradingConfig  TradingConfig  `json:"trading"`
	BacktestConfig BacktestConfig `json:"backtest"`
	DataConfig     DataConfig     `json:"data"`
	DatabaseConfig DatabaseConfig `json:"database"`
	ServerConfig   ServerConfig   `json:"server"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// UpbitConfig holds exchange API access settings.
type UpbitConfig struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
}

// TradingConfig holds the live-trading safety limits.
type TradingConfig struct {
	Market         string  `json:"market"`           // the only market orders may target
	MinOrderAmount float64 `json:"min_order_amount"` // KRW
	MaxOrderAmount float64 `json:"max_order_amount"` // KRW
	MaxDailyTrades int     `json:"max_daily_trades"`
	OrderSyncCron  string  `json:"order_sync_cron"` // cron spec for periodic order sync, empty disables
}

// BacktestConfig holds backtest engine defaults.
type BacktestConfig struct {
	Market            string  `json:"market"`
	FeeRate           float64 `json:"fee_rate"`            // per side, e.g. 0.0005
	HoldingPeriodDays int     `json:"holding_period_days"` // prediction-trade timeout window
	JobWorkers        int     `json:"job_workers"`         // concurrent async jobs
}

// DataConfig holds ingestion and CSV locations.
type DataConfig struct {
	Dir             string `json:"dir"`              // prediction CSV directory
	CusumCSV        string `json:"cusum_csv"`        // master CUSUM signal file
	RequestInterval int    `json:"request_interval"` // ms between exchange requests
	BatchSize       int    `json:"batch_size"`       // candles per request, max 200
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // seconds
	WriteTimeout    int    `json:"write_timeout"`    // seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
	ProductionMode  bool   `json:"production_mode"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// FeeRateDecimal returns the per-side fee rate for money arithmetic.
func (c BacktestConfig) FeeRateDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.FeeRate)
}

// RequestDelay returns the pause between exchange requests.
func (c DataConfig) RequestDelay() time.Duration {
	return time.Duration(c.RequestInterval) * time.Millisecond
}

// Load reads config.json if present, then applies environment overrides.
// A .env file in the working directory is loaded first when it exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.TradingConfig.MinOrderAmount <= 0 {
		return fmt.Errorf("min_order_amount must be positive, got %v", c.TradingConfig.MinOrderAmount)
	}
	if c.TradingConfig.MaxOrderAmount < c.TradingConfig.MinOrderAmount {
		return fmt.Errorf("max_order_amount %v below min_order_amount %v",
			c.TradingConfig.MaxOrderAmount, c.TradingConfig.MinOrderAmount)
	}
	if c.BacktestConfig.FeeRate < 0 || c.BacktestConfig.FeeRate >= 1 {
		return fmt.Errorf("fee_rate must be in [0, 1), got %v", c.BacktestConfig.FeeRate)
	}
	if c.DataConfig.BatchSize < 1 || c.DataConfig.BatchSize > 200 {
		return fmt.Errorf("batch_size must be between 1 and 200, got %d", c.DataConfig.BatchSize)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Upbit config - credentials always come from the environment
	cfg.UpbitConfig.AccessKey = getEnvOrDefault("UPBIT_ACCESS_KEY", cfg.UpbitConfig.AccessKey)
	cfg.UpbitConfig.SecretKey = getEnvOrDefault("UPBIT_SECRET_KEY", cfg.UpbitConfig.SecretKey)
	cfg.UpbitConfig.BaseURL = getEnvOrDefault("UPBIT_BASE_URL", cfg.UpbitConfig.BaseURL)
	if cfg.UpbitConfig.BaseURL == "" {
		cfg.UpbitConfig.BaseURL = "https://api.upbit.com"
	}

	// Trading config
	cfg.TradingConfig.Market = getEnvOrDefault("TRADING_MARKET", "KRW-ETH")
	cfg.TradingConfig.MinOrderAmount = getEnvFloatOrDefault("TRADING_MIN_ORDER_AMOUNT", 5000)
	cfg.TradingConfig.MaxOrderAmount = getEnvFloatOrDefault("TRADING_MAX_ORDER_AMOUNT", 1000000)
	cfg.TradingConfig.MaxDailyTrades = getEnvIntOrDefault("TRADING_MAX_DAILY_TRADES", 10)
	cfg.TradingConfig.OrderSyncCron = getEnvOrDefault("TRADING_ORDER_SYNC_CRON", "@every 5m")

	// Backtest config
	cfg.BacktestConfig.Market = getEnvOrDefault("BACKTEST_MARKET", "KRW-ETH")
	cfg.BacktestConfig.FeeRate = getEnvFloatOrDefault("BACKTEST_FEE_RATE", 0.0005)
	cfg.BacktestConfig.HoldingPeriodDays = getEnvIntOrDefault("BACKTEST_HOLDING_PERIOD_DAYS", 8)
	cfg.BacktestConfig.JobWorkers = getEnvIntOrDefault("BACKTEST_JOB_WORKERS", 2)

	// Data config
	cfg.DataConfig.Dir = getEnvOrDefault("DATA_DIR", "data")
	cfg.DataConfig.CusumCSV = getEnvOrDefault("DATA_CUSUM_CSV", "data/cusum_signals_master.csv")
	cfg.DataConfig.RequestInterval = getEnvIntOrDefault("DATA_REQUEST_INTERVAL_MS", 100)
	cfg.DataConfig.BatchSize = getEnvIntOrDefault("DATA_BATCH_SIZE", 200)

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", "trading_engine")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", "trading_engine_password")
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", "trading_engine")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 120)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", "false") == "true"

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
