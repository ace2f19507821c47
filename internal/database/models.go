package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar at minute or day granularity. Timestamps are the
// exchange's local wall clock (KST). Rows are appended by the ingestion
// pipeline and never mutated.
type Candle struct {
	ID        int64           `json:"id"`
	Market    string          `json:"market"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	CreatedAt time.Time       `json:"created_at"`
}

// Prediction is one daily model prediction row for a (fold, model) pair.
type Prediction struct {
	ID              int64           `json:"id"`
	Market          string          `json:"market"`
	Date            time.Time       `json:"date"`
	FoldNumber      int             `json:"fold_number"`
	ModelName       string          `json:"model_name"`
	ActualDirection int             `json:"actual_direction"`
	ActualReturn    float64         `json:"actual_return"`
	PredDirection   int             `json:"pred_direction"`
	PredProbaUp     float64         `json:"pred_proba_up"`
	PredProbaDown   float64         `json:"pred_proba_down"`
	MaxProba        float64         `json:"max_proba"`
	Confidence      float64         `json:"confidence"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	Correct         bool            `json:"correct"`
}

// TradeOrder is a live-trading order persisted on placement and advanced on
// sync with the exchange.
type TradeOrder struct {
	ID        int64           `json:"id"`
	OrderUUID string          `json:"order_uuid"`
	Market    string          `json:"market"`
	Side      string          `json:"side"`     // buy / sell
	OrdType   string          `json:"ord_type"` // price / market / limit
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Status    string          `json:"status"` // PENDING / FILLED / CANCELED
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Trade order statuses.
const (
	OrderStatusPending  = "PENDING"
	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
)

// BacktestJob tracks one async batch of backtest tasks.
type BacktestJob struct {
	JobID          string     `json:"job_id"`
	Status         string     `json:"status"`
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	FailedTasks    int        `json:"failed_tasks"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Backtest job statuses.
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)
