// Package upbit implements a REST client for the Upbit exchange.
package upbit

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/folds"
)

// Account is one currency balance on the exchange.
type Account struct {
	Currency     string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance"`
	Locked       decimal.Decimal `json:"locked"`
	AvgBuyPrice  decimal.Decimal `json:"avg_buy_price"`
	UnitCurrency string          `json:"unit_currency"`
}

// Ticker is the current snapshot for one market.
type Ticker struct {
	Market             string          `json:"market"`
	TradePrice         decimal.Decimal `json:"trade_price"`
	OpeningPrice       decimal.Decimal `json:"opening_price"`
	HighPrice          decimal.Decimal `json:"high_price"`
	LowPrice           decimal.Decimal `json:"low_price"`
	SignedChangeRate   float64         `json:"signed_change_rate"`
	AccTradeVolume24h  float64         `json:"acc_trade_volume_24h"`
	TradeTimestampUnix int64           `json:"trade_timestamp"`
}

// Candle is one OHLCV bar as returned by the candle endpoints. The exchange
// serialises bar times as naive KST strings; use KSTTime to parse them.
type Candle struct {
	Market             string          `json:"market"`
	CandleDateTimeUTC  string          `json:"candle_date_time_utc"`
	CandleDateTimeKST  string          `json:"candle_date_time_kst"`
	OpeningPrice       decimal.Decimal `json:"opening_price"`
	HighPrice          decimal.Decimal `json:"high_price"`
	LowPrice           decimal.Decimal `json:"low_price"`
	TradePrice         decimal.Decimal `json:"trade_price"`
	Timestamp          int64           `json:"timestamp"`
	AccTradePrice      decimal.Decimal `json:"candle_acc_trade_price"`
	AccTradeVolume     decimal.Decimal `json:"candle_acc_trade_volume"`
	Unit               int             `json:"unit,omitempty"`
	PrevClosingPrice   decimal.Decimal `json:"prev_closing_price,omitempty"`
	ChangeRate         float64         `json:"change_rate,omitempty"`
	ConvertedTradePric decimal.Decimal `json:"converted_trade_price,omitempty"`
}

const candleTimeLayout = "2006-01-02T15:04:05"

// KSTTime parses the bar's KST wall-clock time.
func (c *Candle) KSTTime() (time.Time, error) {
	t, err := time.ParseInLocation(candleTimeLayout, c.CandleDateTimeKST, folds.KST)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid candle time %q: %w", c.CandleDateTimeKST, err)
	}
	return t, nil
}

// OrderRequest is the body of POST /v1/orders. Market buys use side=bid with
// ord_type=price (price is the KRW amount to spend); market sells use
// side=ask with ord_type=market (volume is the quantity to sell).
type OrderRequest struct {
	Market  string `json:"market"`
	Side    string `json:"side"`
	OrdType string `json:"ord_type"`
	Price   string `json:"price,omitempty"`
	Volume  string `json:"volume,omitempty"`
}

// Order is the exchange's view of a placed order.
type Order struct {
	UUID            string          `json:"uuid"`
	Side            string          `json:"side"`
	OrdType         string          `json:"ord_type"`
	Price           decimal.Decimal `json:"price"`
	State           string          `json:"state"` // wait / done / cancel
	Market          string          `json:"market"`
	CreatedAt       string          `json:"created_at"`
	Volume          decimal.Decimal `json:"volume"`
	RemainingVolume decimal.Decimal `json:"remaining_volume"`
	ExecutedVolume  decimal.Decimal `json:"executed_volume"`
	PaidFee         decimal.Decimal `json:"paid_fee"`
	TradesCount     int             `json:"trades_count"`
}

// Exchange order states.
const (
	OrderStateWait   = "wait"
	OrderStateDone   = "done"
	OrderStateCancel = "cancel"
)

// APIError is a non-2xx response from the exchange.
type APIError struct {
	Status  int
	Name    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upbit api error (status %d, %s): %s", e.Status, e.Name, e.Message)
}

type errorBody struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}
