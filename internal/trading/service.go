// Package trading places and tracks live orders on the exchange, guarded by
// the configured safety limits.
package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/database"
	"upbit-trading-engine/internal/folds"
	"upbit-trading-engine/internal/logging"
	"upbit-trading-engine/internal/upbit"
)

// Validation failures surfaced to callers as 400s.
var (
	ErrMarketNotAllowed    = errors.New("market is not allowed for trading")
	ErrAmountBelowMinimum  = errors.New("order amount below configured minimum")
	ErrAmountAboveMaximum  = errors.New("order amount above configured maximum")
	ErrDailyTradeLimit     = errors.New("daily trade limit reached")
	ErrInsufficientBalance = errors.New("insufficient balance for order")
)

// ExchangeClient is the slice of the exchange API the service uses.
type ExchangeClient interface {
	GetAccounts(ctx context.Context) ([]upbit.Account, error)
	PlaceOrder(ctx context.Context, req upbit.OrderRequest) (*upbit.Order, error)
	GetOrder(ctx context.Context, orderUUID string) (*upbit.Order, error)
}

// OrderStore is the slice of the order repository the service uses.
type OrderStore interface {
	Insert(ctx context.Context, o *database.TradeOrder) error
	UpdateStatus(ctx context.Context, orderUUID, status string) error
	FindByUUID(ctx context.Context, orderUUID string) (*database.TradeOrder, error)
	FindByStatus(ctx context.Context, status string) ([]database.TradeOrder, error)
	FindRecent(ctx context.Context, limit int) ([]database.TradeOrder, error)
	CountToday(ctx context.Context, market string, dayStart time.Time) (int, error)
}

// Limits are the per-market trading guard rails.
type Limits struct {
	Market         string
	MinOrderAmount decimal.Decimal
	MaxOrderAmount decimal.Decimal
	MaxDailyTrades int
}

// Service serialises order placement: one request validates, places at most
// one exchange order and one local insert before returning.
type Service struct {
	client  ExchangeClient
	orders  OrderStore
	limits  Limits
	tracker *Tracker
	logger  *logging.Logger
	mu      sync.Mutex
}

func NewService(client ExchangeClient, orders OrderStore, limits Limits, tracker *Tracker) *Service {
	return &Service{
		client:  client,
		orders:  orders,
		limits:  limits,
		tracker: tracker,
		logger:  logging.Default().WithComponent("trading"),
	}
}

// Buy places a market buy spending amount KRW.
func (s *Service) Buy(ctx context.Context, market string, amount decimal.Decimal) (*database.TradeOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateOrder(ctx, market, amount); err != nil {
		s.tracker.OrderRejected(market, "bid", err.Error())
		return nil, err
	}
	if err := s.checkBalance(ctx, "KRW", amount); err != nil {
		s.tracker.OrderRejected(market, "bid", err.Error())
		return nil, err
	}

	order, err := s.client.PlaceOrder(ctx, upbit.OrderRequest{
		Market:  market,
		Side:    "bid",
		OrdType: "price",
		Price:   amount.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place buy order: %w", err)
	}
	return s.record(ctx, order, amount, decimal.Zero)
}

// Sell places a market sell of volume base asset.
func (s *Service) Sell(ctx context.Context, market string, volume decimal.Decimal) (*database.TradeOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !strings.EqualFold(market, s.limits.Market) {
		s.tracker.OrderRejected(market, "ask", ErrMarketNotAllowed.Error())
		return nil, ErrMarketNotAllowed
	}
	if volume.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: volume must be positive", ErrAmountBelowMinimum)
	}
	if err := s.checkDailyLimit(ctx, market); err != nil {
		s.tracker.OrderRejected(market, "ask", err.Error())
		return nil, err
	}
	if err := s.checkBalance(ctx, baseCurrency(market), volume); err != nil {
		s.tracker.OrderRejected(market, "ask", err.Error())
		return nil, err
	}

	order, err := s.client.PlaceOrder(ctx, upbit.OrderRequest{
		Market:  market,
		Side:    "ask",
		OrdType: "market",
		Volume:  volume.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place sell order: %w", err)
	}
	return s.record(ctx, order, decimal.Zero, volume)
}

// validateOrder runs the buy-side guard rails in order: market, amount
// bounds, then the daily count.
func (s *Service) validateOrder(ctx context.Context, market string, amount decimal.Decimal) error {
	if !strings.EqualFold(market, s.limits.Market) {
		return ErrMarketNotAllowed
	}
	if amount.LessThan(s.limits.MinOrderAmount) {
		return fmt.Errorf("%w: %s < %s", ErrAmountBelowMinimum, amount, s.limits.MinOrderAmount)
	}
	if amount.GreaterThan(s.limits.MaxOrderAmount) {
		return fmt.Errorf("%w: %s > %s", ErrAmountAboveMaximum, amount, s.limits.MaxOrderAmount)
	}
	return s.checkDailyLimit(ctx, market)
}

func (s *Service) checkDailyLimit(ctx context.Context, market string) error {
	now := time.Now().In(folds.KST)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, folds.KST)
	count, err := s.orders.CountToday(ctx, market, dayStart)
	if err != nil {
		return fmt.Errorf("failed to count today's orders: %w", err)
	}
	if count >= s.limits.MaxDailyTrades {
		return ErrDailyTradeLimit
	}
	return nil
}

func (s *Service) checkBalance(ctx context.Context, currency string, needed decimal.Decimal) error {
	accounts, err := s.client.GetAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch balances: %w", err)
	}
	for _, a := range accounts {
		if strings.EqualFold(a.Currency, currency) {
			if a.Balance.LessThan(needed) {
				return fmt.Errorf("%w: have %s %s, need %s", ErrInsufficientBalance, a.Balance, currency, needed)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: no %s balance", ErrInsufficientBalance, currency)
}

func (s *Service) record(ctx context.Context, order *upbit.Order, price, volume decimal.Decimal) (*database.TradeOrder, error) {
	local := &database.TradeOrder{
		OrderUUID: order.UUID,
		Market:    order.Market,
		Side:      order.Side,
		OrdType:   order.OrdType,
		Price:     price,
		Volume:    volume,
		Status:    database.OrderStatusPending,
	}
	if err := s.orders.Insert(ctx, local); err != nil {
		return nil, fmt.Errorf("order %s placed but not recorded locally: %w", order.UUID, err)
	}
	s.tracker.OrderPlaced(order.UUID, order.Market, order.Side, order.OrdType, price, volume)
	s.logger.Info("Order placed", "order_uuid", order.UUID, "side", order.Side)
	return local, nil
}

// baseCurrency extracts the base asset from a KRW-XXX market symbol.
func baseCurrency(market string) string {
	if i := strings.Index(market, "-"); i >= 0 {
		return market[i+1:]
	}
	return market
}

// SyncResult summarises one sync-all pass.
type SyncResult struct {
	Checked  int `json:"checked"`
	Filled   int `json:"filled"`
	Canceled int `json:"canceled"`
	Pending  int `json:"pending"`
}

// SyncAll reconciles every locally PENDING order with the exchange.
func (s *Service) SyncAll(ctx context.Context) (*SyncResult, error) {
	pending, err := s.orders.FindByStatus(ctx, database.OrderStatusPending)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	for _, local := range pending {
		result.Checked++
		remote, err := s.client.GetOrder(ctx, local.OrderUUID)
		if err != nil {
			s.logger.Warn("Failed to sync order", "order_uuid", local.OrderUUID, "error", err.Error())
			result.Pending++
			continue
		}

		status := mapOrderState(remote.State)
		if status == local.Status {
			result.Pending++
			continue
		}
		if err := s.orders.UpdateStatus(ctx, local.OrderUUID, status); err != nil {
			return nil, err
		}
		s.tracker.OrderStatusChanged(local.OrderUUID, local.Status, status)
		switch status {
		case database.OrderStatusFilled:
			result.Filled++
		case database.OrderStatusCanceled:
			result.Canceled++
		default:
			result.Pending++
		}
	}
	s.logger.Info("Order sync finished", "checked", result.Checked,
		"filled", result.Filled, "canceled", result.Canceled)
	return result, nil
}

func mapOrderState(state string) string {
	switch state {
	case upbit.OrderStateDone:
		return database.OrderStatusFilled
	case upbit.OrderStateCancel:
		return database.OrderStatusCanceled
	}
	return database.OrderStatusPending
}

// LocalOrders lists the most recent locally recorded orders.
func (s *Service) LocalOrders(ctx context.Context, limit int) ([]database.TradeOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.orders.FindRecent(ctx, limit)
}
