package upbit

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"upbit-trading-engine/internal/logging"
	"upbit-trading-engine/internal/metrics"
)

const defaultBaseURL = "https://api.upbit.com"

// Client is a REST client for the Upbit exchange. Public endpoints need no
// keys; private endpoints are signed with a per-request JWT.
type Client struct {
	baseURL    string
	accessKey  string
	secretKey  string
	httpClient *http.Client
	limiter    *RateLimiter
	logger     *logging.Logger
}

// NewClient creates an Upbit client. Empty keys are fine for public endpoints.
func NewClient(accessKey, secretKey string) *Client {
	return &Client{
		baseURL:   defaultBaseURL,
		accessKey: accessKey,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: NewRateLimiter(8, 200),
		logger:  logging.Default().WithComponent("upbit"),
	}
}

// SetBaseURL overrides the API base URL. Used by tests.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// authToken builds the JWT for a private request. The query hash covers the
// raw encoded query string (or form body for POSTs).
func (c *Client) authToken(query string) (string, error) {
	claims := jwt.MapClaims{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}
	if query != "" {
		hash := sha512.Sum512([]byte(query))
		claims["query_hash"] = hex.EncodeToString(hash[:])
		claims["query_hash_alg"] = "SHA512"
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign auth token: %w", err)
	}
	return signed, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := ""
	if params != nil {
		query = params.Encode()
	}

	reqURL := c.baseURL + path
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewBufferString(query)
	} else if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	if signed {
		token, err := c.authToken(query)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ExchangeRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ExchangeRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ExchangeRequests.WithLabelValues(endpoint, "error").Inc()
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error.Message != "" {
			return nil, &APIError{Status: resp.StatusCode, Name: eb.Error.Name, Message: eb.Error.Message}
		}
		return nil, &APIError{Status: resp.StatusCode, Name: "unknown", Message: string(data)}
	}

	metrics.ExchangeRequests.WithLabelValues(endpoint, "ok").Inc()
	return data, nil
}

// GetAccounts returns all balances for the account.
func (c *Client) GetAccounts(ctx context.Context) ([]Account, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, true, "accounts")
	if err != nil {
		return nil, fmt.Errorf("error fetching accounts: %w", err)
	}
	var accounts []Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("error parsing accounts: %w", err)
	}
	return accounts, nil
}

// GetTicker returns the current snapshot for one market.
func (c *Client) GetTicker(ctx context.Context, market string) (*Ticker, error) {
	params := url.Values{}
	params.Set("markets", market)

	data, err := c.do(ctx, http.MethodGet, "/v1/ticker", params, false, "ticker")
	if err != nil {
		return nil, fmt.Errorf("error fetching ticker for %s: %w", market, err)
	}
	var tickers []Ticker
	if err := json.Unmarshal(data, &tickers); err != nil {
		return nil, fmt.Errorf("error parsing ticker: %w", err)
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no ticker returned for %s", market)
	}
	return &tickers[0], nil
}

// GetDayCandles returns up to count daily candles ending at to (exclusive),
// newest first. A zero to means "latest".
func (c *Client) GetDayCandles(ctx context.Context, market string, to time.Time, count int) ([]Candle, error) {
	params := url.Values{}
	params.Set("market", market)
	params.Set("count", strconv.Itoa(count))
	if !to.IsZero() {
		params.Set("to", to.UTC().Format(candleTimeLayout))
	}

	data, err := c.do(ctx, http.MethodGet, "/v1/candles/days", params, false, "candles_days")
	if err != nil {
		return nil, fmt.Errorf("error fetching day candles for %s: %w", market, err)
	}
	var candles []Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("error parsing day candles: %w", err)
	}
	return candles, nil
}

// GetMinuteCandles returns up to count 1-minute candles ending at to
// (exclusive), newest first. A zero to means "latest". Max count is 200.
func (c *Client) GetMinuteCandles(ctx context.Context, market string, to time.Time, count int) ([]Candle, error) {
	params := url.Values{}
	params.Set("market", market)
	params.Set("count", strconv.Itoa(count))
	if !to.IsZero() {
		params.Set("to", to.UTC().Format(candleTimeLayout))
	}

	data, err := c.do(ctx, http.MethodGet, "/v1/candles/minutes/1", params, false, "candles_minutes")
	if err != nil {
		return nil, fmt.Errorf("error fetching minute candles for %s: %w", market, err)
	}
	var candles []Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("error parsing minute candles: %w", err)
	}
	return candles, nil
}

// PlaceOrder submits an order to the exchange.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	params := url.Values{}
	params.Set("market", req.Market)
	params.Set("side", req.Side)
	params.Set("ord_type", req.OrdType)
	if req.Price != "" {
		params.Set("price", req.Price)
	}
	if req.Volume != "" {
		params.Set("volume", req.Volume)
	}

	c.logger.Info("Placing order", "market", req.Market, "side", req.Side, "ord_type", req.OrdType)

	data, err := c.do(ctx, http.MethodPost, "/v1/orders", params, true, "orders")
	if err != nil {
		return nil, fmt.Errorf("error placing order: %w", err)
	}
	var order Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	return &order, nil
}

// GetOrder returns the current exchange state of one order.
func (c *Client) GetOrder(ctx context.Context, orderUUID string) (*Order, error) {
	params := url.Values{}
	params.Set("uuid", orderUUID)

	data, err := c.do(ctx, http.MethodGet, "/v1/order", params, true, "order")
	if err != nil {
		return nil, fmt.Errorf("error fetching order %s: %w", orderUUID, err)
	}
	var order Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("error parsing order: %w", err)
	}
	return &order, nil
}

// GetOrdersByState lists the account's orders in the given state.
func (c *Client) GetOrdersByState(ctx context.Context, market, state string) ([]Order, error) {
	params := url.Values{}
	params.Set("market", market)
	params.Set("state", state)

	data, err := c.do(ctx, http.MethodGet, "/v1/orders", params, true, "orders_list")
	if err != nil {
		return nil, fmt.Errorf("error fetching %s orders: %w", state, err)
	}
	var orders []Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("error parsing orders: %w", err)
	}
	return orders, nil
}
