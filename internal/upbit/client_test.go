package upbit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upbit-trading-engine/internal/folds"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-access", "test-secret")
	c.SetBaseURL(srv.URL)
	return c
}

func TestGetTicker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ticker", r.URL.Path)
		assert.Equal(t, "KRW-ETH", r.URL.Query().Get("markets"))
		assert.Empty(t, r.Header.Get("Authorization"), "public endpoint must not be signed")
		w.Write([]byte(`[{"market":"KRW-ETH","trade_price":3000000.5,"signed_change_rate":0.012}]`))
	})

	ticker, err := c.GetTicker(context.Background(), "KRW-ETH")
	require.NoError(t, err)
	assert.Equal(t, "KRW-ETH", ticker.Market)
	assert.Equal(t, "3000000.5", ticker.TradePrice.String())
	assert.InDelta(t, 0.012, ticker.SignedChangeRate, 1e-9)
}

func TestGetMinuteCandles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/candles/minutes/1", r.URL.Path)
		assert.Equal(t, "KRW-ETH", r.URL.Query().Get("market"))
		assert.Equal(t, "200", r.URL.Query().Get("count"))
		// 2024-01-02T12:00 KST is 03:00 UTC
		assert.Equal(t, "2024-01-02T03:00:00", r.URL.Query().Get("to"))
		w.Write([]byte(`[
			{"market":"KRW-ETH","candle_date_time_kst":"2024-01-02T11:59:00","opening_price":3000000,"high_price":3001000,"low_price":2999000,"trade_price":3000500,"candle_acc_trade_volume":12.5}
		]`))
	})

	to := time.Date(2024, 1, 2, 12, 0, 0, 0, folds.KST)
	candles, err := c.GetMinuteCandles(context.Background(), "KRW-ETH", to, 200)
	require.NoError(t, err)
	require.Len(t, candles, 1)

	ts, err := candles[0].KSTTime()
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2024, 1, 2, 11, 59, 0, 0, folds.KST)))
	assert.Equal(t, "12.5", candles[0].AccTradeVolume.String())
}

func TestGetMinuteCandlesZeroToOmitted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, has := r.URL.Query()["to"]
		assert.False(t, has, "zero to must be omitted")
		w.Write([]byte(`[]`))
	})

	_, err := c.GetMinuteCandles(context.Background(), "KRW-ETH", time.Time{}, 200)
	require.NoError(t, err)
}

func TestGetAccountsSignsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		require.True(t, strings.HasPrefix(auth, "Bearer "), "got %q", auth)

		token, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(tok *jwt.Token) (interface{}, error) {
			return []byte("test-secret"), nil
		})
		require.NoError(t, err)
		claims := token.Claims.(jwt.MapClaims)
		assert.Equal(t, "test-access", claims["access_key"])
		assert.NotEmpty(t, claims["nonce"])
		// no query on this endpoint, so no query hash either
		_, hasHash := claims["query_hash"]
		assert.False(t, hasHash)

		w.Write([]byte(`[{"currency":"KRW","balance":"1000000","locked":"0","avg_buy_price":"0","unit_currency":"KRW"}]`))
	})

	accounts, err := c.GetAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "KRW", accounts[0].Currency)
	assert.Equal(t, "1000000", accounts[0].Balance.String())
}

func TestPlaceOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "KRW-ETH", r.PostForm.Get("market"))
		assert.Equal(t, "bid", r.PostForm.Get("side"))
		assert.Equal(t, "price", r.PostForm.Get("ord_type"))
		assert.Equal(t, "50000", r.PostForm.Get("price"))

		auth := r.Header.Get("Authorization")
		token, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(tok *jwt.Token) (interface{}, error) {
			return []byte("test-secret"), nil
		})
		require.NoError(t, err)
		claims := token.Claims.(jwt.MapClaims)
		assert.Equal(t, "SHA512", claims["query_hash_alg"], "form body must be hashed into the token")
		assert.NotEmpty(t, claims["query_hash"])

		w.Write([]byte(`{"uuid":"abc-123","side":"bid","ord_type":"price","state":"wait","market":"KRW-ETH"}`))
	})

	order, err := c.PlaceOrder(context.Background(), OrderRequest{
		Market:  "KRW-ETH",
		Side:    "bid",
		OrdType: "price",
		Price:   "50000",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", order.UUID)
	assert.Equal(t, OrderStateWait, order.State)
}

func TestGetOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/order", r.URL.Path)
		assert.Equal(t, "abc-123", r.URL.Query().Get("uuid"))
		w.Write([]byte(`{"uuid":"abc-123","state":"done","executed_volume":"0.5"}`))
	})

	order, err := c.GetOrder(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.Equal(t, OrderStateDone, order.State)
	assert.Equal(t, "0.5", order.ExecutedVolume.String())
}

func TestAPIErrorEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"name":"invalid_access_key","message":"유효하지 않은 키입니다."}}`))
	})

	_, err := c.GetAccounts(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %T", err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid_access_key", apiErr.Name)
	assert.Contains(t, apiErr.Message, "유효하지")
}

func TestAPIErrorNonJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	})

	_, err := c.GetTicker(context.Background(), "KRW-ETH")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "unknown", apiErr.Name)
}

func TestCandleKSTTimeInvalid(t *testing.T) {
	c := Candle{CandleDateTimeKST: "2024/01/02"}
	_, err := c.KSTTime()
	assert.Error(t, err)
}
