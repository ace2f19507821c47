package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type buyRequest struct {
	Market string          `json:"market"`
	Amount decimal.Decimal `json:"amount"` // KRW to spend
}

type sellRequest struct {
	Market string          `json:"market"`
	Volume decimal.Decimal `json:"volume"` // base asset to sell
}

// buy handles POST /api/v1/trading/orders/buy.
func (s *Server) buy(c *gin.Context) {
	var req buyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Market == "" {
		req.Market = s.market
	}

	order, err := s.trading.Buy(c.Request.Context(), req.Market, req.Amount)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusCreated, order)
}

// sell handles POST /api/v1/trading/orders/sell.
func (s *Server) sell(c *gin.Context) {
	var req sellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Market == "" {
		req.Market = s.market
	}

	order, err := s.trading.Sell(c.Request.Context(), req.Market, req.Volume)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusCreated, order)
}

// localOrders handles GET /api/v1/trading/orders/local.
func (s *Server) localOrders(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		errorResponse(c, http.StatusBadRequest, "invalid limit")
		return
	}

	orders, err := s.trading.LocalOrders(c.Request.Context(), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, orders)
}

// syncAll handles POST /api/v1/trading/orders/sync-all.
func (s *Server) syncAll(c *gin.Context) {
	result, err := s.trading.SyncAll(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, result)
}
