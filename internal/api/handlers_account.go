package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// balances handles GET /api/v1/account/balance.
func (s *Server) balances(c *gin.Context) {
	accounts, err := s.exchange.GetAccounts(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, accounts)
}

// balanceByCurrency handles GET /api/v1/account/balance/:currency.
func (s *Server) balanceByCurrency(c *gin.Context) {
	currency := c.Param("currency")
	accounts, err := s.exchange.GetAccounts(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	for _, a := range accounts {
		if strings.EqualFold(a.Currency, currency) {
			successResponse(c, http.StatusOK, a)
			return
		}
	}
	errorResponse(c, http.StatusNotFound, "no balance for currency "+currency)
}

// balanceSummary handles GET /api/v1/account/balance/summary: total KRW value
// of all holdings at current ticker prices.
func (s *Server) balanceSummary(c *gin.Context) {
	accounts, err := s.exchange.GetAccounts(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	totalKRW := decimal.Zero
	holdings := make([]gin.H, 0, len(accounts))
	for _, a := range accounts {
		value := a.Balance.Add(a.Locked)
		if !strings.EqualFold(a.Currency, "KRW") {
			ticker, err := s.exchange.GetTicker(c.Request.Context(), "KRW-"+strings.ToUpper(a.Currency))
			if err != nil {
				// unpriced assets are listed with zero valuation
				holdings = append(holdings, gin.H{"currency": a.Currency, "balance": value, "krw_value": nil})
				continue
			}
			value = value.Mul(ticker.TradePrice)
		}
		totalKRW = totalKRW.Add(value)
		holdings = append(holdings, gin.H{"currency": a.Currency, "balance": a.Balance.Add(a.Locked), "krw_value": value})
	}

	successResponse(c, http.StatusOK, gin.H{
		"total_krw_value": totalKRW,
		"holdings":        holdings,
	})
}
