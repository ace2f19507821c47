package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ticker handles GET /api/v1/market/ticker. Without a markets query it
// returns the configured market's snapshot.
func (s *Server) ticker(c *gin.Context) {
	market := c.DefaultQuery("markets", s.market)
	t, err := s.exchange.GetTicker(c.Request.Context(), market)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, t)
}

// tickerByMarket handles GET /api/v1/market/ticker/:market.
func (s *Server) tickerByMarket(c *gin.Context) {
	t, err := s.exchange.GetTicker(c.Request.Context(), c.Param("market"))
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, t)
}
