package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"upbit-trading-engine/internal/backtest"
	"upbit-trading-engine/internal/jobs"
	"upbit-trading-engine/internal/trading"
	"upbit-trading-engine/internal/upbit"
)

func successResponse(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"status": "success",
		"data":   data,
	})
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"status":  "error",
		"message": message,
	})
}

// handleError maps the error taxonomy onto HTTP statuses: validation 400,
// not-found 404, exchange and everything else 500.
func handleError(c *gin.Context, err error) {
	var validation *backtest.ValidationError
	switch {
	case errors.As(err, &validation),
		errors.Is(err, trading.ErrMarketNotAllowed),
		errors.Is(err, trading.ErrAmountBelowMinimum),
		errors.Is(err, trading.ErrAmountAboveMaximum),
		errors.Is(err, trading.ErrDailyTradeLimit),
		errors.Is(err, trading.ErrInsufficientBalance):
		errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrJobNotFound):
		errorResponse(c, http.StatusNotFound, err.Error())
	default:
		var apiErr *upbit.APIError
		if errors.As(err, &apiErr) {
			errorResponse(c, http.StatusInternalServerError, apiErr.Message)
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
	}
}
