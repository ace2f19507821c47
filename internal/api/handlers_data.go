package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"upbit-trading-engine/internal/folds"
)

const dateLayout = "2006-01-02"

// initDayCandles handles POST /api/v1/data/init-ohlcv-all: backfill the
// daily candle table over the full fold range.
func (s *Server) initDayCandles(c *gin.Context) {
	all := folds.All()
	start := all[0].StartDate.AddDate(0, 0, -60) // warmup before fold 1
	end := all[len(all)-1].EndDate

	result, err := s.pipeline.BackfillDays(c.Request.Context(), start, end)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, result)
}

// initPredictions handles POST /api/v1/data/init-multi-model-predictions-all:
// import every prediction CSV found in the data directory.
func (s *Server) initPredictions(c *gin.Context) {
	results, err := s.predLoader.LoadDir(c.Request.Context(), s.dataDir)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, results)
}

// initMinuteCandles handles POST /api/v1/data/init-minute-candles?startDate&endDate.
func (s *Server) initMinuteCandles(c *gin.Context) {
	start, err := time.ParseInLocation(dateLayout, c.Query("startDate"), folds.KST)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid or missing startDate (YYYY-MM-DD)")
		return
	}
	end, err := time.ParseInLocation(dateLayout, c.Query("endDate"), folds.KST)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid or missing endDate (YYYY-MM-DD)")
		return
	}
	if end.Before(start) {
		errorResponse(c, http.StatusBadRequest, "endDate must not precede startDate")
		return
	}

	result, err := s.pipeline.BackfillMinutes(c.Request.Context(), start, end)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, result)
}

// fillSignalCandles handles POST /api/v1/data/fill-signal-candles: backfill
// minute candles covering the loaded CUSUM signal range.
func (s *Server) fillSignalCandles(c *gin.Context) {
	result, err := s.pipeline.FillForSignals(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, result)
}

func (s *Server) dayCandleStatus(c *gin.Context) {
	count, err := s.dayRepo.Count(c.Request.Context(), s.market)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, gin.H{"market": s.market, "count": count})
}

func (s *Server) minuteCandleStatus(c *gin.Context) {
	count, err := s.minuteRepo.Count(c.Request.Context(), s.market)
	if err != nil {
		handleError(c, err)
		return
	}
	oldest, err := s.minuteRepo.OldestTimestamp(c.Request.Context(), s.market)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, gin.H{"market": s.market, "count": count, "oldest": oldest})
}

func (s *Server) predictionStatus(c *gin.Context) {
	count, err := s.predRepo.Count(c.Request.Context(), s.market)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, gin.H{"market": s.market, "count": count})
}
