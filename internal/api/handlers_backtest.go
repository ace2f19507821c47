package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/backtest"
	"upbit-trading-engine/internal/jobs"
)

// runTPSL handles POST /api/backtest/tp-sl/run.
func (s *Server) runTPSL(c *gin.Context) {
	var req backtest.TPSLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := s.engine.RunTPSL(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, resp)
}

type batchRequest struct {
	jobs.BatchParams
}

// runBatch handles POST /api/backtest/tp-sl/run-batch: the whole matrix,
// synchronously, results inline.
func (s *Server) runBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.ModelNames) == 0 || len(req.FoldNumbers) == 0 {
		errorResponse(c, http.StatusBadRequest, "modelNames and foldNumbers are required")
		return
	}

	var results []*backtest.Response
	for _, model := range req.ModelNames {
		for _, fold := range req.FoldNumbers {
			resp, err := s.engine.RunTPSL(c.Request.Context(), backtest.TPSLRequest{
				FoldNumber:      fold,
				ModelName:       model,
				InitialCapital:  req.InitialCapital,
				Threshold:       req.Threshold,
				ThresholdColumn: req.ThresholdColumn,
				ThresholdMode:   req.ThresholdMode,
				LadderedExits:   req.LadderedExits,
			})
			if err != nil {
				handleError(c, err)
				return
			}
			results = append(results, resp)
		}
	}
	successResponse(c, http.StatusOK, results)
}

// runBatchAsync handles POST /api/backtest/tp-sl/run-batch-async. Returns a
// job id immediately; progress is polled via the job endpoint.
func (s *Server) runBatchAsync(c *gin.Context) {
	var req jobs.BatchParams
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	jobID, err := s.runner.SubmitBatch(c.Request.Context(), req)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	successResponse(c, http.StatusAccepted, gin.H{"jobId": jobID})
}

// jobStatus handles GET /api/backtest/tp-sl/job/:jobId.
func (s *Server) jobStatus(c *gin.Context) {
	status, err := s.runner.GetStatus(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, status)
}

// jobResults is status-only: per-task results are not persisted.
func (s *Server) jobResults(c *gin.Context) {
	status, err := s.runner.GetStatus(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, gin.H{
		"job":     status,
		"message": "per-task results are not persisted; this endpoint reports progress only",
	})
}

// runSingle handles GET /api/backtest/run with query parameters.
func (s *Server) runSingle(c *gin.Context) {
	req, err := tpslRequestFromQuery(c)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.engine.RunTPSL(c.Request.Context(), *req)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, resp)
}

// runSequential handles GET /api/backtest/run-sequential.
func (s *Server) runSequential(c *gin.Context) {
	startFold, err := strconv.Atoi(c.DefaultQuery("startFold", "1"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid startFold")
		return
	}
	endFold, err := strconv.Atoi(c.DefaultQuery("endFold", "7"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid endFold")
		return
	}
	capital, err := decimal.NewFromString(c.DefaultQuery("initialCapital", "10000000"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid initialCapital")
		return
	}
	threshold, err := strconv.ParseFloat(c.DefaultQuery("confidenceThreshold", "0.5"), 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid confidenceThreshold")
		return
	}
	positionPct, err := strconv.ParseFloat(c.DefaultQuery("positionSizePercent", "100"), 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid positionSizePercent")
		return
	}

	resp, err := s.engine.RunSequential(c.Request.Context(), backtest.SequentialRequest{
		StartFold:           startFold,
		EndFold:             endFold,
		InitialCapital:      capital,
		ModelName:           c.DefaultQuery("modelName", "GRU"),
		Threshold:           threshold,
		ThresholdColumn:     c.DefaultQuery("confidenceColumn", backtest.ColumnPredProbaUp),
		ThresholdMode:       c.DefaultQuery("thresholdMode", backtest.ThresholdModeFixed),
		PositionSizePercent: positionPct,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, resp)
}

func tpslRequestFromQuery(c *gin.Context) (*backtest.TPSLRequest, error) {
	fold, err := strconv.Atoi(c.DefaultQuery("foldNumber", "1"))
	if err != nil {
		return nil, errInvalidQuery("foldNumber")
	}
	capital, err := decimal.NewFromString(c.DefaultQuery("initialCapital", "10000000"))
	if err != nil {
		return nil, errInvalidQuery("initialCapital")
	}
	threshold, err := strconv.ParseFloat(c.DefaultQuery("confidenceThreshold", "0.5"), 64)
	if err != nil {
		return nil, errInvalidQuery("confidenceThreshold")
	}
	positionPct := 0.0
	if raw := c.Query("positionSizePercent"); raw != "" {
		positionPct, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errInvalidQuery("positionSizePercent")
		}
	}

	return &backtest.TPSLRequest{
		FoldNumber:          fold,
		ModelName:           c.DefaultQuery("modelName", "GRU"),
		InitialCapital:      capital,
		Threshold:           threshold,
		ThresholdColumn:     c.DefaultQuery("confidenceColumn", backtest.ColumnPredProbaUp),
		ThresholdMode:       c.DefaultQuery("thresholdMode", backtest.ThresholdModeFixed),
		PositionSizePercent: positionPct,
	}, nil
}

type queryError string

func (e queryError) Error() string { return "invalid query parameter " + string(e) }

func errInvalidQuery(param string) error { return queryError(param) }

// runCusum handles POST /api/backtest/cusum/run.
func (s *Server) runCusum(c *gin.Context) {
	var req backtest.CusumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := s.engine.RunCusum(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, resp)
}

// cusumSummary handles GET /api/backtest/cusum/summary.
func (s *Server) cusumSummary(c *gin.Context) {
	first, last := s.cusum.DateRange()
	successResponse(c, http.StatusOK, gin.H{
		"summary":    s.cusum.Summary(),
		"strategies": s.cusum.Strategies(),
		"models":     s.cusum.Models(),
		"folds":      s.cusum.Folds(),
		"date_range": gin.H{"first": first, "last": last},
	})
}

type foldCapitalRequest struct {
	FoldNumber     int             `json:"foldNumber"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
}

// runRuleBased handles POST /api/backtest/rule-based/run.
func (s *Server) runRuleBased(c *gin.Context) {
	var req foldCapitalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := s.engine.RunRuleBased(c.Request.Context(), req.FoldNumber, req.InitialCapital)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, resp)
}

// runBuyHold handles POST /api/backtest/buy-hold/run.
func (s *Server) runBuyHold(c *gin.Context) {
	var req foldCapitalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := s.engine.RunBuyHold(c.Request.Context(), req.FoldNumber, req.InitialCapital)
	if err != nil {
		handleError(c, err)
		return
	}
	successResponse(c, http.StatusOK, resp)
}
