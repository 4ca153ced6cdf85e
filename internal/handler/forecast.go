package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tick-oracle/internal/monitor"
)

// GetForecast godoc
// @Summary      Get forecasts
// @Description  Returns the latest forecasts for every configured horizon, or a single horizon when requested
// @Tags         forecast
// @Produce      json
// @Param        symbol   path   string  true   "Symbol (e.g., GGAL, BTCUSDT)"
// @Param        horizon  query  number  false  "Horizon in minutes (e.g., 1, 5, 10)"
// @Success      200  {object}  map[string]interface{}
// @Success      202  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/forecast/{symbol} [get]
func (h *Handler) GetForecast(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-forecast")
	defer span.End()

	m, ok := h.monitorFor(c, span)
	if !ok {
		return
	}

	if raw := c.Query("horizon"); raw != "" {
		minutes, err := strconv.ParseFloat(raw, 64)
		if err != nil || minutes <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "horizon must be a positive number of minutes"})
			return
		}
		horizon := time.Duration(minutes * float64(time.Minute))
		f, ok := m.LatestForecast(horizon)
		if !ok {
			if len(m.LatestForecasts()) == 0 {
				waiting(c, m)
				return
			}
			c.JSON(http.StatusNotFound, gin.H{"error": "horizon not configured: " + raw})
			return
		}
		c.JSON(http.StatusOK, f)
		return
	}

	forecasts := m.LatestForecasts()
	if len(forecasts) == 0 {
		waiting(c, m)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":     m.Symbol(),
		"forecasts":  forecasts,
		"updated_at": m.UpdatedAt(),
	})
}

// GetSignal godoc
// @Summary      Get trading signal
// @Description  Returns the BUY/SELL/HOLD signal derived from the tracked-horizon forecast
// @Tags         forecast
// @Produce      json
// @Param        symbol  path  string  true  "Symbol (e.g., GGAL, BTCUSDT)"
// @Success      200  {object}  domain.Signal
// @Success      202  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/signal/{symbol} [get]
func (h *Handler) GetSignal(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-signal")
	defer span.End()

	m, ok := h.monitorFor(c, span)
	if !ok {
		return
	}
	sig, ok := m.LatestSignal()
	if !ok {
		waiting(c, m)
		return
	}
	c.JSON(http.StatusOK, sig)
}

// GetMetrics godoc
// @Summary      Get forecast accuracy
// @Description  Returns accuracy metrics, rating and the most recently validated predictions. source=archive reads the list from Postgres.
// @Tags         forecast
// @Produce      json
// @Param        symbol  path   string  true   "Symbol (e.g., GGAL, BTCUSDT)"
// @Param        limit   query  int     false  "Number of validated predictions (default 10, max 100)"  default(10)
// @Param        source  query  string  false  "memory or archive"  default(memory)
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Router       /api/metrics/{symbol} [get]
func (h *Handler) GetMetrics(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-metrics")
	defer span.End()

	m, ok := h.monitorFor(c, span)
	if !ok {
		return
	}

	limit := 10
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	acc := m.Accuracy()
	if acc.Metrics != nil {
		rounded := acc.Metrics.Rounded()
		acc.Metrics = &rounded
	}

	recent := m.RecentPredictions(limit)
	if c.Query("source") == "archive" {
		if h.archive == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "prediction archive not configured"})
			return
		}
		archived, err := h.archive.ListRecent(ctx, m.Symbol(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		recent = archived
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":   m.Symbol(),
		"accuracy": acc,
		"pending":  m.PendingPredictions(),
		"recent":   recent,
	})
}

type weightsRequest struct {
	PrimaryScore   float64 `json:"primary_score"`
	AuxiliaryScore float64 `json:"auxiliary_score"`
}

// UpdateWeights godoc
// @Summary      Update ensemble weights
// @Description  Re-weights the weighted ensemble proportionally to the given component scores
// @Tags         forecast
// @Accept       json
// @Produce      json
// @Param        symbol   path    string          true  "Symbol (e.g., GGAL, BTCUSDT)"
// @Param        X-API-Key header string          false "API key"
// @Param        scores   body    weightsRequest  true  "Component scores"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Failure      404  {object}  map[string]interface{}
// @Failure      409  {object}  map[string]string
// @Router       /api/ensemble/{symbol}/weights [post]
func (h *Handler) UpdateWeights(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.update-weights")
	defer span.End()

	m, ok := h.monitorFor(c, span)
	if !ok {
		return
	}

	var req weightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	primary, auxiliary, err := m.UpdateWeights(req.PrimaryScore, req.AuxiliaryScore)
	switch {
	case errors.Is(err, monitor.ErrNotWeighted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, monitor.ErrInvalidScores):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":           m.Symbol(),
		"primary_weight":   primary,
		"auxiliary_weight": auxiliary,
	})
}
