package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tick-oracle/internal/domain"
)

type symbolSummary struct {
	Symbol     string        `json:"symbol"`
	Source     domain.Source `json:"source"`
	Samples    int           `json:"samples"`
	LastPrice  *float64      `json:"last_price,omitempty"`
	LastUpdate string        `json:"last_update,omitempty"`
}

// ListSymbols godoc
// @Summary      List tracked symbols
// @Description  Returns every tracked instrument with its source and sample count
// @Tags         market
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/symbols [get]
func (h *Handler) ListSymbols(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.list-symbols")
	defer span.End()

	out := make([]symbolSummary, 0, len(h.registry.Symbols()))
	for _, m := range h.registry.All() {
		inst := m.Instrument()
		s := symbolSummary{Symbol: inst.Symbol, Source: inst.Source, Samples: len(m.History(0))}
		if last, ok := m.Last(); ok {
			p := last.Price
			s.LastPrice = &p
			s.LastUpdate = last.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		out = append(out, s)
	}
	c.JSON(http.StatusOK, gin.H{"symbols": out})
}

// GetPrice godoc
// @Summary      Get the latest price
// @Description  Returns the newest price sample observed for a symbol
// @Tags         market
// @Produce      json
// @Param        symbol  path  string  true  "Symbol (e.g., GGAL, BTCUSDT)"
// @Success      200  {object}  domain.PriceSample
// @Success      202  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/price/{symbol} [get]
func (h *Handler) GetPrice(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-price")
	defer span.End()

	m, ok := h.monitorFor(c, span)
	if !ok {
		return
	}
	last, ok := m.Last()
	if !ok {
		waiting(c, m)
		return
	}
	c.JSON(http.StatusOK, last)
}

// GetHistory godoc
// @Summary      Get price history
// @Description  Returns the newest price samples, oldest first
// @Tags         market
// @Produce      json
// @Param        symbol  path   string  true   "Symbol (e.g., GGAL, BTCUSDT)"
// @Param        limit   query  int     false  "Number of samples (default 100, max 1000)"  default(100)
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/history/{symbol} [get]
func (h *Handler) GetHistory(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-history")
	defer span.End()

	m, ok := h.monitorFor(c, span)
	if !ok {
		return
	}

	limit := 100
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	samples := m.History(limit)
	if samples == nil {
		samples = []domain.PriceSample{}
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":  m.Symbol(),
		"count":   len(samples),
		"samples": samples,
	})
}

// GetStats godoc
// @Summary      Get history statistics
// @Description  Returns max, min, mean and range of the buffered price history
// @Tags         market
// @Produce      json
// @Param        symbol  path  string  true  "Symbol (e.g., GGAL, BTCUSDT)"
// @Success      200  {object}  domain.HistoryStats
// @Success      202  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/stats/{symbol} [get]
func (h *Handler) GetStats(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-stats")
	defer span.End()

	m, ok := h.monitorFor(c, span)
	if !ok {
		return
	}
	stats, ok := m.Stats()
	if !ok {
		waiting(c, m)
		return
	}
	stats.Max = domain.Round(stats.Max, 2)
	stats.Min = domain.Round(stats.Min, 2)
	stats.Mean = domain.Round(stats.Mean, 2)
	stats.Range = domain.Round(stats.Range, 2)
	c.JSON(http.StatusOK, stats)
}
