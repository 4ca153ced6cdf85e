package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tick-oracle/internal/domain"
	"tick-oracle/internal/monitor"
)

// PredictionArchive lists archived predictions for the metrics endpoint.
type PredictionArchive interface {
	ListRecent(ctx context.Context, symbol string, limit int) ([]domain.PredictionRecord, error)
}

type Handler struct {
	tracer   trace.Tracer
	registry *monitor.Registry
	apiKey   string
	archive  PredictionArchive
}

func New(tracer trace.Tracer, registry *monitor.Registry, apiKey string) *Handler {
	return &Handler{
		tracer:   tracer,
		registry: registry,
		apiKey:   apiKey,
	}
}

func (h *Handler) SetPredictionArchive(archive PredictionArchive) {
	h.archive = archive
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/symbols", h.ListSymbols)
	api.GET("/price/:symbol", h.GetPrice)
	api.GET("/history/:symbol", h.GetHistory)
	api.GET("/stats/:symbol", h.GetStats)
	api.GET("/forecast/:symbol", h.GetForecast)
	api.GET("/signal/:symbol", h.GetSignal)
	api.GET("/metrics/:symbol", h.GetMetrics)
	api.POST("/ensemble/:symbol/weights", APIKeyAuth(h.apiKey), h.UpdateWeights)
}

// monitorFor resolves the :symbol path parameter, writing 404 when unknown.
func (h *Handler) monitorFor(c *gin.Context, span trace.Span) (*monitor.Monitor, bool) {
	symbol := c.Param("symbol")
	span.SetAttributes(attribute.String("symbol", symbol))

	m, err := h.registry.Get(symbol)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "unknown symbol: " + symbol,
			"supported_symbols": h.registry.Symbols(),
		})
		return nil, false
	}
	return m, true
}

func waiting(c *gin.Context, m *monitor.Monitor) {
	c.JSON(http.StatusAccepted, gin.H{
		"status":  "waiting",
		"symbol":  m.Symbol(),
		"message": "collecting price data",
		"samples": len(m.History(0)),
	})
}
