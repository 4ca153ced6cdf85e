package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type symbolHealth struct {
	Symbol  string `json:"symbol"`
	Source  string `json:"source"`
	Samples int    `json:"samples"`
	Pending int    `json:"pending_predictions"`
	Ready   bool   `json:"ready"`
}

// Health godoc
// @Summary      Health check
// @Description  Reports service status plus per-symbol sample counts and whether a forecast has been published
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	monitors := h.registry.All()
	details := make([]symbolHealth, 0, len(monitors))
	ready := 0
	for _, m := range monitors {
		_, hasSignal := m.LatestSignal()
		if hasSignal {
			ready++
		}
		details = append(details, symbolHealth{
			Symbol:  m.Symbol(),
			Source:  string(m.Instrument().Source),
			Samples: m.Samples(),
			Pending: m.PendingPredictions(),
			Ready:   hasSignal,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"symbols":     len(monitors),
		"ready":       ready,
		"instruments": details,
	})
}
