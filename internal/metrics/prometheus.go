// Package metrics records forecasting pipeline metrics with Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Recorder struct {
	cycles        *prometheus.CounterVec
	validated     *prometheus.CounterVec
	pollErrors    *prometheus.CounterVec
	effectiveness *prometheus.GaugeVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickoracle_forecast_cycles_total",
				Help: "Forecast cycles by outcome",
			},
			[]string{"symbol", "outcome"},
		),
		validated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickoracle_predictions_validated_total",
				Help: "Predictions validated against observed prices",
			},
			[]string{"symbol"},
		),
		pollErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickoracle_poll_errors_total",
				Help: "Failed quote fetches",
			},
			[]string{"symbol"},
		),
		effectiveness: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickoracle_effectiveness_index",
				Help: "Composite forecast effectiveness index (0-100)",
			},
			[]string{"symbol"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickoracle_last_price",
				Help: "Last observed price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickoracle_cycle_duration_seconds",
				Help:    "Duration of forecast cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol"},
		),
	}
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns a process-wide recorder on the default registry.
func Default() *Recorder {
	defaultOnce.Do(func() { defaultRecorder = New(nil) })
	return defaultRecorder
}

func (r *Recorder) RecordCycle(symbol, outcome string, seconds float64) {
	r.cycles.WithLabelValues(symbol, outcome).Inc()
	r.latency.WithLabelValues(symbol).Observe(seconds)
}

func (r *Recorder) RecordValidated(symbol string, n int) {
	if n > 0 {
		r.validated.WithLabelValues(symbol).Add(float64(n))
	}
}

func (r *Recorder) RecordPollError(symbol string) {
	r.pollErrors.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordEffectiveness(symbol string, index float64) {
	r.effectiveness.WithLabelValues(symbol).Set(index)
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}
