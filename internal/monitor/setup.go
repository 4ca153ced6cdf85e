package monitor

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"tick-oracle/internal/config"
	"tick-oracle/internal/domain"
	"tick-oracle/internal/forecast"
	"tick-oracle/internal/forecast/kalman"
	"tick-oracle/internal/metrics"
	"tick-oracle/internal/tracker"
)

// ConfigFor translates service configuration into the monitor config of one
// instrument. Optional collaborators are left unset.
func ConfigFor(cfg *config.Config, inst domain.Instrument) Config {
	return Config{
		Instrument:         inst,
		HistoryCapacity:    cfg.HistoryCapacity,
		Horizons:           cfg.Horizons(),
		TrackedHorizon:     cfg.TrackedHorizon(),
		Strategy:           cfg.EnsembleStrategy,
		PrimaryWeight:      cfg.EnsembleWeightKalman,
		SignalThresholdPct: cfg.SignalThresholdPct,
		IndicatorOverlay:   cfg.SignalIndicatorOverlay,
		Forecast: forecast.Options{
			Kalman: kalman.Params{
				PriceNoise:       cfg.KalmanProcessNoise,
				VelocityNoise:    cfg.KalmanProcessNoise,
				MeasurementNoise: cfg.KalmanMeasurementNoise,
			},
		},
		Tracker: tracker.Params{
			Capacity:  cfg.TrackerCapacity,
			Tolerance: cfg.ValidationTolerance(),
		},
	}
}

// Deps are the optional collaborators shared by every monitor.
type Deps struct {
	Archive   Archiver
	Snapshots SnapshotCache
	Metrics   *metrics.Recorder
}

// NewRegistryFromConfig builds one monitor per configured instrument.
func NewRegistryFromConfig(tracer trace.Tracer, cfg *config.Config, deps Deps) (*Registry, error) {
	monitors := make([]*Monitor, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		mc := ConfigFor(cfg, inst)
		mc.Archive, mc.Snapshots, mc.Metrics = deps.Archive, deps.Snapshots, deps.Metrics
		m, err := New(tracer, mc)
		if err != nil {
			return nil, fmt.Errorf("monitor %s: %w", inst.Symbol, err)
		}
		monitors = append(monitors, m)
	}
	return NewRegistry(monitors...), nil
}
