package job

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"tick-oracle/internal/monitor"
)

const (
	DefaultForecastInterval = time.Minute
	DefaultPredictionMaxAge = 24 * time.Hour
)

// ForecastJob runs one forecast cycle per instrument per interval. Cycles of
// the same instrument never overlap.
type ForecastJob struct {
	runner
	tracer   trace.Tracer
	registry *monitor.Registry
	interval time.Duration
	maxAge   time.Duration
}

func NewForecastJob(tracer trace.Tracer, registry *monitor.Registry, interval, maxAge time.Duration) *ForecastJob {
	if interval <= 0 {
		interval = DefaultForecastInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultPredictionMaxAge
	}
	return &ForecastJob{
		runner:   newRunner("forecast-job"),
		tracer:   tracer,
		registry: registry,
		interval: interval,
		maxAge:   maxAge,
	}
}

func (j *ForecastJob) Start(ctx context.Context) {
	log.Info().Int("instruments", len(j.registry.Symbols())).Dur("interval", j.interval).Msg("forecast job starting")
	j.run(ctx, j.registry.All(), j.interval, j.runOnce)
}

func (j *ForecastJob) Wait(timeout time.Duration) bool {
	return j.wait(timeout)
}

func (j *ForecastJob) runOnce(ctx context.Context, m *monitor.Monitor) {
	ctx, span := j.tracer.Start(ctx, "forecast-job.run-once")
	defer span.End()

	err := m.RunCycle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, monitor.ErrNoData):
		log.Debug().Str("symbol", m.Symbol()).Msg("waiting for more price history")
	default:
		log.Error().Err(err).Str("symbol", m.Symbol()).Msg("forecast cycle failed")
	}

	if pruned := m.Prune(j.maxAge); pruned > 0 {
		log.Debug().Str("symbol", m.Symbol()).Int("pruned", pruned).Msg("old predictions pruned")
	}
}
