package job

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tick-oracle/internal/domain"
	"tick-oracle/internal/history"
	"tick-oracle/internal/metrics"
	"tick-oracle/internal/monitor"
	"tick-oracle/internal/provider"
)

const DefaultPollInterval = 10 * time.Second

type QuoteFetcher interface {
	Fetch(ctx context.Context, inst domain.Instrument) (domain.PriceSample, error)
}

// PricePoller polls the quote source for every monitored instrument and feeds
// the samples into the monitors' histories.
type PricePoller struct {
	runner
	tracer   trace.Tracer
	source   QuoteFetcher
	registry *monitor.Registry
	interval time.Duration
	errors   *provider.ErrorTracker
	metrics  *metrics.Recorder
}

func NewPricePoller(tracer trace.Tracer, source QuoteFetcher, registry *monitor.Registry, interval time.Duration, rec *metrics.Recorder) *PricePoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PricePoller{
		runner:   newRunner("price-poller"),
		tracer:   tracer,
		source:   source,
		registry: registry,
		interval: interval,
		errors:   provider.NewErrorTracker(0),
		metrics:  rec,
	}
}

// Start polls until ctx is cancelled. The first poll happens immediately.
func (p *PricePoller) Start(ctx context.Context) {
	log.Info().Int("instruments", len(p.registry.Symbols())).Dur("interval", p.interval).Msg("price poller starting")
	p.run(ctx, p.registry.All(), p.interval, p.pollOnce)
}

// Wait reports whether the poller stopped within timeout.
func (p *PricePoller) Wait(timeout time.Duration) bool {
	return p.wait(timeout)
}

func (p *PricePoller) pollOnce(ctx context.Context, m *monitor.Monitor) {
	ctx, span := p.tracer.Start(ctx, "price-poller.poll")
	defer span.End()
	sym := m.Symbol()
	span.SetAttributes(attribute.String("symbol", sym))

	sample, err := p.source.Fetch(ctx, m.Instrument())
	if err != nil {
		if errors.Is(err, provider.ErrNoSample) {
			log.Debug().Str("symbol", sym).Msg("no sample this cycle")
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		if p.metrics != nil {
			p.metrics.RecordPollError(sym)
		}
		if n, report := p.errors.Failure(sym); report {
			log.Warn().Err(err).Str("symbol", sym).Int("consecutive", n).Msg("quote fetch failed")
		}
		return
	}
	p.errors.Success(sym)

	if err := m.Ingest(sample); err != nil {
		if errors.Is(err, history.ErrOutOfOrder) || errors.Is(err, history.ErrInvalidSample) {
			log.Debug().Err(err).Str("symbol", sym).Msg("sample dropped")
			return
		}
		log.Warn().Err(err).Str("symbol", sym).Msg("sample ingest failed")
	}
}
