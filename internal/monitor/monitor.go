// Package monitor runs the per-instrument forecasting pipeline: price
// history, forecasts for every horizon, prediction tracking and signals.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tick-oracle/internal/cache"
	"tick-oracle/internal/domain"
	"tick-oracle/internal/forecast"
	"tick-oracle/internal/forecast/ensemble"
	"tick-oracle/internal/history"
	"tick-oracle/internal/metrics"
	"tick-oracle/internal/signal"
	"tick-oracle/internal/ta"
	"tick-oracle/internal/tracker"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrNoData        = errors.New("insufficient data for forecast")
	ErrNotWeighted   = errors.New("ensemble strategy has no adjustable weights")
	ErrInvalidScores = errors.New("weight scores must be non-negative with a positive sum")
)

const indicatorWindow = 5

// Archiver persists newly validated predictions.
type Archiver interface {
	InsertValidated(ctx context.Context, records []domain.PredictionRecord) error
}

type SnapshotCache interface {
	Save(ctx context.Context, snap cache.Snapshot) error
	Load(ctx context.Context, symbol string) (*cache.Snapshot, error)
}

type Config struct {
	Instrument         domain.Instrument
	HistoryCapacity    int
	Horizons           []time.Duration
	TrackedHorizon     time.Duration
	Strategy           string
	PrimaryWeight      float64
	SignalThresholdPct float64

	// IndicatorOverlay lets RSI and momentum adjust the published signal.
	IndicatorOverlay bool
	Forecast         forecast.Options
	Tracker          tracker.Params

	// Optional collaborators; nil disables them.
	Archive   Archiver
	Snapshots SnapshotCache
	Metrics   *metrics.Recorder
}

type Monitor struct {
	tracer    trace.Tracer
	inst      domain.Instrument
	history   *history.Buffer
	tracker   *tracker.Tracker
	model     forecast.Model
	signals   *signal.Generator
	overlay   bool
	horizons  []time.Duration
	tracked   time.Duration
	archive   Archiver
	snapshots SnapshotCache
	metrics   *metrics.Recorder
	now       func() time.Time

	mu        sync.RWMutex
	latest    []domain.Forecast
	signal    *domain.Signal
	updatedAt time.Time
}

func New(tracer trace.Tracer, cfg Config) (*Monitor, error) {
	model, err := ensemble.Build(cfg.Strategy, cfg.Forecast, cfg.PrimaryWeight)
	if err != nil {
		return nil, err
	}
	return newWithModel(tracer, cfg, model, time.Now), nil
}

func newWithModel(tracer trace.Tracer, cfg Config, model forecast.Model, now func() time.Time) *Monitor {
	horizons := append([]time.Duration(nil), cfg.Horizons...)
	if len(horizons) == 0 {
		horizons = []time.Duration{time.Minute, 5 * time.Minute, 10 * time.Minute}
	}
	tracked := cfg.TrackedHorizon
	if tracked <= 0 {
		tracked = 5 * time.Minute
	}
	found := false
	for _, h := range horizons {
		if h == tracked {
			found = true
		}
	}
	if !found {
		horizons = append(horizons, tracked)
	}
	slices.Sort(horizons)

	return &Monitor{
		tracer:    tracer,
		inst:      cfg.Instrument,
		history:   history.NewBuffer(cfg.HistoryCapacity),
		tracker:   tracker.NewWithClock(cfg.Tracker, now),
		model:     model,
		signals:   signal.NewGenerator(cfg.SignalThresholdPct),
		overlay:   cfg.IndicatorOverlay,
		horizons:  horizons,
		tracked:   tracked,
		archive:   cfg.Archive,
		snapshots: cfg.Snapshots,
		metrics:   cfg.Metrics,
		now:       now,
	}
}

func (m *Monitor) Instrument() domain.Instrument { return m.inst }
func (m *Monitor) Symbol() string                { return m.inst.Symbol }
func (m *Monitor) Horizons() []time.Duration     { return append([]time.Duration(nil), m.horizons...) }

// Ingest appends a quote to the history. Invalid samples mean no sample this
// cycle and are reported with history.ErrInvalidSample.
func (m *Monitor) Ingest(s domain.PriceSample) error {
	if s.Symbol == "" {
		s.Symbol = m.inst.Symbol
	}
	if err := m.history.Append(s); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordLastPrice(m.inst.Symbol, s.Price)
	}
	return nil
}

// RunCycle validates pending predictions, forecasts every horizon, records the
// tracked horizon and publishes the new forecasts and signal. With too little
// history it returns ErrNoData and leaves all state untouched.
func (m *Monitor) RunCycle(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "monitor.run-cycle")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", m.inst.Symbol))

	start := m.now()
	samples := m.history.Snapshot()
	if len(samples) < m.model.MinSamples() {
		m.recordCycle("no_data", start)
		return ErrNoData
	}

	validated := m.tracker.ValidateRecords(samples)

	forecasts := make([]domain.Forecast, 0, len(m.horizons))
	var tracked *domain.Forecast
	for _, h := range m.horizons {
		f, err := forecast.Run(m.model, samples, h)
		if err != nil {
			if errors.Is(err, forecast.ErrInsufficientData) {
				log.Debug().Str("symbol", m.inst.Symbol).Dur("horizon", h).Msg("forecast skipped, insufficient data")
			} else {
				log.Warn().Err(err).Str("symbol", m.inst.Symbol).Dur("horizon", h).Msg("forecast failed")
			}
			continue
		}
		f.Symbol = m.inst.Symbol
		forecasts = append(forecasts, *f)
		if h == m.tracked {
			tf := f.Clone()
			tracked = &tf
		}
	}
	if tracked == nil {
		m.recordCycle("failed", start)
		m.recordValidated(ctx, validated)
		return fmt.Errorf("%s: %w", m.inst.Symbol, ErrNoData)
	}

	m.tracker.Add(*tracked)
	sig := m.signals.Generate(*tracked)
	if m.overlay {
		sig = m.signals.GenerateWithIndicators(*tracked, ta.Compute(domain.Prices(samples), indicatorWindow))
	}
	sig.Symbol = m.inst.Symbol

	m.mu.Lock()
	m.latest = forecasts
	m.signal = &sig
	m.updatedAt = m.now().UTC()
	updatedAt := m.updatedAt
	m.mu.Unlock()

	m.recordCycle("ok", start)
	m.recordValidated(ctx, validated)

	if m.snapshots != nil {
		snap := cache.Snapshot{Symbol: m.inst.Symbol, Forecasts: cloneForecasts(forecasts), Signal: &sig, UpdatedAt: updatedAt}
		if err := m.snapshots.Save(ctx, snap); err != nil {
			log.Warn().Err(err).Str("symbol", m.inst.Symbol).Msg("snapshot cache write failed")
		}
	}
	log.Debug().
		Str("symbol", m.inst.Symbol).
		Int("forecasts", len(forecasts)).
		Int("validated", len(validated)).
		Str("signal", string(sig.Action)).
		Msg("forecast cycle complete")
	return nil
}

func (m *Monitor) recordCycle(outcome string, start time.Time) {
	if m.metrics != nil {
		m.metrics.RecordCycle(m.inst.Symbol, outcome, m.now().Sub(start).Seconds())
	}
}

func (m *Monitor) recordValidated(ctx context.Context, validated []domain.PredictionRecord) {
	if len(validated) == 0 {
		return
	}
	if m.metrics != nil {
		m.metrics.RecordValidated(m.inst.Symbol, len(validated))
		if acc := m.tracker.AccuracyMetrics(); acc.Metrics != nil {
			m.metrics.RecordEffectiveness(m.inst.Symbol, acc.Metrics.EffectivenessIndex)
		}
	}
	if m.archive != nil {
		if err := m.archive.InsertValidated(ctx, validated); err != nil {
			log.Warn().Err(err).Str("symbol", m.inst.Symbol).Int("validated", len(validated)).Msg("prediction archive failed")
		}
	}
}

// Restore fills an empty latest slot from the snapshot cache.
func (m *Monitor) Restore(ctx context.Context) (bool, error) {
	if m.snapshots == nil {
		return false, nil
	}
	m.mu.RLock()
	empty := len(m.latest) == 0
	m.mu.RUnlock()
	if !empty {
		return false, nil
	}

	snap, err := m.snapshots.Load(ctx, m.inst.Symbol)
	if err != nil || snap == nil || len(snap.Forecasts) == 0 {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latest) > 0 {
		return false, nil
	}
	m.latest = snap.Forecasts
	m.signal = snap.Signal
	m.updatedAt = snap.UpdatedAt
	return true, nil
}

// LatestForecasts returns copies of the last published forecasts, shortest
// horizon first.
func (m *Monitor) LatestForecasts() []domain.Forecast {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneForecasts(m.latest)
}

// LatestForecast returns the published forecast for horizon.
func (m *Monitor) LatestForecast(horizon time.Duration) (domain.Forecast, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.latest {
		if f.Horizon == horizon {
			return f.Clone(), true
		}
	}
	return domain.Forecast{}, false
}

func (m *Monitor) LatestSignal() (domain.Signal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.signal == nil {
		return domain.Signal{}, false
	}
	return *m.signal, true
}

func (m *Monitor) UpdatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updatedAt
}

func (m *Monitor) Accuracy() domain.AccuracyMetrics {
	return m.tracker.AccuracyMetrics()
}

func (m *Monitor) RecentPredictions(limit int) []domain.PredictionRecord {
	return m.tracker.Recent(limit)
}

func (m *Monitor) PendingPredictions() int {
	return m.tracker.Pending()
}

// History returns up to limit of the newest samples, oldest first. A
// non-positive limit returns everything.
func (m *Monitor) History(limit int) []domain.PriceSample {
	if limit <= 0 {
		return m.history.Snapshot()
	}
	return m.history.Tail(limit)
}

func (m *Monitor) Samples() int { return m.history.Len() }

func (m *Monitor) Last() (domain.PriceSample, bool) {
	return m.history.Last()
}

func (m *Monitor) Stats() (domain.HistoryStats, bool) {
	samples := m.history.Snapshot()
	if len(samples) == 0 {
		return domain.HistoryStats{Symbol: m.inst.Symbol}, false
	}
	prices := domain.Prices(samples)
	hi, lo := floats.Max(prices), floats.Min(prices)
	return domain.HistoryStats{
		Symbol:     m.inst.Symbol,
		Max:        hi,
		Min:        lo,
		Mean:       stat.Mean(prices, nil),
		Range:      hi - lo,
		Samples:    len(samples),
		LastUpdate: samples[len(samples)-1].Timestamp,
	}, true
}

// UpdateWeights adjusts the weighted ensemble from component scores.
func (m *Monitor) UpdateWeights(primaryScore, auxiliaryScore float64) (primary, auxiliary float64, err error) {
	w, ok := m.model.(*ensemble.Weighted)
	if !ok {
		return 0, 0, ErrNotWeighted
	}
	if !w.UpdateWeights(primaryScore, auxiliaryScore) {
		return 0, 0, ErrInvalidScores
	}
	primary, auxiliary = w.Weights()
	return primary, auxiliary, nil
}

// Prune drops tracked predictions older than maxAge.
func (m *Monitor) Prune(maxAge time.Duration) int {
	return m.tracker.Prune(maxAge)
}

func cloneForecasts(in []domain.Forecast) []domain.Forecast {
	out := make([]domain.Forecast, len(in))
	for i, f := range in {
		out[i] = f.Clone()
	}
	return out
}

// Registry maps symbols to monitors. It is fixed after construction.
type Registry struct {
	monitors map[string]*Monitor
	order    []string
}

func NewRegistry(monitors ...*Monitor) *Registry {
	r := &Registry{monitors: make(map[string]*Monitor, len(monitors))}
	for _, m := range monitors {
		sym := m.Symbol()
		if _, dup := r.monitors[sym]; dup {
			continue
		}
		r.monitors[sym] = m
		r.order = append(r.order, sym)
	}
	return r
}

func (r *Registry) Get(symbol string) (*Monitor, error) {
	m, ok := r.monitors[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return m, nil
}

func (r *Registry) Symbols() []string {
	return append([]string(nil), r.order...)
}

// All returns the monitors in registration order.
func (r *Registry) All() []*Monitor {
	out := make([]*Monitor, 0, len(r.order))
	for _, sym := range r.order {
		out = append(out, r.monitors[sym])
	}
	return out
}
