package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"tick-oracle/internal/cache"
	"tick-oracle/internal/domain"
	"tick-oracle/internal/forecast"
	"tick-oracle/internal/forecast/ensemble"
	"tick-oracle/internal/metrics"
)

var base = time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeArchive struct {
	records []domain.PredictionRecord
	err     error
}

func (a *fakeArchive) InsertValidated(_ context.Context, recs []domain.PredictionRecord) error {
	a.records = append(a.records, recs...)
	return a.err
}

type fakeSnapshots struct {
	saved map[string]cache.Snapshot
}

func (s *fakeSnapshots) Save(_ context.Context, snap cache.Snapshot) error {
	if s.saved == nil {
		s.saved = map[string]cache.Snapshot{}
	}
	s.saved[snap.Symbol] = snap
	return nil
}

func (s *fakeSnapshots) Load(_ context.Context, symbol string) (*cache.Snapshot, error) {
	snap, ok := s.saved[symbol]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func testConfig() Config {
	return Config{
		Instrument:     domain.Instrument{Symbol: "GGAL", Source: domain.SourceStock},
		Horizons:       []time.Duration{10 * time.Minute, time.Minute, 5 * time.Minute},
		TrackedHorizon: 5 * time.Minute,
		Strategy:       "weighted",
		PrimaryWeight:  ensemble.DefaultPrimaryWeight,
		Forecast:       forecast.Options{Step: time.Minute},
	}
}

func newTestMonitor(t *testing.T, cfg Config, c *clock) *Monitor {
	t.Helper()
	model, err := ensemble.Build(cfg.Strategy, cfg.Forecast, cfg.PrimaryWeight)
	require.NoError(t, err)
	return newWithModel(trace.NewNoopTracerProvider().Tracer("test"), cfg, model, c.Now)
}

// ingestRamp adds n one-minute samples rising 0.2 per minute, starting at
// minute offset from.
func ingestRamp(t *testing.T, m *Monitor, from, n int) {
	t.Helper()
	for i := from; i < from+n; i++ {
		s := domain.PriceSample{Timestamp: base.Add(time.Duration(i) * time.Minute), Price: 100 + 0.2*float64(i)}
		require.NoError(t, m.Ingest(s))
	}
}

func TestRunCycleInsufficientData(t *testing.T) {
	c := &clock{t: base}
	m := newTestMonitor(t, testConfig(), c)
	ingestRamp(t, m, 0, 5)

	err := m.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrNoData)
	require.Empty(t, m.LatestForecasts())
	_, ok := m.LatestSignal()
	require.False(t, ok)
	require.Zero(t, m.PendingPredictions())
}

func TestRunCyclePublishesAllHorizons(t *testing.T) {
	c := &clock{t: base.Add(30 * time.Minute)}
	snaps := &fakeSnapshots{}
	cfg := testConfig()
	cfg.Snapshots = snaps
	cfg.Metrics = metrics.New(prometheus.NewRegistry())
	m := newTestMonitor(t, cfg, c)
	ingestRamp(t, m, 0, 30)

	require.NoError(t, m.RunCycle(context.Background()))

	fs := m.LatestForecasts()
	require.Len(t, fs, 3)
	require.Equal(t, time.Minute, fs[0].Horizon)
	require.Equal(t, 10*time.Minute, fs[2].Horizon)
	for _, f := range fs {
		require.Equal(t, "GGAL", f.Symbol)
		require.Equal(t, domain.TrendUp, f.Trend)
		require.LessOrEqual(t, f.LowerBound, f.Prediction)
		require.GreaterOrEqual(t, f.UpperBound, f.Prediction)
	}
	require.Equal(t, 1, m.PendingPredictions())

	sig, ok := m.LatestSignal()
	require.True(t, ok)
	require.Equal(t, "GGAL", sig.Symbol)

	five, ok := m.LatestForecast(5 * time.Minute)
	require.True(t, ok)
	require.Equal(t, 5*time.Minute, five.Horizon)

	require.Contains(t, snaps.saved, "GGAL")
	require.Len(t, snaps.saved["GGAL"].Forecasts, 3)
}

func TestFlatSeriesPublishesHold(t *testing.T) {
	for _, strategy := range []string{"weighted", "median"} {
		t.Run(strategy, func(t *testing.T) {
			c := &clock{t: base.Add(25 * time.Minute)}
			cfg := testConfig()
			cfg.Strategy = strategy
			m := newTestMonitor(t, cfg, c)
			for i := 0; i < 25; i++ {
				require.NoError(t, m.Ingest(domain.PriceSample{Timestamp: base.Add(time.Duration(i) * time.Minute), Price: 50}))
			}

			require.NoError(t, m.RunCycle(context.Background()))

			sig, ok := m.LatestSignal()
			require.True(t, ok)
			require.Equal(t, domain.ActionHold, sig.Action)
			require.NotContains(t, sig.Reason, "RSI")
			require.Zero(t, sig.PriceChangeForecast)
		})
	}
}

func TestRunCycleValidatesAndArchives(t *testing.T) {
	c := &clock{t: base.Add(30 * time.Minute)}
	archive := &fakeArchive{}
	cfg := testConfig()
	cfg.Archive = archive
	m := newTestMonitor(t, cfg, c)
	ingestRamp(t, m, 0, 30)
	require.NoError(t, m.RunCycle(context.Background()))
	require.Nil(t, m.Accuracy().Metrics)

	ingestRamp(t, m, 30, 10)
	c.Set(base.Add(40 * time.Minute))
	require.NoError(t, m.RunCycle(context.Background()))

	acc := m.Accuracy()
	require.Equal(t, 1, acc.ValidatedPredictions)
	require.NotNil(t, acc.Metrics)
	require.Len(t, archive.records, 1)
	require.True(t, archive.records[0].Validated)
	require.Len(t, m.RecentPredictions(10), 1)
}

func TestArchiveFailureDoesNotFailCycle(t *testing.T) {
	c := &clock{t: base.Add(30 * time.Minute)}
	cfg := testConfig()
	cfg.Archive = &fakeArchive{err: errors.New("db down")}
	m := newTestMonitor(t, cfg, c)
	ingestRamp(t, m, 0, 30)
	require.NoError(t, m.RunCycle(context.Background()))
	ingestRamp(t, m, 30, 10)
	c.Set(base.Add(40 * time.Minute))
	require.NoError(t, m.RunCycle(context.Background()))
	require.Equal(t, 1, m.Accuracy().ValidatedPredictions)
}

type failingModel struct{}

func (failingModel) Name() string    { return "failing" }
func (failingModel) MinSamples() int { return 1 }
func (failingModel) Forecast([]domain.PriceSample, time.Duration) (*domain.Forecast, error) {
	panic("boom")
}

func TestRunCycleContainsModelFailure(t *testing.T) {
	c := &clock{t: base}
	m := newWithModel(trace.NewNoopTracerProvider().Tracer("test"), testConfig(), failingModel{}, c.Now)
	ingestRamp(t, m, 0, 20)

	err := m.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrNoData)
	require.Empty(t, m.LatestForecasts())
	require.Zero(t, m.PendingPredictions())
}

func TestIngestRejectsInvalidAndOutOfOrder(t *testing.T) {
	m := newTestMonitor(t, testConfig(), &clock{t: base})
	require.Error(t, m.Ingest(domain.PriceSample{Timestamp: base, Price: 0}))
	require.NoError(t, m.Ingest(domain.PriceSample{Timestamp: base.Add(time.Minute), Price: 10}))
	require.Error(t, m.Ingest(domain.PriceSample{Timestamp: base, Price: 11}))

	last, ok := m.Last()
	require.True(t, ok)
	require.Equal(t, "GGAL", last.Symbol)
	require.Equal(t, 10.0, last.Price)
}

func TestStatsAndHistory(t *testing.T) {
	m := newTestMonitor(t, testConfig(), &clock{t: base})
	_, ok := m.Stats()
	require.False(t, ok)

	ingestRamp(t, m, 0, 11)
	st, ok := m.Stats()
	require.True(t, ok)
	require.Equal(t, 11, st.Samples)
	require.InDelta(t, 102, st.Max, 1e-9)
	require.InDelta(t, 100, st.Min, 1e-9)
	require.InDelta(t, 101, st.Mean, 1e-9)
	require.InDelta(t, 2, st.Range, 1e-9)
	require.Equal(t, base.Add(10*time.Minute), st.LastUpdate)

	require.Len(t, m.History(3), 3)
	require.Len(t, m.History(0), 11)
}

func TestRestoreFromSnapshot(t *testing.T) {
	snaps := &fakeSnapshots{}
	cfg := testConfig()
	cfg.Snapshots = snaps
	c := &clock{t: base.Add(30 * time.Minute)}
	first := newTestMonitor(t, cfg, c)
	ingestRamp(t, first, 0, 30)
	require.NoError(t, first.RunCycle(context.Background()))

	second := newTestMonitor(t, cfg, c)
	restored, err := second.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, restored)
	require.Len(t, second.LatestForecasts(), 3)
	_, ok := second.LatestSignal()
	require.True(t, ok)

	restored, err = second.Restore(context.Background())
	require.NoError(t, err)
	require.False(t, restored)
}

func TestUpdateWeights(t *testing.T) {
	m := newTestMonitor(t, testConfig(), &clock{t: base})
	a, b, err := m.UpdateWeights(3, 1)
	require.NoError(t, err)
	require.InDelta(t, 1, a+b, 1e-9)
	require.Greater(t, a, b)

	_, _, err = m.UpdateWeights(0, 0)
	require.ErrorIs(t, err, ErrInvalidScores)

	cfg := testConfig()
	cfg.Strategy = "median"
	median := newTestMonitor(t, cfg, &clock{t: base})
	_, _, err = median.UpdateWeights(1, 1)
	require.ErrorIs(t, err, ErrNotWeighted)
}

func TestTrackedHorizonAddedWhenMissing(t *testing.T) {
	cfg := testConfig()
	cfg.Horizons = []time.Duration{time.Minute}
	cfg.TrackedHorizon = 3 * time.Minute
	m := newTestMonitor(t, cfg, &clock{t: base})
	require.Equal(t, []time.Duration{time.Minute, 3 * time.Minute}, m.Horizons())
}

func TestRegistry(t *testing.T) {
	ggal := newTestMonitor(t, testConfig(), &clock{t: base})
	cfg := testConfig()
	cfg.Instrument = domain.Instrument{Symbol: "BTCUSDT", Source: domain.SourceCrypto}
	btc := newTestMonitor(t, cfg, &clock{t: base})

	reg := NewRegistry(ggal, btc, ggal)
	require.Equal(t, []string{"GGAL", "BTCUSDT"}, reg.Symbols())
	require.Len(t, reg.All(), 2)

	got, err := reg.Get(" ggal ")
	require.NoError(t, err)
	require.Same(t, ggal, got)

	_, err = reg.Get("AAPL")
	require.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = "vote"
	_, err := New(trace.NewNoopTracerProvider().Tracer("test"), cfg)
	require.Error(t, err)
}
