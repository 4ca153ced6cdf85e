package ensemble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tick-oracle/internal/domain"
	"tick-oracle/internal/forecast"
	"tick-oracle/internal/ta"
)

var t0 = time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)

func ramp(n int, start, step float64) []domain.PriceSample {
	out := make([]domain.PriceSample, n)
	for i := range out {
		out[i] = domain.PriceSample{Symbol: "BTCUSDT", Timestamp: t0.Add(time.Duration(i) * time.Minute), Price: start + float64(i)*step}
	}
	return out
}

type stubModel struct {
	name string
	min  int
	out  *domain.Forecast
	err  error
}

func (s *stubModel) Name() string    { return s.name }
func (s *stubModel) MinSamples() int { return s.min }
func (s *stubModel) Forecast([]domain.PriceSample, time.Duration) (*domain.Forecast, error) {
	return s.out, s.err
}

func fixed(name string, pred, lower, upper float64, c domain.Confidence) *stubModel {
	f := domain.NewForecast(name, pred, 100, 5*time.Minute, t0)
	f.LowerBound, f.UpperBound, f.Confidence, f.Steps = lower, upper, c, 5
	return &stubModel{name: name, min: 1, out: &f}
}

func TestWeightedDegradesToSurvivor(t *testing.T) {
	history := ramp(5, 100, 1)
	survivor := fixed("aux", 101, 99, 103, domain.ConfidenceMedium)
	failing := &stubModel{name: "kalman", min: 1, err: forecast.ErrInsufficientData}

	e := NewWeighted(failing, survivor, 0.4)
	got, err := e.Forecast(history, 5*time.Minute)
	require.NoError(t, err)
	require.Same(t, survivor.out, got)

	e = NewWeighted(survivor, &stubModel{name: "short", min: 50}, 0.4)
	got, err = e.Forecast(history, 5*time.Minute)
	require.NoError(t, err)
	require.Same(t, survivor.out, got)
}

func TestWeightedAllFail(t *testing.T) {
	e := NewWeighted(&stubModel{name: "a", min: 100}, &stubModel{name: "b", min: 100}, 0.4)
	f, err := e.Forecast(ramp(5, 1, 1), time.Minute)
	require.Nil(t, f)
	require.ErrorIs(t, err, forecast.ErrInsufficientData)
}

func TestWeightedBlend(t *testing.T) {
	a := fixed("kalman", 110, 100, 120, domain.ConfidenceHigh)
	b := fixed("aux", 100, 90, 110, domain.ConfidenceLow)
	e := NewWeighted(a, b, 0.4)

	f, err := e.Forecast(ramp(5, 100, 0), 5*time.Minute)
	require.NoError(t, err)
	require.InDelta(t, 104, f.Prediction, 1e-9)
	require.InDelta(t, 94, f.LowerBound, 1e-9)
	require.InDelta(t, 114, f.UpperBound, 1e-9)
	// 3*0.4 + 1*0.6 = 1.8
	require.Equal(t, domain.ConfidenceMedium, f.Confidence)
	require.Equal(t, domain.TrendUp, f.Trend)
	require.Equal(t, string(forecast.KindWeightedEnsemble), f.Method)
}

func TestUpdateWeights(t *testing.T) {
	e := NewWeighted(fixed("a", 1, 1, 1, domain.ConfidenceLow), fixed("b", 1, 1, 1, domain.ConfidenceLow), 0.4)

	wa, wb := e.Weights()
	require.InDelta(t, 0.4, wa, 1e-12)
	require.InDelta(t, 0.6, wb, 1e-12)

	require.True(t, e.UpdateWeights(75, 25))
	wa, wb = e.Weights()
	require.InDelta(t, 0.75, wa, 1e-12)
	require.InDelta(t, 0.25, wb, 1e-12)

	require.False(t, e.UpdateWeights(0, 0))
	require.False(t, e.UpdateWeights(-3, -1))
	wa, wb = e.Weights()
	require.InDelta(t, 0.75, wa, 1e-12)
	require.InDelta(t, 1.0, wa+wb, 1e-12)
}

func TestUpdateWeightsClampsNegativeScore(t *testing.T) {
	e := NewWeighted(fixed("a", 1, 1, 1, domain.ConfidenceLow), fixed("b", 1, 1, 1, domain.ConfidenceLow), 0.4)

	require.True(t, e.UpdateWeights(-5, 10))
	wa, wb := e.Weights()
	require.Zero(t, wa)
	require.InDelta(t, 1.0, wb, 1e-12)
}

func TestMedianIgnoresDivergentModel(t *testing.T) {
	e := NewMedian(
		fixed("a", 100, 98, 102, domain.ConfidenceHigh),
		fixed("b", 100.1, 98, 102, domain.ConfidenceHigh),
		fixed("c", 150, 140, 160, domain.ConfidenceHigh),
		&stubModel{name: "d", min: 1, err: forecast.ErrNumeric},
	)
	f, err := e.Forecast(ramp(20, 100, 0), 5*time.Minute)
	require.NoError(t, err)
	require.InDelta(t, 100.1, f.Prediction, 1e-9)
	require.Equal(t, domain.ConfidenceLow, f.Confidence)
	require.Equal(t, 3, f.Metadata["num_models"])
	require.Equal(t, []string{"a", "b", "c"}, f.Metadata["models_used"])
	require.LessOrEqual(t, f.LowerBound, f.Prediction)
	require.GreaterOrEqual(t, f.UpperBound, f.Prediction)
	_, ok := f.Metadata["technical_indicators"].(ta.Snapshot)
	require.True(t, ok)
}

func TestMedianTightSpreadIsHighConfidence(t *testing.T) {
	e := NewMedian(
		fixed("a", 100, 99, 101, domain.ConfidenceLow),
		fixed("b", 100.05, 99, 101, domain.ConfidenceLow),
	)
	f, err := e.Forecast(ramp(20, 100, 0), 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, domain.ConfidenceHigh, f.Confidence)
}

func TestBuildStrategies(t *testing.T) {
	history := ramp(40, 50, 0.1)
	for _, strategy := range []string{"median", "weighted"} {
		m, err := Build(strategy, forecast.Options{}, DefaultPrimaryWeight)
		require.NoError(t, err)

		f, err := forecast.Run(m, history, 5*time.Minute)
		require.NoError(t, err, strategy)
		require.Equal(t, domain.TrendUp, f.Trend, strategy)
		require.Greater(t, f.Prediction, f.CurrentPrice, strategy)
	}

	_, err := Build("arima", forecast.Options{}, 0.4)
	require.Error(t, err)
}
