package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tick-oracle/internal/domain"
)

var t0 = time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func forecastAt(ts time.Time, current, pred, lower, upper float64) domain.Forecast {
	f := domain.NewForecast("kalman_filter", pred, current, 5*time.Minute, ts)
	f.LowerBound, f.UpperBound = lower, upper
	return f
}

func sample(ts time.Time, price float64) domain.PriceSample {
	return domain.PriceSample{Symbol: "GGAL", Timestamp: ts, Price: price}
}

func TestValidateWithinTolerance(t *testing.T) {
	c := &clock{now: t0}
	tr := NewWithClock(Params{}, c.Now)
	rec := tr.Add(forecastAt(t0, 100, 101, 99, 103))
	require.NotEmpty(t, rec.ID)
	require.False(t, rec.Validated)

	history := []domain.PriceSample{sample(t0, 100), sample(t0.Add(5*time.Minute+5*time.Second), 102)}

	c.now = t0.Add(4 * time.Minute)
	require.Equal(t, 0, tr.Validate(history), "not due yet")

	c.now = t0.Add(6 * time.Minute)
	got := tr.ValidateRecords(history)
	require.Len(t, got, 1)
	r := got[0]
	require.True(t, r.Validated)
	require.Equal(t, 102.0, *r.ActualPrice)
	require.InDelta(t, 1.0, *r.Error, 1e-12)
	require.InDelta(t, 1.0, *r.ErrorPct, 1e-12)
	require.True(t, *r.WithinInterval)
	require.Equal(t, c.now, *r.ValidationTime)

	require.Equal(t, 0, tr.Validate(history), "validated only once")
	require.Equal(t, 0, tr.Pending())
}

func TestValidateOutsideInterval(t *testing.T) {
	c := &clock{now: t0.Add(time.Hour)}
	tr := NewWithClock(Params{}, c.Now)
	tr.Add(forecastAt(t0, 100, 101, 100.5, 101.5))

	n := tr.Validate([]domain.PriceSample{sample(t0.Add(5*time.Minute-5*time.Second), 99)})
	require.Equal(t, 1, n)
	r := tr.Recent(1)[0]
	require.False(t, *r.WithinInterval)
	require.InDelta(t, -2.0, *r.Error, 1e-12)
}

func TestUnmatchedStaysPending(t *testing.T) {
	c := &clock{now: t0.Add(time.Hour)}
	tr := NewWithClock(Params{}, c.Now)
	tr.Add(forecastAt(t0, 100, 101, 99, 103))

	history := []domain.PriceSample{sample(t0.Add(5*time.Minute+45*time.Second), 102)}
	for i := 0; i < 5; i++ {
		require.Equal(t, 0, tr.Validate(history))
	}
	require.Equal(t, 1, tr.Pending())
	require.Nil(t, tr.AccuracyMetrics().Metrics)
}

func TestValidatePicksClosestSample(t *testing.T) {
	c := &clock{now: t0.Add(time.Hour)}
	tr := NewWithClock(Params{}, c.Now)
	tr.Add(forecastAt(t0, 100, 101, 99, 103))

	target := t0.Add(5 * time.Minute)
	history := []domain.PriceSample{
		sample(target.Add(-20*time.Second), 90),
		sample(target.Add(2*time.Second), 101.5),
		sample(target.Add(25*time.Second), 110),
	}
	require.Equal(t, 1, tr.Validate(history))
	require.Equal(t, 101.5, *tr.Recent(0)[0].ActualPrice)
}

func TestConfigurableTolerance(t *testing.T) {
	c := &clock{now: t0.Add(time.Hour)}
	tr := NewWithClock(Params{Tolerance: time.Minute}, c.Now)
	tr.Add(forecastAt(t0, 100, 101, 99, 103))
	require.Equal(t, 1, tr.Validate([]domain.PriceSample{sample(t0.Add(5*time.Minute+45*time.Second), 102)}))
}

func TestCapacityEviction(t *testing.T) {
	tr := NewWithClock(Params{Capacity: 3}, func() time.Time { return t0.Add(time.Hour) })
	for i := 0; i < 5; i++ {
		tr.Add(forecastAt(t0.Add(time.Duration(i)*time.Minute), 100, 101, 99, 103))
	}
	m := tr.AccuracyMetrics()
	require.Equal(t, 3, m.TotalPredictions)
	require.Equal(t, 0, m.ValidatedPredictions)
	require.Nil(t, m.Metrics)
	require.Equal(t, 3, tr.Pending())
}

func TestAccuracyMetrics(t *testing.T) {
	c := &clock{now: t0.Add(time.Hour)}
	tr := NewWithClock(Params{}, c.Now)

	// predicted up, went up, inside
	tr.Add(forecastAt(t0, 100, 101, 99, 103))
	// predicted up, went down, outside
	tr.Add(forecastAt(t0.Add(time.Minute), 100, 101, 100.5, 102))

	history := []domain.PriceSample{
		sample(t0.Add(5*time.Minute), 102),
		sample(t0.Add(6*time.Minute), 99),
	}
	require.Equal(t, 2, tr.Validate(history))

	got := tr.AccuracyMetrics()
	require.Equal(t, 2, got.TotalPredictions)
	require.Equal(t, 2, got.ValidatedPredictions)
	require.NotNil(t, got.Metrics)
	m := got.Metrics
	// errors: +1, -2
	require.InDelta(t, 1.5, m.MAE, 1e-12)
	require.InDelta(t, 1.5811388300841898, m.RMSE, 1e-12)
	require.InDelta(t, 1.5, m.MAPE, 1e-12)
	require.InDelta(t, 50, m.DirectionalAccuracy, 1e-12)
	require.InDelta(t, 50, m.IntervalCoverage, 1e-12)
	require.InDelta(t, 1.5, m.RecentMAPE, 1e-12)
	require.Equal(t, domain.RatingFair, got.Rating)
	require.Equal(t, "Fair: Moderate accuracy", got.Summary)
	require.InDelta(t, tr.Params().Effectiveness(50, 1.5, 50), m.EffectivenessIndex, 1e-12)
}

func TestDirectionalAccuracyFlatForecast(t *testing.T) {
	c := &clock{now: t0.Add(time.Hour)}
	tr := NewWithClock(Params{}, c.Now)

	// flat forecast, price dropped: wrong direction
	tr.Add(forecastAt(t0, 100, 100, 99, 101))
	require.Equal(t, 1, tr.Validate([]domain.PriceSample{sample(t0.Add(5*time.Minute+10*time.Second), 99.5)}))
	require.InDelta(t, 0, tr.AccuracyMetrics().Metrics.DirectionalAccuracy, 1e-12)

	// flat forecast, price unchanged: right direction
	tr.Add(forecastAt(t0.Add(10*time.Minute), 100, 100, 99, 101))
	require.Equal(t, 1, tr.Validate([]domain.PriceSample{sample(t0.Add(15*time.Minute), 100)}))
	require.InDelta(t, 50, tr.AccuracyMetrics().Metrics.DirectionalAccuracy, 1e-12)
}

func TestRecentMAPEUsesLastTen(t *testing.T) {
	c := &clock{now: t0.Add(24 * time.Hour)}
	tr := NewWithClock(Params{}, c.Now)
	var history []domain.PriceSample
	for i := 0; i < 15; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute)
		tr.Add(forecastAt(ts, 100, 100, 90, 110))
		actual := 100.0
		if i < 5 {
			actual = 110
		}
		history = append(history, sample(ts.Add(5*time.Minute), actual))
	}
	require.Equal(t, 15, tr.Validate(history))
	m := tr.AccuracyMetrics().Metrics
	require.InDelta(t, 0, m.RecentMAPE, 1e-12)
	require.InDelta(t, 50.0/15, m.MAPE, 1e-12)
}

func TestEffectivenessMonotonic(t *testing.T) {
	p := DefaultParams()
	for _, cov := range []float64{0, 50, 89, 90, 95, 98, 99, 100} {
		for _, mape := range []float64{0, 0.5, 1, 2, 2.5, 5} {
			prev := -1.0
			for acc := 0.0; acc <= 100; acc += 5 {
				v := p.Effectiveness(acc, mape, cov)
				require.GreaterOrEqual(t, v, prev)
				require.GreaterOrEqual(t, v, 0.0)
				require.LessOrEqual(t, v, 100.0)
				prev = v
			}
		}
		for _, acc := range []float64{0, 50, 100} {
			prev := 101.0
			for mape := 0.0; mape <= 5; mape += 0.25 {
				v := p.Effectiveness(acc, mape, cov)
				require.LessOrEqual(t, v, prev)
				prev = v
			}
		}
	}
}

func TestEffectivenessCalibration(t *testing.T) {
	p := DefaultParams()
	require.InDelta(t, 100, p.Effectiveness(100, 0, 95), 1e-12)
	require.Less(t, p.Effectiveness(100, 0, 60), p.Effectiveness(100, 0, 92))
	require.Less(t, p.Effectiveness(100, 0, 100), p.Effectiveness(100, 0, 97))
}

func TestRate(t *testing.T) {
	cases := []struct {
		acc, mape float64
		want      domain.Rating
	}{
		{75, 0.5, domain.RatingExcellent},
		{70, 1.0, domain.RatingGood},
		{65, 1.2, domain.RatingGood},
		{55, 2.0, domain.RatingFair},
		{80, 3.0, domain.RatingPoor},
		{40, 0.1, domain.RatingPoor},
	}
	for _, tc := range cases {
		got, summary := Rate(tc.acc, tc.mape)
		require.Equal(t, tc.want, got, "acc=%v mape=%v", tc.acc, tc.mape)
		require.NotEmpty(t, summary)
	}
}

func TestPrune(t *testing.T) {
	c := &clock{now: t0}
	tr := NewWithClock(Params{}, c.Now)
	tr.Add(forecastAt(t0.Add(-30*time.Hour), 100, 101, 99, 103))
	tr.Add(forecastAt(t0.Add(-time.Hour), 100, 101, 99, 103))

	require.Equal(t, 1, tr.Prune(24*time.Hour))
	require.Equal(t, 1, tr.AccuracyMetrics().TotalPredictions)
}

func TestRecentReturnsCopies(t *testing.T) {
	c := &clock{now: t0.Add(time.Hour)}
	tr := NewWithClock(Params{}, c.Now)
	tr.Add(forecastAt(t0, 100, 101, 99, 103))
	tr.Validate([]domain.PriceSample{sample(t0.Add(5*time.Minute), 102)})

	r := tr.Recent(10)
	*r[0].ActualPrice = 0
	require.Equal(t, 102.0, *tr.Recent(10)[0].ActualPrice)
}
