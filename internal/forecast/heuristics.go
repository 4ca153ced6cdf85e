package forecast

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tick-oracle/internal/domain"
	"tick-oracle/internal/ta"
)

// volatilityWindow bounds how many recent first differences feed the
// heuristic uncertainty estimate.
const volatilityWindow = 20

// MovingAverage extrapolates the gap between a short and a long window mean.
type MovingAverage struct {
	opts        Options
	Short, Long int
}

func (m *MovingAverage) Name() string    { return string(KindMovingAverage) }
func (m *MovingAverage) MinSamples() int { return m.opts.MinSamples }

func (m *MovingAverage) Forecast(history []domain.PriceSample, horizon time.Duration) (*domain.Forecast, error) {
	prices, steps, err := prepare(history, horizon, m.opts)
	if err != nil {
		return nil, err
	}
	trend := ta.SMA(prices, m.Short) - ta.SMA(prices, m.Long)
	f := newHeuristic(m.Name(), history, horizon, prices[len(prices)-1]+trend)
	f.Confidence = domain.ConfidenceLow
	finish(f, history[len(history)-1].Symbol, steps, stepVolatility(prices, steps))
	f.Metadata = map[string]any{"ma_trend": trend}
	return f, nil
}

// ExpSmoothing is Holt's linear trend method.
type ExpSmoothing struct {
	opts        Options
	Alpha, Beta float64
}

func (m *ExpSmoothing) Name() string    { return string(KindExpSmoothing) }
func (m *ExpSmoothing) MinSamples() int { return m.opts.MinSamples }

func (m *ExpSmoothing) Forecast(history []domain.PriceSample, horizon time.Duration) (*domain.Forecast, error) {
	prices, steps, err := prepare(history, horizon, m.opts)
	if err != nil {
		return nil, err
	}
	level, trend := prices[0], 0.0
	for _, p := range prices[1:] {
		prev := level
		level = m.Alpha*p + (1-m.Alpha)*(level+trend)
		trend = m.Beta*(level-prev) + (1-m.Beta)*trend
	}

	f := newHeuristic(m.Name(), history, horizon, level+trend*float64(steps))
	f.Velocity = trend
	std := stepVolatility(prices, steps)
	switch {
	case std < 0.5:
		f.Confidence = domain.ConfidenceHigh
	case std < 1.0:
		f.Confidence = domain.ConfidenceMedium
	default:
		f.Confidence = domain.ConfidenceLow
	}
	finish(f, history[len(history)-1].Symbol, steps, std)
	f.Metadata = map[string]any{"trend_strength": math.Abs(trend)}
	return f, nil
}

// Regression fits a least squares line to the last Window prices.
type Regression struct {
	opts   Options
	Window int
}

func (m *Regression) Name() string    { return string(KindRegression) }
func (m *Regression) MinSamples() int { return m.opts.MinSamples }

func (m *Regression) Forecast(history []domain.PriceSample, horizon time.Duration) (*domain.Forecast, error) {
	prices, steps, err := prepare(history, horizon, m.opts)
	if err != nil {
		return nil, err
	}
	window := m.Window
	if window > len(prices) {
		window = len(prices)
	}
	if window < 2 {
		return nil, ErrInsufficientData
	}
	y := prices[len(prices)-window:]
	x := make([]float64, window)
	floats.Span(x, 0, float64(window-1))

	intercept, slope := stat.LinearRegression(x, y, nil, false)
	if math.IsNaN(slope) {
		intercept, slope = stat.Mean(y, nil), 0
	}
	pred := intercept + slope*float64(window-1+steps)

	r2 := 0.0
	var ssRes float64
	for i := range y {
		d := y[i] - (intercept + slope*x[i])
		ssRes += d * d
	}
	if _, std := stat.PopMeanStdDev(y, nil); std > 0 {
		r2 = stat.RSquared(x, y, nil, intercept, slope)
	}

	f := newHeuristic(m.Name(), history, horizon, pred)
	f.Velocity = slope
	switch {
	case r2 > 0.7:
		f.Confidence = domain.ConfidenceHigh
	case r2 > 0.4:
		f.Confidence = domain.ConfidenceMedium
	default:
		f.Confidence = domain.ConfidenceLow
	}
	finish(f, history[len(history)-1].Symbol, steps, math.Sqrt(ssRes/float64(window)))
	f.Metadata = map[string]any{"r_squared": r2, "slope": slope}
	return f, nil
}

// MomentumModel blends the 3, 5 and 10 sample momenta and carries them forward.
type MomentumModel struct {
	opts Options
}

func (m *MomentumModel) Name() string    { return string(KindMomentum) }
func (m *MomentumModel) MinSamples() int { return m.opts.MinSamples }

func (m *MomentumModel) Forecast(history []domain.PriceSample, horizon time.Duration) (*domain.Forecast, error) {
	prices, steps, err := prepare(history, horizon, m.opts)
	if err != nil {
		return nil, err
	}
	blend := floats.Dot(
		[]float64{ta.Momentum(prices, 3), ta.Momentum(prices, 5), ta.Momentum(prices, 10)},
		[]float64{0.5, 0.3, 0.2},
	)
	f := newHeuristic(m.Name(), history, horizon, prices[len(prices)-1]+blend*float64(steps)/5)
	f.Confidence = domain.ConfidenceMedium
	finish(f, history[len(history)-1].Symbol, steps, stepVolatility(prices, steps))
	f.Metadata = map[string]any{"momentum": blend}
	return f, nil
}

// MeanReversion pulls the price part of the way back to the window mean.
type MeanReversion struct {
	opts     Options
	Window   int
	Strength float64
}

func (m *MeanReversion) Name() string    { return string(KindMeanReversion) }
func (m *MeanReversion) MinSamples() int { return m.opts.MinSamples }

func (m *MeanReversion) Forecast(history []domain.PriceSample, horizon time.Duration) (*domain.Forecast, error) {
	prices, steps, err := prepare(history, horizon, m.opts)
	if err != nil {
		return nil, err
	}
	window := m.Window
	if window > len(prices) {
		window = len(prices)
	}
	mean, std := stat.PopMeanStdDev(prices[len(prices)-window:], nil)
	current := prices[len(prices)-1]
	z := 0.0
	if std > 0 {
		z = (current - mean) / std
	}

	f := newHeuristic(m.Name(), history, horizon, current+(mean-current)*m.Strength)
	f.Confidence = domain.ConfidenceMedium
	finish(f, history[len(history)-1].Symbol, steps, stepVolatility(prices, steps))
	f.Metadata = map[string]any{
		"mean_price": mean,
		"z_score":    z,
		"regime":     regime(z),
	}
	return f, nil
}

func regime(z float64) string {
	switch {
	case z > 1:
		return "overbought"
	case z < -1:
		return "oversold"
	default:
		return "neutral"
	}
}

func prepare(history []domain.PriceSample, horizon time.Duration, opts Options) ([]float64, int, error) {
	if len(history) < opts.MinSamples || len(history) == 0 {
		return nil, 0, ErrInsufficientData
	}
	return domain.Prices(history), Steps(horizon, StepSize(history, opts.Step)), nil
}

func newHeuristic(method string, history []domain.PriceSample, horizon time.Duration, pred float64) *domain.Forecast {
	last := history[len(history)-1]
	f := domain.NewForecast(method, pred, last.Price, horizon, last.Timestamp)
	return &f
}

// stepVolatility scales the recent per-step change std to the horizon.
func stepVolatility(prices []float64, steps int) float64 {
	diffs := ta.Diffs(prices)
	if len(diffs) > volatilityWindow {
		diffs = diffs[len(diffs)-volatilityWindow:]
	}
	if len(diffs) < 2 {
		return 0
	}
	_, std := stat.PopMeanStdDev(diffs, nil)
	return std * math.Sqrt(float64(steps))
}
