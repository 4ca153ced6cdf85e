// Package forecast holds the pluggable price forecast models. Every model
// returns the same domain.Forecast shape so they are interchangeable ensemble
// inputs.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"tick-oracle/internal/domain"
	"tick-oracle/internal/forecast/kalman"
)

var (
	// ErrInsufficientData means the history is shorter than the model needs.
	// It is an expected outcome, not a failure.
	ErrInsufficientData = errors.New("insufficient price history")
	ErrNumeric          = errors.New("numeric failure")
)

type Kind string

const (
	KindKalman           Kind = "kalman_filter"
	KindMovingAverage    Kind = "simple_ma"
	KindExpSmoothing     Kind = "exponential_smoothing"
	KindRegression       Kind = "linear_regression"
	KindMomentum         Kind = "momentum"
	KindMeanReversion    Kind = "mean_reversion"
	KindMedianEnsemble   Kind = "ensemble"
	KindWeightedEnsemble Kind = "weighted_ensemble"
)

// BaseKinds are the single-model kinds, in the order the median ensemble uses them.
var BaseKinds = []Kind{KindMovingAverage, KindExpSmoothing, KindRegression, KindMomentum, KindMeanReversion}

type Model interface {
	Name() string
	MinSamples() int
	Forecast(history []domain.PriceSample, horizon time.Duration) (*domain.Forecast, error)
}

// Options shared by all models. Zero values take defaults.
type Options struct {
	MinSamples int
	// Step is the time represented by one sample. Zero infers it from the
	// median spacing of the history.
	Step   time.Duration
	Kalman kalman.Params
	// KalmanHighStd and KalmanMediumStd bucket the projected std into confidence.
	KalmanHighStd   float64
	KalmanMediumStd float64
}

const (
	DefaultMinSamples      = 10
	DefaultStep            = time.Minute
	DefaultKalmanHighStd   = 0.1
	DefaultKalmanMediumStd = 0.3

	// z-score of the two-sided 95% interval.
	z95 = 1.96
)

func (o Options) withDefaults() Options {
	if o.MinSamples <= 0 {
		o.MinSamples = DefaultMinSamples
	}
	if o.KalmanHighStd <= 0 {
		o.KalmanHighStd = DefaultKalmanHighStd
	}
	if o.KalmanMediumStd <= o.KalmanHighStd {
		o.KalmanMediumStd = math.Max(DefaultKalmanMediumStd, o.KalmanHighStd)
	}
	return o
}

// NewModel builds a single model of the given kind.
func NewModel(kind Kind, opts Options) (Model, error) {
	opts = opts.withDefaults()
	switch kind {
	case KindKalman:
		return NewKalmanModel(opts), nil
	case KindMovingAverage:
		return &MovingAverage{opts: opts, Short: 5, Long: 10}, nil
	case KindExpSmoothing:
		return &ExpSmoothing{opts: opts, Alpha: 0.3, Beta: 0.3}, nil
	case KindRegression:
		return &Regression{opts: opts, Window: 20}, nil
	case KindMomentum:
		return &MomentumModel{opts: opts}, nil
	case KindMeanReversion:
		return &MeanReversion{opts: opts, Window: 20, Strength: 0.3}, nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", kind)
	}
}

// Run calls m.Forecast and turns panics and non-finite output into ErrNumeric,
// so one misbehaving model cannot take down a cycle.
func Run(m Model, history []domain.PriceSample, horizon time.Duration) (f *domain.Forecast, err error) {
	defer func() {
		if r := recover(); r != nil {
			f = nil
			err = fmt.Errorf("%w: %s panicked: %v", ErrNumeric, m.Name(), r)
		}
	}()
	if len(history) < m.MinSamples() {
		return nil, ErrInsufficientData
	}
	f, err = m.Forecast(history, horizon)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrInsufficientData
	}
	if !finite(f.Prediction, f.LowerBound, f.UpperBound, f.Velocity) {
		return nil, fmt.Errorf("%w: %s produced non-finite output", ErrNumeric, m.Name())
	}
	return f, nil
}

// StepSize returns the time covered by one sample: the configured step, or
// the median spacing of the last samples, or DefaultStep.
func StepSize(history []domain.PriceSample, configured time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	const maxGaps = 50
	start := len(history) - maxGaps - 1
	if start < 0 {
		start = 0
	}
	var gaps []time.Duration
	for i := start + 1; i < len(history); i++ {
		if g := history[i].Timestamp.Sub(history[i-1].Timestamp); g > 0 {
			gaps = append(gaps, g)
		}
	}
	if len(gaps) == 0 {
		return DefaultStep
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

// Steps converts a horizon into a whole number of steps, at least one.
func Steps(horizon, step time.Duration) int {
	if step <= 0 {
		step = DefaultStep
	}
	n := int(math.Round(float64(horizon) / float64(step)))
	if n < 1 {
		n = 1
	}
	return n
}

// Median of values; the mean of the two middle values for even lengths.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func finish(f *domain.Forecast, symbol string, steps int, std float64) {
	f.Symbol = symbol
	f.Steps = steps
	f.Uncertainty = std
	f.LowerBound = f.Prediction - z95*std
	f.UpperBound = f.Prediction + z95*std
	if f.Velocity == 0 && steps > 0 {
		f.Velocity = f.PriceChange / float64(steps)
	}
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
