// Package ensemble combines several forecast models into one forecast.
package ensemble

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tick-oracle/internal/domain"
	"tick-oracle/internal/forecast"
	"tick-oracle/internal/ta"
)

const (
	DefaultPrimaryWeight = 0.4
	indicatorWindow      = 5
)

// Median takes the median prediction of every model that produced output and
// reads the cross-model spread as an inverse confidence signal.
type Median struct {
	models     []forecast.Model
	minSamples int
	// HighSpread and MediumSpread bucket the prediction std into confidence.
	HighSpread   float64
	MediumSpread float64
}

func NewMedian(models ...forecast.Model) *Median {
	return &Median{models: models, minSamples: minOf(models), HighSpread: 0.1, MediumSpread: 0.3}
}

func (e *Median) Name() string    { return string(forecast.KindMedianEnsemble) }
func (e *Median) MinSamples() int { return e.minSamples }

func (e *Median) Forecast(history []domain.PriceSample, horizon time.Duration) (*domain.Forecast, error) {
	var (
		preds, lowers, uppers []float64
		used                  []string
		firstErr              error
	)
	if len(history) == 0 {
		return nil, forecast.ErrInsufficientData
	}
	for _, m := range e.models {
		f, err := forecast.Run(m, history, horizon)
		if err != nil {
			if firstErr == nil || errors.Is(firstErr, forecast.ErrInsufficientData) {
				firstErr = err
			}
			continue
		}
		preds = append(preds, f.Prediction)
		lowers = append(lowers, f.LowerBound)
		uppers = append(uppers, f.UpperBound)
		used = append(used, m.Name())
	}
	if len(preds) == 0 {
		if firstErr == nil {
			firstErr = forecast.ErrInsufficientData
		}
		return nil, firstErr
	}

	pred := forecast.Median(preds)
	_, spread := stat.PopMeanStdDev(preds, nil)
	last := history[len(history)-1]
	steps := forecast.Steps(horizon, forecast.StepSize(history, 0))

	f := domain.NewForecast(e.Name(), pred, last.Price, horizon, last.Timestamp)
	f.Symbol = last.Symbol
	f.Steps = steps
	f.Velocity = f.PriceChange / float64(steps)
	f.LowerBound = math.Min(forecast.Median(lowers), pred)
	f.UpperBound = math.Max(forecast.Median(uppers), pred)
	f.Uncertainty = (f.UpperBound - f.LowerBound) / 4
	switch {
	case spread < e.HighSpread:
		f.Confidence = domain.ConfidenceHigh
	case spread < e.MediumSpread:
		f.Confidence = domain.ConfidenceMedium
	default:
		f.Confidence = domain.ConfidenceLow
	}
	f.Metadata = map[string]any{
		"prediction_spread":    spread,
		"models_used":          used,
		"num_models":           len(preds),
		"min_prediction":       floats.Min(preds),
		"max_prediction":       floats.Max(preds),
		"technical_indicators": ta.Compute(domain.Prices(history), indicatorWindow),
	}
	return &f, nil
}

// Weighted blends a primary (state estimator) and an auxiliary model with a
// weight pair that always sums to one.
type Weighted struct {
	primary, auxiliary forecast.Model

	mu         sync.RWMutex
	primaryW   float64
	auxiliaryW float64
}

func NewWeighted(primary, auxiliary forecast.Model, primaryWeight float64) *Weighted {
	if primaryWeight < 0 || primaryWeight > 1 || math.IsNaN(primaryWeight) {
		primaryWeight = DefaultPrimaryWeight
	}
	return &Weighted{
		primary:    primary,
		auxiliary:  auxiliary,
		primaryW:   primaryWeight,
		auxiliaryW: 1 - primaryWeight,
	}
}

func (e *Weighted) Name() string { return string(forecast.KindWeightedEnsemble) }

func (e *Weighted) MinSamples() int { return minOf([]forecast.Model{e.primary, e.auxiliary}) }

// Weights returns the current primary and auxiliary weights.
func (e *Weighted) Weights() (primary, auxiliary float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.primaryW, e.auxiliaryW
}

// UpdateWeights sets the weights proportionally to two effectiveness scores.
// A negative score counts as zero, so (-5, 10) yields weights (0, 1). It is a
// no-op when the clamped scores do not add up to a positive total.
func (e *Weighted) UpdateWeights(primaryScore, auxiliaryScore float64) bool {
	primaryScore = math.Max(primaryScore, 0)
	auxiliaryScore = math.Max(auxiliaryScore, 0)
	total := primaryScore + auxiliaryScore
	if total <= 0 || math.IsInf(total, 0) || math.IsNaN(total) {
		return false
	}
	e.mu.Lock()
	e.primaryW = primaryScore / total
	e.auxiliaryW = auxiliaryScore / total
	e.mu.Unlock()
	return true
}

// Forecast returns the blended forecast. When only one component succeeds its
// forecast is returned as is.
func (e *Weighted) Forecast(history []domain.PriceSample, horizon time.Duration) (*domain.Forecast, error) {
	a, errA := forecast.Run(e.primary, history, horizon)
	b, errB := forecast.Run(e.auxiliary, history, horizon)
	switch {
	case errA != nil && errB != nil:
		if errors.Is(errA, forecast.ErrInsufficientData) && !errors.Is(errB, forecast.ErrInsufficientData) {
			return nil, errB
		}
		return nil, errA
	case errA != nil:
		return b, nil
	case errB != nil:
		return a, nil
	}

	wa, wb := e.Weights()
	pred := a.Prediction*wa + b.Prediction*wb

	f := domain.NewForecast(e.Name(), pred, a.CurrentPrice, horizon, a.Timestamp)
	f.Symbol = a.Symbol
	f.Steps = a.Steps
	if f.Steps > 0 {
		f.Velocity = f.PriceChange / float64(f.Steps)
	}
	f.LowerBound = a.LowerBound*wa + b.LowerBound*wb
	f.UpperBound = a.UpperBound*wa + b.UpperBound*wb
	f.Uncertainty = (f.UpperBound - f.LowerBound) / 4
	f.Confidence = domain.ConfidenceFromScore(a.Confidence.Score()*wa + b.Confidence.Score()*wb)
	f.Metadata = map[string]any{
		"components": map[string]any{
			e.primary.Name():   map[string]any{"prediction": a.Prediction, "weight": wa},
			e.auxiliary.Name(): map[string]any{"prediction": b.Prediction, "weight": wb},
		},
	}
	return &f, nil
}

// Build returns the ensemble for a strategy name: "median" or "weighted".
func Build(strategy string, opts forecast.Options, primaryWeight float64) (forecast.Model, error) {
	switch strategy {
	case "median":
		models := make([]forecast.Model, 0, len(forecast.BaseKinds))
		for _, kind := range forecast.BaseKinds {
			m, err := forecast.NewModel(kind, opts)
			if err != nil {
				return nil, err
			}
			models = append(models, m)
		}
		return NewMedian(models...), nil
	case "weighted", "":
		aux, err := forecast.NewModel(forecast.KindExpSmoothing, opts)
		if err != nil {
			return nil, err
		}
		return NewWeighted(forecast.NewKalmanModel(opts), aux, primaryWeight), nil
	default:
		return nil, fmt.Errorf("unknown ensemble strategy %q", strategy)
	}
}

func minOf(models []forecast.Model) int {
	min := 0
	for i, m := range models {
		if n := m.MinSamples(); i == 0 || n < min {
			min = n
		}
	}
	return min
}
