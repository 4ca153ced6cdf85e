// Package tracker records forecasts, validates them against prices observed
// later and aggregates the outcome into accuracy metrics.
package tracker

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"tick-oracle/internal/domain"
)

const (
	DefaultCapacity  = 100
	DefaultTolerance = 30 * time.Second
	recentWindow     = 10
)

// Params holds the empirically chosen constants. Zero fields take defaults.
type Params struct {
	Capacity  int
	Tolerance time.Duration

	// Effectiveness index shares; they sum to 100 by default.
	DirectionWeight   float64
	MAPEWeight        float64
	CalibrationWeight float64
	// MAPECeiling is the MAPE at which the error share reaches zero.
	MAPECeiling float64
	// CoverageLow and CoverageHigh bound the coverage band that earns the
	// full calibration share.
	CoverageLow  float64
	CoverageHigh float64
}

func DefaultParams() Params {
	return Params{
		Capacity:          DefaultCapacity,
		Tolerance:         DefaultTolerance,
		DirectionWeight:   40,
		MAPEWeight:        35,
		CalibrationWeight: 25,
		MAPECeiling:       2.5,
		CoverageLow:       90,
		CoverageHigh:      98,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Capacity <= 0 {
		p.Capacity = d.Capacity
	}
	if p.Tolerance <= 0 {
		p.Tolerance = d.Tolerance
	}
	if p.DirectionWeight <= 0 && p.MAPEWeight <= 0 && p.CalibrationWeight <= 0 {
		p.DirectionWeight, p.MAPEWeight, p.CalibrationWeight = d.DirectionWeight, d.MAPEWeight, d.CalibrationWeight
	}
	if p.MAPECeiling <= 0 {
		p.MAPECeiling = d.MAPECeiling
	}
	if p.CoverageLow <= 0 || p.CoverageHigh <= p.CoverageLow || p.CoverageHigh > 100 {
		p.CoverageLow, p.CoverageHigh = d.CoverageLow, d.CoverageHigh
	}
	return p
}

// Tracker keeps two bounded FIFO buffers: every added record, and the
// records that have been validated. Safe for concurrent use.
type Tracker struct {
	params Params
	now    func() time.Time

	mu        sync.Mutex
	pending   []*domain.PredictionRecord
	validated []domain.PredictionRecord
}

func New(params Params) *Tracker {
	return NewWithClock(params, time.Now)
}

func NewWithClock(params Params, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	params = params.withDefaults()
	return &Tracker{
		params:    params,
		now:       now,
		pending:   make([]*domain.PredictionRecord, 0, params.Capacity),
		validated: make([]domain.PredictionRecord, 0, params.Capacity),
	}
}

func (t *Tracker) Params() Params { return t.params }

// Add stores a copy of f as an unvalidated record and returns it.
func (t *Tracker) Add(f domain.Forecast) domain.PredictionRecord {
	rec := &domain.PredictionRecord{ID: uuid.NewString(), Forecast: f.Clone()}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) >= t.params.Capacity {
		t.pending[0] = nil
		t.pending = t.pending[1:]
	}
	t.pending = append(t.pending, rec)
	return rec.Clone()
}

// Validate resolves every due record that has a sample within the tolerance
// of its target time and returns how many were validated by this call.
// Records with no matching sample stay pending.
func (t *Tracker) Validate(history []domain.PriceSample) int {
	return len(t.ValidateRecords(history))
}

// ValidateRecords is Validate returning copies of the newly validated records.
func (t *Tracker) ValidateRecords(history []domain.PriceSample) []domain.PredictionRecord {
	if len(history) == 0 {
		return nil
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.PredictionRecord
	for _, rec := range t.pending {
		if rec.Validated {
			continue
		}
		target := rec.TargetTime()
		if now.Before(target) {
			continue
		}
		actual, ok := closestPrice(history, target, t.params.Tolerance)
		if !ok {
			continue
		}

		f := rec.Forecast
		errAbs := actual - f.Prediction
		errPct := 0.0
		if f.CurrentPrice != 0 {
			errPct = errAbs / f.CurrentPrice * 100
		}
		within := f.LowerBound <= actual && actual <= f.UpperBound
		validatedAt := now

		rec.Validated = true
		rec.ActualPrice = &actual
		rec.Error = &errAbs
		rec.ErrorPct = &errPct
		rec.WithinInterval = &within
		rec.ValidationTime = &validatedAt

		if len(t.validated) >= t.params.Capacity {
			t.validated = t.validated[1:]
		}
		t.validated = append(t.validated, rec.Clone())
		out = append(out, rec.Clone())
	}
	return out
}

// closestPrice returns the price of the sample nearest to target, provided it
// lies within tol.
func closestPrice(history []domain.PriceSample, target time.Time, tol time.Duration) (float64, bool) {
	best := time.Duration(-1)
	price := 0.0
	for _, s := range history {
		d := s.Timestamp.Sub(target)
		if d < 0 {
			d = -d
		}
		if d > tol {
			continue
		}
		if best < 0 || d < best {
			best, price = d, s.Price
		}
	}
	return price, best >= 0
}

// AccuracyMetrics aggregates the validated buffer. Metrics is nil until a
// record has been validated.
func (t *Tracker) AccuracyMetrics() domain.AccuracyMetrics {
	t.mu.Lock()
	total := len(t.pending)
	validated := make([]domain.PredictionRecord, len(t.validated))
	copy(validated, t.validated)
	t.mu.Unlock()

	out := domain.AccuracyMetrics{TotalPredictions: total, ValidatedPredictions: len(validated)}
	if len(validated) == 0 {
		return out
	}

	n := len(validated)
	absErr := make([]float64, n)
	sqErr := make([]float64, n)
	absPct := make([]float64, n)
	var correct, inside float64
	for i, r := range validated {
		e, pct, actual := *r.Error, *r.ErrorPct, *r.ActualPrice
		absErr[i] = math.Abs(e)
		sqErr[i] = e * e
		absPct[i] = math.Abs(pct)
		if direction(r.Forecast.Prediction, r.Forecast.CurrentPrice) == direction(actual, r.Forecast.CurrentPrice) {
			correct++
		}
		if r.WithinInterval != nil && *r.WithinInterval {
			inside++
		}
	}
	recent := absPct
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}

	m := domain.MetricValues{
		MAE:                 stat.Mean(absErr, nil),
		RMSE:                math.Sqrt(stat.Mean(sqErr, nil)),
		MAPE:                stat.Mean(absPct, nil),
		DirectionalAccuracy: correct / float64(n) * 100,
		IntervalCoverage:    inside / float64(n) * 100,
		RecentMAPE:          stat.Mean(recent, nil),
	}
	m.EffectivenessIndex = t.params.Effectiveness(m.DirectionalAccuracy, m.MAPE, m.IntervalCoverage)

	out.Metrics = &m
	out.Rating, out.Summary = Rate(m.DirectionalAccuracy, m.MAPE)
	return out
}

// direction is the sign of the move from reference; an unchanged price is
// flat and only matches another flat move.
func direction(price, reference float64) domain.Trend {
	return domain.TrendOf(price - reference)
}

// Effectiveness folds directional accuracy, MAPE and interval coverage into a
// 0..100 score. It is non-decreasing in accuracy and non-increasing in MAPE.
func (p Params) Effectiveness(dirAcc, mape, coverage float64) float64 {
	p = p.withDefaults()
	dirPart := clamp(dirAcc/100, 0, 1) * p.DirectionWeight
	mapePart := math.Max(0, 1-math.Max(mape, 0)/p.MAPECeiling) * p.MAPEWeight

	var calibration float64
	switch {
	case coverage < p.CoverageLow:
		calibration = math.Max(coverage, 0) / p.CoverageLow
	case coverage <= p.CoverageHigh:
		calibration = 1
	default:
		over := (coverage - p.CoverageHigh) / (100 - p.CoverageHigh)
		calibration = 1 - clamp(over, 0, 1)*0.5
	}
	return clamp(dirPart+mapePart+calibration*p.CalibrationWeight, 0, 100)
}

// Rate buckets performance using directional accuracy and MAPE jointly.
func Rate(dirAcc, mape float64) (domain.Rating, string) {
	switch {
	case dirAcc >= 70 && mape < 1.0:
		return domain.RatingExcellent, "Excellent: High accuracy, low error"
	case dirAcc >= 60 && mape < 1.5:
		return domain.RatingGood, "Good: Reliable predictions"
	case dirAcc >= 50 && mape < 2.5:
		return domain.RatingFair, "Fair: Moderate accuracy"
	default:
		return domain.RatingPoor, "Poor: Needs parameter tuning"
	}
}

// Recent returns up to limit of the most recently validated records, oldest first.
func (t *Tracker) Recent(limit int) []domain.PredictionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.validated) {
		limit = len(t.validated)
	}
	out := make([]domain.PredictionRecord, 0, limit)
	for _, r := range t.validated[len(t.validated)-limit:] {
		out = append(out, r.Clone())
	}
	return out
}

// Pending counts records still waiting for an actual price.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.pending {
		if !r.Validated {
			n++
		}
	}
	return n
}

// Prune drops records of both buffers made more than maxAge ago and returns
// how many were removed.
func (t *Tracker) Prune(maxAge time.Duration) int {
	cutoff := t.now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()
	before := len(t.pending) + len(t.validated)

	keptPending := make([]*domain.PredictionRecord, 0, t.params.Capacity)
	for _, r := range t.pending {
		if r.Forecast.Timestamp.After(cutoff) {
			keptPending = append(keptPending, r)
		}
	}
	keptValidated := make([]domain.PredictionRecord, 0, t.params.Capacity)
	for _, r := range t.validated {
		if r.Forecast.Timestamp.After(cutoff) {
			keptValidated = append(keptValidated, r)
		}
	}
	t.pending, t.validated = keptPending, keptValidated
	return before - len(t.pending) - len(t.validated)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
