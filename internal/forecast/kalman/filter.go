// Package kalman implements a constant-velocity linear state estimator over
// a scalar price observation.
//
// State is (price, velocity). Each step advances price by velocity and keeps
// velocity constant, with diagonal process noise Q; only price is observed,
// with measurement noise R.
package kalman

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var ErrDegenerate = errors.New("kalman: degenerate innovation covariance")

// Params tune the filter. Zero fields take the defaults below.
type Params struct {
	PriceNoise        float64
	VelocityNoise     float64
	MeasurementNoise  float64
	InitialCovariance float64
}

const (
	DefaultPriceNoise        = 1e-4
	DefaultVelocityNoise     = 1e-4
	DefaultMeasurementNoise  = 0.01
	DefaultInitialCovariance = 1000
)

func (p Params) withDefaults() Params {
	if p.PriceNoise <= 0 {
		p.PriceNoise = DefaultPriceNoise
	}
	if p.VelocityNoise <= 0 {
		p.VelocityNoise = DefaultVelocityNoise
	}
	if p.MeasurementNoise <= 0 {
		p.MeasurementNoise = DefaultMeasurementNoise
	}
	if p.InitialCovariance <= 0 {
		p.InitialCovariance = DefaultInitialCovariance
	}
	return p
}

// State is a read-only copy of the estimator belief.
type State struct {
	PriceEstimate    float64       `json:"price_estimate"`
	VelocityEstimate float64       `json:"velocity_estimate"`
	Covariance       [2][2]float64 `json:"covariance"`
	Initialized      bool          `json:"initialized"`
}

type Filter struct {
	params      Params
	x           *mat.VecDense
	p           *mat.Dense
	f           *mat.Dense
	q           *mat.Dense
	initialized bool
}

func New(params Params) *Filter {
	params = params.withDefaults()
	return &Filter{
		params: params,
		x:      mat.NewVecDense(2, nil),
		p:      mat.NewDense(2, 2, []float64{params.InitialCovariance, 0, 0, params.InitialCovariance}),
		f:      mat.NewDense(2, 2, []float64{1, 1, 0, 1}),
		q:      mat.NewDense(2, 2, []float64{params.PriceNoise, 0, 0, params.VelocityNoise}),
	}
}

// Update folds one price measurement into the state. The first call only
// seeds the price estimate.
func (k *Filter) Update(measurement float64) error {
	if math.IsNaN(measurement) || math.IsInf(measurement, 0) {
		return ErrDegenerate
	}
	if !k.initialized {
		k.x.SetVec(0, measurement)
		k.x.SetVec(1, 0)
		c := k.params.InitialCovariance
		k.p = mat.NewDense(2, 2, []float64{c, 0, 0, c})
		k.initialized = true
		return nil
	}

	var xp mat.VecDense
	xp.MulVec(k.f, k.x)
	pp := k.project(k.p)

	s := pp.At(0, 0) + k.params.MeasurementNoise
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return ErrDegenerate
	}
	innovation := measurement - xp.AtVec(0)
	gain := mat.NewVecDense(2, []float64{pp.At(0, 0) / s, pp.At(1, 0) / s})

	var x mat.VecDense
	x.AddScaledVec(&xp, innovation, gain)

	// P = (I - K H) P'
	ikh := mat.NewDense(2, 2, []float64{
		1 - gain.AtVec(0), 0,
		-gain.AtVec(1), 1,
	})
	var p mat.Dense
	p.Mul(ikh, pp)

	if !finite(x.RawVector().Data) || !finite(p.RawMatrix().Data) {
		return ErrDegenerate
	}
	k.x = &x
	k.p = &p
	return nil
}

// Predict projects the current belief steps ahead without mutating it and
// returns the projected price and its standard deviation. ok is false until
// the first Update.
func (k *Filter) Predict(steps int) (price, std float64, ok bool) {
	if !k.initialized {
		return 0, 0, false
	}
	x := mat.VecDenseCopyOf(k.x)
	p := mat.DenseCopyOf(k.p)
	for i := 0; i < steps; i++ {
		var next mat.VecDense
		next.MulVec(k.f, x)
		x = &next
		p = k.project(p)
	}
	variance := p.At(0, 0)
	if variance < 0 {
		variance = 0
	}
	return x.AtVec(0), math.Sqrt(variance), true
}

// Velocity is the current price change per step, 0 before initialization.
func (k *Filter) Velocity() float64 {
	if !k.initialized {
		return 0
	}
	return k.x.AtVec(1)
}

func (k *Filter) Initialized() bool {
	return k.initialized
}

func (k *Filter) State() State {
	return State{
		PriceEstimate:    k.x.AtVec(0),
		VelocityEstimate: k.x.AtVec(1),
		Covariance: [2][2]float64{
			{k.p.At(0, 0), k.p.At(0, 1)},
			{k.p.At(1, 0), k.p.At(1, 1)},
		},
		Initialized: k.initialized,
	}
}

// project returns F P F^T + Q.
func (k *Filter) project(p *mat.Dense) *mat.Dense {
	var fp, out mat.Dense
	fp.Mul(k.f, p)
	out.Mul(&fp, k.f.T())
	out.Add(&out, k.q)
	return &out
}

func finite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
