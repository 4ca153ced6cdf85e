package forecast

import (
	"fmt"
	"time"

	"tick-oracle/internal/domain"
	"tick-oracle/internal/forecast/kalman"
)

// KalmanModel replays the visible history through a fresh filter on every
// call and projects it forward by the horizon.
type KalmanModel struct {
	opts Options
}

func NewKalmanModel(opts Options) *KalmanModel {
	return &KalmanModel{opts: opts.withDefaults()}
}

func (m *KalmanModel) Name() string    { return string(KindKalman) }
func (m *KalmanModel) MinSamples() int { return m.opts.MinSamples }

func (m *KalmanModel) Forecast(history []domain.PriceSample, horizon time.Duration) (*domain.Forecast, error) {
	if len(history) < m.opts.MinSamples {
		return nil, ErrInsufficientData
	}

	kf := kalman.New(m.opts.Kalman)
	for _, s := range history {
		if err := kf.Update(s.Price); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNumeric, err)
		}
	}

	steps := Steps(horizon, StepSize(history, m.opts.Step))
	pred, std, ok := kf.Predict(steps)
	if !ok {
		return nil, ErrInsufficientData
	}

	last := history[len(history)-1]
	f := domain.NewForecast(m.Name(), pred, last.Price, horizon, last.Timestamp)
	f.Velocity = kf.Velocity()
	f.Confidence = m.confidence(std)
	finish(&f, last.Symbol, steps, std)
	st := kf.State()
	f.Metadata = map[string]any{
		"price_estimate":    st.PriceEstimate,
		"velocity_estimate": st.VelocityEstimate,
	}
	return &f, nil
}

func (m *KalmanModel) confidence(std float64) domain.Confidence {
	switch {
	case std < m.opts.KalmanHighStd:
		return domain.ConfidenceHigh
	case std < m.opts.KalmanMediumStd:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
