package domain

import (
	"encoding/json"
	"time"
)

const DefaultConfidenceInterval = "95%"

// Forecast is the uniform output of every forecast model and ensemble.
type Forecast struct {
	Method             string         `json:"method"`
	Symbol             string         `json:"symbol,omitempty"`
	Prediction         float64        `json:"prediction"`
	CurrentPrice       float64        `json:"current_price"`
	PriceChange        float64        `json:"price_change"`
	PriceChangePct     float64        `json:"price_change_pct"`
	Horizon            time.Duration  `json:"-"`
	Steps              int            `json:"steps"`
	Velocity           float64        `json:"velocity"`
	Trend              Trend          `json:"trend"`
	LowerBound         float64        `json:"lower_bound"`
	UpperBound         float64        `json:"upper_bound"`
	Uncertainty        float64        `json:"uncertainty"`
	Confidence         Confidence     `json:"confidence"`
	ConfidenceInterval string         `json:"confidence_interval"`
	Timestamp          time.Time      `json:"timestamp"`
	Metadata           map[string]any `json:"model_metadata,omitempty"`
}

// NewForecast fills the derived change, percentage and trend fields.
func NewForecast(method string, prediction, current float64, horizon time.Duration, ts time.Time) Forecast {
	change := prediction - current
	pct := 0.0
	if current != 0 {
		pct = change / current * 100
	}
	return Forecast{
		Method:             method,
		Prediction:         prediction,
		CurrentPrice:       current,
		PriceChange:        change,
		PriceChangePct:     pct,
		Horizon:            horizon,
		Trend:              TrendOf(change),
		ConfidenceInterval: DefaultConfidenceInterval,
		Timestamp:          ts,
	}
}

// HorizonMinutes is the horizon expressed in (possibly fractional) minutes.
func (f Forecast) HorizonMinutes() float64 {
	return f.Horizon.Minutes()
}

// TargetTime is the instant the forecast is about.
func (f Forecast) TargetTime() time.Time {
	return f.Timestamp.Add(f.Horizon)
}

// Clone returns a copy that does not share the metadata map.
func (f Forecast) Clone() Forecast {
	if f.Metadata != nil {
		md := make(map[string]any, len(f.Metadata))
		for k, v := range f.Metadata {
			md[k] = v
		}
		f.Metadata = md
	}
	return f
}

// MarshalJSON emits a flat record with rounded prices and the horizon in both
// duration and minute form.
func (f Forecast) MarshalJSON() ([]byte, error) {
	type plain Forecast
	out := struct {
		plain
		Horizon        string  `json:"horizon"`
		HorizonMinutes float64 `json:"horizon_minutes"`
	}{
		plain:          plain(f.rounded()),
		Horizon:        f.Horizon.String(),
		HorizonMinutes: Round(f.Horizon.Minutes(), 2),
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the shape produced by MarshalJSON.
func (f *Forecast) UnmarshalJSON(data []byte) error {
	type plain Forecast
	var in struct {
		plain
		Horizon        string  `json:"horizon"`
		HorizonMinutes float64 `json:"horizon_minutes"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*f = Forecast(in.plain)
	if d, err := time.ParseDuration(in.Horizon); err == nil {
		f.Horizon = d
	} else {
		f.Horizon = time.Duration(in.HorizonMinutes * float64(time.Minute))
	}
	return nil
}

func (f Forecast) rounded() Forecast {
	f.Prediction = Round(f.Prediction, 2)
	f.CurrentPrice = Round(f.CurrentPrice, 2)
	f.PriceChange = Round(f.PriceChange, 2)
	f.PriceChangePct = Round(f.PriceChangePct, 2)
	f.Velocity = Round(f.Velocity, 4)
	f.LowerBound = Round(f.LowerBound, 2)
	f.UpperBound = Round(f.UpperBound, 2)
	f.Uncertainty = Round(f.Uncertainty, 4)
	return f
}
