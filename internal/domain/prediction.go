package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// PredictionRecord is a tracked forecast. The validation fields are filled
// exactly once, when a matching actual price is found. It serializes as one
// flat object: the forecast fields followed by the validation fields.
type PredictionRecord struct {
	ID             string     `json:"id"`
	Forecast       Forecast   `json:"-"`
	Validated      bool       `json:"validated"`
	ActualPrice    *float64   `json:"actual_price"`
	Error          *float64   `json:"error"`
	ErrorPct       *float64   `json:"error_pct,omitempty"`
	WithinInterval *bool      `json:"within_interval,omitempty"`
	ValidationTime *time.Time `json:"validation_time,omitempty"`
}

func (r PredictionRecord) MarshalJSON() ([]byte, error) {
	type validation PredictionRecord
	head, err := json.Marshal(r.Forecast)
	if err != nil {
		return nil, err
	}
	tail, err := json.Marshal(validation(r))
	if err != nil {
		return nil, err
	}
	if len(head) < 2 || len(tail) < 2 {
		return nil, fmt.Errorf("prediction record %s: unexpected json shape", r.ID)
	}
	out := make([]byte, 0, len(head)+len(tail))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	return append(out, tail[1:]...), nil
}

func (r *PredictionRecord) UnmarshalJSON(data []byte) error {
	type validation PredictionRecord
	var v validation
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	var f Forecast
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = PredictionRecord(v)
	r.Forecast = f
	return nil
}

func (r PredictionRecord) TargetTime() time.Time {
	return r.Forecast.TargetTime()
}

// Clone deep-copies the record so callers never alias tracker state.
func (r PredictionRecord) Clone() PredictionRecord {
	r.Forecast = r.Forecast.Clone()
	if r.ActualPrice != nil {
		v := *r.ActualPrice
		r.ActualPrice = &v
	}
	if r.Error != nil {
		v := *r.Error
		r.Error = &v
	}
	if r.ErrorPct != nil {
		v := *r.ErrorPct
		r.ErrorPct = &v
	}
	if r.WithinInterval != nil {
		v := *r.WithinInterval
		r.WithinInterval = &v
	}
	if r.ValidationTime != nil {
		v := *r.ValidationTime
		r.ValidationTime = &v
	}
	return r
}

type Rating string

const (
	RatingExcellent Rating = "excellent"
	RatingGood      Rating = "good"
	RatingFair      Rating = "fair"
	RatingPoor      Rating = "poor"
)

// MetricValues are the aggregate accuracy statistics over validated records.
// Percentages are expressed on a 0..100 scale.
type MetricValues struct {
	MAE                 float64 `json:"mae"`
	RMSE                float64 `json:"rmse"`
	MAPE                float64 `json:"mape"`
	DirectionalAccuracy float64 `json:"directional_accuracy"`
	IntervalCoverage    float64 `json:"interval_coverage"`
	RecentMAPE          float64 `json:"recent_mape"`
	EffectivenessIndex  float64 `json:"effectiveness_index"`
}

// AccuracyMetrics wraps MetricValues; Metrics is nil until at least one
// prediction has been validated.
type AccuracyMetrics struct {
	TotalPredictions     int           `json:"total_predictions"`
	ValidatedPredictions int           `json:"validated_predictions"`
	Metrics              *MetricValues `json:"metrics"`
	Rating               Rating        `json:"rating,omitempty"`
	Summary              string        `json:"summary,omitempty"`
}

// Rounded returns a presentation copy with the reference rounding applied.
func (m MetricValues) Rounded() MetricValues {
	return MetricValues{
		MAE:                 Round(m.MAE, 3),
		RMSE:                Round(m.RMSE, 3),
		MAPE:                Round(m.MAPE, 2),
		DirectionalAccuracy: Round(m.DirectionalAccuracy, 1),
		IntervalCoverage:    Round(m.IntervalCoverage, 1),
		RecentMAPE:          Round(m.RecentMAPE, 2),
		EffectivenessIndex:  Round(m.EffectivenessIndex, 1),
	}
}
