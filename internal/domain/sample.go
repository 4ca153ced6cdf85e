package domain

import (
	"math"
	"time"
)

// PriceSample is one timestamped quote from a price source.
type PriceSample struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"change_percent"`
	Volume    *float64  `json:"volume,omitempty"`
}

// Valid reports whether the sample can enter a price history. Zero, negative
// and non-finite prices mean "no sample this cycle".
func (s PriceSample) Valid() bool {
	if s.Timestamp.IsZero() {
		return false
	}
	if math.IsNaN(s.Price) || math.IsInf(s.Price, 0) {
		return false
	}
	return s.Price > 0
}

// Prices extracts the price column of a sample slice.
func Prices(samples []PriceSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Price
	}
	return out
}
