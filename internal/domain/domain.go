package domain

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Source string

const (
	SourceStock  Source = "stock"
	SourceCrypto Source = "crypto"
)

// Instrument is a tracked symbol and the quote source it is polled from.
type Instrument struct {
	Symbol string `json:"symbol"`
	Source Source `json:"source"`
}

// ParseInstruments parses "GGAL:stock,BTCUSDT:crypto". A missing source defaults to stock.
func ParseInstruments(raw string) []Instrument {
	var out []Instrument
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		symbol, source, _ := strings.Cut(part, ":")
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" || seen[symbol] {
			continue
		}
		src := Source(strings.ToLower(strings.TrimSpace(source)))
		if src != SourceCrypto {
			src = SourceStock
		}
		seen[symbol] = true
		out = append(out, Instrument{Symbol: symbol, Source: src})
	}
	return out
}

type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

func TrendOf(change float64) Trend {
	switch {
	case change > 0:
		return TrendUp
	case change < 0:
		return TrendDown
	default:
		return TrendFlat
	}
}

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Score maps a confidence bucket onto 1..3. Unknown values count as medium.
func (c Confidence) Score() float64 {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceHigh:
		return 3
	default:
		return 2
	}
}

func ConfidenceFromScore(score float64) Confidence {
	switch {
	case score >= 2.5:
		return ConfidenceHigh
	case score >= 1.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

type Signal struct {
	Symbol              string     `json:"symbol"`
	Action              Action     `json:"signal"`
	Strength            int        `json:"signal_strength"`
	Confidence          Confidence `json:"confidence"`
	Reason              string     `json:"reason"`
	PriceChangeForecast float64    `json:"price_change_forecast"`
	CurrentPrice        float64    `json:"current_price"`
	PredictedPrice      float64    `json:"predicted_price"`
	Method              string     `json:"model_type,omitempty"`
	Timestamp           time.Time  `json:"timestamp"`
}

// HistoryStats summarizes the visible price history.
type HistoryStats struct {
	Symbol     string    `json:"symbol"`
	Max        float64   `json:"max"`
	Min        float64   `json:"min"`
	Mean       float64   `json:"mean"`
	Range      float64   `json:"range"`
	Samples    int       `json:"samples"`
	LastUpdate time.Time `json:"last_update"`
}

// Round rounds half away from zero for presentation. Non-finite values become 0.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
