// Package signal turns a forecast into a BUY/SELL/HOLD recommendation.
package signal

import (
	"fmt"
	"math"
	"strings"
	"time"

	"tick-oracle/internal/domain"
	"tick-oracle/internal/ta"
)

const (
	DefaultThresholdPct = 0.3

	rsiOversold   = 30
	rsiOverbought = 70
)

type Generator struct {
	// ThresholdPct is the forecast move, in percent, needed to leave HOLD.
	ThresholdPct float64
	now          func() time.Time
}

func NewGenerator(thresholdPct float64) *Generator {
	if thresholdPct <= 0 || math.IsNaN(thresholdPct) {
		thresholdPct = DefaultThresholdPct
	}
	return &Generator{ThresholdPct: thresholdPct, now: time.Now}
}

// Generate scores the forecast and picks an action. Only medium or high
// confidence forecasts can produce BUY or SELL.
func (g *Generator) Generate(f domain.Forecast) domain.Signal {
	pct := f.PriceChangePct
	s := domain.Signal{
		Symbol:              f.Symbol,
		Action:              domain.ActionHold,
		Strength:            Strength(f),
		Confidence:          f.Confidence,
		Reason:              "Low expected movement or high uncertainty",
		PriceChangeForecast: domain.Round(pct, 2),
		CurrentPrice:        f.CurrentPrice,
		PredictedPrice:      f.Prediction,
		Method:              f.Method,
		Timestamp:           g.now().UTC(),
	}
	confident := f.Confidence == domain.ConfidenceHigh || f.Confidence == domain.ConfidenceMedium
	switch {
	case confident && pct > g.ThresholdPct:
		s.Action = domain.ActionBuy
		s.Reason = fmt.Sprintf("Ensemble consensus: upward trend (+%.2f%%)", pct)
	case confident && pct < -g.ThresholdPct:
		s.Action = domain.ActionSell
		s.Reason = fmt.Sprintf("Ensemble consensus: downward trend (%.2f%%)", pct)
	}
	return s
}

// GenerateWithIndicators runs Generate, then lets RSI extremes open a
// position and requires momentum to agree with it. Low confidence forecasts
// stay HOLD.
func (g *Generator) GenerateWithIndicators(f domain.Forecast, ind ta.Snapshot) domain.Signal {
	s := g.Generate(f)
	if f.Confidence != domain.ConfidenceHigh && f.Confidence != domain.ConfidenceMedium {
		return s
	}
	var reasons []string
	if s.Action != domain.ActionHold {
		reasons = append(reasons, s.Reason)
	}

	if ind.RSI != nil {
		switch rsi := *ind.RSI; {
		case rsi < rsiOversold:
			if s.Action != domain.ActionSell {
				s.Action = domain.ActionBuy
			}
			reasons = append(reasons, fmt.Sprintf("RSI oversold: %.1f", rsi))
		case rsi > rsiOverbought:
			if s.Action != domain.ActionBuy {
				s.Action = domain.ActionSell
			}
			reasons = append(reasons, fmt.Sprintf("RSI overbought: %.1f", rsi))
		}
	}

	if ind.Momentum != nil {
		switch mom := *ind.Momentum; {
		case s.Action == domain.ActionBuy && mom < 0:
			s.Action = domain.ActionHold
			reasons = append(reasons, "Negative momentum - holding")
		case s.Action == domain.ActionSell && mom > 0:
			s.Action = domain.ActionHold
			reasons = append(reasons, "Positive momentum - holding")
		}
	}

	if len(reasons) > 0 {
		s.Reason = strings.Join(reasons, "; ")
	}
	return s
}

// Strength is the 0..100 score: forecast magnitude (up to 50), confidence
// (10/20/30) and narrowness of the interval (up to 20).
func Strength(f domain.Forecast) int {
	magnitude := math.Min(math.Abs(f.PriceChangePct)*10, 50)

	var conf float64
	switch f.Confidence {
	case domain.ConfidenceHigh:
		conf = 30
	case domain.ConfidenceMedium:
		conf = 20
	default:
		conf = 10
	}

	uncertainty := (f.UpperBound - f.LowerBound) / 4
	narrow := math.Max(0, 20-uncertainty*10)

	total := magnitude + conf + narrow
	if math.IsNaN(total) {
		return 0
	}
	return int(math.Max(0, math.Min(100, total)))
}
