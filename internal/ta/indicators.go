package ta

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	if period <= 1 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, len(values))
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

func RSISeries(closes []float64, period int) []float64 {
	if len(closes) <= period {
		return nil
	}
	series := make([]float64, len(closes))
	for i := range series {
		series[i] = math.NaN()
	}

	var gainSum float64
	var lossSum float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	series[period] = rsiFromAvg(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain := math.Max(delta, 0)
		loss := math.Max(-delta, 0)
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		series[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return series
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func MACDSeries(values []float64, fast, slow, signal int) ([]float64, []float64) {
	if len(values) == 0 {
		return nil, nil
	}
	fastEMA := EMASeries(values, fast)
	slowEMA := EMASeries(values, slow)
	macdLine := make([]float64, len(values))
	for i := range values {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine := EMASeries(macdLine, signal)
	return macdLine, signalLine
}

func BollingerSeries(values []float64, period int, stdDevs float64) ([]float64, []float64, []float64) {
	if len(values) == 0 {
		return nil, nil, nil
	}
	middle := make([]float64, len(values))
	upper := make([]float64, len(values))
	lower := make([]float64, len(values))
	for i := range values {
		middle[i] = math.NaN()
		upper[i] = math.NaN()
		lower[i] = math.NaN()
	}
	if period <= 0 {
		return middle, upper, lower
	}
	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		mean, std := stat.PopMeanStdDev(window, nil)
		middle[i] = mean
		upper[i] = mean + stdDevs*std
		lower[i] = mean - stdDevs*std
	}
	return middle, upper, lower
}

func SMA(values []float64, window int) float64 {
	if len(values) == 0 || window <= 0 {
		return math.NaN()
	}
	if window > len(values) {
		window = len(values)
	}
	return stat.Mean(values[len(values)-window:], nil)
}

// Momentum is the absolute change over the last window samples.
func Momentum(values []float64, window int) float64 {
	if len(values) < 2 || window < 2 {
		return 0
	}
	if window > len(values) {
		window = len(values)
	}
	return values[len(values)-1] - values[len(values)-window]
}

// ROC is the percentage rate of change over the last window samples.
func ROC(values []float64, window int) float64 {
	if len(values) < 2 || window < 2 {
		return 0
	}
	if window > len(values) {
		window = len(values)
	}
	base := values[len(values)-window]
	if base == 0 {
		return 0
	}
	return (values[len(values)-1] - base) / base * 100
}

// LogReturnVolatility is the population std of log returns over the last window samples.
func LogReturnVolatility(values []float64, window int) float64 {
	if window > len(values) {
		window = len(values)
	}
	if window < 2 {
		return 0
	}
	tail := values[len(values)-window:]
	returns := make([]float64, 0, len(tail)-1)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] <= 0 || tail[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(tail[i]/tail[i-1]))
	}
	if len(returns) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(returns, nil)
	return std
}

// Diffs returns first differences of values.
func Diffs(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}

// Snapshot is the indicator set attached to ensemble forecasts and consumed
// by the signal overlay. Pointer fields are nil when there is not enough data.
type Snapshot struct {
	SMA        *float64 `json:"sma,omitempty"`
	EMA        *float64 `json:"ema,omitempty"`
	Momentum   *float64 `json:"momentum,omitempty"`
	ROC        *float64 `json:"roc,omitempty"`
	Volatility *float64 `json:"volatility,omitempty"`
	RSI        *float64 `json:"rsi,omitempty"`
	MACD       *float64 `json:"macd,omitempty"`
	MACDSignal *float64 `json:"macd_signal,omitempty"`
	BBPosition *float64 `json:"bb_position,omitempty"`
}

// Compute builds a Snapshot using window for the short indicators and the
// usual 14 period RSI.
func Compute(prices []float64, window int) Snapshot {
	var s Snapshot
	if window <= 0 {
		window = 5
	}
	if len(prices) >= window {
		sma := SMA(prices, window)
		ema := EMASeries(prices, window)[len(prices)-1]
		mom := Momentum(prices, window)
		roc := ROC(prices, window)
		vol := LogReturnVolatility(prices, window)
		s.SMA, s.EMA, s.Momentum, s.ROC, s.Volatility = &sma, &ema, &mom, &roc, &vol
	}
	if rsi := RSISeries(prices, 14); len(rsi) > 0 {
		v := rsi[len(rsi)-1]
		s.RSI = &v
	}
	if len(prices) >= 26 {
		line, signal := MACDSeries(prices, 12, 26, 9)
		l, sg := line[len(line)-1], signal[len(signal)-1]
		s.MACD, s.MACDSignal = &l, &sg
	}
	if len(prices) >= 20 {
		_, upper, lower := BollingerSeries(prices, 20, 2)
		u, l := upper[len(upper)-1], lower[len(lower)-1]
		if width := u - l; width > 0 {
			pos := (prices[len(prices)-1] - l) / width
			s.BBPosition = &pos
		}
	}
	return s
}
