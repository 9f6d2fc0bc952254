// Package indicators provides pure, batch-style indicator math over bar
// series. Every function returns a slice aligned with its input; positions
// inside the warm-up window hold NaN, so callers can treat "not enough
// history" and "no value" uniformly.
package indicators

import (
	"math"
	"sort"

	"multi-strategy-bot-go/internal/models"
)

// SMA returns the simple moving average over the given period. Windows
// containing NaN yield NaN, so averaging the output of another indicator
// keeps its warm-up prefix instead of smearing NaN across the whole series.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		var sum float64
		valid := true
		for j := i - period + 1; j <= i; j++ {
			if math.IsNaN(values[j]) {
				valid = false
				break
			}
			sum += values[j]
		}
		if valid {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA returns the exponential moving average with smoothing factor
// 2/(period+1), seeded with the first value.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1.0)
	ema := values[0]
	out[0] = ema
	for i := 1; i < len(values); i++ {
		ema = alpha*values[i] + (1-alpha)*ema
		out[i] = ema
	}
	return out
}

// StdDev returns the rolling sample standard deviation (ddof=1) over the
// given period.
func StdDev(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 1 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		var sum float64
		for _, v := range window {
			sum += v
		}
		mean := sum / float64(period)
		var ss float64
		for _, v := range window {
			d := v - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out
}

// TrueRange returns the per-bar true range:
// max(high-low, |high-prevClose|, |low-prevClose|). The first bar has no
// previous close, so its true range degrades to high-low.
func TrueRange(bars models.BarSeries) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prevClose := bars[i-1].Close
			tr = math.Max(tr, math.Abs(b.High-prevClose))
			tr = math.Max(tr, math.Abs(b.Low-prevClose))
		}
		out[i] = tr
	}
	return out
}

// ATR returns the Average True Range: the rolling mean of the true range
// over the given period.
func ATR(bars models.BarSeries, period int) []float64 {
	return SMA(TrueRange(bars), period)
}

// RSI returns the Relative Strength Index over the given period, with
// gains and losses split from the close-to-close delta and averaged with a
// plain rolling mean. A window with zero average loss yields RSI 100.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}
	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}
	// The delta at index 0 is undefined, so the first full window ends at
	// index `period`, mirroring the pandas rolling-mean warm-up.
	for i := period; i < len(values); i++ {
		var gainSum, lossSum float64
		for j := i - period + 1; j <= i; j++ {
			gainSum += gains[j]
			lossSum += losses[j]
		}
		avgGain := gainSum / float64(period)
		avgLoss := lossSum / float64(period)
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// MACDResult bundles the MACD line, its signal line and the histogram.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD returns EMA(fast)-EMA(slow) with an EMA of the MACD line as signal.
func MACD(values []float64, fast, slow, signalPeriod int) MACDResult {
	emaFast := EMA(values, fast)
	emaSlow := EMA(values, slow)
	macd := make([]float64, len(values))
	for i := range values {
		macd[i] = emaFast[i] - emaSlow[i]
	}
	signal := EMA(macd, signalPeriod)
	hist := make([]float64, len(values))
	for i := range values {
		hist[i] = macd[i] - signal[i]
	}
	return MACDResult{MACD: macd, Signal: signal, Histogram: hist}
}

// BollingerResult bundles the three Bollinger band lines.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger returns SMA(period) ± stdDev·rolling-std bands.
func Bollinger(values []float64, period int, stdDev float64) BollingerResult {
	middle := SMA(values, period)
	std := StdDev(values, period)
	upper := nanSlice(len(values))
	lower := nanSlice(len(values))
	for i := range values {
		if !math.IsNaN(middle[i]) && !math.IsNaN(std[i]) {
			upper[i] = middle[i] + std[i]*stdDev
			lower[i] = middle[i] - std[i]*stdDev
		}
	}
	return BollingerResult{Upper: upper, Middle: middle, Lower: lower}
}

// StochasticResult bundles the smoothed %K and %D lines.
type StochasticResult struct {
	K []float64
	D []float64
}

// Stochastic returns the stochastic oscillator:
// raw %K = 100·(close-lowestLow)/(highestHigh-lowestLow) over kPeriod,
// smoothed by smoothK, with %D a rolling mean of the smoothed %K.
func Stochastic(bars models.BarSeries, kPeriod, smoothK, dPeriod int) StochasticResult {
	raw := nanSlice(len(bars))
	if kPeriod > 0 && len(bars) >= kPeriod {
		for i := kPeriod - 1; i < len(bars); i++ {
			lowest := math.Inf(1)
			highest := math.Inf(-1)
			for j := i - kPeriod + 1; j <= i; j++ {
				lowest = math.Min(lowest, bars[j].Low)
				highest = math.Max(highest, bars[j].High)
			}
			if highest == lowest {
				continue // zero range, leave NaN
			}
			raw[i] = 100 * (bars[i].Close - lowest) / (highest - lowest)
		}
	}
	k := SMA(raw, smoothK)
	d := SMA(k, dPeriod)
	return StochasticResult{K: k, D: d}
}

// ROC returns the fractional rate of change over the given period:
// (v[i] - v[i-period]) / v[i-period].
func ROC(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}
	for i := period; i < len(values); i++ {
		prev := values[i-period]
		if prev == 0 {
			continue
		}
		out[i] = (values[i] - prev) / prev
	}
	return out
}

// Percentile returns the p-th percentile (0..100) of the finite values in
// the slice, using linear interpolation between ranks. NaN entries are
// ignored; an all-NaN or empty slice yields NaN.
func Percentile(values []float64, p float64) float64 {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return math.NaN()
	}
	sort.Float64s(finite)
	if len(finite) == 1 {
		return finite[0]
	}
	rank := p / 100 * float64(len(finite)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return finite[lo]
	}
	frac := rank - float64(lo)
	return finite[lo]*(1-frac) + finite[hi]*frac
}

// HighestHigh returns the maximum high over the last n bars.
func HighestHigh(bars models.BarSeries, n int) float64 {
	tail := bars.Tail(n)
	if len(tail) == 0 {
		return math.NaN()
	}
	highest := math.Inf(-1)
	for _, b := range tail {
		highest = math.Max(highest, b.High)
	}
	return highest
}

// LowestLow returns the minimum low over the last n bars.
func LowestLow(bars models.BarSeries, n int) float64 {
	tail := bars.Tail(n)
	if len(tail) == 0 {
		return math.NaN()
	}
	lowest := math.Inf(1)
	for _, b := range tail {
		lowest = math.Min(lowest, b.Low)
	}
	return lowest
}

// Valid reports whether the value at the given index exists and is finite.
func Valid(values []float64, i int) bool {
	return i >= 0 && i < len(values) && !math.IsNaN(values[i]) && !math.IsInf(values[i], 0)
}

// At returns values[len-1-back], or NaN when out of range. back=0 is the
// latest value.
func At(values []float64, back int) float64 {
	i := len(values) - 1 - back
	if i < 0 {
		return math.NaN()
	}
	return values[i]
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
