package indicators

import (
	"math"
	"testing"
	"time"

	"multi-strategy-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barsFrom(ohlc [][4]float64) models.BarSeries {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	bars := make(models.BarSeries, len(ohlc))
	for i, v := range ohlc {
		bars[i] = models.Bar{
			Time: start.Add(time.Duration(i) * time.Hour),
			Open: v[0], High: v[1], Low: v[2], Close: v[3],
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	out := SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, out, 5)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9)
	assert.InDelta(t, 3.0, out[3], 1e-9)
	assert.InDelta(t, 4.0, out[4], 1e-9)
}

func TestSMAWindowWithNaNYieldsNaN(t *testing.T) {
	out := SMA([]float64{math.NaN(), math.NaN(), 3, 4, 5}, 2)
	assert.True(t, math.IsNaN(out[1]))
	assert.True(t, math.IsNaN(out[2]))
	assert.InDelta(t, 3.5, out[3], 1e-9)
	assert.InDelta(t, 4.5, out[4], 1e-9)
}

func TestSMAShortInput(t *testing.T) {
	out := SMA([]float64{1, 2}, 3)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}
}

func TestEMASeededWithFirstValue(t *testing.T) {
	// period 3 gives alpha 0.5
	out := EMA([]float64{2, 4, 6}, 3)
	require.Len(t, out, 3)
	assert.InDelta(t, 2.0, out[0], 1e-9)
	assert.InDelta(t, 3.0, out[1], 1e-9)
	assert.InDelta(t, 4.5, out[2], 1e-9)
}

func TestStdDevIsSampleStdDev(t *testing.T) {
	out := StdDev([]float64{1, 2, 3, 4}, 3)
	require.Len(t, out, 4)
	assert.True(t, math.IsNaN(out[1]))
	// [1 2 3]: mean 2, sum of squares 2, ddof=1 -> sqrt(1)
	assert.InDelta(t, 1.0, out[2], 1e-9)
	assert.InDelta(t, 1.0, out[3], 1e-9)
}

func TestTrueRangeUsesPreviousClose(t *testing.T) {
	bars := barsFrom([][4]float64{
		{10, 12, 9, 11},
		{11, 12, 11, 12}, // gap logic: |high-prevClose|=1, high-low=1
		{12, 13, 8, 9},   // high-low=5 dominates
	})
	tr := TrueRange(bars)
	assert.InDelta(t, 3.0, tr[0], 1e-9)
	assert.InDelta(t, 1.0, tr[1], 1e-9)
	assert.InDelta(t, 5.0, tr[2], 1e-9)
}

func TestATRIsRollingMeanOfTrueRange(t *testing.T) {
	bars := barsFrom([][4]float64{
		{10, 12, 9, 11},
		{11, 12, 11, 12},
		{12, 13, 8, 9},
	})
	atr := ATR(bars, 2)
	assert.True(t, math.IsNaN(atr[0]))
	assert.InDelta(t, 2.0, atr[1], 1e-9) // (3+1)/2
	assert.InDelta(t, 3.0, atr[2], 1e-9) // (1+5)/2
}

func TestRSIExtremes(t *testing.T) {
	up := RSI([]float64{1, 2, 3, 4, 5, 6}, 3)
	assert.True(t, math.IsNaN(up[2]))
	assert.InDelta(t, 100.0, up[3], 1e-9)
	assert.InDelta(t, 100.0, up[5], 1e-9)

	down := RSI([]float64{6, 5, 4, 3, 2, 1}, 3)
	assert.InDelta(t, 0.0, down[5], 1e-9)
}

func TestRSIMixedWindow(t *testing.T) {
	// Deltas: +2, -1, +2, -1. Window of 4 at the last index:
	// avgGain = 1.0, avgLoss = 0.5, RS = 2, RSI = 100 - 100/3.
	out := RSI([]float64{10, 12, 11, 13, 12}, 4)
	require.Len(t, out, 5)
	assert.InDelta(t, 100-100.0/3.0, out[4], 1e-9)
}

func TestMACDHistogramIdentity(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	res := MACD(values, 3, 6, 4)
	require.Len(t, res.MACD, len(values))
	for i := range values {
		assert.InDelta(t, res.MACD[i]-res.Signal[i], res.Histogram[i], 1e-9)
	}
	// A steady uptrend keeps the fast EMA above the slow EMA.
	assert.Greater(t, res.MACD[len(values)-1], 0.0)
}

func TestBollingerFlatSeriesCollapses(t *testing.T) {
	values := []float64{5, 5, 5, 5, 5}
	res := Bollinger(values, 3, 2)
	assert.InDelta(t, 5.0, res.Middle[4], 1e-9)
	assert.InDelta(t, 5.0, res.Upper[4], 1e-9)
	assert.InDelta(t, 5.0, res.Lower[4], 1e-9)
}

func TestBollingerBandsBracketMiddle(t *testing.T) {
	values := []float64{1, 2, 3, 2, 4, 3, 5}
	res := Bollinger(values, 5, 2)
	last := len(values) - 1
	assert.Greater(t, res.Upper[last], res.Middle[last])
	assert.Less(t, res.Lower[last], res.Middle[last])
}

func TestStochasticCloseAtHigh(t *testing.T) {
	// Close pinned to the range high yields raw %K of 100; with smoothK
	// and dPeriod of 1 the smoothed lines equal the raw value.
	bars := barsFrom([][4]float64{
		{10, 12, 9, 10},
		{10, 12, 9, 11},
		{11, 12, 9, 12},
	})
	res := Stochastic(bars, 3, 1, 1)
	assert.InDelta(t, 100.0, res.K[2], 1e-9)
	assert.InDelta(t, 100.0, res.D[2], 1e-9)
}

func TestStochasticZeroRangeLeavesNaN(t *testing.T) {
	bars := barsFrom([][4]float64{
		{10, 10, 10, 10},
		{10, 10, 10, 10},
		{10, 10, 10, 10},
	})
	res := Stochastic(bars, 3, 1, 1)
	assert.True(t, math.IsNaN(res.K[2]))
}

func TestROC(t *testing.T) {
	out := ROC([]float64{100, 110, 99}, 1)
	assert.True(t, math.IsNaN(out[0]))
	assert.InDelta(t, 0.10, out[1], 1e-9)
	assert.InDelta(t, -0.10, out[2], 1e-9)
}

func TestPercentileInterpolates(t *testing.T) {
	assert.InDelta(t, 2.5, Percentile([]float64{1, 2, 3, 4}, 50), 1e-9)
	assert.InDelta(t, 1.0, Percentile([]float64{1, 2, 3, 4}, 0), 1e-9)
	assert.InDelta(t, 4.0, Percentile([]float64{1, 2, 3, 4}, 100), 1e-9)
}

func TestPercentileIgnoresNaN(t *testing.T) {
	assert.InDelta(t, 2.0, Percentile([]float64{math.NaN(), 1, 3}, 50), 1e-9)
	assert.True(t, math.IsNaN(Percentile([]float64{math.NaN()}, 50)))
	assert.True(t, math.IsNaN(Percentile(nil, 50)))
}

func TestHighestHighLowestLow(t *testing.T) {
	bars := barsFrom([][4]float64{
		{10, 15, 8, 11},
		{11, 12, 9, 10},
		{10, 14, 7, 13},
	})
	assert.InDelta(t, 14.0, HighestHigh(bars, 2), 1e-9)
	assert.InDelta(t, 7.0, LowestLow(bars, 2), 1e-9)
	assert.InDelta(t, 15.0, HighestHigh(bars, 10), 1e-9)
}

func TestValidAndAt(t *testing.T) {
	values := []float64{math.NaN(), 1, 2}
	assert.False(t, Valid(values, 0))
	assert.True(t, Valid(values, 1))
	assert.False(t, Valid(values, 5))
	assert.False(t, Valid(values, -1))

	assert.InDelta(t, 2.0, At(values, 0), 1e-9)
	assert.InDelta(t, 1.0, At(values, 1), 1e-9)
	assert.True(t, math.IsNaN(At(values, 5)))
}
