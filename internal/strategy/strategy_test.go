package strategy

import (
	"testing"
	"time"

	"multi-strategy-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var barStart = time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

// seriesFromCloses builds hourly bars around the given closes with a fixed
// half-range so volatility filters see a live market.
func seriesFromCloses(closes []float64, halfRange float64) models.BarSeries {
	bars := make(models.BarSeries, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{
			Time:   barStart.Add(time.Duration(i) * time.Hour),
			Open:   c,
			High:   c + halfRange,
			Low:    c - halfRange,
			Close:  c,
			Volume: 100,
		}
	}
	return bars
}

func TestRegistryBuildsEveryVariant(t *testing.T) {
	names := []string{
		"ema_crossover", "macd_cross", "rsi_divergence", "bollinger_squeeze",
		"stochastic_reversal", "momentum_breakout", "mean_reversion",
	}
	for _, name := range names {
		s, err := New(models.StrategyConfig{Name: name})
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name())
		assert.Greater(t, s.MinimumBars(), 0, name)
	}

	_, err := New(models.StrategyConfig{Name: "martingale"})
	assert.Error(t, err)
}

func TestEMACrossoverBuysOnUpwardCross(t *testing.T) {
	// A long slow decline keeps the close under its EMA; the final bar
	// spikes through it.
	closes := make([]float64, 60)
	for i := 0; i < 59; i++ {
		closes[i] = 105 - float64(i)*0.08
	}
	closes[59] = 110
	bars := seriesFromCloses(closes, 0.5)

	s := NewEMACrossover(models.StrategyConfig{Name: "ema_crossover"})

	sig := s.Signal(bars[:59])
	assert.Nil(t, sig, "no cross before the spike bar")

	sig = s.Signal(bars)
	require.NotNil(t, sig)
	assert.Equal(t, models.Buy, sig.Side)
	assert.Equal(t, "ema_crossover", sig.Strategy)
	assert.Equal(t, bars.Last().Time, sig.Time)
}

func TestEMACrossoverSellsOnDownwardCross(t *testing.T) {
	closes := make([]float64, 60)
	for i := 0; i < 59; i++ {
		closes[i] = 95 + float64(i)*0.08
	}
	closes[59] = 90
	bars := seriesFromCloses(closes, 0.5)

	s := NewEMACrossover(models.StrategyConfig{Name: "ema_crossover"})
	sig := s.Signal(bars)
	require.NotNil(t, sig)
	assert.Equal(t, models.Sell, sig.Side)
}

func TestEMACrossoverStopsAndTargetsBracketEntry(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i%2)
	}
	bars := seriesFromCloses(closes, 0.5)
	s := NewEMACrossover(models.StrategyConfig{Name: "ema_crossover"})

	entry := 100.0
	assert.Less(t, s.StopPrice(bars, models.Buy, entry), entry)
	assert.Greater(t, s.TargetPrice(bars, models.Buy, entry), entry)
	assert.Greater(t, s.StopPrice(bars, models.Sell, entry), entry)
	assert.Less(t, s.TargetPrice(bars, models.Sell, entry), entry)
}

func TestEMACrossoverFallbackStopsWhenVolatilityDies(t *testing.T) {
	// Zero-range, flat-close bars drive the ATR to zero.
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}
	bars := seriesFromCloses(closes, 0)
	s := NewEMACrossover(models.StrategyConfig{Name: "ema_crossover"})

	assert.InDelta(t, 100*0.999, s.StopPrice(bars, models.Buy, 100), 1e-9)
	assert.InDelta(t, 100*1.002, s.TargetPrice(bars, models.Buy, 100), 1e-9)
}

func TestEMACrossoverExitOnRecross(t *testing.T) {
	closes := make([]float64, 60)
	for i := 0; i < 59; i++ {
		closes[i] = 100 + float64(i)*0.05
	}
	closes[59] = 95 // well under the EMA
	bars := seriesFromCloses(closes, 0.5)
	s := NewEMACrossover(models.StrategyConfig{Name: "ema_crossover"})

	assert.True(t, s.ShouldExit(bars, models.Position{Side: models.Buy}))
	assert.False(t, s.ShouldExit(bars, models.Position{Side: models.Sell}))
	assert.False(t, s.ShouldExit(bars[:10], models.Position{Side: models.Buy}), "short window never exits")
}

// squeezeBars builds the contraction-then-breakout shape: a wide regime,
// a tight regime, then a single strong expansion candle on heavy volume.
func squeezeBars() models.BarSeries {
	closes := make([]float64, 100)
	for i := 0; i < 70; i++ {
		if i%2 == 0 {
			closes[i] = 95
		} else {
			closes[i] = 105
		}
	}
	for i := 70; i < 99; i++ {
		if i%2 == 0 {
			closes[i] = 99.95
		} else {
			closes[i] = 100.05
		}
	}
	closes[99] = 101
	bars := seriesFromCloses(closes, 0.05)
	last := &bars[99]
	last.Open = 100.2
	last.High = 101.2
	last.Low = 100.1
	last.Volume = 300
	return bars
}

func TestBollingerSqueezeBreakoutBuy(t *testing.T) {
	bars := squeezeBars()
	s := NewBollingerSqueeze(models.StrategyConfig{Name: "bollinger_squeeze"})

	sig := s.Signal(bars[:99])
	assert.Nil(t, sig, "tight regime alone must not fire")

	sig = s.Signal(bars)
	require.NotNil(t, sig)
	assert.Equal(t, models.Buy, sig.Side)
	assert.Equal(t, "bollinger_squeeze", sig.Strategy)
}

func TestBollingerSqueezeRejectsWeakCandle(t *testing.T) {
	bars := squeezeBars()
	// Same breakout close but with a long upper/lower wick so the body is
	// a small fraction of the range.
	last := &bars[99]
	last.Open = 100.95
	last.High = 102.0
	last.Low = 100.0

	s := NewBollingerSqueeze(models.StrategyConfig{Name: "bollinger_squeeze"})
	assert.Nil(t, s.Signal(bars))
}

func TestBollingerSqueezeRejectsLowVolume(t *testing.T) {
	bars := squeezeBars()
	bars[99].Volume = 100

	s := NewBollingerSqueeze(models.StrategyConfig{Name: "bollinger_squeeze"})
	assert.Nil(t, s.Signal(bars))
}

type alwaysSignal struct {
	side models.Side
}

func (a *alwaysSignal) Name() string     { return "always" }
func (a *alwaysSignal) MinimumBars() int { return 1 }
func (a *alwaysSignal) Signal(window models.BarSeries) *models.Signal {
	return newSignal("always", a.side, window)
}
func (a *alwaysSignal) StopPrice(_ models.BarSeries, side models.Side, entry float64) float64 {
	return percentStop(entry, side, 0.001)
}
func (a *alwaysSignal) TargetPrice(_ models.BarSeries, side models.Side, entry float64) float64 {
	return percentTarget(entry, side, 0.002)
}
func (a *alwaysSignal) ShouldExit(models.BarSeries, models.Position) bool { return false }

func TestInstanceCooldownSuppressesRepeats(t *testing.T) {
	in := &Instance{
		Strategy: &alwaysSignal{side: models.Buy},
		Config:   models.StrategyConfig{Name: "always", CooldownSec: 7200},
	}
	closes := []float64{100, 101, 102, 103}
	bars := seriesFromCloses(closes, 0.5)

	require.NotNil(t, in.Evaluate(bars[:2]))
	assert.Nil(t, in.Evaluate(bars[:2]), "same bar is inside the cooldown")
	assert.Nil(t, in.Evaluate(bars[:3]), "one hour later is still inside")

	// Two hours after the first signal the cooldown has elapsed.
	require.NotNil(t, in.Evaluate(bars))
}

func TestInstanceCooldownResets(t *testing.T) {
	in := &Instance{
		Strategy: &alwaysSignal{side: models.Sell},
		Config:   models.StrategyConfig{Name: "always", CooldownSec: 3600},
	}
	bars := seriesFromCloses([]float64{100, 101}, 0.5)

	require.NotNil(t, in.Evaluate(bars))
	assert.Nil(t, in.Evaluate(bars))
	in.State.Reset()
	require.NotNil(t, in.Evaluate(bars))
}

func TestInstanceShortWindowYieldsNothing(t *testing.T) {
	in, err := NewInstance(models.StrategyConfig{Name: "ema_crossover"})
	require.NoError(t, err)
	bars := seriesFromCloses([]float64{100, 101, 102}, 0.5)
	assert.Nil(t, in.Evaluate(bars))
	assert.True(t, in.State.LastSignalTime.IsZero())
}
