package strategy

import (
	"math"

	"multi-strategy-bot-go/internal/indicators"
	"multi-strategy-bot-go/internal/logger"
	"multi-strategy-bot-go/internal/models"
)

// BollingerSqueeze trades the transition from contraction to expansion.
// The band width, normalized by the middle band, is compared against its
// own trailing distribution; once it sits at or below a low percentile the
// market is "squeezed", and the first close outside a band fires a signal —
// provided the breakout candle has a convincing body, volume expands, and
// the move lines up with a longer trend average.
type BollingerSqueeze struct {
	name            string
	bbPeriod        int
	bbStd           float64
	squeezeLookback int
	squeezePctile   float64
	atrPeriod       int
	volumeMult      float64
	slMult          float64
	tpMult          float64
	trendFilter     bool
	trendMA         int
}

func NewBollingerSqueeze(cfg models.StrategyConfig) *BollingerSqueeze {
	return &BollingerSqueeze{
		name:            cfg.Name,
		bbPeriod:        int(cfg.Param("bb_period", 20)),
		bbStd:           cfg.Param("bb_std", 2.0),
		squeezeLookback: int(cfg.Param("squeeze_lookback", 50)),
		squeezePctile:   cfg.Param("squeeze_percentile", 20),
		atrPeriod:       int(cfg.Param("atr_period", 14)),
		volumeMult:      cfg.Param("volume_threshold", 1.5),
		slMult:          cfg.Param("stop_loss_atr_multiplier", 1.0),
		tpMult:          cfg.Param("take_profit_atr_multiplier", 2.5),
		trendFilter:     cfg.Param("trend_filter", 1) != 0,
		trendMA:         int(cfg.Param("trend_ma_period", 50)),
	}
}

func (s *BollingerSqueeze) Name() string { return s.name }

func (s *BollingerSqueeze) MinimumBars() int {
	return maxInt(100, s.bbPeriod*2, s.squeezeLookback)
}

func (s *BollingerSqueeze) Signal(window models.BarSeries) *models.Signal {
	closes := window.Closes()
	bands := indicators.Bollinger(closes, s.bbPeriod, s.bbStd)

	if !s.squeezed(bands) {
		return nil
	}

	prevClose, curClose := indicators.At(closes, 1), indicators.At(closes, 0)
	prevUpper, curUpper := indicators.At(bands.Upper, 1), indicators.At(bands.Upper, 0)
	prevLower, curLower := indicators.At(bands.Lower, 1), indicators.At(bands.Lower, 0)

	if crossedAbove(prevClose, prevUpper, curClose, curUpper) && s.confirmBreakout(window, models.Buy) {
		logger.S().Debugf("%s: squeeze breakout above upper band at %.5f", s.name, curClose)
		return newSignal(s.name, models.Buy, window)
	}
	if crossedBelow(prevClose, prevLower, curClose, curLower) && s.confirmBreakout(window, models.Sell) {
		logger.S().Debugf("%s: squeeze breakout below lower band at %.5f", s.name, curClose)
		return newSignal(s.name, models.Sell, window)
	}
	return nil
}

// squeezed compares the current normalized band width against the
// configured percentile of its own trailing distribution.
func (s *BollingerSqueeze) squeezed(bands indicators.BollingerResult) bool {
	n := len(bands.Middle)
	if n < s.squeezeLookback {
		return false
	}
	widthPct := make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(bands.Middle[i]) || bands.Middle[i] == 0 {
			widthPct[i] = math.NaN()
			continue
		}
		widthPct[i] = (bands.Upper[i] - bands.Lower[i]) / bands.Middle[i] * 100
	}
	cur := widthPct[n-1]
	if math.IsNaN(cur) {
		return false
	}
	history := widthPct[n-s.squeezeLookback : n-1]
	threshold := indicators.Percentile(history, s.squeezePctile)
	return !math.IsNaN(threshold) && cur <= threshold
}

// confirmBreakout applies the candle-strength, volume and trend filters.
func (s *BollingerSqueeze) confirmBreakout(window models.BarSeries, side models.Side) bool {
	last := window.Last()

	// The breakout candle must commit: body at least half its range, in
	// the breakout direction.
	if bodyRatio(last) < 0.5 {
		return false
	}
	if side == models.Buy && last.Close <= last.Open {
		return false
	}
	if side == models.Sell && last.Close >= last.Open {
		return false
	}

	if !volumeAbove(window, 20, s.volumeMult) {
		return false
	}

	if s.trendFilter {
		trend := indicators.At(indicators.SMA(window.Closes(), s.trendMA), 0)
		if math.IsNaN(trend) {
			return false
		}
		if side == models.Buy && last.Close <= trend {
			return false
		}
		if side == models.Sell && last.Close >= trend {
			return false
		}
	}
	return true
}

// StopPrice sits between the middle band and an ATR distance from entry,
// taking the tighter of the two.
func (s *BollingerSqueeze) StopPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	atr := indicators.At(indicators.ATR(window, s.atrPeriod), 0)
	if !usableATR(atr) {
		return percentStop(entryPrice, side, 0.002)
	}
	middle := indicators.At(indicators.SMA(window.Closes(), s.bbPeriod), 0)
	if side == models.Buy {
		return math.Max(middle-atr*0.5, entryPrice-atr*s.slMult)
	}
	return math.Min(middle+atr*0.5, entryPrice+atr*s.slMult)
}

func (s *BollingerSqueeze) TargetPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	atr := indicators.At(indicators.ATR(window, s.atrPeriod), 0)
	if !usableATR(atr) {
		return percentTarget(entryPrice, side, 0.004)
	}
	if side == models.Buy {
		return entryPrice + atr*s.tpMult
	}
	return entryPrice - atr*s.tpMult
}

// ShouldExit closes once price reverts to the middle band.
func (s *BollingerSqueeze) ShouldExit(window models.BarSeries, pos models.Position) bool {
	if len(window) < s.MinimumBars() {
		return false
	}
	middle := indicators.At(indicators.SMA(window.Closes(), s.bbPeriod), 0)
	if math.IsNaN(middle) {
		return false
	}
	cur := window.Last().Close
	if pos.Side == models.Buy && cur <= middle {
		return true
	}
	if pos.Side == models.Sell && cur >= middle {
		return true
	}
	return false
}
