package strategy

import (
	"math"

	"multi-strategy-bot-go/internal/indicators"
	"multi-strategy-bot-go/internal/logger"
	"multi-strategy-bot-go/internal/models"
)

// RSIDivergence hunts reversals where price prints a fresh extreme that the
// oscillator refuses to confirm: a lower low in price with a higher low in
// RSI buys, a higher high in price with a lower high in RSI sells. The
// divergence must clear a minimum RSI magnitude and sit near the
// oversold/overbought zone, with optional volume confirmation.
type RSIDivergence struct {
	name          string
	rsiPeriod     int
	lookback      int
	overbought    float64
	oversold      float64
	minStrength   float64
	atrPeriod     int
	slMult        float64
	tpMult        float64
	volumeConfirm bool
	swingBars     int
}

func NewRSIDivergence(cfg models.StrategyConfig) *RSIDivergence {
	return &RSIDivergence{
		name:          cfg.Name,
		rsiPeriod:     int(cfg.Param("rsi_period", 14)),
		lookback:      int(cfg.Param("lookback_candles", 10)),
		overbought:    cfg.Param("rsi_overbought", 70),
		oversold:      cfg.Param("rsi_oversold", 30),
		minStrength:   cfg.Param("min_divergence_strength", 5),
		atrPeriod:     int(cfg.Param("atr_period", 14)),
		slMult:        cfg.Param("stop_loss_atr_multiplier", 1.0),
		tpMult:        cfg.Param("take_profit_atr_multiplier", 2.0),
		volumeConfirm: cfg.Param("volume_confirmation", 1) != 0,
		swingBars:     int(cfg.Param("swing_lookback", 10)),
	}
}

func (s *RSIDivergence) Name() string { return s.name }

func (s *RSIDivergence) MinimumBars() int {
	return maxInt(100, s.rsiPeriod*3, s.lookback*2)
}

func (s *RSIDivergence) Signal(window models.BarSeries) *models.Signal {
	rsi := indicators.RSI(window.Closes(), s.rsiPeriod)

	if s.bullishDivergence(window, rsi) {
		logger.S().Debugf("%s: bullish divergence detected", s.name)
		return newSignal(s.name, models.Buy, window)
	}
	if s.bearishDivergence(window, rsi) {
		logger.S().Debugf("%s: bearish divergence detected", s.name)
		return newSignal(s.name, models.Sell, window)
	}
	return nil
}

// bullishDivergence looks for a lower low in price against a higher low in
// RSI inside the lookback window.
func (s *RSIDivergence) bullishDivergence(window models.BarSeries, rsi []float64) bool {
	if len(window) < s.lookback+5 {
		return false
	}
	start := len(window) - s.lookback - 1

	// Locate the lowest low in the lookback span.
	curIdx := start
	for i := start; i < len(window); i++ {
		if window[i].Low < window[curIdx].Low {
			curIdx = i
		}
	}
	// Then the lowest low strictly before it.
	if curIdx-start < 3 {
		return false
	}
	prevIdx := start
	for i := start; i < curIdx; i++ {
		if window[i].Low < window[prevIdx].Low {
			prevIdx = i
		}
	}

	curRSI, prevRSI := rsi[curIdx], rsi[prevIdx]
	if math.IsNaN(curRSI) || math.IsNaN(prevRSI) {
		return false
	}

	priceLowerLow := window[curIdx].Low < window[prevIdx].Low
	rsiHigherLow := curRSI > prevRSI
	strongEnough := curRSI-prevRSI >= s.minStrength
	nearOversold := curRSI < s.oversold+10

	if !(priceLowerLow && rsiHigherLow && strongEnough && nearOversold) {
		return false
	}
	return !s.volumeConfirm || volumeAbove(window, 10, 1.2)
}

// bearishDivergence mirrors bullishDivergence on the high side.
func (s *RSIDivergence) bearishDivergence(window models.BarSeries, rsi []float64) bool {
	if len(window) < s.lookback+5 {
		return false
	}
	start := len(window) - s.lookback - 1

	curIdx := start
	for i := start; i < len(window); i++ {
		if window[i].High > window[curIdx].High {
			curIdx = i
		}
	}
	if curIdx-start < 3 {
		return false
	}
	prevIdx := start
	for i := start; i < curIdx; i++ {
		if window[i].High > window[prevIdx].High {
			prevIdx = i
		}
	}

	curRSI, prevRSI := rsi[curIdx], rsi[prevIdx]
	if math.IsNaN(curRSI) || math.IsNaN(prevRSI) {
		return false
	}

	priceHigherHigh := window[curIdx].High > window[prevIdx].High
	rsiLowerHigh := curRSI < prevRSI
	strongEnough := prevRSI-curRSI >= s.minStrength
	nearOverbought := curRSI > s.overbought-10

	if !(priceHigherHigh && rsiLowerHigh && strongEnough && nearOverbought) {
		return false
	}
	return !s.volumeConfirm || volumeAbove(window, 10, 1.2)
}

// StopPrice prefers the recent swing buffered by half an ATR, but never
// risks more than slMult ATRs from entry.
func (s *RSIDivergence) StopPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	atr := indicators.At(indicators.ATR(window, s.atrPeriod), 0)
	if !usableATR(atr) {
		return percentStop(entryPrice, side, 0.0015)
	}
	if side == models.Buy {
		swing := indicators.LowestLow(window, s.swingBars)
		return math.Max(swing-atr*0.5, entryPrice-atr*s.slMult)
	}
	swing := indicators.HighestHigh(window, s.swingBars)
	return math.Min(swing+atr*0.5, entryPrice+atr*s.slMult)
}

func (s *RSIDivergence) TargetPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	atr := indicators.At(indicators.ATR(window, s.atrPeriod), 0)
	if !usableATR(atr) {
		return percentTarget(entryPrice, side, 0.003)
	}
	if side == models.Buy {
		return entryPrice + atr*s.tpMult
	}
	return entryPrice - atr*s.tpMult
}

// ShouldExit closes a long once RSI reaches overbought and a short once it
// reaches oversold.
func (s *RSIDivergence) ShouldExit(window models.BarSeries, pos models.Position) bool {
	if len(window) < s.MinimumBars() {
		return false
	}
	cur := indicators.At(indicators.RSI(window.Closes(), s.rsiPeriod), 0)
	if math.IsNaN(cur) {
		return false
	}
	if pos.Side == models.Buy && cur >= s.overbought {
		return true
	}
	if pos.Side == models.Sell && cur <= s.oversold {
		return true
	}
	return false
}
