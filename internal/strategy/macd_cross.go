package strategy

import (
	"math"

	"multi-strategy-bot-go/internal/indicators"
	"multi-strategy-bot-go/internal/logger"
	"multi-strategy-bot-go/internal/models"
)

// MACDCross trades the MACD line crossing its signal line. A zero-line
// filter prefers buys that start below zero and sells above it, the
// histogram slope must agree with the cross, and an optional long EMA keeps
// entries aligned with the broader trend.
type MACDCross struct {
	name         string
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
	atrPeriod    int
	slMult       float64
	tpMult       float64
	zeroFilter   bool
	histConfirm  bool
	trendFilter  bool
	trendEMA     int
	swingBars    int
}

func NewMACDCross(cfg models.StrategyConfig) *MACDCross {
	return &MACDCross{
		name:         cfg.Name,
		fastPeriod:   int(cfg.Param("fast_period", 12)),
		slowPeriod:   int(cfg.Param("slow_period", 26)),
		signalPeriod: int(cfg.Param("signal_period", 9)),
		atrPeriod:    int(cfg.Param("atr_period", 14)),
		slMult:       cfg.Param("stop_loss_atr_multiplier", 1.2),
		tpMult:       cfg.Param("take_profit_atr_multiplier", 2.4),
		zeroFilter:   cfg.Param("zero_line_filter", 1) != 0,
		histConfirm:  cfg.Param("histogram_confirmation", 1) != 0,
		trendFilter:  cfg.Param("trend_filter", 1) != 0,
		trendEMA:     int(cfg.Param("trend_ema_period", 50)),
		swingBars:    int(cfg.Param("swing_lookback", 10)),
	}
}

func (s *MACDCross) Name() string { return s.name }

func (s *MACDCross) MinimumBars() int {
	return maxInt(100, s.slowPeriod*2, s.trendEMA)
}

func (s *MACDCross) Signal(window models.BarSeries) *models.Signal {
	closes := window.Closes()
	macd := indicators.MACD(closes, s.fastPeriod, s.slowPeriod, s.signalPeriod)

	prevM, curM := indicators.At(macd.MACD, 1), indicators.At(macd.MACD, 0)
	prevSig, curSig := indicators.At(macd.Signal, 1), indicators.At(macd.Signal, 0)

	if crossedAbove(prevM, prevSig, curM, curSig) && s.confirm(window, macd, models.Buy) {
		logger.S().Debugf("%s: MACD %.5f crossed above signal %.5f", s.name, curM, curSig)
		return newSignal(s.name, models.Buy, window)
	}
	if crossedBelow(prevM, prevSig, curM, curSig) && s.confirm(window, macd, models.Sell) {
		logger.S().Debugf("%s: MACD %.5f crossed below signal %.5f", s.name, curM, curSig)
		return newSignal(s.name, models.Sell, window)
	}
	return nil
}

func (s *MACDCross) confirm(window models.BarSeries, macd indicators.MACDResult, side models.Side) bool {
	curM := indicators.At(macd.MACD, 0)
	if s.zeroFilter {
		// Crosses close to the zero line mark fresh momentum; far-side
		// crosses are late entries.
		if side == models.Buy && curM > 0 {
			return false
		}
		if side == models.Sell && curM < 0 {
			return false
		}
	}
	if s.histConfirm {
		prevH, curH := indicators.At(macd.Histogram, 1), indicators.At(macd.Histogram, 0)
		if math.IsNaN(prevH) || math.IsNaN(curH) {
			return false
		}
		if side == models.Buy && curH <= prevH {
			return false
		}
		if side == models.Sell && curH >= prevH {
			return false
		}
	}
	if s.trendFilter {
		trend := indicators.At(indicators.EMA(window.Closes(), s.trendEMA), 0)
		cur := window.Last().Close
		if side == models.Buy && cur < trend {
			return false
		}
		if side == models.Sell && cur > trend {
			return false
		}
	}
	return true
}

// StopPrice anchors the stop at the recent swing, buffered by half an ATR,
// but never further from entry than slMult ATRs.
func (s *MACDCross) StopPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	atr := indicators.At(indicators.ATR(window, s.atrPeriod), 0)
	if !usableATR(atr) {
		return percentStop(entryPrice, side, 0.002)
	}
	if side == models.Buy {
		swing := indicators.LowestLow(window, s.swingBars)
		return math.Max(swing-atr*0.5, entryPrice-atr*s.slMult)
	}
	swing := indicators.HighestHigh(window, s.swingBars)
	return math.Min(swing+atr*0.5, entryPrice+atr*s.slMult)
}

func (s *MACDCross) TargetPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	atr := indicators.At(indicators.ATR(window, s.atrPeriod), 0)
	if !usableATR(atr) {
		return percentTarget(entryPrice, side, 0.004)
	}
	if side == models.Buy {
		return entryPrice + atr*s.tpMult
	}
	return entryPrice - atr*s.tpMult
}

// ShouldExit closes on the reverse MACD cross.
func (s *MACDCross) ShouldExit(window models.BarSeries, pos models.Position) bool {
	if len(window) < s.MinimumBars() {
		return false
	}
	macd := indicators.MACD(window.Closes(), s.fastPeriod, s.slowPeriod, s.signalPeriod)
	prevM, curM := indicators.At(macd.MACD, 1), indicators.At(macd.MACD, 0)
	prevSig, curSig := indicators.At(macd.Signal, 1), indicators.At(macd.Signal, 0)

	if pos.Side == models.Buy {
		return crossedBelow(prevM, prevSig, curM, curSig)
	}
	return crossedAbove(prevM, prevSig, curM, curSig)
}
