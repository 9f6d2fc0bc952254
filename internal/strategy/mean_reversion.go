package strategy

import (
	"math"

	"multi-strategy-bot-go/internal/indicators"
	"multi-strategy-bot-go/internal/logger"
	"multi-strategy-bot-go/internal/models"
)

// MeanReversion fades moves that stretch too far from a short moving
// average: a close below the lower deviation band with a weak RSI buys,
// the mirror image sells. The target is simply the mean itself.
type MeanReversion struct {
	name       string
	maPeriod   int
	stdMult    float64
	rsiPeriod  int
	oversold   float64
	overbought float64
}

func NewMeanReversion(cfg models.StrategyConfig) *MeanReversion {
	return &MeanReversion{
		name:       cfg.Name,
		maPeriod:   int(cfg.Param("ma_period", 10)),
		stdMult:    cfg.Param("std_multiplier", 1.0),
		rsiPeriod:  int(cfg.Param("rsi_period", 7)),
		oversold:   cfg.Param("rsi_oversold", 40),
		overbought: cfg.Param("rsi_overbought", 60),
	}
}

func (s *MeanReversion) Name() string { return s.name }

func (s *MeanReversion) MinimumBars() int {
	return maxInt(30, s.maPeriod+1, s.rsiPeriod+1)
}

func (s *MeanReversion) Signal(window models.BarSeries) *models.Signal {
	closes := window.Closes()
	bands := indicators.Bollinger(closes, s.maPeriod, s.stdMult)
	rsi := indicators.At(indicators.RSI(closes, s.rsiPeriod), 0)

	cur := window.Last().Close
	lower := indicators.At(bands.Lower, 0)
	upper := indicators.At(bands.Upper, 0)
	if math.IsNaN(lower) || math.IsNaN(upper) || math.IsNaN(rsi) {
		return nil
	}

	if cur < lower && rsi < s.oversold {
		logger.S().Debugf("%s: close %.5f under band %.5f, RSI %.1f", s.name, cur, lower, rsi)
		return newSignal(s.name, models.Buy, window)
	}
	if cur > upper && rsi > s.overbought {
		logger.S().Debugf("%s: close %.5f over band %.5f, RSI %.1f", s.name, cur, upper, rsi)
		return newSignal(s.name, models.Sell, window)
	}
	return nil
}

// StopPrice sits just beyond the mean so a full reversion through it kills
// the idea.
func (s *MeanReversion) StopPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	ma := indicators.At(indicators.SMA(window.Closes(), s.maPeriod), 0)
	if math.IsNaN(ma) {
		return percentStop(entryPrice, side, 0.002)
	}
	if side == models.Buy {
		return ma * 0.998
	}
	return ma * 1.002
}

// TargetPrice is the mean itself.
func (s *MeanReversion) TargetPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	ma := indicators.At(indicators.SMA(window.Closes(), s.maPeriod), 0)
	if math.IsNaN(ma) {
		return percentTarget(entryPrice, side, 0.002)
	}
	return ma
}

// ShouldExit always defers to the stop and target attached at entry.
func (s *MeanReversion) ShouldExit(models.BarSeries, models.Position) bool {
	return false
}
