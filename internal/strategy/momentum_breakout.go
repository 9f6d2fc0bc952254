package strategy

import (
	"math"

	"multi-strategy-bot-go/internal/indicators"
	"multi-strategy-bot-go/internal/logger"
	"multi-strategy-bot-go/internal/models"
)

// MomentumBreakout fires on raw price acceleration: the fractional change
// over a short period must clear a threshold, and the move must also be
// significant relative to current volatility so quiet drifts do not count.
type MomentumBreakout struct {
	name             string
	momentumPeriod   int
	volatilityPeriod int
	threshold        float64 // configured in percent
	atrPeriod        int
}

func NewMomentumBreakout(cfg models.StrategyConfig) *MomentumBreakout {
	return &MomentumBreakout{
		name:             cfg.Name,
		momentumPeriod:   int(cfg.Param("momentum_period", 5)),
		volatilityPeriod: int(cfg.Param("volatility_period", 10)),
		threshold:        cfg.Param("breakout_threshold", 0.5),
		atrPeriod:        int(cfg.Param("atr_period", 10)),
	}
}

func (s *MomentumBreakout) Name() string { return s.name }

func (s *MomentumBreakout) MinimumBars() int {
	return maxInt(20, s.momentumPeriod+1, s.volatilityPeriod+1)
}

func (s *MomentumBreakout) Signal(window models.BarSeries) *models.Signal {
	closes := window.Closes()
	momentum := indicators.At(indicators.ROC(closes, s.momentumPeriod), 0)
	if math.IsNaN(momentum) {
		return nil
	}

	threshold := s.threshold / 100
	volatility := indicators.At(indicators.ATR(window, s.volatilityPeriod), 0)
	cur := window.Last().Close

	// Normalize the move by volatility so a fixed threshold behaves the
	// same across regimes.
	normalized := math.Abs(momentum)
	if usableATR(volatility) && cur > 0 {
		normalized = math.Abs(momentum) / (volatility / cur)
	}
	if normalized <= 0.1 {
		return nil
	}

	if momentum > threshold {
		logger.S().Debugf("%s: upward momentum %.5f", s.name, momentum)
		return newSignal(s.name, models.Buy, window)
	}
	if momentum < -threshold {
		logger.S().Debugf("%s: downward momentum %.5f", s.name, momentum)
		return newSignal(s.name, models.Sell, window)
	}
	return nil
}

func (s *MomentumBreakout) StopPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	atr := indicators.At(indicators.ATR(window, s.atrPeriod), 0)
	if !usableATR(atr) {
		return percentStop(entryPrice, side, 0.0005)
	}
	if side == models.Buy {
		return entryPrice - atr
	}
	return entryPrice + atr
}

func (s *MomentumBreakout) TargetPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	atr := indicators.At(indicators.ATR(window, s.atrPeriod), 0)
	if !usableATR(atr) {
		return percentTarget(entryPrice, side, 0.001)
	}
	if side == models.Buy {
		return entryPrice + atr*2
	}
	return entryPrice - atr*2
}

// ShouldExit always defers to the stop and target attached at entry.
func (s *MomentumBreakout) ShouldExit(models.BarSeries, models.Position) bool {
	return false
}
