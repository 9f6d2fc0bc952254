package strategy

import (
	"multi-strategy-bot-go/internal/indicators"
	"multi-strategy-bot-go/internal/logger"
	"multi-strategy-bot-go/internal/models"
)

// EMACrossover fires when the close crosses its exponential moving average:
// a close moving from at-or-below to above the EMA buys, the inverse sells.
// A minimum-ATR filter drops signals in dead markets. Suited to trending
// conditions on short timeframes.
type EMACrossover struct {
	name      string
	emaPeriod int
	atrPeriod int
	slMult    float64
	tpMult    float64
	minATR    float64
}

func NewEMACrossover(cfg models.StrategyConfig) *EMACrossover {
	return &EMACrossover{
		name:      cfg.Name,
		emaPeriod: int(cfg.Param("ema_period", 5)),
		atrPeriod: int(cfg.Param("atr_period", 14)),
		slMult:    cfg.Param("stop_loss_atr_multiplier", 1.5),
		tpMult:    cfg.Param("take_profit_atr_multiplier", 2.5),
		minATR:    cfg.Param("min_atr_filter", 0.0001),
	}
}

func (s *EMACrossover) Name() string { return s.name }

func (s *EMACrossover) MinimumBars() int {
	return maxInt(50, s.emaPeriod*3, s.atrPeriod*2)
}

func (s *EMACrossover) Signal(window models.BarSeries) *models.Signal {
	closes := window.Closes()
	ema := indicators.EMA(closes, s.emaPeriod)
	atr := indicators.ATR(window, s.atrPeriod)

	curATR := indicators.At(atr, 0)
	if !usableATR(curATR) || curATR < s.minATR {
		return nil
	}

	prevClose, curClose := indicators.At(closes, 1), indicators.At(closes, 0)
	prevEMA, curEMA := indicators.At(ema, 1), indicators.At(ema, 0)

	if crossedAbove(prevClose, prevEMA, curClose, curEMA) {
		logger.S().Debugf("%s: close %.5f crossed above EMA %.5f", s.name, curClose, curEMA)
		return newSignal(s.name, models.Buy, window)
	}
	if crossedBelow(prevClose, prevEMA, curClose, curEMA) {
		logger.S().Debugf("%s: close %.5f crossed below EMA %.5f", s.name, curClose, curEMA)
		return newSignal(s.name, models.Sell, window)
	}
	return nil
}

func (s *EMACrossover) StopPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	atr := indicators.At(indicators.ATR(window, s.atrPeriod), 0)
	if !usableATR(atr) {
		return percentStop(entryPrice, side, 0.001)
	}
	if side == models.Buy {
		return entryPrice - atr*s.slMult
	}
	return entryPrice + atr*s.slMult
}

func (s *EMACrossover) TargetPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	atr := indicators.At(indicators.ATR(window, s.atrPeriod), 0)
	if !usableATR(atr) {
		return percentTarget(entryPrice, side, 0.002)
	}
	if side == models.Buy {
		return entryPrice + atr*s.tpMult
	}
	return entryPrice - atr*s.tpMult
}

// ShouldExit closes the position when price recrosses the EMA against it.
func (s *EMACrossover) ShouldExit(window models.BarSeries, pos models.Position) bool {
	if len(window) < s.MinimumBars() {
		return false
	}
	ema := indicators.At(indicators.EMA(window.Closes(), s.emaPeriod), 0)
	cur := window.Last().Close
	if pos.Side == models.Buy && cur < ema {
		return true
	}
	if pos.Side == models.Sell && cur > ema {
		return true
	}
	return false
}
