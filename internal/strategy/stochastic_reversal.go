package strategy

import (
	"math"

	"multi-strategy-bot-go/internal/indicators"
	"multi-strategy-bot-go/internal/logger"
	"multi-strategy-bot-go/internal/models"
)

// StochasticReversal trades %K/%D crossovers that happen inside the
// oversold or overbought zone. A 3-bar momentum check and an RSI guard
// filter out crosses against the immediate flow.
type StochasticReversal struct {
	name            string
	kPeriod         int
	dPeriod         int
	smoothK         int
	overbought      float64
	oversold        float64
	atrPeriod       int
	slMult          float64
	tpMult          float64
	momentumConfirm bool
	rsiFilter       bool
	rsiPeriod       int
	swingBars       int
}

func NewStochasticReversal(cfg models.StrategyConfig) *StochasticReversal {
	return &StochasticReversal{
		name:            cfg.Name,
		kPeriod:         int(cfg.Param("k_period", 14)),
		dPeriod:         int(cfg.Param("d_period", 3)),
		smoothK:         int(cfg.Param("smooth_k", 3)),
		overbought:      cfg.Param("overbought", 80),
		oversold:        cfg.Param("oversold", 20),
		atrPeriod:       int(cfg.Param("atr_period", 14)),
		slMult:          cfg.Param("stop_loss_atr_multiplier", 1.0),
		tpMult:          cfg.Param("take_profit_atr_multiplier", 2.0),
		momentumConfirm: cfg.Param("momentum_confirmation", 1) != 0,
		rsiFilter:       cfg.Param("rsi_filter", 1) != 0,
		rsiPeriod:       int(cfg.Param("rsi_period", 14)),
		swingBars:       int(cfg.Param("swing_lookback", 7)),
	}
}

func (s *StochasticReversal) Name() string { return s.name }

func (s *StochasticReversal) MinimumBars() int {
	return maxInt(50, s.kPeriod*2, s.atrPeriod*2)
}

func (s *StochasticReversal) Signal(window models.BarSeries) *models.Signal {
	stoch := indicators.Stochastic(window, s.kPeriod, s.smoothK, s.dPeriod)
	curK := indicators.At(stoch.K, 0)
	if math.IsNaN(curK) {
		return nil
	}

	if s.crossed(stoch, models.Buy) && curK < s.oversold && s.confirm(window, models.Buy) {
		logger.S().Debugf("%s: oversold %%K/%%D cross, K=%.1f", s.name, curK)
		return newSignal(s.name, models.Buy, window)
	}
	if s.crossed(stoch, models.Sell) && curK > s.overbought && s.confirm(window, models.Sell) {
		logger.S().Debugf("%s: overbought %%K/%%D cross, K=%.1f", s.name, curK)
		return newSignal(s.name, models.Sell, window)
	}
	return nil
}

func (s *StochasticReversal) crossed(stoch indicators.StochasticResult, side models.Side) bool {
	prevK, curK := indicators.At(stoch.K, 1), indicators.At(stoch.K, 0)
	prevD, curD := indicators.At(stoch.D, 1), indicators.At(stoch.D, 0)
	if side == models.Buy {
		return crossedAbove(prevK, prevD, curK, curD)
	}
	return crossedBelow(prevK, prevD, curK, curD)
}

func (s *StochasticReversal) confirm(window models.BarSeries, side models.Side) bool {
	if s.momentumConfirm && len(window) >= 3 {
		closes := window.Closes()
		cur, back2 := indicators.At(closes, 0), indicators.At(closes, 2)
		if side == models.Buy && cur <= back2 {
			return false
		}
		if side == models.Sell && cur >= back2 {
			return false
		}
	}
	if s.rsiFilter {
		rsi := indicators.At(indicators.RSI(window.Closes(), s.rsiPeriod), 0)
		if !math.IsNaN(rsi) {
			// Do not buy into an already-overbought market or sell into
			// an already-oversold one.
			if side == models.Buy && rsi >= 70 {
				return false
			}
			if side == models.Sell && rsi <= 30 {
				return false
			}
		}
	}
	return true
}

// StopPrice anchors at the recent swing plus a small ATR buffer, capped at
// slMult ATRs from entry.
func (s *StochasticReversal) StopPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	atr := indicators.At(indicators.ATR(window, s.atrPeriod), 0)
	if !usableATR(atr) {
		return percentStop(entryPrice, side, 0.0015)
	}
	if side == models.Buy {
		swing := indicators.LowestLow(window, s.swingBars)
		return math.Max(swing-atr*0.3, entryPrice-atr*s.slMult)
	}
	swing := indicators.HighestHigh(window, s.swingBars)
	return math.Min(swing+atr*0.3, entryPrice+atr*s.slMult)
}

func (s *StochasticReversal) TargetPrice(window models.BarSeries, side models.Side, entryPrice float64) float64 {
	atr := indicators.At(indicators.ATR(window, s.atrPeriod), 0)
	if !usableATR(atr) {
		return percentTarget(entryPrice, side, 0.003)
	}
	if side == models.Buy {
		return entryPrice + atr*s.tpMult
	}
	return entryPrice - atr*s.tpMult
}

// ShouldExit closes a long on an overbought cross-down and a short on an
// oversold cross-up.
func (s *StochasticReversal) ShouldExit(window models.BarSeries, pos models.Position) bool {
	if len(window) < s.MinimumBars() {
		return false
	}
	stoch := indicators.Stochastic(window, s.kPeriod, s.smoothK, s.dPeriod)
	curK := indicators.At(stoch.K, 0)
	if math.IsNaN(curK) {
		return false
	}
	if pos.Side == models.Buy && curK > s.overbought && s.crossed(stoch, models.Sell) {
		return true
	}
	if pos.Side == models.Sell && curK < s.oversold && s.crossed(stoch, models.Buy) {
		return true
	}
	return false
}
