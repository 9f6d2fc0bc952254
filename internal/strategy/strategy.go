// Package strategy contains the trading ideas the engine scans every tick.
// Each variant is a pure evaluation of the current bar window; the only
// mutable state is the per-instance cooldown clock, which lives in an
// explicit State struct owned by the caller so it stays testable and
// resettable.
package strategy

import (
	"fmt"
	"math"
	"time"

	"multi-strategy-bot-go/internal/models"
)

// Strategy is the contract every trading idea implements. Implementations
// must be safe to call repeatedly on overlapping windows; a window shorter
// than MinimumBars yields no signal rather than an error.
type Strategy interface {
	// Name returns the strategy identifier used as the order owner tag.
	Name() string

	// MinimumBars returns the smallest window the variant can evaluate.
	MinimumBars() int

	// Signal derives a directional signal from the window, or nil when
	// there is nothing to do on this tick.
	Signal(window models.BarSeries) *models.Signal

	// StopPrice computes the protective stop for a prospective entry.
	StopPrice(window models.BarSeries, side models.Side, entryPrice float64) float64

	// TargetPrice computes the profit target for a prospective entry.
	TargetPrice(window models.BarSeries, side models.Side, entryPrice float64) float64

	// ShouldExit reports whether an open position owned by this strategy
	// should be closed on the current window.
	ShouldExit(window models.BarSeries, pos models.Position) bool
}

// State carries the mutable per-instance bookkeeping between ticks. The
// scheduler owns it; variants themselves stay stateless.
type State struct {
	LastSignalTime time.Time
}

// Coolingdown reports whether a signal at time t falls inside the cooldown
// window opened by the last accepted signal.
func (s *State) Coolingdown(t time.Time, cooldown time.Duration) bool {
	if s.LastSignalTime.IsZero() || cooldown <= 0 {
		return false
	}
	return t.Sub(s.LastSignalTime) < cooldown
}

// MarkSignal records an accepted signal, restarting the cooldown clock.
func (s *State) MarkSignal(t time.Time) {
	s.LastSignalTime = t
}

// Reset clears the cooldown clock.
func (s *State) Reset() {
	s.LastSignalTime = time.Time{}
}

// Instance couples a strategy variant with its immutable configuration and
// mutable state. The engine iterates instances in priority order.
type Instance struct {
	Strategy Strategy
	Config   models.StrategyConfig
	State    State
}

// Evaluate runs the variant against the window and applies the cooldown:
// a signal inside the cooldown window is suppressed, an accepted signal
// restarts the clock. The reference time is the latest bar's timestamp so
// backtests behave identically to live runs.
func (in *Instance) Evaluate(window models.BarSeries) *models.Signal {
	if len(window) < in.Strategy.MinimumBars() {
		return nil
	}
	sig := in.Strategy.Signal(window)
	if sig == nil {
		return nil
	}
	cooldown := time.Duration(in.Config.CooldownSec) * time.Second
	if in.State.Coolingdown(sig.Time, cooldown) {
		return nil
	}
	in.State.MarkSignal(sig.Time)
	return sig
}

// NewInstance builds a ready-to-schedule instance from a strategy config.
func NewInstance(cfg models.StrategyConfig) (*Instance, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Instance{Strategy: s, Config: cfg}, nil
}

// New constructs the variant named by the config. The name doubles as the
// owner tag on submitted orders.
func New(cfg models.StrategyConfig) (Strategy, error) {
	switch cfg.Name {
	case "ema_crossover":
		return NewEMACrossover(cfg), nil
	case "macd_cross":
		return NewMACDCross(cfg), nil
	case "rsi_divergence":
		return NewRSIDivergence(cfg), nil
	case "bollinger_squeeze":
		return NewBollingerSqueeze(cfg), nil
	case "stochastic_reversal":
		return NewStochasticReversal(cfg), nil
	case "momentum_breakout":
		return NewMomentumBreakout(cfg), nil
	case "mean_reversion":
		return NewMeanReversion(cfg), nil
	default:
		return nil, fmt.Errorf("unknown strategy: %s", cfg.Name)
	}
}

// newSignal builds a signal stamped with the latest bar's time.
func newSignal(name string, side models.Side, window models.BarSeries) *models.Signal {
	return &models.Signal{Side: side, Strategy: name, Time: window.Last().Time}
}

// crossedAbove reports a ≤→> transition of a over b between the previous
// and current bar.
func crossedAbove(prevA, prevB, curA, curB float64) bool {
	if math.IsNaN(prevA) || math.IsNaN(prevB) || math.IsNaN(curA) || math.IsNaN(curB) {
		return false
	}
	return prevA <= prevB && curA > curB
}

// crossedBelow reports a ≥→< transition of a under b.
func crossedBelow(prevA, prevB, curA, curB float64) bool {
	if math.IsNaN(prevA) || math.IsNaN(prevB) || math.IsNaN(curA) || math.IsNaN(curB) {
		return false
	}
	return prevA >= prevB && curA < curB
}

// percentStop is the fallback stop when the volatility measure degenerates.
func percentStop(entry float64, side models.Side, pct float64) float64 {
	if side == models.Buy {
		return entry * (1 - pct)
	}
	return entry * (1 + pct)
}

// percentTarget is the fallback target when the volatility measure
// degenerates.
func percentTarget(entry float64, side models.Side, pct float64) float64 {
	if side == models.Buy {
		return entry * (1 + pct)
	}
	return entry * (1 - pct)
}

// usableATR reports whether an ATR value can drive stop/target distances.
func usableATR(atr float64) bool {
	return !math.IsNaN(atr) && atr > 0
}

// bodyRatio returns the candle body as a fraction of its full range, zero
// for a zero-range bar.
func bodyRatio(b models.Bar) float64 {
	r := b.High - b.Low
	if r <= 0 {
		return 0
	}
	return math.Abs(b.Close-b.Open) / r
}

// volumeAbove reports whether the latest bar's volume exceeds mult times
// its rolling average over the given period. Windows without volume data
// pass the check, matching the original behaviour of skipping the filter.
func volumeAbove(window models.BarSeries, period int, mult float64) bool {
	if len(window) < period+1 {
		return true
	}
	var sum float64
	hasVolume := false
	tail := window.Tail(period + 1)
	for _, b := range tail[:period] {
		sum += b.Volume
		if b.Volume > 0 {
			hasVolume = true
		}
	}
	if !hasVolume {
		return true
	}
	avg := sum / float64(period)
	return window.Last().Volume >= avg*mult
}

func maxInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
