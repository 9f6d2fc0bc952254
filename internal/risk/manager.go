// Package risk gates, sizes and validates every prospective trade and
// maintains trailing stops on open positions. All checks work from the
// per-tick account and position snapshots; the manager itself only holds
// the latched circuit breakers and the day's realized PnL.
package risk

import (
	"fmt"
	"math"
	"sync"

	"multi-strategy-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PositionModifier is the slice of the broker the trailing-stop pass
// needs. Declared here to avoid a dependency on the broker package.
type PositionModifier interface {
	ModifyPosition(ticket int64, stopLoss, takeProfit float64) error
}

// Manager applies the global risk limits. Once the daily-loss or drawdown
// breaker trips it stays tripped: a partial equity recovery must not
// re-open the gate within the same session. The breaker state is written
// by the session event loop and read by the scheduler tick goroutine, so
// every access goes through the mutex.
type Manager struct {
	limits models.RiskLimits
	logger *zap.Logger

	mu               sync.Mutex
	dailyLossTripped bool
	drawdownTripped  bool
	dailyRealized    float64
}

// NewManager creates a risk manager for the given limits.
func NewManager(limits models.RiskLimits, lg *zap.Logger) *Manager {
	return &Manager{limits: limits, logger: lg}
}

// RecordRealized adds a closed trade's PnL to the day's realized total.
func (m *Manager) RecordRealized(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyRealized += pnl
}

// Breakers returns the latched breaker flags and the realized total, for
// session persistence.
func (m *Manager) Breakers() (dailyLoss, drawdown bool, realized float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyLossTripped, m.drawdownTripped, m.dailyRealized
}

// RestoreBreakers re-arms the latched state loaded from the session
// repository, so a restart cannot clear an intra-day breach.
func (m *Manager) RestoreBreakers(dailyLoss, drawdown bool, realized float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyLossTripped = dailyLoss
	m.drawdownTripped = drawdown
	m.dailyRealized = realized
}

// ResetDay clears the breakers and the realized total on day rollover.
func (m *Manager) ResetDay() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyLossTripped = false
	m.drawdownTripped = false
	m.dailyRealized = 0
}

// TradingAllowed reports whether a new entry may be attempted. strategyTag
// and strategyMax add the per-strategy position gate; pass "" and 0 to
// check only the account-wide limits.
func (m *Manager) TradingAllowed(acct *models.AccountSnapshot, open []models.Position, strategyTag string, strategyMax int) bool {
	if acct == nil || !acct.TradeAllowed {
		return false
	}
	if len(open) >= m.limits.MaxPositions {
		m.logger.Warn("maximum positions reached", zap.Int("open", len(open)))
		return false
	}
	if strategyTag != "" && strategyMax > 0 {
		if CountByOwner(open, strategyTag) >= strategyMax {
			return false
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dailyLossBreached(acct) {
		m.logger.Warn("daily loss limit reached", zap.Float64("balance", acct.Balance))
		return false
	}
	if m.drawdownBreached(acct) {
		m.logger.Warn("maximum drawdown reached", zap.Float64("balance", acct.Balance), zap.Float64("equity", acct.Equity))
		return false
	}
	return true
}

// dailyLossBreached compares the realized plus floating loss against the
// configured fraction of balance, latching on breach. Caller holds m.mu.
func (m *Manager) dailyLossBreached(acct *models.AccountSnapshot) bool {
	if m.dailyLossTripped {
		return true
	}
	loss := -math.Min(0, m.dailyRealized+acct.Profit)
	if loss >= acct.Balance*m.limits.MaxDailyLoss {
		m.dailyLossTripped = true
		return true
	}
	return false
}

// drawdownBreached compares balance minus equity against the configured
// fraction of balance, latching on breach. Caller holds m.mu.
func (m *Manager) drawdownBreached(acct *models.AccountSnapshot) bool {
	if m.drawdownTripped {
		return true
	}
	if acct.Balance-acct.Equity >= acct.Balance*m.limits.MaxDrawdown {
		m.drawdownTripped = true
		return true
	}
	return false
}

// PositionSize turns a risk budget into a venue-legal volume:
// riskAmount / (stopDistance × unitValue), stepped to the lot step and
// clamped to [minLot, maxLot], then capped by free margin and by a
// conservative multiple of the risk amount so a tiny stop distance cannot
// produce an outsized position. riskFraction <= 0 uses the global default.
func (m *Manager) PositionSize(acct *models.AccountSnapshot, spec *models.SymbolSpec, entryPrice, stopPrice, riskFraction float64) float64 {
	if acct == nil || spec == nil || spec.ContractSize <= 0 {
		return 0
	}
	if riskFraction <= 0 {
		riskFraction = m.limits.RiskPerTrade
	}
	riskAmount := acct.Balance * riskFraction

	stopDistance := math.Abs(entryPrice - stopPrice)
	if stopDistance <= 0 {
		return 0
	}

	size := riskAmount / (stopDistance * spec.ContractSize)

	// Free-margin cap: never commit more than half the free margin.
	leverage := acct.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	marginPerLot := spec.ContractSize * entryPrice / leverage
	if marginPerLot > 0 {
		maxByMargin := acct.FreeMargin * 0.5 / marginPerLot
		size = math.Min(size, maxByMargin)
	}

	// Value cap: position value bounded by a conservative multiple of the
	// risk amount.
	maxByValue := riskAmount * 10 / spec.ContractSize
	size = math.Min(size, maxByValue)

	size = StepVolume(size, spec.LotStep)
	return clamp(size, spec.MinLot, spec.MaxLot)
}

// ValidateTrade gates a prospective order against the account and the
// venue's symbol rules. Volume problems are fixed in place and recorded as
// warnings; margin shortfall and untradeable symbols are hard rejections.
func (m *Manager) ValidateTrade(acct *models.AccountSnapshot, open []models.Position, spec *models.SymbolSpec, side models.Side, volume, entryPrice, stopLoss, takeProfit float64) models.TradeValidation {
	result := models.TradeValidation{Valid: true, AdjustedVolume: volume}

	if !m.TradingAllowed(acct, open, "", 0) {
		result.Valid = false
		result.Errors = append(result.Errors, "trading not allowed due to risk limits")
		return result
	}
	if spec == nil {
		result.Valid = false
		result.Errors = append(result.Errors, "unknown symbol")
		return result
	}
	if !spec.Tradeable {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("trading not allowed for symbol: %s", spec.Symbol))
		return result
	}

	if result.AdjustedVolume < spec.MinLot {
		result.AdjustedVolume = spec.MinLot
		result.Warnings = append(result.Warnings, fmt.Sprintf("volume adjusted to minimum: %g", spec.MinLot))
	} else if result.AdjustedVolume > spec.MaxLot {
		result.AdjustedVolume = spec.MaxLot
		result.Warnings = append(result.Warnings, fmt.Sprintf("volume adjusted to maximum: %g", spec.MaxLot))
	}

	stepped := StepVolume(result.AdjustedVolume, spec.LotStep)
	stepped = clamp(stepped, spec.MinLot, spec.MaxLot)
	if stepped != result.AdjustedVolume {
		result.AdjustedVolume = stepped
		result.Warnings = append(result.Warnings, fmt.Sprintf("volume adjusted to lot step: %g", stepped))
	}

	minDistance := spec.StopsLevel * spec.Point
	if stopLoss > 0 && entryPrice > 0 && math.Abs(entryPrice-stopLoss) < minDistance {
		result.Warnings = append(result.Warnings, "stop loss too close to entry price")
	}
	if takeProfit > 0 && entryPrice > 0 && math.Abs(entryPrice-takeProfit) < minDistance {
		result.Warnings = append(result.Warnings, "take profit too close to entry price")
	}

	leverage := acct.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	requiredMargin := result.AdjustedVolume * spec.ContractSize * entryPrice / leverage
	if requiredMargin > acct.FreeMargin {
		result.Valid = false
		result.Errors = append(result.Errors, "insufficient margin for trade")
	}

	return result
}

// UpdateTrailingStops walks the open positions and tightens each stop to
// the configured distance behind the current price. A stop only ever moves
// in the risk-reducing direction; an unset stop (zero) is always placed.
func (m *Manager) UpdateTrailingStops(positions []models.Position, spec *models.SymbolSpec, modifier PositionModifier) {
	if !m.limits.TrailingStop || spec == nil || modifier == nil {
		return
	}
	distance := m.limits.TrailingStopPoints * spec.Point
	if distance <= 0 {
		return
	}
	for _, pos := range positions {
		var newSL float64
		if pos.Side == models.Buy {
			newSL = pos.Price - distance
			if pos.StopLoss != 0 && newSL <= pos.StopLoss {
				continue
			}
		} else {
			newSL = pos.Price + distance
			if pos.StopLoss != 0 && newSL >= pos.StopLoss {
				continue
			}
		}
		if err := modifier.ModifyPosition(pos.Ticket, newSL, pos.TakeProfit); err != nil {
			m.logger.Error("failed to update trailing stop",
				zap.Int64("ticket", pos.Ticket), zap.Error(err))
			continue
		}
		m.logger.Debug("trailing stop updated",
			zap.Int64("ticket", pos.Ticket), zap.Float64("stop", newSL))
	}
}

// CountByOwner counts the open positions carrying the given owner tag.
func CountByOwner(positions []models.Position, tag string) int {
	n := 0
	for _, p := range positions {
		if p.OwnerTag == tag {
			n++
		}
	}
	return n
}

// StepVolume rounds a volume to the nearest multiple of the venue's lot
// step. The arithmetic runs on decimals so float residue cannot produce a
// volume the venue rejects.
func StepVolume(volume, step float64) float64 {
	if step <= 0 {
		return volume
	}
	v := decimal.NewFromFloat(volume)
	s := decimal.NewFromFloat(step)
	steps := v.Div(s).Round(0)
	out, _ := steps.Mul(s).Float64()
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
