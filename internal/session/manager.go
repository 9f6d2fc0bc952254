// Package session owns the mutable trading-session state: trade counters,
// realized profit and the risk circuit breakers. All mutations flow through
// a single event loop so the rest of the bot never locks, and every change
// is persisted asynchronously so a restart resumes mid-session instead of
// silently re-arming a tripped breaker.
package session

import (
	"time"

	"multi-strategy-bot-go/internal/models"
	"multi-strategy-bot-go/internal/persistence"

	"go.uber.org/zap"
)

// EventType defines the type of a session event.
type EventType int

const (
	TradeOpenedEvent EventType = iota
	TradeClosedEvent
	TickEvent
)

// Event is a normalized session event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// TradeOpenedData carries the order result of a newly opened position.
type TradeOpenedData struct {
	Result models.OrderResult
}

// TradeClosedData carries a completed round trip.
type TradeClosedData struct {
	Trade models.ClosedTrade
}

// TickData carries the per-tick account snapshot, used for day rollover
// detection and breaker synchronization.
type TickData struct {
	Account models.AccountSnapshot
}

// RiskControl is the slice of the risk manager the session needs. Declared
// here to break the dependency between the session and risk packages.
type RiskControl interface {
	RecordRealized(pnl float64)
	Breakers() (dailyLoss, drawdown bool, realized float64)
	RestoreBreakers(dailyLoss, drawdown bool, realized float64)
	ResetDay()
}

const stateVersion = 1

// Manager is responsible for all session-state mutations and persistence.
// Events are processed serially by a single goroutine.
type Manager struct {
	state           *models.SessionState
	repo            persistence.StateRepository
	risk            RiskControl
	eventChannel    chan Event
	persistenceChan chan *models.SessionState
	stopChan        chan bool
	logger          *zap.Logger
}

// NewManager builds a session manager. A loaded state from the same UTC day
// resumes the session and re-arms any tripped breakers; a state from an
// earlier day (or none at all) starts fresh.
func NewManager(botID, symbol string, startBalance float64, loaded *models.SessionState, repo persistence.StateRepository, risk RiskControl, logger *zap.Logger, now time.Time) *Manager {
	today := now.UTC().Format("2006-01-02")

	var state *models.SessionState
	if loaded != nil && loaded.Day == today {
		state = loaded
		risk.RestoreBreakers(loaded.DailyLossTripped, loaded.DrawdownTripped, loaded.DailyRealized)
		logger.Info("resumed session state",
			zap.String("day", loaded.Day),
			zap.Bool("daily_loss_tripped", loaded.DailyLossTripped),
			zap.Bool("drawdown_tripped", loaded.DrawdownTripped))
	} else {
		if loaded != nil {
			// Carry lifetime counters across the day boundary.
			state = loaded
			state.Day = today
			state.DailyRealized = 0
			state.DailyLossTripped = false
			state.DrawdownTripped = false
			logger.Info("new trading day, risk breakers reset", zap.String("day", today))
		} else {
			state = &models.SessionState{
				BotID:        botID,
				Symbol:       symbol,
				Version:      stateVersion,
				Day:          today,
				StartBalance: startBalance,
			}
		}
		risk.ResetDay()
	}

	return &Manager{
		state:           state,
		repo:            repo,
		risk:            risk,
		eventChannel:    make(chan Event, 1024),
		persistenceChan: make(chan *models.SessionState, 128),
		stopChan:        make(chan bool),
		logger:          logger,
	}
}

// Start begins the event processing and persistence loops.
func (m *Manager) Start() {
	go m.eventLoop()
	go m.persistenceLoop()
	m.logger.Sugar().Info("session manager started")
}

// Stop gracefully shuts down the manager.
func (m *Manager) Stop() {
	close(m.stopChan)
	m.logger.Sugar().Info("session manager stopped")
}

// DispatchEvent sends an event to the manager for processing.
func (m *Manager) DispatchEvent(event Event) {
	m.eventChannel <- event
}

// GetStateSnapshot returns a copy of the current state for safe concurrent
// reading. Callers must go through DispatchEvent to mutate it.
func (m *Manager) GetStateSnapshot() *models.SessionState {
	done := make(chan models.SessionState, 1)
	m.eventChannel <- Event{Type: snapshotEvent, Data: done}
	state := <-done
	return &state
}

// snapshotEvent is internal; it rides the event loop so snapshot reads are
// serialized with mutations.
const snapshotEvent EventType = -1

// eventLoop handles all incoming events serially.
func (m *Manager) eventLoop() {
	for {
		select {
		case event := <-m.eventChannel:
			m.processEvent(event)
		case <-m.stopChan:
			return
		}
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots.
func (m *Manager) persistenceLoop() {
	for {
		select {
		case stateToSave := <-m.persistenceChan:
			if m.repo != nil {
				if err := m.repo.SaveState(stateToSave); err != nil {
					m.logger.Sugar().Errorf("CRITICAL: failed to save session state: %v", err)
				}
			}
		case <-m.stopChan:
			return
		}
	}
}

// processEvent mutates the state based on an event.
func (m *Manager) processEvent(event Event) {
	switch event.Type {
	case snapshotEvent:
		if done, ok := event.Data.(chan models.SessionState); ok {
			done <- *m.state
		}
		return
	case TradeOpenedEvent:
		if data, ok := event.Data.(TradeOpenedData); ok {
			m.state.TradesOpened++
			m.logger.Sugar().Infof("trade opened: ticket=%d %s %s %.2f @ %.5f [%s]",
				data.Result.Ticket, data.Result.Symbol, data.Result.Side,
				data.Result.Volume, data.Result.FillPrice, data.Result.OwnerTag)
		} else {
			m.logger.Sugar().Warnf("TradeOpenedEvent with unexpected data type: %T", event.Data)
		}
	case TradeClosedEvent:
		if data, ok := event.Data.(TradeClosedData); ok {
			m.state.TradesClosed++
			m.state.TotalProfit += data.Trade.Profit
			m.risk.RecordRealized(data.Trade.Profit)
			m.logger.Sugar().Infof("trade closed: ticket=%d profit=%.2f reason=%s [%s]",
				data.Trade.Ticket, data.Trade.Profit, data.Trade.Reason, data.Trade.OwnerTag)
		} else {
			m.logger.Sugar().Warnf("TradeClosedEvent with unexpected data type: %T", event.Data)
		}
	case TickEvent:
		m.handleTick(event.Timestamp)
	}

	// Breaker flags live in the risk manager; mirror them into the
	// persisted state after every event.
	daily, drawdown, realized := m.risk.Breakers()
	m.state.DailyLossTripped = daily
	m.state.DrawdownTripped = drawdown
	m.state.DailyRealized = realized
	m.state.LastUpdateTime = time.Now()

	stateCopy := *m.state
	m.persistenceChan <- &stateCopy
}

// handleTick checks for a UTC day rollover and resets the daily risk
// limits when one occurs.
func (m *Manager) handleTick(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if day == m.state.Day {
		return
	}
	m.logger.Info("new trading day, resetting daily risk limits",
		zap.String("previous", m.state.Day), zap.String("day", day))
	m.state.Day = day
	m.risk.ResetDay()
}
