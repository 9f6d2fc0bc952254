package engine

import (
	"sync"
	"testing"
	"time"

	"multi-strategy-bot-go/internal/models"
	"multi-strategy-bot-go/internal/risk"
	"multi-strategy-bot-go/internal/session"
	"multi-strategy-bot-go/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockBroker records the order of gateway calls so tests can assert the
// tick phase sequence.
type mockBroker struct {
	sync.Mutex
	bars      models.BarSeries
	acct      models.AccountSnapshot
	spec      models.SymbolSpec
	positions []models.Position

	calls     []string
	submitted []models.OrderRequest
	closed    []int64
	modified  []int64
}

func (m *mockBroker) GetBars(symbol, timeframe string, count int) (models.BarSeries, error) {
	return m.bars, nil
}

func (m *mockBroker) GetAccountSnapshot() (*models.AccountSnapshot, error) {
	acct := m.acct
	return &acct, nil
}

func (m *mockBroker) GetSymbolSpec(symbol string) (*models.SymbolSpec, error) {
	spec := m.spec
	return &spec, nil
}

func (m *mockBroker) GetOpenPositions(symbol string) ([]models.Position, error) {
	return m.positions, nil
}

func (m *mockBroker) SubmitMarketOrder(req *models.OrderRequest) (*models.OrderResult, error) {
	m.Lock()
	defer m.Unlock()
	m.calls = append(m.calls, "submit")
	m.submitted = append(m.submitted, *req)
	return &models.OrderResult{
		Ticket:    int64(100 + len(m.submitted)),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Volume:    req.Volume,
		FillPrice: 2000,
		Time:      m.bars.Last().Time,
		OwnerTag:  req.OwnerTag,
	}, nil
}

func (m *mockBroker) ModifyPosition(ticket int64, stopLoss, takeProfit float64) error {
	m.Lock()
	defer m.Unlock()
	m.calls = append(m.calls, "modify")
	m.modified = append(m.modified, ticket)
	return nil
}

func (m *mockBroker) ClosePosition(ticket int64) (*models.OrderResult, error) {
	m.Lock()
	defer m.Unlock()
	m.calls = append(m.calls, "close")
	m.closed = append(m.closed, ticket)
	return &models.OrderResult{Ticket: ticket, FillPrice: 2000, Time: m.bars.Last().Time}, nil
}

func (m *mockBroker) CurrentTime() time.Time {
	return m.bars.Last().Time
}

// stubStrategy fires a fixed signal every tick; exit decisions come from a
// flag so tests can force the exit scan.
type stubStrategy struct {
	name string
	side models.Side
	exit bool
}

func (s *stubStrategy) Name() string     { return s.name }
func (s *stubStrategy) MinimumBars() int { return 1 }

func (s *stubStrategy) Signal(w models.BarSeries) *models.Signal {
	if s.side == "" {
		return nil
	}
	return &models.Signal{Side: s.side, Strategy: s.name, Time: w.Last().Time}
}

func (s *stubStrategy) StopPrice(w models.BarSeries, side models.Side, entry float64) float64 {
	if side == models.Buy {
		return entry * 0.99
	}
	return entry * 1.01
}

func (s *stubStrategy) TargetPrice(w models.BarSeries, side models.Side, entry float64) float64 {
	if side == models.Buy {
		return entry * 1.02
	}
	return entry * 0.98
}

func (s *stubStrategy) ShouldExit(w models.BarSeries, pos models.Position) bool {
	return s.exit
}

func stubInstance(name string, side models.Side, maxPositions, priority int, exit bool) *strategy.Instance {
	return &strategy.Instance{
		Strategy: &stubStrategy{name: name, side: side, exit: exit},
		Config: models.StrategyConfig{
			Name:         name,
			Enabled:      true,
			Priority:     priority,
			MaxPositions: maxPositions,
			RiskPerTrade: 0.01,
		},
	}
}

func testBars(n int) models.BarSeries {
	start := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	bars := make(models.BarSeries, n)
	for i := range bars {
		bars[i] = models.Bar{
			Time: start.Add(time.Duration(i) * time.Hour),
			Open: 2000, High: 2001, Low: 1999, Close: 2000, Volume: 100,
		}
	}
	return bars
}

func newTestBroker() *mockBroker {
	return &mockBroker{
		bars: testBars(60),
		acct: models.AccountSnapshot{
			Balance: 10000, Equity: 10000, FreeMargin: 10000,
			Leverage: 100, Currency: "USD", TradeAllowed: true,
		},
		spec: models.SymbolSpec{
			Symbol: "XAUUSD", Bid: 2000, Ask: 2000.5, Digits: 2, Point: 0.01,
			MinLot: 0.01, MaxLot: 100, LotStep: 0.01, ContractSize: 1, Tradeable: true,
		},
	}
}

func newTestEngine(t *testing.T, mb *mockBroker, limits models.RiskLimits, instances ...*strategy.Instance) *Engine {
	t.Helper()

	cfg := &models.Config{
		Symbol:       "XAUUSD",
		Timeframe:    "H1",
		LookbackBars: 50,
		Strategies: []models.StrategyConfig{
			{Name: "ema_crossover", Enabled: true, MaxPositions: 1, RiskPerTrade: 0.01},
		},
	}
	rm := risk.NewManager(limits, zap.NewNop())
	sm := session.NewManager("test-bot", "XAUUSD", 10000, nil, nil, rm, zap.NewNop(), mb.CurrentTime())
	sm.Start()
	t.Cleanup(sm.Stop)

	eng, err := New(cfg, mb, rm, sm, nil, nil, zap.NewNop())
	require.NoError(t, err)
	eng.instances = instances
	return eng
}

func defaultLimits() models.RiskLimits {
	return models.RiskLimits{
		MaxPositions: 10,
		RiskPerTrade: 0.01,
		MaxDailyLoss: 0.05,
		MaxDrawdown:  0.10,
	}
}

func TestEntryScanSkipsCappedStrategy(t *testing.T) {
	mb := newTestBroker()
	mb.positions = []models.Position{
		{Ticket: 1, Symbol: "XAUUSD", Side: models.Buy, Volume: 1, EntryPrice: 1990, OwnerTag: "alpha"},
	}

	alpha := stubInstance("alpha", models.Buy, 1, 2, false)
	beta := stubInstance("beta", models.Buy, 2, 1, false)
	eng := newTestEngine(t, mb, defaultLimits(), alpha, beta)

	eng.Tick()

	require.Len(t, mb.submitted, 1)
	assert.Equal(t, "beta", mb.submitted[0].OwnerTag)
	// The capped strategy was never evaluated, so its cooldown clock is
	// untouched.
	assert.True(t, alpha.State.LastSignalTime.IsZero())
	assert.False(t, beta.State.LastSignalTime.IsZero())
}

func TestNewSortsInstancesByPriority(t *testing.T) {
	cfg := &models.Config{
		Symbol:       "XAUUSD",
		Timeframe:    "H1",
		LookbackBars: 50,
		Strategies: []models.StrategyConfig{
			{Name: "ema_crossover", Enabled: true, Priority: 1, MaxPositions: 1, RiskPerTrade: 0.01},
			{Name: "macd_cross", Enabled: true, Priority: 5, MaxPositions: 1, RiskPerTrade: 0.01},
			{Name: "mean_reversion", Enabled: false, Priority: 9, MaxPositions: 1, RiskPerTrade: 0.01},
			{Name: "rsi_divergence", Enabled: true, Priority: 5, MaxPositions: 1, RiskPerTrade: 0.01},
		},
	}
	rm := risk.NewManager(defaultLimits(), zap.NewNop())
	sm := session.NewManager("test-bot", "XAUUSD", 10000, nil, nil, rm, zap.NewNop(), time.Now())

	eng, err := New(cfg, newTestBroker(), rm, sm, nil, nil, zap.NewNop())
	require.NoError(t, err)

	instances := eng.Instances()
	require.Len(t, instances, 3)
	assert.Equal(t, "macd_cross", instances[0].Config.Name)
	assert.Equal(t, "rsi_divergence", instances[1].Config.Name)
	assert.Equal(t, "ema_crossover", instances[2].Config.Name)
}

func TestExitScanRunsBeforeEntryScan(t *testing.T) {
	mb := newTestBroker()
	mb.positions = []models.Position{
		{Ticket: 7, Symbol: "XAUUSD", Side: models.Buy, Volume: 1, EntryPrice: 1990,
			OpenTime: mb.bars[0].Time, OwnerTag: "alpha"},
	}

	// alpha wants out of its position and beta wants in.
	alpha := stubInstance("alpha", "", 2, 2, true)
	beta := stubInstance("beta", models.Buy, 2, 1, false)
	eng := newTestEngine(t, mb, defaultLimits(), alpha, beta)

	eng.Tick()

	require.Len(t, mb.closed, 1)
	assert.Equal(t, int64(7), mb.closed[0])
	require.Len(t, mb.submitted, 1)
	assert.Equal(t, []string{"close", "submit"}, mb.calls)
}

func TestExitFreesCapSlotWithinSameTick(t *testing.T) {
	mb := newTestBroker()
	mb.positions = []models.Position{
		{Ticket: 11, Symbol: "XAUUSD", Side: models.Buy, Volume: 1, EntryPrice: 1990,
			OpenTime: mb.bars[0].Time, OwnerTag: "alpha"},
	}

	// alpha is at its cap of one, exits that position and signals a fresh
	// entry. The slot freed by the exit must be usable in the same tick.
	alpha := stubInstance("alpha", models.Buy, 1, 1, true)
	eng := newTestEngine(t, mb, defaultLimits(), alpha)

	eng.Tick()

	require.Len(t, mb.closed, 1)
	assert.Equal(t, int64(11), mb.closed[0])
	require.Len(t, mb.submitted, 1)
	assert.Equal(t, "alpha", mb.submitted[0].OwnerTag)
	assert.Equal(t, []string{"close", "submit"}, mb.calls)
}

func TestTrailingStopsRunFirst(t *testing.T) {
	limits := defaultLimits()
	limits.TrailingStop = true
	limits.TrailingStopPoints = 50

	mb := newTestBroker()
	mb.positions = []models.Position{
		{Ticket: 9, Symbol: "XAUUSD", Side: models.Buy, Volume: 1, EntryPrice: 1990,
			Price: 2000, StopLoss: 1990, OwnerTag: "alpha"},
	}

	alpha := stubInstance("alpha", "", 2, 1, true)
	eng := newTestEngine(t, mb, limits, alpha)

	eng.Tick()

	require.NotEmpty(t, mb.calls)
	assert.Equal(t, "modify", mb.calls[0])
	assert.Equal(t, []int64{int64(9)}, mb.modified)
}

func TestTradingHoursGateBlocksEntriesOnly(t *testing.T) {
	mb := newTestBroker()
	mb.positions = []models.Position{
		{Ticket: 3, Symbol: "XAUUSD", Side: models.Buy, Volume: 1, EntryPrice: 1990,
			OpenTime: mb.bars[0].Time, OwnerTag: "alpha"},
	}

	alpha := stubInstance("alpha", models.Buy, 5, 1, true)
	eng := newTestEngine(t, mb, defaultLimits(), alpha)
	// The tick lands on a weekday; allow only Sunday so the gate is closed.
	eng.config.Hours = models.TradingHours{Days: []int{0}, StartHour: 0, EndHour: 23}

	eng.Tick()

	assert.Len(t, mb.closed, 1, "exits must still run outside trading hours")
	assert.Empty(t, mb.submitted, "entries must be blocked outside trading hours")
}

func TestRiskLimitBlocksEntry(t *testing.T) {
	mb := newTestBroker()
	mb.acct.TradeAllowed = false

	alpha := stubInstance("alpha", models.Buy, 2, 1, false)
	eng := newTestEngine(t, mb, defaultLimits(), alpha)

	eng.Tick()

	assert.Empty(t, mb.submitted)
}

func TestOrderCarriesStopsAndOwnerTag(t *testing.T) {
	mb := newTestBroker()

	alpha := stubInstance("alpha", models.Sell, 2, 1, false)
	eng := newTestEngine(t, mb, defaultLimits(), alpha)

	eng.Tick()

	require.Len(t, mb.submitted, 1)
	order := mb.submitted[0]
	assert.Equal(t, models.Sell, order.Side)
	assert.Equal(t, "alpha", order.OwnerTag)
	// Sell enters at the bid.
	assert.InDelta(t, 2000*1.01, order.StopLoss, 1e-9)
	assert.InDelta(t, 2000*0.98, order.TakeProfit, 1e-9)
	assert.Greater(t, order.Volume, 0.0)
}

func TestWithinTradingHours(t *testing.T) {
	cfg := &models.Config{
		Symbol:       "XAUUSD",
		Timeframe:    "H1",
		LookbackBars: 50,
		Hours:        models.TradingHours{Days: []int{1, 2, 3, 4, 5}, StartHour: 8, EndHour: 17},
		Strategies: []models.StrategyConfig{
			{Name: "ema_crossover", Enabled: true, MaxPositions: 1, RiskPerTrade: 0.01},
		},
	}
	rm := risk.NewManager(defaultLimits(), zap.NewNop())
	sm := session.NewManager("test-bot", "XAUUSD", 10000, nil, nil, rm, zap.NewNop(), time.Now())
	eng, err := New(cfg, newTestBroker(), rm, sm, nil, nil, zap.NewNop())
	require.NoError(t, err)

	wedNoon := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	assert.True(t, eng.withinTradingHours(wedNoon))

	wedNight := time.Date(2026, 8, 26, 20, 0, 0, 0, time.UTC)
	assert.False(t, eng.withinTradingHours(wedNight))

	sunday := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	assert.False(t, eng.withinTradingHours(sunday))

	// Overnight window wraps midnight.
	eng.config.Hours = models.TradingHours{Days: []int{1, 2, 3, 4, 5}, StartHour: 22, EndHour: 6}
	wedLate := time.Date(2026, 8, 26, 23, 0, 0, 0, time.UTC)
	assert.True(t, eng.withinTradingHours(wedLate))
	wedEarly := time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC)
	assert.True(t, eng.withinTradingHours(wedEarly))
	wedMid := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	assert.False(t, eng.withinTradingHours(wedMid))
}
