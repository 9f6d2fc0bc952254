package broker

import (
	"fmt"
	"math"
	"sync"
	"time"

	"multi-strategy-bot-go/internal/models"
)

// SimBroker 实现了 Broker 接口，在本地K线数据上模拟网关行为，
// 用于回测和测试。市价单以当前收盘价加滑点成交，
// 止损/止盈在每根K线推进时按 O->L->H->C 的路径扫描触发。
type SimBroker struct {
	Symbol         string
	InitialBalance float64
	Balance        float64
	SlippageRate   float64

	spec    models.SymbolSpec
	history models.BarSeries
	cursor  int

	mu          sync.Mutex
	positions   map[int64]*models.Position
	nextTicket  int64
	TradeLog    []models.ClosedTrade
	EquityCurve []float64
}

// NewSimBroker 创建一个模拟网关。history 必须按时间升序，
// cursor 从第一根K线开始。
func NewSimBroker(symbol string, spec models.SymbolSpec, history models.BarSeries, initialBalance, slippageRate float64) *SimBroker {
	return &SimBroker{
		Symbol:         symbol,
		InitialBalance: initialBalance,
		Balance:        initialBalance,
		SlippageRate:   slippageRate,
		spec:           spec,
		history:        history,
		positions:      make(map[int64]*models.Position),
		nextTicket:     1,
		TradeLog:       make([]models.ClosedTrade, 0),
		EquityCurve:    make([]float64, 0, len(history)),
	}
}

// Advance 将模拟时钟推进一根K线，扫描持仓的止损止盈并更新权益。
// 数据耗尽时返回 false。
func (s *SimBroker) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor+1 >= len(s.history) {
		return false
	}
	s.cursor++
	bar := s.history[s.cursor]

	// 按 O->L->H->C 的路径模拟K线内部价格变动
	for _, price := range []float64{bar.Open, bar.Low, bar.High, bar.Close} {
		s.sweepStopsAtPrice(price, bar.Time)
	}

	// 基于收盘价刷新剩余持仓的浮动盈亏
	for _, p := range s.positions {
		p.Price = bar.Close
		p.Profit = s.floatingProfit(p, bar.Close)
	}

	s.EquityCurve = append(s.EquityCurve, s.equityLocked())
	return true
}

// sweepStopsAtPrice 在单一价格点上检查所有持仓的止损和止盈。
// 必须在持有锁的情况下调用。
func (s *SimBroker) sweepStopsAtPrice(price float64, now time.Time) {
	for ticket, p := range s.positions {
		if p.Side == models.Buy {
			// 悲观处理：同一根K线内止损优先于止盈
			if p.StopLoss > 0 && price <= p.StopLoss {
				s.closeAt(ticket, p.StopLoss, now, "stop_loss")
				continue
			}
			if p.TakeProfit > 0 && price >= p.TakeProfit {
				s.closeAt(ticket, p.TakeProfit, now, "take_profit")
			}
		} else {
			if p.StopLoss > 0 && price >= p.StopLoss {
				s.closeAt(ticket, p.StopLoss, now, "stop_loss")
				continue
			}
			if p.TakeProfit > 0 && price <= p.TakeProfit {
				s.closeAt(ticket, p.TakeProfit, now, "take_profit")
			}
		}
	}
}

// closeAt 以指定价格平掉持仓并登记已完成交易。
// 必须在持有锁的情况下调用。
func (s *SimBroker) closeAt(ticket int64, price float64, now time.Time, reason string) *models.ClosedTrade {
	p, ok := s.positions[ticket]
	if !ok {
		return nil
	}
	realized := s.floatingProfit(p, price)
	s.Balance += realized
	delete(s.positions, ticket)

	trade := models.ClosedTrade{
		Ticket:     p.Ticket,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Volume:     p.Volume,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		Profit:     realized,
		OpenTime:   p.OpenTime,
		CloseTime:  now,
		Duration:   now.Sub(p.OpenTime),
		OwnerTag:   p.OwnerTag,
		Reason:     reason,
	}
	s.TradeLog = append(s.TradeLog, trade)
	return &trade
}

// floatingProfit 计算持仓在指定价格下的盈亏。
func (s *SimBroker) floatingProfit(p *models.Position, price float64) float64 {
	diff := price - p.EntryPrice
	if p.Side == models.Sell {
		diff = -diff
	}
	return diff * p.Volume * s.spec.ContractSize
}

// equityLocked 计算当前权益。必须在持有锁的情况下调用。
func (s *SimBroker) equityLocked() float64 {
	equity := s.Balance
	for _, p := range s.positions {
		equity += p.Profit
	}
	return equity
}

// currentBar 返回当前K线。必须在持有锁的情况下调用。
func (s *SimBroker) currentBar() models.Bar {
	return s.history[s.cursor]
}

// --- Broker 接口实现 ---

// GetBars 返回截至当前模拟时刻的最近K线。
func (s *SimBroker) GetBars(symbol, timeframe string, count int) (models.BarSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.history[:s.cursor+1]
	if count > 0 && count < len(window) {
		window = window[len(window)-count:]
	}
	out := make(models.BarSeries, len(window))
	copy(out, window)
	return out, nil
}

// GetAccountSnapshot 返回基于当前模拟状态计算的账户快照。
func (s *SimBroker) GetAccountSnapshot() (*models.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	equity := s.equityLocked()
	var margin float64
	leverage := 100.0
	price := s.currentBar().Close
	for _, p := range s.positions {
		margin += p.Volume * s.spec.ContractSize * price / leverage
	}

	return &models.AccountSnapshot{
		Balance:      s.Balance,
		Equity:       equity,
		Margin:       margin,
		FreeMargin:   equity - margin,
		Profit:       equity - s.Balance,
		Leverage:     leverage,
		Currency:     "USD",
		TradeAllowed: true,
	}, nil
}

// GetSymbolSpec 返回品种规则，报价取自当前K线收盘价。
func (s *SimBroker) GetSymbolSpec(symbol string) (*models.SymbolSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec := s.spec
	px := s.currentBar().Close
	spec.Bid = px
	spec.Ask = px + spec.Point
	return &spec, nil
}

// GetOpenPositions 返回当前持仓的副本。
func (s *SimBroker) GetOpenPositions(symbol string) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out, nil
}

// SubmitMarketOrder 以当前收盘价加滑点立即成交。
func (s *SimBroker) SubmitMarketOrder(req *models.OrderRequest) (*models.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Volume <= 0 {
		return nil, &models.Error{Code: -1013, Msg: fmt.Sprintf("无效的下单数量: %v", req.Volume)}
	}

	bar := s.currentBar()
	fill := bar.Close
	if req.Side == models.Buy {
		fill *= 1 + s.SlippageRate
	} else {
		fill *= 1 - s.SlippageRate
	}

	ticket := s.nextTicket
	s.nextTicket++
	pos := &models.Position{
		Ticket:     ticket,
		Symbol:     s.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		EntryPrice: fill,
		Price:      fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenTime:   bar.Time,
		OwnerTag:   req.OwnerTag,
	}
	s.positions[ticket] = pos

	return &models.OrderResult{
		Ticket:     ticket,
		Symbol:     s.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		FillPrice:  fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Time:       bar.Time,
		OwnerTag:   req.OwnerTag,
	}, nil
}

// ModifyPosition 修改持仓的止损和止盈。
func (s *SimBroker) ModifyPosition(ticket int64, stopLoss, takeProfit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[ticket]
	if !ok {
		return fmt.Errorf("未找到持仓 %d", ticket)
	}
	p.StopLoss = stopLoss
	p.TakeProfit = takeProfit
	return nil
}

// ClosePosition 以当前收盘价加滑点平掉持仓。
func (s *SimBroker) ClosePosition(ticket int64) (*models.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[ticket]
	if !ok {
		return nil, fmt.Errorf("未找到持仓 %d", ticket)
	}

	bar := s.currentBar()
	fill := bar.Close
	if p.Side == models.Buy {
		// 平多为卖出
		fill *= 1 - s.SlippageRate
	} else {
		fill *= 1 + s.SlippageRate
	}

	trade := s.closeAt(ticket, fill, bar.Time, "exit_signal")
	return &models.OrderResult{
		Ticket:    trade.Ticket,
		Symbol:    trade.Symbol,
		Side:      trade.Side.Opposite(),
		Volume:    trade.Volume,
		FillPrice: fill,
		Time:      bar.Time,
		OwnerTag:  trade.OwnerTag,
	}, nil
}

// CurrentTime 返回当前K线的时间。
func (s *SimBroker) CurrentTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentBar().Time
}

// Equity 返回当前权益。
func (s *SimBroker) Equity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.equityLocked()
}

// MaxDrawdown 基于权益曲线计算回测期间的最大回撤比例。
func (s *SimBroker) MaxDrawdown() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	peak := s.InitialBalance
	maxDD := 0.0
	for _, eq := range s.EquityCurve {
		peak = math.Max(peak, eq)
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-eq)/peak)
		}
	}
	return maxDD
}
