package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"multi-strategy-bot-go/internal/broker"
	"multi-strategy-bot-go/internal/journal"
	"multi-strategy-bot-go/internal/models"
	"multi-strategy-bot-go/internal/risk"
	"multi-strategy-bot-go/internal/session"
	"multi-strategy-bot-go/internal/strategy"
	"multi-strategy-bot-go/internal/telemetry"
	"multi-strategy-bot-go/internal/tracker"

	"go.uber.org/zap"
)

// Engine 是多策略调度器的核心结构。每个tick按固定顺序执行：
// 拉取数据 -> 移动止损 -> 离场扫描 -> 按优先级入场扫描。
// 账户和持仓快照在一个tick内只拉取一次，不在tick中途重取。
type Engine struct {
	config    *models.Config
	broker    broker.Broker
	risk      *risk.Manager
	session   *session.Manager
	journal   *journal.Writer    // 可为 nil
	metrics   *telemetry.Metrics // 可为 nil
	instances []*strategy.Instance
	loc       *time.Location

	isRunning   bool
	mutex       sync.RWMutex
	stopChannel chan bool
	logger      *zap.Logger
	lookback    int
}

// New 创建调度引擎。只装配启用的策略，并按优先级从高到低排序，
// 优先级相同时按名称排序保证确定性。
func New(cfg *models.Config, b broker.Broker, rm *risk.Manager, sm *session.Manager, jw *journal.Writer, tm *telemetry.Metrics, logger *zap.Logger) (*Engine, error) {
	var instances []*strategy.Instance
	lookback := cfg.LookbackBars
	for _, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		inst, err := strategy.NewInstance(sc)
		if err != nil {
			return nil, fmt.Errorf("装配策略 %s 失败: %v", sc.Name, err)
		}
		if min := inst.Strategy.MinimumBars(); min > lookback {
			lookback = min
		}
		instances = append(instances, inst)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("没有启用任何策略")
	}

	sort.SliceStable(instances, func(i, j int) bool {
		if instances[i].Config.Priority != instances[j].Config.Priority {
			return instances[i].Config.Priority > instances[j].Config.Priority
		}
		return instances[i].Config.Name < instances[j].Config.Name
	})

	loc := time.UTC
	if cfg.Hours.Timezone != "" {
		l, err := time.LoadLocation(cfg.Hours.Timezone)
		if err != nil {
			return nil, fmt.Errorf("无效的交易时区 %s: %v", cfg.Hours.Timezone, err)
		}
		loc = l
	}

	return &Engine{
		config:      cfg,
		broker:      b,
		risk:        rm,
		session:     sm,
		journal:     jw,
		metrics:     tm,
		instances:   instances,
		loc:         loc,
		stopChannel: make(chan bool),
		logger:      logger,
		lookback:    lookback,
	}, nil
}

// Instances 返回按执行顺序排列的策略实例。
func (e *Engine) Instances() []*strategy.Instance {
	return e.instances
}

// Start 启动实盘模式的tick循环和状态监控。
func (e *Engine) Start() error {
	e.mutex.Lock()
	if e.isRunning {
		e.mutex.Unlock()
		return fmt.Errorf("引擎已在运行")
	}
	e.isRunning = true
	e.stopChannel = make(chan bool)
	e.mutex.Unlock()

	go e.tickLoop()
	go e.monitorStatus()

	e.logger.Sugar().Infof("调度引擎已启动, 策略数: %d, 回看K线: %d", len(e.instances), e.lookback)
	return nil
}

// Stop 停止引擎。
func (e *Engine) Stop() {
	e.mutex.Lock()
	if !e.isRunning {
		e.mutex.Unlock()
		return
	}
	e.isRunning = false
	close(e.stopChannel)
	e.mutex.Unlock()
	e.logger.Sugar().Info("调度引擎已停止")
}

// tickLoop 是实盘模式的主循环。
func (e *Engine) tickLoop() {
	interval := time.Duration(e.config.TickIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChannel:
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick 执行一个完整的调度周期。回测模式在每根K线上直接调用。
func (e *Engine) Tick() {
	start := time.Now()
	if e.metrics != nil {
		e.metrics.TicksTotal.Inc()
		defer func() {
			e.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}()
	}

	now := e.broker.CurrentTime()

	// 阶段1: 拉取本tick的市场与账户快照
	bars, err := e.broker.GetBars(e.config.Symbol, e.config.Timeframe, e.lookback)
	if err != nil {
		e.tickError("获取K线失败", err)
		return
	}
	if len(bars) == 0 {
		return
	}
	acct, err := e.broker.GetAccountSnapshot()
	if err != nil {
		e.tickError("获取账户快照失败", err)
		return
	}
	spec, err := e.broker.GetSymbolSpec(e.config.Symbol)
	if err != nil {
		e.tickError("获取品种信息失败", err)
		return
	}
	positions, err := e.broker.GetOpenPositions(e.config.Symbol)
	if err != nil {
		e.tickError("获取持仓失败", err)
		return
	}

	e.session.DispatchEvent(session.Event{Type: session.TickEvent, Timestamp: now, Data: session.TickData{Account: *acct}})
	book := tracker.Build(positions)

	// 阶段2: 移动止损
	e.risk.UpdateTrailingStops(book.All(), spec, e.broker)

	// 阶段3: 离场扫描，离场信号优先于一切新入场
	e.scanExits(bars, book, spec, now)

	// 阶段4: 按优先级入场扫描，交易时段之外只管理持仓不开新仓
	if e.withinTradingHours(now) {
		e.scanEntries(bars, book, acct, spec)
	}

	e.updateGauges(acct, book)
}

// tickError 记录一次失败的tick。单次失败不终止引擎，等待下一个tick重试。
func (e *Engine) tickError(msg string, err error) {
	e.logger.Error(msg, zap.Error(err))
	if e.metrics != nil {
		e.metrics.TickErrors.Inc()
	}
}

// scanExits 将每个策略的持仓交回该策略做离场判定。
// 归属标签不属于任何已装配策略的持仓不做处理。
func (e *Engine) scanExits(bars models.BarSeries, book *tracker.Book, spec *models.SymbolSpec, now time.Time) {
	for _, inst := range e.instances {
		for _, pos := range book.Owned(inst.Config.Name) {
			if !inst.Strategy.ShouldExit(bars, pos) {
				continue
			}
			result, err := e.broker.ClosePosition(pos.Ticket)
			if err != nil {
				e.logger.Error("平仓失败",
					zap.Int64("ticket", pos.Ticket),
					zap.String("strategy", inst.Config.Name),
					zap.Error(err))
				continue
			}
			// 本tick平掉的仓位立即从持仓簿移除，腾出的名额
			// 在随后的入场扫描中即可复用
			book.Drop(pos.Ticket)
			trade := closedTrade(pos, result, spec, now)
			e.recordClose(trade)
		}
	}
}

// scanEntries 按优先级顺序评估各策略的入场信号。
func (e *Engine) scanEntries(bars models.BarSeries, book *tracker.Book, acct *models.AccountSnapshot, spec *models.SymbolSpec) {
	for _, inst := range e.instances {
		name := inst.Config.Name

		// 达到该策略的持仓上限时跳过评估
		if inst.Config.MaxPositions > 0 && book.Count(name) >= inst.Config.MaxPositions {
			continue
		}

		sig := inst.Evaluate(bars)
		if sig == nil {
			continue
		}
		if e.metrics != nil {
			e.metrics.SignalsTotal.WithLabelValues(name, string(sig.Side)).Inc()
		}
		e.logger.Info("产生入场信号",
			zap.String("strategy", name),
			zap.String("side", string(sig.Side)),
			zap.Time("bar_time", sig.Time))

		if !e.risk.TradingAllowed(acct, book.All(), name, inst.Config.MaxPositions) {
			e.rejectTrade(name, "风控限制，放弃入场")
			continue
		}

		entryPrice := spec.Ask
		if sig.Side == models.Sell {
			entryPrice = spec.Bid
		}
		stopLoss := inst.Strategy.StopPrice(bars, sig.Side, entryPrice)
		takeProfit := inst.Strategy.TargetPrice(bars, sig.Side, entryPrice)

		volume := e.risk.PositionSize(acct, spec, entryPrice, stopLoss, inst.Config.RiskPerTrade)
		if volume <= 0 {
			e.rejectTrade(name, "计算手数为零，放弃入场")
			continue
		}

		validation := e.risk.ValidateTrade(acct, book.All(), spec, sig.Side, volume, entryPrice, stopLoss, takeProfit)
		for _, warning := range validation.Warnings {
			e.logger.Warn("交易校验警告", zap.String("strategy", name), zap.String("warning", warning))
		}
		if !validation.Valid {
			for _, msg := range validation.Errors {
				e.logger.Warn("交易校验未通过", zap.String("strategy", name), zap.String("error", msg))
			}
			e.rejectTrade(name, "校验未通过")
			continue
		}

		result, err := e.broker.SubmitMarketOrder(&models.OrderRequest{
			Symbol:     e.config.Symbol,
			Side:       sig.Side,
			Volume:     validation.AdjustedVolume,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			OwnerTag:   name,
		})
		if err != nil {
			e.logger.Error("下单失败", zap.String("strategy", name), zap.Error(err))
			if e.metrics != nil {
				e.metrics.TradesRejected.WithLabelValues(name).Inc()
			}
			continue
		}

		e.session.DispatchEvent(session.Event{
			Type:      session.TradeOpenedEvent,
			Timestamp: result.Time,
			Data:      session.TradeOpenedData{Result: *result},
		})
		if e.metrics != nil {
			e.metrics.TradesSubmitted.WithLabelValues(name).Inc()
		}
		e.logger.Info("已开仓",
			zap.String("strategy", name),
			zap.Int64("ticket", result.Ticket),
			zap.String("side", string(result.Side)),
			zap.Float64("volume", result.Volume),
			zap.Float64("fill_price", result.FillPrice))
	}
}

// rejectTrade 记录一次被放弃的入场。
func (e *Engine) rejectTrade(name, reason string) {
	e.logger.Info(reason, zap.String("strategy", name))
	if e.metrics != nil {
		e.metrics.TradesRejected.WithLabelValues(name).Inc()
	}
}

// recordClose 将一笔平仓同时写入会话、日志文件和指标。
func (e *Engine) recordClose(trade models.ClosedTrade) {
	e.session.DispatchEvent(session.Event{
		Type:      session.TradeClosedEvent,
		Timestamp: trade.CloseTime,
		Data:      session.TradeClosedData{Trade: trade},
	})
	if e.journal != nil {
		if err := e.journal.Record(trade); err != nil {
			e.logger.Error("写入交易日志失败", zap.Error(err))
		}
	}
	if e.metrics != nil {
		e.metrics.TradesClosed.WithLabelValues(trade.OwnerTag, trade.Reason).Inc()
	}
}

// closedTrade 由持仓快照和平仓回执构造一笔已完成交易。
func closedTrade(pos models.Position, result *models.OrderResult, spec *models.SymbolSpec, now time.Time) models.ClosedTrade {
	diff := result.FillPrice - pos.EntryPrice
	if pos.Side == models.Sell {
		diff = -diff
	}
	return models.ClosedTrade{
		Ticket:     pos.Ticket,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Volume:     pos.Volume,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  result.FillPrice,
		Profit:     diff * pos.Volume * spec.ContractSize,
		OpenTime:   pos.OpenTime,
		CloseTime:  now,
		Duration:   now.Sub(pos.OpenTime),
		OwnerTag:   pos.OwnerTag,
		Reason:     "exit_signal",
	}
}

// withinTradingHours 判断当前时间是否在配置的交易时段内。
// 未配置交易日时不限制。
func (e *Engine) withinTradingHours(now time.Time) bool {
	hours := e.config.Hours
	if len(hours.Days) == 0 {
		return true
	}

	local := now.In(e.loc)
	dayOK := false
	for _, d := range hours.Days {
		if time.Weekday(d) == local.Weekday() {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}

	hour := local.Hour()
	if hours.StartHour <= hours.EndHour {
		return hour >= hours.StartHour && hour < hours.EndHour
	}
	// 跨越午夜的时段, e.g., 22点到次日6点
	return hour >= hours.StartHour || hour < hours.EndHour
}

// updateGauges 刷新账户和持仓相关的指标。
func (e *Engine) updateGauges(acct *models.AccountSnapshot, book *tracker.Book) {
	if e.metrics == nil {
		return
	}
	e.metrics.Balance.Set(acct.Balance)
	e.metrics.Equity.Set(acct.Equity)
	for _, inst := range e.instances {
		e.metrics.OpenPositions.WithLabelValues(inst.Config.Name).Set(float64(book.Count(inst.Config.Name)))
	}
}

// monitorStatus 定期打印引擎状态。
func (e *Engine) monitorStatus() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChannel:
			return
		case <-ticker.C:
			e.printStatus()
		}
	}
}

// printStatus 打印会话和持仓概览。
func (e *Engine) printStatus() {
	state := e.session.GetStateSnapshot()
	positions, err := e.broker.GetOpenPositions(e.config.Symbol)
	if err != nil {
		e.logger.Warn("获取持仓失败", zap.Error(err))
		return
	}

	s := e.logger.Sugar()
	s.Info("========== 引擎状态 ==========")
	s.Infof("交易日: %s, 开仓: %d, 平仓: %d, 累计盈亏: %.2f",
		state.Day, state.TradesOpened, state.TradesClosed, state.TotalProfit)
	if state.DailyLossTripped || state.DrawdownTripped {
		s.Warnf("风控熔断: 日亏损=%v 回撤=%v", state.DailyLossTripped, state.DrawdownTripped)
	}
	s.Infof("当前持仓数: %d", len(positions))
	for _, pos := range positions {
		s.Infof("  - [%d] %s %s %.2f @ %.5f 盈亏: %.2f (%s)",
			pos.Ticket, pos.Symbol, pos.Side, pos.Volume, pos.EntryPrice, pos.Profit, pos.OwnerTag)
	}
	s.Info("==============================")
}
