package reporter

import (
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"multi-strategy-bot-go/internal/broker"
	"multi-strategy-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Metrics 存储计算出的回测性能指标
type Metrics struct {
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64
	MaxDrawdown      float64
	StartTime        time.Time
	EndTime          time.Time
}

// StrategyMetrics 是单个策略的绩效分解
type StrategyMetrics struct {
	Name        string
	Trades      int
	Wins        int
	WinRate     float64
	TotalProfit float64
}

// GenerateReport 根据模拟网关的状态计算并打印回测报告
func GenerateReport(sim *broker.SimBroker, dataPath string, startTime, endTime time.Time) {
	metrics := calculateMetrics(sim)
	metrics.StartTime = startTime
	metrics.EndTime = endTime

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("回测结果报告")
	t.AppendRows([]table.Row{
		{"数据文件", dataPath},
		{"交易品种", sim.Symbol},
		{"回测周期", metrics.StartTime.Format("2006-01-02 15:04") + " 到 " + metrics.EndTime.Format("2006-01-02 15:04")},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始资金", formatMoney(metrics.InitialBalance)},
		{"最终资金", formatMoney(metrics.FinalBalance)},
		{"总利润", formatMoney(metrics.TotalProfit)},
		{"收益率", formatPct(metrics.ProfitPercentage)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"总交易次数", metrics.TotalTrades},
		{"盈利次数", metrics.WinningTrades},
		{"亏损次数", metrics.LosingTrades},
		{"胜率", formatPct(metrics.WinRate)},
		{"平均盈亏比", formatRatio(metrics.AvgProfitLoss)},
		{"最大回撤", formatPct(metrics.MaxDrawdown)},
	})
	t.Render()

	renderStrategyBreakdown(sim.TradeLog)
}

// renderStrategyBreakdown 按策略归属标签打印绩效分解表
func renderStrategyBreakdown(trades []models.ClosedTrade) {
	if len(trades) == 0 {
		return
	}

	byOwner := make(map[string]*StrategyMetrics)
	for _, trade := range trades {
		tag := trade.OwnerTag
		if tag == "" {
			tag = "(未标记)"
		}
		m, ok := byOwner[tag]
		if !ok {
			m = &StrategyMetrics{Name: tag}
			byOwner[tag] = m
		}
		m.Trades++
		if trade.Profit > 0 {
			m.Wins++
		}
		m.TotalProfit += trade.Profit
	}

	names := make([]string, 0, len(byOwner))
	for name := range byOwner {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("策略绩效分解")
	t.AppendHeader(table.Row{"策略", "交易次数", "胜率", "总盈亏"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	for _, name := range names {
		m := byOwner[name]
		m.WinRate = float64(m.Wins) / float64(m.Trades) * 100
		t.AppendRow(table.Row{m.Name, m.Trades, formatPct(m.WinRate), formatMoney(m.TotalProfit)})
	}
	t.Render()
}

func calculateMetrics(sim *broker.SimBroker) *Metrics {
	m := &Metrics{}
	m.InitialBalance = sim.InitialBalance
	m.FinalBalance = sim.Equity()
	m.TotalTrades = len(sim.TradeLog)

	var totalProfit, totalLoss float64
	for _, trade := range sim.TradeLog {
		if trade.Profit > 0 {
			m.WinningTrades++
			totalProfit += trade.Profit
		} else {
			m.LosingTrades++
			totalLoss += trade.Profit
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		m.AvgProfitLoss = avgWin / avgLoss
	}

	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = (m.TotalProfit / m.InitialBalance) * 100
	}
	m.MaxDrawdown = sim.MaxDrawdown() * 100

	return m
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + " USD"
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}

func formatRatio(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
