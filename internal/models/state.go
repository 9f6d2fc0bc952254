package models

import "time"

// SessionState 定义了需要跨重启持久化的会话状态。
// 风控熔断标志必须持久化，避免重启清掉当日已触发的限制。
type SessionState struct {
	BotID            string    `json:"bot_id"`             // Bot的唯一标识符
	Symbol           string    `json:"symbol"`             // 交易品种
	Version          int       `json:"version"`            // 状态模型的版本号，用于未来迁移
	Day              string    `json:"day"`                // UTC交易日, e.g., "2026-08-29"
	StartBalance     float64   `json:"start_balance"`      // 会话起始余额
	DailyRealized    float64   `json:"daily_realized"`     // 当日已实现盈亏
	DailyLossTripped bool      `json:"daily_loss_tripped"` // 当日亏损熔断是否已触发
	DrawdownTripped  bool      `json:"drawdown_tripped"`   // 回撤熔断是否已触发
	TradesOpened     int       `json:"trades_opened"`      // 累计开仓笔数
	TradesClosed     int       `json:"trades_closed"`      // 累计平仓笔数
	TotalProfit      float64   `json:"total_profit"`       // 累计已实现盈亏
	LastUpdateTime   time.Time `json:"last_update_time"`   // 状态最后更新的时间戳
}
