package models

import "fmt"

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	Symbol         string           `json:"symbol" validate:"required"`          // 交易品种，如 "XAUUSD"
	Timeframe      string           `json:"timeframe" validate:"required"`       // K线周期: M1, M5, M15, M30, H1, H4, D1
	LookbackBars   int              `json:"lookback_bars" validate:"gte=50"`     // 每个tick拉取的历史K线数量
	TickIntervalMs int              `json:"tick_interval_ms" validate:"gte=100"` // 主循环tick间隔（毫秒）
	BrokerAPIURL   string           `json:"broker_api_url"`                      // 行情/交易网关 REST 地址
	BrokerWSURL    string           `json:"broker_ws_url"`                       // 行情网关 WebSocket 地址
	DBPath         string           `json:"db_path"`                             // 会话状态数据库路径
	TradesFile     string           `json:"trades_file"`                         // 成交流水CSV路径，空则不记录
	MetricsListen  string           `json:"metrics_listen,omitempty"`            // /metrics 监听地址，空则关闭
	Risk           RiskLimits       `json:"risk" validate:"required"`            // 全局风控参数
	Backtest       BacktestConfig   `json:"backtest"`                            // 回测参数
	Hours          TradingHours     `json:"trading_hours"`                       // 交易时段
	Strategies     []StrategyConfig `json:"strategies" validate:"required,dive"` // 策略列表
	LogConfig      LogConfig        `json:"log"`                                 // 日志配置
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// RiskLimits 定义全局风控阈值
type RiskLimits struct {
	MaxPositions       int     `json:"max_positions" validate:"gte=1"`         // 全局最大持仓数
	RiskPerTrade       float64 `json:"risk_per_trade" validate:"gt=0,lte=0.1"` // 单笔风险占余额比例
	MaxDailyLoss       float64 `json:"max_daily_loss" validate:"gt=0,lte=0.5"` // 当日最大亏损占余额比例
	MaxDrawdown        float64 `json:"max_drawdown" validate:"gt=0,lte=0.5"`   // 最大回撤占余额比例
	TrailingStop       bool    `json:"trailing_stop"`                          // 是否启用移动止损
	TrailingStopPoints float64 `json:"trailing_stop_points" validate:"gte=0"`  // 移动止损距离（点）
}

// BacktestConfig 定义回测模拟器的参数，实盘模式忽略
type BacktestConfig struct {
	InitialBalance float64 `json:"initial_balance"` // 初始资金，0则默认10000
	SlippageRate   float64 `json:"slippage_rate"`   // 市价单滑点比例
	ContractSize   float64 `json:"contract_size"`   // 每手合约规模，0则默认100
	Point          float64 `json:"point"`           // 最小报价增量，0则默认0.01
}

// TradingHours 定义允许开仓的时段，时段外只管理持仓，不开新仓
type TradingHours struct {
	Days      []int  `json:"days"`       // 允许交易的星期（time.Weekday 语义，0=周日）
	StartHour int    `json:"start_hour"` // 开始小时（含）
	EndHour   int    `json:"end_hour"`   // 结束小时（不含）
	Timezone  string `json:"timezone"`   // IANA 时区名，空则为 UTC
}

// StrategyConfig 定义单个策略实例的不可变参数
type StrategyConfig struct {
	Name         string             `json:"name" validate:"required"`       // 策略标识，同时作为订单归属标签
	Enabled      bool               `json:"enabled"`                        // 是否参与扫描
	Priority     int                `json:"priority"`                       // 扫描优先级，大者先扫
	MaxPositions int                `json:"max_positions" validate:"gte=1"` // 该策略最大并发持仓数
	RiskPerTrade float64            `json:"risk_per_trade,omitempty"`       // 覆盖全局单笔风险比例，0则用全局值
	CooldownSec  int                `json:"cooldown_sec" validate:"gte=0"`  // 同策略两次信号的最小间隔（秒）
	Params       map[string]float64 `json:"params"`                         // 策略私有参数（周期、阈值、ATR倍数等）
}

// Param 读取策略私有参数，缺失时返回默认值
func (c StrategyConfig) Param(key string, def float64) float64 {
	if v, ok := c.Params[key]; ok {
		return v
	}
	return def
}

// Error 定义了交易网关返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 Error 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
