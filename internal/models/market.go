package models

import "time"

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Bar 定义了一根K线
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// BarSeries 是按时间升序排列的K线序列，策略只消费尾部窗口
type BarSeries []Bar

// Last 返回最后一根K线，序列为空时返回零值
func (s BarSeries) Last() Bar {
	if len(s) == 0 {
		return Bar{}
	}
	return s[len(s)-1]
}

// Prev 返回倒数第二根K线
func (s BarSeries) Prev() Bar {
	if len(s) < 2 {
		return Bar{}
	}
	return s[len(s)-2]
}

// Tail 返回最后n根K线组成的子序列（共享底层数组）
func (s BarSeries) Tail(n int) BarSeries {
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// Closes 提取收盘价序列
func (s BarSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Highs 提取最高价序列
func (s BarSeries) Highs() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.High
	}
	return out
}

// Lows 提取最低价序列
func (s BarSeries) Lows() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Low
	}
	return out
}

// Volumes 提取成交量序列
func (s BarSeries) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Volume
	}
	return out
}

// Signal 是策略在某个tick上产生的方向信号。
// 没有信号时以 nil 表示，信号从不跨tick保存。
type Signal struct {
	Side     Side      `json:"side"`
	Strategy string    `json:"strategy"` // 产生信号的策略标识
	Time     time.Time `json:"time"`     // 信号所在tick的K线时间
}

// Position 定义了持仓信息，唯一权威副本在交易网关侧
type Position struct {
	Ticket     int64     `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`
	Price      float64   `json:"price"`       // 当前市场价
	StopLoss   float64   `json:"stop_loss"`   // 0 表示未设置
	TakeProfit float64   `json:"take_profit"` // 0 表示未设置
	Profit     float64   `json:"profit"`      // 未实现盈亏
	OpenTime   time.Time `json:"open_time"`
	OwnerTag   string    `json:"owner_tag"` // 开仓时嵌入的归属标签
}

// AccountSnapshot 定义了每个tick刷新的账户快照
type AccountSnapshot struct {
	Balance      float64 `json:"balance"`
	Equity       float64 `json:"equity"`
	Margin       float64 `json:"margin"`
	FreeMargin   float64 `json:"free_margin"`
	Profit       float64 `json:"profit"` // 浮动盈亏
	Leverage     float64 `json:"leverage"`
	Currency     string  `json:"currency"`
	TradeAllowed bool    `json:"trade_allowed"`
}

// SymbolSpec 定义了品种的交易规则
type SymbolSpec struct {
	Symbol       string  `json:"symbol"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Digits       int     `json:"digits"`        // 报价小数位
	Point        float64 `json:"point"`         // 最小报价增量
	MinLot       float64 `json:"min_lot"`       // 最小手数
	MaxLot       float64 `json:"max_lot"`       // 最大手数
	LotStep      float64 `json:"lot_step"`      // 手数步长
	ContractSize float64 `json:"contract_size"` // 每手合约规模
	StopsLevel   float64 `json:"stops_level"`   // 止损/止盈最小距离（点）
	Tradeable    bool    `json:"tradeable"`
}

// OrderRequest 定义了提交到网关的市价单请求
type OrderRequest struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Volume     float64 `json:"volume"`
	StopLoss   float64 `json:"stop_loss"`   // 0 表示不设置
	TakeProfit float64 `json:"take_profit"` // 0 表示不设置
	OwnerTag   string  `json:"owner_tag"`   // 写入订单注释用于归属
	ClientID   string  `json:"client_id"`   // 幂等客户端订单号
}

// OrderResult 定义了网关接受市价单后的回执
type OrderResult struct {
	Ticket     int64     `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	FillPrice  float64   `json:"fill_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Time       time.Time `json:"time"`
	OwnerTag   string    `json:"owner_tag"`
	RetCode    int       `json:"ret_code"`
}

// ClosedTrade 记录了一笔已完成的往返交易
type ClosedTrade struct {
	Ticket     int64         `json:"ticket"`
	Symbol     string        `json:"symbol"`
	Side       Side          `json:"side"`
	Volume     float64       `json:"volume"`
	EntryPrice float64       `json:"entry_price"`
	ExitPrice  float64       `json:"exit_price"`
	Profit     float64       `json:"profit"`
	OpenTime   time.Time     `json:"open_time"`
	CloseTime  time.Time     `json:"close_time"`
	Duration   time.Duration `json:"duration"`
	OwnerTag   string        `json:"owner_tag"`
	Reason     string        `json:"reason"` // stop_loss / take_profit / exit_signal
}

// TradeValidation 是风控校验一笔预期交易的结果。
// Errors 非空时该交易必须被拒绝，Warnings 表示已做安全调整后放行。
type TradeValidation struct {
	Valid          bool     `json:"valid"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings"`
	AdjustedVolume float64  `json:"adjusted_volume"`
}
