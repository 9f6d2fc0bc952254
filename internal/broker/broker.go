package broker

import (
	"time"

	"multi-strategy-bot-go/internal/models"
)

// Broker 定义了与交易网关交互的通用接口。
// 所有实现必须保证持仓与账户数据来自网关侧的权威副本。
type Broker interface {
	GetBars(symbol, timeframe string, count int) (models.BarSeries, error)
	GetAccountSnapshot() (*models.AccountSnapshot, error)
	GetSymbolSpec(symbol string) (*models.SymbolSpec, error)
	GetOpenPositions(symbol string) ([]models.Position, error)
	SubmitMarketOrder(req *models.OrderRequest) (*models.OrderResult, error)
	ModifyPosition(ticket int64, stopLoss, takeProfit float64) error
	ClosePosition(ticket int64) (*models.OrderResult, error)
	CurrentTime() time.Time
}
