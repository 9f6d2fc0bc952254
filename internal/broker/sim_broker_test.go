package broker

import (
	"testing"
	"time"

	"multi-strategy-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simSpec() models.SymbolSpec {
	return models.SymbolSpec{
		Symbol:       "XAUUSD",
		Digits:       2,
		Point:        0.01,
		MinLot:       0.01,
		MaxLot:       100,
		LotStep:      0.01,
		ContractSize: 1,
		StopsLevel:   10,
		Tradeable:    true,
	}
}

func flatBars(n int, price float64) models.BarSeries {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make(models.BarSeries, n)
	for i := range bars {
		bars[i] = models.Bar{
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: 100,
		}
	}
	return bars
}

func TestSimBroker_MarketOrderOpensPosition(t *testing.T) {
	sim := NewSimBroker("XAUUSD", simSpec(), flatBars(10, 2000), 10000, 0)

	res, err := sim.SubmitMarketOrder(&models.OrderRequest{
		Symbol: "XAUUSD", Side: models.Buy, Volume: 1.0,
		StopLoss: 1990, TakeProfit: 2020, OwnerTag: "ema_crossover",
	})
	require.NoError(t, err)
	assert.Equal(t, 2000.0, res.FillPrice)
	assert.NotZero(t, res.Ticket)

	open, err := sim.GetOpenPositions("XAUUSD")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ema_crossover", open[0].OwnerTag)
	assert.Equal(t, 1990.0, open[0].StopLoss)
}

func TestSimBroker_SlippageOnFill(t *testing.T) {
	sim := NewSimBroker("XAUUSD", simSpec(), flatBars(10, 2000), 10000, 0.001)

	res, err := sim.SubmitMarketOrder(&models.OrderRequest{
		Symbol: "XAUUSD", Side: models.Buy, Volume: 1.0,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2002.0, res.FillPrice, 1e-9)
}

func TestSimBroker_RejectsZeroVolume(t *testing.T) {
	sim := NewSimBroker("XAUUSD", simSpec(), flatBars(10, 2000), 10000, 0)

	_, err := sim.SubmitMarketOrder(&models.OrderRequest{
		Symbol: "XAUUSD", Side: models.Buy, Volume: 0,
	})
	require.Error(t, err)
	var gwErr *models.Error
	require.ErrorAs(t, err, &gwErr)
}

func TestSimBroker_StopLossSweep(t *testing.T) {
	bars := flatBars(3, 2000)
	// Next bar trades down through the stop.
	bars[1].Low = 1985
	bars[1].Close = 1988
	sim := NewSimBroker("XAUUSD", simSpec(), bars, 10000, 0)

	_, err := sim.SubmitMarketOrder(&models.OrderRequest{
		Symbol: "XAUUSD", Side: models.Buy, Volume: 2.0, StopLoss: 1990,
	})
	require.NoError(t, err)

	require.True(t, sim.Advance())

	open, _ := sim.GetOpenPositions("XAUUSD")
	assert.Empty(t, open)
	require.Len(t, sim.TradeLog, 1)
	trade := sim.TradeLog[0]
	assert.Equal(t, "stop_loss", trade.Reason)
	assert.Equal(t, 1990.0, trade.ExitPrice)
	// (1990 - 2000) * 2 lots * contract size 1
	assert.InDelta(t, -20.0, trade.Profit, 1e-9)
	assert.InDelta(t, 9980.0, sim.Balance, 1e-9)
}

func TestSimBroker_TakeProfitSweepShort(t *testing.T) {
	bars := flatBars(3, 2000)
	bars[1].Low = 1975
	bars[1].Close = 1980
	sim := NewSimBroker("XAUUSD", simSpec(), bars, 10000, 0)

	_, err := sim.SubmitMarketOrder(&models.OrderRequest{
		Symbol: "XAUUSD", Side: models.Sell, Volume: 1.0, TakeProfit: 1980,
	})
	require.NoError(t, err)

	require.True(t, sim.Advance())

	require.Len(t, sim.TradeLog, 1)
	assert.Equal(t, "take_profit", sim.TradeLog[0].Reason)
	assert.InDelta(t, 20.0, sim.TradeLog[0].Profit, 1e-9)
}

func TestSimBroker_ClosePositionRealizes(t *testing.T) {
	bars := flatBars(3, 2000)
	bars[1].Close = 2010
	bars[1].High = 2010
	sim := NewSimBroker("XAUUSD", simSpec(), bars, 10000, 0)

	res, err := sim.SubmitMarketOrder(&models.OrderRequest{
		Symbol: "XAUUSD", Side: models.Buy, Volume: 1.0, OwnerTag: "macd_cross",
	})
	require.NoError(t, err)
	require.True(t, sim.Advance())

	closed, err := sim.ClosePosition(res.Ticket)
	require.NoError(t, err)
	assert.Equal(t, models.Sell, closed.Side)
	assert.InDelta(t, 2010.0, closed.FillPrice, 1e-9)
	assert.InDelta(t, 10010.0, sim.Balance, 1e-9)

	require.Len(t, sim.TradeLog, 1)
	assert.Equal(t, "exit_signal", sim.TradeLog[0].Reason)
	assert.Equal(t, "macd_cross", sim.TradeLog[0].OwnerTag)
}

func TestSimBroker_GetBarsWindow(t *testing.T) {
	sim := NewSimBroker("XAUUSD", simSpec(), flatBars(10, 2000), 10000, 0)
	for i := 0; i < 5; i++ {
		require.True(t, sim.Advance())
	}

	bars, err := sim.GetBars("XAUUSD", "H1", 3)
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, sim.CurrentTime(), bars.Last().Time)

	all, err := sim.GetBars("XAUUSD", "H1", 100)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestSimBroker_AdvanceExhausts(t *testing.T) {
	sim := NewSimBroker("XAUUSD", simSpec(), flatBars(3, 2000), 10000, 0)
	assert.True(t, sim.Advance())
	assert.True(t, sim.Advance())
	assert.False(t, sim.Advance())
}
