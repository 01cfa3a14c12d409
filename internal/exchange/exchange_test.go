package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

var execTime = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func TestCostModel_ExecPrice_ShiftsAgainstTheTrade(t *testing.T) {
	costs := CostModel{FeeBps: 10, SlippageBps: 50} // 0.5% slippage

	assert.InDelta(t, 100.5, costs.ExecPrice(100, portfolio.SideBuy), 1e-9, "buys pay up")
	assert.InDelta(t, 99.5, costs.ExecPrice(100, portfolio.SideSell), 1e-9, "sells receive less")
}

func TestCostModel_ZeroCostsAreFree(t *testing.T) {
	costs := CostModel{}

	fill := costs.Fill("BTC-USD", portfolio.SideBuy, 2, 100, execTime)
	assert.Equal(t, 100.0, fill.Price)
	assert.Zero(t, fill.Fee)
}

func TestCostModel_Fill_FeeOnExecutedNotional(t *testing.T) {
	costs := CostModel{FeeBps: 100, SlippageBps: 0} // 1% fee

	fill := costs.Fill("BTC-USD", portfolio.SideBuy, 3, 100, execTime)
	assert.InDelta(t, 3.0, fill.Fee, 1e-9, "1% of 300")
	assert.Equal(t, execTime, fill.Timestamp)
}

func TestDefaultCostModel_TaggedDefaults(t *testing.T) {
	costs := DefaultCostModel()
	assert.Equal(t, 10.0, costs.FeeBps)
	assert.Equal(t, 5.0, costs.SlippageBps)
	assert.NoError(t, costs.Validate())
}

func TestCostModel_Validate_Bounds(t *testing.T) {
	assert.Error(t, CostModel{FeeBps: -1}.Validate())
	assert.Error(t, CostModel{SlippageBps: 2000}.Validate())
	assert.NoError(t, CostModel{FeeBps: 10, SlippageBps: 5}.Validate())
}

func staticPrices(prices map[string]float64) PriceFunc {
	return func(asset string) (float64, bool) {
		p, ok := prices[asset]
		return p, ok
	}
}

func TestPaper_SubmitOrder_FillsAtCostModelPrice(t *testing.T) {
	paper, err := NewPaper(
		CostModel{FeeBps: 10, SlippageBps: 50},
		staticPrices(map[string]float64{"BTC-USD": 100}),
		func() time.Time { return execTime },
	)
	require.NoError(t, err)

	fill, err := paper.SubmitOrder(context.Background(), "BTC-USD", portfolio.SideBuy, 2)
	require.NoError(t, err)

	assert.InDelta(t, 100.5, fill.Price, 1e-9)
	assert.InDelta(t, 2*100.5*0.001, fill.Fee, 1e-9)
	assert.Equal(t, execTime, fill.Timestamp)

	balances, err := paper.Balances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, balances["BTC-USD"])
}

func TestPaper_SubmitOrder_SellReducesBalance(t *testing.T) {
	paper, err := NewPaper(CostModel{}, staticPrices(map[string]float64{"BTC-USD": 100}), func() time.Time { return execTime })
	require.NoError(t, err)

	_, err = paper.SubmitOrder(context.Background(), "BTC-USD", portfolio.SideBuy, 5)
	require.NoError(t, err)
	_, err = paper.SubmitOrder(context.Background(), "BTC-USD", portfolio.SideSell, 3)
	require.NoError(t, err)

	balances, err := paper.Balances(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2.0, balances["BTC-USD"], 1e-9)
}

func TestPaper_SubmitOrder_RejectsOversellAndUnknownAsset(t *testing.T) {
	paper, err := NewPaper(CostModel{}, staticPrices(map[string]float64{"BTC-USD": 100}), nil)
	require.NoError(t, err)

	_, err = paper.SubmitOrder(context.Background(), "BTC-USD", portfolio.SideSell, 1)
	require.Error(t, err)
	var exchErr *Error
	assert.True(t, errors.As(err, &exchErr))

	_, err = paper.SubmitOrder(context.Background(), "DOGE-USD", portfolio.SideBuy, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no reference price")
}

func TestPaper_SubmitOrder_HonorsCancelledContext(t *testing.T) {
	paper, err := NewPaper(CostModel{}, staticPrices(map[string]float64{"BTC-USD": 100}), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = paper.SubmitOrder(ctx, "BTC-USD", portfolio.SideBuy, 1)
	require.Error(t, err)

	balances, err := paper.Balances(context.Background())
	require.NoError(t, err)
	assert.Empty(t, balances)
}
