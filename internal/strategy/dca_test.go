package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

func TestDCA_Evaluate_NeutralBuysBaseAmount(t *testing.T) {
	dca, err := NewDCA(DCAConfig{BaseAmount: 100, Interval: 24 * time.Hour})
	require.NoError(t, err)

	ctx := evalCtx(t, 0, 10000, 50) // NEUTRAL, price 50
	intents := dca.Evaluate(ctx)

	require.Len(t, intents, 1)
	assert.Equal(t, portfolio.SideBuy, intents[0].Side)
	assert.InDelta(t, 2.0, intents[0].Quantity, 1e-9, "$100 at price 50")
	assert.Equal(t, "dca", intents[0].Strategy)
}

func TestDCA_Evaluate_ExtremeFearTriplesTheBuy(t *testing.T) {
	dca, err := NewDCA(DCAConfig{BaseAmount: 100, Interval: 24 * time.Hour})
	require.NoError(t, err)

	ctx := evalCtx(t, -80, 10000, 100) // EXTREME_FEAR, 3.0x
	intents := dca.Evaluate(ctx)

	require.Len(t, intents, 1)
	assert.InDelta(t, 3.0, intents[0].Quantity, 1e-9, "$300 at price 100")
	assert.Contains(t, intents[0].Rationale, "EXTREME_FEAR")
}

func TestDCA_Evaluate_ExtremeGreedQuartersTheBuy(t *testing.T) {
	dca, err := NewDCA(DCAConfig{BaseAmount: 100, Interval: 24 * time.Hour})
	require.NoError(t, err)

	ctx := evalCtx(t, 75, 10000, 100)
	intents := dca.Evaluate(ctx)

	require.Len(t, intents, 1)
	assert.InDelta(t, 0.25, intents[0].Quantity, 1e-9, "$25 at price 100")
}

func TestDCA_Evaluate_RespectsCadence(t *testing.T) {
	dca, err := NewDCA(DCAConfig{BaseAmount: 100, Interval: 24 * time.Hour})
	require.NoError(t, err)

	ctx := evalCtx(t, 0, 10000, 100)
	require.Len(t, dca.Evaluate(ctx), 1, "first evaluation fires")

	ctx.Now = evalTime.Add(6 * time.Hour)
	assert.Empty(t, dca.Evaluate(ctx), "within the interval nothing fires")

	ctx.Now = evalTime.Add(24 * time.Hour)
	assert.Len(t, dca.Evaluate(ctx), 1, "a full interval later fires again")
}

func TestDCA_Evaluate_DailyCadenceFiresEveryDay(t *testing.T) {
	dca, err := NewDCA(DCAConfig{BaseAmount: 100, Interval: 24 * time.Hour})
	require.NoError(t, err)

	fires := 0
	ctx := evalCtx(t, 0, 100000, 100)
	for day := 0; day < 30; day++ {
		ctx.Now = evalTime.AddDate(0, 0, day)
		fires += len(dca.Evaluate(ctx))
	}
	assert.Equal(t, 30, fires, "daily steps with a daily interval fire every step")
}

func TestDCA_Evaluate_NoDataNeverTrades(t *testing.T) {
	dca, err := NewDCA(DefaultDCAConfig())
	require.NoError(t, err)

	ctx := evalCtx(t, 0, 10000, 100)
	ctx.Composite = noDataComposite()

	assert.Empty(t, dca.Evaluate(ctx), "missing data is never treated as neutral")
}

func TestDCA_Evaluate_TracksAssetsIndependently(t *testing.T) {
	dca, err := NewDCA(DCAConfig{BaseAmount: 100, Interval: 24 * time.Hour})
	require.NoError(t, err)

	btc := evalCtx(t, 0, 10000, 100)
	require.Len(t, dca.Evaluate(btc), 1)

	eth := evalCtx(t, 0, 10000, 100)
	eth.Asset = "ETH-USD"
	assert.Len(t, dca.Evaluate(eth), 1, "a fresh asset has its own cadence")
}

func TestNewDCA_RejectsBadConfig(t *testing.T) {
	_, err := NewDCA(DCAConfig{BaseAmount: 0, Interval: time.Hour})
	assert.Error(t, err)
	_, err = NewDCA(DCAConfig{BaseAmount: 100, Interval: 0})
	assert.Error(t, err)
}
