package agent

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

func checkpointFixture(t *testing.T) *portfolio.Portfolio {
	t.Helper()
	p, err := portfolio.New("fixture", 5000)
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err = p.ApplyFill(portfolio.Fill{
		Asset: "BTC", Side: portfolio.SideBuy, Quantity: 2, Price: 1000, Timestamp: at,
	})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		p.MarkToMarket(map[string]float64{"BTC": 1000 + float64(i)*10}, at.Add(time.Duration(i)*time.Hour))
	}
	return p
}

func TestStateRoundTrip(t *testing.T) {
	p := checkpointFixture(t)
	at := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	state := stateFromPortfolio(p, 0, at)
	assert.Equal(t, "fixture", state.Account)
	assert.InDelta(t, 3000.0, state.Cash, 1e-9)
	require.Len(t, state.Positions, 1)
	assert.Len(t, state.Curve, 5)
	assert.Equal(t, at, state.UpdatedAt)

	restored, err := state.restore()
	require.NoError(t, err)
	assert.Equal(t, p.Cash, restored.Cash)
	assert.Equal(t, p.Position("BTC"), restored.Position("BTC"))
	assert.Equal(t, p.EquityCurve, restored.EquityCurve)

	// The restored portfolio is independent of the checkpoint source.
	restored.Cash = 0
	assert.InDelta(t, 3000.0, p.Cash, 1e-9)
}

func TestStateFromPortfolio_TrimsCurve(t *testing.T) {
	p := checkpointFixture(t)
	state := stateFromPortfolio(p, 2, time.Now().UTC())

	require.Len(t, state.Curve, 2)
	// The tail survives, oldest points are dropped.
	assert.Equal(t, p.EquityCurve[3], state.Curve[0])
	assert.Equal(t, p.EquityCurve[4], state.Curve[1])
}

func TestState_RestoreRejectsCorrupt(t *testing.T) {
	_, err := State{Account: "x", Cash: -1}.restore()
	assert.Error(t, err)

	_, err = State{
		Account:   "x",
		Cash:      100,
		Positions: []portfolio.Position{{Asset: "BTC", Quantity: 0}},
	}.restore()
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, found, err := store.Load(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	state := stateFromPortfolio(checkpointFixture(t), 0, time.Now().UTC())
	require.NoError(t, store.Save(ctx, state))

	loaded, found, err := store.Load(ctx, "fixture")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state.Cash, loaded.Cash)
	assert.Equal(t, state.Positions, loaded.Positions)
}

// Exercises a real Redis when one is provided; CI without Redis skips.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	store := NewRedisStore(addr, 0, time.Minute)
	defer store.Close()
	ctx := context.Background()

	state := stateFromPortfolio(checkpointFixture(t), 0, time.Now().UTC())
	require.NoError(t, store.Save(ctx, state))

	loaded, found, err := store.Load(ctx, "fixture")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, state.Cash, loaded.Cash, 1e-9)

	_, found, err = store.Load(ctx, "never-saved")
	require.NoError(t, err)
	assert.False(t, found)
}
