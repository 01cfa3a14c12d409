package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentigrade/sentigrade/internal/signal"
)

func tickerClient(t *testing.T) *Client {
	t.Helper()
	return testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tickerPayload))
	})
}

func TestChange_ScoresSessionMove(t *testing.T) {
	source := NewChange(tickerClient(t), 1)

	assert.Equal(t, "kraken_change", source.Name())
	assert.Equal(t, signal.CategoryMomentum, source.Category())

	sample, err := source.Fetch(context.Background(), "BTC")
	require.NoError(t, err)

	// +0.78% on the session scales to +7.81.
	assert.InDelta(t, 0.7814, sample.Value, 1e-3)
	assert.InDelta(t, 7.814, sample.Score, 1e-2)
	assert.False(t, sample.Timestamp.IsZero())
}

func TestRangePosition_ScoresCloseLocation(t *testing.T) {
	source := NewRangePosition(tickerClient(t), 1)

	assert.Equal(t, signal.CategoryTechnical, source.Category())

	sample, err := source.Fetch(context.Background(), "BTC")
	require.NoError(t, err)

	// Last sits 62.5% up the 62000..66000 band.
	assert.InDelta(t, 0.625, sample.Value, 1e-3)
	assert.InDelta(t, 25.0, sample.Score, 0.1)
}

func TestRangePosition_FlatBandIsNeutral(t *testing.T) {
	flat := `{"error":[],"result":{"XXBTZUSD":{
		"c":["100.0","1"],"v":["10","20"],"p":["100.0","100.0"],
		"l":["100.0","100.0"],"h":["100.0","100.0"],"o":"100.0"}}}`
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(flat))
	})

	sample, err := NewRangePosition(client, 1).Fetch(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Zero(t, sample.Score)
}

func TestRangeWidth_WideRangeReadsAsFear(t *testing.T) {
	source := NewRangeWidth(tickerClient(t), 1)

	assert.Equal(t, signal.CategoryVolatility, source.Category())

	sample, err := source.Fetch(context.Background(), "BTC")
	require.NoError(t, err)

	// 6.26% realized range is past the 5% neutral point.
	assert.InDelta(t, 6.26, sample.Value, 0.01)
	assert.InDelta(t, -25.2, sample.Score, 0.1)
}

func TestVolumePace_BehindPaceReadsAsFear(t *testing.T) {
	source := NewVolumePace(tickerClient(t), 1)
	source.clock = func() time.Time {
		return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	}

	assert.Equal(t, signal.CategoryVolume, source.Category())

	sample, err := source.Fetch(context.Background(), "BTC")
	require.NoError(t, err)

	// Half the day expects half the 24h volume; today runs at 50% of that.
	assert.InDelta(t, 0.5, sample.Value, 0.01)
	assert.InDelta(t, -50.0, sample.Score, 0.5)
}

func TestVolumePace_EarlyDayIsUnavailable(t *testing.T) {
	source := NewVolumePace(tickerClient(t), 1)
	source.clock = func() time.Time {
		return time.Date(2026, 8, 24, 0, 10, 0, 0, time.UTC)
	}

	_, err := source.Fetch(context.Background(), "BTC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "30m")
}

func TestFearGreed_RecentersIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fng/", r.URL.Path)
		w.Write([]byte(`{"name":"Fear and Greed Index",
			"data":[{"value":"72","value_classification":"Greed","timestamp":"1724457600","time_until_update":"3600"}],
			"metadata":{"error":null}}`))
	}))
	defer server.Close()

	source := NewFearGreed(FearGreedConfig{BaseURL: server.URL, Timeout: time.Second}, openGuards(), 1)

	assert.Equal(t, "fear_greed", source.Name())
	assert.Equal(t, signal.CategorySentiment, source.Category())

	sample, err := source.Fetch(context.Background(), "BTC")
	require.NoError(t, err)

	assert.InDelta(t, 72.0, sample.Value, 1e-9)
	assert.InDelta(t, 44.0, sample.Score, 1e-9)
	assert.Equal(t, time.Unix(1724457600, 0).UTC(), sample.Timestamp)
}

func TestFearGreed_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[],"metadata":{"error":"rate limited"}}`))
	}))
	defer server.Close()

	source := NewFearGreed(FearGreedConfig{BaseURL: server.URL, Timeout: time.Second}, openGuards(), 1)

	_, err := source.Fetch(context.Background(), "BTC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestLiveSources_CoverAllCategories(t *testing.T) {
	client := tickerClient(t)
	fng := NewFearGreed(FearGreedConfig{}, openGuards(), 1)

	sources := LiveSources(client, fng)
	require.Len(t, sources, 5)

	categories := make(map[signal.Category]bool)
	for _, source := range sources {
		categories[source.Category()] = true
	}
	assert.Len(t, categories, 5)

	assert.Len(t, LiveSources(client, nil), 4)
}
