// Package marketdata fetches live prices and candle history from Kraken's
// public REST API and derives indicator sources from them. One ticker
// roundtrip per asset feeds both the agent price feed and every derived
// source; a short TTL cache keeps sources from re-fetching what the price
// feed just pulled in the same cycle.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentigrade/sentigrade/internal/guard"
	"github.com/sentigrade/sentigrade/internal/market"
)

// Config tunes the Kraken client.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	TickerTTL time.Duration `yaml:"ticker_ttl"` // how long a ticker read is shared across sources
	UserAgent string        `yaml:"user_agent"`
}

// DefaultConfig targets Kraken's free public tier.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://api.kraken.com",
		Timeout:   10 * time.Second,
		TickerTTL: 5 * time.Second,
		UserAgent: "sentigrade/1.0",
	}
}

// Ticker is one parsed 24h ticker reading.
type Ticker struct {
	Asset       string
	Last        float64
	Open        float64 // today's opening price
	High24h     float64
	Low24h      float64
	VWAP24h     float64
	VolumeToday float64
	Volume24h   float64
	FetchedAt   time.Time
}

// Client is a rate-limited Kraken public API client. All calls go through
// the guard registry under the "kraken" name, so indicator sources and the
// price feed share one limiter and breaker.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	guards     *guard.Registry
	ttl        time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	tickers map[string]Ticker
}

// NewClient builds a client. A nil registry gets a private default one.
func NewClient(config Config, guards *guard.Registry) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.kraken.com"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.TickerTTL < 0 {
		config.TickerTTL = 0
	}
	if config.UserAgent == "" {
		config.UserAgent = "sentigrade/1.0"
	}
	if guards == nil {
		guards = guard.NewRegistry(guard.DefaultConfig())
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		baseURL:   strings.TrimSuffix(config.BaseURL, "/"),
		userAgent: config.UserAgent,
		guards:    guards,
		ttl:       config.TickerTTL,
		logger:    log.With().Str("component", "marketdata").Logger(),
		tickers:   make(map[string]Ticker),
	}
}

// envelope is Kraken's REST wrapper: errors as strings, payload raw for a
// second-stage unmarshal per endpoint.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// tickerInfo mirrors Kraken's stringly ticker payload.
type tickerInfo struct {
	LastTrade []string `json:"c"` // [price, lot_volume]
	Volume    []string `json:"v"` // [today, last_24h]
	VWAP      []string `json:"p"` // [today, last_24h]
	Low       []string `json:"l"` // [today, last_24h]
	High      []string `json:"h"` // [today, last_24h]
	Opening   string   `json:"o"`
}

// krakenPairs maps assets whose Kraken pair name is not simply asset+USD.
var krakenPairs = map[string]string{
	"BTC":  "XBTUSD",
	"DOGE": "XDGUSD",
}

// PairForAsset returns the Kraken USD pair name for an asset symbol.
func PairForAsset(asset string) string {
	asset = strings.ToUpper(asset)
	if pair, ok := krakenPairs[asset]; ok {
		return pair
	}
	return asset + "USD"
}

// Ticker fetches the 24h ticker for one asset, serving from cache when a
// read younger than the TTL exists.
func (c *Client) Ticker(ctx context.Context, asset string) (Ticker, error) {
	asset = strings.ToUpper(asset)

	c.mu.Lock()
	cached, ok := c.tickers[asset]
	c.mu.Unlock()
	if ok && time.Since(cached.FetchedAt) < c.ttl {
		return cached, nil
	}

	pair := PairForAsset(asset)
	body, err := c.get(ctx, "/0/public/Ticker?pair="+url.QueryEscape(pair))
	if err != nil {
		return Ticker{}, err
	}

	var infos map[string]tickerInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		return Ticker{}, fmt.Errorf("failed to unmarshal ticker response: %w", err)
	}
	if len(infos) == 0 {
		return Ticker{}, fmt.Errorf("no ticker data for pair %s", pair)
	}

	// Kraken keys the result by its own pair spelling (XXBTZUSD for XBTUSD);
	// a single-pair request has a single entry.
	var info tickerInfo
	for _, v := range infos {
		info = v
		break
	}

	ticker, err := parseTicker(asset, info)
	if err != nil {
		return Ticker{}, fmt.Errorf("bad ticker data for %s: %w", pair, err)
	}

	c.mu.Lock()
	c.tickers[asset] = ticker
	c.mu.Unlock()
	return ticker, nil
}

func parseTicker(asset string, info tickerInfo) (Ticker, error) {
	last, err := firstFloat(info.LastTrade, "last trade")
	if err != nil {
		return Ticker{}, err
	}
	high, err := secondFloat(info.High, "high")
	if err != nil {
		return Ticker{}, err
	}
	low, err := secondFloat(info.Low, "low")
	if err != nil {
		return Ticker{}, err
	}
	vwap, err := secondFloat(info.VWAP, "vwap")
	if err != nil {
		return Ticker{}, err
	}
	volToday, err := firstFloat(info.Volume, "volume")
	if err != nil {
		return Ticker{}, err
	}
	vol24h, err := secondFloat(info.Volume, "volume")
	if err != nil {
		return Ticker{}, err
	}
	open, err := strconv.ParseFloat(info.Opening, 64)
	if err != nil {
		return Ticker{}, fmt.Errorf("open price %q: %w", info.Opening, err)
	}
	if last <= 0 || open <= 0 {
		return Ticker{}, fmt.Errorf("non-positive price (last=%f open=%f)", last, open)
	}

	return Ticker{
		Asset:       asset,
		Last:        last,
		Open:        open,
		High24h:     high,
		Low24h:      low,
		VWAP24h:     vwap,
		VolumeToday: volToday,
		Volume24h:   vol24h,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// Prices reports the last trade price for each asset. Assets whose ticker
// fetch fails are left out of the map; the call errors only when nothing
// could be priced. Satisfies the agent's price feed contract.
func (c *Client) Prices(ctx context.Context, assets []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(assets))
	var lastErr error
	for _, asset := range assets {
		ticker, err := c.Ticker(ctx, asset)
		if err != nil {
			lastErr = err
			c.logger.Debug().Str("asset", asset).Err(err).Msg("Price unavailable")
			continue
		}
		prices[strings.ToUpper(asset)] = ticker.Last
	}
	if len(prices) == 0 && len(assets) > 0 {
		return nil, fmt.Errorf("no prices available: %w", lastErr)
	}
	return prices, nil
}

// Candles fetches up to limit most recent OHLC bars for asset at the given
// interval. Kraken supports fixed interval steps (1m..15d); intervals are
// rounded down to the nearest supported step, minimum one minute.
func (c *Client) Candles(ctx context.Context, asset string, interval time.Duration, limit int) ([]market.Candle, error) {
	pair := PairForAsset(asset)
	params := url.Values{}
	params.Set("pair", pair)
	params.Set("interval", strconv.Itoa(krakenInterval(interval)))

	body, err := c.get(ctx, "/0/public/OHLC?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ohlc response: %w", err)
	}

	var rows [][]interface{}
	for key, raw := range result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ohlc rows for %s: %w", key, err)
		}
		break
	}

	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		candle := market.Candle{
			Timestamp: time.Unix(int64(asFloat(row[0])), 0).UTC(),
			Open:      asFloat(row[1]),
			High:      asFloat(row[2]),
			Low:       asFloat(row[3]),
			Close:     asFloat(row[4]),
			Volume:    asFloat(row[6]),
		}
		if candle.Open <= 0 || candle.Close <= 0 {
			continue
		}
		candles = append(candles, candle)
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// History fetches candle series for several assets, skipping assets whose
// fetch fails. An error is returned only when every asset failed.
func (c *Client) History(ctx context.Context, assets []string, interval time.Duration, limit int) (market.History, error) {
	history := make(market.History, len(assets))
	var lastErr error
	for _, asset := range assets {
		asset = strings.ToUpper(asset)
		candles, err := c.Candles(ctx, asset, interval, limit)
		if err == nil {
			series, serr := market.NewSeries(asset, candles)
			if serr != nil {
				err = serr
			} else {
				history[asset] = series
				continue
			}
		}
		lastErr = err
		c.logger.Warn().Str("asset", asset).Err(err).Msg("History unavailable")
	}
	if len(history) == 0 && len(assets) > 0 {
		return nil, fmt.Errorf("no history available: %w", lastErr)
	}
	return history, nil
}

// get performs a guarded GET against the Kraken REST API and unwraps the
// response envelope.
func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	result, err := c.guards.Get("kraken").Do(ctx, func() (interface{}, error) {
		return c.fetch(ctx, c.baseURL+path)
	})
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (c *Client) fetch(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(env.Error) > 0 {
		return nil, fmt.Errorf("kraken API error: %s", strings.Join(env.Error, "; "))
	}
	return env.Result, nil
}

// krakenInterval maps a duration onto Kraken's supported OHLC steps
// (minutes), rounding down.
func krakenInterval(d time.Duration) int {
	steps := []int{1, 5, 15, 30, 60, 240, 1440, 10080, 21600}
	minutes := int(d / time.Minute)
	picked := steps[0]
	for _, step := range steps {
		if minutes >= step {
			picked = step
		}
	}
	return picked
}

func firstFloat(values []string, field string) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("missing %s", field)
	}
	f, err := strconv.ParseFloat(values[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", field, values[0], err)
	}
	return f, nil
}

func secondFloat(values []string, field string) (float64, error) {
	if len(values) < 2 {
		return 0, fmt.Errorf("missing 24h %s", field)
	}
	f, err := strconv.ParseFloat(values[1], 64)
	if err != nil {
		return 0, fmt.Errorf("24h %s %q: %w", field, values[1], err)
	}
	return f, nil
}

// asFloat coerces Kraken's mixed-type OHLC row cells (numbers and numeric
// strings) to float64, zero when unparseable.
func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}
