package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sentigrade/sentigrade/internal/guard"
	"github.com/sentigrade/sentigrade/internal/signal"
)

// FearGreed reads the crypto Fear & Greed index from alternative.me and
// recenters its 0..100 scale onto the composite's -100..100: 0 (extreme
// fear) maps to -100, 50 to 0, 100 (extreme greed) to +100. The index is
// market-wide, so every asset gets the same reading.
type FearGreed struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	guards     *guard.Registry
	weight     float64
}

// FearGreedConfig tunes the index client. Zero values take defaults.
type FearGreedConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// NewFearGreed builds the source. A nil registry gets a private default.
func NewFearGreed(config FearGreedConfig, guards *guard.Registry, weight float64) *FearGreed {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.alternative.me"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "sentigrade/1.0"
	}
	if guards == nil {
		guards = guard.NewRegistry(guard.DefaultConfig())
	}
	return &FearGreed{
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		userAgent:  config.UserAgent,
		guards:     guards,
		weight:     weight,
	}
}

func (f *FearGreed) Name() string              { return "fear_greed" }
func (f *FearGreed) Category() signal.Category { return signal.CategorySentiment }
func (f *FearGreed) Weight() float64           { return f.weight }

type fngResponse struct {
	Data []struct {
		Value     string `json:"value"`
		Timestamp string `json:"timestamp"`
	} `json:"data"`
	Metadata struct {
		Error *string `json:"error"`
	} `json:"metadata"`
}

func (f *FearGreed) Fetch(ctx context.Context, _ string) (signal.Sample, error) {
	result, err := f.guards.Get("alternative_me").Do(ctx, func() (interface{}, error) {
		return f.fetchIndex(ctx)
	})
	if err != nil {
		return signal.Sample{}, err
	}
	return result.(signal.Sample), nil
}

func (f *FearGreed) fetchIndex(ctx context.Context) (signal.Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/fng/?limit=1", nil)
	if err != nil {
		return signal.Sample{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return signal.Sample{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return signal.Sample{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return signal.Sample{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed fngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return signal.Sample{}, fmt.Errorf("failed to unmarshal index response: %w", err)
	}
	if parsed.Metadata.Error != nil && *parsed.Metadata.Error != "" {
		return signal.Sample{}, fmt.Errorf("index API error: %s", *parsed.Metadata.Error)
	}
	if len(parsed.Data) == 0 {
		return signal.Sample{}, fmt.Errorf("index response carried no data")
	}

	value, err := strconv.ParseFloat(parsed.Data[0].Value, 64)
	if err != nil {
		return signal.Sample{}, fmt.Errorf("index value %q: %w", parsed.Data[0].Value, err)
	}

	at := time.Now().UTC()
	if unix, err := strconv.ParseInt(parsed.Data[0].Timestamp, 10, 64); err == nil {
		at = time.Unix(unix, 0).UTC()
	}

	return signal.Sample{Value: value, Score: (value - 50) * 2, Timestamp: at}, nil
}
