package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/sentigrade/sentigrade/internal/signal"
)

// The sources below derive one indicator each from the shared ticker
// reading. They deliberately fail loud: a bad fetch surfaces as an error,
// which the fetcher downgrades to an unavailable signal.

// Change scores the percent move since today's UTC open. ±10% maps to a
// full ±100.
type Change struct {
	client *Client
	weight float64
}

func NewChange(client *Client, weight float64) *Change {
	return &Change{client: client, weight: weight}
}

func (s *Change) Name() string              { return "kraken_change" }
func (s *Change) Category() signal.Category { return signal.CategoryMomentum }
func (s *Change) Weight() float64           { return s.weight }

func (s *Change) Fetch(ctx context.Context, asset string) (signal.Sample, error) {
	t, err := s.client.Ticker(ctx, asset)
	if err != nil {
		return signal.Sample{}, err
	}
	change := (t.Last - t.Open) / t.Open * 100
	return signal.Sample{Value: change, Score: change * 10, Timestamp: t.FetchedAt}, nil
}

// RangePosition scores where the last trade sits inside the 24h low..high
// band (the close location value): at the high +100, at the low -100.
type RangePosition struct {
	client *Client
	weight float64
}

func NewRangePosition(client *Client, weight float64) *RangePosition {
	return &RangePosition{client: client, weight: weight}
}

func (s *RangePosition) Name() string              { return "kraken_range_position" }
func (s *RangePosition) Category() signal.Category { return signal.CategoryTechnical }
func (s *RangePosition) Weight() float64           { return s.weight }

func (s *RangePosition) Fetch(ctx context.Context, asset string) (signal.Sample, error) {
	t, err := s.client.Ticker(ctx, asset)
	if err != nil {
		return signal.Sample{}, err
	}
	band := t.High24h - t.Low24h
	if band <= 0 {
		// Flat band, no information either way.
		return signal.Sample{Value: t.Last, Score: 0, Timestamp: t.FetchedAt}, nil
	}
	position := (t.Last - t.Low24h) / band
	return signal.Sample{Value: position, Score: (2*position - 1) * 100, Timestamp: t.FetchedAt}, nil
}

// RangeWidth scores 24h realized range against the vwap: a calm tape reads
// as greed, a violent one as fear. A 5% range is neutral.
type RangeWidth struct {
	client *Client
	weight float64
}

func NewRangeWidth(client *Client, weight float64) *RangeWidth {
	return &RangeWidth{client: client, weight: weight}
}

func (s *RangeWidth) Name() string              { return "kraken_range_width" }
func (s *RangeWidth) Category() signal.Category { return signal.CategoryVolatility }
func (s *RangeWidth) Weight() float64           { return s.weight }

func (s *RangeWidth) Fetch(ctx context.Context, asset string) (signal.Sample, error) {
	t, err := s.client.Ticker(ctx, asset)
	if err != nil {
		return signal.Sample{}, err
	}
	if t.VWAP24h <= 0 {
		return signal.Sample{}, fmt.Errorf("no vwap for %s", asset)
	}
	width := (t.High24h - t.Low24h) / t.VWAP24h * 100
	return signal.Sample{Value: width, Score: 100 - 20*width, Timestamp: t.FetchedAt}, nil
}

// VolumePace compares today's traded volume against the pace implied by
// the rolling 24h volume and the elapsed fraction of the UTC day. Running
// ahead of pace reads as conviction (greed), behind as apathy (fear).
// Too little of the day elapsed means no reading: the expectation base is
// noise before that.
type VolumePace struct {
	client *Client
	weight float64
	clock  func() time.Time
}

func NewVolumePace(client *Client, weight float64) *VolumePace {
	return &VolumePace{client: client, weight: weight, clock: func() time.Time { return time.Now().UTC() }}
}

func (s *VolumePace) Name() string              { return "kraken_volume_pace" }
func (s *VolumePace) Category() signal.Category { return signal.CategoryVolume }
func (s *VolumePace) Weight() float64           { return s.weight }

func (s *VolumePace) Fetch(ctx context.Context, asset string) (signal.Sample, error) {
	t, err := s.client.Ticker(ctx, asset)
	if err != nil {
		return signal.Sample{}, err
	}

	now := s.clock()
	elapsed := now.Sub(now.Truncate(24 * time.Hour))
	if elapsed < 30*time.Minute {
		return signal.Sample{}, fmt.Errorf("volume pace needs 30m of the UTC day, %s elapsed", elapsed.Round(time.Minute))
	}
	expected := t.Volume24h * (float64(elapsed) / float64(24*time.Hour))
	if expected <= 0 {
		return signal.Sample{}, fmt.Errorf("no 24h volume for %s", asset)
	}

	ratio := t.VolumeToday / expected
	return signal.Sample{Value: ratio, Score: (ratio - 1) * 100, Timestamp: t.FetchedAt}, nil
}

// LiveSources assembles the full set of Kraken-derived sources plus the
// Fear & Greed index, each at weight 1. The fear & greed source is skipped
// when fng is nil.
func LiveSources(client *Client, fng *FearGreed) []signal.Source {
	sources := []signal.Source{
		NewChange(client, 1),
		NewRangePosition(client, 1),
		NewRangeWidth(client, 1),
		NewVolumePace(client, 1),
	}
	if fng != nil {
		sources = append(sources, fng)
	}
	return sources
}
