package market

import (
	"fmt"
	"sort"
	"time"
)

// Candle is a single OHLCV bar for one asset.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is an ordered candle history for a single asset. Timestamps are
// strictly increasing; gaps are tolerated and covered by holding the last
// close forward at read time, never by interpolation.
type Series struct {
	Asset   string   `json:"asset"`
	Candles []Candle `json:"candles"`
}

// NewSeries validates and wraps a candle history. Candles must be in
// strictly increasing timestamp order with positive prices.
func NewSeries(asset string, candles []Candle) (*Series, error) {
	if asset == "" {
		return nil, fmt.Errorf("series asset is required")
	}

	for i, c := range candles {
		if i > 0 && !c.Timestamp.After(candles[i-1].Timestamp) {
			return nil, fmt.Errorf("series %s: candle %d timestamp %s not after %s",
				asset, i, c.Timestamp.Format(time.RFC3339), candles[i-1].Timestamp.Format(time.RFC3339))
		}
		if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
			return nil, fmt.Errorf("series %s: candle %d has non-positive price", asset, i)
		}
		if c.High < c.Low {
			return nil, fmt.Errorf("series %s: candle %d high %.8f below low %.8f", asset, i, c.High, c.Low)
		}
	}

	return &Series{Asset: asset, Candles: candles}, nil
}

// Len returns the number of candles in the series.
func (s *Series) Len() int {
	return len(s.Candles)
}

// Start returns the timestamp of the first candle.
func (s *Series) Start() time.Time {
	if len(s.Candles) == 0 {
		return time.Time{}
	}
	return s.Candles[0].Timestamp
}

// End returns the timestamp of the last candle.
func (s *Series) End() time.Time {
	if len(s.Candles) == 0 {
		return time.Time{}
	}
	return s.Candles[len(s.Candles)-1].Timestamp
}

// ViewAt returns a read-only view containing only candles at or before t.
// When t predates the series entirely the view is empty; callers treat an
// empty view as "no data yet", not as an error.
func (s *Series) ViewAt(t time.Time) *View {
	// First index with timestamp strictly after t.
	n := sort.Search(len(s.Candles), func(i int) bool {
		return s.Candles[i].Timestamp.After(t)
	})

	return &View{
		asset:   s.Asset,
		candles: s.Candles[:n],
		cutoff:  t,
	}
}

// Timestamps returns a copy of all candle timestamps in order.
func (s *Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Timestamp
	}
	return out
}

// Closes returns a copy of all close prices in order.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Clone returns a deep copy of the series.
func (s *Series) Clone() *Series {
	candles := make([]Candle, len(s.Candles))
	copy(candles, s.Candles)
	return &Series{Asset: s.Asset, Candles: candles}
}

// History is a per-asset collection of candle series, the replay input for
// backtests and simulations.
type History map[string]*Series

// Assets returns the asset keys in deterministic (sorted) order.
func (h History) Assets() []string {
	assets := make([]string, 0, len(h))
	for asset := range h {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// UnionTimestamps merges every series' timestamps into one ascending,
// de-duplicated replay clock.
func (h History) UnionTimestamps() []time.Time {
	seen := make(map[int64]time.Time)
	for _, series := range h {
		for _, c := range series.Candles {
			seen[c.Timestamp.UnixNano()] = c.Timestamp
		}
	}

	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Clone returns a deep copy of every series, keyed identically.
func (h History) Clone() History {
	out := make(History, len(h))
	for asset, series := range h {
		out[asset] = series.Clone()
	}
	return out
}
