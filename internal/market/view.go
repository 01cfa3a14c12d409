package market

import "time"

// View is a read-only window over a Series exposing only candles at or
// before its cutoff instant. Signal derivation and strategy evaluation are
// handed Views, never whole Series, so future-dated bars are unreachable by
// construction rather than by discipline.
type View struct {
	asset   string
	candles []Candle
	cutoff  time.Time
}

// Asset returns the asset this view covers.
func (v *View) Asset() string {
	return v.asset
}

// Cutoff returns the instant the view is clamped to.
func (v *View) Cutoff() time.Time {
	return v.cutoff
}

// Len returns the number of visible candles.
func (v *View) Len() int {
	return len(v.candles)
}

// Candle returns the i-th visible candle, oldest first.
func (v *View) Candle(i int) Candle {
	return v.candles[i]
}

// Last returns the most recent visible candle. The bool is false when the
// view is empty, which callers treat as "no price yet".
func (v *View) Last() (Candle, bool) {
	if len(v.candles) == 0 {
		return Candle{}, false
	}
	return v.candles[len(v.candles)-1], true
}

// LastClose returns the most recent visible close. With a gap at the cutoff
// this is the held-forward price from the last bar before the gap.
func (v *View) LastClose() (float64, bool) {
	c, ok := v.Last()
	if !ok {
		return 0, false
	}
	return c.Close, true
}

// Closes returns a copy of all visible close prices, oldest first.
func (v *View) Closes() []float64 {
	out := make([]float64, len(v.candles))
	for i, c := range v.candles {
		out[i] = c.Close
	}
	return out
}

// Highs returns a copy of all visible high prices, oldest first.
func (v *View) Highs() []float64 {
	out := make([]float64, len(v.candles))
	for i, c := range v.candles {
		out[i] = c.High
	}
	return out
}

// Lows returns a copy of all visible low prices, oldest first.
func (v *View) Lows() []float64 {
	out := make([]float64, len(v.candles))
	for i, c := range v.candles {
		out[i] = c.Low
	}
	return out
}

// Volumes returns a copy of all visible volumes, oldest first.
func (v *View) Volumes() []float64 {
	out := make([]float64, len(v.candles))
	for i, c := range v.candles {
		out[i] = c.Volume
	}
	return out
}

// TailCloses returns up to n most recent closes, oldest first.
func (v *View) TailCloses(n int) []float64 {
	if n > len(v.candles) {
		n = len(v.candles)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = v.candles[len(v.candles)-n+i].Close
	}
	return out
}
