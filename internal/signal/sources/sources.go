// Package sources holds reference IndicatorSource implementations. Real
// provider integrations live outside the core; these cover tests, paper
// wiring and closure-backed adapters.
package sources

import (
	"context"
	"time"

	"github.com/sentigrade/sentigrade/internal/signal"
)

// Static always reports the same sample. Useful as a stand-in for a slow
// external provider in paper runs and as a fixture in tests.
type Static struct {
	name     string
	category signal.Category
	weight   float64
	value    float64
	score    float64
}

func NewStatic(name string, category signal.Category, weight, value, score float64) *Static {
	return &Static{name: name, category: category, weight: weight, value: value, score: score}
}

func (s *Static) Name() string              { return s.name }
func (s *Static) Category() signal.Category { return s.category }
func (s *Static) Weight() float64           { return s.weight }

func (s *Static) Fetch(ctx context.Context, asset string) (signal.Sample, error) {
	return signal.Sample{Value: s.value, Score: s.score, Timestamp: time.Now().UTC()}, nil
}

// FetchFunc adapts a closure into a Source, the cheapest way to wrap an
// external API client without a dedicated type.
type FetchFunc struct {
	name     string
	category signal.Category
	weight   float64
	fn       func(ctx context.Context, asset string) (signal.Sample, error)
}

func NewFetchFunc(name string, category signal.Category, weight float64, fn func(ctx context.Context, asset string) (signal.Sample, error)) *FetchFunc {
	return &FetchFunc{name: name, category: category, weight: weight, fn: fn}
}

func (f *FetchFunc) Name() string              { return f.name }
func (f *FetchFunc) Category() signal.Category { return f.category }
func (f *FetchFunc) Weight() float64           { return f.weight }

func (f *FetchFunc) Fetch(ctx context.Context, asset string) (signal.Sample, error) {
	return f.fn(ctx, asset)
}
