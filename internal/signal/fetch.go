package signal

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentigrade/sentigrade/internal/guard"
)

// Source is one indicator provider: it declares its category, weight and
// normalization (the Sample it returns is already scored), and fetches one
// reading per asset. Fetch errors mean "unavailable", never cycle failure.
type Source interface {
	Name() string
	Category() Category
	Weight() float64
	Fetch(ctx context.Context, asset string) (Sample, error)
}

// Fetcher fans Source fetches out concurrently with a per-source timeout,
// rate limiter and circuit breaker, then joins before handing the complete
// snapshot to aggregation. Partial results are never aggregated in place.
type Fetcher struct {
	sources []Source
	guards  *guard.Registry
	timeout time.Duration
	logger  zerolog.Logger
}

// NewFetcher wires sources behind guards. timeout caps each individual
// fetch; zero means a 10s default.
func NewFetcher(sources []Source, guards *guard.Registry, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		sources: sources,
		guards:  guards,
		timeout: timeout,
		logger:  log.With().Str("component", "fetcher").Logger(),
	}
}

// Snapshot fetches every source for asset concurrently and returns one
// Signal per source in declaration order. A source that errors, times out,
// or hits an open breaker contributes an Unavailable signal carrying the
// reason; cancellation of ctx abandons all pending fetches.
func (f *Fetcher) Snapshot(ctx context.Context, asset string) []Signal {
	signals := make([]Signal, len(f.sources))

	var wg sync.WaitGroup
	for i, source := range f.sources {
		wg.Add(1)
		go func(i int, source Source) {
			defer wg.Done()
			signals[i] = f.fetchOne(ctx, source, asset)
		}(i, source)
	}
	wg.Wait()

	return signals
}

func (f *Fetcher) fetchOne(ctx context.Context, source Source, asset string) Signal {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	result, err := f.guards.Get(source.Name()).Do(fetchCtx, func() (interface{}, error) {
		return source.Fetch(fetchCtx, asset)
	})
	if err != nil {
		f.logger.Debug().
			Str("source", source.Name()).
			Str("asset", asset).
			Err(err).
			Msg("Indicator unavailable")
		return Unavailable(source.Name(), source.Category(), source.Weight(), err.Error())
	}

	sample := result.(Sample)
	return Available(source.Name(), source.Category(), sample.Value, sample.Score, source.Weight(), sample.Timestamp)
}
