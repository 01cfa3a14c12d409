// Package guard protects calls to external collaborators (indicator sources,
// exchanges) with a per-name token-bucket rate limiter and circuit breaker.
// A guarded call that is throttled, tripped, or timed out degrades to an
// error the caller maps to "unavailable"; it never blocks a cycle.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Config tunes one guarded collaborator.
type Config struct {
	RPS                 float64       `yaml:"rps"`                  // sustained requests per second
	Burst               int           `yaml:"burst"`                // token bucket burst
	MaxRequests         uint32        `yaml:"max_requests"`         // probes allowed while half-open
	Interval            time.Duration `yaml:"interval"`             // counting window for trip decisions
	Timeout             time.Duration `yaml:"timeout"`              // how long the breaker stays open
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // failures in a row that trip the breaker
}

// DefaultConfig is conservative enough for free-tier data providers.
func DefaultConfig() Config {
	return Config{
		RPS:                 2.0,
		Burst:               4,
		MaxRequests:         2,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Guard wraps one collaborator with its limiter and breaker.
type Guard struct {
	name    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Do runs fn under the guard: waits for rate-limit headroom (bounded by ctx),
// then executes through the breaker. An open breaker fails fast.
func (g *Guard) Do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", g.name, err)
	}

	result, err := g.breaker.Execute(fn)
	if err != nil {
		return nil, fmt.Errorf("guarded call to %s: %w", g.name, err)
	}
	return result, nil
}

// State reports the breaker state ("closed", "half-open", "open").
func (g *Guard) State() string {
	return g.breaker.State().String()
}

// Registry holds one Guard per collaborator name.
type Registry struct {
	guards map[string]*Guard
	config Config
	mutex  sync.RWMutex
}

// NewRegistry creates a registry that lazily builds guards with config.
func NewRegistry(config Config) *Registry {
	return &Registry{
		guards: make(map[string]*Guard),
		config: config,
	}
}

// Get returns the guard for name, creating it on first use.
func (r *Registry) Get(name string) *Guard {
	r.mutex.RLock()
	guard, exists := r.guards[name]
	r.mutex.RUnlock()
	if exists {
		return guard
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if guard, exists := r.guards[name]; exists {
		return guard
	}

	cfg := r.config
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("guard", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	}

	guard = &Guard{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
	r.guards[name] = guard
	return guard
}

// States snapshots every known guard's breaker state, for /status reporting.
func (r *Registry) States() map[string]string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	states := make(map[string]string, len(r.guards))
	for name, guard := range r.guards {
		states[name] = guard.State()
	}
	return states
}
