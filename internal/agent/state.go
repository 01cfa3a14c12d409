package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// State is the checkpoint an agent writes after every cycle: enough to
// rebuild the portfolio and its risk context (drawdown peak, daily-loss
// anchor live in the equity curve) after a restart.
type State struct {
	Account   string                  `json:"account"`
	Cash      float64                 `json:"cash"`
	Positions []portfolio.Position    `json:"positions"`
	Curve     []portfolio.EquityPoint `json:"curve"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// stateFromPortfolio snapshots p, trimming the curve to the most recent
// curveLimit points so checkpoints stay bounded on long-lived agents.
func stateFromPortfolio(p *portfolio.Portfolio, curveLimit int, at time.Time) State {
	positions := make([]portfolio.Position, 0, len(p.Positions))
	for _, asset := range p.Assets() {
		positions = append(positions, p.Position(asset))
	}
	curve := p.EquityCurve
	if curveLimit > 0 && len(curve) > curveLimit {
		curve = curve[len(curve)-curveLimit:]
	}
	saved := make([]portfolio.EquityPoint, len(curve))
	copy(saved, curve)

	return State{
		Account:   p.Account,
		Cash:      p.Cash,
		Positions: positions,
		Curve:     saved,
		UpdatedAt: at,
	}
}

// restore rebuilds a portfolio from a checkpoint.
func (s State) restore() (*portfolio.Portfolio, error) {
	p, err := portfolio.New(s.Account, s.Cash)
	if err != nil {
		return nil, fmt.Errorf("restore state: %w", err)
	}
	for _, position := range s.Positions {
		if position.Quantity <= 0 {
			return nil, fmt.Errorf("restore state: position %s has non-positive quantity %f", position.Asset, position.Quantity)
		}
		restored := position
		p.Positions[position.Asset] = &restored
	}
	p.EquityCurve = append(p.EquityCurve, s.Curve...)
	return p, nil
}

// StateStore persists cycle checkpoints. Load's bool reports whether a
// checkpoint existed.
type StateStore interface {
	Save(ctx context.Context, state State) error
	Load(ctx context.Context, account string) (State, bool, error)
}

// MemoryStore keeps checkpoints in process; the default for paper trading
// and tests.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Save(_ context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Account] = state
	return nil
}

func (m *MemoryStore) Load(_ context.Context, account string) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[account]
	return state, ok, nil
}

// RedisStore checkpoints into Redis so a restarted agent resumes its
// drawdown and daily-loss context.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to addr. A zero ttl keeps checkpoints forever.
func NewRedisStore(addr string, db int, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		ttl:    ttl,
	}
}

func stateKey(account string) string {
	return "sentigrade:agent:state:" + account
}

func (r *RedisStore) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := r.client.Set(ctx, stateKey(state.Account), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save state for %s: %w", state.Account, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, account string) (State, bool, error) {
	data, err := r.client.Get(ctx, stateKey(account)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("load state for %s: %w", account, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("decode state for %s: %w", account, err)
	}
	return state, true, nil
}

// Close releases the underlying Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
