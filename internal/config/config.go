// Package config loads the application configuration: built-in defaults,
// overlaid by an optional YAML file, overlaid by environment variables.
// Sections convert into the domain packages' own config types so the rest
// of the code never sees this package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sentigrade/sentigrade/internal/agent"
	"github.com/sentigrade/sentigrade/internal/backtest"
	"github.com/sentigrade/sentigrade/internal/exchange"
	"github.com/sentigrade/sentigrade/internal/guard"
	"github.com/sentigrade/sentigrade/internal/montecarlo"
	"github.com/sentigrade/sentigrade/internal/risk"
	"github.com/sentigrade/sentigrade/internal/signal"
	"github.com/sentigrade/sentigrade/internal/strategy"
)

// Config is the whole application configuration tree.
type Config struct {
	Log        Log                `yaml:"log"`
	Data       Data               `yaml:"data"`
	Signals    Signals            `yaml:"signals"`
	Strategies Strategies         `yaml:"strategies"`
	Risk       risk.Limits        `yaml:"risk"`
	Costs      exchange.CostModel `yaml:"costs"`
	Guards     guard.Config       `yaml:"guards"`
	Backtest   Backtest           `yaml:"backtest"`
	MonteCarlo MonteCarlo         `yaml:"montecarlo"`
	Agent      Agent              `yaml:"agent"`
	Server     Server             `yaml:"server"`
	Redis      Redis              `yaml:"redis"`
	Postgres   Postgres           `yaml:"postgres"`
}

// Log controls the global zerolog setup.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto json console"` // auto picks console on a TTY
}

// Data points at the on-disk candle store.
type Data struct {
	CandleDir string `yaml:"candle_dir" validate:"required"`
}

// Signals configures aggregation and fetching of indicator sources.
// Weights keys are category names (momentum, technical, volatility,
// volume, sentiment).
type Signals struct {
	Weights      map[string]float64 `yaml:"weights"`
	MinCoverage  float64            `yaml:"min_coverage" validate:"gte=0,lte=1"`
	FetchTimeout time.Duration      `yaml:"fetch_timeout" validate:"gt=0"`
}

// AggregatorConfig converts the section into the signal package's config.
func (s Signals) AggregatorConfig() signal.AggregatorConfig {
	config := signal.AggregatorConfig{
		CategoryWeights: make(map[signal.Category]float64, len(s.Weights)),
		MinCoverage:     s.MinCoverage,
	}
	for name, weight := range s.Weights {
		config.CategoryWeights[signal.Category(name)] = weight
	}
	return config
}

// Strategies selects and parameterizes the trading strategies.
type Strategies struct {
	Enabled []string        `yaml:"enabled" validate:"min=1"`
	Params  strategy.Params `yaml:"params"`
}

// Build constructs the enabled strategy set in configured order.
func (s Strategies) Build() ([]strategy.Strategy, error) {
	return strategy.Build(s.Enabled, s.Params)
}

// Factory returns a constructor for fresh instances of the enabled set,
// for callers that need per-run strategy state.
func (s Strategies) Factory() strategy.Factory {
	return func() ([]strategy.Strategy, error) {
		return strategy.Build(s.Enabled, s.Params)
	}
}

// Backtest configures replay runs.
type Backtest struct {
	StartingCapital float64 `yaml:"starting_capital" validate:"gt=0"`
	Account         string  `yaml:"account" validate:"required"`
	RiskFreeRate    float64 `yaml:"risk_free_rate"`
	VaRConfidence   float64 `yaml:"var_confidence" validate:"gt=0,lt=1"`
	OutputDir       string  `yaml:"output_dir" validate:"required"`
}

// MonteCarlo configures simulation batches.
type MonteCarlo struct {
	Runs      int     `yaml:"runs" validate:"gte=1"`
	Seed      int64   `yaml:"seed"`
	Workers   int     `yaml:"workers" validate:"gte=0"` // 0 means NumCPU
	BlockBars int     `yaml:"block_bars" validate:"gte=1"`
	NoiseBps  float64 `yaml:"noise_bps" validate:"gte=0,lt=10000"`
	OutputDir string  `yaml:"output_dir" validate:"required"`
}

// Agent configures the live/paper trading loop.
type Agent struct {
	Mode          string        `yaml:"mode" validate:"oneof=paper live"`
	Account       string        `yaml:"account" validate:"required"`
	Assets        []string      `yaml:"assets"`
	StartingCash  float64       `yaml:"starting_cash" validate:"gt=0"`
	CycleInterval time.Duration `yaml:"cycle_interval" validate:"gt=0"`
	CycleTimeout  time.Duration `yaml:"cycle_timeout" validate:"gt=0"`
	HistoryBars   int           `yaml:"history_bars" validate:"gte=2"`
	CurveLimit    int           `yaml:"curve_limit" validate:"gte=1"`
}

// Server configures the monitoring HTTP server.
type Server struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// Redis configures the optional agent checkpoint store. Empty Addr
// disables it and checkpoints stay in memory.
type Redis struct {
	Addr string        `yaml:"addr"`
	DB   int           `yaml:"db" validate:"gte=0"`
	TTL  time.Duration `yaml:"ttl" validate:"gte=0"` // 0 means no expiry
}

func (r Redis) Enabled() bool { return r.Addr != "" }

// Postgres configures the optional trade/run archive. Empty DSN disables it.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gt=0"`
	QueryTimeout    time.Duration `yaml:"query_timeout" validate:"gt=0"`
}

func (p Postgres) Enabled() bool { return p.DSN != "" }

// Default returns the built-in configuration, the same values the domain
// packages default to on their own.
func Default() *Config {
	aggregator := signal.DefaultAggregatorConfig()
	weights := make(map[string]float64, len(aggregator.CategoryWeights))
	for category, weight := range aggregator.CategoryWeights {
		weights[string(category)] = weight
	}

	return &Config{
		Log: Log{Level: "info", Format: "auto"},
		Data: Data{
			CandleDir: "data/candles",
		},
		Signals: Signals{
			Weights:      weights,
			MinCoverage:  aggregator.MinCoverage,
			FetchTimeout: 10 * time.Second,
		},
		Strategies: Strategies{
			Enabled: []string{"dca", "swing", "mean_reversion", "grid", "rebalance"},
			Params:  strategy.DefaultParams(),
		},
		Risk:   risk.DefaultLimits(),
		Costs:  exchange.DefaultCostModel(),
		Guards: guard.DefaultConfig(),
		Backtest: Backtest{
			StartingCapital: 10000,
			Account:         "backtest",
			VaRConfidence:   0.95,
			OutputDir:       "artifacts/backtests",
		},
		MonteCarlo: MonteCarlo{
			Runs:      200,
			Seed:      1,
			BlockBars: 24,
			NoiseBps:  10,
			OutputDir: "artifacts/simulations",
		},
		Agent: Agent{
			Mode:          "paper",
			Account:       "paper",
			Assets:        []string{"BTC", "ETH"},
			StartingCash:  10000,
			CycleInterval: time.Hour,
			CycleTimeout:  2 * time.Minute,
			HistoryBars:   500,
			CurveLimit:    10080,
		},
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: Redis{
			TTL: 0,
		},
		Postgres: Postgres{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates. The file must exist; use LoadOrDefault for the
// conventional location.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// LoadOrDefault behaves like Load but tolerates a missing file: defaults
// plus environment overrides apply.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		config := Default()
		applyEnvOverrides(config)
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return config, nil
	}
	return Load(path)
}

// applyEnvOverrides lets deployment environments override connection
// endpoints without editing the file. Unparseable values are ignored.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		config.Server.Addr = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		config.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			config.Redis.DB = db
		}
	}
	if v := os.Getenv("PG_DSN"); v != "" {
		config.Postgres.DSN = v
	}
	if v := os.Getenv("PG_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Postgres.MaxOpenConns = n
		}
	}
	if v := os.Getenv("PG_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Postgres.MaxIdleConns = n
		}
	}
	if v := os.Getenv("PG_CONN_MAX_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Postgres.ConnMaxLifetime = d
		}
	}
	if v := os.Getenv("PG_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Postgres.QueryTimeout = d
		}
	}
}

// Validate checks tagged bounds plus the cross-field rules tags cannot
// express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	for _, name := range c.Strategies.Enabled {
		if _, err := strategy.New(name, c.Strategies.Params); err != nil {
			return fmt.Errorf("strategies.enabled: %w", err)
		}
	}
	for name := range c.Signals.Weights {
		switch signal.Category(name) {
		case signal.CategoryMomentum, signal.CategoryTechnical, signal.CategoryVolatility,
			signal.CategoryVolume, signal.CategorySentiment:
		default:
			return fmt.Errorf("signals.weights: unknown category %q", name)
		}
	}
	if err := c.Costs.Validate(); err != nil {
		return err
	}
	if c.Agent.Mode == "live" && len(c.Agent.Assets) == 0 {
		return fmt.Errorf("agent: live mode requires at least one asset")
	}
	return nil
}

// EngineConfig assembles the backtest engine config from the relevant
// sections.
func (c *Config) EngineConfig() backtest.Config {
	engine := backtest.DefaultConfig()
	engine.StartingCapital = c.Backtest.StartingCapital
	engine.Account = c.Backtest.Account
	engine.Costs = c.Costs
	engine.Limits = c.Risk
	engine.Aggregator = c.Signals.AggregatorConfig()
	engine.RiskFreeRate = c.Backtest.RiskFreeRate
	engine.VaRConfidence = c.Backtest.VaRConfidence
	return engine
}

// SimulatorConfig assembles the Monte Carlo config, engine included.
func (c *Config) SimulatorConfig() montecarlo.Config {
	sim := montecarlo.DefaultConfig()
	sim.Runs = c.MonteCarlo.Runs
	sim.Seed = c.MonteCarlo.Seed
	if c.MonteCarlo.Workers > 0 {
		sim.Workers = c.MonteCarlo.Workers
	}
	sim.Perturb.BlockBars = c.MonteCarlo.BlockBars
	sim.Perturb.NoiseBps = c.MonteCarlo.NoiseBps
	sim.Engine = c.EngineConfig()
	return sim
}

// AgentConfig assembles the trading agent config.
func (c *Config) AgentConfig() agent.Config {
	return agent.Config{
		Account:       c.Agent.Account,
		Assets:        c.Agent.Assets,
		StartingCash:  c.Agent.StartingCash,
		CycleInterval: c.Agent.CycleInterval,
		CycleTimeout:  c.Agent.CycleTimeout,
		HistoryBars:   c.Agent.HistoryBars,
		CurveLimit:    c.Agent.CurveLimit,
		FetchTimeout:  c.Signals.FetchTimeout,
		Limits:        c.Risk,
		Aggregator:    c.Signals.AggregatorConfig(),
	}
}
