package signal

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/sentigrade/sentigrade/internal/market"
)

// ReplayerConfig fixes the lookback windows for price-derived indicators.
// Windows are in bars, so the same config replays daily or hourly series.
type ReplayerConfig struct {
	ShortMomentumBars  int // 1-bar return
	MediumMomentumBars int
	LongMomentumBars   int
	RSIPeriod          int
	MAPeriod           int
	ShortVolBars       int
	LongVolBars        int
	VolumeAvgBars      int
}

func DefaultReplayerConfig() ReplayerConfig {
	return ReplayerConfig{
		ShortMomentumBars:  1,
		MediumMomentumBars: 7,
		LongMomentumBars:   30,
		RSIPeriod:          14,
		MAPeriod:           20,
		ShortVolBars:       7,
		LongVolBars:        30,
		VolumeAvgBars:      20,
	}
}

// Replayer derives a full indicator snapshot from price history alone, so a
// backtest has a realistic signal series when no recorded one is supplied.
// Every indicator is computed strictly from the view it is handed; the view
// is already clamped to the replay instant, so derived signals cannot peek
// ahead any more than fetched ones can.
type Replayer struct {
	config ReplayerConfig
}

func NewReplayer(config ReplayerConfig) *Replayer {
	return &Replayer{config: config}
}

// Snapshot derives one Signal per indicator from the visible bars. An
// indicator whose window exceeds the available history reports unavailable
// with the shortfall as reason, exactly like a failed live fetch.
func (r *Replayer) Snapshot(view *market.View) []Signal {
	closes := view.Closes()
	volumes := view.Volumes()
	last, hasLast := view.Last()

	signals := make([]Signal, 0, 7)
	add := func(name string, category Category, weight float64, minBars int, derive func() (raw, score float64)) {
		if !hasLast || len(closes) < minBars {
			signals = append(signals, Unavailable(name, category, weight,
				fmt.Sprintf("insufficient history: need %d bars, have %d", minBars, len(closes))))
			return
		}
		raw, score := derive()
		signals = append(signals, Available(name, category, raw, score, weight, last.Timestamp))
	}

	cfg := r.config
	add("momentum_short", CategoryMomentum, 1.0, cfg.ShortMomentumBars+1, func() (float64, float64) {
		pct := pctChange(closes, cfg.ShortMomentumBars)
		return pct, clampScore(pct * 10) // ±10% in one bar saturates
	})
	add("momentum_medium", CategoryMomentum, 1.5, cfg.MediumMomentumBars+1, func() (float64, float64) {
		pct := pctChange(closes, cfg.MediumMomentumBars)
		return pct, clampScore(pct * 4)
	})
	add("momentum_long", CategoryMomentum, 1.0, cfg.LongMomentumBars+1, func() (float64, float64) {
		pct := pctChange(closes, cfg.LongMomentumBars)
		return pct, clampScore(pct * 2)
	})
	add("rsi", CategoryTechnical, 1.0, cfg.RSIPeriod+1, func() (float64, float64) {
		rsi := talib.Rsi(closes, cfg.RSIPeriod)
		value := rsi[len(rsi)-1]
		return value, clampScore((value - 50) * 2)
	})
	add("ma_distance", CategoryTechnical, 1.0, cfg.MAPeriod, func() (float64, float64) {
		sma := talib.Sma(closes, cfg.MAPeriod)
		mean := sma[len(sma)-1]
		pct := (last.Close - mean) / mean * 100
		return pct, clampScore(pct * 5) // ±20% from the mean saturates
	})
	add("volatility_regime", CategoryVolatility, 1.0, cfg.LongVolBars+1, func() (float64, float64) {
		shortVol := realizedVol(closes, cfg.ShortVolBars)
		longVol := realizedVol(closes, cfg.LongVolBars)
		if longVol == 0 {
			return 1, 0
		}
		ratio := shortVol / longVol
		// Elevated short-term volatility reads as fear, dampened as calm.
		return ratio, clampScore((1 - ratio) * 100)
	})
	add("volume_surge", CategoryVolume, 1.0, cfg.VolumeAvgBars+1, func() (float64, float64) {
		avg := talib.Sma(volumes, cfg.VolumeAvgBars)
		mean := avg[len(avg)-1]
		if mean == 0 {
			return 1, 0
		}
		ratio := last.Volume / mean
		// Surging volume amplifies whichever way the last bar moved.
		direction := 1.0
		if pctChange(closes, 1) < 0 {
			direction = -1.0
		}
		return ratio, clampScore((ratio - 1) * 50 * direction)
	})

	return signals
}

// pctChange is the percent move over the trailing n bars.
func pctChange(closes []float64, n int) float64 {
	last := closes[len(closes)-1]
	prev := closes[len(closes)-1-n]
	return (last - prev) / prev * 100
}

// realizedVol is the stddev of log returns over the trailing n bars.
func realizedVol(closes []float64, n int) float64 {
	if n < 2 || len(closes) < n+1 {
		return 0
	}
	returns := make([]float64, n)
	offset := len(closes) - n
	for i := 0; i < n; i++ {
		returns[i] = math.Log(closes[offset+i] / closes[offset+i-1])
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	return math.Sqrt(variance / float64(n))
}
