package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentigrade/sentigrade/internal/agent"
)

// CycleArchiver forwards cycle reports into a CycleStore. Archive failures
// are logged, never propagated: losing an archive row must not disturb the
// trading loop.
type CycleArchiver struct {
	store   CycleStore
	timeout time.Duration
	logger  zerolog.Logger
}

var _ agent.Observer = (*CycleArchiver)(nil)

func NewCycleArchiver(store CycleStore) *CycleArchiver {
	return &CycleArchiver{
		store:   store,
		timeout: 10 * time.Second,
		logger:  log.With().Str("component", "cycle_archiver").Logger(),
	}
}

func (a *CycleArchiver) OnCycle(report agent.CycleReport) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.store.SaveCycle(ctx, FromCycle(report)); err != nil {
		a.logger.Error().Err(err).
			Int("cycle", report.Sequence).
			Str("account", report.Account).
			Msg("Cycle archive failed")
	}
}
