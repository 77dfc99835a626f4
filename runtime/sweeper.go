// Package runtime hosts the periodic maintenance jobs: concluding ended
// experiments and checkpointing their snapshots to the store.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aschepis/switchboard/experiment"
)

// SnapshotSaver persists exported experiment snapshots.
// *outcomes.Store implements it.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, snap *experiment.Snapshot) error
}

// Sweeper periodically concludes experiments whose end time has passed and
// checkpoints every experiment's snapshot. Lazy expiry on consultation
// remains the correctness mechanism; the sweeper keeps logs and the store
// current even when traffic is idle.
type Sweeper struct {
	tracker  *experiment.Tracker
	store    SnapshotSaver
	cron     *cron.Cron
	schedule string
	logger   zerolog.Logger
}

// NewSweeper creates a sweeper on the given cron schedule (e.g. "@every 1m").
// store may be nil, in which case only expiry and logging happen.
func NewSweeper(tracker *experiment.Tracker, store SnapshotSaver, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = "@every 1m"
	}
	s := &Sweeper{
		tracker:  tracker,
		store:    store,
		cron:     cron.New(),
		schedule: schedule,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the periodic sweep. An initial sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info().Str("schedule", s.schedule).Msg("Starting experiment sweeper")
	s.Sweep(ctx)
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn().Msg("Timed out waiting for sweep to finish")
	}
	s.logger.Info().Msg("Experiment sweeper stopped")
}

// Sweep performs one pass: conclude ended experiments, log their final
// analyses, and checkpoint every experiment to the store.
func (s *Sweeper) Sweep(ctx context.Context) {
	expired := s.tracker.ExpireEnded()
	for _, id := range expired {
		analysis, err := s.tracker.Analyze(id)
		if err != nil {
			s.logger.Error().Err(err).Str("experiment_id", id).Msg("Failed to analyze concluded experiment")
			continue
		}
		s.logger.Info().
			Str("experiment_id", id).
			Str("winner", analysis.Winner).
			Float64("confidence", analysis.Confidence).
			Msg("Experiment concluded")
	}

	if s.store == nil {
		return
	}
	for _, cfg := range s.tracker.Experiments() {
		snap, err := s.tracker.Export(cfg.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("experiment_id", cfg.ID).Msg("Failed to export experiment")
			continue
		}
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			s.logger.Error().Err(err).Str("experiment_id", cfg.ID).Msg("Failed to persist experiment snapshot")
		}
	}
}
