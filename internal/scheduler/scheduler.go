package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/Orine99/ees-education-dashboard/internal/metrics"
)

// MetadataWarmer loads metadata for a set of data sets.
type MetadataWarmer interface {
	WarmMetadata(ctx context.Context, dataSetIDs []string) error
}

// Sweeper drops expired entries and reports how many it removed.
type Sweeper interface {
	Sweep() int
}

// Config wires a Scheduler.
type Config struct {
	Warmer          MetadataWarmer
	DataSetIDs      []string
	RefreshInterval time.Duration
	JobTimeout      time.Duration

	Sweepers      map[string]Sweeper
	SweepInterval time.Duration

	Logger zerolog.Logger
}

// Scheduler periodically refreshes metadata for configured data sets and
// sweeps expired cache entries and sessions.
type Scheduler struct {
	scheduler *gocron.Scheduler
	cfg       Config
}

// New creates a new Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		cfg:       cfg,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
// Jobs run once immediately, then on their interval.
func (s *Scheduler) Start() error {
	var scheduled int

	if s.cfg.Warmer != nil && len(s.cfg.DataSetIDs) > 0 && s.cfg.RefreshInterval > 0 {
		if _, err := s.scheduler.Every(s.cfg.RefreshInterval).Do(s.warmMetadata); err != nil {
			return err
		}
		scheduled++
	} else {
		s.cfg.Logger.Info().Msg("scheduler: no data sets configured; metadata warm-up disabled")
	}

	if len(s.cfg.Sweepers) > 0 && s.cfg.SweepInterval > 0 {
		if _, err := s.scheduler.Every(s.cfg.SweepInterval).Do(s.sweep); err != nil {
			return err
		}
		scheduled++
	}

	if scheduled == 0 {
		return nil
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil && s.scheduler.IsRunning() {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) warmMetadata() {
	s.cfg.Logger.Info().Int("datasets", len(s.cfg.DataSetIDs)).Msg("scheduler: running metadata warm-up")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	err := s.cfg.Warmer.WarmMetadata(ctx, s.cfg.DataSetIDs)
	metrics.RecordJobRun("metadata_warmup", err)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.cfg.Logger.Error().Err(err).Msg("scheduler: metadata warm-up failed")
		return
	}
	s.cfg.Logger.Info().Msg("scheduler: completed metadata warm-up")
}

func (s *Scheduler) sweep() {
	total := 0
	for name, sw := range s.cfg.Sweepers {
		n := sw.Sweep()
		total += n
		if n > 0 {
			s.cfg.Logger.Debug().Str("target", name).Int("removed", n).Msg("scheduler: swept expired entries")
		}
	}
	metrics.RecordJobRun("sweep", nil)
	s.cfg.Logger.Debug().Int("removed", total).Msg("scheduler: sweep completed")
}
