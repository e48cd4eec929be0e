package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type passRunner interface {
	RunBackfill(ctx context.Context) (int, error)
	LastPassFailed() bool
}

// scheduler re-runs the backfill pass on a cron schedule
type scheduler struct {
	cron     *cron.Cron
	spec     string
	runner   passRunner
	periodic bool
	logger   *zap.Logger
}

func newScheduler(runner passRunner, spec string, periodic bool, logger *zap.Logger) (*scheduler, error) {
	s := &scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		spec:     spec,
		runner:   runner,
		periodic: periodic,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid retry schedule %q: %w", spec, err)
	}
	return s, nil
}

// tick runs a pass when the last one failed, or always when periodic is set
func (s *scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.periodic && !s.runner.LastPassFailed() {
		return
	}

	s.logger.Info("Scheduled backfill pass starting", zap.Bool("periodic", s.periodic))
	inserted, err := s.runner.RunBackfill(ctx)
	switch {
	case errors.Is(err, ErrPassInFlight):
		s.logger.Debug("Skipping scheduled pass, another is in flight")
	case err != nil:
		s.logger.Warn("Scheduled backfill pass failed", zap.Error(err))
	default:
		s.logger.Info("Scheduled backfill pass done", zap.Int("inserted", inserted))
	}
}

// Run starts the schedule and blocks until ctx is cancelled
func (s *scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule backfill retries: %w", err)
	}

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
