package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the scheduled lifecycle jobs: hourly idle expiry and daily
// retention purge.
type Sweeper struct {
	manager *Manager
	logger  *slog.Logger
	cron    *cron.Cron

	expireSpec string
	purgeSpec  string

	onExpired func(count int64)
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithExpireSpec overrides the idle expiry schedule (default "@hourly").
func WithExpireSpec(spec string) SweeperOption {
	return func(s *Sweeper) { s.expireSpec = spec }
}

// WithPurgeSpec overrides the retention purge schedule (default "@daily").
func WithPurgeSpec(spec string) SweeperOption {
	return func(s *Sweeper) { s.purgeSpec = spec }
}

// WithOnExpired registers a callback invoked with the number of sessions
// expired by each sweep.
func WithOnExpired(fn func(count int64)) SweeperOption {
	return func(s *Sweeper) { s.onExpired = fn }
}

// NewSweeper creates a sweeper for the given manager.
func NewSweeper(manager *Manager, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		manager:    manager,
		logger:     logger,
		cron:       cron.New(cron.WithLocation(time.UTC)),
		expireSpec: "@hourly",
		purgeSpec:  "@daily",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the jobs and starts the scheduler. Job panics or errors
// never escape the cron goroutine.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.expireSpec, func() {
		n, err := s.manager.ExpireIdle(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "session expiry sweep failed", slog.Any("error", err))
			return
		}
		if s.onExpired != nil {
			s.onExpired(n)
		}
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.purgeSpec, func() {
		if _, err := s.manager.PurgeOld(ctx); err != nil {
			s.logger.ErrorContext(ctx, "session retention sweep failed", slog.Any("error", err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "session sweeper started",
		slog.String("expire_schedule", s.expireSpec),
		slog.String("purge_schedule", s.purgeSpec),
	)
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
