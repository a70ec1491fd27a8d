// Package maint runs periodic storage upkeep: WAL checkpoints and a usage
// snapshot in the log, on a cron schedule.
package maint

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// parser accepts standard 5-field specs plus descriptors like @daily.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

const jobTimeout = time.Minute

// Store is the slice of the storage layer maintenance needs.
type Store interface {
	Checkpoint(ctx context.Context) error
	CommandCounts(ctx context.Context) ([]storage.CommandCount, error)
}

type Config struct {
	Enabled  bool
	Schedule string
}

// Validate checks the cron spec without starting anything. Used by the
// config layer before a reload is committed.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := parser.Parse(c.Schedule); err != nil {
		return fmt.Errorf("maintenance schedule %q: %w", c.Schedule, err)
	}
	return nil
}

type Service struct {
	log   logx.Logger
	store Store

	cfg Config
	c   *cron.Cron
}

func New(cfg Config, store Store, log logx.Logger) *Service {
	return &Service{log: log, store: store, cfg: cfg}
}

// Start registers the job and begins the schedule. Disabled config is not
// an error; the service just stays idle.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("maintenance disabled")
		return nil
	}
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("maintenance schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.c = c
	s.log.Info("maintenance started", logx.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop halts the schedule and waits for an in-flight run, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	if s.c == nil {
		return nil
	}
	done := s.c.Stop().Done()
	s.c = nil
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("maintenance stopped")
	return nil
}

func (s *Service) run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	start := time.Now()
	if err := s.store.Checkpoint(ctx); err != nil {
		s.log.Error("wal checkpoint failed", logx.Err(err))
		return
	}

	counts, err := s.store.CommandCounts(ctx)
	if err != nil {
		s.log.Error("usage snapshot failed", logx.Err(err))
		return
	}
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	s.log.Info("maintenance run complete",
		logx.Int("commands_tracked", len(counts)),
		logx.Int64("commands_total", total),
		logx.Duration("took", time.Since(start)),
	)
}
