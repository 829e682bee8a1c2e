package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"geoforge/internal/presence"
	"geoforge/internal/realtime"

	"github.com/robfig/cron/v3"
)

// PresenceSweeper expires presence members that stopped heartbeating.
type PresenceSweeper struct {
	rt   *realtime.Client
	ttl  time.Duration
	now  func() time.Time
	cron *cron.Cron
}

func NewPresenceSweeper(rt *realtime.Client, ttl time.Duration) *PresenceSweeper {
	return &PresenceSweeper{
		rt:   rt,
		ttl:  ttl,
		now:  time.Now,
		cron: cron.New(),
	}
}

// RunOnce performs a single sweep.
func (s *PresenceSweeper) RunOnce(ctx context.Context) (int, error) {
	removed, err := presence.Sweep(ctx, s.rt, s.ttl, s.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.Info("[JOBS] Presence sweep removed stale members", "count", removed)
	}
	return removed, nil
}

// Start schedules the sweep on a cron spec such as "@every 10s".
func (s *PresenceSweeper) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := s.RunOnce(ctx); err != nil {
			slog.Error("[JOBS] Presence sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule presence sweep %q: %w", schedule, err)
	}

	s.cron.Start()
	slog.Info("[JOBS] Presence sweeper started", "schedule", schedule, "ttl", s.ttl)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *PresenceSweeper) Stop() {
	<-s.cron.Stop().Done()
}
