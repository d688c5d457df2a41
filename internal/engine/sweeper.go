package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bionic-gpt/bionic-gpt-sub002/internal/store"
)

// Sweeper periodically flips orphaned pending tool chats to success.
// The sink's own sweep only covers the conversation it is finishing;
// conversations abandoned mid-tool-loop are picked up here once their
// pending chats are older than the TTL.
type Sweeper struct {
	store    store.Store
	schedule cron.Schedule
	ttl      time.Duration
}

func NewSweeper(st store.Store, scheduleSpec string, ttl time.Duration) (*Sweeper, error) {
	schedule, err := cron.ParseStandard(scheduleSpec)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Sweeper{store: st, schedule: schedule, ttl: ttl}, nil
}

// RunOnce sweeps immediately and returns how many chats changed.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin sweep transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	cutoff := time.Now().Add(-s.ttl)
	swept, err := tx.SweepStalePendingToolChats(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale tool chats: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit sweep: %w", err)
	}
	return swept, nil
}

// Run sweeps on the configured schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		swept, err := s.RunOnce(ctx)
		if err != nil {
			slog.Error("Sweep failed", "error", err)
			continue
		}
		if swept > 0 {
			slog.Info("Swept stale pending tool chats", "count", swept)
		}
	}
}
