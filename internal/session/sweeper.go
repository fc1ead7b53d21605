package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper expires stale sessions. Sessions are retained for the sum of
// all step deadlines plus a grace margin; anything older is archived.
// Non-terminal stragglers (e.g. runtimes lost across a restart) are
// denied on the way out so no session escapes a final decision.
type Sweeper struct {
	orch     *Orchestrator
	store    Store
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewSweeper creates a session expiry sweeper. ttl should be the sum of
// the plan's step deadlines plus grace.
func NewSweeper(orch *Orchestrator, store Store, ttl time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		orch:     orch,
		store:    store,
		ttl:      ttl,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithInterval overrides the sweep cadence.
func (sw *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		sw.interval = d
	}
	return sw
}

// Start begins the sweep loop. Call in a goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stop:
			return
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (sw *Sweeper) Stop() {
	select {
	case sw.stop <- struct{}{}:
	default:
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-sw.ttl)
	ids, err := sw.store.ListStale(ctx, cutoff, 100)
	if err != nil {
		sw.logger.Warn("failed to list stale sessions", "error", err)
		return
	}

	for _, id := range ids {
		s, err := sw.store.Get(ctx, id)
		if err != nil {
			continue
		}

		if !s.Decision.Terminal() {
			s.Decision = DecisionDenied
			s.State = StateDenied
			s.UpdatedAt = time.Now()
			if err := sw.store.Update(ctx, s); err != nil {
				sw.logger.Warn("failed to deny expired session", "session_id", id, "error", err)
				continue
			}
			sw.logger.Info("expired pending session denied", "session_id", id)
		}

		sw.orch.runtimes.Delete(id)
		if err := sw.store.Delete(ctx, id); err != nil {
			sw.logger.Warn("failed to archive session", "session_id", id, "error", err)
		}
	}

	if len(ids) > 0 {
		sw.logger.Info("session sweep complete", "archived", len(ids))
	}
}
