// Package purge retires stale anonymous data. Unclaimed identities and the
// boards of unclaimed creators are soft deleted after the retention window,
// then physically purged after a grace period.
package purge

import (
	"context"
	"fmt"
	"log"
	"time"
)

type purgeStore interface {
	SoftDeleteExpiredIdentities(ctx context.Context, now time.Time, cutoff time.Time) (int64, error)
	PurgeIdentities(ctx context.Context, cutoff time.Time) (int64, error)
	SoftDeleteUnclaimedBoards(ctx context.Context, now time.Time, cutoff time.Time) (int64, error)
	PurgeBoards(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs the retention policy on an interval.
type Sweeper struct {
	store     purgeStore
	retention time.Duration // age before soft delete
	grace     time.Duration // soft-deleted age before purge
	interval  time.Duration
}

// NewSweeper creates a sweeper. retention is how long an unclaimed identity
// or board lives, grace how long a soft-deleted row lingers before purge.
func NewSweeper(store purgeStore, retention, grace, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		retention: retention,
		grace:     grace,
		interval:  interval,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. One sweep
// runs immediately on start so restarts never extend retention.
func (s *Sweeper) Run(ctx context.Context) {
	if err := s.RunOnce(ctx, time.Now()); err != nil {
		log.Printf("purge: initial sweep: %v", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx, time.Now()); err != nil {
				log.Printf("purge: sweep: %v", err)
			}
		}
	}
}

// RunOnce applies the retention policy as of now. Idempotent: a second call
// with the same clock finds nothing left to do.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) error {
	softCutoff := now.Add(-s.retention)
	purgeCutoff := now.Add(-s.grace)

	softIdentities, err := s.store.SoftDeleteExpiredIdentities(ctx, now, softCutoff)
	if err != nil {
		return fmt.Errorf("soft delete identities: %w", err)
	}

	softBoards, err := s.store.SoftDeleteUnclaimedBoards(ctx, now, softCutoff)
	if err != nil {
		return fmt.Errorf("soft delete boards: %w", err)
	}

	purgedBoards, err := s.store.PurgeBoards(ctx, purgeCutoff)
	if err != nil {
		return fmt.Errorf("purge boards: %w", err)
	}

	purgedIdentities, err := s.store.PurgeIdentities(ctx, purgeCutoff)
	if err != nil {
		return fmt.Errorf("purge identities: %w", err)
	}

	if softIdentities+softBoards+purgedIdentities+purgedBoards > 0 {
		log.Printf("purge: soft-deleted %d identities, %d boards; purged %d identities, %d boards",
			softIdentities, softBoards, purgedIdentities, purgedBoards)
	}
	return nil
}
