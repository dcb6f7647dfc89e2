package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically hard-deletes tombstones older than ttl. It never
// decides secret state; that happens lazily on access.
type Janitor struct {
	store    Store
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewJanitor(st Store, interval, ttl time.Duration, log *zap.Logger) *Janitor {
	return &Janitor{
		store:    st,
		interval: interval,
		ttl:      ttl,
		now:      time.Now,
		log:      log.Named("janitor"),
	}
}

// Run blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := j.now().Add(-j.ttl)
	purged, err := j.store.PurgeDeleted(ctx, cutoff)
	if err != nil {
		j.log.Warn("purge failed", zap.Error(err))
		return
	}
	if purged > 0 {
		j.log.Info("purged tombstones", zap.Int64("count", purged), zap.Time("cutoff", cutoff))
	}
}
