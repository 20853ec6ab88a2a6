// Package retention runs the periodic cleanup of the access attempt trail.
// It is the only component allowed to delete audit rows.
package retention

import (
	"context"
	"time"

	"passgate.org/internal/obs"
)

// Purger deletes audit records older than a cutoff and reports how many went.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner periodically purges attempts older than the retention window.
type Pruner struct {
	purger    Purger
	retention time.Duration
	interval  time.Duration
}

// NewPruner builds a pruner. A zero retention disables pruning entirely.
func NewPruner(purger Purger, retention, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Pruner{purger: purger, retention: retention, interval: interval}
}

// Run blocks until the context ends, pruning once per interval. Call it in
// its own goroutine.
func (p *Pruner) Run(ctx context.Context) {
	if p.retention <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce performs a single purge pass.
func (p *Pruner) PruneOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.retention)
	purged, err := p.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		obs.LogRequest(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "audit retention prune failed",
			"error": err.Error(),
		})
		return
	}
	if purged > 0 {
		obs.LogRequest(map[string]any{
			"ts":     time.Now().UTC().Format(time.RFC3339Nano),
			"level":  "info",
			"msg":    "audit retention prune",
			"purged": purged,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
}
