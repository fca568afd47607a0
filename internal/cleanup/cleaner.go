package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/terra-clan/focus-engine/internal/metrics"
)

// AwardPruner deletes ledger rows older than a cutoff
type AwardPruner interface {
	PruneAwards(ctx context.Context, olderThan time.Time) (int64, error)
}

// Cleaner handles periodic pruning of the award ledger
type Cleaner struct {
	pruner    AwardPruner
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewCleaner creates a new cleanup worker. A zero retention keeps every award.
func NewCleaner(pruner AwardPruner, interval, retention time.Duration) *Cleaner {
	if interval <= 0 {
		interval = time.Hour
	}

	return &Cleaner{
		pruner:    pruner,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

// Start begins the cleanup worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	if c.retention <= 0 {
		slog.Info("award retention disabled, cleanup worker not started")
		return
	}
	go c.run(ctx)
}

// run is the main loop for the cleanup worker
func (c *Cleaner) run(ctx context.Context) {
	slog.Info("cleanup worker started", "interval", c.interval, "retention", c.retention)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Run immediately on start
	c.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

// cleanup removes awards older than the retention window
func (c *Cleaner) cleanup(ctx context.Context) int64 {
	slog.Debug("running cleanup cycle")

	cutoff := c.now().Add(-c.retention)
	removed, err := c.pruner.PruneAwards(ctx, cutoff)
	if err != nil {
		slog.Error("failed to prune awards", "error", err, "cutoff", cutoff)
		return 0
	}

	if removed == 0 {
		slog.Debug("no expired awards found")
		return 0
	}

	metrics.AwardsPrunedTotal.Add(float64(removed))
	slog.Info("expired awards pruned", "count", removed, "cutoff", cutoff)
	return removed
}
