package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// Retention sweep cadence. The first sweep is delayed so startup recovery
// and the initial catalog sync settle first.
const (
	DefaultRetentionInterval = time.Hour
	DefaultRetentionDelay    = time.Minute
)

// Retention deletes runs older than the retention window together with
// their artifact directories, and reaps artifact directories whose run row
// no longer exists. Database rows are removed only after their artifacts,
// so a failed sweep leaves re-discoverable work rather than orphans.
type Retention struct {
	store         *store.Store
	artifactRoot  string
	retentionDays int
	interval      time.Duration
	initialDelay  time.Duration
	logger        *slog.Logger
	metrics       *Metrics

	// now is swappable for tests.
	now func() time.Time
}

// NewRetention wires a Retention sweeper. Non-positive interval or delay
// select the defaults.
func NewRetention(st *store.Store, artifactRoot string, retentionDays int,
	interval, initialDelay time.Duration, logger *slog.Logger, metrics *Metrics,
) *Retention {
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	if initialDelay <= 0 {
		initialDelay = DefaultRetentionDelay
	}
	return &Retention{
		store:         st,
		artifactRoot:  artifactRoot,
		retentionDays: retentionDays,
		interval:      interval,
		initialDelay:  initialDelay,
		logger:        logger,
		metrics:       metrics,
		now:           time.Now,
	}
}

// Run sweeps after the initial delay and then on every interval until ctx
// is cancelled. Always returns nil.
func (r *Retention) Run(ctx context.Context) error {
	r.logger.Info("retention started",
		slog.Int("retention_days", r.retentionDays),
		slog.Duration("interval", r.interval))

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(r.initialDelay):
	}
	r.Sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("retention stopping")
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one retention pass: expired runs first, orphaned artifact
// directories second. Errors are logged per item; the pass keeps going.
func (r *Retention) Sweep(ctx context.Context) {
	cutoff := r.now().AddDate(0, 0, -r.retentionDays)

	ids, err := r.store.ListRunIDsCreatedBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("retention: listing expired runs", slog.Any("error", err))
		return
	}

	if len(ids) > 0 {
		deletable := make([]string, 0, len(ids))
		for _, id := range ids {
			if err := os.RemoveAll(filepath.Join(r.artifactRoot, id)); err != nil {
				// Keep the row so the next sweep retries the directory.
				r.logger.Error("retention: removing artifact dir",
					slog.String("run_id", id), slog.Any("error", err))
				continue
			}
			deletable = append(deletable, id)
		}

		deleted, err := r.store.DeleteRuns(ctx, deletable)
		if err != nil {
			r.logger.Error("retention: deleting run rows", slog.Any("error", err))
		} else if deleted > 0 {
			r.metrics.RetentionRunsDeleted.Add(float64(deleted))
			r.logger.Info("retention: expired runs deleted",
				slog.Int("count", deleted),
				slog.Time("cutoff", cutoff))
		}
	}

	r.reapOrphans(ctx)
}

// reapOrphans removes artifact directories that look like run directories
// but have no corresponding run row, which happens when a past sweep
// deleted rows and then crashed before finishing the directories.
func (r *Retention) reapOrphans(ctx context.Context) {
	entries, err := os.ReadDir(r.artifactRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Error("retention: reading artifact root", slog.Any("error", err))
		}
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !looksLikeRunID(name) {
			continue
		}
		exists, err := r.store.RunExists(ctx, name)
		if err != nil {
			r.logger.Error("retention: checking run row",
				slog.String("run_id", name), slog.Any("error", err))
			continue
		}
		if exists {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.artifactRoot, name)); err != nil {
			r.logger.Error("retention: removing orphaned dir",
				slog.String("run_id", name), slog.Any("error", err))
			continue
		}
		r.metrics.RetentionOrphansRemoved.Inc()
		r.logger.Info("retention: orphaned artifact dir removed", slog.String("run_id", name))
	}
}

// looksLikeRunID reports whether name has the canonical UUID shape run
// directories are named with. Anything else in the artifact root is left
// alone.
func looksLikeRunID(name string) bool {
	if len(name) != 36 {
		return false
	}
	_, err := uuid.Parse(name)
	return err == nil
}
