// Package maintenance implements the Maintenance Worker: a cron-driven
// background loop that runs four idempotent upkeep tasks — version
// pruning, stale-run reaping, run-log retention, and cache invalidation —
// per §4.J.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/r3data-core/rdatacore/internal/clock"
	"github.com/r3data-core/rdatacore/internal/dsl"
	"github.com/r3data-core/rdatacore/internal/version"
)

const shutdownTimeout = 5 * time.Second

type (
	// VersionPruner is the Version Archive surface the worker prunes
	// through. Implemented by *version.Store.
	VersionPruner interface {
		DistinctEntityKeys(ctx context.Context) ([]struct{ EntityType, EntityID string }, error)
		DistinctDefinitionIDs(ctx context.Context) ([]string, error)
		PruneEntityVersions(ctx context.Context, entityType, entityID string, policy version.PruningPolicy) (int64, error)
		PruneDefinitionVersions(ctx context.Context, definitionID string, policy version.PruningPolicy) (int64, error)
	}

	// RunMaintainer is the Run Ledger surface the worker reaps stale runs
	// and retires old logs through. Implemented by *runledger.Ledger.
	RunMaintainer interface {
		ReapStale(ctx context.Context, staleBeforeSeconds int64) (int, error)
		DeleteOldLogs(ctx context.Context, olderThan time.Time) (int64, error)
	}

	// CacheInvalidator is the Cache Layer surface the worker sweeps on
	// every tick, catching any mutation whose synchronous invalidation was
	// lost to a crash between the write and the cache call.
	CacheInvalidator interface {
		InvalidateAll()
	}
)

// Worker runs its four tasks on every firing of Config.Cron, reusing the
// teacher's background-goroutine-with-graceful-shutdown shape
// (cleanupStop/cleanupDone channels, sync.Once on Close) from
// internal/storage's LineageStore cleanup goroutine, generalized from one
// task to four.
type Worker struct {
	versions VersionPruner
	runs     RunMaintainer
	cache    CacheInvalidator // optional, may be nil
	cfg      Config
	clock    clock.Clock
	logger   *slog.Logger

	cleanupStop chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// New builds a Worker and starts its background tick goroutine.
func New(versions VersionPruner, runs RunMaintainer, cache CacheInvalidator, cfg Config, logger *slog.Logger) *Worker {
	w := &Worker{
		versions: versions, runs: runs, cache: cache, cfg: cfg, clock: clock.New(), logger: logger,
		cleanupStop: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go w.run()

	return w
}

// Close stops the tick goroutine gracefully. Safe to call more than once.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		close(w.cleanupStop)

		select {
		case <-w.cleanupDone:
			w.logger.Info("maintenance worker stopped gracefully")
		case <-time.After(shutdownTimeout):
			w.logger.Warn("maintenance worker did not stop within timeout")
		}
	})
}

func (w *Worker) run() {
	defer close(w.cleanupDone)

	schedule, err := dsl.ParseCron(w.cfg.Cron)
	if err != nil {
		w.logger.Error("maintenance: invalid cron expression, worker not running", slog.String("error", err.Error()))
		return
	}

	for {
		wait := time.Until(schedule.Next(w.clock.Now()))

		timer := time.NewTimer(wait)

		select {
		case <-w.cleanupStop:
			timer.Stop()
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			w.tick(ctx)
			cancel()
		}
	}
}

// tick runs all four maintenance tasks once. Each task's failure is logged
// and does not prevent the others from running.
func (w *Worker) tick(ctx context.Context) {
	w.pruneVersions(ctx)
	w.reapStaleRuns(ctx)
	w.retireOldLogs(ctx)
	w.invalidateCache()
}

func (w *Worker) pruneVersions(ctx context.Context) {
	entityKeys, err := w.versions.DistinctEntityKeys(ctx)
	if err != nil {
		w.logger.Error("maintenance: list distinct entity keys failed", slog.String("error", err.Error()))
	}

	for _, key := range entityKeys {
		if _, err := w.versions.PruneEntityVersions(ctx, key.EntityType, key.EntityID, w.cfg.VersionPolicy); err != nil {
			w.logger.Error("maintenance: prune entity versions failed",
				slog.String("entity_type", key.EntityType), slog.String("entity_id", key.EntityID), slog.String("error", err.Error()))
		}
	}

	definitionIDs, err := w.versions.DistinctDefinitionIDs(ctx)
	if err != nil {
		w.logger.Error("maintenance: list distinct definition ids failed", slog.String("error", err.Error()))
	}

	for _, id := range definitionIDs {
		if _, err := w.versions.PruneDefinitionVersions(ctx, id, w.cfg.VersionPolicy); err != nil {
			w.logger.Error("maintenance: prune definition versions failed",
				slog.String("definition_id", id), slog.String("error", err.Error()))
		}
	}
}

func (w *Worker) reapStaleRuns(ctx context.Context) {
	n, err := w.runs.ReapStale(ctx, int64(w.cfg.StaleRunAfter.Seconds()))
	if err != nil {
		w.logger.Error("maintenance: reap stale runs failed", slog.String("error", err.Error()))
		return
	}

	if n > 0 {
		w.logger.Info("maintenance: reaped stale runs", slog.Int("count", n))
	}
}

func (w *Worker) retireOldLogs(ctx context.Context) {
	cutoff := w.clock.Now().Add(-w.cfg.RunLogRetention)

	n, err := w.runs.DeleteOldLogs(ctx, cutoff)
	if err != nil {
		w.logger.Error("maintenance: retire old run logs failed", slog.String("error", err.Error()))
		return
	}

	if n > 0 {
		w.logger.Info("maintenance: retired old run logs", slog.Int64("count", n))
	}
}

func (w *Worker) invalidateCache() {
	if w.cache == nil {
		return
	}

	w.cache.InvalidateAll()
}
