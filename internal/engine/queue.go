package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// DefaultQueueInterval is how often the queue looks for promotable runs.
const DefaultQueueInterval = 5 * time.Second

// Queue promotes queued runs to execution, oldest first, while the number
// of running runs stays under the concurrency cap. Dispatch is fire and
// forget: the tick never waits on an executing run.
type Queue struct {
	store         *store.Store
	executor      *Executor
	maxConcurrent int
	interval      time.Duration
	logger        *slog.Logger
	metrics       *Metrics

	ticking atomic.Bool
	wg      sync.WaitGroup
}

// NewQueue wires a Queue. interval <= 0 selects DefaultQueueInterval.
func NewQueue(st *store.Store, executor *Executor, maxConcurrent int,
	interval time.Duration, logger *slog.Logger, metrics *Metrics,
) *Queue {
	if interval <= 0 {
		interval = DefaultQueueInterval
	}
	return &Queue{
		store:         st,
		executor:      executor,
		maxConcurrent: maxConcurrent,
		interval:      interval,
		logger:        logger,
		metrics:       metrics,
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight executions to
// observe the cancellation. Always returns nil; the queue has no fatal
// error mode.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("queue started", slog.Duration("interval", q.interval))
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("queue stopping")
			q.wg.Wait()
			return nil
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

// tick admits at most one run. A guard makes overlapping ticks impossible
// even if a tick's store calls outlast the interval.
func (q *Queue) tick(ctx context.Context) {
	if !q.ticking.CompareAndSwap(false, true) {
		return
	}
	defer q.ticking.Store(false)

	running, err := q.store.CountRunsByStatus(ctx, store.RunRunning)
	if err != nil {
		q.logger.Error("queue: counting running runs", slog.Any("error", err))
		return
	}
	queued, err := q.store.CountRunsByStatus(ctx, store.RunQueued)
	if err != nil {
		q.logger.Error("queue: counting queued runs", slog.Any("error", err))
		return
	}
	q.metrics.RunningRuns.Set(float64(running))
	q.metrics.QueueDepth.Set(float64(queued))

	if running >= q.maxConcurrent {
		return
	}

	next, err := q.store.OldestQueuedRun(ctx)
	if err != nil {
		q.logger.Error("queue: fetching oldest queued run", slog.Any("error", err))
		return
	}
	if next == nil {
		return
	}

	q.logger.Info("queue dispatching run",
		slog.String("run_id", next.ID),
		slog.Int("running", running),
		slog.Int("queued", queued))

	q.wg.Add(1)
	go q.dispatch(ctx, next.ID)
}

// dispatch shields the queue loop from a panicking execution: the run is
// already claimed-or-claimable in the store, and startup recovery will fail
// it cleanly if the whole process dies.
func (q *Queue) dispatch(ctx context.Context, runID string) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue: panic executing run",
				slog.String("run_id", runID),
				slog.Any("panic", r))
		}
	}()

	q.executor.Execute(ctx, runID)
}
