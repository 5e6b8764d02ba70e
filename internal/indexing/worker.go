package indexing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/searchbridge/internal/metrics"
	"github.com/kailas-cloud/searchbridge/internal/queue"
)

// Worker drains the task queue into the orchestrator. Tasks are delivered at
// least once and possibly out of order; every handler re-reads current state,
// so replays and reorderings are harmless.
type Worker struct {
	orch   *Orchestrator
	tasks  queue.Queue
	logger *zap.Logger

	unsubscribe func() error
}

// NewWorker creates a Worker.
func NewWorker(orch *Orchestrator, tasks queue.Queue, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{orch: orch, tasks: tasks, logger: logger}
}

// Start subscribes to the queue. Returns once the subscription is live.
func (w *Worker) Start() error {
	unsub, err := w.tasks.Subscribe(w.handle)
	if err != nil {
		return fmt.Errorf("subscribe worker: %w", err)
	}
	w.unsubscribe = unsub
	return nil
}

// Stop detaches from the queue. In-flight tasks finish.
func (w *Worker) Stop() error {
	if w.unsubscribe == nil {
		return nil
	}
	return w.unsubscribe()
}

func (w *Worker) handle(ctx context.Context, task queue.Task) error {
	var err error
	switch task.Op {
	case queue.OpUpsert:
		err = w.orch.UpsertItem(ctx, task.Index, task.ItemID)
	case queue.OpDelete:
		err = w.orch.DeleteItem(ctx, task.Index, task.ItemID)
	case queue.OpImport:
		_, err = w.orch.ImportIndex(ctx, task.Index)
	case queue.OpFlush:
		err = w.orch.FlushIndex(ctx, task.Index)
	case queue.OpRefresh:
		_, err = w.orch.RefreshIndex(ctx, task.Index)
	default:
		w.logger.Warn("dropping task with unknown op", zap.String("op", string(task.Op)))
		return nil
	}

	status := "ok"
	if err != nil {
		status = "error"
		w.logger.Error("task failed",
			zap.String("op", string(task.Op)),
			zap.String("index", task.Index),
			zap.Int64("item", task.ItemID),
			zap.Error(err),
		)
	}
	metrics.SyncTasksTotal.WithLabelValues(string(task.Op), status).Inc()
	return err
}
