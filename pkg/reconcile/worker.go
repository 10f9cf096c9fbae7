package reconcile

import (
	"context"

	"go.uber.org/zap"

	"github.com/canvas-ai/canvas-stored/pkg/model"
)

// NewWorker creates a reconciliation worker for one backend. One worker
// per backend with a FIFO channel keeps events for the same (backend,
// key) in emission order, which the change transition depends on;
// ordering across backends is not needed and not provided.
func NewWorker(backend string, r *Reconciler, logs *zap.Logger) *Worker {
	if logs == nil {
		logs = zap.NewNop()
	}
	return &Worker{
		backend:    backend,
		reconciler: r,
		events:     make(chan model.ChangeEvent, 64),
		logs:       logs.With(zap.String("backend", backend)),
	}
}

// Worker consumes change events for a single backend and forwards the
// resulting notifications to a sink.
type Worker struct {
	backend    string
	reconciler *Reconciler
	events     chan model.ChangeEvent
	logs       *zap.Logger
}

// Enqueue hands an event to the worker. It blocks when the worker is
// backlogged, providing backpressure to the emitting watcher.
func (w *Worker) Enqueue(ev model.ChangeEvent) {
	w.events <- ev
}

// Close stops the worker after the queued events drain.
func (w *Worker) Close() {
	close(w.events)
}

// Run processes events until the channel closes or ctx is done. Sink
// may be nil when the caller doesn't care about notifications.
func (w *Worker) Run(ctx context.Context, sink chan<- model.Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.events:
			if !ok {
				return nil
			}
			notifications, err := w.reconciler.Apply(ev)
			if err != nil {
				// reconciliation failures are logged and the worker
				// moves on; the index was left consistent
				w.logs.Error("reconcile event",
					zap.String("type", string(ev.Type)),
					zap.String("key", ev.Key),
					zap.Error(err),
				)
				continue
			}
			if sink == nil {
				continue
			}
			for _, n := range notifications {
				select {
				case sink <- n:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
