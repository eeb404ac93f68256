package trial

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// recordTimeout bounds a single background write so a hung store cannot
// accumulate goroutines indefinitely.
const recordTimeout = 10 * time.Second

// Recorder is the engine-facing side of trial persistence: a fire-and-forget
// append that never blocks and never reports failure to its caller.
type Recorder interface {
	// Record persists the attempt asynchronously. Always returns immediately.
	Record(a Attempt)
}

// AsyncRecorder implements Recorder on top of a Store. Each Record spawns a
// bounded background write; failures are logged and passed to the optional
// OnError hook (e.g., an error metric), then dropped — telemetry loss is
// acceptable, blocked therapy progression is not.
type AsyncRecorder struct {
	store Store

	// OnError, when non-nil, is invoked with every failed write.
	OnError func(error)

	wg sync.WaitGroup
}

// Compile-time interface check.
var _ Recorder = (*AsyncRecorder)(nil)

// NewAsyncRecorder wraps store in a fire-and-forget recorder.
func NewAsyncRecorder(store Store) *AsyncRecorder {
	return &AsyncRecorder{store: store}
}

// Record persists a in the background and returns immediately.
func (r *AsyncRecorder) Record(a Attempt) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		if err := r.store.Record(ctx, a); err != nil {
			slog.Warn("trial: failed to record attempt",
				"user_id", a.UserID,
				"task_id", a.TaskID,
				"error", err,
			)
			if r.OnError != nil {
				r.OnError(err)
			}
		}
	}()
}

// Wait blocks until all in-flight writes have finished. Intended for
// shutdown paths and tests.
func (r *AsyncRecorder) Wait() {
	r.wg.Wait()
}
