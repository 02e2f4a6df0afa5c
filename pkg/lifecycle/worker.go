package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	tferr "github.com/testforge/testforge-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
// It follows the Go module path convention for OTel instrumentation libraries.
const tracerName = "github.com/testforge/testforge-core/pkg/lifecycle"

// RunFunc is the body of a worker. It is launched on its own goroutine by
// [Worker.Start] and must block until its context is canceled, returning
// nil on a clean drain. A non-nil return while the context is still live
// transitions the worker to [StateFailed].
type RunFunc func(ctx context.Context) error

// Hook is a function called during a lifecycle transition (start, stop).
// It receives the caller's context, which may carry deadlines and
// cancellation signals.
//
// If a hook returns a non-nil error, the lifecycle transition is aborted
// and the worker transitions to [StateFailed]. Hooks should perform
// cleanup on error to avoid leaving resources in an inconsistent state.
//
// Hooks execute outside the worker's state mutex, so they may safely call
// read-only methods ([Worker.State], [Worker.Info]) without causing
// deadlocks.
type Hook func(ctx context.Context) error

// StateChangeHandler is a callback invoked when a worker's lifecycle state
// changes. It receives the previous state and the new state.
//
// Handlers execute synchronously under the worker's state mutex during
// [Worker.SetState]. Implementations must not block for extended periods
// or call lifecycle methods on the same worker, as this will cause a
// deadlock. Handlers that panic are recovered and logged without
// preventing the state change.
type StateChangeHandler func(old, new State)

// WorkerInfo provides a point-in-time snapshot of a worker's identity,
// state, and uptime. It is returned by [Worker.Info] and is safe to
// serialize to JSON for health endpoints and operator tooling.
//
// The Uptime field is computed at the time Info() is called and reflects
// the elapsed time since the worker entered [StateRunning]. It is zero if
// the worker has not yet started or has been stopped.
type WorkerInfo struct {
	// Name is the human-readable name of the worker (e.g. "approval-sweeper").
	Name string `json:"name"`

	// State is the current lifecycle state of the worker.
	State State `json:"state"`

	// StartedAt is the time the worker entered StateRunning. Nil if the
	// worker has not started or has been stopped.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// Uptime is the elapsed time since the worker entered StateRunning.
	// Zero if the worker is not currently running.
	Uptime time.Duration `json:"uptime,omitempty"`
}

// Worker is a thread-safe supervisor for one long-running loop. It owns
// the goroutine executing the loop's [RunFunc], enforces the lifecycle
// state machine on every transition, and notifies registered
// [StateChangeHandler] observers.
//
// Create a Worker using [WorkerBuilder] and share it across the
// application; all methods are safe for concurrent use by multiple
// goroutines.
//
// Lifecycle hooks (OnStart, OnStop) execute outside the state mutex to
// prevent deadlocks. If a hook fails, the worker transitions to
// [StateFailed] and the error is wrapped with a platform error code.
type Worker struct {
	// Immutable fields — set at construction, never modified. These do
	// not require mutex protection.
	name string
	run  RunFunc

	// Mutable fields — protected by mu.
	mu        sync.RWMutex
	state     State
	startedAt *time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	// Observability — set at construction, never modified.
	tracer trace.Tracer
	logger *slog.Logger

	// Lifecycle hooks — set at construction via builder, never modified.
	onStart Hook
	onStop  Hook

	// State change observers — set at construction via builder, never modified.
	stateHandlers []StateChangeHandler
}

// Name returns the human-readable name of the worker. This value is
// immutable after construction.
func (w *Worker) Name() string {
	return w.name
}

// State returns the current lifecycle state of the worker. This method is
// safe for concurrent use.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Info returns a point-in-time snapshot of the worker's identity, state,
// and uptime. This method is safe for concurrent use.
func (w *Worker) Info() WorkerInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	info := WorkerInfo{
		Name:  w.name,
		State: w.state,
	}

	if w.startedAt != nil && w.state == StateRunning {
		t := *w.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}

	return info
}

// Health performs a health check on the worker. Returns nil if the worker
// is in [StateRunning], or a [*tferr.Error] with code
// [tferr.CodeUnavailable] describing the current state otherwise.
func (w *Worker) Health(ctx context.Context) error {
	state := w.State()
	if state != StateRunning {
		return tferr.Newf(tferr.CodeUnavailable,
			"lifecycle: worker %q is not running, current state is %q", w.name, state)
	}
	return nil
}

// SetState transitions the worker to the given state after validating the
// transition against the lifecycle state machine. Returns a [*tferr.Error]
// with code [tferr.CodeConflict] if the transition is not allowed.
//
// On a successful transition, all registered [StateChangeHandler]
// functions are called synchronously with the old and new state values.
// Handlers execute under the state mutex; they must not call lifecycle
// methods on the same worker or block for extended periods.
func (w *Worker) SetState(new State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.setStateLocked(new)
}

func (w *Worker) setStateLocked(new State) error {
	old := w.state
	if !ValidTransition(old, new) {
		return tferr.Newf(tferr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, new)
	}

	w.state = new

	// Notify state change handlers under the lock to guarantee ordering.
	// Each handler is called in a deferred-recover wrapper to prevent a
	// panicking handler from crashing the worker or corrupting state.
	for _, h := range w.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"worker", w.name,
						"old_state", string(old),
						"new_state", string(new),
					)
				}
			}()
			h(old, new)
		}()
	}

	return nil
}

// Start begins the worker's operation. It transitions the worker through
// [StateStarting] to [StateRunning], executing any registered OnStart hook
// between the two transitions, then launches the [RunFunc] loop on its own
// goroutine with a context that lives until [Worker.Stop].
//
// Start may only be called from [StateUnknown], [StateStopped], or
// [StateFailed]. Calling Start from any other state returns a
// [tferr.CodeConflict] error.
//
// The context controls the deadline for startup only; the loop itself runs
// under a background-derived context so a short-lived startup context does
// not tear the worker down.
//
// If the OnStart hook returns an error, the worker transitions to
// [StateFailed] and the error is returned wrapped with
// [tferr.CodeInternal]. If the loop later returns a non-nil error while
// its context is still live, the worker transitions to [StateFailed] and
// the error is logged.
func (w *Worker) Start(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "lifecycle.Start",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("worker.name", w.name)),
	)
	defer span.End()

	// Check context before acquiring the lock.
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return tferr.Wrap(err, tferr.CodeTimeout,
			"lifecycle: start canceled before execution")
	}

	if err := w.SetState(StateStarting); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	w.logger.InfoContext(ctx, "lifecycle: starting worker", "worker", w.name)

	// Execute the OnStart hook outside the lock.
	if w.onStart != nil {
		if err := w.onStart(ctx); err != nil {
			w.logger.ErrorContext(ctx, "lifecycle: start hook failed",
				"worker", w.name,
				"error", err,
			)
			_ = w.SetState(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return tferr.Wrap(err, tferr.CodeInternal,
				"lifecycle: start hook failed")
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	now := time.Now().UTC()
	w.mu.Lock()
	if err := w.setStateLocked(StateRunning); err != nil {
		w.mu.Unlock()
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	w.startedAt = &now
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go func() {
		defer close(done)
		err := w.run(loopCtx)
		if err != nil && loopCtx.Err() == nil {
			w.logger.Error("lifecycle: worker loop failed",
				"worker", w.name,
				"error", err,
			)
			_ = w.SetState(StateFailed)
		}
	}()

	w.logger.InfoContext(ctx, "lifecycle: worker started", "worker", w.name)
	span.SetStatus(codes.Ok, "")

	return nil
}

// Stop gracefully shuts down the worker. It transitions the worker through
// [StateStopping] to [StateStopped], canceling the loop's context, waiting
// for the loop to drain, and executing any registered OnStop hook before
// the final transition.
//
// If the worker is already in a terminal state ([StateStopped] or
// [StateFailed]), Stop is a no-op and returns nil. This makes it safe to
// call Stop multiple times or in a deferred cleanup.
//
// The context bounds the drain wait. If the loop does not return before
// the context is canceled, the worker transitions to [StateFailed] and a
// [tferr.CodeTimeout] error is returned. If the OnStop hook returns an
// error, the worker transitions to [StateFailed] and the error is
// returned wrapped with [tferr.CodeInternal].
func (w *Worker) Stop(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "lifecycle.Stop",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("worker.name", w.name)),
	)
	defer span.End()

	// Terminal states: Stop is a no-op.
	if w.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	if err := w.SetState(StateStopping); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	w.logger.InfoContext(ctx, "lifecycle: stopping worker", "worker", w.name)

	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.startedAt = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			_ = w.SetState(StateFailed)
			err := ctx.Err()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return tferr.Wrap(err, tferr.CodeTimeout,
				"lifecycle: worker loop did not drain before deadline")
		}
	}

	// Execute the OnStop hook outside the lock.
	if w.onStop != nil {
		if err := w.onStop(ctx); err != nil {
			w.logger.ErrorContext(ctx, "lifecycle: stop hook failed",
				"worker", w.name,
				"error", err,
			)
			_ = w.SetState(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return tferr.Wrap(err, tferr.CodeInternal,
				"lifecycle: stop hook failed")
		}
	}

	if err := w.SetState(StateStopped); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	w.logger.InfoContext(ctx, "lifecycle: worker stopped", "worker", w.name)
	span.SetStatus(codes.Ok, "")

	return nil
}
