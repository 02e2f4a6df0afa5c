package lifecycle

import (
	"log/slog"

	"go.opentelemetry.io/otel"

	tferr "github.com/testforge/testforge-core/pkg/errors"
)

// WorkerBuilder constructs a [Worker] with validated configuration and
// optional lifecycle hooks. Use [NewWorkerBuilder] to start building.
//
// The builder follows the fluent API pattern: all configuration methods
// return the builder for chaining. Call [WorkerBuilder.Build] to validate
// the configuration and produce the worker.
//
// Example:
//
//	worker, err := lifecycle.NewWorkerBuilder("approval-sweeper", sweep).
//	    WithOnStart(func(ctx context.Context) error {
//	        return db.Health(ctx)
//	    }).
//	    WithOnStop(func(ctx context.Context) error {
//	        db.Close()
//	        return nil
//	    }).
//	    OnStateChange(func(old, new lifecycle.State) {
//	        metrics.WorkerStateTransition(old, new)
//	    }).
//	    Build()
type WorkerBuilder struct {
	name          string
	run           RunFunc
	logger        *slog.Logger
	onStart       Hook
	onStop        Hook
	stateHandlers []StateChangeHandler
}

// NewWorkerBuilder creates a new builder with the required fields. The
// name and run function are validated during [WorkerBuilder.Build].
//
// Parameters:
//   - name: human-readable worker name (e.g., "approval-sweeper")
//   - run: the worker's loop body, launched by [Worker.Start]
func NewWorkerBuilder(name string, run RunFunc) *WorkerBuilder {
	return &WorkerBuilder{
		name: name,
		run:  run,
	}
}

// WithLogger sets a custom [*slog.Logger] for the worker. If not called,
// [slog.Default] is used. The logger is used for lifecycle event logging
// and panic recovery messages.
func (b *WorkerBuilder) WithLogger(logger *slog.Logger) *WorkerBuilder {
	b.logger = logger
	return b
}

// WithOnStart sets the lifecycle hook called during [Worker.Start], after
// the worker transitions to [StateStarting] and before it transitions to
// [StateRunning]. Use this to perform worker-specific initialization
// (e.g., verifying store connectivity before the loop begins observing).
func (b *WorkerBuilder) WithOnStart(hook Hook) *WorkerBuilder {
	b.onStart = hook
	return b
}

// WithOnStop sets the lifecycle hook called during [Worker.Stop], after
// the loop has drained and before the worker transitions to
// [StateStopped]. Use this to perform worker-specific cleanup (e.g.,
// flushing buffers, closing connections).
func (b *WorkerBuilder) WithOnStop(hook Hook) *WorkerBuilder {
	b.onStop = hook
	return b
}

// OnStateChange registers a [StateChangeHandler] that is called on every
// state transition. Multiple handlers may be registered and are called in
// registration order. Handlers execute synchronously under the state mutex
// during [Worker.SetState].
//
// Handlers are defensively copied during [WorkerBuilder.Build] to prevent
// external modification of the handler list after construction.
func (b *WorkerBuilder) OnStateChange(handler StateChangeHandler) *WorkerBuilder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the configuration and constructs a [*Worker]. Returns a
// [*tferr.Error] with code [tferr.CodeValidation] if the name is empty or
// the run function is nil.
//
// Build performs a defensive copy of the state handler list to prevent
// external mutation after construction. The initial state is
// [StateUnknown].
func (b *WorkerBuilder) Build() (*Worker, error) {
	if b.name == "" {
		return nil, tferr.New(tferr.CodeValidation,
			"lifecycle: worker name must not be empty")
	}
	if b.run == nil {
		return nil, tferr.New(tferr.CodeValidation,
			"lifecycle: worker run function must not be nil")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Defensive copy of state handlers.
	handlers := make([]StateChangeHandler, len(b.stateHandlers))
	copy(handlers, b.stateHandlers)

	return &Worker{
		name:          b.name,
		run:           b.run,
		state:         StateUnknown,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		onStart:       b.onStart,
		onStop:        b.onStop,
		stateHandlers: handlers,
	}, nil
}
