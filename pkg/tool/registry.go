package tool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	tferr "github.com/testforge/testforge-core/pkg/errors"
	"github.com/testforge/testforge-core/pkg/models"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
// It follows the convention of using the package import path.
const tracerName = "github.com/testforge/testforge-core/pkg/tool"

// Registry maps action-type tags to executable tools. Registration
// happens once at startup; lookups and executions are safe for
// concurrent use from any number of executions.
//
// Registration fails on duplicate tags rather than silently replacing:
// two tools competing for one tag is a wiring bug, not a runtime
// condition.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
	tracer trace.Tracer
}

// NewRegistry creates an empty tool registry. If logger is nil,
// [slog.Default] is used.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Register adds a tool keyed by its type tag. Returns an error with
// [tferr.CodeConflictAlreadyExists] if a tool is already registered for
// the tag, and a validation error for a nil tool or empty tag.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return tferr.New(tferr.CodeValidation, "tool: cannot register nil tool")
	}
	tag := t.Type()
	if tag == "" {
		return tferr.New(tferr.CodeValidation, "tool: cannot register tool with empty type tag")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tag]; exists {
		return tferr.Newf(tferr.CodeConflictAlreadyExists,
			"tool: tool already registered for tag %q", tag)
	}
	r.tools[tag] = t

	r.logger.Debug("registered tool",
		slog.String("tag", tag),
		slog.String("name", t.Name()))
	return nil
}

// Has reports whether a tool is registered for the given tag.
func (r *Registry) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[tag]
	return ok
}

// Lookup returns the tool registered for the given tag, or an error with
// [tferr.CodeNotFoundTool] if none is registered.
func (r *Registry) Lookup(tag string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[tag]
	if !ok {
		return nil, tferr.Newf(tferr.CodeNotFoundTool,
			"tool: no tool registered for tag %q", tag)
	}
	return t, nil
}

// Tools returns the registered tools in no particular order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Catalog renders the registered tools as a human-readable listing,
// sorted by type tag. See [Catalog].
func (r *Registry) Catalog() string {
	return Catalog(r.Tools())
}

// Execute looks up the tool for the given tag, validates the parameters
// with the tool's own validator, invokes it, and returns an
// [models.ActionResult] carrying the output, measured duration, and
// attributed spend.
//
// Failure modes, each wrapped as [*tferr.Error]:
//   - [tferr.CodeNotFoundTool] if no tool is registered for tag
//   - [tferr.CodeInvalidParameters] if the tool rejects the parameters
//   - [tferr.CodeInternalToolExecution] if the tool itself fails
//
// On tool failure the returned result is non-nil and records the
// failure (Success=false, ErrorMessage set) along with the duration, so
// callers can append a complete failed-action row before deciding what
// the failure means for the execution.
func (r *Registry) Execute(ctx context.Context, tag string, params map[string]any) (*models.ActionResult, error) {
	ctx, span := r.tracer.Start(ctx, "tool.Execute",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(attribute.String("tool.tag", tag))
	defer span.End()

	t, err := r.Lookup(tag)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := t.ValidateParams(params); err != nil {
		err = tferr.Wrapf(err, tferr.CodeInvalidParameters,
			"tool: invalid parameters for tag %q", tag)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	res, execErr := t.Execute(ctx, params)
	elapsed := time.Since(start)

	result := &models.ActionResult{
		ActionType: tag,
		Duration:   elapsed,
	}
	if res != nil {
		result.Output = res.Output
		result.Spend = res.Spend
	}

	if execErr != nil {
		wrapped := tferr.Wrapf(execErr, tferr.CodeInternalToolExecution,
			"tool: execution failed for tag %q", tag)
		result.Success = false
		result.ErrorMessage = wrapped.Error()
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())

		r.logger.Warn("tool execution failed",
			slog.String("tag", tag),
			slog.Duration("duration", elapsed),
			slog.String("error", execErr.Error()))
		return result, wrapped
	}

	result.Success = true
	span.SetStatus(codes.Ok, "")

	r.logger.Debug("tool executed",
		slog.String("tag", tag),
		slog.Duration("duration", elapsed),
		slog.Float64("spend", result.Spend))
	return result, nil
}
