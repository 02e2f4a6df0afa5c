// Package engine runs the iterate/suspend/terminate loop shared by all
// agent strategies. Each iteration the engine asks the strategy for a
// decision, carries it out through the tool registry, records the
// outcome in both the ledger and the working context, and enforces the
// execution's budgets. The engine owns every terminal transition: the
// strategy only ever says what it wants, the engine decides whether the
// execution is allowed to continue.
//
// Suspension at an approval gate holds no worker: the engine records the
// approval request, persists the context, and returns. Resuming is a
// fresh [Engine.Run] (or [Engine.RunRejected]) call on the persisted
// state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/testforge/testforge-core/pkg/approvals"
	"github.com/testforge/testforge-core/pkg/artifacts"
	"github.com/testforge/testforge-core/pkg/contextstore"
	tferr "github.com/testforge/testforge-core/pkg/errors"
	"github.com/testforge/testforge-core/pkg/ledger"
	"github.com/testforge/testforge-core/pkg/models"
	"github.com/testforge/testforge-core/pkg/strategy"
	"github.com/testforge/testforge-core/pkg/tool"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
// It follows the convention of using the package import path.
const tracerName = "github.com/testforge/testforge-core/pkg/engine"

// Engine drives executions through their strategy loop. One Engine is
// shared by every in-flight execution; all per-execution state lives in
// the context store and the ledger.
type Engine struct {
	registry *tool.Registry
	ledger   ledger.Ledger
	contexts contextstore.Store
	approver approvals.Approver
	archiver artifacts.Archiver
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an engine. A nil archiver disables artifact archiving and
// a nil logger falls back to [slog.Default]; the other dependencies are
// required.
func New(registry *tool.Registry, lgr ledger.Ledger, contexts contextstore.Store,
	approver approvals.Approver, archiver artifacts.Archiver, logger *slog.Logger) *Engine {
	if archiver == nil {
		archiver = artifacts.NopArchiver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry: registry,
		ledger:   lgr,
		contexts: contexts,
		approver: approver,
		archiver: archiver,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// Outcome is the result of one Run call: either a terminal result or a
// suspension at an approval gate.
type Outcome struct {
	// Result is the terminal outcome. Nil while suspended.
	Result *models.AgentResult

	// Suspended reports that the execution is waiting at an approval
	// gate and no task holds it.
	Suspended bool

	// ApprovalID identifies the pending approval request when
	// Suspended is true.
	ApprovalID string
}

// Run loads the execution's context and iterates the strategy loop
// until the execution suspends at an approval gate or reaches a
// terminal state. Cancelling ctx stops the execution at the next
// iteration boundary with [models.StateStopped].
//
// A missing context is fatal: the execution is marked
// [models.StateFailed] rather than restarted from scratch.
func (e *Engine) Run(ctx context.Context, strat strategy.Strategy, executionID string) (*Outcome, error) {
	return e.run(ctx, strat, executionID, nil)
}

// RunRejected re-enters the loop after a reviewer rejected the pending
// approval. The first decision comes from the strategy's rejection
// handler; strategies without one fail the execution with the
// reviewer's notes.
func (e *Engine) RunRejected(ctx context.Context, strat strategy.Strategy, executionID string, decision approvals.Decision) (*Outcome, error) {
	return e.run(ctx, strat, executionID, &decision)
}

// Timeout moves a gate-suspended execution to [models.StateTimeout]
// after its approval window closed without a decision. Returns a
// conflict error (code CONF_003) when the execution is not waiting for
// approval.
func (e *Engine) Timeout(ctx context.Context, executionID string) (*Outcome, error) {
	exec, err := e.ledger.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.State != models.StateWaitingForApproval {
		return nil, tferr.Newf(tferr.CodeConflictNotWaiting,
			"engine: execution %s is %s, not waiting for approval", executionID, exec.State)
	}

	agentCtx, err := e.contexts.Load(ctx, executionID)
	if err != nil {
		if !tferr.IsNotFound(err) {
			return nil, err
		}
		agentCtx = nil
	}

	msg := "approval wait exceeded the configured window"
	if agentCtx != nil {
		if deadline, ok := agentCtx.ApprovalDeadline(); ok {
			msg = fmt.Sprintf("approval %s not decided by %s",
				agentCtx.PendingApprovalID, deadline.Format(time.RFC3339))
		}
	}
	return e.finalize(ctx, agentCtx, exec, models.StateTimeout, nil, msg)
}

// Halt moves a gate-suspended execution to [models.StateStopped] on an
// operator's stop request, abandoning the pending approval. Returns a
// conflict error (code CONF_003) when the execution is not waiting for
// approval.
func (e *Engine) Halt(ctx context.Context, executionID string) (*Outcome, error) {
	exec, err := e.ledger.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.State != models.StateWaitingForApproval {
		return nil, tferr.Newf(tferr.CodeConflictNotWaiting,
			"engine: execution %s is %s, not waiting for approval", executionID, exec.State)
	}

	agentCtx, err := e.contexts.Load(ctx, executionID)
	if err != nil {
		if !tferr.IsNotFound(err) {
			return nil, err
		}
		agentCtx = nil
	}
	return e.finalize(ctx, agentCtx, exec, models.StateStopped, nil, "")
}

func (e *Engine) run(ctx context.Context, strat strategy.Strategy, executionID string, rejection *approvals.Decision) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Run",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("execution.id", executionID),
		attribute.String("agent.type", strat.Type().String()),
	)
	defer span.End()

	exec, err := e.ledger.GetExecution(ctx, executionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if exec.AgentType != strat.Type() {
		return nil, tferr.Newf(tferr.CodeValidation,
			"engine: execution %s has agent type %s, strategy is %s",
			executionID, exec.AgentType, strat.Type())
	}

	// The resume path flips the record to running before relaunching;
	// tolerate a record still parked at the gate all the same.
	if exec.State == models.StateWaitingForApproval {
		exec.State = models.StateRunning
	}

	agentCtx, err := e.contexts.Load(ctx, executionID)
	if err != nil {
		if tferr.IsNotFound(err) {
			outcome, ferr := e.finalize(ctx, nil, exec, models.StateFailed, nil,
				fmt.Sprintf("execution context not found for %s", executionID))
			if ferr != nil {
				return nil, ferr
			}
			return outcome, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	agentCtx.State = models.StateRunning

	logger := e.logger.With(
		slog.String("execution_id", executionID),
		slog.String("agent_type", strat.Type().String()),
	)
	logger.Info("entering strategy loop",
		slog.Int("iteration", agentCtx.CurrentIteration),
		slog.Bool("rejected_resume", rejection != nil))

	for {
		// Stop requests are observed at iteration boundaries only, so a
		// stop never interrupts a half-recorded action.
		select {
		case <-ctx.Done():
			return e.finalize(ctx, agentCtx, exec, models.StateStopped, nil, "")
		default:
		}

		if reason, exceeded := budgetExceeded(agentCtx); exceeded {
			return e.finalize(ctx, agentCtx, exec, models.StateBudgetExceeded, nil, reason)
		}

		var decision *strategy.Decision
		if rejection != nil {
			decision, err = e.handleRejection(ctx, strat, agentCtx, *rejection)
			rejection = nil
		} else {
			decision, err = strat.Decide(ctx, agentCtx)
		}
		if err != nil {
			return e.finalize(ctx, agentCtx, exec, models.StateFailed, nil,
				fmt.Sprintf("strategy decision failed: %v", err))
		}

		switch decision.Kind {
		case strategy.DecideComplete:
			return e.finalize(ctx, agentCtx, exec, models.StateSucceeded, decision.Outputs, "")

		case strategy.DecideFail:
			return e.finalize(ctx, agentCtx, exec, models.StateFailed, nil, decision.Reason)

		case strategy.DecideRequestApproval:
			return e.suspend(ctx, agentCtx, exec, decision, logger)

		case strategy.DecideExecute:
			if err := e.executeAction(ctx, agentCtx, exec, decision, logger); err != nil {
				return nil, err
			}

		default:
			return e.finalize(ctx, agentCtx, exec, models.StateFailed, nil,
				fmt.Sprintf("strategy returned unknown decision kind %q", decision.Kind))
		}
	}
}

// handleRejection routes a rejected approval to the strategy's rejection
// handler, or fails the execution when the strategy has none.
func (e *Engine) handleRejection(ctx context.Context, strat strategy.Strategy,
	agentCtx *models.AgentContext, decision approvals.Decision) (*strategy.Decision, error) {
	if handler, ok := strat.(strategy.RejectionHandler); ok {
		return handler.HandleRejection(ctx, agentCtx, decision)
	}
	reason := fmt.Sprintf("approval %s rejected by %s", decision.ApprovalID, decision.Reviewer)
	if decision.Notes != "" {
		reason += ": " + decision.Notes
	}
	return &strategy.Decision{Kind: strategy.DecideFail, Reason: reason}, nil
}

// executeAction runs one tool invocation and records it as the next
// iteration: a ledger row, the context history entry, and the updated
// counters, persisted before the loop continues. Tool failures are
// recorded the same way as successes and never return an error here;
// what the failure means is the strategy's call on the next decision.
func (e *Engine) executeAction(ctx context.Context, agentCtx *models.AgentContext,
	exec *models.AgentExecution, decision *strategy.Decision, logger *slog.Logger) error {
	iteration := agentCtx.CurrentIteration + 1

	res, execErr := e.registry.Execute(ctx, decision.ActionType, decision.Parameters)

	rec := models.ActionRecord{
		ExecutionID: agentCtx.ExecutionID,
		Iteration:   iteration,
		ActionType:  decision.ActionType,
		Parameters:  decision.Parameters,
		CreatedAt:   time.Now().UTC(),
	}
	if res != nil {
		rec.Success = res.Success
		rec.Output = res.Output
		rec.ErrorMessage = res.ErrorMessage
		rec.Duration = res.Duration
		rec.Spend = res.Spend
	} else if execErr != nil {
		// Lookup or parameter validation failed before the tool ran.
		rec.ErrorMessage = execErr.Error()
	}

	stored, err := e.ledger.AppendAction(ctx, &rec)
	if err != nil {
		return err
	}
	agentCtx.RecordAction(*stored)
	if stored.Success {
		agentCtx.MergeWorkProducts(stored.Output)
	}

	logger.Info("action recorded",
		slog.Int("iteration", iteration),
		slog.String("action_type", stored.ActionType),
		slog.Bool("success", stored.Success),
		slog.Duration("duration", stored.Duration),
		slog.Float64("spend", stored.Spend))

	return e.persist(ctx, agentCtx, exec)
}

// suspend records the approval request as its own iteration, moves the
// execution to [models.StateWaitingForApproval], persists everything,
// and returns with no task holding the execution.
func (e *Engine) suspend(ctx context.Context, agentCtx *models.AgentContext,
	exec *models.AgentExecution, decision *strategy.Decision, logger *slog.Logger) (*Outcome, error) {
	approvalID, err := e.approver.RequestApproval(ctx, approvals.Request{
		ExecutionID: agentCtx.ExecutionID,
		AgentType:   agentCtx.AgentType,
		Content:     decision.Content,
		Metadata:    decision.Parameters,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return e.finalize(ctx, agentCtx, exec, models.StateFailed, nil,
			fmt.Sprintf("approval request failed: %v", err))
	}

	rec := models.ActionRecord{
		ExecutionID:      agentCtx.ExecutionID,
		Iteration:        agentCtx.CurrentIteration + 1,
		ActionType:       strategy.ActionRequestApproval,
		Success:          true,
		Parameters:       decision.Parameters,
		RequiredApproval: true,
		ApprovalID:       approvalID,
		CreatedAt:        time.Now().UTC(),
	}
	stored, err := e.ledger.AppendAction(ctx, &rec)
	if err != nil {
		return nil, err
	}
	agentCtx.RecordAction(*stored)
	agentCtx.EnterApprovalGate(approvalID, time.Now().UTC())

	exec.State = models.StateWaitingForApproval
	if err := e.persist(ctx, agentCtx, exec); err != nil {
		return nil, err
	}

	logger.Info("execution suspended at approval gate",
		slog.Int("iteration", agentCtx.CurrentIteration),
		slog.String("approval_id", approvalID),
		slog.String("gated_action", decision.ActionType))

	return &Outcome{Suspended: true, ApprovalID: approvalID}, nil
}

// finalize moves the execution to the given terminal state, writes the
// final ledger record, archives work products and clears the context
// best-effort, and builds the caller-facing result. Persistence uses a
// detached context so a stop request cannot abort its own bookkeeping.
func (e *Engine) finalize(ctx context.Context, agentCtx *models.AgentContext,
	exec *models.AgentExecution, state models.ExecutionState,
	outputs map[string]any, errorMessage string) (*Outcome, error) {
	ctx = context.WithoutCancel(ctx)

	if agentCtx != nil {
		syncCounters(exec, agentCtx)
	}
	if err := exec.MarkTerminal(state, outputs, errorMessage); err != nil {
		return nil, tferr.Wrap(err, tferr.CodeInternal, "engine: terminal transition failed")
	}
	if err := e.ledger.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	result := models.ResultFromExecution(exec)

	if agentCtx != nil {
		if err := e.archiver.Archive(ctx, result, agentCtx.WorkProducts); err != nil {
			e.logger.Warn("artifact archive failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()))
		}
		if err := e.contexts.Clear(ctx, exec.ID); err != nil {
			e.logger.Warn("context clear failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()))
		}
	}

	e.logger.Info("execution terminal",
		slog.String("execution_id", exec.ID),
		slog.String("agent_type", exec.AgentType.String()),
		slog.String("state", state.String()),
		slog.Int("iterations", exec.CurrentIteration),
		slog.Float64("total_spend", exec.TotalSpend))

	return &Outcome{Result: result}, nil
}

// persist writes the context and the execution record's running
// counters in one place so every iteration leaves both stores aligned.
func (e *Engine) persist(ctx context.Context, agentCtx *models.AgentContext, exec *models.AgentExecution) error {
	syncCounters(exec, agentCtx)
	if err := e.ledger.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	return e.contexts.Save(ctx, agentCtx)
}

// syncCounters copies the context's running totals onto the ledger record.
func syncCounters(exec *models.AgentExecution, agentCtx *models.AgentContext) {
	exec.CurrentIteration = agentCtx.CurrentIteration
	exec.TotalSpend = agentCtx.TotalSpend
	exec.ActionCount = len(agentCtx.History)
	exec.UpdatedAt = time.Now().UTC()
}

// budgetExceeded checks the iteration and spend ceilings. It runs before
// each decision, so spend overshoot is bounded by the single action that
// crossed the ceiling.
func budgetExceeded(agentCtx *models.AgentContext) (string, bool) {
	cfg := agentCtx.Config
	if agentCtx.CurrentIteration >= cfg.MaxIterations {
		return fmt.Sprintf("iteration budget reached: %d of %d",
			agentCtx.CurrentIteration, cfg.MaxIterations), true
	}
	if agentCtx.TotalSpend >= cfg.MaxSpend {
		return fmt.Sprintf("spend budget reached: %.2f of %.2f",
			agentCtx.TotalSpend, cfg.MaxSpend), true
	}
	return "", false
}
