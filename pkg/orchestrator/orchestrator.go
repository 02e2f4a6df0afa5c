// Package orchestrator is the public entry point of the agent execution
// engine. It owns the strategy registry, launches executions as
// cancellable asynchronous tasks under a bounded worker pool, and
// exposes the control surface callers use: start, stop, resume, and the
// query methods.
//
// Starting is decoupled from completing: CreateAndStart returns as soon
// as the ledger record and initial context exist, and the caller polls
// the execution or subscribes through a [ResultPublisher]. A suspended
// execution holds no worker slot; resuming it launches a fresh task.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/testforge/testforge-core/pkg/approvals"
	"github.com/testforge/testforge-core/pkg/contextstore"
	"github.com/testforge/testforge-core/pkg/engine"
	tferr "github.com/testforge/testforge-core/pkg/errors"
	"github.com/testforge/testforge-core/pkg/ledger"
	"github.com/testforge/testforge-core/pkg/models"
	"github.com/testforge/testforge-core/pkg/strategy"
)

// DefaultMaxConcurrent bounds the worker pool when the caller does not
// configure a limit.
const DefaultMaxConcurrent = 8

// ResultPublisher receives terminal results. Implementations deliver
// them wherever operators watch: a message bus, a webhook, a test run
// report. Publish is called from the task goroutine and must not block
// indefinitely.
type ResultPublisher interface {
	Publish(ctx context.Context, result *models.AgentResult)
}

// Options configures an [Orchestrator].
type Options struct {
	// MaxConcurrent caps concurrently running tasks. Non-positive
	// selects [DefaultMaxConcurrent].
	MaxConcurrent int64

	// Publisher receives terminal results. Nil disables publishing.
	Publisher ResultPublisher

	// Logger is the structured logger. Nil falls back to [slog.Default].
	Logger *slog.Logger
}

// Orchestrator starts, stops, resumes, and queries agent executions.
type Orchestrator struct {
	engine     *engine.Engine
	ledger     ledger.Ledger
	contexts   contextstore.Store
	strategies map[models.AgentType]strategy.Strategy
	sem        *semaphore.Weighted
	publisher  ResultPublisher
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	claimed map[string]struct{}
	wg      sync.WaitGroup
}

// New creates an orchestrator over the given engine and strategies.
// Registering two strategies for one agent type returns a conflict
// error (code CONF_002).
func New(eng *engine.Engine, lgr ledger.Ledger, contexts contextstore.Store,
	strategies []strategy.Strategy, opts Options) (*Orchestrator, error) {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	byType := make(map[models.AgentType]strategy.Strategy, len(strategies))
	for _, s := range strategies {
		if s == nil || s.Type() == "" {
			return nil, tferr.New(tferr.CodeValidation,
				"orchestrator: strategy must be non-nil with a non-empty agent type")
		}
		if _, exists := byType[s.Type()]; exists {
			return nil, tferr.Newf(tferr.CodeConflictAlreadyExists,
				"orchestrator: strategy already registered for agent type %q", s.Type())
		}
		byType[s.Type()] = s
	}

	return &Orchestrator{
		engine:     eng,
		ledger:     lgr,
		contexts:   contexts,
		strategies: byType,
		sem:        semaphore.NewWeighted(opts.MaxConcurrent),
		publisher:  opts.Publisher,
		logger:     opts.Logger,
		running:    make(map[string]context.CancelFunc),
		claimed:    make(map[string]struct{}),
	}, nil
}

// claim reserves an execution for a control operation (resume, suspended
// stop). It fails when a task is in flight for the id or another claim
// is held, so no execution ever has two tasks launched against it.
func (o *Orchestrator) claim(executionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[executionID]; ok {
		return false
	}
	if _, ok := o.claimed[executionID]; ok {
		return false
	}
	o.claimed[executionID] = struct{}{}
	return true
}

func (o *Orchestrator) release(executionID string) {
	o.mu.Lock()
	delete(o.claimed, executionID)
	o.mu.Unlock()
}

// CreateAndStart creates the ledger record and initial context for a new
// execution and launches it asynchronously, returning the created
// record immediately. Returns a not-found error when no strategy is
// registered for the agent type.
func (o *Orchestrator) CreateAndStart(ctx context.Context, agentType models.AgentType,
	goal models.AgentGoal, cfg models.AgentConfig) (*models.AgentExecution, error) {
	strat, ok := o.strategies[agentType]
	if !ok {
		return nil, tferr.Newf(tferr.CodeNotFound,
			"orchestrator: no strategy registered for agent type %q", agentType)
	}

	exec, err := models.NewAgentExecution(agentType, goal, cfg)
	if err != nil {
		return nil, tferr.Wrap(err, tferr.CodeValidation, "orchestrator: invalid execution request")
	}
	if err := o.ledger.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	if err := o.contexts.Save(ctx, models.NewAgentContext(exec)); err != nil {
		return nil, err
	}

	o.logger.Info("execution created",
		slog.String("execution_id", exec.ID),
		slog.String("agent_type", agentType.String()),
		slog.String("goal_type", exec.Goal.GoalType),
		slog.String("requested_by", exec.RequestedBy))

	o.launch(exec.ID, func(taskCtx context.Context) (*engine.Outcome, error) {
		return o.engine.Run(taskCtx, strat, exec.ID)
	})
	return exec, nil
}

// Stop requests cancellation of an execution and reports whether it was
// stoppable. An in-flight task is signalled and terminates the execution
// as [models.StateStopped] at its next iteration boundary. A
// gate-suspended execution holds no task and is stopped directly: the
// ledger record moves to [models.StateStopped], the pending approval is
// abandoned, and the result is published. Returns false when the
// execution is unknown, already terminal, or mid-resume.
func (o *Orchestrator) Stop(executionID string) bool {
	o.mu.Lock()
	cancel, ok := o.running[executionID]
	o.mu.Unlock()
	if ok {
		cancel()
		o.logger.Info("stop requested", slog.String("execution_id", executionID))
		return true
	}

	if !o.claim(executionID) {
		return false
	}
	defer o.release(executionID)

	outcome, err := o.engine.Halt(context.Background(), executionID)
	if err != nil {
		return false
	}
	o.publish(outcome)
	o.logger.Info("suspended execution stopped", slog.String("execution_id", executionID))
	return true
}

// Resume delivers a reviewer's decision to a gate-suspended execution
// and relaunches it as a fresh task. Returns:
//   - a conflict error (code CONF_001) when the execution already has a
//     task or another control operation in flight
//   - a conflict error (code CONF_003) when the execution is not
//     waiting for approval
//   - a timeout error (code TIMEOUT_004) when the approval window has
//     expired; the execution is moved to [models.StateTimeout] and the
//     late decision is discarded
//   - a validation error when the decision is malformed or names a
//     different approval than the pending one
func (o *Orchestrator) Resume(ctx context.Context, executionID string, decision approvals.Decision) error {
	if err := decision.Validate(); err != nil {
		return err
	}

	// One control operation per execution at a time: two concurrent
	// Resume calls for one approval must not both launch a task.
	if !o.claim(executionID) {
		return tferr.Newf(tferr.CodeConflict,
			"orchestrator: execution %s already has a task or control operation in flight",
			executionID)
	}
	defer o.release(executionID)

	exec, err := o.ledger.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.State != models.StateWaitingForApproval {
		return tferr.Newf(tferr.CodeConflictNotWaiting,
			"orchestrator: execution %s is %s, not waiting for approval", executionID, exec.State)
	}

	agentCtx, err := o.contexts.Load(ctx, executionID)
	if err != nil {
		return err
	}
	if agentCtx.PendingApprovalID != decision.ApprovalID {
		return tferr.Newf(tferr.CodeValidation,
			"orchestrator: decision is for approval %s, execution %s is pending %s",
			decision.ApprovalID, executionID, agentCtx.PendingApprovalID)
	}

	if agentCtx.ApprovalExpired(time.Now().UTC()) {
		outcome, terr := o.engine.Timeout(ctx, executionID)
		if terr != nil {
			return terr
		}
		o.publish(outcome)
		return tferr.Newf(tferr.CodeTimeoutApproval,
			"orchestrator: approval window for execution %s expired, decision by %s discarded",
			executionID, decision.Reviewer)
	}

	strat, ok := o.strategies[exec.AgentType]
	if !ok {
		return tferr.Newf(tferr.CodeNotFound,
			"orchestrator: no strategy registered for agent type %q", exec.AgentType)
	}

	// The ledger flips to running before the gate-cleared context is
	// saved: a crash between the two writes leaves a record that reads
	// as a lost running task, never a waiting execution the sweeper
	// skips and a later Resume cannot match.
	agentCtx.LeaveApprovalGate(time.Now().UTC())
	exec.State = models.StateRunning
	exec.UpdatedAt = time.Now().UTC()
	if err := o.ledger.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	if err := o.contexts.Save(ctx, agentCtx); err != nil {
		return err
	}

	o.logger.Info("execution resumed",
		slog.String("execution_id", executionID),
		slog.String("approval_id", decision.ApprovalID),
		slog.String("verdict", string(decision.Verdict)),
		slog.String("reviewer", decision.Reviewer))

	if decision.Verdict == approvals.VerdictRejected {
		o.launch(executionID, func(taskCtx context.Context) (*engine.Outcome, error) {
			return o.engine.RunRejected(taskCtx, strat, executionID, decision)
		})
	} else {
		o.launch(executionID, func(taskCtx context.Context) (*engine.Outcome, error) {
			return o.engine.Run(taskCtx, strat, executionID)
		})
	}
	return nil
}

// GetExecution returns the ledger record for an execution.
func (o *Orchestrator) GetExecution(ctx context.Context, executionID string) (*models.AgentExecution, error) {
	return o.ledger.GetExecution(ctx, executionID)
}

// GetRunningExecutions returns executions currently in
// [models.StateRunning], most recently started first.
func (o *Orchestrator) GetRunningExecutions(ctx context.Context) ([]*models.AgentExecution, error) {
	return o.ledger.ListByState(ctx, models.StateRunning)
}

// ListActions returns the full action history for an execution in
// iteration order.
func (o *Orchestrator) ListActions(ctx context.Context, executionID string) ([]models.ActionRecord, error) {
	return o.ledger.ListActions(ctx, executionID)
}

// AgentTypes returns the registered agent types in sorted order.
func (o *Orchestrator) AgentTypes() []models.AgentType {
	types := make([]models.AgentType, 0, len(o.strategies))
	for t := range o.strategies {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// SweepExpiredApprovals scans gate-suspended executions and moves those
// whose approval window has closed to [models.StateTimeout]. Returns
// the number of executions expired. Callers run it periodically;
// timeout enforcement is observation-driven, nothing fires while nobody
// is looking.
func (o *Orchestrator) SweepExpiredApprovals(ctx context.Context) (int, error) {
	waiting, err := o.ledger.ListByState(ctx, models.StateWaitingForApproval)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	expired := 0
	for _, exec := range waiting {
		agentCtx, err := o.contexts.Load(ctx, exec.ID)
		if err != nil {
			if tferr.IsNotFound(err) {
				continue
			}
			return expired, err
		}
		if !agentCtx.ApprovalExpired(now) {
			continue
		}

		outcome, err := o.engine.Timeout(ctx, exec.ID)
		if err != nil {
			return expired, err
		}
		o.publish(outcome)
		expired++

		o.logger.Info("approval expired",
			slog.String("execution_id", exec.ID),
			slog.String("approval_id", agentCtx.PendingApprovalID))
	}
	return expired, nil
}

// Wait blocks until every in-flight task has finished. Suspended
// executions are not in flight and do not block Wait.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels every in-flight task and waits for them to record
// their stopped state.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	for _, cancel := range o.running {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// launch runs the task in its own goroutine under the worker pool,
// tracked in the in-flight registry for Stop. The id must not already
// be in flight: CreateAndStart ids are freshly minted and Resume claims
// the id before launching. A stop that lands while the task is still
// queued for a worker slot is honored before any iteration runs.
func (o *Orchestrator) launch(executionID string, task func(ctx context.Context) (*engine.Outcome, error)) {
	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.running[executionID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.running, executionID)
			o.mu.Unlock()
			cancel()
		}()

		if err := o.sem.Acquire(ctx, 1); err == nil {
			defer o.sem.Release(1)
		}
		// On a cancelled acquire the task still runs: the engine
		// observes the cancellation immediately and records the
		// stopped state instead of leaving the record dangling.

		outcome, err := task(ctx)
		if err != nil {
			o.logger.Error("execution task failed",
				slog.String("execution_id", executionID),
				slog.String("error", err.Error()))
			return
		}
		o.publish(outcome)
	}()
}

// publish delivers a terminal result to the configured publisher.
// Suspended outcomes are not published.
func (o *Orchestrator) publish(outcome *engine.Outcome) {
	if o.publisher == nil || outcome == nil || outcome.Result == nil {
		return
	}
	o.publisher.Publish(context.Background(), outcome.Result)
}
