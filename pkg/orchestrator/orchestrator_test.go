package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testforge/testforge-core/internal/testutil/fixtures"
	"github.com/testforge/testforge-core/pkg/approvals"
	"github.com/testforge/testforge-core/pkg/contextstore"
	"github.com/testforge/testforge-core/pkg/engine"
	tferr "github.com/testforge/testforge-core/pkg/errors"
	"github.com/testforge/testforge-core/pkg/ledger"
	"github.com/testforge/testforge-core/pkg/models"
	"github.com/testforge/testforge-core/pkg/strategy"
	"github.com/testforge/testforge-core/pkg/tool"
)

const waitFor = 5 * time.Second
const tick = 5 * time.Millisecond

// echoTool returns its own parameters as output so tests can verify
// which inputs reached the tool.
type echoTool struct {
	tag   string
	spend float64
	delay time.Duration
}

func (e *echoTool) Type() string                               { return e.tag }
func (e *echoTool) Name() string                               { return e.tag }
func (e *echoTool) Description() string                        { return "echo tool " + e.tag }
func (e *echoTool) Schema() map[string]string                  { return nil }
func (e *echoTool) ValidateParams(params map[string]any) error { return nil }

func (e *echoTool) Execute(ctx context.Context, params map[string]any) (*tool.Result, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return &tool.Result{Output: out, Spend: e.spend}, nil
}

// stepStrategy executes its action until n rows exist, optionally
// raising a gate before the final action, then completes echoing the
// goal's marker parameter.
type stepStrategy struct {
	agentType models.AgentType
	action    string
	n         int
	gated     bool
}

func (s *stepStrategy) Type() models.AgentType { return s.agentType }

func (s *stepStrategy) Decide(_ context.Context, agentCtx *models.AgentContext) (*strategy.Decision, error) {
	executed := 0
	gateRaised := false
	for _, rec := range agentCtx.History {
		if rec.RequiredApproval {
			gateRaised = true
		} else if rec.Success {
			executed++
		}
	}

	if executed >= s.n {
		return &strategy.Decision{
			Kind: strategy.DecideComplete,
			Outputs: map[string]any{
				"marker":  agentCtx.Goal.Parameters["marker"],
				"actions": executed,
			},
		}, nil
	}
	if s.gated && executed == s.n-1 && !gateRaised {
		return &strategy.Decision{
			Kind:       strategy.DecideRequestApproval,
			ActionType: s.action,
			Content:    "final action needs a reviewer",
			Parameters: map[string]any{"gate_action": s.action},
		}, nil
	}
	return &strategy.Decision{
		Kind:       strategy.DecideExecute,
		ActionType: s.action,
		Parameters: map[string]any{"marker": agentCtx.Goal.Parameters["marker"], "step": executed + 1},
	}, nil
}

// collectPublisher records published results.
type collectPublisher struct {
	mu      sync.Mutex
	results []*models.AgentResult
}

func (p *collectPublisher) Publish(_ context.Context, result *models.AgentResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, result)
}

func (p *collectPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}

func (p *collectPublisher) last() *models.AgentResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return nil
	}
	return p.results[len(p.results)-1]
}

type harness struct {
	orch      *Orchestrator
	ledger    *ledger.MemoryLedger
	contexts  *contextstore.MemoryStore
	approver  *approvals.MemoryApprover
	publisher *collectPublisher
}

func newHarness(t *testing.T, strategies []strategy.Strategy, tools ...tool.Tool) *harness {
	t.Helper()

	registry := tool.NewRegistry(slog.Default())
	for _, tl := range tools {
		require.NoError(t, registry.Register(tl))
	}

	h := &harness{
		ledger:    ledger.NewMemoryLedger(),
		contexts:  contextstore.NewMemoryStore(time.Hour),
		approver:  approvals.NewMemoryApprover(),
		publisher: &collectPublisher{},
	}
	eng := engine.New(registry, h.ledger, h.contexts, h.approver, nil, slog.Default())

	orch, err := New(eng, h.ledger, h.contexts, strategies, Options{
		MaxConcurrent: 4,
		Publisher:     h.publisher,
		Logger:        slog.Default(),
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

func newGoal(t *testing.T, marker string) models.AgentGoal {
	t.Helper()
	goal, err := models.NewAgentGoal(fixtures.GoalGenerateTests, fixtures.RequestedBy, map[string]any{
		"story_key": fixtures.StoryKey,
		"marker":    marker,
	})
	require.NoError(t, err)
	return goal
}

func testConfig() models.AgentConfig {
	return models.AgentConfig{
		MaxIterations:   20,
		MaxSpend:        100,
		ApprovalTimeout: time.Minute,
	}
}

// waitForState polls the ledger until the execution reaches the state.
func (h *harness) waitForState(t *testing.T, executionID string, state models.ExecutionState) *models.AgentExecution {
	t.Helper()
	var exec *models.AgentExecution
	require.Eventually(t, func() bool {
		var err error
		exec, err = h.ledger.GetExecution(context.Background(), executionID)
		return err == nil && exec.State == state
	}, waitFor, tick, "execution %s never reached %s", executionID, state)
	return exec
}

// === CreateAndStart ===

func TestOrchestrator_CreateAndStart_RunsToCompletion(t *testing.T) {
	t.Parallel()

	strat := &stepStrategy{agentType: models.AgentTypeTestGenerator, action: "fetch-story", n: 3}
	h := newHarness(t, []strategy.Strategy{strat}, &echoTool{tag: "fetch-story", spend: 0.1})

	exec, err := h.orch.CreateAndStart(context.Background(), models.AgentTypeTestGenerator,
		newGoal(t, "m1"), testConfig())
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, exec.State)
	assert.Equal(t, 0, exec.CurrentIteration)

	final := h.waitForState(t, exec.ID, models.StateSucceeded)
	assert.Equal(t, 3, final.CurrentIteration)
	assert.Equal(t, "m1", final.Outputs["marker"])

	require.Eventually(t, func() bool { return h.publisher.count() == 1 }, waitFor, tick)
	assert.Equal(t, exec.ID, h.publisher.last().ExecutionID)
}

func TestOrchestrator_CreateAndStart_UnknownAgentType(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	_, err := h.orch.CreateAndStart(context.Background(), models.AgentTypeSelfHealer,
		newGoal(t, "m1"), testConfig())
	require.Error(t, err)
	assert.True(t, tferr.IsNotFound(err))
}

func TestOrchestrator_New_DuplicateStrategy(t *testing.T) {
	t.Parallel()

	a := &stepStrategy{agentType: models.AgentTypeTestGenerator, action: "fetch-story", n: 1}
	b := &stepStrategy{agentType: models.AgentTypeTestGenerator, action: "fetch-story", n: 2}

	_, err := New(nil, nil, nil, []strategy.Strategy{a, b}, Options{})
	require.Error(t, err)
	assert.True(t, tferr.HasCode(err, tferr.CodeConflictAlreadyExists))
}

// === Stop ===

func TestOrchestrator_Stop_CancelsInFlightTask(t *testing.T) {
	t.Parallel()

	strat := &stepStrategy{agentType: models.AgentTypeTestGenerator, action: "fetch-story", n: 1000}
	slow := &echoTool{tag: "fetch-story", delay: 20 * time.Millisecond}
	h := newHarness(t, []strategy.Strategy{strat}, slow)

	exec, err := h.orch.CreateAndStart(context.Background(), models.AgentTypeTestGenerator,
		newGoal(t, "m1"), testConfig())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.orch.Stop(exec.ID) }, waitFor, tick)

	final := h.waitForState(t, exec.ID, models.StateStopped)
	assert.NotNil(t, final.CompletedAt)

	// The iteration counter still matches the recorded history.
	count, err := h.ledger.CountActions(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, final.CurrentIteration, count)
}

func TestOrchestrator_Stop_UnknownExecution(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	assert.False(t, h.orch.Stop("exec-unknown"))
}

func TestOrchestrator_Stop_SuspendedExecutionIsStopped(t *testing.T) {
	t.Parallel()

	strat := &stepStrategy{agentType: models.AgentTypeTestGenerator, action: "fetch-story", n: 2, gated: true}
	h := newHarness(t, []strategy.Strategy{strat}, &echoTool{tag: "fetch-story"})

	exec, err := h.orch.CreateAndStart(context.Background(), models.AgentTypeTestGenerator,
		newGoal(t, "m1"), testConfig())
	require.NoError(t, err)

	h.waitForState(t, exec.ID, models.StateWaitingForApproval)
	h.orch.Wait()

	// No task holds the execution; Stop terminates it directly.
	require.True(t, h.orch.Stop(exec.ID))

	final, err := h.ledger.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateStopped, final.State)
	require.NotNil(t, final.CompletedAt)

	// The abandoned gate is gone: a late decision cannot revive it.
	err = h.orch.Resume(context.Background(), exec.ID, approvals.Decision{
		ApprovalID: "apr-late",
		Verdict:    approvals.VerdictApproved,
		Reviewer:   fixtures.Reviewer,
	})
	require.Error(t, err)
	assert.True(t, tferr.HasCode(err, tferr.CodeConflictNotWaiting))

	require.Eventually(t, func() bool { return h.publisher.count() == 1 }, waitFor, tick)
	assert.Equal(t, models.StateStopped, h.publisher.last().State)
}

// === Resume ===

// suspendExecution starts a gated execution and runs it to suspension,
// returning the record and the pending approval ID.
func suspendExecution(t *testing.T, h *harness, cfg models.AgentConfig) (*models.AgentExecution, string) {
	t.Helper()

	exec, err := h.orch.CreateAndStart(context.Background(), models.AgentTypeTestGenerator,
		newGoal(t, "m1"), cfg)
	require.NoError(t, err)

	h.waitForState(t, exec.ID, models.StateWaitingForApproval)

	agentCtx, err := h.contexts.Load(context.Background(), exec.ID)
	require.NoError(t, err)
	require.NotEmpty(t, agentCtx.PendingApprovalID)
	return exec, agentCtx.PendingApprovalID
}

func newGatedHarness(t *testing.T) *harness {
	t.Helper()
	strat := &stepStrategy{agentType: models.AgentTypeTestGenerator, action: "fetch-story", n: 2, gated: true}
	return newHarness(t, []strategy.Strategy{strat}, &echoTool{tag: "fetch-story", spend: 0.1})
}

func TestOrchestrator_Resume_ApprovedContinuesAtNextIteration(t *testing.T) {
	t.Parallel()

	h := newGatedHarness(t)
	exec, approvalID := suspendExecution(t, h, testConfig())

	// One action row plus the approval row.
	suspended, err := h.ledger.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, 2, suspended.CurrentIteration)

	err = h.orch.Resume(context.Background(), exec.ID, approvals.Decision{
		ApprovalID: approvalID,
		Verdict:    approvals.VerdictApproved,
		Reviewer:   fixtures.Reviewer,
	})
	require.NoError(t, err)

	final := h.waitForState(t, exec.ID, models.StateSucceeded)
	assert.Equal(t, 3, final.CurrentIteration)
	assert.Equal(t, "m1", final.Outputs["marker"])

	actions, err := h.ledger.ListActions(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	// Resume continued after the suspension row, not from scratch.
	assert.Equal(t, 3, actions[2].Iteration)
	assert.False(t, actions[2].RequiredApproval)
}

func TestOrchestrator_Resume_RejectedFailsExecution(t *testing.T) {
	t.Parallel()

	h := newGatedHarness(t)
	exec, approvalID := suspendExecution(t, h, testConfig())

	err := h.orch.Resume(context.Background(), exec.ID, approvals.Decision{
		ApprovalID: approvalID,
		Verdict:    approvals.VerdictRejected,
		Reviewer:   fixtures.Reviewer,
		Notes:      "wrong branch target",
	})
	require.NoError(t, err)

	final := h.waitForState(t, exec.ID, models.StateFailed)
	assert.Contains(t, final.ErrorMessage, fixtures.Reviewer)
	assert.Contains(t, final.ErrorMessage, "wrong branch target")
}

func TestOrchestrator_Resume_NotWaiting(t *testing.T) {
	t.Parallel()

	strat := &stepStrategy{agentType: models.AgentTypeTestGenerator, action: "fetch-story", n: 1}
	h := newHarness(t, []strategy.Strategy{strat}, &echoTool{tag: "fetch-story"})

	exec, err := h.orch.CreateAndStart(context.Background(), models.AgentTypeTestGenerator,
		newGoal(t, "m1"), testConfig())
	require.NoError(t, err)
	h.waitForState(t, exec.ID, models.StateSucceeded)

	err = h.orch.Resume(context.Background(), exec.ID, approvals.Decision{
		ApprovalID: "apr-1",
		Verdict:    approvals.VerdictApproved,
		Reviewer:   fixtures.Reviewer,
	})
	require.Error(t, err)
	assert.True(t, tferr.HasCode(err, tferr.CodeConflictNotWaiting))
}

func TestOrchestrator_Resume_WrongApprovalID(t *testing.T) {
	t.Parallel()

	h := newGatedHarness(t)
	exec, _ := suspendExecution(t, h, testConfig())

	err := h.orch.Resume(context.Background(), exec.ID, approvals.Decision{
		ApprovalID: "apr-other",
		Verdict:    approvals.VerdictApproved,
		Reviewer:   fixtures.Reviewer,
	})
	require.Error(t, err)
	assert.True(t, tferr.HasCode(err, tferr.CodeValidation))
}

func TestOrchestrator_Resume_ExpiredApprovalTimesOut(t *testing.T) {
	t.Parallel()

	h := newGatedHarness(t)
	cfg := testConfig()
	cfg.ApprovalTimeout = 30 * time.Millisecond
	exec, approvalID := suspendExecution(t, h, cfg)

	time.Sleep(60 * time.Millisecond)

	err := h.orch.Resume(context.Background(), exec.ID, approvals.Decision{
		ApprovalID: approvalID,
		Verdict:    approvals.VerdictApproved,
		Reviewer:   fixtures.Reviewer,
	})
	require.Error(t, err)
	assert.True(t, tferr.HasCode(err, tferr.CodeTimeoutApproval))

	final, err := h.ledger.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateTimeout, final.State)

	// A second decision for the expired execution is rejected too.
	err = h.orch.Resume(context.Background(), exec.ID, approvals.Decision{
		ApprovalID: approvalID,
		Verdict:    approvals.VerdictApproved,
		Reviewer:   fixtures.Reviewer,
	})
	require.Error(t, err)
	assert.True(t, tferr.HasCode(err, tferr.CodeConflictNotWaiting))
}

// stallStore wraps a context store and parks one Save call until
// released, so tests can hold a resume mid-write and race a second
// control operation against it.
type stallStore struct {
	contextstore.Store
	mu      sync.Mutex
	armed   bool
	stalled chan struct{}
	hold    chan struct{}
}

func newStallStore(inner contextstore.Store) *stallStore {
	return &stallStore{
		Store:   inner,
		stalled: make(chan struct{}),
		hold:    make(chan struct{}),
	}
}

func (s *stallStore) arm() {
	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()
}

func (s *stallStore) Save(ctx context.Context, agentCtx *models.AgentContext) error {
	s.mu.Lock()
	armed := s.armed
	s.armed = false
	s.mu.Unlock()
	if armed {
		close(s.stalled)
		<-s.hold
	}
	return s.Store.Save(ctx, agentCtx)
}

// newStalledGatedHarness builds the gated harness with the context store
// wrapped in a [stallStore].
func newStalledGatedHarness(t *testing.T) (*harness, *stallStore) {
	t.Helper()

	registry := tool.NewRegistry(slog.Default())
	require.NoError(t, registry.Register(&echoTool{tag: "fetch-story", spend: 0.1}))

	mem := contextstore.NewMemoryStore(time.Hour)
	store := newStallStore(mem)
	h := &harness{
		ledger:    ledger.NewMemoryLedger(),
		contexts:  mem,
		approver:  approvals.NewMemoryApprover(),
		publisher: &collectPublisher{},
	}

	strat := &stepStrategy{agentType: models.AgentTypeTestGenerator, action: "fetch-story", n: 2, gated: true}
	eng := engine.New(registry, h.ledger, store, h.approver, nil, slog.Default())
	orch, err := New(eng, h.ledger, store, []strategy.Strategy{strat}, Options{
		MaxConcurrent: 4,
		Publisher:     h.publisher,
		Logger:        slog.Default(),
	})
	require.NoError(t, err)
	h.orch = orch
	return h, store
}

// TestOrchestrator_Resume_OneApprovalLaunchesOneTask holds the first
// resume mid-write and delivers the same approved decision again: the
// second call must be refused, and exactly one task may complete the
// execution.
func TestOrchestrator_Resume_OneApprovalLaunchesOneTask(t *testing.T) {
	t.Parallel()

	h, store := newStalledGatedHarness(t)
	exec, approvalID := suspendExecution(t, h, testConfig())

	decision := approvals.Decision{
		ApprovalID: approvalID,
		Verdict:    approvals.VerdictApproved,
		Reviewer:   fixtures.Reviewer,
	}

	store.arm()
	firstDone := make(chan error, 1)
	go func() { firstDone <- h.orch.Resume(context.Background(), exec.ID, decision) }()

	select {
	case <-store.stalled:
	case <-time.After(waitFor):
		t.Fatal("first resume never reached the context write")
	}

	// The ledger already reads running: a crash in this window leaves a
	// lost running task, not a waiting record the sweeper skips and a
	// later resume cannot match.
	parked, err := h.ledger.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, parked.State)

	// A second decision for the same approval is refused outright.
	err = h.orch.Resume(context.Background(), exec.ID, decision)
	require.Error(t, err)
	assert.True(t, tferr.HasCode(err, tferr.CodeConflict))

	close(store.hold)
	require.NoError(t, <-firstDone)

	final := h.waitForState(t, exec.ID, models.StateSucceeded)
	assert.Equal(t, 3, final.CurrentIteration)

	// Exactly one task ran the execution to completion.
	require.Eventually(t, func() bool { return h.publisher.count() == 1 }, waitFor, tick)
	actions, err := h.ledger.ListActions(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 3)
}

func TestOrchestrator_Resume_RefusedWhileTaskInFlight(t *testing.T) {
	t.Parallel()

	strat := &stepStrategy{agentType: models.AgentTypeTestGenerator, action: "fetch-story", n: 1000}
	slow := &echoTool{tag: "fetch-story", delay: 20 * time.Millisecond}
	h := newHarness(t, []strategy.Strategy{strat}, slow)

	exec, err := h.orch.CreateAndStart(context.Background(), models.AgentTypeTestGenerator,
		newGoal(t, "m1"), testConfig())
	require.NoError(t, err)

	err = h.orch.Resume(context.Background(), exec.ID, approvals.Decision{
		ApprovalID: "apr-1",
		Verdict:    approvals.VerdictApproved,
		Reviewer:   fixtures.Reviewer,
	})
	require.Error(t, err)
	assert.True(t, tferr.HasCode(err, tferr.CodeConflict))

	h.orch.Stop(exec.ID)
	h.waitForState(t, exec.ID, models.StateStopped)
}

// === Sweeping ===

func TestOrchestrator_SweepExpiredApprovals(t *testing.T) {
	t.Parallel()

	h := newGatedHarness(t)
	cfg := testConfig()
	cfg.ApprovalTimeout = 30 * time.Millisecond

	first, _ := suspendExecution(t, h, cfg)
	second, _ := suspendExecution(t, h, cfg)

	time.Sleep(60 * time.Millisecond)

	expired, err := h.orch.SweepExpiredApprovals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, expired)

	for _, id := range []string{first.ID, second.ID} {
		exec, err := h.ledger.GetExecution(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StateTimeout, exec.State)
	}

	// Nothing left to expire on the next sweep.
	expired, err = h.orch.SweepExpiredApprovals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestOrchestrator_SweepExpiredApprovals_LeavesFreshGatesAlone(t *testing.T) {
	t.Parallel()

	h := newGatedHarness(t)
	exec, _ := suspendExecution(t, h, testConfig())

	expired, err := h.orch.SweepExpiredApprovals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)

	stored, err := h.ledger.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateWaitingForApproval, stored.State)
}

// === Query surface ===

func TestOrchestrator_AgentTypes(t *testing.T) {
	t.Parallel()

	strategies := []strategy.Strategy{
		&stepStrategy{agentType: models.AgentTypeSelfHealer, action: "analyze-failure", n: 1},
		&stepStrategy{agentType: models.AgentTypeFlakyFixer, action: "fetch-run-history", n: 1},
		&stepStrategy{agentType: models.AgentTypeTestGenerator, action: "fetch-story", n: 1},
	}
	h := newHarness(t, strategies)

	assert.Equal(t, []models.AgentType{
		models.AgentTypeFlakyFixer,
		models.AgentTypeSelfHealer,
		models.AgentTypeTestGenerator,
	}, h.orch.AgentTypes())
}

func TestOrchestrator_GetRunningExecutions(t *testing.T) {
	t.Parallel()

	strat := &stepStrategy{agentType: models.AgentTypeTestGenerator, action: "fetch-story", n: 1000}
	slow := &echoTool{tag: "fetch-story", delay: 20 * time.Millisecond}
	h := newHarness(t, []strategy.Strategy{strat}, slow)

	exec, err := h.orch.CreateAndStart(context.Background(), models.AgentTypeTestGenerator,
		newGoal(t, "m1"), testConfig())
	require.NoError(t, err)

	running, err := h.orch.GetRunningExecutions(context.Background())
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, exec.ID, running[0].ID)

	h.orch.Stop(exec.ID)
	h.waitForState(t, exec.ID, models.StateStopped)

	running, err = h.orch.GetRunningExecutions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, running)
}

// === Isolation ===

// TestOrchestrator_ConcurrentExecutionsAreIsolated runs several
// executions of one strategy at once and checks that every execution's
// history and outputs carry only its own goal marker.
func TestOrchestrator_ConcurrentExecutionsAreIsolated(t *testing.T) {
	t.Parallel()

	strat := &stepStrategy{agentType: models.AgentTypeTestGenerator, action: "fetch-story", n: 4}
	h := newHarness(t, []strategy.Strategy{strat}, &echoTool{tag: "fetch-story", delay: time.Millisecond})

	const workers = 6
	ids := make([]string, workers)
	for i := range workers {
		exec, err := h.orch.CreateAndStart(context.Background(), models.AgentTypeTestGenerator,
			newGoal(t, fmt.Sprintf("marker-%d", i)), testConfig())
		require.NoError(t, err)
		ids[i] = exec.ID
	}

	for i, id := range ids {
		final := h.waitForState(t, id, models.StateSucceeded)
		marker := fmt.Sprintf("marker-%d", i)
		assert.Equal(t, marker, final.Outputs["marker"])

		actions, err := h.ledger.ListActions(context.Background(), id)
		require.NoError(t, err)
		require.Len(t, actions, 4)
		for _, rec := range actions {
			assert.Equal(t, marker, rec.Parameters["marker"])
			assert.Equal(t, marker, rec.Output["marker"])
			assert.Equal(t, id, rec.ExecutionID)
		}
	}
}
