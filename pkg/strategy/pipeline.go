package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/testforge/testforge-core/pkg/approvals"
	"github.com/testforge/testforge-core/pkg/models"
)

// DefaultMaxRetries is the number of retries a pipeline grants a failing
// step before giving up on the execution.
const DefaultMaxRetries = 2

// Step is one stage of a pipeline. Steps run in order; a step only
// starts after the previous one has a successful action row.
type Step struct {
	// Action is the tool tag this step executes.
	Action string

	// Params builds the tool parameters from the context. A nil Params
	// runs the step with no parameters.
	Params func(agentCtx *models.AgentContext) map[string]any

	// Gate, when non-nil, raises an approval request before the step
	// runs. The returned string is the request body shown to reviewers.
	Gate func(agentCtx *models.AgentContext) string

	// Fallback, when non-nil, replaces the step after a reviewer
	// rejects its gate. The fallback runs ungated.
	Fallback *Step
}

// Pipeline is a [Strategy] that walks a fixed sequence of steps,
// retrying failed steps up to a bound and gating designated steps on
// human approval. All three production agent types are pipelines; they
// differ only in their step tables.
type Pipeline struct {
	agentType  models.AgentType
	steps      []Step
	maxRetries int
	// outputs builds the final output map once every step has succeeded.
	outputs func(agentCtx *models.AgentContext) map[string]any
	logger  *slog.Logger
}

// Compile-time interface compliance checks.
var (
	_ Strategy         = (*Pipeline)(nil)
	_ RejectionHandler = (*Pipeline)(nil)
)

// NewPipeline assembles a pipeline strategy. A non-positive maxRetries
// selects [DefaultMaxRetries]; a nil logger falls back to [slog.Default].
func NewPipeline(agentType models.AgentType, steps []Step, maxRetries int,
	outputs func(*models.AgentContext) map[string]any, logger *slog.Logger) *Pipeline {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		agentType:  agentType,
		steps:      steps,
		maxRetries: maxRetries,
		outputs:    outputs,
		logger:     logger,
	}
}

// Type returns the agent type this pipeline drives.
func (p *Pipeline) Type() models.AgentType {
	return p.agentType
}

// Decide picks the next step from the context's history. Progress is
// derived entirely from the history, so Decide gives the same answer
// before and after a suspension or a crash recovery.
func (p *Pipeline) Decide(_ context.Context, agentCtx *models.AgentContext) (*Decision, error) {
	completed := p.completedSteps(agentCtx)
	if completed >= len(p.steps) {
		var outputs map[string]any
		if p.outputs != nil {
			outputs = p.outputs(agentCtx)
		}
		return &Decision{Kind: DecideComplete, Outputs: outputs}, nil
	}

	step := p.effectiveStep(agentCtx, completed)

	// A step that keeps failing past its retry budget fails the run.
	if failures := trailingFailures(agentCtx, step.Action); failures > 0 {
		if failures > p.maxRetries {
			last := agentCtx.LastAction()
			return &Decision{
				Kind: DecideFail,
				Reason: fmt.Sprintf("action %s failed %d times, giving up: %s",
					step.Action, failures, last.ErrorMessage),
			}, nil
		}
		p.logger.Debug("retrying failed action",
			"agent_type", p.agentType,
			"action", step.Action,
			"attempt", failures+1,
		)
	}

	// Raise the approval gate once per step. A gate row in history means
	// the reviewer already decided: the engine only reaches Decide again
	// after an approval (rejections go through HandleRejection).
	if step.Gate != nil && !gateRaised(agentCtx, step.Action) {
		return &Decision{
			Kind:       DecideRequestApproval,
			ActionType: step.Action,
			Content:    step.Gate(agentCtx),
			Parameters: map[string]any{gateParamKey: step.Action},
		}, nil
	}

	var params map[string]any
	if step.Params != nil {
		params = step.Params(agentCtx)
	}
	return &Decision{
		Kind:       DecideExecute,
		ActionType: step.Action,
		Parameters: params,
	}, nil
}

// HandleRejection reacts to a reviewer rejecting a gate. Steps with a
// fallback switch to it; everything else fails the run with the
// reviewer's notes.
func (p *Pipeline) HandleRejection(ctx context.Context, agentCtx *models.AgentContext, decision approvals.Decision) (*Decision, error) {
	completed := p.completedSteps(agentCtx)
	if completed < len(p.steps) {
		step := p.steps[completed]
		if step.Fallback != nil {
			if agentCtx.Scratch == nil {
				agentCtx.Scratch = make(map[string]any)
			}
			agentCtx.Scratch[rejectedKey(step.Action)] = true
			p.logger.Info("gate rejected, switching to fallback",
				"agent_type", p.agentType,
				"action", step.Action,
				"fallback", step.Fallback.Action,
				"reviewer", decision.Reviewer,
			)
			return p.Decide(ctx, agentCtx)
		}
	}

	reason := fmt.Sprintf("approval %s rejected by %s", decision.ApprovalID, decision.Reviewer)
	if decision.Notes != "" {
		reason += ": " + decision.Notes
	}
	return &Decision{Kind: DecideFail, Reason: reason}, nil
}

// effectiveStep resolves the step at the given index, substituting the
// fallback when the step's gate was rejected.
func (p *Pipeline) effectiveStep(agentCtx *models.AgentContext, index int) Step {
	step := p.steps[index]
	if step.Fallback != nil && agentCtx.Scratch != nil {
		if rejected, _ := agentCtx.Scratch[rejectedKey(step.Action)].(bool); rejected {
			return *step.Fallback
		}
	}
	return step
}

// completedSteps counts how many pipeline steps have a successful action
// row. Approval rows do not advance the pipeline. A step whose gate was
// rejected is satisfied by its fallback's action instead.
func (p *Pipeline) completedSteps(agentCtx *models.AgentContext) int {
	succeeded := make(map[string]bool)
	for _, rec := range agentCtx.History {
		if rec.Success && rec.ActionType != ActionRequestApproval {
			succeeded[rec.ActionType] = true
		}
	}

	completed := 0
	for i := range p.steps {
		step := p.effectiveStep(agentCtx, i)
		if !succeeded[step.Action] {
			break
		}
		completed++
	}
	return completed
}

// trailingFailures counts consecutive failed rows for the given action
// at the tail of the history.
func trailingFailures(agentCtx *models.AgentContext, action string) int {
	failures := 0
	for i := len(agentCtx.History) - 1; i >= 0; i-- {
		rec := agentCtx.History[i]
		if rec.Success || rec.ActionType != action {
			break
		}
		failures++
	}
	return failures
}

// gateRaised reports whether an approval row for the given gated action
// already exists in history.
func gateRaised(agentCtx *models.AgentContext, action string) bool {
	for _, rec := range agentCtx.History {
		if rec.ActionType == ActionRequestApproval && rec.Parameters[gateParamKey] == action {
			return true
		}
	}
	return false
}

// rejectedKey is the scratch key marking a rejected gate.
func rejectedKey(action string) string {
	return "rejected:" + action
}

// LastOutput returns the output of the most recent successful row for
// the given action, or nil if none exists. Step Params funcs use it to
// thread one tool's output into the next tool's input.
func LastOutput(agentCtx *models.AgentContext, action string) map[string]any {
	for i := len(agentCtx.History) - 1; i >= 0; i-- {
		rec := agentCtx.History[i]
		if rec.ActionType == action && rec.Success {
			return rec.Output
		}
	}
	return nil
}
