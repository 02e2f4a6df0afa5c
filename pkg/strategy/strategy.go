// Package strategy contains the decision logic for each agent type. A
// strategy looks at the execution context (goal, history, work products)
// and tells the engine what to do next: execute a tool, raise an
// approval gate, complete with outputs, or fail.
//
// Strategies must be deterministic functions of the context. All side
// effects happen through tools, and everything a strategy needs to
// decide is in the context, so a decision can be recomputed after a
// crash or a suspension and come out the same.
package strategy

import (
	"context"

	"github.com/testforge/testforge-core/pkg/approvals"
	"github.com/testforge/testforge-core/pkg/models"
)

// ActionRequestApproval is the action type recorded in history when an
// execution suspends on an approval gate. It occupies an iteration like
// any other action.
const ActionRequestApproval = "request-approval"

// gateParamKey marks which pipeline action an approval row gates. It is
// stored in the approval row's parameters so a strategy can tell whether
// a given gate has already been raised.
const gateParamKey = "gate_action"

// DecisionKind discriminates the decisions a strategy can return.
type DecisionKind string

const (
	// DecideExecute runs a tool and records the outcome.
	DecideExecute DecisionKind = "execute-action"

	// DecideRequestApproval raises an approval gate and suspends the
	// execution until a reviewer decides.
	DecideRequestApproval DecisionKind = "request-approval"

	// DecideComplete ends the execution in the succeeded state.
	DecideComplete DecisionKind = "complete"

	// DecideFail ends the execution in the failed state.
	DecideFail DecisionKind = "fail"
)

// Decision is a strategy's instruction to the engine for one iteration.
type Decision struct {
	// Kind selects which of the remaining fields apply.
	Kind DecisionKind

	// ActionType is the tool tag to execute (DecideExecute) or the
	// gated action an approval protects (DecideRequestApproval).
	ActionType string

	// Parameters are the tool parameters (DecideExecute) or the
	// structured detail recorded on the approval row
	// (DecideRequestApproval).
	Parameters map[string]any

	// Content is the human-readable approval request body
	// (DecideRequestApproval).
	Content string

	// Outputs is the final output map (DecideComplete).
	Outputs map[string]any

	// Reason explains the failure (DecideFail).
	Reason string
}

// Strategy decides the next step for one agent type.
type Strategy interface {
	// Type returns the agent type this strategy drives.
	Type() models.AgentType

	// Decide returns the next decision for the given context. Decide
	// must not mutate shared state other than the context's scratch
	// area; the engine persists the context after every iteration.
	Decide(ctx context.Context, agentCtx *models.AgentContext) (*Decision, error)
}

// RejectionHandler is implemented by strategies that can react to a
// rejected approval with something other than failing. The engine calls
// it when a rejected execution is resumed; the returned decision is
// processed as if Decide had returned it.
type RejectionHandler interface {
	HandleRejection(ctx context.Context, agentCtx *models.AgentContext, decision approvals.Decision) (*Decision, error)
}
