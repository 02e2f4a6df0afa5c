// Package models defines the core data models for the TestForge agent
// execution engine.
//
// The models in this package represent the central data structures shared
// across the engine, the execution ledger, and the context store. They are
// designed for serialization (JSON), database persistence, and
// cross-service transport.
//
// Execution Model:
//
// The [AgentExecution] type represents a single autonomous agent execution —
// the durable record the orchestrator creates and the strategy updates after
// every iteration. An execution flows through a defined lifecycle:
//
//	running → waiting_for_approval → running
//	        → succeeded
//	        → failed
//	        → stopped
//	        → timeout
//	        → budget_exceeded
//
// Once an execution reaches a terminal state it cannot transition to
// another state. The [ExecutionState.IsTerminal] method identifies
// terminal states, and [ValidTransition] validates every state change.
package models

// AgentType identifies one agent behavior variant. Each type maps to a
// single registered strategy implementing the decide-next-action
// capability.
type AgentType string

const (
	// AgentTypeTestGenerator generates test cases from an issue-tracker
	// story, writes them to the workspace, and opens a pull request after
	// human approval.
	AgentTypeTestGenerator AgentType = "test-generator"

	// AgentTypeSelfHealer analyzes a failing test run, generates a fix,
	// and commits it after human approval.
	AgentTypeSelfHealer AgentType = "self-healer"

	// AgentTypeFlakyFixer diagnoses flaky tests from their run history
	// and either quarantines or repairs them. Fully automatic: it never
	// enters an approval gate.
	AgentTypeFlakyFixer AgentType = "flaky-fixer"
)

// String returns the string representation of the agent type.
func (t AgentType) String() string {
	return string(t)
}

// ExecutionState represents the lifecycle state of an agent execution.
// Executions begin in [StateRunning] and progress until reaching one of
// the five terminal states.
type ExecutionState string

const (
	// StateRunning indicates the execution is actively iterating, or is
	// eligible to be picked up by a task after a resume.
	StateRunning ExecutionState = "running"

	// StateWaitingForApproval indicates the execution is suspended at a
	// human-approval gate. No task holds it; it is represented purely by
	// its persisted context and ledger record until a resume re-launches
	// a task for it.
	StateWaitingForApproval ExecutionState = "waiting_for_approval"

	// StateSucceeded indicates the strategy signaled logical completion
	// of its goal. This is a terminal state.
	StateSucceeded ExecutionState = "succeeded"

	// StateFailed indicates an unrecoverable error: a tool or validation
	// failure with no strategy-defined recovery, a missing execution
	// context, or a rejected approval with no rejection path. This is a
	// terminal state. Details are recorded in the execution's
	// ErrorMessage.
	StateFailed ExecutionState = "failed"

	// StateStopped indicates an explicit external stop request was
	// observed at a safe checkpoint. This is a terminal state.
	StateStopped ExecutionState = "stopped"

	// StateTimeout indicates the approval wait exceeded the configured
	// window before a decision arrived. This is a terminal state; later
	// decisions for the execution are rejected.
	StateTimeout ExecutionState = "timeout"

	// StateBudgetExceeded indicates the iteration ceiling or the spend
	// ceiling was reached. This is a terminal state.
	StateBudgetExceeded ExecutionState = "budget_exceeded"
)

// String returns the string representation of the execution state.
func (s ExecutionState) String() string {
	return string(s)
}

// Valid reports whether the state is one of the recognized values.
func (s ExecutionState) Valid() bool {
	switch s {
	case StateRunning, StateWaitingForApproval, StateSucceeded,
		StateFailed, StateStopped, StateTimeout, StateBudgetExceeded:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether this state is one of the five final states
// from which no further transitions are possible.
func (s ExecutionState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateStopped, StateTimeout,
		StateBudgetExceeded:
		return true
	default:
		return false
	}
}

// validTransitions defines the allowed state transitions for the
// execution lifecycle. Each key is a source state, and the value is the
// set of states it may transition to. Terminal states have no outgoing
// transitions: once reached, a terminal state is never revisited.
//
// Transition matrix:
//
//	Running            → WaitingForApproval, Succeeded, Failed, Stopped, BudgetExceeded
//	WaitingForApproval → Running, Failed, Stopped, Timeout
var validTransitions = map[ExecutionState][]ExecutionState{
	StateRunning: {
		StateWaitingForApproval, StateSucceeded, StateFailed,
		StateStopped, StateBudgetExceeded,
	},
	StateWaitingForApproval: {
		StateRunning, StateFailed, StateStopped, StateTimeout,
	},
}

// ValidTransition reports whether transitioning from state from to state
// to is allowed by the execution lifecycle. Same-state transitions are
// rejected, as is any transition out of a terminal state.
func ValidTransition(from, to ExecutionState) bool {
	if from == to {
		return false
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}
