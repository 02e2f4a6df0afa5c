package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentExecution represents a single agent execution in the TestForge
// platform. It is the durable ledger record the orchestrator creates and
// the engine updates after every iteration and at termination.
//
// Every field is annotated with both JSON tags (for API serialization)
// and db tags (for database mapping). Optional fields use omitempty to
// exclude zero values from serialized output.
//
// Execution records are created via [NewAgentExecution]. The orchestrator
// and the engine are the only writers; updates are full-replace and are
// serialized by the single task owning the execution, so no optimistic
// concurrency is applied.
type AgentExecution struct {
	// ID is the unique identifier for this execution (UUID v4).
	ID string `json:"id" db:"id"`

	// AgentType identifies the strategy variant running this execution.
	AgentType AgentType `json:"agent_type" db:"agent_type"`

	// State is the current lifecycle state of the execution.
	// See [ExecutionState] for valid values.
	State ExecutionState `json:"state" db:"state"`

	// Goal is the immutable description of intent for this execution.
	// Persisted as a serialized blob by the ledger.
	Goal AgentGoal `json:"goal" db:"goal"`

	// Config is the immutable run policy (budgets) for this execution.
	// Persisted so that resumes after a process restart enforce the
	// same limits.
	Config AgentConfig `json:"config" db:"config"`

	// CurrentIteration is the number of iterations completed so far.
	// Monotonically non-decreasing; equals the count of action-history
	// rows once the execution is terminal.
	CurrentIteration int `json:"current_iteration" db:"current_iteration"`

	// RequestedBy is the identifier of the initiating principal.
	RequestedBy string `json:"requested_by" db:"requested_by"`

	// StartedAt is the UTC timestamp when the execution was created.
	StartedAt time.Time `json:"started_at" db:"started_at"`

	// CompletedAt is the UTC timestamp when the execution reached a
	// terminal state. Nil while the execution is running or suspended.
	// Invariant: non-nil if and only if State.IsTerminal().
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// Outputs is the final key-value output map, populated on
	// [StateSucceeded]. Persisted as a serialized blob by the ledger.
	Outputs map[string]any `json:"outputs,omitempty" db:"outputs"`

	// ErrorMessage contains failure details when the execution ends in
	// [StateFailed], [StateTimeout], or [StateBudgetExceeded]. Empty
	// otherwise.
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	// TotalSpend is the cumulative AI spend attributed to this
	// execution across all actions.
	TotalSpend float64 `json:"total_spend" db:"total_spend"`

	// ActionCount is the total number of action-history rows appended
	// for this execution.
	ActionCount int `json:"action_count" db:"action_count"`

	// UpdatedAt is the UTC timestamp of the last record modification.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewAgentExecution creates a new execution record with a generated UUID,
// [StateRunning], iteration 0, and UTC timestamps. The goal and config
// are validated before the record is created.
func NewAgentExecution(agentType AgentType, goal AgentGoal, cfg AgentConfig) (*AgentExecution, error) {
	if agentType == "" {
		return nil, errors.New("models: execution agent type must not be empty")
	}
	if goal.GoalType == "" {
		return nil, errors.New("models: execution goal type must not be empty")
	}
	if goal.RequestedBy == "" {
		return nil, errors.New("models: execution requestedBy must not be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &AgentExecution{
		ID:          uuid.New().String(),
		AgentType:   agentType,
		State:       StateRunning,
		Goal:        goal.Clone(),
		Config:      cfg,
		RequestedBy: goal.RequestedBy,
		StartedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Validate checks that all required fields are present, that the state is
// recognized, and that the terminal-state/CompletedAt invariant holds.
// Returns the first validation error encountered, or nil if the
// execution is valid.
func (e *AgentExecution) Validate() error {
	if e.ID == "" {
		return errors.New("models: execution ID is required")
	}
	if e.AgentType == "" {
		return errors.New("models: execution agent type is required")
	}
	if e.Goal.GoalType == "" {
		return errors.New("models: execution goal type is required")
	}
	if e.RequestedBy == "" {
		return errors.New("models: execution requestedBy is required")
	}
	if !e.State.Valid() {
		return fmt.Errorf("models: invalid execution state %q", e.State)
	}
	if e.StartedAt.IsZero() {
		return errors.New("models: execution started_at is required")
	}
	if e.State.IsTerminal() != (e.CompletedAt != nil) {
		return fmt.Errorf("models: execution completed_at must be set if and only if state is terminal, state=%q completed_at=%v",
			e.State, e.CompletedAt)
	}
	if e.CurrentIteration < 0 {
		return fmt.Errorf("models: execution current_iteration must not be negative, got %d", e.CurrentIteration)
	}
	if e.TotalSpend < 0 {
		return fmt.Errorf("models: execution total_spend must not be negative, got %g", e.TotalSpend)
	}
	return nil
}

// IsTerminal reports whether the execution has reached one of the five
// final states.
func (e *AgentExecution) IsTerminal() bool {
	return e.State.IsTerminal()
}

// MarkTerminal transitions the execution to the given terminal state,
// stamping CompletedAt and recording the error message (if any) and
// final outputs. Returns an error if the target state is not terminal or
// the transition is not allowed from the current state.
func (e *AgentExecution) MarkTerminal(state ExecutionState, outputs map[string]any, errorMessage string) error {
	if !state.IsTerminal() {
		return fmt.Errorf("models: %q is not a terminal state", state)
	}
	if !ValidTransition(e.State, state) {
		return fmt.Errorf("models: invalid transition from %q to %q", e.State, state)
	}
	now := time.Now().UTC()
	e.State = state
	e.CompletedAt = &now
	e.Outputs = outputs
	e.ErrorMessage = errorMessage
	e.UpdatedAt = now
	return nil
}

// Duration returns the wall-clock duration of the execution. If the
// execution is terminal, the duration is StartedAt to CompletedAt;
// otherwise StartedAt to now. Returns zero if StartedAt is zero.
func (e *AgentExecution) Duration() time.Duration {
	if e.StartedAt.IsZero() {
		return 0
	}
	if e.CompletedAt != nil {
		return e.CompletedAt.Sub(e.StartedAt)
	}
	return time.Since(e.StartedAt)
}
