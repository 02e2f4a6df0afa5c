package models

import (
	"errors"
	"fmt"
	"time"
)

// ActionRecord is one row of an execution's append-only action history:
// a single tool invocation (or approval request) with its inputs,
// outputs, and cost attribution. Rows for a given execution are totally
// ordered by iteration number and never mutated after creation.
type ActionRecord struct {
	// ID is the ledger-assigned row identifier. Zero until the row is
	// appended.
	ID int64 `json:"id,omitempty" db:"id"`

	// ExecutionID links the row to its execution.
	ExecutionID string `json:"execution_id" db:"execution_id"`

	// Iteration is the 1-based iteration number within the execution.
	Iteration int `json:"iteration" db:"iteration"`

	// ActionType is the tag of the executed action (tool type, or the
	// approval-request marker).
	ActionType string `json:"action_type" db:"action_type"`

	// Success reports whether the action completed without error.
	Success bool `json:"success" db:"success"`

	// Parameters are the input parameters the action was invoked with.
	Parameters map[string]any `json:"parameters,omitempty" db:"parameters"`

	// Output is the action's result payload, recorded verbatim.
	Output map[string]any `json:"output,omitempty" db:"output"`

	// ErrorMessage contains the failure details for unsuccessful
	// actions. Empty when Success is true.
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	// Duration is the measured wall-clock time of the action.
	Duration time.Duration `json:"duration" db:"duration"`

	// Spend is the AI spend attributed to this action.
	Spend float64 `json:"spend" db:"spend"`

	// RequiredApproval marks rows that suspended the execution at a
	// human-approval gate.
	RequiredApproval bool `json:"required_approval" db:"required_approval"`

	// ApprovalID is the approval-request identifier when
	// RequiredApproval is true. Empty otherwise.
	ApprovalID string `json:"approval_id,omitempty" db:"approval_id"`

	// CreatedAt is the UTC timestamp when the row was appended.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Validate checks the record's required fields and ordering invariants.
func (r *ActionRecord) Validate() error {
	if r.ExecutionID == "" {
		return errors.New("models: action record execution ID is required")
	}
	if r.Iteration < 1 {
		return fmt.Errorf("models: action record iteration must be >= 1, got %d", r.Iteration)
	}
	if r.ActionType == "" {
		return errors.New("models: action record action type is required")
	}
	if r.Spend < 0 {
		return fmt.Errorf("models: action record spend must not be negative, got %g", r.Spend)
	}
	if r.RequiredApproval && r.ApprovalID == "" {
		return errors.New("models: action record approval ID is required when approval was requested")
	}
	return nil
}

// ActionResult is the outcome of a single tool invocation as returned by
// the tool registry: the output payload plus the duration and spend the
// engine attributes to the execution.
type ActionResult struct {
	// ActionType is the tag of the invoked tool.
	ActionType string `json:"action_type"`

	// Success reports whether the tool completed without error.
	Success bool `json:"success"`

	// Output is the tool's result payload, returned verbatim.
	Output map[string]any `json:"output,omitempty"`

	// ErrorMessage contains the failure details for unsuccessful
	// invocations.
	ErrorMessage string `json:"error_message,omitempty"`

	// Duration is the measured wall-clock time of the invocation.
	Duration time.Duration `json:"duration"`

	// Spend is the AI spend attributed to the invocation, reported by
	// the tool (zero for tools with no AI cost).
	Spend float64 `json:"spend"`
}
