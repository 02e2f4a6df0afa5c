package models

import (
	"fmt"
	"time"
)

// AgentResult is returned to the original caller when an execution
// reaches a terminal state: the final outcome plus the totals an
// operator needs without replaying the action history.
type AgentResult struct {
	// ExecutionID identifies the finished execution.
	ExecutionID string `json:"execution_id"`

	// State is the terminal state the execution ended in.
	State ExecutionState `json:"state"`

	// Goal is the intent the execution was started with.
	Goal AgentGoal `json:"goal"`

	// Iterations is the number of iterations completed.
	Iterations int `json:"iterations"`

	// Outputs is the final key-value output map, populated on
	// [StateSucceeded].
	Outputs map[string]any `json:"outputs,omitempty"`

	// ErrorMessage contains failure details on [StateFailed],
	// [StateTimeout], and [StateBudgetExceeded].
	ErrorMessage string `json:"error_message,omitempty"`

	// TotalSpend is the cumulative AI spend attributed to the execution.
	TotalSpend float64 `json:"total_spend"`

	// Duration is the wall-clock time from start to completion.
	Duration time.Duration `json:"duration"`

	// StartedAt is the UTC timestamp the execution was created.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is the UTC timestamp the terminal state was reached.
	CompletedAt time.Time `json:"completed_at"`

	// Summary is a human-readable one-line description of the outcome.
	Summary string `json:"summary"`
}

// ResultFromExecution builds an [AgentResult] from a terminal execution
// record. The summary is synthesized from the terminal state and totals.
func ResultFromExecution(exec *AgentExecution) *AgentResult {
	res := &AgentResult{
		ExecutionID:  exec.ID,
		State:        exec.State,
		Goal:         exec.Goal.Clone(),
		Iterations:   exec.CurrentIteration,
		Outputs:      exec.Outputs,
		ErrorMessage: exec.ErrorMessage,
		TotalSpend:   exec.TotalSpend,
		StartedAt:    exec.StartedAt,
	}
	if exec.CompletedAt != nil {
		res.CompletedAt = *exec.CompletedAt
		res.Duration = exec.CompletedAt.Sub(exec.StartedAt)
	}
	res.Summary = summarize(exec)
	return res
}

// summarize renders the one-line outcome description shown to operators
// and published with the result.
func summarize(exec *AgentExecution) string {
	switch exec.State {
	case StateSucceeded:
		return fmt.Sprintf("%s completed goal %q in %d iterations (spend %.2f)",
			exec.AgentType, exec.Goal.GoalType, exec.CurrentIteration, exec.TotalSpend)
	case StateFailed:
		return fmt.Sprintf("%s failed goal %q after %d iterations: %s",
			exec.AgentType, exec.Goal.GoalType, exec.CurrentIteration, exec.ErrorMessage)
	case StateStopped:
		return fmt.Sprintf("%s stopped by request after %d iterations",
			exec.AgentType, exec.CurrentIteration)
	case StateTimeout:
		return fmt.Sprintf("%s timed out waiting for approval after %d iterations",
			exec.AgentType, exec.CurrentIteration)
	case StateBudgetExceeded:
		return fmt.Sprintf("%s exceeded budget after %d iterations (spend %.2f)",
			exec.AgentType, exec.CurrentIteration, exec.TotalSpend)
	default:
		return fmt.Sprintf("%s in state %s", exec.AgentType, exec.State)
	}
}
