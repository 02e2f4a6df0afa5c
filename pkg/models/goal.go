package models

import (
	"errors"
	"fmt"
	"time"
)

// Default run-policy values applied by [DefaultAgentConfig]. These bound
// every execution's lifetime even when a caller supplies no explicit
// configuration.
const (
	// DefaultMaxIterations is the default iteration ceiling. Agent loops
	// that have not converged after this many actions are stopped with
	// [StateBudgetExceeded].
	DefaultMaxIterations = 25

	// DefaultMaxSpend is the default cumulative AI spend ceiling in
	// account currency units.
	DefaultMaxSpend = 10.0

	// DefaultApprovalTimeout is the default window a suspended execution
	// waits at an approval gate before it is moved to [StateTimeout] on
	// the next observation.
	DefaultApprovalTimeout = 24 * time.Hour
)

// AgentGoal is an immutable description of intent: what the agent is
// asked to achieve, parametrized by goal-type-specific values. A goal is
// created once per execution request and never mutated; the engine and
// strategies treat it as read-only.
type AgentGoal struct {
	// GoalType tags the kind of outcome requested (e.g.,
	// "generate-tests-for-story", "heal-failing-test"). Must not be empty.
	GoalType string `json:"goal_type"`

	// Parameters maps parameter names to goal-specific values (story
	// keys, test identifiers, repository paths). May be empty.
	Parameters map[string]any `json:"parameters,omitempty"`

	// SuccessCriteria is an optional free-text description of what a
	// successful outcome looks like, consumed by strategies that pass it
	// to AI tools.
	SuccessCriteria string `json:"success_criteria,omitempty"`

	// RequestedBy is the identifier of the initiating principal (user or
	// service). Must not be empty; required for the audit trail.
	RequestedBy string `json:"requested_by"`
}

// NewAgentGoal creates a validated [AgentGoal]. The parameters map is
// defensively copied so later caller mutations cannot leak into the
// immutable goal.
func NewAgentGoal(goalType, requestedBy string, parameters map[string]any) (AgentGoal, error) {
	if goalType == "" {
		return AgentGoal{}, errors.New("models: goal type must not be empty")
	}
	if requestedBy == "" {
		return AgentGoal{}, errors.New("models: goal requestedBy must not be empty")
	}

	var copied map[string]any
	if len(parameters) > 0 {
		copied = make(map[string]any, len(parameters))
		for k, v := range parameters {
			copied[k] = v
		}
	}

	return AgentGoal{
		GoalType:    goalType,
		Parameters:  copied,
		RequestedBy: requestedBy,
	}, nil
}

// Clone returns a deep copy of the goal, including an independent copy
// of the parameters map.
func (g AgentGoal) Clone() AgentGoal {
	out := g
	if len(g.Parameters) > 0 {
		out.Parameters = make(map[string]any, len(g.Parameters))
		for k, v := range g.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// AgentConfig is the immutable run policy for one execution: the hard
// resource budgets bounding the execution's lifetime. Created once per
// request and persisted with the execution so a resume after process
// restart enforces the same limits.
type AgentConfig struct {
	// MaxIterations is the iteration ceiling. The engine stops the
	// execution with [StateBudgetExceeded] when the iteration counter
	// reaches this value. Must be positive.
	MaxIterations int `json:"max_iterations"`

	// MaxSpend is the cumulative AI spend ceiling. The engine stops the
	// execution with [StateBudgetExceeded] once attributed spend reaches
	// this value; overshoot is bounded by a single iteration's spend.
	// Must be positive.
	MaxSpend float64 `json:"max_spend"`

	// ApprovalTimeout is the maximum time an execution may wait at an
	// approval gate. Exceeding it moves the execution to [StateTimeout]
	// on the next observation. Must be positive.
	ApprovalTimeout time.Duration `json:"approval_timeout"`
}

// DefaultAgentConfig returns an [AgentConfig] populated with the default
// budget values. Callers override fields as needed before starting an
// execution.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxIterations:   DefaultMaxIterations,
		MaxSpend:        DefaultMaxSpend,
		ApprovalTimeout: DefaultApprovalTimeout,
	}
}

// Validate checks that every budget is positive. Returns the first
// validation error encountered, or nil if the config is valid.
func (c AgentConfig) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("models: config max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.MaxSpend <= 0 {
		return fmt.Errorf("models: config max_spend must be positive, got %g", c.MaxSpend)
	}
	if c.ApprovalTimeout <= 0 {
		return fmt.Errorf("models: config approval_timeout must be positive, got %v", c.ApprovalTimeout)
	}
	return nil
}
