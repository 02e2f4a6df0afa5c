package models

import (
	"time"
)

// AgentContext is the transient, externalized working state of one
// execution, keyed by execution id in the context store. It is the only
// place execution-local mutable data lives: the strategy loads it at the
// top of every iteration and the engine saves it back at the bottom,
// which keeps strategy implementations themselves stateless and safely
// shared across unlimited concurrent executions.
//
// Ownership: an AgentContext is exclusively owned by the single in-flight
// task processing its execution id. No other execution may read or write
// it; isolation follows from the store being keyed by execution id.
type AgentContext struct {
	// ExecutionID keys the context in the store.
	ExecutionID string `json:"execution_id"`

	// AgentType identifies the strategy variant driving this execution.
	AgentType AgentType `json:"agent_type"`

	// State is the lifecycle state as of the last save. While suspended
	// this is [StateWaitingForApproval]; the resume path flips it back
	// to [StateRunning] before re-entering the loop.
	State ExecutionState `json:"state"`

	// Goal is the immutable intent for this execution.
	Goal AgentGoal `json:"goal"`

	// Config is the immutable run policy for this execution.
	Config AgentConfig `json:"config"`

	// CurrentIteration is the number of iterations completed so far.
	CurrentIteration int `json:"current_iteration"`

	// History is the in-order action history accumulated so far. It
	// mirrors the ledger rows but is the working copy the strategy
	// reads each iteration to decide the next action.
	History []ActionRecord `json:"history,omitempty"`

	// WorkProducts holds intermediate artifacts not yet committed to
	// the ledger or the workspace (e.g. generated code before it is
	// written to disk). Merged from tool outputs after every action.
	WorkProducts map[string]any `json:"work_products,omitempty"`

	// Scratch is strategy-private state: free-form data a strategy
	// stashes between iterations (retry counters, discovered locators,
	// approval verdicts). The engine never interprets it.
	Scratch map[string]any `json:"scratch,omitempty"`

	// TotalSpend is the cumulative AI spend attributed to this
	// execution across all actions so far.
	TotalSpend float64 `json:"total_spend"`

	// PendingApprovalID is the approval-request identifier while the
	// execution is suspended at an approval gate. Empty otherwise.
	PendingApprovalID string `json:"pending_approval_id,omitempty"`

	// ApprovalRequestedAt is the UTC timestamp the current approval
	// gate was entered. Nil unless suspended. The approval deadline is
	// ApprovalRequestedAt + Config.ApprovalTimeout.
	ApprovalRequestedAt *time.Time `json:"approval_requested_at,omitempty"`

	// StartedAt is the UTC timestamp the execution was created.
	StartedAt time.Time `json:"started_at"`

	// UpdatedAt is the UTC timestamp of the last save.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAgentContext creates the initial working context for a freshly
// created execution: iteration 0, empty history, empty work products.
func NewAgentContext(exec *AgentExecution) *AgentContext {
	return &AgentContext{
		ExecutionID:  exec.ID,
		AgentType:    exec.AgentType,
		State:        exec.State,
		Goal:         exec.Goal.Clone(),
		Config:       exec.Config,
		WorkProducts: make(map[string]any),
		Scratch:      make(map[string]any),
		StartedAt:    exec.StartedAt,
		UpdatedAt:    exec.UpdatedAt,
	}
}

// RecordAction appends a completed action to the working history,
// advances the iteration counter, and accumulates the attributed spend.
// The record's iteration must already be set to CurrentIteration+1 by
// the engine; RecordAction trusts the caller and only mutates counters.
func (c *AgentContext) RecordAction(rec ActionRecord) {
	c.History = append(c.History, rec)
	c.CurrentIteration = rec.Iteration
	c.TotalSpend += rec.Spend
	c.UpdatedAt = time.Now().UTC()
}

// LastAction returns the most recent history entry, or nil if no action
// has been executed yet.
func (c *AgentContext) LastAction() *ActionRecord {
	if len(c.History) == 0 {
		return nil
	}
	return &c.History[len(c.History)-1]
}

// MergeWorkProducts copies the given outputs into the work-products map,
// overwriting existing keys. Nil-safe on a zero-value context.
func (c *AgentContext) MergeWorkProducts(outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	if c.WorkProducts == nil {
		c.WorkProducts = make(map[string]any, len(outputs))
	}
	for k, v := range outputs {
		c.WorkProducts[k] = v
	}
}

// ApprovalDeadline returns the instant the current approval window
// closes, and false if the execution is not suspended at a gate.
func (c *AgentContext) ApprovalDeadline() (time.Time, bool) {
	if c.ApprovalRequestedAt == nil {
		return time.Time{}, false
	}
	return c.ApprovalRequestedAt.Add(c.Config.ApprovalTimeout), true
}

// ApprovalExpired reports whether the approval window has closed as of
// the given instant. Always false when not suspended at a gate.
func (c *AgentContext) ApprovalExpired(now time.Time) bool {
	deadline, ok := c.ApprovalDeadline()
	if !ok {
		return false
	}
	return now.After(deadline)
}

// EnterApprovalGate marks the context suspended at an approval gate.
func (c *AgentContext) EnterApprovalGate(approvalID string, now time.Time) {
	now = now.UTC()
	c.State = StateWaitingForApproval
	c.PendingApprovalID = approvalID
	c.ApprovalRequestedAt = &now
	c.UpdatedAt = now
}

// LeaveApprovalGate clears the gate markers and returns the context to
// [StateRunning], used by the resume path before re-entering the loop.
func (c *AgentContext) LeaveApprovalGate(now time.Time) {
	c.State = StateRunning
	c.PendingApprovalID = ""
	c.ApprovalRequestedAt = nil
	c.UpdatedAt = now.UTC()
}
