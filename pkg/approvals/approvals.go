// Package approvals models the human approval gate. Strategies that want
// to land risky changes (opening a pull request, applying a fix) first
// raise an approval request; the execution then suspends until a reviewer
// decides. How the request reaches the reviewer is out of scope here: an
// [Approver] implementation may post to a review queue, a chat channel,
// or, as [MemoryApprover] does, simply record it for inspection.
package approvals

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	tferr "github.com/testforge/testforge-core/pkg/errors"
	"github.com/testforge/testforge-core/pkg/models"
)

// Verdict is a reviewer's decision on an approval request.
type Verdict string

const (
	// VerdictApproved lets the suspended execution proceed with the
	// gated action.
	VerdictApproved Verdict = "approved"

	// VerdictRejected declines the gated action. The execution resumes
	// so its strategy can react, by default by failing.
	VerdictRejected Verdict = "rejected"
)

// Valid reports whether the verdict is one of the recognized values.
func (v Verdict) Valid() bool {
	return v == VerdictApproved || v == VerdictRejected
}

// Request describes what an execution wants a reviewer to look at.
type Request struct {
	// ExecutionID identifies the requesting execution.
	ExecutionID string `json:"execution_id"`

	// AgentType identifies the strategy raising the request.
	AgentType models.AgentType `json:"agent_type"`

	// Content is the human-readable description of the gated action,
	// typically including the proposed change.
	Content string `json:"content"`

	// Metadata carries structured details for the review surface.
	Metadata map[string]any `json:"metadata,omitempty"`

	// RequestedAt is the UTC timestamp when the request was raised.
	RequestedAt time.Time `json:"requested_at"`
}

// Decision is a reviewer's resolution of an approval request, supplied
// when the execution is resumed.
type Decision struct {
	// ApprovalID identifies the request being decided.
	ApprovalID string `json:"approval_id"`

	// Verdict is the reviewer's decision.
	Verdict Verdict `json:"verdict"`

	// Reviewer identifies who decided.
	Reviewer string `json:"reviewer"`

	// Notes carries optional reviewer commentary, passed back to the
	// strategy on rejection.
	Notes string `json:"notes,omitempty"`
}

// Validate checks that the decision names a request and carries a
// recognized verdict.
func (d Decision) Validate() error {
	if d.ApprovalID == "" {
		return tferr.New(tferr.CodeValidationRequired,
			"approvals: decision approval ID is required")
	}
	if !d.Verdict.Valid() {
		return tferr.Newf(tferr.CodeValidation,
			"approvals: unknown verdict %q", d.Verdict)
	}
	return nil
}

// Approver raises approval requests toward reviewers.
type Approver interface {
	// RequestApproval submits the request and returns the approval ID
	// the execution suspends on.
	RequestApproval(ctx context.Context, req Request) (string, error)
}

// MemoryApprover is an in-process [Approver] that records requests for
// later inspection. It backs tests and local development, and doubles as
// the review-queue stub when no delivery channel is configured.
type MemoryApprover struct {
	mu       sync.RWMutex
	requests map[string]Request
}

// Compile-time interface compliance check.
var _ Approver = (*MemoryApprover)(nil)

// NewMemoryApprover creates an empty MemoryApprover.
func NewMemoryApprover() *MemoryApprover {
	return &MemoryApprover{requests: make(map[string]Request)}
}

// RequestApproval records the request and returns a generated approval ID.
func (a *MemoryApprover) RequestApproval(_ context.Context, req Request) (string, error) {
	if req.ExecutionID == "" {
		return "", tferr.New(tferr.CodeValidationRequired,
			"approvals: request execution ID is required")
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	id := uuid.New().String()
	a.mu.Lock()
	a.requests[id] = req
	a.mu.Unlock()
	return id, nil
}

// Get returns the recorded request for an approval ID.
func (a *MemoryApprover) Get(approvalID string) (Request, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	req, ok := a.requests[approvalID]
	return req, ok
}

// Pending returns the number of recorded requests.
func (a *MemoryApprover) Pending() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.requests)
}

// Resolve removes a recorded request, returning false if it was unknown.
func (a *MemoryApprover) Resolve(approvalID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.requests[approvalID]; !ok {
		return false
	}
	delete(a.requests, approvalID)
	return true
}
