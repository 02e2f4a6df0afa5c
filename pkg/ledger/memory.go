package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	tferr "github.com/testforge/testforge-core/pkg/errors"
	"github.com/testforge/testforge-core/pkg/models"
)

// MemoryLedger is an in-process [Ledger] for tests and local development.
// It mirrors the PostgresLedger contract, including the one-row-per-
// iteration constraint on action history. Stored records are deep-copied
// on the way in and out so callers never share state with the ledger.
type MemoryLedger struct {
	mu         sync.RWMutex
	executions map[string]*models.AgentExecution
	actions    map[string][]models.ActionRecord
	nextID     int64
}

// Compile-time interface compliance check.
var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		executions: make(map[string]*models.AgentExecution),
		actions:    make(map[string][]models.ActionRecord),
		nextID:     1,
	}
}

// CreateExecution inserts a new execution record.
func (l *MemoryLedger) CreateExecution(_ context.Context, exec *models.AgentExecution) error {
	if err := exec.Validate(); err != nil {
		return tferr.Wrap(err, tferr.CodeValidation,
			"ledger: invalid execution record")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.executions[exec.ID]; exists {
		return tferr.Newf(tferr.CodeConflictAlreadyExists,
			"ledger: execution %s already exists", exec.ID)
	}
	l.executions[exec.ID] = copyExecution(exec)
	return nil
}

// GetExecution retrieves an execution by ID.
func (l *MemoryLedger) GetExecution(_ context.Context, id string) (*models.AgentExecution, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	exec, ok := l.executions[id]
	if !ok {
		return nil, tferr.Newf(tferr.CodeNotFoundExecution,
			"ledger: execution %s not found", id)
	}
	return copyExecution(exec), nil
}

// UpdateExecution replaces the stored record for exec.ID.
func (l *MemoryLedger) UpdateExecution(_ context.Context, exec *models.AgentExecution) error {
	if err := exec.Validate(); err != nil {
		return tferr.Wrap(err, tferr.CodeValidation,
			"ledger: invalid execution record")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.executions[exec.ID]; !ok {
		return tferr.Newf(tferr.CodeNotFoundExecution,
			"ledger: execution %s not found", exec.ID)
	}
	l.executions[exec.ID] = copyExecution(exec)
	return nil
}

// AppendAction inserts an action history row and returns a copy with the
// assigned row ID.
func (l *MemoryLedger) AppendAction(_ context.Context, rec *models.ActionRecord) (*models.ActionRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, tferr.Wrap(err, tferr.CodeValidation,
			"ledger: invalid action record")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.actions[rec.ExecutionID] {
		if existing.Iteration == rec.Iteration {
			return nil, tferr.Newf(tferr.CodeConflictAlreadyExists,
				"ledger: action for execution %s iteration %d already recorded",
				rec.ExecutionID, rec.Iteration)
		}
	}

	stored := copyAction(rec)
	stored.ID = l.nextID
	l.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	l.actions[rec.ExecutionID] = append(l.actions[rec.ExecutionID], stored)

	result := stored
	return &result, nil
}

// ListActions returns the full action history for an execution in
// iteration order.
func (l *MemoryLedger) ListActions(_ context.Context, executionID string) ([]models.ActionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stored := l.actions[executionID]
	actions := make([]models.ActionRecord, 0, len(stored))
	for i := range stored {
		actions = append(actions, copyAction(&stored[i]))
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].Iteration < actions[j].Iteration
	})
	return actions, nil
}

// CountActions returns the number of action history rows for an execution.
func (l *MemoryLedger) CountActions(_ context.Context, executionID string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.actions[executionID]), nil
}

// ListByState returns executions currently in the given state, most
// recently started first.
func (l *MemoryLedger) ListByState(_ context.Context, state models.ExecutionState) ([]*models.AgentExecution, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	execs := make([]*models.AgentExecution, 0)
	for _, exec := range l.executions {
		if exec.State == state {
			execs = append(execs, copyExecution(exec))
		}
	}
	sortExecutions(execs)
	return execs, nil
}

// ListByType returns up to limit executions of the given agent type, most
// recently started first.
func (l *MemoryLedger) ListByType(_ context.Context, agentType models.AgentType, limit int) ([]*models.AgentExecution, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	execs := make([]*models.AgentExecution, 0)
	for _, exec := range l.executions {
		if exec.AgentType == agentType {
			execs = append(execs, copyExecution(exec))
		}
	}
	sortExecutions(execs)
	if len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

// sortExecutions orders executions most recently started first, with the
// ID as a tiebreaker for deterministic output.
func sortExecutions(execs []*models.AgentExecution) {
	sort.Slice(execs, func(i, j int) bool {
		if !execs[i].StartedAt.Equal(execs[j].StartedAt) {
			return execs[i].StartedAt.After(execs[j].StartedAt)
		}
		return execs[i].ID < execs[j].ID
	})
}

// copyExecution deep-copies an execution record.
func copyExecution(exec *models.AgentExecution) *models.AgentExecution {
	cp := *exec
	cp.Goal = exec.Goal.Clone()
	if exec.CompletedAt != nil {
		completed := *exec.CompletedAt
		cp.CompletedAt = &completed
	}
	if exec.Outputs != nil {
		cp.Outputs = make(map[string]any, len(exec.Outputs))
		for k, v := range exec.Outputs {
			cp.Outputs[k] = v
		}
	}
	return &cp
}

// copyAction deep-copies an action record.
func copyAction(rec *models.ActionRecord) models.ActionRecord {
	cp := *rec
	if rec.Parameters != nil {
		cp.Parameters = make(map[string]any, len(rec.Parameters))
		for k, v := range rec.Parameters {
			cp.Parameters[k] = v
		}
	}
	if rec.Output != nil {
		cp.Output = make(map[string]any, len(rec.Output))
		for k, v := range rec.Output {
			cp.Output[k] = v
		}
	}
	return cp
}
