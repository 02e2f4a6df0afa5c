// Package ledger is the durable system of record for agent executions.
// It persists the execution records the orchestrator creates, the
// per-iteration action history the engine appends, and the terminal
// outcomes. The ledger is append-mostly: execution records are updated
// in place by their single owning task, action history rows are never
// modified once written.
//
// [PostgresLedger] is the production implementation, storing executions
// in the agent_executions table and actions in agent_action_history with
// goal, config, and output payloads as JSONB. [MemoryLedger] provides
// the same contract in-process for tests.
package ledger

import (
	"context"

	"github.com/testforge/testforge-core/pkg/models"
)

// Ledger records agent executions and their action history.
//
// Implementations must be safe for concurrent use. Writes for a single
// execution are serialized by the task that owns it, so implementations
// do not need optimistic concurrency on execution records.
type Ledger interface {
	// CreateExecution inserts a new execution record. Returns a conflict
	// error (code CONF_002) when the ID already exists.
	CreateExecution(ctx context.Context, exec *models.AgentExecution) error

	// GetExecution retrieves an execution by ID. Returns a not-found
	// error (code NF_002) for unknown IDs.
	GetExecution(ctx context.Context, id string) (*models.AgentExecution, error)

	// UpdateExecution replaces the stored record for exec.ID. Returns a
	// not-found error (code NF_002) when no such execution exists.
	UpdateExecution(ctx context.Context, exec *models.AgentExecution) error

	// AppendAction inserts an action history row and returns it with the
	// assigned row ID. Rows are immutable once written.
	AppendAction(ctx context.Context, rec *models.ActionRecord) (*models.ActionRecord, error)

	// ListActions returns the full action history for an execution in
	// iteration order. An execution with no actions yields an empty slice.
	ListActions(ctx context.Context, executionID string) ([]models.ActionRecord, error)

	// CountActions returns the number of action history rows for an
	// execution.
	CountActions(ctx context.Context, executionID string) (int, error)

	// ListByState returns executions currently in the given state,
	// most recently started first.
	ListByState(ctx context.Context, state models.ExecutionState) ([]*models.AgentExecution, error)

	// ListByType returns up to limit executions of the given agent type,
	// most recently started first. A non-positive limit applies
	// DefaultListLimit.
	ListByType(ctx context.Context, agentType models.AgentType, limit int) ([]*models.AgentExecution, error)
}

// DefaultListLimit caps ListByType results when the caller does not
// supply a limit.
const DefaultListLimit = 50
