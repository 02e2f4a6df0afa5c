package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/testforge/testforge-core/pkg/clients/postgres"
	tferr "github.com/testforge/testforge-core/pkg/errors"
	"github.com/testforge/testforge-core/pkg/models"
)

// Schema is the DDL for the ledger tables. It is idempotent and is
// applied by [PostgresLedger.Migrate] at service startup.
//
// Action history rows carry a UNIQUE (execution_id, iteration)
// constraint: the engine appends exactly one row per iteration, and the
// constraint turns any double-append bug into a hard insert failure.
const Schema = `
CREATE TABLE IF NOT EXISTS agent_executions (
    id                TEXT PRIMARY KEY,
    agent_type        TEXT NOT NULL,
    state             TEXT NOT NULL,
    goal              JSONB NOT NULL,
    config            JSONB NOT NULL,
    current_iteration INTEGER NOT NULL DEFAULT 0,
    requested_by      TEXT NOT NULL,
    started_at        TIMESTAMPTZ NOT NULL,
    completed_at      TIMESTAMPTZ,
    outputs           JSONB,
    error_message     TEXT NOT NULL DEFAULT '',
    total_spend       DOUBLE PRECISION NOT NULL DEFAULT 0,
    action_count      INTEGER NOT NULL DEFAULT 0,
    updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agent_executions_state
    ON agent_executions (state);
CREATE INDEX IF NOT EXISTS idx_agent_executions_type_started
    ON agent_executions (agent_type, started_at DESC);

CREATE TABLE IF NOT EXISTS agent_action_history (
    id                BIGSERIAL PRIMARY KEY,
    execution_id      TEXT NOT NULL REFERENCES agent_executions (id) ON DELETE CASCADE,
    iteration         INTEGER NOT NULL,
    action_type       TEXT NOT NULL,
    success           BOOLEAN NOT NULL,
    parameters        JSONB,
    output            JSONB,
    error_message     TEXT NOT NULL DEFAULT '',
    duration_ms       BIGINT NOT NULL DEFAULT 0,
    spend             DOUBLE PRECISION NOT NULL DEFAULT 0,
    required_approval BOOLEAN NOT NULL DEFAULT FALSE,
    approval_id       TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL,
    UNIQUE (execution_id, iteration)
);

CREATE INDEX IF NOT EXISTS idx_agent_action_history_execution
    ON agent_action_history (execution_id, iteration);
`

// pgUniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const pgUniqueViolation = "23505"

const executionColumns = `id, agent_type, state, goal, config, current_iteration,
	requested_by, started_at, completed_at, outputs, error_message,
	total_spend, action_count, updated_at`

const actionColumns = `id, execution_id, iteration, action_type, success, parameters,
	output, error_message, duration_ms, spend, required_approval, approval_id, created_at`

// PostgresLedger is the production [Ledger] backed by PostgreSQL. Goal,
// config, and output payloads are stored as JSONB so their shapes can
// evolve without migrations.
//
// A PostgresLedger is safe for concurrent use by multiple goroutines.
type PostgresLedger struct {
	client *postgres.Client
	logger *slog.Logger
}

// Compile-time interface compliance check.
var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger creates a PostgresLedger over the given client. A nil
// logger falls back to [slog.Default].
func NewPostgresLedger(client *postgres.Client, logger *slog.Logger) *PostgresLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLedger{client: client, logger: logger}
}

// Migrate applies [Schema]. It is idempotent and safe to run at every
// service startup.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.client.Exec(ctx, Schema); err != nil {
		return tferr.Wrap(err, tferr.CodeInternalDatabase,
			"ledger: failed to apply schema")
	}
	l.logger.Info("ledger schema applied")
	return nil
}

// CreateExecution inserts a new execution record.
//
// Error codes returned:
//   - [tferr.CodeConflictAlreadyExists]: an execution with this ID exists
//   - [tferr.CodeInternalSerialization]: goal or config cannot be marshaled
//   - [tferr.CodeTimeoutDatabase] / [tferr.CodeInternalDatabase]: database failures
func (l *PostgresLedger) CreateExecution(ctx context.Context, exec *models.AgentExecution) error {
	if err := exec.Validate(); err != nil {
		return tferr.Wrap(err, tferr.CodeValidation,
			"ledger: invalid execution record")
	}

	goalJSON, configJSON, outputsJSON, err := marshalExecutionBlobs(exec)
	if err != nil {
		return err
	}

	_, err = l.client.Exec(ctx, `
		INSERT INTO agent_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		exec.ID, exec.AgentType, exec.State, goalJSON, configJSON,
		exec.CurrentIteration, exec.RequestedBy, exec.StartedAt,
		exec.CompletedAt, outputsJSON, exec.ErrorMessage,
		exec.TotalSpend, exec.ActionCount, exec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return tferr.Wrapf(err, tferr.CodeConflictAlreadyExists,
				"ledger: execution %s already exists", exec.ID)
		}
		return err
	}

	l.logger.Info("created execution",
		"execution_id", exec.ID,
		"agent_type", exec.AgentType,
		"goal_type", exec.Goal.GoalType,
	)
	return nil
}

// GetExecution retrieves an execution by ID.
//
// Error codes returned:
//   - [tferr.CodeNotFoundExecution]: no execution with this ID
//   - [tferr.CodeTimeoutDatabase] / [tferr.CodeInternalDatabase]: database failures
func (l *PostgresLedger) GetExecution(ctx context.Context, id string) (*models.AgentExecution, error) {
	row := l.client.QueryRow(ctx, `
		SELECT `+executionColumns+`
		FROM agent_executions
		WHERE id = $1`, id)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tferr.Newf(tferr.CodeNotFoundExecution,
				"ledger: execution %s not found", id)
		}
		return nil, err
	}
	return exec, nil
}

// UpdateExecution replaces the stored record for exec.ID.
//
// Error codes returned:
//   - [tferr.CodeNotFoundExecution]: no execution with this ID
//   - [tferr.CodeInternalSerialization]: payloads cannot be marshaled
//   - [tferr.CodeTimeoutDatabase] / [tferr.CodeInternalDatabase]: database failures
func (l *PostgresLedger) UpdateExecution(ctx context.Context, exec *models.AgentExecution) error {
	if err := exec.Validate(); err != nil {
		return tferr.Wrap(err, tferr.CodeValidation,
			"ledger: invalid execution record")
	}

	goalJSON, configJSON, outputsJSON, err := marshalExecutionBlobs(exec)
	if err != nil {
		return err
	}

	tag, err := l.client.Exec(ctx, `
		UPDATE agent_executions
		SET agent_type = $2, state = $3, goal = $4, config = $5,
		    current_iteration = $6, requested_by = $7, started_at = $8,
		    completed_at = $9, outputs = $10, error_message = $11,
		    total_spend = $12, action_count = $13, updated_at = $14
		WHERE id = $1`,
		exec.ID, exec.AgentType, exec.State, goalJSON, configJSON,
		exec.CurrentIteration, exec.RequestedBy, exec.StartedAt,
		exec.CompletedAt, outputsJSON, exec.ErrorMessage,
		exec.TotalSpend, exec.ActionCount, exec.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tferr.Newf(tferr.CodeNotFoundExecution,
			"ledger: execution %s not found", exec.ID)
	}
	return nil
}

// AppendAction inserts an action history row and returns a copy with the
// assigned row ID.
//
// Error codes returned:
//   - [tferr.CodeValidation]: the record fails validation
//   - [tferr.CodeConflictAlreadyExists]: a row for this iteration exists
//   - [tferr.CodeInternalSerialization]: payloads cannot be marshaled
//   - [tferr.CodeTimeoutDatabase] / [tferr.CodeInternalDatabase]: database failures
func (l *PostgresLedger) AppendAction(ctx context.Context, rec *models.ActionRecord) (*models.ActionRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, tferr.Wrap(err, tferr.CodeValidation,
			"ledger: invalid action record")
	}

	paramsJSON, err := marshalBlob(rec.Parameters)
	if err != nil {
		return nil, err
	}
	outputJSON, err := marshalBlob(rec.Output)
	if err != nil {
		return nil, err
	}

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	stored := *rec
	stored.CreatedAt = created

	scanErr := l.client.QueryRow(ctx, `
		INSERT INTO agent_action_history (execution_id, iteration, action_type,
			success, parameters, output, error_message, duration_ms, spend,
			required_approval, approval_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		rec.ExecutionID, rec.Iteration, rec.ActionType, rec.Success,
		paramsJSON, outputJSON, rec.ErrorMessage, rec.Duration.Milliseconds(),
		rec.Spend, rec.RequiredApproval, rec.ApprovalID, created,
	).Scan(&stored.ID)
	if scanErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(scanErr, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, tferr.Wrapf(scanErr, tferr.CodeConflictAlreadyExists,
				"ledger: action for execution %s iteration %d already recorded",
				rec.ExecutionID, rec.Iteration)
		}
		return nil, tferr.Wrap(scanErr, tferr.CodeInternalDatabase,
			"ledger: failed to append action")
	}

	l.logger.Debug("appended action",
		"execution_id", rec.ExecutionID,
		"iteration", rec.Iteration,
		"action_type", rec.ActionType,
		"success", rec.Success,
	)
	return &stored, nil
}

// ListActions returns the full action history for an execution in
// iteration order.
func (l *PostgresLedger) ListActions(ctx context.Context, executionID string) ([]models.ActionRecord, error) {
	rows, err := l.client.Query(ctx, `
		SELECT `+actionColumns+`
		FROM agent_action_history
		WHERE execution_id = $1
		ORDER BY iteration`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := make([]models.ActionRecord, 0)
	for rows.Next() {
		rec, scanErr := scanAction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		actions = append(actions, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, tferr.Wrap(err, tferr.CodeInternalDatabase,
			"ledger: failed to iterate action rows")
	}
	return actions, nil
}

// CountActions returns the number of action history rows for an execution.
func (l *PostgresLedger) CountActions(ctx context.Context, executionID string) (int, error) {
	var count int
	err := l.client.QueryRow(ctx, `
		SELECT COUNT(*) FROM agent_action_history WHERE execution_id = $1`,
		executionID,
	).Scan(&count)
	if err != nil {
		return 0, tferr.Wrap(err, tferr.CodeInternalDatabase,
			"ledger: failed to count actions")
	}
	return count, nil
}

// ListByState returns executions currently in the given state, most
// recently started first.
func (l *PostgresLedger) ListByState(ctx context.Context, state models.ExecutionState) ([]*models.AgentExecution, error) {
	rows, err := l.client.Query(ctx, `
		SELECT `+executionColumns+`
		FROM agent_executions
		WHERE state = $1
		ORDER BY started_at DESC`, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// ListByType returns up to limit executions of the given agent type, most
// recently started first.
func (l *PostgresLedger) ListByType(ctx context.Context, agentType models.AgentType, limit int) ([]*models.AgentExecution, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := l.client.Query(ctx, `
		SELECT `+executionColumns+`
		FROM agent_executions
		WHERE agent_type = $1
		ORDER BY started_at DESC
		LIMIT $2`, agentType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// ===========================================================================
// Row scanning
// ===========================================================================

// scanExecution scans one execution row, decoding the JSONB payloads.
func scanExecution(row pgx.Row) (*models.AgentExecution, error) {
	var (
		exec        models.AgentExecution
		goalJSON    []byte
		configJSON  []byte
		outputsJSON []byte
	)
	err := row.Scan(
		&exec.ID, &exec.AgentType, &exec.State, &goalJSON, &configJSON,
		&exec.CurrentIteration, &exec.RequestedBy, &exec.StartedAt,
		&exec.CompletedAt, &outputsJSON, &exec.ErrorMessage,
		&exec.TotalSpend, &exec.ActionCount, &exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(goalJSON, &exec.Goal); err != nil {
		return nil, tferr.Wrap(err, tferr.CodeInternalSerialization,
			"ledger: failed to decode goal payload")
	}
	if err := json.Unmarshal(configJSON, &exec.Config); err != nil {
		return nil, tferr.Wrap(err, tferr.CodeInternalSerialization,
			"ledger: failed to decode config payload")
	}
	if len(outputsJSON) > 0 {
		if err := json.Unmarshal(outputsJSON, &exec.Outputs); err != nil {
			return nil, tferr.Wrap(err, tferr.CodeInternalSerialization,
				"ledger: failed to decode outputs payload")
		}
	}
	return &exec, nil
}

// collectExecutions drains rows into execution records.
func collectExecutions(rows pgx.Rows) ([]*models.AgentExecution, error) {
	execs := make([]*models.AgentExecution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, tferr.Wrap(err, tferr.CodeInternalDatabase,
				"ledger: failed to scan execution row")
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, tferr.Wrap(err, tferr.CodeInternalDatabase,
			"ledger: failed to iterate execution rows")
	}
	return execs, nil
}

// scanAction scans one action history row, decoding the JSONB payloads.
func scanAction(row pgx.Row) (*models.ActionRecord, error) {
	var (
		rec        models.ActionRecord
		paramsJSON []byte
		outputJSON []byte
		durationMS int64
	)
	err := row.Scan(
		&rec.ID, &rec.ExecutionID, &rec.Iteration, &rec.ActionType,
		&rec.Success, &paramsJSON, &outputJSON, &rec.ErrorMessage,
		&durationMS, &rec.Spend, &rec.RequiredApproval, &rec.ApprovalID,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, tferr.Wrap(err, tferr.CodeInternalDatabase,
			"ledger: failed to scan action row")
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond

	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &rec.Parameters); err != nil {
			return nil, tferr.Wrap(err, tferr.CodeInternalSerialization,
				"ledger: failed to decode action parameters")
		}
	}
	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &rec.Output); err != nil {
			return nil, tferr.Wrap(err, tferr.CodeInternalSerialization,
				"ledger: failed to decode action output")
		}
	}
	return &rec, nil
}

// marshalExecutionBlobs serializes the goal, config, and outputs payloads.
func marshalExecutionBlobs(exec *models.AgentExecution) (goal, config, outputs []byte, err error) {
	goal, err = json.Marshal(exec.Goal)
	if err != nil {
		return nil, nil, nil, tferr.Wrap(err, tferr.CodeInternalSerialization,
			"ledger: failed to marshal goal payload")
	}
	config, err = json.Marshal(exec.Config)
	if err != nil {
		return nil, nil, nil, tferr.Wrap(err, tferr.CodeInternalSerialization,
			"ledger: failed to marshal config payload")
	}
	outputs, err = marshalBlob(exec.Outputs)
	if err != nil {
		return nil, nil, nil, err
	}
	return goal, config, outputs, nil
}

// marshalBlob serializes an optional map payload, mapping nil to SQL NULL.
func marshalBlob(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return nil, tferr.Wrap(err, tferr.CodeInternalSerialization,
			"ledger: failed to marshal payload")
	}
	return blob, nil
}
