//go:build integration

// Integration tests for the PostgreSQL-backed ledger. They apply the real
// schema to a disposable container and exercise the full CRUD surface,
// including the JSONB payload round trip and the iteration uniqueness
// constraint.
//
// Run locally with:
//
//	go test -v -race -tags=integration ./pkg/ledger/...
package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/testforge/testforge-core/internal/testutil/containers"
	"github.com/testforge/testforge-core/pkg/clients/postgres"
	tferr "github.com/testforge/testforge-core/pkg/errors"
	"github.com/testforge/testforge-core/pkg/ledger"
	"github.com/testforge/testforge-core/pkg/models"
)

type LedgerIntegrationSuite struct {
	suite.Suite

	ctx      context.Context
	pgResult *containers.PostgresResult
	client   *postgres.Client
	ledger   *ledger.PostgresLedger
}

func (s *LedgerIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartPostgres(s.ctx)
	require.NoError(s.T(), err, "failed to start Postgres container")
	s.pgResult = result

	cfg := postgres.Config{URI: result.ConnString, MaxConns: 5, MinConns: 1}
	require.NoError(s.T(), cfg.Validate())

	client, err := postgres.NewClient(s.ctx, cfg)
	require.NoError(s.T(), err, "failed to create Postgres client")
	s.client = client

	s.ledger = ledger.NewPostgresLedger(client, nil)
	require.NoError(s.T(), s.ledger.Migrate(s.ctx), "failed to apply schema")
}

func (s *LedgerIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
	if s.pgResult != nil {
		if err := s.pgResult.Container.Terminate(s.ctx); err != nil {
			s.T().Logf("failed to terminate postgres container: %v", err)
		}
	}
}

func TestLedgerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LedgerIntegrationSuite))
}

// newExecution builds a valid execution record.
func (s *LedgerIntegrationSuite) newExecution(agentType models.AgentType) *models.AgentExecution {
	goal, err := models.NewAgentGoal("generate-tests-for-story", "user-1", map[string]any{
		"story_key": "PROJ-42",
		"project":   "checkout",
	})
	require.NoError(s.T(), err)
	exec, err := models.NewAgentExecution(agentType, goal, models.DefaultAgentConfig())
	require.NoError(s.T(), err)
	return exec
}

// TestExecutionLifecycle exercises create, get, update, and terminal
// completion against the real schema.
func (s *LedgerIntegrationSuite) TestExecutionLifecycle() {
	exec := s.newExecution(models.AgentTypeTestGenerator)
	require.NoError(s.T(), s.ledger.CreateExecution(s.ctx, exec))

	// Creating the same ID again conflicts.
	err := s.ledger.CreateExecution(s.ctx, exec)
	require.Error(s.T(), err)
	assert.True(s.T(), tferr.HasCode(err, tferr.CodeConflictAlreadyExists))

	got, err := s.ledger.GetExecution(s.ctx, exec.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StateRunning, got.State)
	assert.Equal(s.T(), "PROJ-42", got.Goal.Parameters["story_key"])
	assert.Equal(s.T(), exec.Config.MaxIterations, got.Config.MaxIterations)
	assert.Nil(s.T(), got.CompletedAt)

	// Drive the record to a terminal state.
	got.CurrentIteration = 4
	got.ActionCount = 4
	got.TotalSpend = 1.2
	require.NoError(s.T(), got.MarkTerminal(models.StateSucceeded,
		map[string]any{"pull_request": "PR-17"}, ""))
	require.NoError(s.T(), s.ledger.UpdateExecution(s.ctx, got))

	final, err := s.ledger.GetExecution(s.ctx, exec.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StateSucceeded, final.State)
	assert.Equal(s.T(), "PR-17", final.Outputs["pull_request"])
	require.NotNil(s.T(), final.CompletedAt)
	assert.Equal(s.T(), 4, final.CurrentIteration)
}

// TestActionHistory verifies ordered append, listing, counting, and the
// iteration uniqueness constraint.
func (s *LedgerIntegrationSuite) TestActionHistory() {
	exec := s.newExecution(models.AgentTypeSelfHealer)
	require.NoError(s.T(), s.ledger.CreateExecution(s.ctx, exec))

	for i := 1; i <= 3; i++ {
		rec := &models.ActionRecord{
			ExecutionID: exec.ID,
			Iteration:   i,
			ActionType:  "analyze-failure",
			Success:     true,
			Parameters:  map[string]any{"run_id": i},
			Output:      map[string]any{"diagnosis": "selector drift"},
			Duration:    750 * time.Millisecond,
			Spend:       0.15,
		}
		stored, err := s.ledger.AppendAction(s.ctx, rec)
		require.NoError(s.T(), err)
		assert.NotZero(s.T(), stored.ID)
	}

	// The uniqueness constraint rejects a second row for iteration 2.
	_, err := s.ledger.AppendAction(s.ctx, &models.ActionRecord{
		ExecutionID: exec.ID,
		Iteration:   2,
		ActionType:  "analyze-failure",
		Success:     true,
	})
	require.Error(s.T(), err)
	assert.True(s.T(), tferr.HasCode(err, tferr.CodeConflictAlreadyExists))

	actions, err := s.ledger.ListActions(s.ctx, exec.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), actions, 3)
	assert.Equal(s.T(), "selector drift", actions[0].Output["diagnosis"])
	assert.Equal(s.T(), 750*time.Millisecond, actions[0].Duration)

	count, err := s.ledger.CountActions(s.ctx, exec.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 3, count)
}

// TestListFilters verifies the state and type listing queries.
func (s *LedgerIntegrationSuite) TestListFilters() {
	flaky := s.newExecution(models.AgentTypeFlakyFixer)
	require.NoError(s.T(), s.ledger.CreateExecution(s.ctx, flaky))

	byType, err := s.ledger.ListByType(s.ctx, models.AgentTypeFlakyFixer, 10)
	require.NoError(s.T(), err)
	require.NotEmpty(s.T(), byType)
	assert.Equal(s.T(), models.AgentTypeFlakyFixer, byType[0].AgentType)

	byState, err := s.ledger.ListByState(s.ctx, models.StateRunning)
	require.NoError(s.T(), err)
	found := false
	for _, e := range byState {
		if e.ID == flaky.ID {
			found = true
		}
	}
	assert.True(s.T(), found, "running list should include the new execution")
}

// TestGetExecution_NotFound verifies the not-found mapping against a real
// database.
func (s *LedgerIntegrationSuite) TestGetExecution_NotFound() {
	_, err := s.ledger.GetExecution(s.ctx, "00000000-0000-0000-0000-000000000000")
	require.Error(s.T(), err)
	assert.True(s.T(), tferr.HasCode(err, tferr.CodeNotFoundExecution))
}
