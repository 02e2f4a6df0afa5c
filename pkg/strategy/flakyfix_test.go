package strategy

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testforge/testforge-core/internal/testutil/fixtures"
	"github.com/testforge/testforge-core/pkg/models"
)

func newFlakyContext(t *testing.T) *models.AgentContext {
	t.Helper()
	return newTestContext(t, models.AgentTypeFlakyFixer, fixtures.GoalFixFlaky, map[string]any{
		"test_id": fixtures.FlakyTestID,
		"window":  20,
	})
}

func TestFlakyFixer_Decide_FetchesHistoryFirst(t *testing.T) {
	t.Parallel()

	f := NewFlakyFixer(slog.Default())
	agentCtx := newFlakyContext(t)

	decision, err := f.Decide(context.Background(), agentCtx)
	require.NoError(t, err)

	assert.Equal(t, DecideExecute, decision.Kind)
	assert.Equal(t, ActionFetchRunHistory, decision.ActionType)
	assert.Equal(t, fixtures.FlakyTestID, decision.Parameters["test_id"])
	assert.Equal(t, 20, decision.Parameters["window"])
}

func TestFlakyFixer_Decide_DiagnosesFromHistory(t *testing.T) {
	t.Parallel()

	f := NewFlakyFixer(slog.Default())
	agentCtx := newFlakyContext(t)
	recordSuccess(agentCtx, ActionFetchRunHistory, map[string]any{
		"runs": []any{"pass", "fail", "pass", "fail"},
	})

	decision, err := f.Decide(context.Background(), agentCtx)
	require.NoError(t, err)

	assert.Equal(t, DecideExecute, decision.Kind)
	assert.Equal(t, ActionDiagnoseFlakiness, decision.ActionType)
	assert.Equal(t, []any{"pass", "fail", "pass", "fail"}, decision.Parameters["runs"])
}

func TestFlakyFixer_Decide_AppliesFixWhenDiagnosisHasPatch(t *testing.T) {
	t.Parallel()

	f := NewFlakyFixer(slog.Default())
	agentCtx := newFlakyContext(t)
	recordSuccess(agentCtx, ActionFetchRunHistory, map[string]any{"runs": []any{"pass", "fail"}})
	recordSuccess(agentCtx, ActionDiagnoseFlakiness, map[string]any{
		"cause": "unordered map iteration",
		"patch": "sort keys before asserting",
	})

	decision, err := f.Decide(context.Background(), agentCtx)
	require.NoError(t, err)

	assert.Equal(t, DecideExecute, decision.Kind)
	assert.Equal(t, ActionApplyFix, decision.ActionType)
	assert.Equal(t, "sort keys before asserting", decision.Parameters["patch"])
}

func TestFlakyFixer_Decide_QuarantinesWhenNoPatch(t *testing.T) {
	t.Parallel()

	f := NewFlakyFixer(slog.Default())
	agentCtx := newFlakyContext(t)
	recordSuccess(agentCtx, ActionFetchRunHistory, map[string]any{"runs": []any{"pass", "fail"}})
	recordSuccess(agentCtx, ActionDiagnoseFlakiness, map[string]any{
		"cause": "shared test database contention",
	})

	decision, err := f.Decide(context.Background(), agentCtx)
	require.NoError(t, err)

	assert.Equal(t, DecideExecute, decision.Kind)
	assert.Equal(t, ActionQuarantineTest, decision.ActionType)
	assert.Equal(t, fixtures.FlakyTestID, decision.Parameters["test_id"])
}

func TestFlakyFixer_Decide_CompletesFixed(t *testing.T) {
	t.Parallel()

	f := NewFlakyFixer(slog.Default())
	agentCtx := newFlakyContext(t)
	recordSuccess(agentCtx, ActionFetchRunHistory, map[string]any{"runs": []any{"pass", "fail"}})
	recordSuccess(agentCtx, ActionDiagnoseFlakiness, map[string]any{
		"cause": "unordered map iteration",
		"patch": "sort keys before asserting",
	})
	recordSuccess(agentCtx, ActionApplyFix, map[string]any{"applied": true})

	decision, err := f.Decide(context.Background(), agentCtx)
	require.NoError(t, err)

	assert.Equal(t, DecideComplete, decision.Kind)
	assert.Equal(t, "fixed", decision.Outputs["resolution"])
	assert.Equal(t, "unordered map iteration", decision.Outputs["cause"])
}

func TestFlakyFixer_Decide_CompletesQuarantined(t *testing.T) {
	t.Parallel()

	f := NewFlakyFixer(slog.Default())
	agentCtx := newFlakyContext(t)
	recordSuccess(agentCtx, ActionFetchRunHistory, map[string]any{"runs": []any{"pass", "fail"}})
	recordSuccess(agentCtx, ActionDiagnoseFlakiness, map[string]any{
		"cause": "shared test database contention",
	})
	recordSuccess(agentCtx, ActionQuarantineTest, map[string]any{"quarantined": true})

	decision, err := f.Decide(context.Background(), agentCtx)
	require.NoError(t, err)

	assert.Equal(t, DecideComplete, decision.Kind)
	assert.Equal(t, "quarantined", decision.Outputs["resolution"])
}

func TestFlakyFixer_Decide_FailsAfterRetryBudget(t *testing.T) {
	t.Parallel()

	f := NewFlakyFixer(slog.Default())
	agentCtx := newFlakyContext(t)
	for range DefaultMaxRetries + 1 {
		recordFailure(agentCtx, ActionFetchRunHistory, "test-run store unavailable")
	}

	decision, err := f.Decide(context.Background(), agentCtx)
	require.NoError(t, err)

	assert.Equal(t, DecideFail, decision.Kind)
	assert.Contains(t, decision.Reason, ActionFetchRunHistory)
}
