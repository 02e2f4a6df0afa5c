package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/testforge/testforge-core/pkg/models"
)

// Tool tags exercised by the flaky-fixer strategy.
const (
	ActionFetchRunHistory   = "fetch-run-history"
	ActionDiagnoseFlakiness = "diagnose-flakiness"
	ActionApplyFix          = "apply-fix"
	ActionQuarantineTest    = "quarantine-test"
)

// FlakyFixer diagnoses a flaky test from its recent run history and
// remediates it without human involvement: when the diagnosis carries a
// patch the fix is applied, otherwise the test is quarantined so it
// stops blocking the suite. The remediation branch depends on the
// diagnosis output, so this strategy is hand-rolled rather than a
// [Pipeline] with a fixed step table. It never raises an approval gate.
//
// Goal parameters:
//   - test_id (required): the flaky test to remediate
//   - window (optional): how many recent runs to inspect
type FlakyFixer struct {
	maxRetries int
	logger     *slog.Logger
}

var _ Strategy = (*FlakyFixer)(nil)

// NewFlakyFixer builds the flaky-fixer strategy. A nil logger falls
// back to [slog.Default].
func NewFlakyFixer(logger *slog.Logger) *FlakyFixer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlakyFixer{maxRetries: DefaultMaxRetries, logger: logger}
}

// Type returns the agent type this strategy drives.
func (f *FlakyFixer) Type() models.AgentType {
	return models.AgentTypeFlakyFixer
}

// Decide walks fetch, diagnose, then the remediation the diagnosis
// calls for. Like [Pipeline.Decide] it derives progress purely from the
// history, so the decision survives suspensions and restarts.
func (f *FlakyFixer) Decide(_ context.Context, agentCtx *models.AgentContext) (*Decision, error) {
	testID := agentCtx.Goal.Parameters["test_id"]

	history := LastOutput(agentCtx, ActionFetchRunHistory)
	if history == nil {
		return f.step(agentCtx, ActionFetchRunHistory, map[string]any{
			"test_id": testID,
			"window":  agentCtx.Goal.Parameters["window"],
		})
	}

	diag := LastOutput(agentCtx, ActionDiagnoseFlakiness)
	if diag == nil {
		return f.step(agentCtx, ActionDiagnoseFlakiness, map[string]any{
			"test_id": testID,
			"runs":    history["runs"],
		})
	}

	remediation := ActionQuarantineTest
	params := map[string]any{"test_id": testID}
	if patch, ok := diag["patch"].(string); ok && patch != "" {
		remediation = ActionApplyFix
		params["patch"] = patch
	}

	if LastOutput(agentCtx, remediation) == nil {
		return f.step(agentCtx, remediation, params)
	}

	resolution := "quarantined"
	if remediation == ActionApplyFix {
		resolution = "fixed"
	}
	return &Decision{
		Kind: DecideComplete,
		Outputs: map[string]any{
			"resolution": resolution,
			"cause":      diag["cause"],
		},
	}, nil
}

// step returns an execute decision for the given action unless the
// action has exhausted its retry budget.
func (f *FlakyFixer) step(agentCtx *models.AgentContext, action string, params map[string]any) (*Decision, error) {
	if failures := trailingFailures(agentCtx, action); failures > 0 {
		if failures > f.maxRetries {
			last := agentCtx.LastAction()
			return &Decision{
				Kind: DecideFail,
				Reason: fmt.Sprintf("action %s failed %d times, giving up: %s",
					action, failures, last.ErrorMessage),
			}, nil
		}
		f.logger.Debug("retrying failed action",
			"agent_type", models.AgentTypeFlakyFixer,
			"action", action,
			"attempt", failures+1,
		)
	}
	return &Decision{
		Kind:       DecideExecute,
		ActionType: action,
		Parameters: params,
	}, nil
}
