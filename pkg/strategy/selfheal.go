package strategy

import (
	"fmt"
	"log/slog"

	"github.com/testforge/testforge-core/pkg/models"
)

// Tool tags exercised by the self-healer pipeline.
const (
	ActionAnalyzeFailure = "analyze-failure"
	ActionGenerateFix    = "generate-fix"
	ActionCommitFix      = "commit-fix"
	ActionVerifyFix      = "verify-fix"
)

// NewSelfHealer builds the self-healer strategy. It analyzes a broken
// test run, generates a patch for the failing tests, commits it behind
// an approval gate, and re-runs the suite to verify the fix took.
//
// Goal parameters:
//   - run_id (required): the failed test run to heal
func NewSelfHealer(logger *slog.Logger) *Pipeline {
	steps := []Step{
		{
			Action: ActionAnalyzeFailure,
			Params: func(agentCtx *models.AgentContext) map[string]any {
				return map[string]any{
					"run_id": agentCtx.Goal.Parameters["run_id"],
				}
			},
		},
		{
			Action: ActionGenerateFix,
			Params: func(agentCtx *models.AgentContext) map[string]any {
				analysis := LastOutput(agentCtx, ActionAnalyzeFailure)
				return map[string]any{
					"run_id":    agentCtx.Goal.Parameters["run_id"],
					"diagnosis": analysis["diagnosis"],
				}
			},
		},
		{
			Action: ActionCommitFix,
			Gate: func(agentCtx *models.AgentContext) string {
				fix := LastOutput(agentCtx, ActionGenerateFix)
				return fmt.Sprintf("Commit patch repairing failed run %v: %v",
					agentCtx.Goal.Parameters["run_id"], fix["summary"])
			},
			Params: func(agentCtx *models.AgentContext) map[string]any {
				fix := LastOutput(agentCtx, ActionGenerateFix)
				return map[string]any{
					"patch": fix["patch"],
				}
			},
		},
		{
			Action: ActionVerifyFix,
			Params: func(agentCtx *models.AgentContext) map[string]any {
				return map[string]any{
					"run_id": agentCtx.Goal.Parameters["run_id"],
				}
			},
		},
	}

	outputs := func(agentCtx *models.AgentContext) map[string]any {
		analysis := LastOutput(agentCtx, ActionAnalyzeFailure)
		verify := LastOutput(agentCtx, ActionVerifyFix)
		return map[string]any{
			"diagnosis": analysis["diagnosis"],
			"verified":  verify["passed"],
		}
	}

	return NewPipeline(models.AgentTypeSelfHealer, steps, DefaultMaxRetries, outputs, logger)
}
