package strategy

import (
	"fmt"
	"log/slog"

	"github.com/testforge/testforge-core/pkg/models"
)

// Tool tags exercised by the test-generator pipeline.
const (
	ActionFetchStory        = "fetch-story"
	ActionGenerateTests     = "generate-tests"
	ActionWriteTestFile     = "write-test-file"
	ActionCreateBranch      = "create-branch"
	ActionCommitChanges     = "commit-changes"
	ActionCreatePullRequest = "create-pull-request"
)

// NewTestGenerator builds the test-generator strategy. It fetches an
// issue-tracker story, generates test cases for its acceptance criteria,
// writes them to the workspace, and publishes them as a pull request.
// Everything up to the workspace write is read-only; the version-control
// steps (branch, commit, pull request) run only after a reviewer
// approves the generated tests.
//
// Goal parameters:
//   - story_key (required): the issue-tracker key of the story
//   - project (optional): the target project repository
func NewTestGenerator(logger *slog.Logger) *Pipeline {
	steps := []Step{
		{
			Action: ActionFetchStory,
			Params: func(agentCtx *models.AgentContext) map[string]any {
				return map[string]any{
					"story_key": agentCtx.Goal.Parameters["story_key"],
					"project":   agentCtx.Goal.Parameters["project"],
				}
			},
		},
		{
			Action: ActionGenerateTests,
			Params: func(agentCtx *models.AgentContext) map[string]any {
				story := LastOutput(agentCtx, ActionFetchStory)
				return map[string]any{
					"story_key":           agentCtx.Goal.Parameters["story_key"],
					"title":               story["title"],
					"acceptance_criteria": story["acceptance_criteria"],
				}
			},
		},
		{
			Action: ActionWriteTestFile,
			Params: func(agentCtx *models.AgentContext) map[string]any {
				generated := LastOutput(agentCtx, ActionGenerateTests)
				return map[string]any{
					"test_file": generated["test_file"],
					"test_code": generated["test_code"],
				}
			},
		},
		{
			Action: ActionCreateBranch,
			Gate: func(agentCtx *models.AgentContext) string {
				generated := LastOutput(agentCtx, ActionGenerateTests)
				return fmt.Sprintf(
					"Publish generated tests for story %v (file %v) as a pull request",
					agentCtx.Goal.Parameters["story_key"], generated["test_file"])
			},
			Params: func(agentCtx *models.AgentContext) map[string]any {
				return map[string]any{
					"story_key": agentCtx.Goal.Parameters["story_key"],
					"project":   agentCtx.Goal.Parameters["project"],
				}
			},
		},
		{
			Action: ActionCommitChanges,
			Params: func(agentCtx *models.AgentContext) map[string]any {
				branch := LastOutput(agentCtx, ActionCreateBranch)
				written := LastOutput(agentCtx, ActionWriteTestFile)
				return map[string]any{
					"branch":  branch["branch"],
					"path":    written["path"],
					"message": fmt.Sprintf("Add generated tests for %v", agentCtx.Goal.Parameters["story_key"]),
				}
			},
		},
		{
			Action: ActionCreatePullRequest,
			Params: func(agentCtx *models.AgentContext) map[string]any {
				branch := LastOutput(agentCtx, ActionCreateBranch)
				story := LastOutput(agentCtx, ActionFetchStory)
				return map[string]any{
					"branch":  branch["branch"],
					"project": agentCtx.Goal.Parameters["project"],
					"title":   fmt.Sprintf("Generated tests: %v", story["title"]),
				}
			},
		},
	}

	outputs := func(agentCtx *models.AgentContext) map[string]any {
		pr := LastOutput(agentCtx, ActionCreatePullRequest)
		generated := LastOutput(agentCtx, ActionGenerateTests)
		return map[string]any{
			"pull_request": pr["pull_request"],
			"test_file":    generated["test_file"],
		}
	}

	return NewPipeline(models.AgentTypeTestGenerator, steps, DefaultMaxRetries, outputs, logger)
}
