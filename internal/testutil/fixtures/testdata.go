// Package fixtures provides shared test data constants for the TestForge
// agent execution engine test suite.
//
// Using common constants for goals, stories, and reviewers prevents
// magic strings in tests and keeps executions built in different
// packages comparable.
package fixtures

// Standard goal values used across strategy, engine, and orchestrator tests.
const (
	// GoalGenerateTests is the default test-generator goal type.
	GoalGenerateTests = "generate-tests-for-story"

	// GoalHealRun is the default self-healer goal type.
	GoalHealRun = "heal-failed-run"

	// GoalFixFlaky is the default flaky-fixer goal type.
	GoalFixFlaky = "fix-flaky-test"

	// RequestedBy is the default initiating principal.
	RequestedBy = "qa-lead"

	// Reviewer is the default approval reviewer identity.
	Reviewer = "qa-lead"
)

// Standard domain identifiers used in goal parameters.
const (
	// StoryKey is the default issue-tracker story key.
	StoryKey = "PROJ-42"

	// Project is the default target project repository.
	Project = "checkout-service"

	// RunID is the default failed test run identifier.
	RunID = "run-301"

	// FlakyTestID is the default flaky test identifier.
	FlakyTestID = "checkout_discount_test"
)

// Standard configuration values used in config loader tests.
const (
	// TestEnvPrefix is the default environment variable prefix for config tests.
	TestEnvPrefix = "TESTAPP"

	// TestConfigYAML is a minimal valid YAML configuration for tests.
	TestConfigYAML = `host: localhost
port: 8080
database: testdb
`

	// TestConfigJSON is a minimal valid JSON configuration for tests.
	TestConfigJSON = `{
  "host": "localhost",
  "port": 8080,
  "database": "testdb"
}`
)
