// Package tool provides the tool registry for the TestForge agent
// execution engine.
//
// A tool is one registered, named action implementation: fetch a story
// from the issue tracker, generate test cases via the AI collaborator,
// commit to version control. Agent strategies never invoke collaborators
// directly; every side effect goes through a registered tool so that
// parameter validation, tracing, duration measurement, and spend
// attribution happen in exactly one place.
//
// The registry is deliberately thin: lookup, validate, execute. Retry
// and scheduling policy belong to the strategies, not here.
package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Tool is a single executable action, registered in a [Registry] under
// its type tag and invoked with a validated parameter map.
//
// Implementations must be stateless and safe for concurrent use: one
// tool instance serves every execution that invokes its tag.
type Tool interface {
	// Type returns the action-type tag the tool is registered under
	// (e.g. "fetch-story", "create-pull-request").
	Type() string

	// Name returns the human-readable tool name.
	Name() string

	// Description returns a short human-readable description of what
	// the tool does, consumed by operators and AI prompts.
	Description() string

	// Schema returns the parameter schema as a map of parameter name to
	// type description (e.g. "story_key" -> "string, required").
	Schema() map[string]string

	// ValidateParams checks the parameter map against the tool's own
	// requirements. A non-nil error means the tool must not be executed.
	ValidateParams(params map[string]any) error

	// Execute runs the tool with the given parameters and returns its
	// result. The registry measures duration; the tool reports its own
	// attributed spend.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the raw outcome of one tool invocation: the output payload
// plus the AI spend the tool attributes to it. Tools with no AI cost
// report zero spend.
type Result struct {
	// Output is the tool's result payload, returned verbatim to the
	// caller and recorded in action history.
	Output map[string]any

	// Spend is the AI spend attributed to this invocation.
	Spend float64
}

// Catalog renders a human-readable listing of the given tools: type tag,
// name, description, and parameter schema, one block per tool, sorted by
// type tag. Used to build operator listings and AI prompt sections.
func Catalog(tools []Tool) string {
	sorted := make([]Tool, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Type() < sorted[j].Type() })

	var b strings.Builder
	for i, t := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s\n", t.Type(), t.Name())
		fmt.Fprintf(&b, "  %s\n", t.Description())

		schema := t.Schema()
		if len(schema) == 0 {
			continue
		}
		params := make([]string, 0, len(schema))
		for name := range schema {
			params = append(params, name)
		}
		sort.Strings(params)
		for _, name := range params {
			fmt.Fprintf(&b, "  - %s: %s\n", name, schema[name])
		}
	}
	return b.String()
}
