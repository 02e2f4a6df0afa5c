package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCode_String verifies that String returns the raw code value.
func TestCode_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "NF_003", CodeNotFoundTool.String())
	assert.Equal(t, "TIMEOUT_004", CodeTimeoutApproval.String())
}

// TestCode_Category verifies category extraction for every code family
// used by the engine.
func TestCode_Category(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code Code
		want string
	}{
		{"validation", CodeValidation, "VAL"},
		{"invalid parameters", CodeInvalidParameters, "VAL"},
		{"not found execution", CodeNotFoundExecution, "NF"},
		{"not found tool", CodeNotFoundTool, "NF"},
		{"not found context", CodeNotFoundContext, "NF"},
		{"conflict not waiting", CodeConflictNotWaiting, "CONF"},
		{"internal tool execution", CodeInternalToolExecution, "INT"},
		{"internal serialization", CodeInternalSerialization, "INT"},
		{"unavailable dependency", CodeUnavailableDependency, "UNAVAIL"},
		{"timeout approval", CodeTimeoutApproval, "TIMEOUT"},
		{"no underscore", Code("WEIRD"), "WEIRD"},
		{"empty", Code(""), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.code.Category())
		})
	}
}

// TestCode_Uniqueness verifies that no two declared codes share the same
// value. Codes are stable identifiers; a collision would corrupt error
// classification.
func TestCode_Uniqueness(t *testing.T) {
	t.Parallel()

	codes := []Code{
		CodeValidation, CodeValidationRequired, CodeValidationFormat,
		CodeInvalidParameters,
		CodeNotFound, CodeNotFoundExecution, CodeNotFoundTool,
		CodeNotFoundContext,
		CodeConflict, CodeConflictAlreadyExists, CodeConflictNotWaiting,
		CodeInternal, CodeInternalDatabase, CodeInternalConfiguration,
		CodeInternalToolExecution, CodeInternalSerialization,
		CodeUnavailable, CodeUnavailableDependency, CodeUnavailableOverloaded,
		CodeTimeout, CodeTimeoutDatabase, CodeTimeoutDependency,
		CodeTimeoutApproval,
	}

	seen := make(map[Code]bool, len(codes))
	for _, c := range codes {
		assert.False(t, seen[c], "duplicate code value %q", c)
		seen[c] = true
	}
}
