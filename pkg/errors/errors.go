// Package errors provides standardized error types and error handling
// utilities for the TestForge platform. It defines common error categories,
// error codes, and helper functions for creating, wrapping, and inspecting
// errors across the agent execution engine and its collaborators.
//
// # Error Categories
//
// The package defines several error categories that map to common failure
// scenarios in the engine:
//
//   - Validation errors: Invalid input, missing required fields, tool
//     parameters rejected by a tool's validator
//   - NotFound errors: Execution, tool, or execution context does not exist
//   - Conflict errors: Duplicate tool registration, resume of an execution
//     that is not waiting for approval
//   - Internal errors: Unexpected system failures, tool execution failures
//   - Unavailable errors: Dependency (Redis, PostgreSQL, object storage)
//     temporarily unavailable
//   - Timeout errors: Operation or approval wait exceeded its time limit
//
// # Error Codes
//
// Each error includes a machine-readable code (e.g., "NF_003") that can be
// used for error tracking, alerting, and client-side error handling. Error
// codes follow the pattern: CATEGORY_XXX where CATEGORY is a short
// identifier and XXX is a numeric code.
//
// # Usage
//
// Create a new error with context:
//
//	err := errors.New(errors.CodeNotFoundTool, "no tool registered for action type")
//
// Wrap an existing error:
//
//	err := errors.Wrap(err, errors.CodeInternalDatabase, "failed to append action record")
//
// Check error category:
//
//	if errors.IsNotFound(err) {
//	    // handle not found
//	}
//
// Extract error details for logging:
//
//	if e, ok := errors.AsError(err); ok {
//	    logger.Error("operation failed",
//	        "code", e.Code,
//	        "message", e.Message,
//	    )
//	}
package errors
