// Package contextstore persists agent execution contexts between loop
// iterations. The context is the agent's working memory: the goal, the
// action history, accumulated work products, and scratch state. It is
// written after every iteration so that a suspended or recovered execution
// can resume exactly where it left off.
//
// The production implementation, [RedisStore], keeps each context as a
// single JSON blob in Redis under the key "agentctx:<execution-id>" with a
// TTL that is refreshed on every save. Contexts of finished executions are
// cleared explicitly; abandoned ones age out via the TTL. [MemoryStore]
// provides the same contract in-process for tests and local development.
package contextstore

import (
	"context"
	"time"

	"github.com/testforge/testforge-core/pkg/models"
)

// DefaultTTL is the context lifetime applied when no TTL is configured.
// It matches the default approval timeout so that a context survives at
// least as long as the longest default suspension.
const DefaultTTL = 24 * time.Hour

// keyPrefix namespaces context keys in Redis.
const keyPrefix = "agentctx:"

// Store persists agent execution contexts keyed by execution ID.
//
// Implementations must be safe for concurrent use. Contexts for different
// executions are fully independent: saving one must never affect another.
type Store interface {
	// Save serializes and persists the context, replacing any previous
	// version and refreshing its expiry.
	Save(ctx context.Context, agentCtx *models.AgentContext) error

	// Load retrieves the context for the given execution ID. Returns a
	// not-found error (code NF_004) when no context exists or it has
	// expired.
	Load(ctx context.Context, executionID string) (*models.AgentContext, error)

	// Exists reports whether a context is currently stored for the given
	// execution ID.
	Exists(ctx context.Context, executionID string) (bool, error)

	// Clear removes the context for the given execution ID. Clearing a
	// missing context is not an error.
	Clear(ctx context.Context, executionID string) error
}

// Key returns the storage key for an execution's context.
func Key(executionID string) string {
	return keyPrefix + executionID
}
