package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/testforge/testforge-core/pkg/clients/redis"
	tferr "github.com/testforge/testforge-core/pkg/errors"
	"github.com/testforge/testforge-core/pkg/models"
)

// RedisStore is the production [Store] implementation. Each context is
// stored as a JSON blob under "agentctx:<execution-id>". Every Save
// rewrites the blob and refreshes the TTL, so the expiry clock restarts
// on each iteration of a live execution.
//
// A RedisStore is safe for concurrent use by multiple goroutines.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Compile-time interface compliance check.
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore backed by the given client. A ttl
// of zero or less selects [DefaultTTL]. A nil logger falls back to
// [slog.Default].
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Save serializes the context to JSON and writes it to Redis, refreshing
// the TTL.
//
// Error codes returned:
//   - [tferr.CodeInternalSerialization]: the context cannot be marshaled
//   - [tferr.CodeTimeoutDatabase] / [tferr.CodeInternalDatabase]: Redis failures
func (s *RedisStore) Save(ctx context.Context, agentCtx *models.AgentContext) error {
	if agentCtx == nil || agentCtx.ExecutionID == "" {
		return tferr.New(tferr.CodeValidation,
			"contextstore: context with execution ID is required")
	}

	payload, err := json.Marshal(agentCtx)
	if err != nil {
		return tferr.Wrap(err, tferr.CodeInternalSerialization,
			"contextstore: failed to marshal context")
	}

	if err := s.client.Set(ctx, Key(agentCtx.ExecutionID), payload, s.ttl); err != nil {
		return err
	}

	s.logger.Debug("saved execution context",
		"execution_id", agentCtx.ExecutionID,
		"iteration", agentCtx.CurrentIteration,
		"ttl", s.ttl,
	)
	return nil
}

// Load retrieves and deserializes the context for the given execution ID.
//
// Error codes returned:
//   - [tferr.CodeNotFoundContext]: no context exists or it has expired
//   - [tferr.CodeInternalSerialization]: the stored blob cannot be unmarshaled
//   - [tferr.CodeTimeoutDatabase] / [tferr.CodeInternalDatabase]: Redis failures
func (s *RedisStore) Load(ctx context.Context, executionID string) (*models.AgentContext, error) {
	raw, err := s.client.Get(ctx, Key(executionID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, tferr.Newf(tferr.CodeNotFoundContext,
				"contextstore: no context for execution %s", executionID)
		}
		return nil, err
	}

	var agentCtx models.AgentContext
	if err := json.Unmarshal([]byte(raw), &agentCtx); err != nil {
		return nil, tferr.Wrapf(err, tferr.CodeInternalSerialization,
			"contextstore: failed to unmarshal context for execution %s", executionID)
	}
	return &agentCtx, nil
}

// Exists reports whether a context is currently stored for the execution.
func (s *RedisStore) Exists(ctx context.Context, executionID string) (bool, error) {
	count, err := s.client.Exists(ctx, Key(executionID))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Clear removes the context. Deleting a missing key is a no-op in Redis,
// so clearing an already-expired context succeeds.
func (s *RedisStore) Clear(ctx context.Context, executionID string) error {
	if _, err := s.client.Del(ctx, Key(executionID)); err != nil {
		return err
	}
	s.logger.Debug("cleared execution context", "execution_id", executionID)
	return nil
}
