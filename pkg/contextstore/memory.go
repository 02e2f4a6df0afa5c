package contextstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	tferr "github.com/testforge/testforge-core/pkg/errors"
	"github.com/testforge/testforge-core/pkg/models"
)

// MemoryStore is an in-process [Store] for tests and local development.
// It mirrors the RedisStore contract, including TTL expiry and JSON
// round-tripping, so code exercised against it behaves the same way
// against Redis. Contexts are stored serialized; Load always returns a
// fresh copy, never a pointer shared with a previous Save.
type MemoryStore struct {
	mu  sync.RWMutex
	ttl time.Duration
	// now is swappable in tests to simulate expiry without sleeping.
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Compile-time interface compliance check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore. A ttl of zero or less selects
// [DefaultTTL].
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Save serializes the context and stores it, refreshing the expiry.
func (s *MemoryStore) Save(_ context.Context, agentCtx *models.AgentContext) error {
	if agentCtx == nil || agentCtx.ExecutionID == "" {
		return tferr.New(tferr.CodeValidation,
			"contextstore: context with execution ID is required")
	}

	payload, err := json.Marshal(agentCtx)
	if err != nil {
		return tferr.Wrap(err, tferr.CodeInternalSerialization,
			"contextstore: failed to marshal context")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[agentCtx.ExecutionID] = memoryEntry{
		payload:   payload,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// Load returns a copy of the stored context, or a not-found error when
// the context is missing or expired.
func (s *MemoryStore) Load(_ context.Context, executionID string) (*models.AgentContext, error) {
	s.mu.RLock()
	entry, ok := s.entries[executionID]
	s.mu.RUnlock()

	if !ok || s.now().After(entry.expiresAt) {
		return nil, tferr.Newf(tferr.CodeNotFoundContext,
			"contextstore: no context for execution %s", executionID)
	}

	var agentCtx models.AgentContext
	if err := json.Unmarshal(entry.payload, &agentCtx); err != nil {
		return nil, tferr.Wrapf(err, tferr.CodeInternalSerialization,
			"contextstore: failed to unmarshal context for execution %s", executionID)
	}
	return &agentCtx, nil
}

// Exists reports whether a live (non-expired) context is stored.
func (s *MemoryStore) Exists(_ context.Context, executionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[executionID]
	return ok && !s.now().After(entry.expiresAt), nil
}

// Clear removes the context. Clearing a missing context is a no-op.
func (s *MemoryStore) Clear(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, executionID)
	return nil
}
