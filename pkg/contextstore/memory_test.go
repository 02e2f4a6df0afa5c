package contextstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testforge/testforge-core/internal/testutil"
	tferr "github.com/testforge/testforge-core/pkg/errors"
	"github.com/testforge/testforge-core/pkg/models"
)

// TestMemoryStore_SaveLoad_RoundTrip verifies that a saved context loads
// back with its history and spend intact.
func TestMemoryStore_SaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(time.Hour)
	agentCtx := newTestContext(t)
	agentCtx.RecordAction(models.ActionRecord{
		ExecutionID: agentCtx.ExecutionID,
		Iteration:   1,
		ActionType:  "fetch-story",
		Success:     true,
		Spend:       0.4,
	})

	require.NoError(t, store.Save(context.Background(), agentCtx))

	loaded, err := store.Load(context.Background(), agentCtx.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.CurrentIteration)
	assert.InDelta(t, 0.4, loaded.TotalSpend, 1e-9)
	assert.Len(t, loaded.History, 1)
}

// TestMemoryStore_Load_ReturnsCopy verifies that mutating a loaded
// context does not leak back into the store.
func TestMemoryStore_Load_ReturnsCopy(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(time.Hour)
	agentCtx := newTestContext(t)
	require.NoError(t, store.Save(context.Background(), agentCtx))

	first, err := store.Load(context.Background(), agentCtx.ExecutionID)
	require.NoError(t, err)
	first.WorkProducts["leak"] = "value"
	first.CurrentIteration = 99

	second, err := store.Load(context.Background(), agentCtx.ExecutionID)
	require.NoError(t, err)
	assert.NotContains(t, second.WorkProducts, "leak")
	assert.Equal(t, 0, second.CurrentIteration)
}

// TestMemoryStore_Load_Missing verifies the not-found contract for
// unknown execution IDs.
func TestMemoryStore_Load_Missing(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(time.Hour)

	_, err := store.Load(context.Background(), "exec-unknown")
	require.Error(t, err)
	assert.True(t, tferr.IsNotFound(err))
	testutil.AssertErrorCode(t, err, tferr.CodeNotFoundContext)
}

// TestMemoryStore_TTLExpiry verifies that contexts age out and that a
// fresh Save restarts the expiry clock.
func TestMemoryStore_TTLExpiry(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(time.Hour)
	now := time.Now()
	store.now = func() time.Time { return now }

	agentCtx := newTestContext(t)
	require.NoError(t, store.Save(context.Background(), agentCtx))

	// Still live just before expiry.
	now = now.Add(59 * time.Minute)
	_, err := store.Load(context.Background(), agentCtx.ExecutionID)
	require.NoError(t, err)

	// Saving again refreshes the TTL.
	require.NoError(t, store.Save(context.Background(), agentCtx))
	now = now.Add(59 * time.Minute)
	_, err = store.Load(context.Background(), agentCtx.ExecutionID)
	require.NoError(t, err)

	// Past expiry the context reads as not found.
	now = now.Add(2 * time.Minute)
	_, err = store.Load(context.Background(), agentCtx.ExecutionID)
	require.Error(t, err)
	assert.True(t, tferr.IsNotFound(err))

	exists, err := store.Exists(context.Background(), agentCtx.ExecutionID)
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestMemoryStore_ExistsAndClear verifies Exists before and after Clear,
// and that clearing a missing context is a no-op.
func TestMemoryStore_ExistsAndClear(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(time.Hour)
	agentCtx := newTestContext(t)
	require.NoError(t, store.Save(context.Background(), agentCtx))

	exists, err := store.Exists(context.Background(), agentCtx.ExecutionID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Clear(context.Background(), agentCtx.ExecutionID))

	exists, err = store.Exists(context.Background(), agentCtx.ExecutionID)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Clear(context.Background(), "exec-unknown"))
}

// TestMemoryStore_ConcurrentIsolation verifies that contexts saved by
// concurrent executions never bleed into each other.
func TestMemoryStore_ConcurrentIsolation(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(time.Hour)

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		agentCtx := newTestContext(t)
		agentCtx.Scratch["worker"] = fmt.Sprintf("worker-%d", i)
		ids[i] = agentCtx.ExecutionID

		wg.Add(1)
		go func(c *models.AgentContext) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := store.Save(context.Background(), c); err != nil {
					t.Error(err)
					return
				}
				if _, err := store.Load(context.Background(), c.ExecutionID); err != nil {
					t.Error(err)
					return
				}
			}
		}(agentCtx)
	}
	wg.Wait()

	for i, id := range ids {
		loaded, err := store.Load(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("worker-%d", i), loaded.Scratch["worker"])
	}
}
