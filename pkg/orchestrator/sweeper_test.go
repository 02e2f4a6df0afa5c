package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testforge/testforge-core/pkg/lifecycle"
	"github.com/testforge/testforge-core/pkg/models"
)

// === Approval sweeper worker ===

func TestApprovalSweeper_TimesOutExpiredGates(t *testing.T) {
	t.Parallel()

	h := newGatedHarness(t)
	cfg := testConfig()
	cfg.ApprovalTimeout = 20 * time.Millisecond

	exec, _ := suspendExecution(t, h, cfg)

	sweeper, err := NewApprovalSweeper(h.orch, 10*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, sweeper.Start(context.Background()))
	defer sweeper.Stop(context.Background())

	final := h.waitForState(t, exec.ID, models.StateTimeout)
	assert.NotNil(t, final.CompletedAt)

	// The sweeper publishes the timed-out result like any other terminal.
	require.Eventually(t, func() bool {
		return h.publisher.count() == 1
	}, waitFor, tick)
	assert.Equal(t, models.StateTimeout, h.publisher.last().State)
}

func TestApprovalSweeper_LifecycleRoundTrip(t *testing.T) {
	t.Parallel()

	h := newGatedHarness(t)
	sweeper, err := NewApprovalSweeper(h.orch, time.Millisecond, nil)
	require.NoError(t, err)

	assert.Equal(t, "approval-sweeper", sweeper.Name())
	require.NoError(t, sweeper.Start(context.Background()))
	assert.Equal(t, lifecycle.StateRunning, sweeper.State())
	require.NoError(t, sweeper.Health(context.Background()))

	require.NoError(t, sweeper.Stop(context.Background()))
	assert.Equal(t, lifecycle.StateStopped, sweeper.State())
}

func TestApprovalSweeper_DefaultInterval(t *testing.T) {
	t.Parallel()

	h := newGatedHarness(t)
	sweeper, err := NewApprovalSweeper(h.orch, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, sweeper)
}
