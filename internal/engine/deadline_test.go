package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pung-project/pung/internal/pir/directpir"
)

// TestSweepDeadlineForcesStuckSendingRoundClosed verifies a client that
// registered but never sent doesn't hold the round open forever once
// the configured phase deadline has passed.
func TestSweepDeadlineForcesStuckSendingRoundClosed(t *testing.T) {
	cfg := testConfig()
	cfg.PhaseDeadline = time.Millisecond

	e, err := New(cfg, directpir.Backend{}, nil)
	require.NoError(t, err)

	id, err := e.Register(3)
	require.NoError(t, err)
	_, err = e.Sync(id)
	require.NoError(t, err)
	require.Equal(t, Sending, e.phase)

	e.mu.Lock()
	e.phaseStarted = time.Now().Add(-time.Hour)
	e.mu.Unlock()

	e.sweepDeadline()

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Equal(t, uint64(0), e.clients[id].sendRemaining)
}

// TestSweepDeadlineIsNoopBeforeDeadline leaves a fresh round untouched
// when the deadline hasn't elapsed yet.
func TestSweepDeadlineIsNoopBeforeDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.PhaseDeadline = time.Hour

	e, err := New(cfg, directpir.Backend{}, nil)
	require.NoError(t, err)

	id, err := e.Register(3)
	require.NoError(t, err)
	_, err = e.Sync(id)
	require.NoError(t, err)

	e.sweepDeadline()

	assert.Equal(t, Sending, e.phase)
	assert.Equal(t, uint64(3), e.clients[id].sendRemaining)
}

// TestSweepDeadlineDisabledByDefault confirms a zero PhaseDeadline
// (spec.md's base no-timeout semantics) never force-closes anything.
func TestSweepDeadlineDisabledByDefault(t *testing.T) {
	cfg := testConfig()
	e, err := New(cfg, directpir.Backend{}, nil)
	require.NoError(t, err)

	id, err := e.Register(3)
	require.NoError(t, err)
	_, err = e.Sync(id)
	require.NoError(t, err)

	e.mu.Lock()
	e.phaseStarted = time.Now().Add(-24 * time.Hour)
	e.mu.Unlock()

	e.sweepDeadline()

	assert.Equal(t, uint64(3), e.clients[id].sendRemaining)
}
