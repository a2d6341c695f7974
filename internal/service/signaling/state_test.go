package signaling

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_BeginPendingIsExclusive(t *testing.T) {
	s := NewState()
	now := time.Now()

	require.NoError(t, s.BeginPending("alice", "bob", "voice", now))
	assert.ErrorIs(t, s.BeginPending("carol", "bob", "voice", now), ErrBusy)
	assert.ErrorIs(t, s.BeginPending("bob", "dave", "voice", now), ErrBusy)
	assert.ErrorIs(t, s.BeginPending("alice", "dave", "voice", now), ErrBusy)
	assert.Equal(t, 2, s.Len())
}

func TestState_ConcurrentOffersOneWins(t *testing.T) {
	s := NewState()
	now := time.Now()
	callers := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, caller := range callers {
		wg.Add(1)
		go func(caller string) {
			defer wg.Done()
			if s.BeginPending(caller, "bob", "voice", now) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(caller)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, PhasePendingCallee, s.Phase("bob"))
}

func TestState_ClearPendingEitherDirection(t *testing.T) {
	s := NewState()
	now := time.Now()

	require.NoError(t, s.BeginPending("alice", "bob", "voice", now))
	_, ok := s.ClearPending("alice", "carol")
	assert.False(t, ok)

	session, ok := s.ClearPending("bob", "alice")
	require.True(t, ok)
	assert.Equal(t, "alice", session.Caller)
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.BeginPending("alice", "bob", "voice", now))
	_, ok = s.ClearPending("alice", "bob")
	assert.True(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestState_EndRemovesBothSides(t *testing.T) {
	s := NewState()
	now := time.Now()
	require.NoError(t, s.BeginPending("alice", "bob", "video", now))
	_, ok := s.Promote("alice", "bob", now)
	require.True(t, ok)

	session, ok := s.End("bob")
	require.True(t, ok)
	assert.True(t, session.Active)
	assert.Equal(t, PhaseIdle, s.Phase("alice"))
	assert.Equal(t, PhaseIdle, s.Phase("bob"))

	_, ok = s.End("bob")
	assert.False(t, ok)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "pending_caller", PhasePendingCaller.String())
	assert.Equal(t, "pending_callee", PhasePendingCallee.String())
	assert.Equal(t, "active", PhaseActive.String())
}
