package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecLocks_TryAcquireIsExclusivePerTeam(t *testing.T) {
	locks := NewExecLocks()

	assert.True(t, locks.TryAcquire("team-1"), "first acquire for a team must succeed")
	assert.False(t, locks.TryAcquire("team-1"), "a second concurrent acquire for the same team must fail (backpressure)")
	assert.True(t, locks.TryAcquire("team-2"), "a different team's lock is independent")

	locks.Release("team-1")
	assert.True(t, locks.TryAcquire("team-1"), "releasing must allow a subsequent acquire")
}

func TestExecLocks_Held(t *testing.T) {
	locks := NewExecLocks()
	assert.False(t, locks.Held("team-1"))
	locks.TryAcquire("team-1")
	assert.True(t, locks.Held("team-1"))
	locks.Release("team-1")
	assert.False(t, locks.Held("team-1"))
}

func TestExecLocks_ReleaseOfUnheldLockIsNoop(t *testing.T) {
	locks := NewExecLocks()
	locks.Release("never-acquired")
	assert.True(t, locks.TryAcquire("never-acquired"))
}
