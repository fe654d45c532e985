package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceTrackerCountsConnections(t *testing.T) {
	p := NewPresenceTracker()
	assert.Equal(t, 1, p.Increment(alice))
	assert.Equal(t, 2, p.Increment(alice))
	assert.Equal(t, 1, p.Increment(bob))
	assert.Equal(t, 2, p.ActiveCount())

	assert.Equal(t, 1, p.Decrement(alice.ID))
	assert.True(t, p.Online(alice.ID))
	assert.Equal(t, 0, p.Decrement(alice.ID))
	assert.False(t, p.Online(alice.ID))
	assert.Equal(t, 0, p.Decrement(alice.ID))
	assert.Equal(t, 1, p.ActiveCount())
}

func TestPresenceTrackerStatus(t *testing.T) {
	p := NewPresenceTracker()
	assert.Equal(t, StatusOffline, p.Status(alice.ID))
	assert.False(t, p.SetStatus(alice.ID, "away"))

	p.Increment(alice)
	assert.Equal(t, StatusOnline, p.Status(alice.ID))
	assert.True(t, p.SetStatus(alice.ID, "away"))
	assert.Equal(t, "away", p.Status(alice.ID))

	p.Decrement(alice.ID)
	p.Increment(alice)
	assert.Equal(t, StatusOnline, p.Status(alice.ID))
}

func TestPresenceSnapshotIsSortedByUsername(t *testing.T) {
	p := NewPresenceTracker()
	p.Increment(carol)
	p.Increment(alice)
	p.Increment(bob)
	p.Increment(bob)

	snap := p.Snapshot()
	names := make([]string, 0, len(snap))
	for _, u := range snap {
		names = append(names, u.User.Username)
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, names)
	assert.Equal(t, 2, snap[1].Connections)
}
