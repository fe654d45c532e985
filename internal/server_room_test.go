package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertSymmetric checks that the forward and reverse indexes agree.
func assertSymmetric(t *testing.T, ri *RoomIndex) {
	t.Helper()
	for room, members := range ri.members {
		require.NotEmpty(t, members, "room %q kept with no members", room)
		for id := range members {
			assert.Contains(t, ri.memberships[id], room)
		}
	}
	for id, rooms := range ri.memberships {
		require.NotEmpty(t, rooms, "conn %d kept with no rooms", id)
		for room := range rooms {
			assert.Contains(t, ri.members[room], id)
		}
	}
}

func TestRoomIndexJoinIsIdempotent(t *testing.T) {
	ri := NewRoomIndex()
	members, added := ri.Join(1, "lobby")
	assert.True(t, added)
	assert.Equal(t, []ConnID{1}, members)

	members, added = ri.Join(1, "lobby")
	assert.False(t, added)
	assert.Equal(t, []ConnID{1}, members)

	members, _ = ri.Join(2, "lobby")
	assert.Equal(t, []ConnID{1, 2}, members)
	assertSymmetric(t, ri)
}

func TestRoomIndexLeaveDropsEmptyRooms(t *testing.T) {
	ri := NewRoomIndex()
	ri.Join(1, "lobby")
	ri.Join(2, "lobby")

	remaining, removed := ri.Leave(1, "lobby")
	assert.True(t, removed)
	assert.Equal(t, []ConnID{2}, remaining)

	_, removed = ri.Leave(1, "lobby")
	assert.False(t, removed)

	_, removed = ri.Leave(2, "lobby")
	assert.True(t, removed)
	assert.False(t, ri.Exists("lobby"))
	assert.Zero(t, ri.Len())
	assertSymmetric(t, ri)
}

func TestRoomIndexLeaveUnknownRoom(t *testing.T) {
	ri := NewRoomIndex()
	remaining, removed := ri.Leave(1, "nowhere")
	assert.False(t, removed)
	assert.Nil(t, remaining)
}

func TestRoomIndexPurge(t *testing.T) {
	ri := NewRoomIndex()
	ri.Join(1, "r1")
	ri.Join(1, "r2")
	ri.Join(2, "r2")

	purged := ri.Purge(1)
	assert.Equal(t, []PurgedRoom{
		{Room: "r1", Remaining: nil},
		{Room: "r2", Remaining: []ConnID{2}},
	}, purged)

	assert.False(t, ri.Exists("r1"))
	assert.Equal(t, []ConnID{2}, ri.Members("r2"))
	assert.Empty(t, ri.RoomsOf(1))
	assert.False(t, ri.IsMember(1, "r2"))
	assert.Nil(t, ri.Purge(1))
	assertSymmetric(t, ri)
}

func TestRoomIndexSymmetryAfterMixedOperations(t *testing.T) {
	ri := NewRoomIndex()
	ops := []struct {
		join bool
		id   ConnID
		room string
	}{
		{true, 1, "a"}, {true, 2, "a"}, {true, 1, "b"}, {false, 2, "a"},
		{true, 3, "c"}, {false, 1, "a"}, {true, 2, "b"}, {false, 3, "c"},
		{true, 3, "a"}, {false, 1, "b"},
	}
	for _, op := range ops {
		if op.join {
			ri.Join(op.id, op.room)
		} else {
			ri.Leave(op.id, op.room)
		}
		assertSymmetric(t, ri)
	}
	assert.Equal(t, []string{"b"}, ri.RoomsOf(2))
	assert.Equal(t, []string{"a"}, ri.RoomsOf(3))
	assert.Equal(t, 2, ri.Len())
}
