package internal

import (
	"slices"
)

// RoomIndex maps room names to member connections and each connection back to
// its rooms. It is not safe for concurrent use; the hub guards it with its lock.
type RoomIndex struct {
	members     map[string]map[ConnID]struct{}
	memberships map[ConnID]map[string]struct{}
}

// PurgedRoom is a room a purged connection left, with the members still in it.
type PurgedRoom struct {
	Room      string
	Remaining []ConnID
}

func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		members:     make(map[string]map[ConnID]struct{}),
		memberships: make(map[ConnID]map[string]struct{}),
	}
}

// Join adds id to room. added is false if id was already a member.
func (ri *RoomIndex) Join(id ConnID, room string) (members []ConnID, added bool) {
	set, ok := ri.members[room]
	if !ok {
		set = make(map[ConnID]struct{})
		ri.members[room] = set
	}
	if _, exists := set[id]; !exists {
		set[id] = struct{}{}
		rooms, ok := ri.memberships[id]
		if !ok {
			rooms = make(map[string]struct{})
			ri.memberships[id] = rooms
		}
		rooms[room] = struct{}{}
		added = true
	}
	return sortedIDs(set), added
}

// Leave removes id from room and drops the room once it is empty.
func (ri *RoomIndex) Leave(id ConnID, room string) (remaining []ConnID, removed bool) {
	set, ok := ri.members[room]
	if !ok {
		return nil, false
	}
	if _, exists := set[id]; !exists {
		return sortedIDs(set), false
	}
	ri.unlink(id, room)
	return sortedIDs(ri.members[room]), true
}

// Purge removes id from every room it belongs to.
func (ri *RoomIndex) Purge(id ConnID) []PurgedRoom {
	rooms, ok := ri.memberships[id]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(rooms))
	for room := range rooms {
		names = append(names, room)
	}
	slices.Sort(names)
	purged := make([]PurgedRoom, 0, len(names))
	for _, room := range names {
		ri.unlink(id, room)
		purged = append(purged, PurgedRoom{Room: room, Remaining: sortedIDs(ri.members[room])})
	}
	return purged
}

func (ri *RoomIndex) unlink(id ConnID, room string) {
	if set, ok := ri.members[room]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(ri.members, room)
		}
	}
	if rooms, ok := ri.memberships[id]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(ri.memberships, id)
		}
	}
}

func (ri *RoomIndex) Members(room string) []ConnID {
	return sortedIDs(ri.members[room])
}

func (ri *RoomIndex) RoomsOf(id ConnID) []string {
	rooms := make([]string, 0, len(ri.memberships[id]))
	for room := range ri.memberships[id] {
		rooms = append(rooms, room)
	}
	slices.Sort(rooms)
	return rooms
}

func (ri *RoomIndex) IsMember(id ConnID, room string) bool {
	_, ok := ri.members[room][id]
	return ok
}

func (ri *RoomIndex) Exists(room string) bool {
	_, ok := ri.members[room]
	return ok
}

// Len is the number of non-empty rooms.
func (ri *RoomIndex) Len() int {
	return len(ri.members)
}

func sortedIDs(set map[ConnID]struct{}) []ConnID {
	if len(set) == 0 {
		return nil
	}
	ids := make([]ConnID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
