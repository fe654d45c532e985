package internal

import (
	"slices"
	"strings"
	"sync"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type presenceEntry struct {
	user        UserIdentity
	connections int
	status      string
}

// OnlineUser is a presence snapshot row.
type OnlineUser struct {
	User        UserIdentity
	Status      string
	Connections int
}

// PresenceTracker keeps counts of authenticated connections per user, so a user
// with several tabs open goes offline only when the last one closes.
type PresenceTracker struct {
	mu     sync.Mutex
	online map[int64]*presenceEntry
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[int64]*presenceEntry)}
}

// Increment records one more connection for user and returns the new count.
func (p *PresenceTracker) Increment(user UserIdentity) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.online[user.ID]
	if !ok {
		entry = &presenceEntry{user: user, status: StatusOnline}
		p.online[user.ID] = entry
	}
	entry.connections++
	return entry.connections
}

// Decrement records one fewer connection and returns the remaining count.
func (p *PresenceTracker) Decrement(userID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.online[userID]
	if !ok {
		return 0
	}
	if entry.connections <= 1 {
		delete(p.online, userID)
		return 0
	}
	entry.connections--
	return entry.connections
}

// SetStatus stores a user-chosen status for an online user.
func (p *PresenceTracker) SetStatus(userID int64, status string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.online[userID]
	if !ok {
		return false
	}
	entry.status = status
	return true
}

func (p *PresenceTracker) Online(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[userID]
	return ok
}

// Status returns the last status of userID, or offline.
func (p *PresenceTracker) Status(userID int64) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.online[userID]; ok {
		return entry.status
	}
	return StatusOffline
}

func (p *PresenceTracker) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online)
}

// Snapshot lists online users ordered by username.
func (p *PresenceTracker) Snapshot() []OnlineUser {
	p.mu.Lock()
	users := make([]OnlineUser, 0, len(p.online))
	for _, entry := range p.online {
		users = append(users, OnlineUser{User: entry.user, Status: entry.status, Connections: entry.connections})
	}
	p.mu.Unlock()
	slices.SortFunc(users, func(a, b OnlineUser) int {
		return strings.Compare(a.User.Username, b.User.Username)
	})
	return users
}
