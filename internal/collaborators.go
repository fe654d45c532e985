package internal

import (
	"context"
	"time"


	"boardlive/internal/storage"
	"boardlive/internal/wire"
)

// UserIdentity is the forum user bound to an authenticated connection.
type UserIdentity struct {
	ID       int64
	Username string
	Avatar   string
}

func (u UserIdentity) wire() wire.User {
	return wire.User{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// AuthStore resolves opaque session tokens. A nil identity with a nil error
// means the token is unknown or expired.
type AuthStore interface {
	ValidateToken(ctx context.Context, token string) (*UserIdentity, error)
}

// UserDirectory looks users up by id.
type UserDirectory interface {
	LookupByID(ctx context.Context, id int64) (*UserIdentity, error)
}

// ChatArchive persists chat-room messages under the id they were broadcast
// with. Archives reports whether a room is a persisted chat room at all.
type ChatArchive interface {
	Append(ctx context.Context, job ArchiveJob) error
	Archives(room string) bool
}

// StoreCollaborators exposes the SQLite store through the collaborator
// interfaces.
type StoreCollaborators struct {
	store *storage.Store
	now   func() time.Time
}

func NewStoreCollaborators(store *storage.Store) *StoreCollaborators {
	return &StoreCollaborators{store: store, now: time.Now}
}

func (c *StoreCollaborators) ValidateToken(ctx context.Context, token string) (*UserIdentity, error) {
	user, err := c.store.UserForToken(ctx, token, c.now())
	if err != nil || user == nil {
		return nil, err
	}
	return identityFromUser(user), nil
}

func (c *StoreCollaborators) LookupByID(ctx context.Context, id int64) (*UserIdentity, error) {
	user, err := c.store.GetUserByID(ctx, id)
	if err != nil || user == nil {
		return nil, err
	}
	return identityFromUser(user), nil
}

func (c *StoreCollaborators) Append(ctx context.Context, job ArchiveJob) error {
	return c.store.AppendChatMessage(ctx, storage.ChatRecord{
		ID:        job.ID,
		Room:      job.Room,
		UserID:    job.UserID,
		Body:      job.Message,
		CreatedAt: job.At,
	})
}

func (c *StoreCollaborators) Archives(room string) bool {
	return storage.IsChatRoom(room)
}

func identityFromUser(user *storage.User) *UserIdentity {
	return &UserIdentity{ID: user.ID, Username: user.Username, Avatar: user.Avatar}
}
