package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, "alice", "avatars/alice.png", []byte("hash"))
	require.NoError(t, err)
	require.NotZero(t, id)

	_, err = store.CreateUser(ctx, "alice", "", []byte("hash2"))
	require.ErrorIs(t, err, ErrUserExists)

	user, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "avatars/alice.png", user.Avatar)

	byID, err := store.GetUserByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, user.Username, byID.Username)

	missing, err := store.GetUserByID(ctx, id+100)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, err := store.CreateUser(ctx, "bob", "", []byte("hash"))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.CreateSession(ctx, userID, "token123", now.Add(time.Hour)))

	session, err := store.GetSession(ctx, "token123")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, userID, session.UserID)

	user, err := store.UserForToken(ctx, "token123", now)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "bob", user.Username)

	require.NoError(t, store.DeleteSession(ctx, "token123"))
	session, err = store.GetSession(ctx, "token123")
	require.NoError(t, err)
	assert.Nil(t, session)

	user, err = store.UserForToken(ctx, "token123", now)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestExpiredSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, err := store.CreateUser(ctx, "carol", "", []byte("hash"))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.CreateSession(ctx, userID, "old", now.Add(-time.Minute)))
	require.NoError(t, store.CreateSession(ctx, userID, "fresh", now.Add(time.Hour)))

	user, err := store.UserForToken(ctx, "old", now)
	require.NoError(t, err)
	assert.Nil(t, user, "expired token must not resolve")

	removed, err := store.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	fresh, err := store.GetSession(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, fresh)
}

func TestChatArchive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	aliceID, err := store.CreateUser(ctx, "alice", "", []byte("hash"))
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i, body := range []string{"one", "two", "three"} {
		require.NoError(t, store.AppendChatMessage(ctx, ChatRecord{
			ID:        body,
			Room:      "chat_general",
			UserID:    aliceID,
			Body:      body,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.AppendChatMessage(ctx, ChatRecord{
		ID: "elsewhere", Room: "chat_other", UserID: aliceID, Body: "x", CreatedAt: base,
	}))

	records, err := store.RecentChatMessages(ctx, "chat_general", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "two", records[0].Body)
	assert.Equal(t, "three", records[1].Body)
	assert.Equal(t, "alice", records[1].Username)
}

func TestIsChatRoom(t *testing.T) {
	assert.True(t, IsChatRoom("chat_general"))
	assert.False(t, IsChatRoom("chat_"))
	assert.False(t, IsChatRoom("lobby"))
	assert.False(t, IsChatRoom("thread_12"))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	require.NoError(t, store.Migrate(context.Background()))
	return store
}
