package internal

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"boardlive/internal/wire"
)

type fakeArchive struct {
	mu      sync.Mutex
	entries []ArchiveJob
	fail    bool
	block   chan struct{}
}

func (f *fakeArchive) Append(_ context.Context, job ArchiveJob) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	f.entries = append(f.entries, job)
	return nil
}

func (f *fakeArchive) Archives(room string) bool {
	return strings.HasPrefix(room, "chat_")
}

func (f *fakeArchive) stored() []ArchiveJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ArchiveJob(nil), f.entries...)
}

func TestArchivistPersistsQueuedJobs(t *testing.T) {
	archive := &fakeArchive{}
	a := NewArchivist(archive, 8, NewMetrics(), zap.NewNop())
	a.Start()

	at := time.UnixMilli(1700000000000)
	require.True(t, a.Submit(ArchiveJob{Room: "chat_general", UserID: 1, Message: "hi", At: at}))
	require.True(t, a.Submit(ArchiveJob{Room: "chat_general", UserID: 2, Message: "yo", At: at}))
	a.Stop()

	stored := archive.stored()
	require.Len(t, stored, 2)
	assert.Equal(t, "hi", stored[0].Message)
	assert.Equal(t, int64(2), stored[1].UserID)
	assert.False(t, a.Submit(ArchiveJob{Room: "chat_general"}), "stopped archivist accepts nothing")
}

func TestArchivistDropsWhenQueueIsFull(t *testing.T) {
	archive := &fakeArchive{block: make(chan struct{})}
	a := NewArchivist(archive, 1, NewMetrics(), zap.NewNop())
	a.Start()

	// the worker takes the first job and blocks on it; the second fills the queue
	require.True(t, a.Submit(ArchiveJob{Room: "chat_x", Message: "1"}))
	require.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, a.Submit(ArchiveJob{Room: "chat_x", Message: "2"}))
	assert.False(t, a.Submit(ArchiveJob{Room: "chat_x", Message: "3"}))

	close(archive.block)
	a.Stop()
	assert.Len(t, archive.stored(), 2)
}

func TestArchivistFailureIsNotFatal(t *testing.T) {
	archive := &fakeArchive{fail: true}
	a := NewArchivist(archive, 4, NewMetrics(), zap.NewNop())
	a.Start()
	assert.True(t, a.Submit(ArchiveJob{Room: "chat_x", Message: "lost"}))
	a.Stop()
	assert.Empty(t, archive.stored())
}

func TestNilArchivistAcceptsNothing(t *testing.T) {
	var a *Archivist
	assert.False(t, a.Accepts("chat_general"))
}

func TestChatRoomMessagesAreArchived(t *testing.T) {
	archive := &fakeArchive{}
	archivist := NewArchivist(archive, 8, NewMetrics(), zap.NewNop())
	archivist.Start()
	hub := newTestHub(t, HubConfig{}, archivist)

	a := connectAs(t, hub, "tok-A")
	b := connectAs(t, hub, "tok-B")
	send(t, hub, a, &wire.JoinRoom{Room: "chat_general"})
	send(t, hub, a, &wire.JoinRoom{Room: "lobby"})
	send(t, hub, b, &wire.JoinRoom{Room: "chat_general"})
	drain(t, b)

	send(t, hub, a, &wire.Message{Room: "chat_general", Message: "kept"})
	send(t, hub, a, &wire.Message{Room: "lobby", Message: "ephemeral"})
	archivist.Stop()

	stored := archive.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, "chat_general", stored[0].Room)
	assert.Equal(t, alice.ID, stored[0].UserID)
	assert.Equal(t, "kept", stored[0].Message)

	got := drain(t, b)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Message)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, got[0].ID, stored[0].ID, "archived under the broadcast id")
}

func TestArchiveFailureDoesNotBlockBroadcast(t *testing.T) {
	archive := &fakeArchive{fail: true}
	archivist := NewArchivist(archive, 8, NewMetrics(), zap.NewNop())
	archivist.Start()
	defer archivist.Stop()
	hub := newTestHub(t, HubConfig{}, archivist)

	a := connectAs(t, hub, "tok-A")
	b := connectAs(t, hub, "tok-B")
	send(t, hub, a, &wire.JoinRoom{Room: "chat_general"})
	send(t, hub, b, &wire.JoinRoom{Room: "chat_general"})
	drain(t, a)
	drain(t, b)

	send(t, hub, a, &wire.Message{Room: "chat_general", Message: "still delivered"})
	got := drain(t, b)
	require.Len(t, got, 1)
	assert.Equal(t, "still delivered", got[0].Message)
	assert.Empty(t, drain(t, a))
}
