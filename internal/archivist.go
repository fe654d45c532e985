package internal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const archiveWriteTimeout = 5 * time.Second

// ArchiveJob is one chat message waiting to be persisted.
type ArchiveJob struct {
	ID      string
	Room    string
	UserID  int64
	Message string
	At      time.Time
}

// Archivist persists chat-room messages off the broadcast path. A single worker
// drains a bounded queue; a full queue drops the job.
type Archivist struct {
	archive ChatArchive
	queue   chan ArchiveJob
	metrics *Metrics
	log     *zap.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewArchivist(archive ChatArchive, queueSize int, metrics *Metrics, log *zap.Logger) *Archivist {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Archivist{
		archive: archive,
		queue:   make(chan ArchiveJob, queueSize),
		metrics: metrics,
		log:     log.Named("archivist"),
	}
}

// Start launches the worker. Calling it more than once has no effect.
func (a *Archivist) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.closed {
		return
	}
	a.started = true
	a.wg.Add(1)
	go a.run()
}

// Accepts reports whether messages in room are persisted at all.
func (a *Archivist) Accepts(room string) bool {
	return a != nil && a.archive != nil && a.archive.Archives(room)
}

// Submit queues job without blocking. It returns false when the job was
// dropped.
func (a *Archivist) Submit(job ArchiveJob) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}
	select {
	case a.queue <- job:
		return true
	default:
		a.log.Warn("archive queue full, dropping message", zap.String("room", job.Room))
		if a.metrics != nil {
			a.metrics.ArchiveDropped()
		}
		return false
	}
}

// Stop rejects further jobs and waits for the queued ones to be written.
func (a *Archivist) Stop() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Archivist) run() {
	defer a.wg.Done()
	for job := range a.queue {
		a.write(job)
	}
}

func (a *Archivist) write(job ArchiveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()
	if err := a.archive.Append(ctx, job); err != nil {
		a.log.Error("archive chat message",
			zap.String("id", job.ID),
			zap.String("room", job.Room),
			zap.Int64("user_id", job.UserID),
			zap.Error(err))
		if a.metrics != nil {
			a.metrics.ArchiveFailed()
		}
	}
}
