// Package journal persists finished recognition results off the decode
// path and posts a transcript webhook when a session ends.
package journal

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/emasr/internal/repository"
	"github.com/foxseedlab/emasr/internal/webhook"
	"github.com/gammazero/workerpool"
)

const writeTimeout = 15 * time.Second

type SessionInfo struct {
	ID         string
	RemoteAddr string
	Mode       string
	WavName    string
}

// Recorder receives session lifecycle events. Calls never block on I/O.
type Recorder interface {
	SessionStarted(info SessionInfo)
	SegmentFinal(sessionID, text string)
	SessionClosed(sessionID string)
}

type entry struct {
	info      SessionInfo
	startedAt time.Time
	segments  []repository.TranscriptSegment
}

// Journal serializes repository writes on a single background worker so
// a session row always exists before its segments are inserted.
type Journal struct {
	repo    repository.Repository
	webhook webhook.Sender
	loc     *time.Location
	now     func() time.Time

	pool *workerpool.WorkerPool

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

func New(repo repository.Repository, wh webhook.Sender) *Journal {
	return &Journal{
		repo:     repo,
		webhook:  wh,
		loc:      time.UTC,
		now:      time.Now,
		pool:     workerpool.New(1),
		sessions: make(map[string]*entry),
	}
}

func (j *Journal) SessionStarted(info SessionInfo) {
	startedAt := j.now()
	j.mu.Lock()
	if _, exists := j.sessions[info.ID]; exists {
		j.mu.Unlock()
		return
	}
	j.sessions[info.ID] = &entry{info: info, startedAt: startedAt}
	j.mu.Unlock()

	j.submit(info.ID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if _, err := j.repo.CreateSession(ctx, repository.CreateSessionInput{
			ID:         info.ID,
			RemoteAddr: info.RemoteAddr,
			Mode:       info.Mode,
			WavName:    info.WavName,
			StartedAt:  startedAt,
		}); err != nil {
			slog.Error("failed to create session in repository", "error", err, "session_id", info.ID)
		}
	})
}

// SegmentFinal records a final result. Blank text and unknown sessions
// are ignored.
func (j *Journal) SegmentFinal(sessionID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	j.mu.Lock()
	e, ok := j.sessions[sessionID]
	if !ok {
		j.mu.Unlock()
		return
	}
	seg := repository.TranscriptSegment{
		SessionID:    sessionID,
		Content:      text,
		SegmentIndex: len(e.segments),
		SpokenAt:     j.now(),
	}
	e.segments = append(e.segments, seg)
	j.mu.Unlock()

	j.submit(sessionID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := j.repo.InsertSegment(ctx, repository.InsertSegmentInput{
			SessionID:    seg.SessionID,
			Content:      seg.Content,
			SegmentIndex: seg.SegmentIndex,
			SpokenAt:     seg.SpokenAt,
		}); err != nil {
			slog.Error("failed to insert segment", "error", err, "session_id", sessionID, "segment_index", seg.SegmentIndex)
		}
	})
}

func (j *Journal) SessionClosed(sessionID string) {
	endedAt := j.now()
	j.mu.Lock()
	e, ok := j.sessions[sessionID]
	delete(j.sessions, sessionID)
	j.mu.Unlock()
	if !ok {
		return
	}
	j.submit(sessionID, func() {
		j.finalizeSession(e, endedAt)
	})
}

func (j *Journal) finalizeSession(e *entry, endedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := j.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
		SessionID:    e.info.ID,
		EndedAt:      endedAt,
		SegmentCount: len(e.segments),
	}); err != nil {
		slog.Error("failed to complete session", "error", err, "session_id", e.info.ID)
	}
	if len(e.segments) == 0 {
		slog.Info("session finished without final results; skipping webhook", "session_id", e.info.ID)
		return
	}
	payload := buildTranscriptWebhookPayload(e.info, e.startedAt, endedAt, j.loc, e.segments)
	if err := j.webhook.SendTranscript(ctx, payload); err != nil {
		slog.Error("failed to send webhook transcript", "error", err, "session_id", e.info.ID)
		return
	}
	slog.Info("session transcript delivered", "session_id", e.info.ID, "segments", len(e.segments))
}

// Pending reports sessions that started but have not closed.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.sessions)
}

// submit queues task unless the journal was closed, in which case the
// event is dropped.
func (j *Journal) submit(sessionID string, task func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		slog.Warn("journal closed; dropping event", "session_id", sessionID)
		return
	}
	j.pool.Submit(task)
}

// Close waits for every queued write to finish. Events recorded afterwards
// are dropped.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	j.mu.Unlock()
	j.pool.StopWait()
}
