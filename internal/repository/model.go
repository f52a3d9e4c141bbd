package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
)

// Session is one websocket connection's recognition session.
type Session struct {
	ID           string
	RemoteAddr   string
	Mode         string
	WavName      string
	StartedAt    time.Time
	EndedAt      *time.Time
	Status       SessionStatus
	SegmentCount int
}

// TranscriptSegment is one final recognition result.
type TranscriptSegment struct {
	ID           string
	SessionID    string
	Content      string
	SegmentIndex int
	SpokenAt     time.Time
	CreatedAt    time.Time
}
