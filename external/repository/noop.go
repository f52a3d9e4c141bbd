package repository

import (
	"context"

	"github.com/foxseedlab/emasr/internal/repository"
)

// NoopRepository discards everything. It is used when no database is
// configured.
type NoopRepository struct{}

func (NoopRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	return &repository.Session{
		ID:         input.ID,
		RemoteAddr: input.RemoteAddr,
		Mode:       input.Mode,
		WavName:    input.WavName,
		StartedAt:  input.StartedAt,
		Status:     repository.SessionStatusRunning,
	}, nil
}

func (NoopRepository) UpdateSessionCompleted(context.Context, repository.CompleteSessionInput) error {
	return nil
}

func (NoopRepository) GetSession(context.Context, string) (*repository.Session, error) {
	return nil, nil
}

func (NoopRepository) InsertSegment(context.Context, repository.InsertSegmentInput) error {
	return nil
}

func (NoopRepository) ListSegmentsBySessionID(context.Context, string) ([]repository.TranscriptSegment, error) {
	return nil, nil
}

func (NoopRepository) Close() {}
