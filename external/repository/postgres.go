package repository

import (
	"context"
	"errors"
	"time"

	"github.com/foxseedlab/emasr/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO asr_sessions (id, remote_addr, mode, wav_name, started_at, status)
		 VALUES ($1, $2, $3, $4, $5, 'running')
		 RETURNING id, remote_addr, mode, wav_name, started_at, ended_at, status, segment_count`,
		input.ID, input.RemoteAddr, input.Mode, input.WavName, input.StartedAt)
	return scanSession(row)
}

func (r *PostgresRepository) UpdateSessionCompleted(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE asr_sessions SET status = 'completed', ended_at = $2, segment_count = $3 WHERE id = $1`,
		input.SessionID, input.EndedAt, input.SegmentCount)
	return err
}

func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, remote_addr, mode, wav_name, started_at, ended_at, status, segment_count
		 FROM asr_sessions WHERE id = $1`,
		id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *PostgresRepository) InsertSegment(ctx context.Context, input repository.InsertSegmentInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO asr_transcript_segments (session_id, content, segment_index, spoken_at)
		 VALUES ($1, $2, $3, $4)`,
		input.SessionID, input.Content, input.SegmentIndex, input.SpokenAt)
	return err
}

func (r *PostgresRepository) ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, content, segment_index, spoken_at, created_at
		 FROM asr_transcript_segments WHERE session_id = $1 ORDER BY segment_index ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.TranscriptSegment
	for rows.Next() {
		var seg repository.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Content, &seg.SegmentIndex, &seg.SpokenAt, &seg.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, seg)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var endedAt *time.Time
	if err := row.Scan(&s.ID, &s.RemoteAddr, &s.Mode, &s.WavName, &s.StartedAt, &endedAt, &s.Status, &s.SegmentCount); err != nil {
		return nil, err
	}
	s.EndedAt = endedAt
	return &s, nil
}
