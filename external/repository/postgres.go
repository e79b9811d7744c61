package repository

import (
	"context"
	"errors"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, input_path, request_id, language, model, started_at, ended_at, status, stop_reason, frames_sent, partial_count, final_count`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO recognition_sessions (input_path, language, model, started_at, status)
		 VALUES ($1, $2, $3, $4, 'running')
		 RETURNING `+sessionColumns,
		input.InputPath, input.Language, input.Model, input.StartedAt)
	return scanSession(row)
}

func (r *PostgresRepository) UpdateSessionCompleted(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE recognition_sessions
		 SET status = $2, ended_at = $3, stop_reason = $4, request_id = COALESCE(NULLIF($5, ''), request_id),
		     frames_sent = $6, partial_count = $7, final_count = $8
		 WHERE id = $1`,
		input.SessionID, string(input.Status), input.EndedAt, input.StopReason, input.RequestID,
		input.FramesSent, input.PartialCount, input.FinalCount)
	return err
}

func (r *PostgresRepository) GetRunningSessionByInput(ctx context.Context, inputPath string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM recognition_sessions WHERE input_path = $1 AND status = 'running'
		 ORDER BY started_at DESC LIMIT 1`,
		inputPath)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var endedAt *time.Time
	var status string
	err := row.Scan(&s.ID, &s.InputPath, &s.RequestID, &s.Language, &s.Model, &s.StartedAt, &endedAt,
		&status, &s.StopReason, &s.FramesSent, &s.PartialCount, &s.FinalCount)
	if err != nil {
		return nil, err
	}
	s.EndedAt = endedAt
	s.Status = repository.SessionStatus(status)
	return &s, nil
}

func (r *PostgresRepository) InsertSegment(ctx context.Context, input repository.InsertSegmentInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcript_segments (session_id, content, segment_index, received_at)
		 VALUES ($1, $2, $3, $4)`,
		input.SessionID, input.Content, input.SegmentIndex, input.ReceivedAt)
	return err
}

func (r *PostgresRepository) ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, content, segment_index, received_at, created_at
		 FROM transcript_segments WHERE session_id = $1 ORDER BY segment_index ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.TranscriptSegment
	for rows.Next() {
		var seg repository.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Content, &seg.SegmentIndex, &seg.ReceivedAt, &seg.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, seg)
	}
	return list, rows.Err()
}

// Shutdown is called by the DI container.
func (r *PostgresRepository) Shutdown() {
	r.pool.Close()
}
