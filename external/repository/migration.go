package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE recognition_session_status AS ENUM ('running', 'completed', 'cancelled', 'failed'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS recognition_sessions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		input_path TEXT NOT NULL,
		request_id TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL,
		model TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		status recognition_session_status NOT NULL DEFAULT 'running',
		stop_reason TEXT NOT NULL DEFAULT '',
		frames_sent INTEGER NOT NULL DEFAULT 0,
		partial_count INTEGER NOT NULL DEFAULT 0,
		final_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recognition_sessions_running ON recognition_sessions (input_path) WHERE status = 'running'`,
	`CREATE TABLE IF NOT EXISTS transcript_segments (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		session_id UUID NOT NULL REFERENCES recognition_sessions(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		segment_index INTEGER NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(session_id, segment_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transcript_segments_session ON transcript_segments (session_id, segment_index)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
