package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	InputPath string
	Language  string
	Model     string
	StartedAt time.Time
}

type CompleteSessionInput struct {
	SessionID    string
	RequestID    string
	EndedAt      time.Time
	Status       SessionStatus
	StopReason   string
	FramesSent   int
	PartialCount int
	FinalCount   int
}

type InsertSegmentInput struct {
	SessionID    string
	Content      string
	SegmentIndex int
	ReceivedAt   time.Time
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	UpdateSessionCompleted(ctx context.Context, input CompleteSessionInput) error
	GetRunningSessionByInput(ctx context.Context, inputPath string) (*Session, error)
}

type TranscriptRepository interface {
	InsertSegment(ctx context.Context, input InsertSegmentInput) error
	ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]TranscriptSegment, error)
}

type Repository interface {
	SessionRepository
	TranscriptRepository
}
