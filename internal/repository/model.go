package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusFailed    SessionStatus = "failed"
)

type Session struct {
	ID           string
	InputPath    string
	RequestID    string
	Language     string
	Model        string
	StartedAt    time.Time
	EndedAt      *time.Time
	Status       SessionStatus
	StopReason   string
	FramesSent   int
	PartialCount int
	FinalCount   int
}

type TranscriptSegment struct {
	ID           string
	SessionID    string
	Content      string
	SegmentIndex int
	ReceivedAt   time.Time
	CreatedAt    time.Time
}
