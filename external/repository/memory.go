package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/google/uuid"
)

// MemoryRepository keeps the journal for the lifetime of the process. It is
// used when no database is configured.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]repository.Session
	segments map[string][]repository.TranscriptSegment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]repository.Session),
		segments: make(map[string][]repository.TranscriptSegment),
	}
}

func (r *MemoryRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := repository.Session{
		ID:        uuid.NewString(),
		InputPath: input.InputPath,
		Language:  input.Language,
		Model:     input.Model,
		StartedAt: input.StartedAt,
		Status:    repository.SessionStatusRunning,
	}
	r.sessions[s.ID] = s
	return &s, nil
}

func (r *MemoryRepository) UpdateSessionCompleted(_ context.Context, input repository.CompleteSessionInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[input.SessionID]
	if !ok {
		return fmt.Errorf("session %s not found", input.SessionID)
	}
	endedAt := input.EndedAt
	s.EndedAt = &endedAt
	s.Status = input.Status
	s.StopReason = input.StopReason
	if input.RequestID != "" {
		s.RequestID = input.RequestID
	}
	s.FramesSent = input.FramesSent
	s.PartialCount = input.PartialCount
	s.FinalCount = input.FinalCount
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepository) GetRunningSessionByInput(_ context.Context, inputPath string) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *repository.Session
	for _, s := range r.sessions {
		if s.InputPath != inputPath || s.Status != repository.SessionStatusRunning {
			continue
		}
		if found == nil || s.StartedAt.After(found.StartedAt) {
			found = &s
		}
	}
	return found, nil
}

func (r *MemoryRepository) InsertSegment(_ context.Context, input repository.InsertSegmentInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[input.SessionID]; !ok {
		return fmt.Errorf("session %s not found", input.SessionID)
	}
	for _, seg := range r.segments[input.SessionID] {
		if seg.SegmentIndex == input.SegmentIndex {
			return fmt.Errorf("segment %d of session %s already exists", input.SegmentIndex, input.SessionID)
		}
	}
	r.segments[input.SessionID] = append(r.segments[input.SessionID], repository.TranscriptSegment{
		ID:           uuid.NewString(),
		SessionID:    input.SessionID,
		Content:      input.Content,
		SegmentIndex: input.SegmentIndex,
		ReceivedAt:   input.ReceivedAt,
		CreatedAt:    time.Now(),
	})
	return nil
}

func (r *MemoryRepository) ListSegmentsBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := slices.Clone(r.segments[sessionID])
	slices.SortFunc(list, func(a, b repository.TranscriptSegment) int {
		return a.SegmentIndex - b.SegmentIndex
	})
	return list, nil
}
