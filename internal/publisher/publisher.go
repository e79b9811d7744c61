package publisher

import "context"

type TranscriptEvent struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	RequestID  string  `json:"requestId"`
	InputFile  string  `json:"inputFile"`
	Sequence   int     `json:"sequence"`
	Timestamp  int64   `json:"timestamp"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence,omitempty"`
}

const (
	EventTypePartial = "transcript.partial"
	EventTypeFinal   = "transcript.final"
)

// Publisher fans transcript events out to downstream consumers.
type Publisher interface {
	PublishPartial(ctx context.Context, key string, event TranscriptEvent) error
	PublishFinal(ctx context.Context, key string, event TranscriptEvent) error
	Close() error
}
