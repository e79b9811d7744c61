package webhook

import "context"

const TranscriptSchemaVersion = 1

type TranscriptPayload struct {
	SchemaVersion   int      `json:"schema_version"`
	SessionID       string   `json:"session_id"`
	RequestID       string   `json:"request_id"`
	InputFile       string   `json:"input_file"`
	Language        string   `json:"language"`
	Model           string   `json:"model"`
	Status          string   `json:"status"`
	StartAt         string   `json:"start_at"`
	EndAt           string   `json:"end_at"`
	DurationSeconds int64    `json:"duration_seconds"`
	SegmentCount    int      `json:"segment_count"`
	Segments        []string `json:"segments"`
	TranscriptText  string   `json:"transcript_text"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptPayload) error
}
