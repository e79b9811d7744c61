package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/webhook"
)

// time.DateTime is not used so the layout can change independently.
const transcriptTimeLayout = "2006-01-02 15:04:05"

type transcriptMetadata struct {
	SessionID string
	RequestID string
	InputPath string
	Language  string
	Model     string
	Status    repository.SessionStatus
	StartedAt time.Time
	EndedAt   time.Time
}

func metadataFor(req Request, sum *Summary) transcriptMetadata {
	return transcriptMetadata{
		SessionID: sum.SessionID,
		RequestID: sum.RequestID,
		InputPath: req.Audio.Path,
		Language:  req.Config.Language,
		Model:     req.Config.Model,
		Status:    sum.Status,
		StartedAt: sum.StartedAt,
		EndedAt:   sum.EndedAt,
	}
}

func buildTranscriptText(meta transcriptMetadata, segments []repository.TranscriptSegment) []byte {
	lines := []string{
		fmt.Sprintf("Input: %s", filepath.Base(meta.InputPath)),
		fmt.Sprintf("Language: %s (model %s)", meta.Language, meta.Model),
		fmt.Sprintf("Period: %s ~ %s (UTC)", meta.StartedAt.UTC().Format(transcriptTimeLayout), meta.EndedAt.UTC().Format(transcriptTimeLayout)),
		fmt.Sprintf("Status: %s", meta.Status),
		"",
	}
	for _, seg := range segments {
		elapsed := seg.ReceivedAt.Sub(meta.StartedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		lines = append(lines, fmt.Sprintf("%s %s", formatElapsedHMS(elapsed), seg.Content))
	}
	return []byte(strings.Join(lines, "\n"))
}

func buildTranscriptWebhookPayload(meta transcriptMetadata, segments []repository.TranscriptSegment) webhook.TranscriptPayload {
	contents := make([]string, 0, len(segments))
	for _, seg := range segments {
		contents = append(contents, seg.Content)
	}

	durationSeconds := int64(meta.EndedAt.Sub(meta.StartedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	return webhook.TranscriptPayload{
		SchemaVersion:   webhook.TranscriptSchemaVersion,
		SessionID:       meta.SessionID,
		RequestID:       meta.RequestID,
		InputFile:       filepath.Base(meta.InputPath),
		Language:        meta.Language,
		Model:           meta.Model,
		Status:          string(meta.Status),
		StartAt:         meta.StartedAt.UTC().Format(time.RFC3339),
		EndAt:           meta.EndedAt.UTC().Format(time.RFC3339),
		DurationSeconds: durationSeconds,
		SegmentCount:    len(segments),
		Segments:        contents,
		TranscriptText:  strings.Join(contents, " "),
	}
}

func transcriptFilename(sessionID string) string {
	return fmt.Sprintf("transcript-%s.txt", sessionID)
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
