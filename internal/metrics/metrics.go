package metrics

import "context"

type Recorder interface {
	RecordFrameSent(bytes int)
	RecordEvent(kind string)
	RecordExtractionFailure(kind string)
	RecordPublish(topic string, failed bool, latencySeconds float64)
	RecordSession(status string, durationSeconds float64)
	// Push delivers the collected metrics; a no-op when no gateway is configured.
	Push(ctx context.Context) error
}
