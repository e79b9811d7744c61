package transcriber

import (
	"context"

	"github.com/foxseedlab/kikitori/internal/audio"
)

// SessionConfig is sent once, before any audio frame.
type SessionConfig struct {
	Language          string
	Model             string
	Format            audio.Format
	SampleRateHertz   int
	AudioChannelCount int
}

type StreamWriter interface {
	// Write sends one audio frame. Calls are serialized by the writer.
	Write(frame []byte) error
	// CloseSend signals end of input; responses keep arriving afterwards.
	CloseSend() error
	// Close releases the stream and its connection. It is idempotent and
	// unblocks pending network calls.
	Close() error
	RequestID() string
}

// ResultReceiver is invoked from a single goroutine: OnEvent once per
// response in arrival order, then OnClose exactly once. err is nil when the
// service closed the stream cleanly.
type ResultReceiver interface {
	OnEvent(ev Event)
	OnClose(err error)
}

type Transcriber interface {
	StartStreaming(ctx context.Context, cfg SessionConfig, receiver ResultReceiver) (StreamWriter, error)
}
