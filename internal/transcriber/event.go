package transcriber

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

type Kind int

const (
	KindUnrecognized Kind = iota
	KindPartial
	KindFinal
)

func (k Kind) String() string {
	switch k {
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	default:
		return "unrecognized"
	}
}

type Alternative struct {
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence,omitempty"`
}

type Result struct {
	Alternatives []Alternative `json:"alternatives"`
	ChannelTag   int32         `json:"channelTag,omitempty"`
	LanguageCode string        `json:"languageCode,omitempty"`
	Stability    float32       `json:"stability,omitempty"`
	EndOffsetMs  int64         `json:"endOffsetMs,omitempty"`
}

// Envelope is the serialized form of a response event. It is what the trace
// output receives and what text extraction paths are evaluated against.
type Envelope struct {
	RequestID   string          `json:"requestId,omitempty"`
	Sequence    int             `json:"sequence"`
	ReceivedAt  time.Time       `json:"receivedAt"`
	Partial     *Result         `json:"partial,omitempty"`
	Final       *Result         `json:"final,omitempty"`
	SpeechEvent string          `json:"speechEvent,omitempty"`
	Provider    json.RawMessage `json:"provider,omitempty"`
}

// Event is a closed set: *PartialEvent, *FinalEvent and *UnrecognizedEvent.
type Event interface {
	Sequence() int
	Raw() []byte
	sealed()
}

type eventBase struct {
	seq int
	raw []byte
}

func (b eventBase) Sequence() int { return b.seq }
func (b eventBase) Raw() []byte   { return b.raw }
func (eventBase) sealed()         {}

type PartialEvent struct {
	eventBase
	Result Result
}

type FinalEvent struct {
	eventBase
	Result Result
}

type UnrecognizedEvent struct {
	eventBase
	SpeechEvent string
}

func NewEvent(env Envelope) (Event, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode event %d: %w", env.Sequence, err)
	}
	base := eventBase{seq: env.Sequence, raw: raw}
	switch {
	case env.Final != nil:
		return &FinalEvent{eventBase: base, Result: *env.Final}, nil
	case env.Partial != nil:
		return &PartialEvent{eventBase: base, Result: *env.Partial}, nil
	default:
		return &UnrecognizedEvent{eventBase: base, SpeechEvent: env.SpeechEvent}, nil
	}
}

func Classify(ev Event) Kind {
	switch ev.(type) {
	case *FinalEvent:
		return KindFinal
	case *PartialEvent:
		return KindPartial
	default:
		return KindUnrecognized
	}
}
