package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/foxseedlab/kikitori/internal/publisher"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/sink"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/transcript"
	"github.com/foxseedlab/kikitori/internal/webhook"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFrameBytes   = 4096
	defaultPollInterval = 200 * time.Millisecond
	defaultQueueSize    = 64
	statsInterval       = 5 * time.Second
	finalizeTimeout     = 15 * time.Second
)

type Options struct {
	FrameBytes     int
	PollInterval   time.Duration
	SessionTimeout time.Duration
	QueueSize      int
}

func (o Options) withDefaults() Options {
	if o.FrameBytes <= 0 {
		o.FrameBytes = defaultFrameBytes
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	return o
}

type Request struct {
	Audio  audio.Payload
	Config transcriber.SessionConfig
}

type Summary struct {
	SessionID          string
	RequestID          string
	State              State
	Status             repository.SessionStatus
	StopReason         string
	Cancelled          bool
	FramesSent         int
	BytesSent          int
	PartialCount       int
	FinalCount         int
	UnrecognizedCount  int
	ExtractionFailures int
	StartedAt          time.Time
	EndedAt            time.Time
	Outputs            sink.Paths
}

type Controller struct {
	opts        Options
	transcriber transcriber.Transcriber
	newWriter   sink.WriterFactory
	repo        repository.Repository
	publisher   publisher.Publisher
	metrics     metrics.Recorder
	webhook     webhook.Sender
	discord     discord.Client

	current       atomic.Pointer[stateBox]
	onStateChange func(State)
}

func NewController(opts Options, stt transcriber.Transcriber, newWriter sink.WriterFactory, repo repository.Repository, pub publisher.Publisher, rec metrics.Recorder, wh webhook.Sender, dc discord.Client) *Controller {
	return &Controller{
		opts:        opts.withDefaults(),
		transcriber: stt,
		newWriter:   newWriter,
		repo:        repo,
		publisher:   pub,
		metrics:     rec,
		webhook:     wh,
		discord:     dc,
	}
}

// State reports the state of the most recent session, Idle before the first.
func (c *Controller) State() State {
	if b := c.current.Load(); b != nil {
		return b.load()
	}
	return StateIdle
}

// Run streams one audio payload and blocks until the service closes the
// stream, the transport fails, or ctx is cancelled. Cancellation is not an
// error: the returned summary has Cancelled set.
func (c *Controller) Run(ctx context.Context, req Request) (*Summary, error) {
	paths := sink.PathsFor(req.Audio.Path)
	startedAt := time.Now()

	c.closeOrphanSession(ctx, req.Audio.Path)
	created, err := c.repo.CreateSession(ctx, repository.CreateSessionInput{
		InputPath: req.Audio.Path,
		Language:  req.Config.Language,
		Model:     req.Config.Model,
		StartedAt: startedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create session record: %w", err)
	}
	log := slog.With("session_id", created.ID, "input", req.Audio.Path)
	log.Info("session created", "payload_bytes", req.Audio.Len(), "format", req.Config.Format, "frames", audio.FrameCount(req.Audio.Len(), c.opts.FrameBytes))

	r := &run{
		c:         c,
		log:       log,
		req:       req,
		sessionID: created.ID,
	}
	r.state.onChange = func(s State) {
		log.Debug("session state changed", "state", s.String())
		if c.onStateChange != nil {
			c.onStateChange(s)
		}
	}
	c.current.Store(&r.state)

	out, err := c.newWriter(paths)
	if err == nil {
		r.out = out
		err = r.stream(ctx)
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close outputs: %w", errOutput, cerr)
		}
	} else {
		err = fmt.Errorf("%w: open outputs: %w", errOutput, err)
	}
	r.state.advance(StateClosed)

	sum := r.summary(paths, startedAt)
	sum.Status, sum.StopReason = stopStatus(err, sum.Cancelled)
	c.finish(ctx, log, req, sum)
	return sum, err
}

func (c *Controller) closeOrphanSession(ctx context.Context, inputPath string) {
	orphan, err := c.repo.GetRunningSessionByInput(ctx, inputPath)
	if err != nil {
		slog.Warn("failed to query running session", "error", err, "input", inputPath)
		return
	}
	if orphan == nil {
		return
	}
	slog.Warn("found orphan running session; marking it failed", "session_id", orphan.ID, "input", inputPath)
	if err := c.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
		SessionID:  orphan.ID,
		EndedAt:    time.Now(),
		Status:     repository.SessionStatusFailed,
		StopReason: stopReasonOrphaned,
	}); err != nil {
		slog.Warn("failed to complete orphan session", "error", err, "session_id", orphan.ID)
	}
}

func (c *Controller) finish(ctx context.Context, log *slog.Logger, req Request, sum *Summary) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := c.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
		SessionID:    sum.SessionID,
		RequestID:    sum.RequestID,
		EndedAt:      sum.EndedAt,
		Status:       sum.Status,
		StopReason:   sum.StopReason,
		FramesSent:   sum.FramesSent,
		PartialCount: sum.PartialCount,
		FinalCount:   sum.FinalCount,
	}); err != nil {
		log.Error("failed to complete session record", "error", err)
	}
	c.metrics.RecordSession(string(sum.Status), sum.EndedAt.Sub(sum.StartedAt).Seconds())
	log.Info("session closed",
		"status", sum.Status,
		"reason", sum.StopReason,
		"request_id", sum.RequestID,
		"frames_sent", sum.FramesSent,
		"partials", sum.PartialCount,
		"finals", sum.FinalCount,
		"unrecognized", sum.UnrecognizedCount,
		"extraction_failures", sum.ExtractionFailures)

	c.deliverTranscript(ctx, log, req, sum)
	if err := c.metrics.Push(ctx); err != nil {
		log.Warn("failed to push metrics", "error", err)
	}
}

var errOutput = errors.New("session output failure")

type run struct {
	c         *Controller
	log       *slog.Logger
	req       Request
	sessionID string
	requestID string
	out       sink.Writer
	state     stateBox

	cancelled          atomic.Bool
	framesSent         atomic.Int64
	bytesSent          atomic.Int64
	partials           atomic.Int64
	finals             atomic.Int64
	unrecognized       atomic.Int64
	extractionFailures atomic.Int64

	// touched only by the consumer goroutine
	segmentIndex int
}

func (r *run) stream(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	streamCtx := gctx
	if r.c.opts.SessionTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(gctx, r.c.opts.SessionTimeout)
		defer cancel()
	}

	// The queue is registered before the config frame goes out so that no
	// early response is lost.
	queue := newEventQueue(r.c.opts.QueueSize)
	defer queue.shutdown()

	w, err := r.c.transcriber.StartStreaming(streamCtx, r.req.Config, queue)
	if err != nil {
		err = transcriber.ClassifyError(err)
		if errors.Is(err, transcriber.ErrCanceled) && ctx.Err() != nil {
			r.cancelled.Store(true)
			return nil
		}
		return fmt.Errorf("start streaming: %w", err)
	}
	r.requestID = w.RequestID()
	r.log = r.log.With("request_id", r.requestID)
	r.state.advance(StateStreaming)

	disposed := make(chan struct{})
	dispose := sync.OnceFunc(func() {
		if err := w.Close(); err != nil {
			r.log.Warn("failed to dispose recognition stream", "error", err)
		}
		close(disposed)
	})
	defer dispose()

	consumed := make(chan struct{})
	g.Go(func() error {
		return r.transmit(ctx, gctx, w)
	})
	g.Go(func() error {
		defer close(consumed)
		return r.consume(ctx, gctx, queue, disposed)
	})
	g.Go(func() error {
		r.supervise(ctx, gctx, consumed, dispose)
		return nil
	})
	err = g.Wait()
	// The transport observes the caller's cancellation through the stream
	// context, often before the supervisor's next tick.
	if ctx.Err() != nil {
		r.cancelled.Store(true)
		if errors.Is(err, transcriber.ErrCanceled) {
			return nil
		}
	}
	return err
}

// transmit checks gctx between frames; ctx is the caller's context and only
// decides whether a cancelled transport is expected.
func (r *run) transmit(ctx, gctx context.Context, w transcriber.StreamWriter) error {
	for frame := range audio.Frames(r.req.Audio.Data, r.c.opts.FrameBytes) {
		if gctx.Err() != nil {
			return nil
		}
		if err := w.Write(frame); err != nil {
			return r.transportError(ctx, "send audio frame", err)
		}
		r.framesSent.Add(1)
		r.bytesSent.Add(int64(len(frame)))
		r.c.metrics.RecordFrameSent(len(frame))
	}
	if err := w.CloseSend(); err != nil {
		return r.transportError(ctx, "close send", err)
	}
	r.state.advance(StateDraining)
	r.log.Info("audio transmission finished", "frames_sent", r.framesSent.Load(), "bytes_sent", r.bytesSent.Load())
	return nil
}

func (r *run) consume(ctx, gctx context.Context, q *eventQueue, disposed <-chan struct{}) error {
	for {
		select {
		case ev, ok := <-q.events:
			if !ok {
				if q.err == nil {
					r.log.Info("recognition stream closed by server")
					return nil
				}
				return r.transportError(ctx, "receive events", q.err)
			}
			if err := r.handle(gctx, ev); err != nil {
				return err
			}
		case <-disposed:
			return r.drain(gctx, q)
		}
	}
}

// drain handles events already buffered when the stream was disposed.
func (r *run) drain(ctx context.Context, q *eventQueue) error {
	for {
		select {
		case ev, ok := <-q.events:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (r *run) supervise(ctx, gctx context.Context, consumed <-chan struct{}, dispose func()) {
	ticker := time.NewTicker(r.c.opts.PollInterval)
	statsTicker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	defer statsTicker.Stop()
	for {
		select {
		case <-consumed:
			// nothing more can arrive; release a writer still blocked on the stream
			if ctx.Err() != nil {
				r.cancelled.Store(true)
				r.log.Info("cancellation observed by the transport; disposing recognition stream")
			}
			dispose()
			return
		case <-statsTicker.C:
			r.log.Info("session stats",
				"state", r.state.load().String(),
				"frames_sent", r.framesSent.Load(),
				"partials", r.partials.Load(),
				"finals", r.finals.Load())
		case <-ticker.C:
			if ctx.Err() != nil {
				r.cancelled.Store(true)
				r.log.Info("cancellation requested; disposing recognition stream")
				dispose()
				return
			}
			if gctx.Err() != nil {
				dispose()
				return
			}
		}
	}
}

// transportError treats a cancelled transport as a clean stop only when the
// caller cancelled; a sibling failure also cancels the group context.
func (r *run) transportError(ctx context.Context, op string, err error) error {
	if errors.Is(err, transcriber.ErrStreamClosed) {
		r.log.Debug("recognition stream already closed", "op", op)
		return nil
	}
	err = transcriber.ClassifyError(err)
	if errors.Is(err, transcriber.ErrCanceled) && ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (r *run) handle(ctx context.Context, ev transcriber.Event) error {
	raw := ev.Raw()
	line := make([]byte, 0, len(raw)+1)
	line = append(append(line, raw...), '\n')
	if err := r.out.Append(sink.TargetTrace, line); err != nil {
		return fmt.Errorf("%w: append trace: %w", errOutput, err)
	}

	kind := transcriber.Classify(ev)
	r.c.metrics.RecordEvent(kind.String())
	switch e := ev.(type) {
	case *transcriber.FinalEvent:
		r.finals.Add(1)
		text, ok := r.extract(ev, kind, transcript.FinalTextPath)
		if !ok || text == "" {
			return nil
		}
		if err := r.out.Append(sink.TargetFinal, []byte(text)); err != nil {
			return fmt.Errorf("%w: append final: %w", errOutput, err)
		}
		r.recordSegment(ctx, text)
		r.publish(ctx, kind, ev.Sequence(), text, e.Result)
	case *transcriber.PartialEvent:
		r.partials.Add(1)
		text, ok := r.extract(ev, kind, transcript.PartialTextPath)
		if !ok || text == "" {
			return nil
		}
		if err := r.out.Append(sink.TargetPartial, []byte(text)); err != nil {
			return fmt.Errorf("%w: append partial: %w", errOutput, err)
		}
		r.publish(ctx, kind, ev.Sequence(), text, e.Result)
	default:
		r.unrecognized.Add(1)
		r.log.Debug("unrecognized event kept in trace only", "sequence", ev.Sequence())
	}
	return nil
}

func (r *run) extract(ev transcriber.Event, kind transcriber.Kind, path string) (string, bool) {
	text, err := transcript.Extract(ev.Raw(), path)
	if err != nil {
		r.extractionFailures.Add(1)
		r.c.metrics.RecordExtractionFailure(kind.String())
		r.log.Warn("failed to extract text from event", "error", err, "sequence", ev.Sequence(), "kind", kind.String())
		return "", false
	}
	return text, true
}

func (r *run) recordSegment(ctx context.Context, text string) {
	idx := r.segmentIndex
	r.segmentIndex++
	if err := r.c.repo.InsertSegment(context.WithoutCancel(ctx), repository.InsertSegmentInput{
		SessionID:    r.sessionID,
		Content:      text,
		SegmentIndex: idx,
		ReceivedAt:   time.Now(),
	}); err != nil {
		r.log.Error("failed to insert segment", "error", err, "segment_index", idx)
	}
}

func (r *run) publish(ctx context.Context, kind transcriber.Kind, seq int, text string, res transcriber.Result) {
	ev := publisher.TranscriptEvent{
		SessionID: r.sessionID,
		RequestID: r.requestID,
		InputFile: r.req.Audio.Path,
		Sequence:  seq,
		Timestamp: time.Now().UnixMilli(),
		Text:      text,
	}
	if len(res.Alternatives) > 0 {
		ev.Confidence = res.Alternatives[0].Confidence
	}
	var err error
	if kind == transcriber.KindFinal {
		ev.EventType = publisher.EventTypeFinal
		err = r.c.publisher.PublishFinal(ctx, r.sessionID, ev)
	} else {
		ev.EventType = publisher.EventTypePartial
		err = r.c.publisher.PublishPartial(ctx, r.sessionID, ev)
	}
	if err != nil {
		r.log.Warn("failed to publish transcript event", "error", err, "kind", kind.String(), "sequence", seq)
	}
}

func (r *run) summary(paths sink.Paths, startedAt time.Time) *Summary {
	return &Summary{
		SessionID:          r.sessionID,
		RequestID:          r.requestID,
		State:              r.state.load(),
		Cancelled:          r.cancelled.Load(),
		FramesSent:         int(r.framesSent.Load()),
		BytesSent:          int(r.bytesSent.Load()),
		PartialCount:       int(r.partials.Load()),
		FinalCount:         int(r.finals.Load()),
		UnrecognizedCount:  int(r.unrecognized.Load()),
		ExtractionFailures: int(r.extractionFailures.Load()),
		StartedAt:          startedAt,
		EndedAt:            time.Now(),
		Outputs:            paths,
	}
}
