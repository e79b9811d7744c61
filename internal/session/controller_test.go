package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/publisher"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/sink"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/webhook"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type mockStream struct {
	mu         sync.Mutex
	frames     [][]byte
	closeCount int
	blockAfter int
	writeErr   error

	sendClosed     chan struct{}
	closed         chan struct{}
	written        chan int
	closeSendOnce  sync.Once
	closeOnce      sync.Once
	startedBefore  bool
	closeSendCount int
}

func newMockStream() *mockStream {
	return &mockStream{
		sendClosed: make(chan struct{}),
		closed:     make(chan struct{}),
		written:    make(chan int, 128),
	}
}

func (s *mockStream) Write(frame []byte) error {
	s.mu.Lock()
	if s.writeErr != nil {
		s.mu.Unlock()
		return s.writeErr
	}
	if s.blockAfter > 0 && len(s.frames) >= s.blockAfter {
		s.mu.Unlock()
		<-s.closed
		return transcriber.ErrStreamClosed
	}
	select {
	case <-s.closed:
		s.mu.Unlock()
		return transcriber.ErrStreamClosed
	default:
	}
	s.frames = append(s.frames, bytes.Clone(frame))
	n := len(s.frames)
	s.mu.Unlock()
	s.written <- n
	return nil
}

func (s *mockStream) CloseSend() error {
	s.mu.Lock()
	s.closeSendCount++
	s.mu.Unlock()
	s.closeSendOnce.Do(func() { close(s.sendClosed) })
	return nil
}

func (s *mockStream) Close() error {
	s.mu.Lock()
	s.closeCount++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *mockStream) RequestID() string { return "req-1" }

func (s *mockStream) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type mockTranscriber struct {
	stream   *mockStream
	startErr error
	gotCfg   transcriber.SessionConfig
	respond  func(ctx context.Context, s *mockStream, recv transcriber.ResultReceiver)
}

func (m *mockTranscriber) StartStreaming(ctx context.Context, cfg transcriber.SessionConfig, recv transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.gotCfg = cfg
	m.stream.mu.Lock()
	m.stream.startedBefore = len(m.stream.frames) == 0
	m.stream.mu.Unlock()
	go m.respond(ctx, m.stream, recv)
	return m.stream, nil
}

type memoryWriter struct {
	mu       sync.Mutex
	data     map[sink.Target]*bytes.Buffer
	failOn   sink.Target
	closed   bool
	appendsN map[sink.Target]int
}

func newMemoryWriter() *memoryWriter {
	return &memoryWriter{
		data:     map[sink.Target]*bytes.Buffer{},
		appendsN: map[sink.Target]int{},
	}
}

func (w *memoryWriter) Append(t sink.Target, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t == w.failOn {
		return errors.New("disk full")
	}
	if w.data[t] == nil {
		w.data[t] = &bytes.Buffer{}
	}
	w.appendsN[t]++
	w.data[t].Write(data)
	return nil
}

func (w *memoryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memoryWriter) content(t sink.Target) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.data[t] == nil {
		return ""
	}
	return w.data[t].String()
}

type mockRepository struct {
	mu        sync.Mutex
	sessions  map[string]*repository.Session
	segments  []repository.TranscriptSegment
	completed []repository.CompleteSessionInput
	running   *repository.Session
}

func newMockRepository() *mockRepository {
	return &mockRepository{sessions: map[string]*repository.Session{}}
}

func (m *mockRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &repository.Session{
		ID:        fmt.Sprintf("session-%d", len(m.sessions)+1),
		InputPath: input.InputPath,
		StartedAt: input.StartedAt,
		Status:    repository.SessionStatusRunning,
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *mockRepository) UpdateSessionCompleted(_ context.Context, input repository.CompleteSessionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, input)
	return nil
}

func (m *mockRepository) GetRunningSessionByInput(_ context.Context, _ string) (*repository.Session, error) {
	return m.running, nil
}

func (m *mockRepository) InsertSegment(_ context.Context, input repository.InsertSegmentInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = append(m.segments, repository.TranscriptSegment{
		SessionID:    input.SessionID,
		Content:      input.Content,
		SegmentIndex: input.SegmentIndex,
		ReceivedAt:   input.ReceivedAt,
	})
	return nil
}

func (m *mockRepository) ListSegmentsBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.TranscriptSegment
	for _, s := range m.segments {
		if s.SessionID == sessionID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockRepository) lastCompleted(t *testing.T) repository.CompleteSessionInput {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.completed) == 0 {
		t.Fatal("session was never completed")
	}
	return m.completed[len(m.completed)-1]
}

type mockPublisher struct {
	mu       sync.Mutex
	partials []publisher.TranscriptEvent
	finals   []publisher.TranscriptEvent
}

func (m *mockPublisher) PublishPartial(_ context.Context, _ string, ev publisher.TranscriptEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partials = append(m.partials, ev)
	return nil
}

func (m *mockPublisher) PublishFinal(_ context.Context, _ string, ev publisher.TranscriptEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finals = append(m.finals, ev)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

type mockRecorder struct {
	mu          sync.Mutex
	frames      int
	events      map[string]int
	extractFail int
	sessions    []string
	pushed      int
}

func (m *mockRecorder) RecordFrameSent(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames++
}

func (m *mockRecorder) RecordEvent(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		m.events = map[string]int{}
	}
	m.events[kind]++
}

func (m *mockRecorder) RecordExtractionFailure(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractFail++
}

func (m *mockRecorder) RecordPublish(string, bool, float64) {}

func (m *mockRecorder) RecordSession(status string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, status)
}

func (m *mockRecorder) Push(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed++
	return nil
}

type mockWebhookSender struct {
	payloads []webhook.TranscriptPayload
}

func (m *mockWebhookSender) SendTranscript(_ context.Context, payload webhook.TranscriptPayload) error {
	m.payloads = append(m.payloads, payload)
	return nil
}

type mockDiscordClient struct {
	enabled   bool
	fileCalls []discord.FileMessage
}

func (m *mockDiscordClient) Enabled() bool     { return m.enabled }
func (m *mockDiscordClient) ChannelID() string { return "channel-1" }
func (m *mockDiscordClient) SendChannelMessageWithFile(msg discord.FileMessage) error {
	m.fileCalls = append(m.fileCalls, msg)
	return nil
}

type harness struct {
	ctrl   *Controller
	stt    *mockTranscriber
	out    *memoryWriter
	repo   *mockRepository
	pub    *mockPublisher
	rec    *mockRecorder
	wh     *mockWebhookSender
	dc     *mockDiscordClient
	paths  []sink.Paths
	mu     sync.Mutex
	states []State
}

func newHarness(respond func(ctx context.Context, s *mockStream, recv transcriber.ResultReceiver)) *harness {
	h := &harness{
		stt:  &mockTranscriber{stream: newMockStream(), respond: respond},
		out:  newMemoryWriter(),
		repo: newMockRepository(),
		pub:  &mockPublisher{},
		rec:  &mockRecorder{},
		wh:   &mockWebhookSender{},
		dc:   &mockDiscordClient{enabled: true},
	}
	newWriter := func(p sink.Paths) (sink.Writer, error) {
		h.paths = append(h.paths, p)
		return h.out, nil
	}
	h.ctrl = NewController(Options{FrameBytes: 4096, PollInterval: 10 * time.Millisecond, QueueSize: 8}, h.stt, newWriter, h.repo, h.pub, h.rec, h.wh, h.dc)
	h.ctrl.onStateChange = func(s State) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.states = append(h.states, s)
	}
	return h
}

func (h *harness) observedStates() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.states)
}

func testRequest(payloadBytes int) Request {
	return Request{
		Audio: audio.Payload{Path: "/tmp/speech.wav", Data: make([]byte, payloadBytes), Format: audio.FormatWAV},
		Config: transcriber.SessionConfig{
			Language:          "ru-RU",
			Model:             "general",
			Format:            audio.FormatWAV,
			SampleRateHertz:   48000,
			AudioChannelCount: 1,
		},
	}
}

func partialEvent(t *testing.T, seq int, text string) transcriber.Event {
	t.Helper()
	return mustEvent(t, transcriber.Envelope{Sequence: seq, RequestID: "req-1", Partial: &transcriber.Result{Alternatives: []transcriber.Alternative{{Text: text}}}})
}

func finalEvent(t *testing.T, seq int, text string) transcriber.Event {
	t.Helper()
	return mustEvent(t, transcriber.Envelope{Sequence: seq, RequestID: "req-1", Final: &transcriber.Result{Alternatives: []transcriber.Alternative{{Text: text, Confidence: 0.9}}}})
}

func mustEvent(t *testing.T, env transcriber.Envelope) transcriber.Event {
	t.Helper()
	ev, err := transcriber.NewEvent(env)
	if err != nil {
		t.Fatalf("failed to build event: %v", err)
	}
	return ev
}

func traceLines(out *memoryWriter) []string {
	trace := strings.TrimSuffix(out.content(sink.TargetTrace), "\n")
	if trace == "" {
		return nil
	}
	return strings.Split(trace, "\n")
}

func TestRun_WritesPartialFinalAndTrace(t *testing.T) {
	var events []transcriber.Event
	events = append(events, partialEvent(t, 1, "hel"), partialEvent(t, 2, "hello"), finalEvent(t, 3, "hello world"))
	h := newHarness(func(_ context.Context, s *mockStream, recv transcriber.ResultReceiver) {
		<-s.sendClosed
		for _, ev := range events {
			recv.OnEvent(ev)
		}
		recv.OnClose(nil)
	})

	sum, err := h.ctrl.Run(context.Background(), testRequest(100000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := h.out.content(sink.TargetPartial); got != "helhello" {
		t.Fatalf("unexpected partial output: %q", got)
	}
	if got := h.out.content(sink.TargetFinal); got != "hello world" {
		t.Fatalf("unexpected final output: %q", got)
	}
	lines := traceLines(h.out)
	if len(lines) != 3 {
		t.Fatalf("expected 3 trace lines, got %d", len(lines))
	}
	for i, ev := range events {
		if lines[i] != string(ev.Raw()) {
			t.Fatalf("trace line %d mismatch: got %s want %s", i, lines[i], ev.Raw())
		}
	}
	if !h.out.closed {
		t.Fatal("expected outputs to be closed")
	}
	if len(h.paths) != 1 || h.paths[0] != sink.PathsFor("/tmp/speech.wav") {
		t.Fatalf("unexpected output paths: %+v", h.paths)
	}

	if sum.FramesSent != 25 || sum.BytesSent != 100000 {
		t.Fatalf("unexpected transmission counters: frames=%d bytes=%d", sum.FramesSent, sum.BytesSent)
	}
	frames := h.stt.stream.frames
	if len(frames[24]) != 1696 {
		t.Fatalf("unexpected last frame size: %d", len(frames[24]))
	}
	if !h.stt.stream.startedBefore {
		t.Fatal("stream must be opened before any audio frame is sent")
	}
	if h.stt.gotCfg.Language != "ru-RU" || h.stt.gotCfg.Model != "general" {
		t.Fatalf("unexpected session config: %+v", h.stt.gotCfg)
	}
	if sum.PartialCount != 2 || sum.FinalCount != 1 || sum.Cancelled {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.State != StateClosed || sum.Status != repository.SessionStatusCompleted {
		t.Fatalf("unexpected final state: %s %s", sum.State, sum.Status)
	}
	if got := h.ctrl.State(); got != StateClosed {
		t.Fatalf("controller state = %s, want closed", got)
	}
	if sum.RequestID != "req-1" {
		t.Fatalf("unexpected request id: %s", sum.RequestID)
	}
	if got := h.observedStates(); !slices.Equal(got, []State{StateStreaming, StateDraining, StateClosed}) {
		t.Fatalf("unexpected state transitions: %v", got)
	}
	if h.stt.stream.closeCount != 1 || h.stt.stream.closeSendCount != 1 {
		t.Fatalf("unexpected stream teardown: close=%d closeSend=%d", h.stt.stream.closeCount, h.stt.stream.closeSendCount)
	}
}

func TestRun_JournalsAndDeliversFinals(t *testing.T) {
	h := newHarness(func(_ context.Context, s *mockStream, recv transcriber.ResultReceiver) {
		<-s.sendClosed
		recv.OnEvent(partialEvent(t, 1, "hel"))
		recv.OnEvent(finalEvent(t, 2, "hello"))
		recv.OnEvent(finalEvent(t, 3, "world"))
		recv.OnClose(nil)
	})

	sum, err := h.ctrl.Run(context.Background(), testRequest(8192))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(h.repo.segments) != 2 || h.repo.segments[1].SegmentIndex != 1 || h.repo.segments[1].Content != "world" {
		t.Fatalf("unexpected segments: %+v", h.repo.segments)
	}
	done := h.repo.lastCompleted(t)
	if done.Status != repository.SessionStatusCompleted || done.StopReason != stopReasonServerClosed || done.FramesSent != 2 {
		t.Fatalf("unexpected completion: %+v", done)
	}
	if len(h.pub.partials) != 1 || len(h.pub.finals) != 2 {
		t.Fatalf("unexpected published events: partial=%d final=%d", len(h.pub.partials), len(h.pub.finals))
	}
	if h.pub.finals[0].EventType != publisher.EventTypeFinal || h.pub.finals[0].Confidence != 0.9 || h.pub.finals[0].SessionID != sum.SessionID {
		t.Fatalf("unexpected final event: %+v", h.pub.finals[0])
	}
	if len(h.wh.payloads) != 1 || !slices.Equal(h.wh.payloads[0].Segments, []string{"hello", "world"}) {
		t.Fatalf("unexpected webhook payloads: %+v", h.wh.payloads)
	}
	if len(h.dc.fileCalls) != 1 || h.dc.fileCalls[0].Filename != "transcript-"+sum.SessionID+".txt" {
		t.Fatalf("unexpected discord messages: %+v", h.dc.fileCalls)
	}
	if h.rec.events["final"] != 2 || h.rec.events["partial"] != 1 || h.rec.frames != 2 || h.rec.pushed != 1 {
		t.Fatalf("unexpected metrics: %+v", h.rec)
	}
}

func TestRun_EmptyTextAndUnrecognizedOnlyReachTrace(t *testing.T) {
	h := newHarness(func(_ context.Context, s *mockStream, recv transcriber.ResultReceiver) {
		<-s.sendClosed
		recv.OnEvent(mustEvent(t, transcriber.Envelope{Sequence: 1, SpeechEvent: "SPEECH_ACTIVITY_BEGIN"}))
		recv.OnEvent(mustEvent(t, transcriber.Envelope{Sequence: 2, Final: &transcriber.Result{Alternatives: []transcriber.Alternative{}}}))
		recv.OnEvent(partialEvent(t, 3, ""))
		recv.OnClose(nil)
	})

	sum, err := h.ctrl.Run(context.Background(), testRequest(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(traceLines(h.out)) != 3 {
		t.Fatalf("expected every event in the trace, got %q", h.out.content(sink.TargetTrace))
	}
	if h.out.appendsN[sink.TargetFinal] != 0 || h.out.appendsN[sink.TargetPartial] != 0 {
		t.Fatalf("empty text must not be appended: %+v", h.out.appendsN)
	}
	if sum.UnrecognizedCount != 1 || sum.ExtractionFailures != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if len(h.wh.payloads) != 0 || len(h.dc.fileCalls) != 0 {
		t.Fatal("nothing should be delivered without final segments")
	}
}

func TestRun_ExtractionFailureDoesNotAbort(t *testing.T) {
	h := newHarness(func(_ context.Context, s *mockStream, recv transcriber.ResultReceiver) {
		<-s.sendClosed
		recv.OnEvent(&transcriber.FinalEvent{})
		recv.OnEvent(finalEvent(t, 2, "ok"))
		recv.OnClose(nil)
	})

	sum, err := h.ctrl.Run(context.Background(), testRequest(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.ExtractionFailures != 1 || h.rec.extractFail != 1 {
		t.Fatalf("expected one extraction failure, got %d", sum.ExtractionFailures)
	}
	if got := h.out.content(sink.TargetFinal); got != "ok" {
		t.Fatalf("unexpected final output: %q", got)
	}
}

func TestRun_OutputFailureFailsSession(t *testing.T) {
	h := newHarness(func(_ context.Context, s *mockStream, recv transcriber.ResultReceiver) {
		<-s.sendClosed
		recv.OnEvent(finalEvent(t, 1, "hello"))
		recv.OnClose(nil)
	})
	h.out.failOn = sink.TargetFinal

	sum, err := h.ctrl.Run(context.Background(), testRequest(10))
	if !errors.Is(err, errOutput) {
		t.Fatalf("expected output error, got %v", err)
	}
	if sum.Status != repository.SessionStatusFailed || sum.StopReason != stopReasonOutput {
		t.Fatalf("unexpected status: %s %s", sum.Status, sum.StopReason)
	}
}

func runCancelledAfterFrames(t *testing.T, h *harness, frames int) (*Summary, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for n := range h.stt.stream.written {
			if n == frames {
				cancel()
				return
			}
		}
	}()

	type result struct {
		sum *Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := h.ctrl.Run(ctx, testRequest(100000))
		done <- result{sum, err}
	}()

	select {
	case res := <-done:
		return res.sum, res.err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after cancellation")
		return nil, nil
	}
}

func TestRun_CancellationClosesWithinPollInterval(t *testing.T) {
	h := newHarness(func(ctx context.Context, s *mockStream, recv transcriber.ResultReceiver) {
		recv.OnEvent(partialEvent(t, 1, "hel"))
		// the gRPC stream ends with Canceled as soon as its context is done
		select {
		case <-ctx.Done():
		case <-s.closed:
		}
		recv.OnClose(status.Error(codes.Canceled, "context canceled"))
	})
	h.stt.stream.blockAfter = 3

	sum, err := runCancelledAfterFrames(t, h, 3)
	if err != nil {
		t.Fatalf("cancellation must not be reported as an error: %v", err)
	}
	if !sum.Cancelled || sum.State != StateClosed {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Status != repository.SessionStatusCancelled || sum.StopReason != stopReasonCancelled {
		t.Fatalf("unexpected status: %s %s", sum.Status, sum.StopReason)
	}
	if len(h.repo.completed) != 1 || h.repo.completed[0].Status != repository.SessionStatusCancelled {
		t.Fatalf("journal must record the cancellation: %+v", h.repo.completed)
	}
	if h.stt.stream.closeCount != 1 {
		t.Fatalf("stream must be disposed exactly once, got %d", h.stt.stream.closeCount)
	}
	if got := h.observedStates(); slices.Contains(got, StateDraining) {
		t.Fatalf("cancelled session must not drain: %v", got)
	}
}

func TestRun_CancelledTranscriptIsDeliveredAsCancelled(t *testing.T) {
	emitted := make(chan struct{})
	h := newHarness(func(ctx context.Context, s *mockStream, recv transcriber.ResultReceiver) {
		recv.OnEvent(finalEvent(t, 1, "hello"))
		close(emitted)
		select {
		case <-ctx.Done():
		case <-s.closed:
		}
		recv.OnClose(status.Error(codes.Canceled, "context canceled"))
	})
	h.stt.stream.blockAfter = 3
	// PollInterval longer than the test so only the transport sees the cancel
	h.ctrl.opts.PollInterval = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-emitted
		for n := range h.stt.stream.written {
			if n == 3 {
				cancel()
				return
			}
		}
	}()
	defer cancel()

	sum, err := h.ctrl.Run(ctx, testRequest(100000))
	if err != nil {
		t.Fatalf("cancellation must not be reported as an error: %v", err)
	}
	if !sum.Cancelled || sum.Status != repository.SessionStatusCancelled {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if got := h.out.content(sink.TargetFinal); got != "hello" {
		t.Fatalf("unexpected final output: %q", got)
	}
	if len(h.wh.payloads) != 1 || h.wh.payloads[0].Status != string(repository.SessionStatusCancelled) {
		t.Fatalf("webhook must label the transcript cancelled: %+v", h.wh.payloads)
	}
	if len(h.dc.fileCalls) != 1 || !strings.Contains(h.dc.fileCalls[0].Content, stopReasonDetail(stopReasonCancelled)) {
		t.Fatalf("discord attachment must say the session was cancelled: %+v", h.dc.fileCalls)
	}
}

func TestRun_DeadlineExceededIsReported(t *testing.T) {
	h := newHarness(func(_ context.Context, s *mockStream, recv transcriber.ResultReceiver) {
		for n := range s.written {
			if n == 2 {
				break
			}
		}
		recv.OnEvent(partialEvent(t, 1, "he"))
		recv.OnClose(status.Error(codes.DeadlineExceeded, "deadline exceeded"))
	})
	h.stt.stream.blockAfter = 2

	sum, err := h.ctrl.Run(context.Background(), testRequest(100000))
	if !errors.Is(err, transcriber.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if sum.FramesSent != 2 || h.stt.stream.frameCount() != 2 {
		t.Fatalf("expected 2 frames sent, got %d", sum.FramesSent)
	}
	if len(traceLines(h.out)) != 1 || h.out.content(sink.TargetPartial) != "he" {
		t.Fatalf("only events before the deadline should be recorded: %q", h.out.content(sink.TargetTrace))
	}
	if sum.Status != repository.SessionStatusFailed || sum.StopReason != stopReasonDeadline {
		t.Fatalf("unexpected status: %s %s", sum.Status, sum.StopReason)
	}
	if h.stt.stream.closeCount != 1 {
		t.Fatalf("stream must be disposed exactly once, got %d", h.stt.stream.closeCount)
	}
}

func TestRun_StartFailure(t *testing.T) {
	h := newHarness(nil)
	h.stt.startErr = status.Error(codes.Unavailable, "connection refused")

	sum, err := h.ctrl.Run(context.Background(), testRequest(10))
	if !errors.Is(err, transcriber.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if sum.State != StateClosed || sum.FramesSent != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if done := h.repo.lastCompleted(t); done.StopReason != stopReasonTransport {
		t.Fatalf("unexpected stop reason: %s", done.StopReason)
	}
}

func TestRun_ClosesOrphanSession(t *testing.T) {
	h := newHarness(func(_ context.Context, s *mockStream, recv transcriber.ResultReceiver) {
		<-s.sendClosed
		recv.OnClose(nil)
	})
	h.repo.running = &repository.Session{ID: "stale", Status: repository.SessionStatusRunning}

	if _, err := h.ctrl.Run(context.Background(), testRequest(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.repo.completed[0].SessionID != "stale" || h.repo.completed[0].StopReason != stopReasonOrphaned {
		t.Fatalf("orphan session was not closed first: %+v", h.repo.completed)
	}
}
