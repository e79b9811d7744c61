package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/google/uuid"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
)

const (
	speechAPIEndpointPort = 443

	metadataRequestID   = "x-client-request-id"
	metadataDataLogging = "x-data-logging-enabled"
)

type CloudSpeechConfig struct {
	// Endpoint is host:port of the recognition service. Empty derives the
	// regional Google endpoint from Location.
	Endpoint        string
	Insecure        bool
	ProjectID       string
	CredentialsJSON string
	Location        string
	// ClientOptions are appended after the derived options.
	ClientOptions []option.ClientOption
}

type CloudSpeechTranscriber struct {
	endpoint        string
	insecure        bool
	projectID       string
	credentialsJSON string
	location        string
	extraOptions    []option.ClientOption
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig) *CloudSpeechTranscriber {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" && location != "global" {
		endpoint = fmt.Sprintf("%s-speech.googleapis.com:%d", location, speechAPIEndpointPort)
	}
	return &CloudSpeechTranscriber{
		endpoint:        endpoint,
		insecure:        cfg.Insecure,
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		location:        location,
		extraOptions:    cfg.ClientOptions,
	}
}

func (t *CloudSpeechTranscriber) clientOptions() ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if t.endpoint != "" {
		opts = append(opts, option.WithEndpoint(t.endpoint))
	}
	if t.insecure {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	} else {
		detect := &credentials.DetectOptions{
			Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"},
		}
		if t.credentialsJSON != "" {
			detect.CredentialsJSON = []byte(t.credentialsJSON)
		}
		creds, err := credentials.DetectDefault(detect)
		if err != nil {
			return nil, fmt.Errorf("detect credentials: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))
	}
	return append(opts, t.extraOptions...), nil
}

func (t *CloudSpeechTranscriber) recognizer() string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location)
}

// StartStreaming opens the bidirectional stream and sends the configuration
// frame before returning, so every later Write carries audio only.
func (t *CloudSpeechTranscriber) StartStreaming(ctx context.Context, cfg transcriber.SessionConfig, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	requestID := uuid.NewString()
	slog.Info("starting recognition stream", "request_id", requestID, "endpoint", t.endpoint, "language", cfg.Language, "model", cfg.Model, "format", cfg.Format)

	opts, err := t.clientOptions()
	if err != nil {
		return nil, err
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, transcriber.ClassifyError(fmt.Errorf("create speech client: %w", err))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	streamCtx = metadata.AppendToOutgoingContext(streamCtx,
		metadataRequestID, requestID,
		metadataDataLogging, "true",
	)
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		_ = client.Close()
		return nil, transcriber.ClassifyError(fmt.Errorf("open stream: %w", err))
	}
	if err := stream.Send(t.configRequest(cfg)); err != nil {
		cancel()
		_ = client.Close()
		return nil, transcriber.ClassifyError(fmt.Errorf("send streaming config: %w", err))
	}
	slog.Debug("recognition stream initialized", "request_id", requestID)

	w := &streamWriter{
		requestID: requestID,
		stream:    stream,
		cancel:    cancel,
		closeFn:   client.Close,
	}
	go w.receive(receiver)
	return w, nil
}

func (t *CloudSpeechTranscriber) configRequest(cfg transcriber.SessionConfig) *speechpb.StreamingRecognizeRequest {
	rc := &speechpb.RecognitionConfig{
		Model:         cfg.Model,
		LanguageCodes: []string{cfg.Language},
		Features:      &speechpb.RecognitionFeatures{},
	}
	if cfg.Format.IsContainer() {
		rc.DecodingConfig = &speechpb.RecognitionConfig_AutoDecodingConfig{
			AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
		}
	} else {
		rc.DecodingConfig = &speechpb.RecognitionConfig_ExplicitDecodingConfig{
			ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
				Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
				SampleRateHertz:   int32(cfg.SampleRateHertz),
				AudioChannelCount: int32(cfg.AudioChannelCount),
			},
		}
	}
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: t.recognizer(),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: rc,
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{
					InterimResults:            true,
					EnableVoiceActivityEvents: true,
				},
			},
		},
	}
}

type streamWriter struct {
	requestID string

	mu         sync.Mutex
	closed     bool
	sendClosed bool
	stream     speechpb.Speech_StreamingRecognizeClient

	closeOnce sync.Once
	cancel    context.CancelFunc
	closeFn   func() error
}

func (w *streamWriter) RequestID() string { return w.requestID }

func (w *streamWriter) Write(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.sendClosed {
		return transcriber.ErrStreamClosed
	}
	err := w.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: frame},
	})
	if err != nil {
		// Send reports io.EOF when the server ended the stream; the actual
		// status arrives through Recv.
		if errors.Is(err, io.EOF) {
			return transcriber.ErrStreamClosed
		}
		return transcriber.ClassifyError(err)
	}
	return nil
}

func (w *streamWriter) CloseSend() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.sendClosed {
		return nil
	}
	w.sendClosed = true
	if err := w.stream.CloseSend(); err != nil {
		return transcriber.ClassifyError(err)
	}
	return nil
}

// Close tears the stream down. The context is cancelled before taking the
// lock so a Send blocked on flow control is released.
func (w *streamWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		err = w.closeFn()
	})
	return err
}

func (w *streamWriter) receive(receiver transcriber.ResultReceiver) {
	seq := 0
	for {
		resp, err := w.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("recognition stream finished", "request_id", w.requestID)
				receiver.OnClose(nil)
				return
			}
			err = transcriber.ClassifyError(err)
			slog.Info("recognition receive loop stopped", "request_id", w.requestID, "reason", err.Error())
			receiver.OnClose(err)
			return
		}
		seq++
		ev, err := transcriber.NewEvent(toEnvelope(w.requestID, seq, time.Now(), resp))
		if err != nil {
			slog.Warn("failed to encode recognition response", "error", err, "request_id", w.requestID, "sequence", seq)
			continue
		}
		receiver.OnEvent(ev)
	}
}

// toEnvelope keeps the best alternative of every result, so the text paths
// join one hypothesis per result. Lower ranked alternatives stay available in
// the provider field. A response with any final result is a final event
// carrying only the final results; otherwise interim results make a partial
// event.
func toEnvelope(requestID string, seq int, receivedAt time.Time, resp *speechpb.StreamingRecognizeResponse) transcriber.Envelope {
	env := transcriber.Envelope{
		RequestID:  requestID,
		Sequence:   seq,
		ReceivedAt: receivedAt.UTC(),
	}
	var finals, interims []*speechpb.StreamingRecognitionResult
	for _, r := range resp.GetResults() {
		if r.GetIsFinal() {
			finals = append(finals, r)
		} else {
			interims = append(interims, r)
		}
	}
	switch {
	case len(finals) > 0:
		env.Final = mergeResults(finals)
	case len(interims) > 0:
		env.Partial = mergeResults(interims)
	}
	if t := resp.GetSpeechEventType(); t != speechpb.StreamingRecognizeResponse_SPEECH_EVENT_TYPE_UNSPECIFIED {
		env.SpeechEvent = t.String()
	}
	if raw, err := protojson.Marshal(resp); err == nil {
		env.Provider = raw
	}
	return env
}

func mergeResults(results []*speechpb.StreamingRecognitionResult) *transcriber.Result {
	out := &transcriber.Result{Alternatives: make([]transcriber.Alternative, 0, len(results))}
	for _, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		out.Alternatives = append(out.Alternatives, transcriber.Alternative{
			Text:       alts[0].GetTranscript(),
			Confidence: alts[0].GetConfidence(),
		})
		if out.LanguageCode == "" {
			out.LanguageCode = r.GetLanguageCode()
			out.ChannelTag = r.GetChannelTag()
			out.Stability = r.GetStability()
		}
		if off := r.GetResultEndOffset(); off != nil {
			out.EndOffsetMs = off.AsDuration().Milliseconds()
		}
	}
	return out
}
