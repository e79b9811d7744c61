package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/foxseedlab/kikitori/internal/webhook"
	json "github.com/goccy/go-json"
)

const (
	webhookTimeout = 10 * time.Second
	userAgent      = "kikitori-transcript-webhook/1"

	headerSessionID = "X-Kikitori-Session-Id"
	headerRequestID = "X-Client-Request-Id"

	// enough of a rejected response body to explain it in the log
	maxErrorBodyBytes = 512
)

type HTTPSender struct {
	webhookURL string
	client     *http.Client
}

func NewHTTPSender(webhookURL string) *HTTPSender {
	return &HTTPSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: webhookTimeout},
	}
}

// SendTranscript posts the transcript of one recognition session. An empty
// webhook URL disables delivery.
func (s *HTTPSender) SendTranscript(ctx context.Context, payload webhook.TranscriptPayload) error {
	if s.webhookURL == "" {
		return nil
	}

	req, err := s.newTranscriptRequest(ctx, payload)
	if err != nil {
		return fmt.Errorf("build transcript request for %s: %w", payload.InputFile, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post transcript of %s (request %s): %w", payload.InputFile, payload.RequestID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("transcript webhook rejected %s (request %s): status %d: %s",
			payload.InputFile, payload.RequestID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (s *HTTPSender) newTranscriptRequest(ctx context.Context, payload webhook.TranscriptPayload) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(headerSessionID, payload.SessionID)
	if payload.RequestID != "" {
		req.Header.Set(headerRequestID, payload.RequestID)
	}
	return req, nil
}
