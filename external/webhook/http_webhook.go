package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/foxseedlab/emasr/internal/webhook"
	"github.com/goccy/go-json"
)

const (
	requestTimeout = 10 * time.Second
	retryDelay     = 500 * time.Millisecond
	maxErrorBody   = 512
	userAgent      = "emasr-server"
)

// StatusError reports a non-2xx webhook response with the start of its body.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the receiver may accept the same delivery later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type HTTPSender struct {
	webhookURL string
	client     *http.Client
	retryDelay time.Duration
}

func NewHTTPSender(webhookURL string) *HTTPSender {
	return &HTTPSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: requestTimeout},
		retryDelay: retryDelay,
	}
}

// SendTranscript posts payload once and retries a single time when the
// receiver answers 5xx/429 or the request fails in transit.
func (s *HTTPSender) SendTranscript(ctx context.Context, payload webhook.TranscriptWebhookPayload) error {
	if s.webhookURL == "" {
		return nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode transcript payload: %w", err)
	}

	err = s.post(ctx, payload, b)
	if err == nil || !isRetryable(err) {
		return err
	}
	slog.Warn("transcript webhook failed; retrying", "session_id", payload.SessionID, "error", err)
	select {
	case <-time.After(s.retryDelay):
	case <-ctx.Done():
		return fmt.Errorf("deliver transcript for session %s: %w", payload.SessionID, ctx.Err())
	}
	return s.post(ctx, payload, b)
}

func (s *HTTPSender) post(ctx context.Context, payload webhook.TranscriptWebhookPayload, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Emasr-Session-Id", payload.SessionID)
	req.Header.Set("X-Emasr-Schema-Version", payload.SchemaVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post transcript for session %s: %w", payload.SessionID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if isHTTPSuccessStatus(resp.StatusCode) {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
