package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/signature"
	"github.com/hookline/hookline/webhook"
)

// DefaultMaxResponseBytes caps how much of a receiver's response body is
// stored on the delivery for diagnostics.
const DefaultMaxResponseBytes = 64 * 1024

// Error kinds recorded on failed attempts.
const (
	// ErrorKindNetwork covers connection failures, DNS failures, and timeouts.
	ErrorKindNetwork = "network"

	// ErrorKindPayload covers event payloads that cannot be serialized.
	ErrorKindPayload = "payload"
)

// HTTPErrorKind returns the error kind for a non-2xx HTTP response.
func HTTPErrorKind(status int) string {
	return fmt.Sprintf("http_%d", status)
}

// Outcome is the classified result of a single dispatch attempt.
type Outcome struct {
	// Success is true iff the receiver answered with a 2xx status.
	Success bool

	// Code is the HTTP status code. Zero when no response was received.
	Code int

	// Body is the response body, truncated to the configured cap.
	Body string

	// ErrorKind classifies the failure. Empty on success.
	ErrorKind string

	// Err is the error message. Empty on success.
	Err string

	// LatencyMs is the wall-clock duration of the attempt in milliseconds.
	LatencyMs int
}

// Dispatcher performs a single outbound webhook call per invocation.
// It never retries; retry policy belongs to the Scheduler and Coordinator.
type Dispatcher struct {
	client  *http.Client
	maxBody int64
}

// NewDispatcher creates a dispatcher with the given per-attempt HTTP
// timeout and response body cap. A non-positive cap falls back to
// DefaultMaxResponseBytes.
func NewDispatcher(timeout time.Duration, maxBody int64) *Dispatcher {
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	return &Dispatcher{
		client:  &http.Client{Timeout: timeout},
		maxBody: maxBody,
	}
}

// Send delivers the event to the webhook once and classifies the outcome.
func (dp *Dispatcher) Send(ctx context.Context, d *Delivery, evt *event.Event, wh *webhook.Webhook) Outcome {
	body, err := json.Marshal(evt.Payload)
	if err != nil {
		return Outcome{
			ErrorKind: ErrorKindPayload,
			Err:       fmt.Sprintf("marshal payload: %v", err),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return Outcome{
			ErrorKind: ErrorKindNetwork,
			Err:       fmt.Sprintf("create request: %v", err),
		}
	}

	// Standard headers.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Hookline/1.0")
	req.Header.Set("X-Event-ID", evt.ID.String())
	req.Header.Set("X-Event-Type", evt.Type)
	req.Header.Set("X-Delivery-ID", d.ID.String())

	// HMAC signature over the raw body.
	req.Header.Set("X-Signature", signature.Sign(body, wh.Secret))

	// Custom webhook headers.
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := dp.client.Do(req) //nolint:gosec // G704: URL is a subscriber-registered webhook destination; SSRF is by design.
	latency := int(time.Since(start).Milliseconds())

	if err != nil {
		return Outcome{
			ErrorKind: ErrorKindNetwork,
			Err:       err.Error(),
			LatencyMs: latency,
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, dp.maxBody))
	out := Outcome{
		Code:      resp.StatusCode,
		Body:      string(respBody),
		LatencyMs: latency,
	}
	if readErr != nil {
		// Status still determines the outcome; note the truncated read.
		out.Err = fmt.Sprintf("read response: %v", readErr)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Success = true
		return out
	}

	out.ErrorKind = HTTPErrorKind(resp.StatusCode)
	if out.Err == "" {
		out.Err = fmt.Sprintf("receiver returned %s", resp.Status)
	}
	return out
}
