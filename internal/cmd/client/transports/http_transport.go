package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	httpserver "github.com/rzbill/durq/internal/server/http"
	"github.com/rzbill/durq/pkg/queue"
)

// StatusError is returned for non-2xx responses. It unwraps to the queue
// error matching the status code, so callers can use errors.Is.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusTooManyRequests:
		return queue.ErrCapacityExceeded
	case http.StatusBadRequest:
		return queue.ErrInvalidArgument
	case http.StatusServiceUnavailable:
		return queue.ErrStorageUnavailable
	}
	return nil
}

// HTTPTransport implements QueueTransport against the JSON API.
type HTTPTransport struct {
	base   string
	client *http.Client
}

// NewHTTPTransport returns a transport for the server at baseURL. A nil
// client uses a default with a 30s timeout.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{base: strings.TrimRight(baseURL, "/"), client: client}
}

// do sends body (if any) as JSON and returns the status and response bytes.
func (t *HTTPTransport) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode >= 300 {
		var e httpserver.ErrorResponse
		_ = json.Unmarshal(data, &e)
		return resp.StatusCode, nil, &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	return resp.StatusCode, data, nil
}

// Enqueue posts payload and returns the stored message.
func (t *HTTPTransport) Enqueue(ctx context.Context, payload []byte) (*queue.Message, error) {
	_, data, err := t.do(ctx, http.MethodPost, "/v1/queue/enqueue", httpserver.EnqueueRequest{Payload: payload})
	if err != nil {
		return nil, err
	}
	return httpserver.DecodeMessage(data)
}

// Take takes the next message.
func (t *HTTPTransport) Take(ctx context.Context) (*queue.Message, error) {
	code, data, err := t.do(ctx, http.MethodPost, "/v1/queue/take", nil)
	if err != nil {
		return nil, err
	}
	if code == http.StatusNoContent {
		return nil, nil
	}
	return httpserver.DecodeMessage(data)
}

// Finish acknowledges msg.
func (t *HTTPTransport) Finish(ctx context.Context, msg *queue.Message) error {
	raw, err := httpserver.EncodeMessage(msg)
	if err != nil {
		return err
	}
	_, _, err = t.do(ctx, http.MethodPost, "/v1/queue/finish", httpserver.MessageRequest{Message: raw})
	return err
}

// Requeue returns msg to the queue.
func (t *HTTPTransport) Requeue(ctx context.Context, msg *queue.Message, silent bool) error {
	raw, err := httpserver.EncodeMessage(msg)
	if err != nil {
		return err
	}
	_, _, err = t.do(ctx, http.MethodPost, "/v1/queue/requeue", httpserver.MessageRequest{Message: raw, Silent: silent})
	return err
}

// Orphans lists in-flight messages at least threshold old.
func (t *HTTPTransport) Orphans(ctx context.Context, threshold time.Duration) ([]*queue.Message, error) {
	path := "/v1/queue/orphans?threshold_ms=" + strconv.FormatInt(threshold.Milliseconds(), 10)
	_, data, err := t.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp httpserver.OrphansResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	out := make([]*queue.Message, 0, len(resp.Messages))
	for _, raw := range resp.Messages {
		m, err := httpserver.DecodeMessage(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Recover asks the server to run one recovery sweep.
func (t *HTTPTransport) Recover(ctx context.Context) (int, error) {
	_, data, err := t.do(ctx, http.MethodPost, "/v1/queue/recover", nil)
	if err != nil {
		return 0, err
	}
	var resp httpserver.RecoverResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, err
	}
	return resp.Requeued, nil
}

// Stats fetches queue statistics.
func (t *HTTPTransport) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	_, data, err := t.do(ctx, http.MethodGet, "/v1/queue/stats", nil)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, err
	}
	return st, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

var _ QueueTransport = (*HTTPTransport)(nil)
