// Package transport issues mutation requests against the dashboard API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/finboard/finboard/internal/errors"
)

// Request describes a single mutation to send. Payload is omitted from the
// wire for DELETE and for empty payload maps.
type Request struct {
	URL     string
	Method  string
	Payload map[string]interface{}
}

// Response is the decoded result of a successful (2xx) request. Body is nil
// when the server returned no JSON object.
type Response struct {
	StatusCode int
	Body       map[string]interface{}
}

// Client sends mutation requests. Implementations return an error for
// network failures and non-2xx statuses alike; the sync engine treats both
// as retryable transport failures.
type Client interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// HTTPClient is the production Client over net/http.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates an HTTPClient. Relative request URLs are resolved
// against baseURL. Timeout <= 0 selects 30 seconds.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Do sends the request and decodes any JSON response body.
func (c *HTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Method != http.MethodDelete && len(req.Payload) > 0 {
		data, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode payload", err)
		}
		body = bytes.NewReader(data)
	}

	url := req.URL
	if strings.HasPrefix(url, "/") {
		url = c.baseURL + url
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to build request", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransportFailure, "request failed", err)
	}
	defer resp.Body.Close()

	decoded := decodeJSONObject(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.Newf(apperrors.ErrTransportFailure,
			"%s %s returned HTTP %d", req.Method, req.URL, resp.StatusCode)
	}

	return &Response{StatusCode: resp.StatusCode, Body: decoded}, nil
}

// decodeJSONObject decodes a JSON object body, tolerating empty or non-JSON
// responses.
func decodeJSONObject(r io.Reader) map[string]interface{} {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil || len(data) == 0 {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// UpdatedAt extracts the server timestamp from a response body, accepting
// RFC3339 strings and epoch seconds or milliseconds. Returns nil when the
// body carries no usable timestamp.
func (r *Response) UpdatedAt() *time.Time {
	if r == nil || r.Body == nil {
		return nil
	}
	return ParseTimestamp(r.Body["updated_at"])
}

// ParseTimestamp converts a JSON value to a timestamp. Numeric values above
// 1e12 are treated as epoch millis, otherwise epoch seconds.
func ParseTimestamp(v interface{}) *time.Time {
	switch ts := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return &t
		}
	case float64:
		var t time.Time
		if ts > 1e12 {
			t = time.UnixMilli(int64(ts))
		} else {
			t = time.Unix(int64(ts), 0)
		}
		return &t
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)

// String returns a loggable summary of the request.
func (r *Request) String() string {
	return fmt.Sprintf("%s %s", r.Method, r.URL)
}
