// Package transport is the one place that speaks HTTP to peer nodes:
// request construction, the Node-Id header every inbound handler expects,
// and the retry budget used by replication and view-change copies (gossip
// rounds are single attempts). Grounded on
// torua's cluster.PostJSON/GetJSON helper shape and the teacher's
// replicator sendReplicateRequest/doHTTPReplicate retry loop.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ppriyankuu-student/causalkv/internal/clock"
)

// NodeIDHeader carries the sending node's identity on every internal
// request, mirroring the original protocol's Node-Id header.
const NodeIDHeader = "Node-Id"

// Client issues JSON requests to peer nodes, tagging each with this
// node's identity.
type Client struct {
	hc   *http.Client
	self clock.NodeID
}

// New returns a Client. The http.Client carries no default timeout —
// callers supply deadlines via context, since gate waits, gossip rounds,
// and replication retries each need a different budget.
func New(self clock.NodeID) *Client {
	return &Client{hc: &http.Client{}, self: self}
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(NodeIDHeader, strconv.Itoa(int(c.self)))
	return c.hc.Do(req)
}

// PostJSON sends payload as a JSON POST body and decodes the response
// body into out (if out is non-nil). The caller owns response lifetime
// via ctx; the response body is always closed before returning.
func (c *Client) PostJSON(ctx context.Context, url string, payload, out any) error {
	return c.jsonRoundTrip(ctx, http.MethodPost, url, payload, out)
}

// PutJSON is PostJSON with method PUT.
func (c *Client) PutJSON(ctx context.Context, url string, payload, out any) error {
	return c.jsonRoundTrip(ctx, http.MethodPut, url, payload, out)
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.jsonRoundTrip(ctx, http.MethodGet, url, nil, out)
}

func (c *Client) jsonRoundTrip(ctx context.Context, method, url string, payload, out any) error {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = b
	}
	resp, err := c.do(ctx, method, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: data}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StatusError reports a non-2xx HTTP response from a peer.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer returned status %d: %s", e.Code, e.Body)
}

// PostJSONWithRetry retries a POST up to retries additional times
// (attempts = retries+1), each attempt bounded by perAttempt, returning
// nil on the first response under 400. Used for the best-effort
// broadcast-on-write path where an origin write must not propagate a
// peer's transient failure back to the client.
func (c *Client) PostJSONWithRetry(ctx context.Context, url string, payload any, retries int, perAttempt time.Duration) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		lastErr = c.PostJSON(attemptCtx, url, payload, nil)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// PutJSONWithRetry is PostJSONWithRetry with method PUT, used for the
// best-effort view-change copy pushes.
func (c *Client) PutJSONWithRetry(ctx context.Context, url string, payload any, retries int, perAttempt time.Duration) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		lastErr = c.PutJSON(attemptCtx, url, payload, nil)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// Forward relays method/body to url and returns the raw response so the
// caller can copy status, headers, and body verbatim, as the proxy must.
func (c *Client) Forward(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	return c.do(ctx, method, url, body)
}
