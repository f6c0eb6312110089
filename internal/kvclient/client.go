// Package kvclient is a Go SDK for talking to a causalkv cluster: it
// carries the causal-metadata a server returns forward into the next
// call, the way any well-behaved client of this protocol must. Grounded
// on the teacher's internal/client package (same request/response shape,
// same error wrapping), re-pointed at the causal endpoints.
package kvclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ppriyankuu-student/causalkv/internal/clock"
)

// ErrNotFound is returned by Get when the server reports the key absent.
var ErrNotFound = errors.New("kvclient: key not found")

// APIError wraps a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kvclient: server returned %d: %s", e.StatusCode, e.Message)
}

// Client is a single-node entry point into the cluster. Any node will
// proxy a request to the right shard, so one address is enough to reach
// the whole cluster, though talking to the owning shard directly avoids
// a hop.
type Client struct {
	baseURL string
	hc      *http.Client

	// Metadata is this client's accumulated causal-metadata (M_c): the
	// last value the server returned for whichever key or bulk read it
	// most recently answered. Callers that need independent causal
	// sessions should use separate Clients.
	Metadata clock.DepSet
}

// New returns a Client pointed at baseURL (e.g. "http://node0:8081").
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, hc: &http.Client{}, Metadata: clock.DepSet{}}
}

type putResponse struct {
	Message        string       `json:"message"`
	CausalMetadata clock.DepSet `json:"causal-metadata"`
}

type getResponse struct {
	Value          string       `json:"value"`
	Message        string       `json:"message"`
	CausalMetadata clock.DepSet `json:"causal-metadata"`
}

// Put writes key=value, sending this client's accumulated metadata as
// the write's declared dependencies, and updates Metadata from the
// response.
func (c *Client) Put(ctx context.Context, key, value string) error {
	body, err := json.Marshal(map[string]any{"value": value, "causal-metadata": c.Metadata})
	if err != nil {
		return err
	}
	var out putResponse
	if err := c.do(ctx, http.MethodPut, "/data/"+key, body, &out); err != nil {
		return err
	}
	c.Metadata = out.CausalMetadata
	return nil
}

// Get reads key. ErrNotFound is returned if the server reports it
// absent; Metadata is still updated in that case.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	body, err := json.Marshal(map[string]any{"causal-metadata": c.Metadata})
	if err != nil {
		return "", err
	}
	var out getResponse
	statusErr := c.do(ctx, http.MethodGet, "/data/"+key, body, &out)
	if statusErr != nil {
		var apiErr *APIError
		if errors.As(statusErr, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			c.Metadata = out.CausalMetadata
			return "", ErrNotFound
		}
		return "", statusErr
	}
	c.Metadata = out.CausalMetadata
	return out.Value, nil
}

// ViewGet fetches the currently installed view from baseURL's node.
func (c *Client) ViewGet(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/view", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ViewPut installs a new cluster view at baseURL's node.
func (c *Client) ViewPut(ctx context.Context, viewJSON json.RawMessage) error {
	return c.do(ctx, http.MethodPut, "/view", viewJSON, nil)
}

// Ping checks that baseURL's node answers.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/ping", nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		var errBody struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&errBody)
		return &APIError{StatusCode: resp.StatusCode, Message: errBody.Message}
	}
	if resp.StatusCode == http.StatusNotFound {
		if out != nil {
			json.NewDecoder(resp.Body).Decode(out)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: "not found"}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
