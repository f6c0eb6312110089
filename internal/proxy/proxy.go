// Package proxy forwards a data operation to every node of a shard this
// node does not own, and relays whichever response comes back first.
// Grounded on the foreign-shard forwarding loop in get_data.py/put_data.py:
// fan out to the whole shard concurrently, retry the round if none
// answers, keep retrying until the caller's own deadline gives up.
package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppriyankuu-student/causalkv/internal/telemetry"
	"github.com/ppriyankuu-student/causalkv/internal/transport"
	"github.com/ppriyankuu-student/causalkv/internal/view"
)

// RetryInterval is the pause between forwarding rounds when no node in
// the shard answered with a usable response.
const RetryInterval = time.Second

// Forward fans out method+path+body to every node in nodes concurrently
// and returns the first response with status < 400. If none succeed it
// waits RetryInterval and tries the whole shard again, until ctx is
// done — the request's own deadline is what eventually gives up. metrics
// may be nil.
func Forward(ctx context.Context, client *transport.Client, nodes []view.NodeDescriptor, method, path string, body []byte, metrics *telemetry.Metrics) (*http.Response, error) {
	for {
		if resp := attemptRound(ctx, client, nodes, method, path, body); resp != nil {
			observe(metrics, "success")
			return resp, nil
		}
		select {
		case <-ctx.Done():
			observe(metrics, "timeout")
			return nil, ctx.Err()
		case <-time.After(RetryInterval):
			observe(metrics, "retry")
		}
	}
}

func observe(m *telemetry.Metrics, outcome string) {
	if m != nil {
		m.ProxyForwardsTotal.WithLabelValues(outcome).Inc()
	}
}

func attemptRound(ctx context.Context, client *transport.Client, nodes []view.NodeDescriptor, method, path string, body []byte) *http.Response {
	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		resp *http.Response
		err  error
	}
	results := make(chan outcome, len(nodes))

	var g errgroup.Group
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			resp, err := client.Forward(roundCtx, method, n.Address+path, body)
			results <- outcome{resp, err}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	var winner *http.Response
	for r := range results {
		switch {
		case r.err != nil:
			continue
		case winner == nil && r.resp.StatusCode < 400:
			// The body is bound to roundCtx; read it in full before
			// cancelling so the caller can still relay it.
			data, err := io.ReadAll(r.resp.Body)
			r.resp.Body.Close()
			if err != nil {
				continue
			}
			r.resp.Body = io.NopCloser(bytes.NewReader(data))
			winner = r.resp
			cancel()
		default:
			r.resp.Body.Close()
		}
	}
	return winner
}
