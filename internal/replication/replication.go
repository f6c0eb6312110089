// Package replication broadcasts a committed local write to every other
// node of the owning shard, best-effort. Grounded on the teacher's
// replicator.go transport and retry shape, re-pointed from quorum
// ack-counting onto the fire-and-forget semantics of broadcast_info in
// the source this protocol is modeled on: the originating request never
// waits on a peer, and a peer that never acknowledges is gossip's
// problem, not the write path's.
package replication

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppriyankuu-student/causalkv/internal/clock"
	"github.com/ppriyankuu-student/causalkv/internal/transport"
	"github.com/ppriyankuu-student/causalkv/internal/view"
)

// Op tags a replicated write as a value-bearing PUT or a tombstoning
// DELETE. DELETE is carried on the wire so gossip and /update converge
// a deletion the same way a put converges a value, even though no public
// HTTP endpoint in this service issues one yet.
type Op string

const (
	OpPut    Op = "PUT"
	OpDelete Op = "DELETE"
)

// UpdateMessage is the POST /update body: one key's new dependency set
// and, for a PUT, its new value.
type UpdateMessage struct {
	Operation      Op            `json:"operation"`
	Key            string        `json:"key"`
	Value          string        `json:"value,omitempty"`
	CausalMetadata clock.DepSet  `json:"causal-metadata"`
}

const (
	// Retries is the number of additional attempts after the first,
	// matching the teacher's 3-retry replication budget.
	Retries = 3
	// AttemptTimeout bounds each individual delivery attempt.
	AttemptTimeout = 2 * time.Second
	updatePath     = "/update"
)

// Broadcaster fires UpdateMessages at a shard's other members in the
// background. Its Broadcast call returns immediately; failures are
// reported to onFailure rather than to the write path that triggered
// them.
type Broadcaster struct {
	client    *transport.Client
	onFailure func(peer view.NodeDescriptor, err error)
}

// New returns a Broadcaster using client for delivery. onFailure may be
// nil.
func New(client *transport.Client, onFailure func(view.NodeDescriptor, error)) *Broadcaster {
	if onFailure == nil {
		onFailure = func(view.NodeDescriptor, error) {}
	}
	return &Broadcaster{client: client, onFailure: onFailure}
}

// Broadcast schedules delivery of msg to every peer and returns without
// waiting for any of them. Each peer gets its own retry budget,
// independent of whether sibling peers succeed or fail — one slow or
// down node must never slow another's delivery.
func (b *Broadcaster) Broadcast(peers []view.NodeDescriptor, msg UpdateMessage) {
	if len(peers) == 0 {
		return
	}
	go func() {
		var g errgroup.Group
		for _, p := range peers {
			p := p
			g.Go(func() error {
				err := b.client.PostJSONWithRetry(context.Background(), p.Address+updatePath, msg, Retries, AttemptTimeout)
				if err != nil {
					b.onFailure(p, err)
				}
				return nil
			})
		}
		g.Wait()
	}()
}
