// Package gossip runs the background anti-entropy loop: round-robin
// through the shard's peers, exchange full snapshots over /copy, and
// merge in whatever the peer knows that this node doesn't. It is the
// convergence backstop for writes that broadcast never delivered.
//
// Grounded on the async gossip loop in the source this protocol is
// modeled on: reset-to-index-0 and sleep EmptyPeersSleep on an empty or
// out-of-range peer list, skip self with that same EmptyPeersSleep pause,
// one /copy round-trip per peer with its own short timeout and no retry,
// then a fixed RoundSleep pause before the next peer.
package gossip

import (
	"context"
	"time"

	"github.com/ppriyankuu-student/causalkv/internal/clock"
	"github.com/ppriyankuu-student/causalkv/internal/telemetry"
	"github.com/ppriyankuu-student/causalkv/internal/transport"
	"github.com/ppriyankuu-student/causalkv/internal/view"
)

const (
	// EmptyPeersSleep is how long the loop waits before re-checking the
	// peer list when it is empty or the round index has run past it.
	EmptyPeersSleep = 3 * time.Second
	// PeerTimeout bounds a single /copy round-trip; a peer that misses
	// it is skipped for this round, not retried.
	PeerTimeout = 4 * time.Second
	// RoundSleep is the pause after a completed /copy round-trip before
	// advancing to the next peer.
	RoundSleep = time.Second

	copyPath = "/copy"
)

// Snapshot is the full node state exchanged over /copy: every stored
// key's value and its complete dependency set.
type Snapshot struct {
	NodeID         clock.NodeID           `json:"node_id,omitempty"`
	KVStore        map[string]string      `json:"kvstore"`
	CausalMetadata map[string]clock.DepSet `json:"causal-metadata"`
	Type           string                 `json:"type,omitempty"`
}

// PeerSource supplies the current shard peer list and this node's own
// id; it changes as views install, so gossip always reads it fresh
// rather than caching a copy at startup.
type PeerSource interface {
	SelfID() clock.NodeID
	ShardPeers() []view.NodeDescriptor
}

// StateSource snapshots local state for the outgoing exchange and
// applies whatever a peer sends back.
type StateSource interface {
	Snapshot() Snapshot
	MergeSnapshot(snap Snapshot) Snapshot
}

// Loop is one running anti-entropy process for a node.
// Loop is one running anti-entropy process for a node. Whether a merge
// may cross shard ownership (the "-gossip-accept-foreign" escape hatch)
// is a property of the StateSource the caller hands in, not of the loop
// itself — off by default, since disowned keys should wait on a proper
// view-change copy rather than an opportunistic gossip merge.
type Loop struct {
	peers     PeerSource
	state     StateSource
	transport *transport.Client
	metrics   *telemetry.Metrics

	index int
}

// New returns a gossip Loop. It does nothing until Run is called. metrics
// may be nil.
func New(peers PeerSource, state StateSource, t *transport.Client, metrics *telemetry.Metrics) *Loop {
	return &Loop{peers: peers, state: state, transport: t, metrics: metrics}
}

// Run blocks, gossiping until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !l.step(ctx) {
			if !sleep(ctx, EmptyPeersSleep) {
				return
			}
			continue
		}
	}
}

// step runs one round for the current index, advancing it. Returns
// false if the index had to reset (empty or exhausted peer list), in
// which case the caller applies EmptyPeersSleep instead of RoundSleep.
func (l *Loop) step(ctx context.Context) bool {
	peers := l.peers.ShardPeers()
	if len(peers) == 0 || l.index >= len(peers) {
		l.index = 0
		return false
	}

	peer := peers[l.index]
	l.index++

	if peer.ID == l.peers.SelfID() {
		l.observe("skipped_self")
		sleep(ctx, EmptyPeersSleep)
		return true
	}

	reqCtx, cancel := context.WithTimeout(ctx, PeerTimeout)
	defer cancel()

	out := l.state.Snapshot()
	var resp Snapshot
	if err := l.transport.PutJSON(reqCtx, peer.Address+copyPath, out, &resp); err == nil {
		l.state.MergeSnapshot(resp)
		l.observe("merged")
	} else {
		l.observe("timeout")
	}

	sleep(ctx, RoundSleep)
	return true
}

func (l *Loop) observe(outcome string) {
	if l.metrics != nil {
		l.metrics.GossipRoundsTotal.WithLabelValues(outcome).Inc()
	}
}

// sleep waits for d or ctx cancellation, returning false if cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
