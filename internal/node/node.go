// Package node owns the single mutable record a running instance keeps:
// its store, its hash ring, its installed view, and its shard peer list.
// Every other package that touches this state goes through a *Node —
// there is no package-level shared singleton here, unlike the
// SharedData global this design replaces. One mutex guards all of it,
// the way the teacher guards a single store with one lock; the only
// difference is how much state sits behind that one lock.
package node

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppriyankuu-student/causalkv/internal/clock"
	"github.com/ppriyankuu-student/causalkv/internal/gate"
	"github.com/ppriyankuu-student/causalkv/internal/gossip"
	"github.com/ppriyankuu-student/causalkv/internal/kvstore"
	"github.com/ppriyankuu-student/causalkv/internal/replication"
	"github.com/ppriyankuu-student/causalkv/internal/ring"
	"github.com/ppriyankuu-student/causalkv/internal/telemetry"
	"github.com/ppriyankuu-student/causalkv/internal/transport"
	"github.com/ppriyankuu-student/causalkv/internal/view"
)

// ErrNotInView is returned for any data operation while this node has no
// installed view, or has been evicted from one.
var ErrNotInView = errors.New("node not in view")

// ViewCopyTimeout bounds a single relocation copy during a view install;
// ViewCopyRetries is the retry budget for it. Best-effort — a failed
// relocation copy is logged; keys whose destination shard accepted no copy
// stay in the local store, so a later view install pushes them again.
const (
	ViewCopyTimeout = time.Second
	ViewCopyRetries = 2
)

// Node is the mutable state one running instance owns.
type Node struct {
	mu sync.Mutex

	self      clock.NodeID
	transport *transport.Client
	logger    *zap.Logger
	metrics   *telemetry.Metrics

	strictProtocol bool

	store *kvstore.Store
	ring  *ring.Ring

	v      view.View
	shard  view.ShardName
	inView bool
	peers  []view.NodeDescriptor // shuffled current-shard membership, self included
}

// New returns a Node with no installed view; every data operation
// returns ErrNotInView until the first PUT /view.
func New(self clock.NodeID, t *transport.Client, logger *zap.Logger, metrics *telemetry.Metrics, strictProtocol bool) *Node {
	return &Node{
		self:           self,
		transport:      t,
		logger:         logger,
		metrics:        metrics,
		strictProtocol: strictProtocol,
		store:          kvstore.New(),
		ring:           ring.New(ring.DefaultVirtualNodes),
	}
}

// SelfID returns this node's configured identity.
func (n *Node) SelfID() clock.NodeID { return n.self }

// InView reports whether a view has been installed and still names this
// node.
func (n *Node) InView() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inView
}

// Shard returns the shard this node currently belongs to.
func (n *Node) Shard() view.ShardName {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shard
}

// CurrentView returns a copy of the installed view.
func (n *Node) CurrentView() view.View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.v.Copy()
}

// ShardPeers returns this node's current shard membership (self
// included), satisfying gossip.PeerSource.
func (n *Node) ShardPeers() []view.NodeDescriptor {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]view.NodeDescriptor, len(n.peers))
	copy(out, n.peers)
	return out
}

// OwningNodes returns the member list of the shard that owns key under
// the current ring, for the proxy to forward to.
func (n *Node) OwningNodes(key string) ([]view.NodeDescriptor, view.ShardName, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	shard, ok := n.ring.Lookup(key)
	if !ok {
		return nil, "", false
	}
	nodes := n.v[view.ShardName(shard)]
	out := make([]view.NodeDescriptor, len(nodes))
	copy(out, nodes)
	return out, view.ShardName(shard), true
}

// IsOwned reports whether key belongs to this node's own shard.
func (n *Node) IsOwned(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isOwnedLocked(key)
}

func (n *Node) isOwnedLocked(key string) bool {
	if !n.inView {
		return false
	}
	shard, ok := n.ring.Lookup(key)
	return ok && view.ShardName(shard) == n.shard
}

func (n *Node) admissibleLocked(key string, clientVC clock.VectorClock) bool {
	local := n.store.OwnClock(key, n.v.AllNodeIDs())
	return local.GreaterOrEqual(clientVC)
}

// GetKey answers GET /data/{key} for an owned key. owned=false tells the
// caller to proxy-forward instead. err is ErrNotInView or a gate timeout
// (ctx expiring while waiting to catch up to the client's view).
func (n *Node) GetKey(ctx context.Context, key string, clientMeta clock.DepSet, interval time.Duration) (value string, found, owned bool, updated clock.DepSet, err error) {
	n.mu.Lock()
	if !n.inView {
		n.mu.Unlock()
		return "", false, true, nil, ErrNotInView
	}
	if !n.isOwnedLocked(key) {
		n.mu.Unlock()
		return "", false, false, nil, nil
	}
	clientVC := clientMeta[key]
	admissible := n.admissibleLocked(key, clientVC)
	n.mu.Unlock()

	if !admissible {
		start := time.Now()
		waitErr := gate.Await(ctx, interval, func() (bool, error) {
			n.mu.Lock()
			ok := n.admissibleLocked(key, clientVC)
			n.mu.Unlock()
			return ok, nil
		})
		n.metrics.ObserveGateWait(time.Since(start))
		if waitErr != nil {
			return "", false, true, nil, waitErr
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	merged := mergeInto(clientMeta, n.store.DepsOf(key))
	v, ok := n.store.Get(key)
	return v, ok, true, merged, nil
}

// GetAll answers GET /data: every key in clientMeta this node owns must
// catch up before the response is assembled.
func (n *Node) GetAll(ctx context.Context, clientMeta clock.DepSet, interval time.Duration) (map[string]string, clock.DepSet, error) {
	n.mu.Lock()
	if !n.inView {
		n.mu.Unlock()
		return nil, nil, ErrNotInView
	}
	type pending struct {
		key string
		vc  clock.VectorClock
	}
	var waits []pending
	for key, vc := range clientMeta {
		if n.isOwnedLocked(key) && !n.admissibleLocked(key, vc) {
			waits = append(waits, pending{key, vc})
		}
	}
	n.mu.Unlock()

	for _, w := range waits {
		key, vc := w.key, w.vc
		start := time.Now()
		err := gate.Await(ctx, interval, func() (bool, error) {
			n.mu.Lock()
			ok := n.admissibleLocked(key, vc)
			n.mu.Unlock()
			return ok, nil
		})
		n.metrics.ObserveGateWait(time.Since(start))
		if err != nil {
			return nil, nil, err
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	items := make(map[string]string)
	for _, k := range n.store.Keys() {
		if v, ok := n.store.Get(k); ok {
			items[k] = v
		}
	}
	return items, n.store.AllOwnClocks(), nil
}

// PutKey answers PUT /data/{key} for an owned key. owned=false tells the
// caller to proxy-forward instead; peers is who to broadcast the write
// to.
func (n *Node) PutKey(key, value string, clientMeta clock.DepSet) (owned bool, updated clock.DepSet, peers []view.NodeDescriptor, err error) {
	n.mu.Lock()
	if !n.inView {
		n.mu.Unlock()
		return true, nil, nil, ErrNotInView
	}
	if !n.isOwnedLocked(key) {
		n.mu.Unlock()
		return false, nil, nil, nil
	}
	members := n.v.AllNodeIDs()
	updated = n.store.LocalPut(key, value, n.self, members, clientMeta)
	peers = n.v.PeersExcept(n.shard, n.self)
	n.mu.Unlock()
	return true, updated, peers, nil
}

// ApplyRemoteUpdate answers POST /update: the inbound side of the
// broadcast-on-write path. Stale and duplicate messages are dropped
// silently; an equal clock with a differing value is a protocol
// violation.
func (n *Node) ApplyRemoteUpdate(msg replication.UpdateMessage) (applied bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.isOwnedLocked(msg.Key) {
		return false
	}
	members := n.v.AllNodeIDs()
	local := n.store.OwnClock(msg.Key, members)
	remote, ok := msg.CausalMetadata[msg.Key]
	if !ok {
		remote = clock.New(members...)
	}

	switch remote.Compare(local) {
	case clock.Less:
		return false
	case clock.Equal:
		existing, has := n.store.Get(msg.Key)
		mismatch := false
		switch msg.Operation {
		case replication.OpPut:
			mismatch = !has || existing != msg.Value
		case replication.OpDelete:
			mismatch = has
		}
		if mismatch {
			n.reportProtocolViolation(msg.Key)
		}
		return false
	case clock.Concurrent:
		if winner, ok := clock.TieBreak(remote, local); ok && winner.Compare(local) == clock.Equal {
			return false
		}
	}

	n.store.Merge(msg.Key, msg.CausalMetadata, msg.Value, msg.Operation == replication.OpPut)
	return true
}

func (n *Node) reportProtocolViolation(key string) {
	if n.logger != nil {
		n.logger.Error("protocol violation: equal clocks with differing value", zap.String("key", key))
	}
	if n.metrics != nil {
		n.metrics.ProtocolViolationsTotal.Inc()
	}
	if n.strictProtocol {
		panic(fmt.Sprintf("protocol violation for key %q", key))
	}
}

// Snapshot returns this node's full local state, satisfying
// gossip.StateSource.
func (n *Node) Snapshot() gossip.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshotLocked()
}

func (n *Node) snapshotLocked() gossip.Snapshot {
	kv := make(map[string]string)
	for _, k := range n.store.Keys() {
		if v, ok := n.store.Get(k); ok {
			kv[k] = v
		}
	}
	return gossip.Snapshot{NodeID: n.self, KVStore: kv, CausalMetadata: n.store.AllDeps()}
}

// MergeSnapshot folds an incoming snapshot into local state, satisfying
// gossip.StateSource and backing the PUT /copy handler. A view_change
// snapshot is merged unconditionally (the sender decided these keys
// belong here); any other snapshot only updates keys this node already
// owns, unless acceptForeign widens that — the "-gossip-accept-foreign"
// escape hatch.
func (n *Node) MergeSnapshot(snap gossip.Snapshot, acceptForeign bool) gossip.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	allowForeign := snap.Type == "view_change" || acceptForeign
	for key, deps := range snap.CausalMetadata {
		if !allowForeign && !n.isOwnedLocked(key) {
			continue
		}
		value, hasValue := snap.KVStore[key]
		n.store.Merge(key, deps, value, hasValue)
	}
	return n.snapshotLocked()
}

// gossipAdapter pins an acceptForeign setting so Node can satisfy
// gossip.StateSource, whose single-arg MergeSnapshot signature has no
// room for a per-call override — the setting is process-wide config, not
// a per-request decision the way it is for PUT /copy.
type gossipAdapter struct {
	n             *Node
	acceptForeign bool
}

func (g gossipAdapter) Snapshot() gossip.Snapshot { return g.n.Snapshot() }
func (g gossipAdapter) MergeSnapshot(snap gossip.Snapshot) gossip.Snapshot {
	return g.n.MergeSnapshot(snap, g.acceptForeign)
}

// GossipStateSource adapts this node to gossip.StateSource, pinning the
// gossip-accept-foreign setting for the lifetime of the gossip loop.
func (n *Node) GossipStateSource(acceptForeign bool) gossip.StateSource {
	return gossipAdapter{n: n, acceptForeign: acceptForeign}
}

// ViewResult summarizes a completed view install.
type ViewResult struct {
	InView    bool
	Shard     view.ShardName
	Relocated map[view.ShardName][]string
}

// InstallView runs the full view-change algorithm: replace the view,
// rebuild the ring, widen every clock's membership, compute which
// locally-held keys now belong elsewhere, push those keys to their new
// owners over /copy, and — only if this node is still in the view —
// delete the keys that moved away to a shard where at least one node
// accepted the copy.
//
// Steps that touch the network run with the mutex released: holding a
// single process-wide lock across an HTTP round-trip would stall every
// other request on this node for as long as the slowest peer takes.
func (n *Node) InstallView(ctx context.Context, newView view.View) (ViewResult, error) {
	n.mu.Lock()
	n.v = newView.Copy()
	shard, inView := view.ShardFor(n.v, n.self)
	n.shard = shard
	n.inView = inView
	n.ring.Update(shardNameStrings(n.v.ShardNames()))
	n.store.ExtendAllMemberships(n.v.AllNodeIDs())

	var peers []view.NodeDescriptor
	if inView {
		peers = append([]view.NodeDescriptor(nil), n.v[shard]...)
		rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	}
	n.peers = peers

	relocations := make(map[view.ShardName][]string)
	payloads := make(map[view.ShardName]gossip.Snapshot)
	for destShardName, keys := range n.ring.Redistribute(n.store.Keys()) {
		destShard := view.ShardName(destShardName)
		if destShard == shard {
			continue
		}
		relocations[destShard] = keys
		payload := gossip.Snapshot{KVStore: map[string]string{}, CausalMetadata: map[string]clock.DepSet{}, Type: "view_change"}
		for _, key := range keys {
			if v, ok := n.store.Get(key); ok {
				payload.KVStore[key] = v
			}
			payload.CausalMetadata[key] = n.store.DepsOf(key)
		}
		payloads[destShard] = payload
	}
	targets := make(map[view.ShardName][]view.NodeDescriptor, len(relocations))
	for destShard := range relocations {
		targets[destShard] = append([]view.NodeDescriptor(nil), n.v[destShard]...)
	}
	n.mu.Unlock()

	delivered := make(map[view.ShardName][]string, len(targets))
	for destShard, nodes := range targets {
		payload := payloads[destShard]
		for _, target := range nodes {
			err := n.transport.PutJSONWithRetry(ctx, target.Address+"/copy", payload, ViewCopyRetries, ViewCopyTimeout)
			if err == nil {
				delivered[destShard] = relocations[destShard]
			} else if n.logger != nil {
				n.logger.Warn("view-change copy failed", zap.String("peer", target.Address), zap.Error(err))
			}
		}
	}

	if !inView {
		return ViewResult{InView: false}, nil
	}

	n.mu.Lock()
	for key := range flattenKeys(delivered) {
		n.store.Delete(key)
	}
	n.mu.Unlock()

	if n.metrics != nil {
		n.metrics.ViewInstallsTotal.Inc()
	}
	return ViewResult{InView: true, Shard: shard, Relocated: relocations}, nil
}

func flattenKeys(m map[view.ShardName][]string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, keys := range m {
		for _, k := range keys {
			out[k] = struct{}{}
		}
	}
	return out
}

func shardNameStrings(names []view.ShardName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

func mergeInto(client clock.DepSet, serverDeps clock.DepSet) clock.DepSet {
	out := client.Copy()
	for k, vc := range serverDeps {
		if existing, ok := out[k]; ok {
			out[k] = existing.Merge(vc)
		} else {
			out[k] = vc.Copy()
		}
	}
	return out
}
