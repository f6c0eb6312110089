// Package view holds the cluster membership data model: shard names, node
// descriptors, and the View that maps one to the other. The types here are
// intentionally inert — no lock, no store, no ring — so both internal/node
// (which owns the live view) and internal/api (which serializes it over
// the wire) can depend on it without a cycle.
package view

import "github.com/ppriyankuu-student/causalkv/internal/clock"

// ShardName identifies one shard. Shard membership, not node identity, is
// what the hash ring operates over.
type ShardName string

// NodeDescriptor is one node's address as known to the rest of the
// cluster, the wire equivalent of the teacher's cluster.Node.
type NodeDescriptor struct {
	ID      clock.NodeID `json:"id"`
	Address string       `json:"address"`
}

// View is the full cluster membership: every shard and its ordered member
// list, as installed by the most recent PUT /view.
type View map[ShardName][]NodeDescriptor

// Copy returns a deep-enough copy: shard slices are copied, NodeDescriptor
// values are immutable so a shallow element copy suffices.
func (v View) Copy() View {
	out := make(View, len(v))
	for shard, nodes := range v {
		cp := make([]NodeDescriptor, len(nodes))
		copy(cp, nodes)
		out[shard] = cp
	}
	return out
}

// AllNodeIDs returns every NodeID named anywhere in the view, used to
// extend vector clock memberships on install.
func (v View) AllNodeIDs() []clock.NodeID {
	var out []clock.NodeID
	for _, nodes := range v {
		for _, n := range nodes {
			out = append(out, n.ID)
		}
	}
	return out
}

// ShardFor returns the shard self belongs to in this view, if any.
func ShardFor(v View, self clock.NodeID) (ShardName, bool) {
	for shard, nodes := range v {
		for _, n := range nodes {
			if n.ID == self {
				return shard, true
			}
		}
	}
	return "", false
}

// ShardNames returns the view's shard names, order unspecified.
func (v View) ShardNames() []ShardName {
	out := make([]ShardName, 0, len(v))
	for s := range v {
		out = append(out, s)
	}
	return out
}

// PeersExcept returns shard's member list with self removed.
func (v View) PeersExcept(shard ShardName, self clock.NodeID) []NodeDescriptor {
	members := v[shard]
	out := make([]NodeDescriptor, 0, len(members))
	for _, n := range members {
		if n.ID != self {
			out = append(out, n)
		}
	}
	return out
}
