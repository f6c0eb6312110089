// Package clock implements the per-key vector clock protocol: comparison,
// pairwise-max merge, deterministic concurrent tie-break, and view re-keying.
//
// Each stored key owns one VectorClock. Entries default to zero; a clock's
// membership grows (never shrinks) as nodes join the installed view, so
// causal history survives even after a node leaves (see UpdateView).
package clock

import (
	"encoding/json"
	"sort"
	"strconv"
)

// NodeID identifies a node for the lifetime of the process. Configured
// out-of-band (NODE_IDENTIFIER); stable, non-negative.
type NodeID int

// VectorClock maps NodeID to a logical counter. Missing entries are zero.
type VectorClock map[NodeID]uint64

// DepSet maps a key to the VectorClock a caller has observed for it. Both
// a client's causal-metadata (M_c: k -> VectorClock) and a stored key's
// per-key dependency set (D[k]: k' -> VectorClock) share this shape.
type DepSet map[string]VectorClock

// Copy returns a deep copy of a DepSet (clocks included).
func (d DepSet) Copy() DepSet {
	out := make(DepSet, len(d))
	for k, vc := range d {
		out[k] = vc.Copy()
	}
	return out
}

// New returns a clock with the given membership, all counters at zero.
func New(members ...NodeID) VectorClock {
	vc := make(VectorClock, len(members))
	for _, id := range members {
		vc[id] = 0
	}
	return vc
}

// Copy returns a deep copy. Maps are reference types in Go; callers must
// copy before handing a clock to code that might mutate it independently.
func (vc VectorClock) Copy() VectorClock {
	out := make(VectorClock, len(vc))
	for id, n := range vc {
		out[id] = n
	}
	return out
}

// Increment bumps this node's own counter. Only the node that commits a
// local write may call this for its own id — every other update to a clock
// must go through Merge (pairwise-max), which is monotone and commutative.
func (vc VectorClock) Increment(id NodeID) {
	vc[id]++
}

// Relation is the result of comparing two vector clocks.
type Relation int

const (
	Equal Relation = iota
	Less
	Greater
	Concurrent
)

// Compare returns how vc relates to other. Let N be the union of NodeIDs in
// both clocks, zero-filled for absent entries. Only-less-than -> Less;
// only-greater-than -> Greater; neither -> Equal; both -> Concurrent.
func (vc VectorClock) Compare(other VectorClock) Relation {
	less, more := false, false
	for id := range union(vc, other) {
		a, b := vc[id], other[id]
		switch {
		case a < b:
			less = true
		case a > b:
			more = true
		}
	}
	switch {
	case less && more:
		return Concurrent
	case less:
		return Less
	case more:
		return Greater
	default:
		return Equal
	}
}

// GreaterOrEqual reports vc >= other: either dominates or the tie-break
// picks vc. This is the admissibility test used by the causal gate.
func (vc VectorClock) GreaterOrEqual(other VectorClock) bool {
	switch vc.Compare(other) {
	case Equal, Greater:
		return true
	case Concurrent:
		winner, ok := TieBreak(vc, other)
		return ok && winner.equalsByValue(vc)
	default:
		return false
	}
}

// Merge returns the entrywise (pairwise) max of vc and other, over the
// union of both memberships.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	out := make(VectorClock, len(vc)+len(other))
	for id := range union(vc, other) {
		a, b := vc[id], other[id]
		if a > b {
			out[id] = a
		} else {
			out[id] = b
		}
	}
	return out
}

// UpdateView extends vc's membership with newNodes, at value zero for any
// id not already present. Never removes existing entries: a node leaving
// the view must not erase the causal history it contributed.
func (vc VectorClock) UpdateView(newNodes ...NodeID) {
	for _, id := range newNodes {
		if _, ok := vc[id]; !ok {
			vc[id] = 0
		}
	}
}

// TieBreak deterministically picks a winner between two concurrent clocks.
// NodeIDs in the union are visited in ascending numeric order; the first
// position where the two clocks differ decides the winner (larger value
// wins — a node present in only one clock with a positive value also
// wins, since the other side is implicitly zero). If every position is
// equal, there is no winner (ok=false): Compare would have said Equal, not
// Concurrent, so callers should treat that as a programming error upstream.
//
// This must be identical on every node for convergence (I3, I6). The
// source this protocol is modeled on also contains a commented-out
// "largest sum wins" variant; that variant is NOT used here — only this
// position-first rule gives the same answer regardless of which side of
// the comparison is older by sum.
func TieBreak(a, b VectorClock) (winner VectorClock, ok bool) {
	ids := unionIDs(a, b)
	for _, id := range ids {
		av, bv := a[id], b[id]
		if av == bv {
			continue
		}
		if av > bv {
			return a, true
		}
		return b, true
	}
	return nil, false
}

func (vc VectorClock) equalsByValue(other VectorClock) bool {
	for id := range union(vc, other) {
		if vc[id] != other[id] {
			return false
		}
	}
	return true
}

func union(a, b VectorClock) map[NodeID]struct{} {
	ids := make(map[NodeID]struct{}, len(a)+len(b))
	for id := range a {
		ids[id] = struct{}{}
	}
	for id := range b {
		ids[id] = struct{}{}
	}
	return ids
}

func unionIDs(a, b VectorClock) []NodeID {
	set := union(a, b)
	ids := make([]NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MarshalJSON encodes the clock as {"node_id_string": integer}, per the
// wire format this store exposes to clients.
func (vc VectorClock) MarshalJSON() ([]byte, error) {
	out := make(map[string]uint64, len(vc))
	for id, n := range vc {
		out[strconv.Itoa(int(id))] = n
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes {"node_id_string": integer} into a VectorClock.
func (vc *VectorClock) UnmarshalJSON(data []byte) error {
	var raw map[string]uint64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(VectorClock, len(raw))
	for k, n := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return err
		}
		out[NodeID(id)] = n
	}
	*vc = out
	return nil
}
