// Package kvstore holds the in-memory key/value data and the per-key
// causal dependency sets that make up a shard's state.
//
// There is no durability layer here (no WAL, no snapshot-to-disk): the
// spec this store implements treats process state as ephemeral, rebuilt
// by replication and gossip after a restart, not by replaying a log.
// Callers are responsible for all synchronization; Store itself holds no
// lock, and internal/node guards it with its single process-wide mutex.
package kvstore

import "github.com/ppriyankuu-student/causalkv/internal/clock"

// Store is a shard's local key/value data plus, for every key it has ever
// held, the set of keys (including itself) that write depended on.
type Store struct {
	kv   map[string]string
	deps map[string]clock.DepSet
}

// New returns an empty store.
func New() *Store {
	return &Store{
		kv:   make(map[string]string),
		deps: make(map[string]clock.DepSet),
	}
}

// Has reports whether key currently has a value.
func (s *Store) Has(key string) bool {
	_, ok := s.kv[key]
	return ok
}

// Get returns key's current value.
func (s *Store) Get(key string) (string, bool) {
	v, ok := s.kv[key]
	return v, ok
}

// Keys returns every key this store currently holds a value for.
func (s *Store) Keys() []string {
	out := make([]string, 0, len(s.kv))
	for k := range s.kv {
		out = append(out, k)
	}
	return out
}

// OwnClock returns deps[key][key], the key's own vector clock, or a fresh
// zero clock over members if the key has never been written.
func (s *Store) OwnClock(key string, members []clock.NodeID) clock.VectorClock {
	if d, ok := s.deps[key]; ok {
		if vc, ok := d[key]; ok {
			return vc
		}
	}
	return clock.New(members...)
}

// DepsOf returns a copy of key's full dependency set (empty if unknown).
func (s *Store) DepsOf(key string) clock.DepSet {
	d, ok := s.deps[key]
	if !ok {
		return clock.DepSet{}
	}
	return d.Copy()
}

// AllOwnClocks returns, for every key this store has dependency data for
// (whether or not it currently has a live value — a tombstoned key keeps
// its clock), a copy of that key's own vector clock. Used to answer
// GET /data's bulk causal-metadata response.
func (s *Store) AllOwnClocks() clock.DepSet {
	out := make(clock.DepSet, len(s.deps))
	for k, d := range s.deps {
		if vc, ok := d[k]; ok {
			out[k] = vc.Copy()
		}
	}
	return out
}

// LocalPut applies a client-originated write: client dependencies merge
// into the key's dependency set, the writing node's own counter for the
// key increments once, then the value and dependency set are stored.
// Returns a copy of the key's updated dependency set, which becomes the
// causal-metadata returned to the client for this write.
//
// Mirrors put_data.py: merge-then-increment, never the other order —
// the increment must land after absorbing whatever the client already
// saw, or a client's own prior write could look concurrent with itself.
func (s *Store) LocalPut(key, value string, self clock.NodeID, members []clock.NodeID, clientDeps clock.DepSet) clock.DepSet {
	local, ok := s.deps[key]
	if !ok {
		local = clock.DepSet{}
	}
	for depKey, depClock := range clientDeps {
		l, ok := local[depKey]
		if !ok {
			l = clock.New(members...)
		}
		local[depKey] = l.Merge(depClock)
	}
	own, ok := local[key]
	if !ok {
		own = clock.New(members...)
	}
	own.Increment(self)
	local[key] = own

	s.deps[key] = local
	s.kv[key] = value
	return local.Copy()
}

// Merge folds a remote key's dependency set and value into local state.
// It is the single place that decides whether an incoming value wins:
//
//  1. Every dependency key the incoming set mentions has its clock
//     membership extended (in both directions) so later comparisons
//     never see a spurious "missing entry" as a real divergence.
//  2. For the target key itself, if the incoming clock dominates the
//     local one (or wins the deterministic tie-break when concurrent),
//     the incoming value replaces the local one.
//  3. Every dependency clock, including the target key's own, is then
//     set to the pairwise max of local and incoming — this always
//     happens, independent of whether the value changed, because
//     causal history must accumulate even for a write that lost.
//
// hasValue distinguishes a PUT (value is meaningful) from a DELETE
// (value is cleared on a win, the dependency bookkeeping is identical).
// Grounded on util.py's update_metadata.
func (s *Store) Merge(key string, incoming clock.DepSet, value string, hasValue bool) (valueChanged bool) {
	local, ok := s.deps[key]
	if !ok {
		local = clock.DepSet{}
	}

	for depKey, remoteClock := range incoming {
		localClock, ok := local[depKey]
		if !ok {
			localClock = clock.VectorClock{}
		}
		localClock.UpdateView(idsOf(remoteClock)...)
		remoteClock.UpdateView(idsOf(localClock)...)
		local[depKey] = localClock
		incoming[depKey] = remoteClock
	}

	for depKey, remoteClock := range incoming {
		localClock, ok := local[depKey]
		if !ok {
			localClock = clock.VectorClock{}
		}
		if depKey == key {
			rel := remoteClock.Compare(localClock)
			wins := rel == clock.Greater
			if rel == clock.Concurrent {
				if w, ok := clock.TieBreak(remoteClock, localClock); ok {
					wins = w.Compare(remoteClock) == clock.Equal
				}
			}
			if wins {
				if hasValue {
					s.kv[key] = value
				} else {
					delete(s.kv, key)
				}
				valueChanged = true
			}
		}
		local[depKey] = localClock.Merge(remoteClock)
	}

	s.deps[key] = local
	return valueChanged
}

// AllDeps returns a copy of every key's dependency set, including
// tombstoned keys that carry no current value. Used to build the
// snapshot exchanged over gossip and view-change copies.
func (s *Store) AllDeps() map[string]clock.DepSet {
	out := make(map[string]clock.DepSet, len(s.deps))
	for k, d := range s.deps {
		out[k] = d.Copy()
	}
	return out
}

// ExtendAllMemberships widens every stored clock's membership to include
// members, at zero for any id not already present. Called when a view
// install adds nodes, so a clock already in flight never treats a
// newly-visible node as "doesn't exist" instead of "exists at zero".
func (s *Store) ExtendAllMemberships(members []clock.NodeID) {
	for _, d := range s.deps {
		for _, vc := range d {
			vc.UpdateView(members...)
		}
	}
}

// Delete removes a key and its dependency bookkeeping entirely. Used when
// a view change relocates a key to another shard, not for the replicated
// DELETE operation (which goes through Merge with hasValue=false so the
// tombstone's causal history survives).
func (s *Store) Delete(key string) {
	delete(s.kv, key)
	delete(s.deps, key)
}

func idsOf(vc clock.VectorClock) []clock.NodeID {
	out := make([]clock.NodeID, 0, len(vc))
	for id := range vc {
		out = append(out, id)
	}
	return out
}
