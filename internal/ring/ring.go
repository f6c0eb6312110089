// Package ring implements a consistent hash ring over shard names, used to
// decide which shard owns a given key.
//
// Why not hash(key) % N? Because adding or removing a shard would remap
// almost every key. Instead each shard is placed at V points ("virtual
// nodes") around a ring of hash space; a key belongs to the shard owning
// the first point at or after the key's own hash position. Only keys
// between the moved points need to relocate.
package ring

import (
	"crypto/md5"
	"fmt"
	"math/big"
	"sort"
	"sync"
)

// DefaultVirtualNodes is the number of ring positions contributed by each
// shard (spec reference value V=100).
const DefaultVirtualNodes = 100

type vnode struct {
	position *big.Int
	shard    string
}

// Ring is a consistent hash ring over ShardNames. Safe for concurrent use.
type Ring struct {
	mu          sync.RWMutex
	virtual     int
	points      []vnode // sorted by position
	shards      []string
}

// New creates an empty ring with the given virtual-node count (defaults to
// DefaultVirtualNodes if v <= 0).
func New(v int) *Ring {
	if v <= 0 {
		v = DefaultVirtualNodes
	}
	return &Ring{virtual: v}
}

// Update rebuilds the ring from scratch for the given shard set — an
// atomic swap, never an incremental mutation. Operators install the same
// shard set (by name) on every node, so every node computes an identical
// ring from the same input.
func (r *Ring) Update(shards []string) {
	points := make([]vnode, 0, len(shards)*r.virtual)
	for _, shard := range shards {
		for i := 0; i < r.virtual; i++ {
			points = append(points, vnode{position: hashVnode(shard, i), shard: shard})
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].position.Cmp(points[j].position) < 0 })

	sorted := make([]string, len(shards))
	copy(sorted, shards)
	sort.Strings(sorted)

	r.mu.Lock()
	r.points = points
	r.shards = sorted
	r.mu.Unlock()
}

// Lookup returns the shard owning key: the first virtual node with position
// >= hash(key), wrapping around to index 0 if none is found.
func (r *Ring) Lookup(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.points) == 0 {
		return "", false
	}
	h := hashKey(key)
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i].position.Cmp(h) >= 0 })
	if idx == len(r.points) {
		idx = 0
	}
	return r.points[idx].shard, true
}

// Redistribute applies Lookup to every key and groups the result by shard.
func (r *Ring) Redistribute(keys []string) map[string][]string {
	out := make(map[string][]string)
	for _, k := range keys {
		shard, ok := r.Lookup(k)
		if !ok {
			continue
		}
		out[shard] = append(out[shard], k)
	}
	return out
}

// Shards returns the sorted set of shard names currently on the ring.
func (r *Ring) Shards() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.shards))
	copy(out, r.shards)
	return out
}

// hashVnode hashes the "{shard}#{i}" virtual-node key with MD5, reinterpreted
// as a large unsigned integer — the spec's reference hash for the ring.
func hashVnode(shard string, i int) *big.Int {
	return hashKey(fmt.Sprintf("%s#%d", shard, i))
}

func hashKey(s string) *big.Int {
	sum := md5.Sum([]byte(s))
	return new(big.Int).SetBytes(sum[:])
}
