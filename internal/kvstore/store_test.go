package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppriyankuu-student/causalkv/internal/clock"
)

func TestLocalPutIncrementsOwnClock(t *testing.T) {
	s := New()
	members := []clock.NodeID{0, 1}

	deps := s.LocalPut("a", "v1", 0, members, clock.DepSet{})
	require.Contains(t, deps, "a")
	assert.Equal(t, uint64(1), deps["a"][0])

	deps2 := s.LocalPut("a", "v2", 0, members, deps)
	assert.Equal(t, uint64(2), deps2["a"][0])
	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestLocalPutMergesClientDeps(t *testing.T) {
	s := New()
	members := []clock.NodeID{0, 1}

	clientDeps := clock.DepSet{"other": clock.VectorClock{1: 5}}
	deps := s.LocalPut("a", "v1", 0, members, clientDeps)
	assert.Equal(t, uint64(5), deps["other"][1])
}

func TestMergeAppliesDominatingRemoteWrite(t *testing.T) {
	s := New()
	members := []clock.NodeID{0, 1}
	s.LocalPut("a", "local-v", 0, members, clock.DepSet{})

	remote := clock.DepSet{"a": clock.VectorClock{0: 1, 1: 1}}
	changed := s.Merge("a", remote, "remote-v", true)
	assert.True(t, changed)
	v, _ := s.Get("a")
	assert.Equal(t, "remote-v", v)
}

func TestMergeDropsStaleRemoteWrite(t *testing.T) {
	s := New()
	members := []clock.NodeID{0, 1}
	s.LocalPut("a", "v1", 0, members, clock.DepSet{})
	s.LocalPut("a", "v2", 0, members, clock.DepSet{})

	stale := clock.DepSet{"a": clock.VectorClock{0: 1}}
	changed := s.Merge("a", stale, "stale-v", true)
	assert.False(t, changed)
	v, _ := s.Get("a")
	assert.Equal(t, "v2", v)
}

func TestMergeConcurrentUsesTieBreak(t *testing.T) {
	s := New()
	// local clock for "a" is {0:5}, a concurrent remote {1:1} must be
	// compared with the same deterministic rule clock.TieBreak uses.
	s.deps["a"] = clock.DepSet{"a": clock.VectorClock{0: 5}}
	s.kv["a"] = "local-v"

	remote := clock.DepSet{"a": clock.VectorClock{1: 1}}
	winner, ok := clock.TieBreak(remote["a"], clock.VectorClock{0: 5})
	require.True(t, ok)
	localWins := winner.Compare(clock.VectorClock{0: 5}) == clock.Equal

	changed := s.Merge("a", remote, "remote-v", true)
	assert.Equal(t, !localWins, changed)
	v, _ := s.Get("a")
	if localWins {
		assert.Equal(t, "local-v", v)
	} else {
		assert.Equal(t, "remote-v", v)
	}
}

func TestMergeAlwaysAdvancesDependencyClock(t *testing.T) {
	s := New()
	s.deps["a"] = clock.DepSet{"a": clock.VectorClock{0: 1}}
	s.kv["a"] = "v1"

	stale := clock.DepSet{"a": clock.VectorClock{0: 0, 1: 9}}
	s.Merge("a", stale, "ignored", true)
	assert.Equal(t, uint64(9), s.deps["a"]["a"][1], "dependency clock must absorb the remote counter even when the value loses")
}

func TestMergeDeleteClearsValueOnWin(t *testing.T) {
	s := New()
	s.deps["a"] = clock.DepSet{"a": clock.VectorClock{0: 1}}
	s.kv["a"] = "v1"

	dominant := clock.DepSet{"a": clock.VectorClock{0: 2}}
	changed := s.Merge("a", dominant, "", false)
	assert.True(t, changed)
	assert.False(t, s.Has("a"))
	assert.Equal(t, uint64(2), s.deps["a"]["a"][0], "tombstone must keep its causal history")
}

func TestDeleteRemovesAllBookkeeping(t *testing.T) {
	s := New()
	s.LocalPut("a", "v1", 0, []clock.NodeID{0}, clock.DepSet{})
	s.Delete("a")
	assert.False(t, s.Has("a"))
	_, ok := s.deps["a"]
	assert.False(t, ok)
}

func TestAllOwnClocksOnlyReportsKeyOwnEntry(t *testing.T) {
	s := New()
	s.LocalPut("a", "v1", 0, []clock.NodeID{0}, clock.DepSet{"b": clock.VectorClock{0: 9}})
	clocks := s.AllOwnClocks()
	require.Contains(t, clocks, "a")
	_, hasB := clocks["b"]
	assert.False(t, hasB, "AllOwnClocks reports each key's own clock, not its dependency keys")
}
