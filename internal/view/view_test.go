package view

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ppriyankuu-student/causalkv/internal/clock"
)

func sampleView() View {
	return View{
		"shard-a": {{ID: 0, Address: "n0:8081"}, {ID: 1, Address: "n1:8081"}},
		"shard-b": {{ID: 2, Address: "n2:8081"}},
	}
}

func TestShardFor(t *testing.T) {
	v := sampleView()
	shard, ok := ShardFor(v, 1)
	assert.True(t, ok)
	assert.Equal(t, ShardName("shard-a"), shard)

	_, ok = ShardFor(v, 99)
	assert.False(t, ok)
}

func TestPeersExceptExcludesSelf(t *testing.T) {
	v := sampleView()
	peers := v.PeersExcept("shard-a", 0)
	assert.Len(t, peers, 1)
	assert.Equal(t, clock.NodeID(1), peers[0].ID)
}

func TestAllNodeIDsCoversEveryShard(t *testing.T) {
	v := sampleView()
	ids := v.AllNodeIDs()
	assert.ElementsMatch(t, []clock.NodeID{0, 1, 2}, ids)
}

func TestCopyIsIndependent(t *testing.T) {
	v := sampleView()
	cp := v.Copy()
	cp["shard-a"][0].Address = "changed"
	assert.Equal(t, "n0:8081", v["shard-a"][0].Address)
}
