package gossip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppriyankuu-student/causalkv/internal/clock"
	"github.com/ppriyankuu-student/causalkv/internal/transport"
	"github.com/ppriyankuu-student/causalkv/internal/view"
)

type fakePeers struct {
	self  clock.NodeID
	nodes []view.NodeDescriptor
}

func (f *fakePeers) SelfID() clock.NodeID               { return f.self }
func (f *fakePeers) ShardPeers() []view.NodeDescriptor { return f.nodes }

type fakeState struct {
	mu      sync.Mutex
	merges  int
	lastGot Snapshot
}

func (f *fakeState) Snapshot() Snapshot { return Snapshot{KVStore: map[string]string{"a": "1"}} }
func (f *fakeState) MergeSnapshot(snap Snapshot) Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges++
	f.lastGot = snap
	return snap
}

func TestStepSkipsSelfWithoutNetworkCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	peers := &fakePeers{self: 1, nodes: []view.NodeDescriptor{{ID: 1, Address: srv.URL}}}
	state := &fakeState{}
	l := New(peers, state, transport.New(1), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	l.step(ctx)
	assert.False(t, called)
}

func TestStepMergesPeerResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"kvstore":{"b":"2"},"causal-metadata":{}}`))
	}))
	defer srv.Close()

	peers := &fakePeers{self: 1, nodes: []view.NodeDescriptor{{ID: 2, Address: srv.URL}}}
	state := &fakeState{}
	l := New(peers, state, transport.New(1), nil)

	ok := l.step(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, state.merges)
	assert.Equal(t, "2", state.lastGot.KVStore["b"])
}

func TestStepResetsIndexOnEmptyPeerList(t *testing.T) {
	peers := &fakePeers{self: 1}
	state := &fakeState{}
	l := New(peers, state, transport.New(1), nil)
	l.index = 5
	ok := l.step(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 0, l.index)
}
