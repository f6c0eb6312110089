package replication

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ppriyankuu-student/causalkv/internal/clock"
	"github.com/ppriyankuu-student/causalkv/internal/transport"
	"github.com/ppriyankuu-student/causalkv/internal/view"
)

func TestBroadcastDeliversToEveryPeerIndependently(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	peers := []view.NodeDescriptor{{ID: 1, Address: srv.URL}, {ID: 2, Address: srv.URL}}
	b := New(transport.New(0), nil)
	b.Broadcast(peers, UpdateMessage{Operation: OpPut, Key: "k", Value: "v", CausalMetadata: clock.DepSet{"k": clock.VectorClock{0: 1}}})

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastReportsFailureWithoutBlockingCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var failed []view.NodeDescriptor
	b := New(transport.New(0), func(p view.NodeDescriptor, err error) {
		mu.Lock()
		failed = append(failed, p)
		mu.Unlock()
	})

	start := time.Now()
	b.Broadcast([]view.NodeDescriptor{{ID: 1, Address: srv.URL}}, UpdateMessage{Operation: OpPut, Key: "k"})
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Broadcast must return before delivery completes")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failed) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBroadcastNoopOnEmptyPeerList(t *testing.T) {
	b := New(transport.New(0), func(view.NodeDescriptor, error) {
		t.Fatal("onFailure must not be called with no peers")
	})
	b.Broadcast(nil, UpdateMessage{})
}
