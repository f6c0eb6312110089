package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppriyankuu-student/causalkv/internal/transport"
	"github.com/ppriyankuu-student/causalkv/internal/view"
)

func TestForwardReturnsFirstSuccess(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("fast"))
	}))
	defer fast.Close()

	nodes := []view.NodeDescriptor{
		{ID: 0, Address: slow.URL},
		{ID: 1, Address: fast.URL},
	}
	c := transport.New(9)
	resp, err := Forward(context.Background(), c, nodes, http.MethodGet, "/data/k", nil, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Less(t, resp.StatusCode, 400)
}

func TestForwardRetriesUntilSuccess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	nodes := []view.NodeDescriptor{{ID: 0, Address: srv.URL}}
	c := transport.New(1)
	resp, err := Forward(context.Background(), c, nodes, http.MethodGet, "/data/k", nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.GreaterOrEqual(t, calls, 2)
}

func TestForwardGivesUpWhenContextDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	nodes := []view.NodeDescriptor{{ID: 0, Address: srv.URL}}
	c := transport.New(1)
	_, err := Forward(ctx, c, nodes, http.MethodGet, "/data/k", nil, nil)
	assert.Error(t, err)
}
