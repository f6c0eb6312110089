// Package api wires the gin HTTP router to a Node: every endpoint from
// the causal data protocol, plus the ambient /healthz and /metrics
// endpoints every service in this stack carries regardless of what the
// domain spec scopes out.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppriyankuu-student/causalkv/internal/clock"
	"github.com/ppriyankuu-student/causalkv/internal/gate"
	"github.com/ppriyankuu-student/causalkv/internal/gossip"
	"github.com/ppriyankuu-student/causalkv/internal/node"
	"github.com/ppriyankuu-student/causalkv/internal/proxy"
	"github.com/ppriyankuu-student/causalkv/internal/replication"
	"github.com/ppriyankuu-student/causalkv/internal/telemetry"
	"github.com/ppriyankuu-student/causalkv/internal/transport"
	"github.com/ppriyankuu-student/causalkv/internal/view"
)

// Handler holds everything the HTTP layer needs: the node state, a
// transport client for cross-shard forwarding, and the broadcaster
// background writes hand off to.
type Handler struct {
	node        *node.Node
	transport   *transport.Client
	broadcaster *replication.Broadcaster
	metrics     *telemetry.Metrics

	// acceptForeignGossip mirrors the "-gossip-accept-foreign" flag for
	// the receiving side of a /copy push: whether PutCopy may adopt keys
	// this node doesn't own. view_change snapshots bypass this
	// regardless, since the sender already decided the key belongs here.
	acceptForeignGossip bool
}

// NewHandler builds a Handler.
func NewHandler(n *node.Node, t *transport.Client, b *replication.Broadcaster, m *telemetry.Metrics, acceptForeignGossip bool) *Handler {
	return &Handler{node: n, transport: t, broadcaster: b, metrics: m, acceptForeignGossip: acceptForeignGossip}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/ping", h.Ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{})))

	r.GET("/view", h.GetView)
	r.PUT("/view", h.PutView)

	r.GET("/data", h.GetAll)
	r.GET("/data/:key", h.GetKey)
	r.PUT("/data/:key", h.PutKey)

	r.POST("/update", h.Update)

	r.GET("/copy", h.GetCopy)
	r.PUT("/copy", h.PutCopy)
}

// Ping answers GET /ping.
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Node %d is up.", h.node.SelfID())})
}

// Healthz is a liveness probe; it carries no causal-metadata and is not
// part of the causal contract.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetView answers GET /view with the currently installed view, verbatim.
func (h *Handler) GetView(c *gin.Context) {
	c.JSON(http.StatusOK, h.node.CurrentView())
}

// PutView answers PUT /view: installs a new view, relocates keys that no
// longer belong to this shard, and reports the outcome.
func (h *Handler) PutView(c *gin.Context) {
	var v view.View
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid view"})
		return
	}
	result, err := h.node.InstallView(c.Request.Context(), v)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	if !result.InView {
		c.JSON(http.StatusOK, gin.H{"message": "Not in View", "node_id": h.node.SelfID()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "view installed",
		"node_id": h.node.SelfID(),
		"shard":   result.Shard,
		"key_map": result.Relocated,
	})
}

// GetAll answers GET /data: the bulk causal-metadata read.
func (h *Handler) GetAll(c *gin.Context) {
	req := readDataRequest(c)
	if !h.node.InView() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "not in view"})
		return
	}
	items, updated, err := h.node.GetAll(c.Request.Context(), req.CausalMetadata, gate.DefaultInterval)
	if err != nil {
		respondNodeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "causal-metadata": updated})
}

// GetKey answers GET /data/:key, proxying to the owning shard when this
// node doesn't hold key.
func (h *Handler) GetKey(c *gin.Context) {
	key := c.Param("key")
	raw, req := readDataRequestRaw(c)

	if !h.node.InView() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "not in view"})
		return
	}

	value, found, owned, updated, err := h.node.GetKey(c.Request.Context(), key, req.CausalMetadata, gate.DefaultInterval)
	if !owned {
		h.forward(c, key, http.MethodGet, raw)
		return
	}
	if err != nil {
		respondNodeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"message": "Key Not Found", "causal-metadata": updated})
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": value, "causal-metadata": updated})
}

type putRequest struct {
	Value          *string      `json:"value"`
	CausalMetadata clock.DepSet `json:"causal-metadata"`
}

// PutKey answers PUT /data/:key, proxying to the owning shard when this
// node doesn't hold key, otherwise committing locally and scheduling
// replication to the rest of the shard.
func (h *Handler) PutKey(c *gin.Context) {
	key := c.Param("key")
	raw, _ := io.ReadAll(c.Request.Body)

	var req putRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "value must be a string"})
		return
	}
	if req.CausalMetadata == nil {
		req.CausalMetadata = clock.DepSet{}
	}

	if !h.node.InView() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "not in view"})
		return
	}

	owned, updated, peers, err := h.node.PutKey(key, *req.Value, req.CausalMetadata)
	if !owned {
		h.forward(c, key, http.MethodPut, raw)
		return
	}
	if err != nil {
		respondNodeError(c, err)
		return
	}

	h.broadcaster.Broadcast(peers, replication.UpdateMessage{
		Operation:      replication.OpPut,
		Key:            key,
		Value:          *req.Value,
		CausalMetadata: updated,
	})
	c.JSON(http.StatusOK, gin.H{"message": "value stored", "causal-metadata": updated})
}

// Update answers POST /update, the inbound side of broadcast-on-write.
func (h *Handler) Update(c *gin.Context) {
	var msg replication.UpdateMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid update"})
		return
	}
	h.node.ApplyRemoteUpdate(msg)
	c.JSON(http.StatusOK, gin.H{"message": "update processed"})
}

// GetCopy answers GET /copy: a diagnostic snapshot of local state.
func (h *Handler) GetCopy(c *gin.Context) {
	snap := h.node.Snapshot()
	c.JSON(http.StatusOK, gin.H{"node_id": snap.NodeID, "kvstore": snap.KVStore, "causal-metadata": snap.CausalMetadata})
}

// PutCopy answers PUT /copy: the receiving side of both gossip exchanges
// and view-change relocations.
func (h *Handler) PutCopy(c *gin.Context) {
	var snap gossip.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid copy payload"})
		return
	}
	merged := h.node.MergeSnapshot(snap, h.acceptForeignGossip)
	c.JSON(http.StatusOK, gin.H{"message": "merged", "kvstore": merged.KVStore, "causal-metadata": merged.CausalMetadata})
}

func (h *Handler) forward(c *gin.Context, key, method string, body []byte) {
	nodes, _, ok := h.node.OwningNodes(key)
	if !ok || len(nodes) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "not in view"})
		return
	}
	resp, err := proxy.Forward(c.Request.Context(), h.transport, nodes, method, "/data/"+key, body, h.metrics)
	if err != nil {
		c.JSON(http.StatusRequestTimeout, gin.H{"message": "proxy timeout"})
		return
	}
	relay(c, resp)
}

func relay(c *gin.Context, resp *http.Response) {
	defer resp.Body.Close()
	for k, vals := range resp.Header {
		for _, v := range vals {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	io.Copy(c.Writer, resp.Body)
}

func respondNodeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, node.ErrNotInView):
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "not in view"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{"message": "gate timeout"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
	}
}

type dataRequest struct {
	CausalMetadata clock.DepSet `json:"causal-metadata"`
}

func readDataRequest(c *gin.Context) dataRequest {
	_, req := readDataRequestRaw(c)
	return req
}

func readDataRequestRaw(c *gin.Context) ([]byte, dataRequest) {
	raw, _ := io.ReadAll(c.Request.Body)
	var req dataRequest
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &req)
	}
	if req.CausalMetadata == nil {
		req.CausalMetadata = clock.DepSet{}
	}
	return raw, req
}
