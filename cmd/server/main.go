// cmd/server is the main entrypoint for a causalkv node.
//
// Configuration is via flags so a single binary can serve any node in the
// cluster; the --id flag defaults to the NODE_IDENTIFIER environment
// variable when it is set. Cluster membership itself arrives later over
// PUT /view, not from a flag.
//
// Example — three nodes, started independently, then given a view:
//
//	./server --id 0 --addr :8081
//	./server --id 1 --addr :8082
//	./server --id 2 --addr :8083
//	curl -X PUT localhost:8081/view -d '{"shard-0":[{"id":0,"address":"http://localhost:8081"}, ...]}'
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ppriyankuu-student/causalkv/internal/api"
	"github.com/ppriyankuu-student/causalkv/internal/clock"
	"github.com/ppriyankuu-student/causalkv/internal/gossip"
	"github.com/ppriyankuu-student/causalkv/internal/node"
	"github.com/ppriyankuu-student/causalkv/internal/replication"
	"github.com/ppriyankuu-student/causalkv/internal/telemetry"
	"github.com/ppriyankuu-student/causalkv/internal/transport"
	"github.com/ppriyankuu-student/causalkv/internal/view"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	defaultID := 0
	if s := os.Getenv("NODE_IDENTIFIER"); s != "" {
		if id, err := strconv.Atoi(s); err == nil {
			defaultID = id
		}
	}
	selfID := flag.Int("id", defaultID, "This node's numeric identifier (defaults to $NODE_IDENTIFIER)")
	addr := flag.String("addr", ":8081", "Listen address (host:port)")
	devLogging := flag.Bool("dev", false, "Use development (console) logging instead of production JSON")
	strictProtocol := flag.Bool("strict-protocol", false, "Panic on an equal-clock/differing-value protocol violation instead of only logging it")
	gossipAcceptForeign := flag.Bool("gossip-accept-foreign", false, "Allow gossip merges to adopt keys this node doesn't own, ahead of a view-change copy")
	flag.Parse()

	self := clock.NodeID(*selfID)
	logger := telemetry.NewLogger(*devLogging)
	defer logger.Sync()
	metrics := telemetry.NewMetrics()

	client := transport.New(self)
	n := node.New(self, client, logger, metrics, *strictProtocol)

	broadcaster := replication.New(client, func(peer view.NodeDescriptor, err error) {
		logger.Warn("replication delivery exhausted retries", zap.String("peer", peer.Address), zap.Error(err))
		metrics.ReplicationFailuresTotal.Inc()
	})

	// ── HTTP server ────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(logger), api.Recovery(logger))

	handler := api.NewHandler(n, client, broadcaster, metrics, *gossipAcceptForeign)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// ── Anti-entropy gossip ──────────────────────────────────────────────────
	gossipCtx, stopGossip := context.WithCancel(context.Background())
	defer stopGossip()
	go gossip.New(n, n.GossipStateSource(*gossipAcceptForeign), client, metrics).Run(gossipCtx)

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	// Listen for SIGINT/SIGTERM and give in-flight requests 15s to complete.
	go func() {
		logger.Info("listening", zap.Int64("node_id", int64(self)), zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down", zap.Int64("node_id", int64(self)))
	stopGossip()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}
