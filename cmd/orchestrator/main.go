// Package main implements the Pendula orchestrator: the leader process
// that launches the instance fleet, forwards control operations to
// individual instances, polls their states for collision detection, and
// hosts the pub/sub broker that carries the collision coordination
// protocol.
//
// Configuration:
//   - ORCHESTRATOR_ADDR: listen address (default ":9080")
//   - INSTANCE_COUNT: number of instances to launch (required)
//   - INSTANCE_BINARY: path of the instance executable (required)
//   - INSTANCE_BASE_PORT: listen port of instance 0 (default "9081")
//   - POLL_INTERVAL: state polling cadence (default "100ms")
//   - RESTART_DELAY: pause between stop quorum and restart directive
//     (default "5s")
//   - ORCHESTRATOR_RUN_DIR: pidfile directory (default "run")
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dreamware/pendula/internal/broker"
	"github.com/dreamware/pendula/internal/cluster"
	"github.com/dreamware/pendula/internal/orchestrator"
)

// logFatal is a variable so tests can intercept fatal configuration
// errors without exiting the test process.
var logFatal = log.Fatalf

func main() {
	addr := getenv("ORCHESTRATOR_ADDR", ":9080")
	count, err := strconv.Atoi(mustGetenv("INSTANCE_COUNT"))
	if err != nil || count <= 0 {
		logFatal("INSTANCE_COUNT must be a positive integer")
	}
	binary := mustGetenv("INSTANCE_BINARY")
	basePort, err := strconv.Atoi(getenv("INSTANCE_BASE_PORT", "9081"))
	if err != nil {
		logFatal("INSTANCE_BASE_PORT must be numeric: %v", err)
	}
	pollInterval := getduration("POLL_INTERVAL", 100*time.Millisecond)
	restartDelay := getduration("RESTART_DELAY", orchestrator.DefaultRestartDelay)
	runDir := getenv("ORCHESTRATOR_RUN_DIR", "run")

	// A previous orchestrator that died uncleanly may have left
	// instance processes behind; sweep them before launching new ones
	// on the same ports.
	orchestrator.CleanupOrphans(runDir)

	hub := broker.New()
	orchURL := publicURL(addr)
	registry := orchestrator.NewRegistry(&orchestrator.ExecLauncher{
		Binary:          binary,
		RunDir:          runDir,
		OrchestratorURL: orchURL,
		BrokerURL:       "ws" + strings.TrimPrefix(orchURL, "http") + "/pubsub",
		BasePort:        basePort,
	})

	srv := newServer(registry, hub, pollInterval, restartDelay)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("orchestrator listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	// Launch the fleet only once the HTTP server is up: instances dial
	// back for registration and pub/sub as part of their startup.
	if err := registry.CreateAll(count); err != nil {
		logFatal("launching instances: %v", err)
	}
	log.Printf("launched %d instances", count)

	go srv.poller.Start(context.Background(), srv.pollTargets)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	srv.poller.Stop()
	srv.protocol.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	registry.ShutdownAll(5 * time.Second)
	log.Println("orchestrator stopped")
}

// server wires the registry, poller, protocol and broker together and
// serves the orchestrator's HTTP API.
type server struct {
	registry *orchestrator.Registry
	hub      *broker.Broker
	poller   *orchestrator.Poller
	protocol *orchestrator.Protocol
}

func newServer(registry *orchestrator.Registry, hub *broker.Broker, pollInterval, restartDelay time.Duration) *server {
	s := &server{registry: registry, hub: hub}

	s.protocol = orchestrator.NewProtocol(hub, registry.Configured, s.resume,
		orchestrator.WithRestartDelay(restartDelay))
	s.poller = orchestrator.NewPoller(pollInterval, s.protocol.OnCollision)

	// Follower acknowledgments arrive over the broker; decode and feed
	// them to the protocol's quorum accounting.
	hub.Subscribe(cluster.TopicStopped, func(payload json.RawMessage) {
		var ack cluster.Ack
		if err := json.Unmarshal(payload, &ack); err != nil {
			log.Printf("bad stopped ack: %v", err)
			return
		}
		s.protocol.OnStopped(ack.ID)
	})
	hub.Subscribe(cluster.TopicRestarted, func(payload json.RawMessage) {
		var ack cluster.Ack
		if err := json.Unmarshal(payload, &ack); err != nil {
			log.Printf("bad restarted ack: %v", err)
			return
		}
		s.protocol.OnRestarted(ack.ID)
	})

	return s
}

// resume is the protocol's resume-all hook: tell one instance to start
// and track the outcome in the registry.
func (s *server) resume(id int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	if _, err := s.registry.Forward(ctx, id, "start", nil); err != nil {
		return err
	}
	return s.registry.MarkRunning(id, true)
}

// pollTargets feeds the poller every slot whose instance has
// registered.
func (s *server) pollTargets() []cluster.InstanceInfo {
	recs := s.registry.Snapshot()
	infos := make([]cluster.InstanceInfo, 0, len(recs))
	for _, rec := range recs {
		if rec.Addr == "" {
			continue
		}
		infos = append(infos, cluster.InstanceInfo{ID: rec.ID, Addr: rec.Addr})
	}
	return infos
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}

func getduration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logFatal("%s: %v", k, err)
		return def
	}
	return d
}

// publicURL turns a listen address into the URL instances use to reach
// the orchestrator. A bare ":port" address binds all interfaces; the
// loopback form is what local instance processes dial.
func publicURL(addr string) string {
	if addr != "" && addr[0] == ':' {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}
