// Package main implements the Pendula instance service: one pendulum
// simulation with its own update loop, driven over HTTP by the
// orchestrator and over the pub/sub channel by the coordination
// protocol.
//
// The instance is a follower. It never initiates coordination; it
// reacts to directives and always acknowledges them, whether or not the
// directive changed anything.
//
// Configuration:
//   - INSTANCE_ID: numeric identity, 0..N-1 (required)
//   - INSTANCE_LISTEN: listen address (default ":9081")
//   - INSTANCE_ADDR: public address for the orchestrator (default "http://127.0.0.1:9081")
//   - ORCHESTRATOR_URL: orchestrator base URL (required)
//   - BROKER_URL: websocket URL of the coordination broker (required)
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/pendula/internal/broker"
	"github.com/dreamware/pendula/internal/cluster"
)

// logFatal is a variable so tests can intercept fatal configuration
// errors without exiting the test process.
var logFatal = log.Fatalf

func main() {
	id, err := strconv.Atoi(mustGetenv("INSTANCE_ID"))
	if err != nil {
		logFatal("INSTANCE_ID must be numeric: %v", err)
	}
	listen := getenv("INSTANCE_LISTEN", ":9081")
	public := getenv("INSTANCE_ADDR", "http://127.0.0.1:9081")
	orchestrator := mustGetenv("ORCHESTRATOR_URL")
	brokerURL := mustGetenv("BROKER_URL")

	client := broker.NewClient(brokerURL)
	rt := NewRuntime(id, client.Publish)
	client.Subscribe(cluster.TopicCollisionStop, rt.OnStopDirective)
	client.Subscribe(cluster.TopicCollisionRestart, rt.OnRestartDirective)

	srv := &http.Server{
		Addr:              listen,
		Handler:           rt.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("instance[%d] listening on %s (public %s)", id, listen, public)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	ctx := context.Background()
	connectBroker(ctx, client)
	register(ctx, orchestrator, id, public)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	rt.Stop()
	client.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	log.Printf("instance[%d] stopped", id)
}

// connectBroker attaches to the coordination broker, retrying to ride
// out orchestrator startup ordering. An instance that cannot reach the
// broker cannot follow directives, so persistent failure is fatal.
func connectBroker(ctx context.Context, client *broker.Client) {
	var lastErr error
	for i := 0; i < 10; i++ {
		dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = client.Connect(dialCtx)
		cancel()
		if lastErr == nil {
			log.Printf("subscribed to coordination broker")
			return
		}
		log.Printf("broker connect retry %d: %v", i+1, lastErr)
		time.Sleep(400 * time.Millisecond)
	}
	logFatal("failed to connect to broker: %v", lastErr)
}

// register announces this instance to the orchestrator, retrying on
// failure. The orchestrator launched us, but registration confirms the
// HTTP server is reachable before forwarding begins.
func register(ctx context.Context, orchestrator string, id int, addr string) {
	body := cluster.RegisterRequest{Instance: cluster.InstanceInfo{ID: id, Addr: addr}}
	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = cluster.PostJSON(ctx, orchestrator+"/register", body, nil)
		if lastErr == nil {
			log.Printf("registered with orchestrator @ %s", orchestrator)
			return
		}
		log.Printf("register retry %d: %v", i+1, lastErr)
		time.Sleep(400 * time.Millisecond)
	}
	logFatal("failed to register with orchestrator: %v", lastErr)
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
