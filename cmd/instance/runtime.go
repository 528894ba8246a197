package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/dreamware/pendula/internal/cluster"
	"github.com/dreamware/pendula/internal/pendulum"
)

// tickInterval is the wall-clock period of the update loop; timeStep is
// the simulated seconds advanced per tick. Keeping them equal runs the
// simulation in real time.
const (
	tickInterval = 10 * time.Millisecond
	timeStep     = 0.01
)

// Runtime owns one pendulum and its timed update loop, serves the
// per-instance control endpoints, and follows the leader's coordination
// directives.
//
// All state transitions go through the mutex; the update loop holds it
// only for the duration of one physics step. The publish function is
// the broker client's, injected so tests can record acknowledgments.
type Runtime struct {
	publish func(topic string, payload any) error

	mu         sync.Mutex
	pend       *pendulum.Pendulum
	done       chan struct{}
	configured bool
	running    bool

	id int
}

// NewRuntime creates an unconfigured runtime for the given identity.
func NewRuntime(id int, publish func(topic string, payload any) error) *Runtime {
	return &Runtime{id: id, publish: publish}
}

// Configure replaces the physics configuration. A running loop is
// stopped first; validation failures leave the previous state intact.
func (rt *Runtime) Configure(req cluster.ConfigureRequest) error {
	cfg := pendulum.Config{
		PivotOffset: req.PivotOffset,
		Angle:       req.Angle,
		Mass:        req.Mass,
		Length:      req.Length,
		Gravity:     req.Gravity,
		MaxTime:     req.MaxTime,
	}
	pend, err := pendulum.New(rt.id, cfg)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.stopLocked()
	rt.pend = pend
	rt.configured = true
	return nil
}

// Start launches the update loop. Idempotent: starting a running
// instance is a no-op. Returns false when the instance has no
// configuration to run.
func (rt *Runtime) Start() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.configured {
		return false
	}
	if rt.running {
		return true
	}
	rt.done = make(chan struct{})
	rt.running = true
	go rt.loop(rt.done)
	return true
}

// Stop halts the update loop. Idempotent.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.stopLocked()
}

// stopLocked closes the loop channel. Caller holds rt.mu.
func (rt *Runtime) stopLocked() {
	if !rt.running {
		return
	}
	close(rt.done)
	rt.done = nil
	rt.running = false
}

// Reset stops the loop and discards the configuration, returning the
// runtime to its initial state.
func (rt *Runtime) Reset() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.stopLocked()
	rt.pend = nil
	rt.configured = false
}

// State returns the current body snapshot. An unconfigured instance
// reports no position.
func (rt *Runtime) State() cluster.BodyState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pend == nil {
		return cluster.BodyState{ID: rt.id}
	}
	return rt.pend.State(rt.running)
}

// Health returns the configured/running flag pair.
func (rt *Runtime) Health() cluster.HealthStatus {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return cluster.HealthStatus{Configured: rt.configured, Running: rt.running}
}

// loop advances the pendulum until the done channel closes.
func (rt *Runtime) loop(done chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			rt.mu.Lock()
			if rt.pend != nil {
				rt.pend.Step(timeStep)
			}
			rt.mu.Unlock()
		}
	}
}

// OnStopDirective handles the leader's stop directive: halt the loop if
// it is running, and acknowledge unconditionally. The leader counts
// presence, not transitions, so an instance that was already stopped
// still acknowledges; this is what keeps the quorum accounting correct.
func (rt *Runtime) OnStopDirective(payload json.RawMessage) {
	var directive cluster.StopDirective
	if err := json.Unmarshal(payload, &directive); err != nil {
		log.Printf("instance[%d]: bad stop directive: %v", rt.id, err)
	}

	rt.Stop()
	log.Printf("instance[%d]: stopped for collision %v", rt.id, directive.Pair)

	if err := rt.publish(cluster.TopicStopped, cluster.Ack{ID: rt.id}); err != nil {
		log.Printf("instance[%d]: publishing stopped ack: %v", rt.id, err)
	}
}

// OnRestartDirective handles the leader's restart directive: resume the
// loop if configured and not already running, and acknowledge
// unconditionally.
func (rt *Runtime) OnRestartDirective(payload json.RawMessage) {
	var directive cluster.RestartDirective
	if err := json.Unmarshal(payload, &directive); err != nil {
		log.Printf("instance[%d]: bad restart directive: %v", rt.id, err)
	}

	if rt.Start() {
		log.Printf("instance[%d]: resumed after collision %v", rt.id, directive.Pair)
	}

	if err := rt.publish(cluster.TopicRestarted, cluster.Ack{ID: rt.id}); err != nil {
		log.Printf("instance[%d]: publishing restarted ack: %v", rt.id, err)
	}
}

// Mux builds the instance's HTTP control surface.
func (rt *Runtime) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/state", rt.handleState)
	mux.HandleFunc("/configure", rt.handleConfigure)
	mux.HandleFunc("/start", rt.handleStart)
	mux.HandleFunc("/stop", rt.handleStop)
	mux.HandleFunc("/reset", rt.handleReset)
	mux.HandleFunc("/health", rt.handleHealth)
	return mux
}

func (rt *Runtime) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rt.State())
}

func (rt *Runtime) handleConfigure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.ConfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := rt.Configure(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Printf("instance[%d]: configured (angle=%v length=%v)", rt.id, req.Angle, req.Length)
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Runtime) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !rt.Start() {
		http.Error(w, "not configured", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Runtime) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rt.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Runtime) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rt.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Runtime) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rt.Health())
}
