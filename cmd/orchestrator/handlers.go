package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/pendula/internal/cluster"
	"github.com/dreamware/pendula/internal/orchestrator"
)

// forwardTimeout bounds one forwarded operation, kept under the HTTP
// client's own 5s timeout so the caller sees our error, not a socket
// timeout. A variable so tests can shrink it.
var forwardTimeout = 4 * time.Second

func (s *server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/instances", s.handleListInstances)
	mux.HandleFunc("/instances/", s.handleInstanceRoute)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pubsub", s.hub.HandleWS)
	return mux
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Instance.Addr == "" {
		http.Error(w, "missing addr", http.StatusBadRequest)
		return
	}
	if err := s.registry.Register(req.Instance.ID, req.Instance.Addr); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	log.Printf("instance %d registered @ %s", req.Instance.ID, req.Instance.Addr)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		Instances []orchestrator.Record `json:"instances"`
	}{Instances: s.registry.Snapshot()})
}

// handleInstanceRoute dispatches /instances/... paths: the aggregate
// operations /instances/{start,stop,reset} hit the whole fleet, and
// /instances/{id}/{op} is forwarded to one instance.
func (s *server) handleInstanceRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/instances/")
	switch rest {
	case "start", "stop", "reset":
		s.handleAggregate(w, r, rest)
		return
	}

	idStr, op, ok := strings.Cut(rest, "/")
	if !ok || op == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "bad instance id", http.StatusBadRequest)
		return
	}
	s.handleForward(w, r, id, op)
}

// handleForward relays one operation to one instance and mirrors the
// outcome into the registry's flags.
func (s *server) handleForward(w http.ResponseWriter, r *http.Request, id int, op string) {
	wantGet := op == "state" || op == "health"
	if wantGet && r.Method != http.MethodGet || !wantGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload any
	if r.Method == http.MethodPost && r.Body != nil {
		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err == nil {
			payload = raw
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), forwardTimeout)
	defer cancel()
	out, err := s.registry.Forward(ctx, id, op, payload)
	if err != nil {
		writeForwardError(w, err)
		return
	}
	s.recordOutcome(id, op)

	if len(out) > 0 {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordOutcome updates the registry flags after a forwarded operation
// succeeded on the instance.
func (s *server) recordOutcome(id int, op string) {
	var err error
	switch op {
	case "configure":
		// Configuring stops a running loop on the instance.
		if err = s.registry.MarkConfigured(id); err == nil {
			err = s.registry.MarkRunning(id, false)
		}
	case "start":
		err = s.registry.MarkRunning(id, true)
	case "stop":
		err = s.registry.MarkRunning(id, false)
	case "reset":
		err = s.registry.ClearConfigured(id)
	}
	if err != nil {
		log.Printf("recording %q outcome for instance %d: %v", op, id, err)
	}
}

// handleAggregate applies one operation to every registered instance,
// reporting per-instance results so a partial failure is visible to the
// caller rather than collapsed into one error.
func (s *server) handleAggregate(w http.ResponseWriter, r *http.Request, op string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	targets := s.registry.Snapshot()

	type result struct {
		ID  int    `json:"id"`
		Err string `json:"err,omitempty"`
	}
	out := make([]result, 0, len(targets))

	// Each instance gets its own deadline: one wedged instance must
	// not eat the budget of the instances after it.
	for _, rec := range targets {
		ctx, cancel := context.WithTimeout(r.Context(), forwardTimeout)
		res := result{ID: rec.ID}
		if _, err := s.registry.Forward(ctx, rec.ID, op, nil); err != nil {
			res.Err = err.Error()
		} else {
			s.recordOutcome(rec.ID, op)
		}
		cancel()
		out = append(out, res)
	}

	_ = json.NewEncoder(w).Encode(struct {
		SentTo  int      `json:"sent_to"`
		Results []result `json:"results"`
	}{SentTo: len(targets), Results: out})
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		Bodies []cluster.BodyState `json:"bodies"`
	}{Bodies: s.poller.Latest()})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(struct {
		Instances int    `json:"instances"`
		Phase     string `json:"phase"`
	}{Instances: s.registry.Count(), Phase: s.protocol.Phase().String()})
}

// writeForwardError maps the registry's error taxonomy onto HTTP
// statuses: unknown slot is the caller's mistake, an unreachable
// instance is a gateway problem, and an instance-side rejection keeps
// its original status and body.
func writeForwardError(w http.ResponseWriter, err error) {
	var instErr *orchestrator.InstanceError
	switch {
	case errors.Is(err, orchestrator.ErrInstanceNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &instErr):
		http.Error(w, instErr.Body, instErr.Status)
	case errors.Is(err, orchestrator.ErrInstanceUnreachable):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
