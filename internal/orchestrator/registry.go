// Package orchestrator implements the leader side of Pendula: the
// instance registry and forwarder, the collision detector, the state
// poller, and the coordination protocol.
// See doc.go for complete package documentation.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// Forwarding errors. Callers branch on these with errors.Is.
var (
	// ErrInstanceNotFound means the identity has no live slot.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrInstanceUnreachable means the instance did not respond.
	ErrInstanceUnreachable = errors.New("instance unreachable")
)

// InstanceError carries an error reported by the instance itself,
// preserving the HTTP status and response body for the caller.
type InstanceError struct {
	Body   string
	Status int
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("instance error %d: %s", e.Status, e.Body)
}

// ProcState is the lifecycle stage of an instance's OS process. A slot
// always holds exactly one of these, never an ad hoc nil handle.
type ProcState int

const (
	// ProcNotStarted means the slot exists but no process was launched.
	ProcNotStarted ProcState = iota
	// ProcRunning means the process is (or was last seen) alive.
	ProcRunning
	// ProcTerminated means the process has exited or been killed.
	ProcTerminated
)

func (s ProcState) String() string {
	switch s {
	case ProcNotStarted:
		return "not-started"
	case ProcRunning:
		return "running"
	case ProcTerminated:
		return "terminated"
	}
	return "unknown"
}

// Record is the registry's view of one simulation slot. Identities are
// 0..N-1, assigned at startup and immutable; slots are reconfigured,
// never removed, for the lifetime of the orchestrator.
type Record struct {
	Addr       string    `json:"addr"`
	ID         int       `json:"id"`
	Configured bool      `json:"configured"`
	Running    bool      `json:"running"`
	Proc       ProcState `json:"proc"`
}

// Process is the opaque handle the registry keeps for a launched
// instance. Terminate requests a graceful exit, Kill forces one, Wait
// blocks until the process is gone.
type Process interface {
	Terminate() error
	Kill() error
	Wait() error
}

// Launcher brings up one instance process and returns its handle along
// with the address its HTTP server listens on. Launch returns only once
// the instance answers health checks, or with an error.
type Launcher interface {
	Launch(id int) (Process, string, error)
}

// slot pairs the published record with the process handle.
type slot struct {
	proc Process
	rec  Record
}

// Registry is the single source of truth for which simulation slots
// exist and their configured/running status, and the single choke point
// for forwarding an operation to one instance.
//
// All state is confined to the orchestrator process; a RWMutex is the
// only synchronization needed. Snapshot methods return copies.
type Registry struct {
	slots    map[int]*slot
	launcher Launcher
	client   *http.Client
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry that launches instances through
// the given launcher.
func NewRegistry(launcher Launcher) *Registry {
	return &Registry{
		slots:    make(map[int]*slot),
		launcher: launcher,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// CreateAll populates slots 0..n-1 and launches a process for each.
// The orchestrator cannot run short-staffed: if any launch fails, the
// slots already started are killed and the error is returned so the
// caller can abort startup.
func (r *Registry) CreateAll(n int) error {
	if n <= 0 {
		return errors.New("instance count must be positive")
	}

	for id := 0; id < n; id++ {
		proc, addr, err := r.launcher.Launch(id)
		if err != nil {
			r.teardownLaunched()
			return fmt.Errorf("launching instance %d: %w", id, err)
		}

		r.mu.Lock()
		r.slots[id] = &slot{
			proc: proc,
			rec:  Record{ID: id, Addr: addr, Proc: ProcRunning},
		}
		r.mu.Unlock()
		log.Printf("instance %d up at %s", id, addr)
	}
	return nil
}

// teardownLaunched force-kills everything started during a failed
// CreateAll so a startup abort leaves no strays behind.
func (r *Registry) teardownLaunched() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.slots {
		if s.proc != nil && s.rec.Proc == ProcRunning {
			if err := s.proc.Kill(); err != nil {
				log.Printf("killing instance %d during startup abort: %v", id, err)
			}
			s.proc.Wait()
			s.rec.Proc = ProcTerminated
		}
	}
}

// Register records the address an instance announced for itself. The
// launcher already knows the address it assigned; this confirms the
// instance agrees and is reachable from its own point of view.
func (r *Registry) Register(id int, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrInstanceNotFound, id)
	}
	if s.rec.Addr != addr {
		log.Printf("instance %d re-registered at %s (was %s)", id, addr, s.rec.Addr)
		s.rec.Addr = addr
	}
	return nil
}

// Forward sends an operation to the instance identified by id and
// returns the raw response body. Operations "state" and "health" are
// GETs; everything else is a POST carrying payload as JSON.
//
// Errors: ErrInstanceNotFound when the slot is missing or terminated,
// ErrInstanceUnreachable when the round-trip fails, and *InstanceError
// when the instance itself reports a failure. The registry is never
// mutated by a forward; callers update flags after success.
func (r *Registry) Forward(ctx context.Context, id int, op string, payload any) (json.RawMessage, error) {
	r.mu.RLock()
	s, ok := r.slots[id]
	var addr string
	var proc ProcState
	if ok {
		addr = s.rec.Addr
		proc = s.rec.Proc
	}
	r.mu.RUnlock()

	if !ok || proc != ProcRunning {
		return nil, fmt.Errorf("%w: id %d", ErrInstanceNotFound, id)
	}

	var req *http.Request
	var err error
	switch op {
	case "state", "health":
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, addr+"/"+op, nil)
	default:
		var body []byte
		if payload != nil {
			if body, err = json.Marshal(payload); err != nil {
				return nil, err
			}
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, addr+"/"+op, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: instance %d: %v", ErrInstanceUnreachable, id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: instance %d: %v", ErrInstanceUnreachable, id, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &InstanceError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}

// MarkConfigured flags a slot as holding a valid physics configuration.
func (r *Registry) MarkConfigured(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrInstanceNotFound, id)
	}
	s.rec.Configured = true
	return nil
}

// ClearConfigured drops the configured and running flags, used by the
// aggregate reset operation.
func (r *Registry) ClearConfigured(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrInstanceNotFound, id)
	}
	s.rec.Configured = false
	s.rec.Running = false
	return nil
}

// MarkRunning flags whether a slot's update loop is active. Running
// implies configured, so marking an unconfigured slot running fails.
func (r *Registry) MarkRunning(id int, running bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrInstanceNotFound, id)
	}
	if running && !s.rec.Configured {
		return fmt.Errorf("instance %d is not configured", id)
	}
	s.rec.Running = running
	return nil
}

// Configured returns the identities of all configured slots in
// ascending order. This set defines the acknowledgment quorum for a
// collision episode.
func (r *Registry) Configured() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.slots))
	for id, s := range r.slots {
		if s.rec.Configured {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Snapshot returns a copy of every record, ordered by identity.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]Record, 0, len(r.slots))
	for _, s := range r.slots {
		records = append(records, s.rec)
	}
	slices.SortFunc(records, func(a, b Record) int { return a.ID - b.ID })
	return records
}

// Count returns the number of slots.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// ShutdownAll requests graceful termination of every instance, allows
// each the grace period, then force-kills the stragglers. It returns
// only after every process has terminated one way or the other.
func (r *Registry) ShutdownAll(grace time.Duration) {
	r.mu.Lock()
	targets := make(map[int]Process)
	for id, s := range r.slots {
		if s.proc != nil && s.rec.Proc == ProcRunning {
			targets[id] = s.proc
			s.rec.Proc = ProcTerminated
			s.rec.Running = false
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for id, proc := range targets {
		wg.Add(1)
		go func(id int, proc Process) {
			defer wg.Done()
			if err := proc.Terminate(); err != nil {
				log.Printf("terminating instance %d: %v", id, err)
			}

			done := make(chan struct{})
			go func() {
				proc.Wait()
				close(done)
			}()

			select {
			case <-done:
				log.Printf("instance %d exited gracefully", id)
			case <-time.After(grace):
				log.Printf("instance %d ignored termination, killing", id)
				if err := proc.Kill(); err != nil {
					log.Printf("killing instance %d: %v", id, err)
				}
				<-done
			}
		}(id, proc)
	}
	wg.Wait()
}
