package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/pendula/internal/cluster"
)

// Poller periodically aggregates body states from every instance and
// feeds them to the collision detector. One unreachable instance never
// aborts a cycle: its state is simply absent from that cycle's view.
// Thread-safe: Start runs the loop, Stop tears it down.
type Poller struct {
	fetch       func(ctx context.Context, info cluster.InstanceInfo) (cluster.BodyState, error)
	onCollision func(Pair)
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	wg          sync.WaitGroup

	mu     sync.RWMutex
	latest []cluster.BodyState
}

// NewPoller creates a poller that reports collisions to onCollision.
// The default fetch function does an HTTP GET of the instance's /state.
func NewPoller(interval time.Duration, onCollision func(Pair)) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		interval:    interval,
		timeout:     2 * time.Second,
		onCollision: onCollision,
		ctx:         ctx,
		cancel:      cancel,
	}
	p.fetch = p.defaultFetch
	return p
}

// SetFetchFunction overrides how a single instance's state is read.
// Used by tests to substitute canned states for live HTTP calls.
func (p *Poller) SetFetchFunction(fetch func(ctx context.Context, info cluster.InstanceInfo) (cluster.BodyState, error)) {
	p.fetch = fetch
}

// Start runs the poll loop until the context is canceled. provider
// supplies the current set of pollable instances each cycle.
// Blocks; run it in a goroutine.
func (p *Poller) Start(ctx context.Context, provider func() []cluster.InstanceInfo) {
	p.wg.Add(1)
	defer p.wg.Done()

	if ctx == nil {
		ctx = p.ctx
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Printf("state poller started with interval %v", p.interval)

	p.pollOnce(provider())

	for {
		select {
		case <-ticker.C:
			p.pollOnce(provider())
		case <-ctx.Done():
			log.Println("state poller stopping")
			return
		case <-p.ctx.Done():
			log.Println("state poller stopping")
			return
		}
	}
}

// Stop cancels the poll loop and waits for it to exit.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Latest returns the most recently aggregated states, ordered by
// identity. This is the view the orchestrator's /state endpoint serves.
func (p *Poller) Latest() []cluster.BodyState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]cluster.BodyState, len(p.latest))
	copy(out, p.latest)
	return out
}

// pollOnce fetches every instance's state, stores the aggregate, and
// runs collision detection over it.
func (p *Poller) pollOnce(instances []cluster.InstanceInfo) {
	states := make([]cluster.BodyState, 0, len(instances))

	for _, info := range instances {
		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		state, err := p.fetch(ctx, info)
		cancel()
		if err != nil {
			log.Printf("polling instance %d: %v", info.ID, err)
			continue
		}
		states = append(states, state)
	}

	slices.SortFunc(states, func(a, b cluster.BodyState) int { return a.ID - b.ID })

	p.mu.Lock()
	p.latest = states
	p.mu.Unlock()

	if pair, ok := Detect(states); ok {
		p.onCollision(pair)
	}
}

func (p *Poller) defaultFetch(ctx context.Context, info cluster.InstanceInfo) (cluster.BodyState, error) {
	var state cluster.BodyState
	err := cluster.GetJSON(ctx, info.Addr+"/state", &state)
	return state, err
}
