package orchestrator

import (
	"log"
	"sync"
	"time"

	"github.com/dreamware/pendula/internal/cluster"
)

// Phase is the coordination protocol's position in a collision episode.
type Phase int

const (
	// PhaseIdle means no episode is in progress.
	PhaseIdle Phase = iota
	// PhaseStopRequested means the stop directive is out and the leader
	// is collecting stopped acknowledgments.
	PhaseStopRequested
	// PhasePausing means stop quorum was reached and the fixed delay
	// before the restart directive is running.
	PhasePausing
	// PhaseRestartRequested means the restart directive is out and the
	// leader is collecting restarted acknowledgments.
	PhaseRestartRequested
	// PhaseResuming means restart quorum was reached and resume
	// operations are being issued through the forwarder.
	PhaseResuming
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStopRequested:
		return "stop-requested"
	case PhasePausing:
		return "pausing"
	case PhaseRestartRequested:
		return "restart-requested"
	case PhaseResuming:
		return "resuming"
	}
	return "unknown"
}

// Publisher is the slice of the broker the protocol publishes
// directives through.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Defaults for the protocol's two timers.
const (
	// DefaultRestartDelay is the pause between stop quorum and the
	// restart directive.
	DefaultRestartDelay = 5 * time.Second
	// DefaultStallWarning is how long a phase may wait for quorum
	// before the leader logs a stall warning. There is no recovery
	// action; the warning only makes the liveness gap observable.
	DefaultStallWarning = 30 * time.Second
)

// Protocol is the leader's state machine for one collision episode:
// stop directive, stopped quorum, fixed pause, restart directive,
// restarted quorum, resume-all, back to idle.
//
// The episode state (phase, acknowledgment sets, in-progress flag) is
// owned exclusively by this struct and mutated only under its mutex
// through the transition methods, so concurrent acknowledgment handlers
// cannot race on it. At most one episode is in progress at a time; a
// collision reported during an episode is silently dropped.
type Protocol struct {
	pub     Publisher
	members func() []int // configured identities, the quorum basis
	resume  func(id int) error

	mu          sync.Mutex
	phase       Phase
	pair        Pair
	expected    map[int]bool
	stoppedBy   map[int]bool
	restartedBy map[int]bool

	restartDelay time.Duration
	warnAfter    time.Duration
	pauseTimer   *time.Timer
	warnTimer    *time.Timer
	closed       bool
}

// Option tunes protocol timing; used by tests to shrink the pause.
type Option func(*Protocol)

// WithRestartDelay overrides the pause between stop quorum and the
// restart directive.
func WithRestartDelay(d time.Duration) Option {
	return func(p *Protocol) { p.restartDelay = d }
}

// WithStallWarning overrides the stall warning interval.
func WithStallWarning(d time.Duration) Option {
	return func(p *Protocol) { p.warnAfter = d }
}

// NewProtocol creates an idle protocol. members supplies the configured
// identities whose acknowledgments form the quorum, captured at episode
// start; resume issues the forwarder's start operation for one
// instance when the episode completes.
func NewProtocol(pub Publisher, members func() []int, resume func(id int) error, opts ...Option) *Protocol {
	p := &Protocol{
		pub:          pub,
		members:      members,
		resume:       resume,
		restartDelay: DefaultRestartDelay,
		warnAfter:    DefaultStallWarning,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Phase returns the current protocol phase.
func (p *Protocol) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// InProgress reports whether a collision episode is being handled.
func (p *Protocol) InProgress() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase != PhaseIdle
}

// OnCollision begins a new episode for the colliding pair: capture the
// quorum membership, clear both acknowledgment sets, and publish the
// stop directive. A collision reported while an episode is in progress
// is dropped without touching the current episode's state.
func (p *Protocol) OnCollision(pair Pair) {
	p.mu.Lock()
	if p.closed || p.phase != PhaseIdle {
		p.mu.Unlock()
		log.Printf("protocol: collision %d/%d ignored, episode in progress", pair.A, pair.B)
		return
	}

	members := p.members()
	if len(members) == 0 {
		p.mu.Unlock()
		log.Printf("protocol: collision %d/%d ignored, no configured instances", pair.A, pair.B)
		return
	}

	p.pair = pair
	p.expected = make(map[int]bool, len(members))
	for _, id := range members {
		p.expected[id] = true
	}
	p.stoppedBy = make(map[int]bool)
	p.restartedBy = make(map[int]bool)
	p.phase = PhaseStopRequested
	p.armStallWarningLocked()
	p.mu.Unlock()

	log.Printf("protocol: collision between %d and %d, requesting stop of %d instances", pair.A, pair.B, len(members))
	if err := p.pub.Publish(cluster.TopicCollisionStop, cluster.StopDirective{Pair: pair.Directive()}); err != nil {
		log.Printf("protocol: publishing stop directive: %v", err)
	}
}

// OnStopped records a stopped acknowledgment. Adding an identity
// already present is a no-op, so duplicated or reordered deliveries
// cannot corrupt the count; acknowledgments outside the stop phase or
// from unexpected identities are ignored. The transition to the pause
// fires exactly once, when the set reaches full quorum.
func (p *Protocol) OnStopped(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhaseStopRequested || !p.expected[id] {
		return
	}
	p.stoppedBy[id] = true
	if len(p.stoppedBy) < len(p.expected) {
		return
	}

	p.phase = PhasePausing
	p.disarmStallWarningLocked()
	log.Printf("protocol: stop quorum reached (%d acks), pausing %s", len(p.stoppedBy), p.restartDelay)
	p.pauseTimer = time.AfterFunc(p.restartDelay, p.requestRestart)
}

// requestRestart fires when the fixed pause elapses: clear the
// stopped-by set and publish the restart directive.
func (p *Protocol) requestRestart() {
	p.mu.Lock()
	if p.closed || p.phase != PhasePausing {
		p.mu.Unlock()
		return
	}
	p.stoppedBy = make(map[int]bool)
	p.phase = PhaseRestartRequested
	p.armStallWarningLocked()
	pair := p.pair
	p.mu.Unlock()

	log.Printf("protocol: pause elapsed, requesting restart")
	if err := p.pub.Publish(cluster.TopicCollisionRestart, cluster.RestartDirective{Pair: pair.Directive()}); err != nil {
		log.Printf("protocol: publishing restart directive: %v", err)
	}
}

// OnRestarted records a restarted acknowledgment, with the same
// idempotency rules as OnStopped. When the set reaches full quorum the
// episode completes: resume every configured instance through the
// forwarder and return to idle. Resume failures are logged and do not
// keep the episode open (fail-open), so a future collision can still
// be processed.
func (p *Protocol) OnRestarted(id int) {
	p.mu.Lock()
	if p.phase != PhaseRestartRequested || !p.expected[id] {
		p.mu.Unlock()
		return
	}
	p.restartedBy[id] = true
	if len(p.restartedBy) < len(p.expected) {
		p.mu.Unlock()
		return
	}

	p.phase = PhaseResuming
	p.disarmStallWarningLocked()
	members := make([]int, 0, len(p.expected))
	for m := range p.expected {
		members = append(members, m)
	}
	p.mu.Unlock()

	log.Printf("protocol: restart quorum reached (%d acks), resuming all", len(members))
	for _, m := range members {
		if err := p.resume(m); err != nil {
			log.Printf("protocol: resuming instance %d: %v", m, err)
		}
	}

	p.mu.Lock()
	p.phase = PhaseIdle
	p.pair = Pair{}
	p.expected = nil
	p.stoppedBy = nil
	p.restartedBy = nil
	p.mu.Unlock()
	log.Printf("protocol: episode complete, idle")
}

// Stop cancels any pending timers so an orchestrator shutdown does not
// leave a restart firing into torn-down components.
func (p *Protocol) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.pauseTimer != nil {
		p.pauseTimer.Stop()
	}
	p.disarmStallWarningLocked()
}

// armStallWarningLocked schedules a warning for the quorum phase just
// entered. Only the two ack-collecting phases can stall; the pause is
// timer-driven and always progresses, so it carries no warning. Caller
// holds p.mu.
func (p *Protocol) armStallWarningLocked() {
	phase := p.phase
	if phase != PhaseStopRequested && phase != PhaseRestartRequested {
		return
	}
	p.disarmStallWarningLocked()
	pair := p.pair
	p.warnTimer = time.AfterFunc(p.warnAfter, func() {
		p.mu.Lock()
		stalled := !p.closed && p.phase == phase
		acked := p.stoppedBy
		if phase == PhaseRestartRequested {
			acked = p.restartedBy
		}
		waiting := len(p.expected) - len(acked)
		p.mu.Unlock()
		if stalled {
			log.Printf("protocol: episode %d/%d stalled in %s for %s, %d acks outstanding",
				pair.A, pair.B, phase, p.warnAfter, waiting)
		}
	})
}

// disarmStallWarningLocked cancels the pending warning. Caller holds p.mu.
func (p *Protocol) disarmStallWarningLocked() {
	if p.warnTimer != nil {
		p.warnTimer.Stop()
		p.warnTimer = nil
	}
}
