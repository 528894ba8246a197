package pendulum

import (
	"fmt"
	"math"

	"github.com/dreamware/pendula/internal/cluster"
)

// BobRadius is the collision radius of every pendulum bob in centimeters.
// Two bobs collide when their centers are strictly closer than the sum of
// their radii. The radius is a physical constant of the simulated rig,
// not a configuration knob.
const BobRadius = 2.0

// DefaultMaxTime caps a simulation run at 60 seconds unless configured.
const DefaultMaxTime = 60.0

// Config holds the physics parameters for one pendulum.
// All quantities are in centimeters, kilograms, and seconds.
type Config struct {
	PivotOffset float64 // Horizontal pivot position along the shared rail
	Angle       float64 // Initial angle from the vertical, radians
	Mass        float64 // Bob mass
	Length      float64 // Rod length
	Gravity     float64 // Gravitational acceleration, cm/s^2
	MaxTime     float64 // Simulated seconds before the run finishes
}

// ValidationError reports a configuration field that is missing or out
// of range. Configuration is rejected before any state mutation.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: field %q is missing or not positive", e.Field)
}

// Validate checks that every required field is present. Mass, length,
// and gravity must be strictly positive; angle and pivot offset may be
// any value including zero.
func (c Config) Validate() error {
	if c.Mass <= 0 {
		return &ValidationError{Field: "mass"}
	}
	if c.Length <= 0 {
		return &ValidationError{Field: "length"}
	}
	if c.Gravity <= 0 {
		return &ValidationError{Field: "gravity"}
	}
	if c.MaxTime < 0 {
		return &ValidationError{Field: "max_time"}
	}
	return nil
}

// Pendulum is a single simple-gravity pendulum advanced at a fixed
// timestep. It is a pure state container: no goroutines, no locking.
// The owning runtime serializes access.
type Pendulum struct {
	cfg      Config
	angle    float64
	velocity float64
	elapsed  float64
	finished bool
	id       int
}

// New creates a pendulum for the given instance identity and validated
// configuration. MaxTime falls back to DefaultMaxTime when zero.
func New(id int, cfg Config) (*Pendulum, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxTime == 0 {
		cfg.MaxTime = DefaultMaxTime
	}
	return &Pendulum{
		id:    id,
		cfg:   cfg,
		angle: cfg.Angle,
	}, nil
}

// Step advances the simulation by dt seconds using semi-implicit Euler:
// the velocity update uses the current angle, the angle update uses the
// new velocity. Once the run has finished, Step is a no-op.
func (p *Pendulum) Step(dt float64) {
	if p.finished || dt <= 0 {
		return
	}

	alpha := -(p.cfg.Gravity / p.cfg.Length) * math.Sin(p.angle)
	p.velocity += alpha * dt
	p.angle += p.velocity * dt

	// Keep the angle in [-pi, pi] so state reads stay bounded.
	for p.angle > math.Pi {
		p.angle -= 2 * math.Pi
	}
	for p.angle < -math.Pi {
		p.angle += 2 * math.Pi
	}

	p.elapsed += dt
	if p.elapsed >= p.cfg.MaxTime {
		p.finished = true
	}
}

// Position derives the bob's 2-D location from the current angle. The
// pivot sits at (PivotOffset, 0) and the bob hangs below it, so an angle
// of zero puts the bob at (PivotOffset, -Length).
func (p *Pendulum) Position() cluster.Position {
	return cluster.Position{
		X: p.cfg.PivotOffset + p.cfg.Length*math.Sin(p.angle),
		Y: -p.cfg.Length * math.Cos(p.angle),
	}
}

// State returns a snapshot of the pendulum for the orchestrator's
// aggregated view. The running flag is owned by the caller's loop, not
// by the physics, so it is passed in.
func (p *Pendulum) State(running bool) cluster.BodyState {
	return cluster.BodyState{
		ID:          p.id,
		PivotOffset: p.cfg.PivotOffset,
		Angle:       p.angle,
		Velocity:    p.velocity,
		Length:      p.cfg.Length,
		Position:    p.Position(),
		HasPosition: true,
		Elapsed:     p.elapsed,
		Finished:    p.finished,
		Running:     running,
	}
}

// Elapsed returns the simulated seconds accumulated so far.
func (p *Pendulum) Elapsed() float64 { return p.elapsed }

// Finished reports whether the run has reached its time limit.
func (p *Pendulum) Finished() bool { return p.finished }
