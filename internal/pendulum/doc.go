// Package pendulum implements the body simulation at the leaf of the
// Pendula system: a single simple-gravity pendulum advanced at a fixed
// timestep.
//
// # Physics Model
//
// The pendulum is a point mass on a rigid massless rod:
//
//	alpha = -(g / L) * sin(theta)
//
// integrated with semi-implicit Euler, which keeps the oscillation
// energy bounded over long runs where explicit Euler would diverge.
// All quantities are in centimeters, kilograms, and seconds.
//
// # Derived Position
//
// The bob's 2-D position is never stored. It is recomputed from the
// angle, rod length, and pivot offset on every read, so the position
// and the angle can never disagree:
//
//	x = pivot + L * sin(theta)
//	y = -L * cos(theta)
//
// The pivot sits at (PivotOffset, 0) on a shared horizontal rail, which
// is what makes bobs from different instances comparable in one plane.
//
// # Ownership
//
// A Pendulum is deliberately passive: no goroutines, no locks, no
// clock. The instance runtime owns one and drives Step from its timed
// update loop; the orchestrator only ever sees value-copy snapshots.
package pendulum
