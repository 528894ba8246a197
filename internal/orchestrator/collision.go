package orchestrator

import (
	"math"

	"github.com/dreamware/pendula/internal/cluster"
	"github.com/dreamware/pendula/internal/pendulum"
)

// Pair is an unordered pair of colliding instance identities, stored
// with A < B in input order.
type Pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

// Directive returns the pair in wire form for the stop directive.
func (p Pair) Directive() [2]int { return [2]int{p.A, p.B} }

// Detect scans the aggregated body states for a colliding pair. Two
// bodies collide when the Euclidean distance between their positions is
// strictly less than the sum of their bob radii; a distance exactly
// equal to the sum is not a collision.
//
// The scan examines every unordered pair exactly once in input order
// (i < j) and reports the first hit, so at most one episode is
// triggered per detection cycle. Bodies without a known position are
// excluded, not treated as colliding.
func Detect(states []cluster.BodyState) (Pair, bool) {
	const threshold = 2 * pendulum.BobRadius

	for i := 0; i < len(states); i++ {
		if !states[i].HasPosition {
			continue
		}
		for j := i + 1; j < len(states); j++ {
			if !states[j].HasPosition {
				continue
			}
			dx := states[i].Position.X - states[j].Position.X
			dy := states[i].Position.Y - states[j].Position.Y
			if math.Hypot(dx, dy) < threshold {
				return Pair{A: states[i].ID, B: states[j].ID}, true
			}
		}
	}
	return Pair{}, false
}
