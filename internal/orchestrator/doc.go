// Package orchestrator implements the leader side of Pendula: instance
// process supervision, request forwarding, collision detection, and the
// distributed stop/restart coordination protocol.
//
// # Overview
//
// The orchestrator runs several pendulum simulations as separate
// processes, polls their state, and when two bobs collide drives every
// instance through a synchronized stop -> pause -> restart cycle with
// explicit acknowledgment quorums.
//
// # Components
//
// Registry: one record per simulation slot (identity, address,
// configured/running flags, tagged process state). It is the single
// source of truth for which slots exist and the single choke point for
// forwarding an operation to one instance. Slots are created once at
// startup and live until shutdown; they are reconfigured, never
// removed.
//
// ExecLauncher / CleanupOrphans: process supervision. Instances are
// launched from the instance binary with their configuration in the
// environment, tracked through pidfiles, and swept up on the next
// startup if a previous run died without cleaning up.
//
// Detect: the pairwise collision scan. Pure function over the
// aggregated body states; strict less-than on the distance between bob
// centers against the sum of the fixed bob radii.
//
// Poller: the aggregation loop. Fetches every instance's state each
// interval, serves the latest aggregate view, and hands detector hits
// to the protocol.
//
// Protocol: the leader state machine.
//
//	Idle --collision--> StopRequested --quorum--> Pausing
//	     --delay--> RestartRequested --quorum--> Resuming --> Idle
//
// Quorum is the full set of configured instances captured at episode
// start. Acknowledgment sets are idempotent, late or duplicated acks
// are no-ops, and each quorum transition fires exactly once. A second
// collision while an episode is in progress is dropped. If an instance
// never acknowledges, the episode stalls in place: there is no timeout
// or degraded-quorum path, only a periodic stall warning in the log.
//
// # Concurrency Model
//
// All coordination state is confined to the orchestrator process.
// Registry and protocol each guard their own state with a single
// mutex; callers never see interior references. Forwarding calls to
// distinct instances during shutdown run concurrently because their
// outcomes are independent; protocol-ordered calls (stop, pause,
// restart, resume) are sequenced by the state machine itself.
package orchestrator
