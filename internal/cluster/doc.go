// Package cluster provides the shared wire layer for Pendula, defining the
// message types and HTTP helpers used by both the orchestrator and the
// simulation instances it supervises.
//
// # Overview
//
// Pendula runs several independent pendulum simulations as separate
// processes. The orchestrator polls each instance over a plain HTTP
// request/response channel and coordinates collision episodes over a
// topic-based pub/sub channel. This package holds everything both sides
// must agree on: instance identity, the body-state snapshot, the
// configuration payload, the coordination topics, and their payloads.
//
// # Architecture
//
//	              ┌──────────────┐
//	              │ Orchestrator │
//	              │              │
//	              │ - Registry   │
//	              │ - Detector   │
//	              │ - Protocol   │
//	              │ - Broker hub │
//	              └──────┬───────┘
//	                     │ HTTP + pub/sub
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐ ┌─────▼─────┐ ┌─────▼─────┐
//	│Instance 0 │ │Instance 1 │ │Instance 2 │
//	│ pendulum  │ │ pendulum  │ │ pendulum  │
//	└───────────┘ └───────────┘ └───────────┘
//
// # Communication Channels
//
// Request/response (HTTP/JSON, orchestrator -> instance):
//   - GET /state: current BodyState snapshot
//   - POST /configure: physics parameters (ConfigureRequest)
//   - POST /start, /stop, /reset: loop control, idempotent
//   - GET /health: HealthStatus {configured, running}
//
// Registration (HTTP/JSON, instance -> orchestrator):
//   - POST /register: RegisterRequest announcing the instance address
//
// Pub/sub (broker-mediated, topic-based):
//   - TopicCollisionStop / TopicCollisionRestart: leader directives,
//     at-least-once delivery, idempotent handling required
//   - TopicStopped / TopicRestarted: follower acknowledgments carrying
//     only the sender's identity
//
// # Units
//
// All physical quantities are in centimeters and seconds. Positions are
// derived from the pendulum angle at snapshot time and never stored.
package cluster
