// Package broker implements the publish/subscribe coordination channel
// between the Pendula orchestrator and its simulation instances.
//
// # Overview
//
// The broker is a topic-based hub hosted inside the orchestrator
// process and exposed on a single websocket endpoint. Instances attach
// as clients, subscribe to the directive topics, and publish their
// acknowledgments; the orchestrator subscribes in-process, so its own
// messages never cross a socket.
//
//	                ┌─────────────────────┐
//	                │    Orchestrator     │
//	                │  ┌───────────────┐  │
//	   in-process   │  │  Broker hub   │  │
//	   Subscribe ───┼──►               │  │
//	   / Publish    │  └──────┬────────┘  │
//	                └─────────┼───────────┘
//	                          │ GET /pubsub (websocket)
//	              ┌───────────┼───────────┐
//	              │           │           │
//	          Client 0    Client 1    Client 2
//
// # Wire Protocol
//
// One JSON frame type in both directions:
//
//	{"type": "subscribe", "topic": "collision/stop"}
//	{"type": "publish", "topic": "instance/stopped", "payload": {"id": 1}}
//
// A publish received by the hub fans out to every subscriber of the
// topic except the sender, plus every in-process handler.
//
// # Delivery Semantics
//
// Delivery to remote subscribers is at-least-once from the publisher's
// point of view and best effort per connection: each subscriber has a
// bounded send queue drained by a dedicated write pump, and a consumer
// that falls behind loses frames rather than stalling the hub. The
// coordination protocol tolerates both duplication and loss because
// directive handling and acknowledgment counting are idempotent.
//
// Clients redial with capped backoff and replay their subscriptions on
// every reconnect.
package broker
