package broker

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds how long a single frame write may block.
	writeWait = 5 * time.Second

	// sendQueueSize is the per-subscriber outbound buffer. A subscriber
	// that falls this far behind starts losing frames.
	sendQueueSize = 32
)

// Frame is the single wire message of the pub/sub channel. Type is
// either "subscribe" or "publish".
type Frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	frameSubscribe = "subscribe"
	framePublish   = "publish"
)

// Handler receives the payload of a message published on a subscribed
// topic. Handlers run on the publishing goroutine and must not block.
type Handler func(payload json.RawMessage)

// Broker is a topic-based publish/subscribe hub. Remote subscribers
// attach over a websocket served by HandleWS; the process hosting the
// broker can also subscribe in-process without a websocket round-trip.
//
// Delivery to remote subscribers is best effort with a bounded queue:
// a slow consumer loses frames rather than stalling the hub. Directive
// topics tolerate this because the protocol's handling is idempotent.
type Broker struct {
	subs     map[string]map[*subscriber]bool
	local    map[string][]Handler
	upgrader websocket.Upgrader
	mu       sync.RWMutex
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{
		subs:  make(map[string]map[*subscriber]bool),
		local: make(map[string][]Handler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Subscribers are co-located processes, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// subscriber is one attached websocket connection. Frames are handed to
// a buffered queue drained by a dedicated write pump so the hub never
// writes to the socket from more than one goroutine.
//
// The send channel is closed only by detach, under the broker's write
// lock. dispatch sends while holding the read lock, so a send can never
// race a close.
type subscriber struct {
	conn *websocket.Conn
	send chan Frame
	once sync.Once
}

// closeSend shuts the queue down, ending the write pump. Must only be
// called with the broker's write lock held.
func (s *subscriber) closeSend() {
	s.once.Do(func() { close(s.send) })
}

// writePump drains the send queue onto the websocket until the queue is
// closed or a write fails.
func (s *subscriber) writePump() {
	for frame := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(frame); err != nil {
			log.Printf("broker: dropping subscriber, write failed: %v", err)
			s.conn.Close()
			return
		}
	}
}

// HandleWS upgrades the request to a websocket and services the
// connection until it closes: subscribe frames attach the connection to
// topics, publish frames fan out to every other subscriber and every
// in-process handler.
func (b *Broker) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("broker: upgrade failed: %v", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan Frame, sendQueueSize),
	}
	go sub.writePump()

	defer func() {
		b.detach(sub)
		conn.Close()
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("broker: read failed: %v", err)
			}
			return
		}

		switch frame.Type {
		case frameSubscribe:
			b.attach(frame.Topic, sub)
		case framePublish:
			b.dispatch(frame.Topic, frame.Payload, sub)
		default:
			log.Printf("broker: ignoring frame type %q", frame.Type)
		}
	}
}

// Subscribe registers an in-process handler for a topic. Used by the
// leader, which hosts the broker and needs no websocket to itself.
func (b *Broker) Subscribe(topic string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.local[topic] = append(b.local[topic], h)
}

// Publish delivers payload to every subscriber of topic. The payload is
// marshaled once; in-process handlers run synchronously on the calling
// goroutine, remote subscribers receive the frame through their queues.
func (b *Broker) Publish(topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.dispatch(topic, raw, nil)
	return nil
}

// dispatch fans a message out to local handlers and remote subscribers,
// skipping the originating subscriber. Queue sends are non-blocking and
// happen under the read lock: detach closes a queue only under the
// write lock, so a subscriber dropping mid-publish cannot turn a send
// into a panic. Handlers run after the lock is released so a handler
// may publish again without deadlocking.
func (b *Broker) dispatch(topic string, payload json.RawMessage, from *subscriber) {
	frame := Frame{Type: framePublish, Topic: topic, Payload: payload}

	b.mu.RLock()
	handlers := make([]Handler, len(b.local[topic]))
	copy(handlers, b.local[topic])
	for sub := range b.subs[topic] {
		if sub == from {
			continue
		}
		select {
		case sub.send <- frame:
		default:
			log.Printf("broker: subscriber queue full, dropping frame on %q", topic)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}

func (b *Broker) attach(topic string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscriber]bool)
	}
	b.subs[topic][sub] = true
}

// detach removes the subscriber from every topic and shuts down its
// queue. Holding the write lock for both steps excludes any concurrent
// dispatch, which sends under the read lock.
func (b *Broker) detach(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		if subs[sub] {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.subs, topic)
			}
		}
	}
	sub.closeSend()
}

// SubscriberCount reports how many remote subscribers a topic has.
// Used by tests and the orchestrator's readiness checks.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
