package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	redialBase = 400 * time.Millisecond
	redialMax  = 5 * time.Second
)

// ErrDisconnected is returned by Publish while the client is between
// redial attempts.
var ErrDisconnected = errors.New("broker client: not connected")

// Client is the follower side of the pub/sub channel: a websocket
// connection to the broker hub with topic handlers dispatched from a
// read loop. The connection redials with capped backoff until Close.
type Client struct {
	url      string
	handlers map[string]Handler

	mu   sync.Mutex // serializes writes and guards conn
	conn *websocket.Conn

	done chan struct{}
	wg   sync.WaitGroup
}

// NewClient creates a client for the broker at url (ws:// scheme).
// Register handlers with Subscribe before calling Connect.
func NewClient(url string) *Client {
	return &Client{
		url:      url,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// Subscribe registers a handler for a topic. Must be called before
// Connect; the subscription is replayed on every redial.
func (c *Client) Subscribe(topic string, h Handler) {
	c.handlers[topic] = h
}

// Connect dials the broker, sends the subscriptions, and starts the
// read loop. It blocks until the first dial succeeds or ctx expires,
// so a connected client is known to be attached to its topics.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	c.wg.Add(1)
	go c.run()
	return nil
}

// dial establishes the websocket and replays every subscription.
func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	for topic := range c.handlers {
		if err := conn.WriteJSON(Frame{Type: frameSubscribe, Topic: topic}); err != nil {
			conn.Close()
			return err
		}
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// run reads frames and dispatches them to handlers, redialing with
// capped backoff when the connection drops.
func (c *Client) run() {
	defer c.wg.Done()

	backoff := redialBase
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			c.readLoop(conn)
			backoff = redialBase
		}

		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > redialMax {
			backoff = redialMax
		}

		ctx, cancel := context.WithTimeout(context.Background(), redialMax)
		if err := c.dial(ctx); err != nil {
			log.Printf("broker client: redial failed: %v", err)
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
		}
		cancel()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("broker client: connection lost: %v", err)
			}
			conn.Close()
			return
		}
		if frame.Type != framePublish {
			continue
		}
		if h := c.handlers[frame.Topic]; h != nil {
			h(frame.Payload)
		}
	}
}

// Publish sends payload on topic through the broker. Returns an error
// when the client is currently disconnected.
func (c *Client) Publish(topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrDisconnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(Frame{Type: framePublish, Topic: topic, Payload: raw})
}

// Close stops the read loop and tears down the connection.
func (c *Client) Close() {
	close(c.done)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}
