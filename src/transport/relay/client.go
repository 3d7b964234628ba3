package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/danmuck/dps_blobs/src/protocol"
	"github.com/danmuck/dps_blobs/src/transport"
	logs "github.com/danmuck/smplog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const clientSubBuffer = 256

// Client is a transport.Bus backed by one websocket connection to a relay.
type Client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]chan *protocol.Envelope
	acks   map[string]chan struct{} // REQ awaiting its EOSE
	closed bool
}

var _ transport.Bus = (*Client)(nil)

// Dial connects to a relay at url (ws:// or wss://) and starts the read loop.
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay %s: %w", url, err)
	}

	c := &Client{
		ws:   ws,
		subs: make(map[string]chan *protocol.Envelope),
		acks: make(map[string]chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Publish sends the envelope to the relay for fan-out.
func (c *Client) Publish(ctx context.Context, env *protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := encodeFrame(verbEvent, env)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// Subscribe registers a filter with the relay and returns the delivery
// channel for matching envelopes. It blocks until the relay acknowledges
// the registration: only then are publishes on other connections
// guaranteed to match.
func (c *Client) Subscribe(ctx context.Context, f transport.Filter) (*transport.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subID := uuid.NewString()
	ch := make(chan *protocol.Envelope, clientSubBuffer)
	ack := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrBusClosed
	}
	c.subs[subID] = ch
	c.acks[subID] = ack
	c.mu.Unlock()

	cancel := func() {
		if frame, err := encodeFrame(verbClose, subID); err == nil {
			if err := c.write(frame); err != nil {
				logs.Debugf("relay client: CLOSE for %s failed: %v", subID, err)
			}
		}
		c.dropSub(subID)
	}

	frame, err := encodeFrame(verbReq, subID, f)
	if err != nil {
		c.dropSub(subID)
		return nil, err
	}
	if err := c.write(frame); err != nil {
		c.dropSub(subID)
		return nil, err
	}

	select {
	case <-ack:
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, transport.ErrBusClosed
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	return transport.NewSubscription(ch, cancel), nil
}

// Close shuts the connection down and tears down every subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	// wake any Subscribe still waiting on its ack; it observes closed
	for id, ack := range c.acks {
		delete(c.acks, id)
		close(ack)
	}
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *Client) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write to relay: %w", err)
	}
	return nil
}

func (c *Client) dropSub(subID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[subID]; ok {
		delete(c.subs, subID)
		close(ch)
	}
	if ack, ok := c.acks[subID]; ok {
		delete(c.acks, subID)
		close(ack)
	}
}

// readLoop dispatches relay deliveries to their subscription channels until
// the connection dies, then closes all remaining channels.
func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		verb, parts, err := decodeFrame(data)
		if err != nil {
			logs.Debugf("relay client: ignoring bad frame: %v", err)
			continue
		}

		switch {
		case verb == verbEose && len(parts) == 1:
			var subID string
			if err := json.Unmarshal(parts[0], &subID); err != nil {
				continue
			}
			c.mu.Lock()
			if ack, ok := c.acks[subID]; ok {
				delete(c.acks, subID)
				close(ack)
			}
			c.mu.Unlock()

		case verb == verbEvent && len(parts) == 2:
			var subID string
			if err := json.Unmarshal(parts[0], &subID); err != nil {
				continue
			}
			var env protocol.Envelope
			if err := json.Unmarshal(parts[1], &env); err != nil {
				logs.Warnf("relay client: bad envelope in delivery: %v", err)
				continue
			}

			// send under the lock so a concurrent Close cannot close the
			// channel between lookup and delivery
			c.mu.Lock()
			if ch, ok := c.subs[subID]; ok {
				select {
				case ch <- &env:
				default:
					logs.Warnf("relay client: dropping envelope %s, subscription %s is full", env.ID, subID)
				}
			}
			c.mu.Unlock()

		default:
			logs.Debugf("relay client: ignoring frame: verb=%q parts=%d", verb, len(parts))
		}
	}
}
