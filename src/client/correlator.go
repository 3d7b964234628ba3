package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/dps_blobs/src/protocol"
	"github.com/danmuck/dps_blobs/src/transport"
	logs "github.com/danmuck/smplog"
)

// correlator pairs published requests with their asynchronous responses.
// Every outstanding request owns its own wait slot: a subscription filtered
// on the request's unique id, woken by arrival rather than polling. The
// pending set enforces at most one slot per correlation identity.
type correlator struct {
	bus     transport.Bus
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
}

func newCorrelator(bus transport.Bus, timeout time.Duration) *correlator {
	return &correlator{
		bus:     bus,
		timeout: timeout,
		pending: make(map[string]struct{}),
	}
}

// send publishes the request envelope and blocks the caller (only the
// caller) until a response referencing its id arrives or the timeout
// elapses. The slot is torn down on every exit path so a stray late reply
// can never fill it.
func (c *correlator) send(ctx context.Context, req *protocol.Envelope) (*protocol.Response, error) {
	c.mu.Lock()
	if _, exists := c.pending[req.ID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("request %s is already pending", req.ID)
	}
	c.pending[req.ID] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	// register interest before publishing so the reply cannot slip past
	sub, err := c.bus.Subscribe(ctx, transport.Filter{
		Kinds: []int{protocol.KindResponse},
		Tags:  map[string][]string{protocol.TagRequestRef: {req.ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe for response: %w", err)
	}
	defer sub.Close()

	if err := c.bus.Publish(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to publish request: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case env, ok := <-sub.C:
			if !ok {
				return nil, transport.ErrBusClosed
			}
			resp, err := protocol.ParseResponse(env)
			if err != nil {
				logs.Debugf("discarding unparsable response for %s: %v", req.ID, err)
				continue
			}
			// first matching reply wins; duplicates die with the subscription
			return resp, nil

		case <-timer.C:
			return nil, &TimeoutError{Op: "response to " + req.ID, Elapsed: c.timeout}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
