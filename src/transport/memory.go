package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/dps_blobs/src/protocol"
	logs "github.com/danmuck/smplog"
	"github.com/google/uuid"
)

// subscriber buffer; a slow consumer drops messages rather than stalling
// every publisher on the bus
const memorySubBuffer = 256

var ErrBusClosed = errors.New("bus is closed")

// MemoryBus is an in-process Bus for tests and single-process wiring.
// Every published envelope fans out to all matching subscriptions.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]*memorySub
	closed bool
}

type memorySub struct {
	filter Filter
	ch     chan *protocol.Envelope
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]*memorySub)}
}

// Publish fans the envelope out to all matching subscriptions. A full
// subscriber buffer drops the delivery; the protocol tolerates loss the
// same way it tolerates an unreliable relay.
func (b *MemoryBus) Publish(ctx context.Context, env *protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	for id, sub := range b.subs {
		if !sub.filter.Matches(env) {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			logs.Warnf("memory bus: dropping envelope %s for slow subscriber %s", env.ID, id)
		}
	}
	return nil
}

// Subscribe registers a filter and returns its delivery channel.
func (b *MemoryBus) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	id := uuid.NewString()
	sub := &memorySub{
		filter: f,
		ch:     make(chan *protocol.Envelope, memorySubBuffer),
	}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}

	return &Subscription{C: sub.ch, cancel: cancel}, nil
}

// Close tears down all subscriptions and rejects further use.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	return nil
}
