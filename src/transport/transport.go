package transport

import (
	"context"

	"github.com/danmuck/dps_blobs/src/protocol"
)

// Bus is the black-box message transport the protocol rides on: publish an
// envelope, subscribe to a stream of envelopes matching a filter. Delivery
// is at-least-once and unordered; no request/response pairing is provided
// here, correlation is the protocol layer's job.
type Bus interface {
	Publish(ctx context.Context, env *protocol.Envelope) error
	Subscribe(ctx context.Context, f Filter) (*Subscription, error)
	Close() error
}

// Filter selects envelopes by kind and tag values. Empty Kinds matches any
// kind; each Tags entry requires at least one of its values to be present.
type Filter struct {
	Kinds []int               `json:"kinds,omitempty"`
	Tags  map[string][]string `json:"tags,omitempty"`
}

// Matches reports whether env passes the filter.
func (f Filter) Matches(env *protocol.Envelope) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if env.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for name, values := range f.Tags {
		found := false
		for _, v := range values {
			if env.HasTag(name, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// Subscription is one registered filter and its delivery channel. Close
// deregisters the filter; the channel is closed once no further deliveries
// can occur.
type Subscription struct {
	C      <-chan *protocol.Envelope
	cancel func()
}

// NewSubscription pairs a delivery channel with its teardown. Bus
// implementations call this; consumers only read C and Close.
func NewSubscription(ch <-chan *protocol.Envelope, cancel func()) *Subscription {
	return &Subscription{C: ch, cancel: cancel}
}

// Close tears down the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
