package transport

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/dps_blobs/src/protocol"
)

func recvEnvelope(t *testing.T, sub *Subscription) *protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	responses, err := bus.Subscribe(ctx, Filter{Kinds: []int{protocol.KindResponse}})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer responses.Close()

	tagged, err := bus.Subscribe(ctx, Filter{
		Kinds: []int{protocol.KindResponse},
		Tags:  map[string][]string{protocol.TagRequestRef: {"req-1"}},
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer tagged.Close()

	match := protocol.NewEnvelope(protocol.KindResponse, "s", "{}", [][]string{{protocol.TagRequestRef, "req-1"}})
	other := protocol.NewEnvelope(protocol.KindResponse, "s", "{}", [][]string{{protocol.TagRequestRef, "req-2"}})
	wrongKind := protocol.NewEnvelope(protocol.KindChunk, "s", "", [][]string{{protocol.TagRequestRef, "req-1"}})

	for _, env := range []*protocol.Envelope{match, other, wrongKind} {
		if err := bus.Publish(ctx, env); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	// the kind-only subscription sees both responses, not the chunk
	if got := recvEnvelope(t, responses); got.ID != match.ID {
		t.Errorf("first delivery = %s, want %s", got.ID, match.ID)
	}
	if got := recvEnvelope(t, responses); got.ID != other.ID {
		t.Errorf("second delivery = %s, want %s", got.ID, other.ID)
	}

	// the tagged subscription sees only its own response
	if got := recvEnvelope(t, tagged); got.ID != match.ID {
		t.Errorf("tagged delivery = %s, want %s", got.ID, match.ID)
	}
	select {
	case env := <-tagged.C:
		t.Errorf("tagged subscription received stray envelope %s", env.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusSubscriptionClose(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, Filter{})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	sub.Close()
	sub.Close() // safe twice

	if _, ok := <-sub.C; ok {
		t.Error("channel still open after Close")
	}

	// publishing after the subscription closed must not panic
	if err := bus.Publish(ctx, protocol.NewEnvelope(protocol.KindRequest, "c", "{}", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus()
	sub, err := bus.Subscribe(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-sub.C; ok {
		t.Error("subscription channel open after bus close")
	}

	if err := bus.Publish(context.Background(), protocol.NewEnvelope(protocol.KindRequest, "c", "{}", nil)); err != ErrBusClosed {
		t.Errorf("Publish on closed bus = %v, want ErrBusClosed", err)
	}
	if _, err := bus.Subscribe(context.Background(), Filter{}); err != ErrBusClosed {
		t.Errorf("Subscribe on closed bus = %v, want ErrBusClosed", err)
	}
}

func TestFilterMatches(t *testing.T) {
	env := protocol.NewEnvelope(protocol.KindChunk, "s", "", [][]string{
		{protocol.TagFileHash, "abc"},
		{protocol.TagChunkIndex, "0"},
	})

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "empty filter matches everything", filter: Filter{}, want: true},
		{name: "matching kind", filter: Filter{Kinds: []int{protocol.KindChunk}}, want: true},
		{name: "wrong kind", filter: Filter{Kinds: []int{protocol.KindResponse}}, want: false},
		{name: "matching tag", filter: Filter{Tags: map[string][]string{protocol.TagFileHash: {"abc"}}}, want: true},
		{name: "tag value in set", filter: Filter{Tags: map[string][]string{protocol.TagFileHash: {"xyz", "abc"}}}, want: true},
		{name: "wrong tag value", filter: Filter{Tags: map[string][]string{protocol.TagFileHash: {"xyz"}}}, want: false},
		{name: "absent tag", filter: Filter{Tags: map[string][]string{"nope": {"abc"}}}, want: false},
		{
			name: "kind and tag together",
			filter: Filter{
				Kinds: []int{protocol.KindChunk},
				Tags:  map[string][]string{protocol.TagFileHash: {"abc"}},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(env); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}
