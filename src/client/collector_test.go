package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/dps_blobs/src/chunker"
	"github.com/danmuck/dps_blobs/src/protocol"
	"github.com/danmuck/dps_blobs/src/transport"
)

func publishChunk(t *testing.T, bus transport.Bus, fileHash string, index, total int, data []byte) {
	t.Helper()
	msg := &protocol.ChunkMessage{
		FileHash:  fileHash,
		Index:     index,
		Total:     total,
		ChunkHash: chunker.HashBytes(data),
		Data:      data,
	}
	if err := bus.Publish(context.Background(), msg.Envelope("server-x")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func TestCollectorOutOfOrder(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	data := randomBytes(t, 70000)
	chunks := chunker.Split(data, chunker.DefaultChunkSize)
	fileHash := chunker.HashBytes(data)

	coll, err := newCollector(ctx, bus, fileHash)
	if err != nil {
		t.Fatalf("newCollector failed: %v", err)
	}
	defer coll.close()

	// deliver last chunk first
	for i := len(chunks) - 1; i >= 0; i-- {
		publishChunk(t, bus, fileHash, chunks[i].Index, len(chunks), chunks[i].Data)
	}

	got, err := coll.wait(ctx, len(chunks), time.Second)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	for i, c := range got {
		if c.Index != i {
			t.Errorf("chunk %d has index %d, want sorted order", i, c.Index)
		}
	}
}

func TestCollectorIgnoresOtherFiles(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	want := []byte("the right file")
	fileHash := chunker.HashBytes(want)

	coll, err := newCollector(ctx, bus, fileHash)
	if err != nil {
		t.Fatalf("newCollector failed: %v", err)
	}
	defer coll.close()

	publishChunk(t, bus, chunker.HashBytes([]byte("other")), 0, 1, []byte("noise"))
	publishChunk(t, bus, fileHash, 0, 1, want)

	got, err := coll.wait(ctx, 1, time.Second)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if string(got[0].Data) != string(want) {
		t.Errorf("collected %q, want %q", got[0].Data, want)
	}
}

func TestCollectorDuplicateIdentical(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	data := []byte("redelivered")
	fileHash := chunker.HashBytes(data)

	coll, err := newCollector(ctx, bus, fileHash)
	if err != nil {
		t.Fatalf("newCollector failed: %v", err)
	}
	defer coll.close()

	publishChunk(t, bus, fileHash, 0, 2, data)
	publishChunk(t, bus, fileHash, 0, 2, data) // identical redelivery
	publishChunk(t, bus, fileHash, 1, 2, []byte("second"))

	got, err := coll.wait(ctx, 2, time.Second)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("collected %d chunks, want 2", len(got))
	}
}

func TestCollectorConflictingDuplicate(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	fileHash := chunker.HashBytes([]byte("whatever"))

	coll, err := newCollector(ctx, bus, fileHash)
	if err != nil {
		t.Fatalf("newCollector failed: %v", err)
	}
	defer coll.close()

	publishChunk(t, bus, fileHash, 0, 2, []byte("first version"))
	publishChunk(t, bus, fileHash, 0, 2, []byte("other version"))

	_, err = coll.wait(ctx, 2, time.Second)
	var corrErr *CorruptionError
	if !errors.As(err, &corrErr) {
		t.Fatalf("wait error = %v, want CorruptionError", err)
	}
	if corrErr.Index != 0 {
		t.Errorf("corrupt index = %d, want 0", corrErr.Index)
	}
}

func TestCollectorTimeout(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	ctx := context.Background()

	fileHash := chunker.HashBytes([]byte("partial"))

	coll, err := newCollector(ctx, bus, fileHash)
	if err != nil {
		t.Fatalf("newCollector failed: %v", err)
	}
	defer coll.close()

	publishChunk(t, bus, fileHash, 0, 3, []byte("only one arrives"))

	_, err = coll.wait(ctx, 3, 100*time.Millisecond)
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("wait error = %v, want TimeoutError", err)
	}
	if toErr.Got != 1 || toErr.Expected != 3 {
		t.Errorf("timeout progress = %d/%d, want 1/3", toErr.Got, toErr.Expected)
	}
}

func TestCollectorZeroChunks(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()

	// empty content has no chunks; wait must complete without any arrival
	coll, err := newCollector(context.Background(), bus, chunker.HashBytes(nil))
	if err != nil {
		t.Fatalf("newCollector failed: %v", err)
	}
	defer coll.close()

	start := time.Now()
	got, err := coll.wait(context.Background(), 0, time.Second)
	if err != nil {
		t.Fatalf("wait failed for zero expected chunks: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("collected %d chunks, want 0", len(got))
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("wait for zero chunks did not complete immediately")
	}
}

func TestCollectorRejectsNegativeCount(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()

	coll, err := newCollector(context.Background(), bus, chunker.HashBytes([]byte("x")))
	if err != nil {
		t.Fatalf("newCollector failed: %v", err)
	}
	defer coll.close()

	if _, err := coll.wait(context.Background(), -1, time.Second); err == nil {
		t.Error("wait accepted a negative expected count")
	}
}
