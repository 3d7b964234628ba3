package client

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/danmuck/dps_blobs/src/chunker"
	"github.com/danmuck/dps_blobs/src/protocol"
	"github.com/danmuck/dps_blobs/src/transport"
	logs "github.com/danmuck/smplog"
)

// collector accumulates the chunk messages for one file hash. It must be
// opened before the retrieve request goes out: the server may publish
// chunks before or after the response that announces their count, and the
// subscription has to be live for both orders.
type collector struct {
	fileHash string
	sub      *transport.Subscription
}

func newCollector(ctx context.Context, bus transport.Bus, fileHash string) (*collector, error) {
	sub, err := bus.Subscribe(ctx, transport.Filter{
		Kinds: []int{protocol.KindChunk},
		Tags:  map[string][]string{protocol.TagFileHash: {fileHash}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe for chunks: %w", err)
	}
	return &collector{fileHash: fileHash, sub: sub}, nil
}

func (c *collector) close() { c.sub.Close() }

// wait gathers chunk messages until expected distinct indices are held,
// then returns them sorted by index. Chunks arrive out of order and may be
// duplicated; duplicates are ignored unless their bytes disagree, which is
// a CorruptionError. Collection completes the instant the count is met;
// an empty file carries zero chunks, so wait(0) completes immediately.
func (c *collector) wait(ctx context.Context, expected int, timeout time.Duration) ([]chunker.Chunk, error) {
	if expected < 0 {
		return nil, fmt.Errorf("expected chunk count must not be negative, got %d", expected)
	}

	received := make(map[int]chunker.Chunk, expected)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for len(received) < expected {
		select {
		case env, ok := <-c.sub.C:
			if !ok {
				return nil, transport.ErrBusClosed
			}
			msg, err := protocol.ParseChunk(env)
			if err != nil {
				logs.Debugf("discarding unparsable chunk for %s: %v", c.fileHash, err)
				continue
			}
			if msg.FileHash != c.fileHash {
				continue
			}
			if msg.Index >= expected {
				logs.Debugf("discarding out-of-range chunk %d/%d for %s", msg.Index, expected, c.fileHash)
				continue
			}
			if prev, dup := received[msg.Index]; dup {
				if !bytes.Equal(prev.Data, msg.Data) {
					return nil, &CorruptionError{FileHash: c.fileHash, Index: msg.Index}
				}
				continue // identical redelivery, idempotently ignored
			}
			received[msg.Index] = chunker.Chunk{
				Index: msg.Index,
				Data:  msg.Data,
				Hash:  msg.ChunkHash,
				Size:  len(msg.Data),
			}

		case <-timer.C:
			return nil, &TimeoutError{
				Op:       "chunks of " + c.fileHash,
				Elapsed:  timeout,
				Got:      len(received),
				Expected: expected,
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	chunks := make([]chunker.Chunk, 0, len(received))
	for _, c := range received {
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}
