// Package client implements the requesting side of the blob storage
// protocol: building requests, correlating responses, collecting chunk
// sets, and verifying reassembled content.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/dps_blobs/src/chunker"
	"github.com/danmuck/dps_blobs/src/config"
	"github.com/danmuck/dps_blobs/src/protocol"
	"github.com/danmuck/dps_blobs/src/transport"
	logs "github.com/danmuck/smplog"
	"github.com/google/uuid"
)

// Client issues store/retrieve/delete actions against a blob server over
// the message bus. Many requests may be outstanding concurrently; each owns
// its own correlation slot.
type Client struct {
	bus            transport.Bus
	identity       string
	correlator     *correlator
	collectTimeout time.Duration
}

// New builds a client with a fresh identity on the given bus.
func New(bus transport.Bus, cfg config.Config) *Client {
	return &Client{
		bus:            bus,
		identity:       uuid.NewString(),
		correlator:     newCorrelator(bus, cfg.ResponseTimeout()),
		collectTimeout: cfg.CollectTimeout(),
	}
}

// Identity returns the client's bus identity.
func (c *Client) Identity() string { return c.identity }

// Discover listens for server announcements for the given window and
// returns one entry per distinct server identity.
func (c *Client) Discover(ctx context.Context, window time.Duration) ([]*protocol.Announcement, error) {
	sub, err := c.bus.Subscribe(ctx, transport.Filter{Kinds: []int{protocol.KindAnnouncement}})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe for announcements: %w", err)
	}
	defer sub.Close()

	timer := time.NewTimer(window)
	defer timer.Stop()

	seen := make(map[string]*protocol.Announcement)
	for {
		select {
		case env, ok := <-sub.C:
			if !ok {
				return announcements(seen), nil
			}
			ann, err := protocol.ParseAnnouncement(env)
			if err != nil {
				logs.Debugf("discarding announcement: %v", err)
				continue
			}
			seen[ann.Identity] = ann
		case <-timer.C:
			return announcements(seen), nil
		case <-ctx.Done():
			return announcements(seen), ctx.Err()
		}
	}
}

func announcements(seen map[string]*protocol.Announcement) []*protocol.Announcement {
	out := make([]*protocol.Announcement, 0, len(seen))
	for _, a := range seen {
		out = append(out, a)
	}
	return out
}

// Store uploads data to the server and returns the server's record of it.
// The filename is descriptive metadata only; content is addressed by hash.
// A nil data slice stores an empty file.
func (c *Client) Store(ctx context.Context, serverID string, data []byte, filename string) (*protocol.Response, error) {
	if data == nil {
		data = []byte{}
	}
	req := &protocol.Request{
		Action:   protocol.ActionStore,
		Data:     data,
		Filename: filename,
	}
	return c.send(ctx, serverID, req)
}

// Retrieve fetches the file addressed by hashHex, collects its chunk set,
// and returns the verified bytes. The chunk subscription opens before the
// request goes out because chunk messages may precede the response.
func (c *Client) Retrieve(ctx context.Context, serverID, hashHex string) ([]byte, error) {
	if !protocol.ValidHash(hashHex) {
		return nil, &ServerError{Code: protocol.CodeInvalidHash, Message: "hash must be 64 lowercase hex characters"}
	}

	coll, err := newCollector(ctx, c.bus, hashHex)
	if err != nil {
		return nil, err
	}
	defer coll.close()

	resp, err := c.send(ctx, serverID, &protocol.Request{
		Action: protocol.ActionRetrieve,
		Hash:   hashHex,
	})
	if err != nil {
		return nil, err
	}

	chunks, err := coll.wait(ctx, resp.ChunkCount, c.collectTimeout)
	if err != nil {
		return nil, err
	}

	data, err := chunker.Reassemble(chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to reassemble %s: %w", hashHex, err)
	}
	if actual := chunker.HashBytes(data); actual != hashHex {
		return nil, &IntegrityError{Expected: hashHex, Actual: actual}
	}
	return data, nil
}

// Delete removes the file addressed by hashHex from the server.
func (c *Client) Delete(ctx context.Context, serverID, hashHex string) error {
	if !protocol.ValidHash(hashHex) {
		return &ServerError{Code: protocol.CodeInvalidHash, Message: "hash must be 64 lowercase hex characters"}
	}
	_, err := c.send(ctx, serverID, &protocol.Request{
		Action: protocol.ActionDelete,
		Hash:   hashHex,
	})
	return err
}

// send correlates one request with its response and converts error
// responses into typed failures.
func (c *Client) send(ctx context.Context, serverID string, req *protocol.Request) (*protocol.Response, error) {
	env, err := req.Envelope(c.identity, protocol.CapabilityAddress(serverID))
	if err != nil {
		return nil, err
	}

	resp, err := c.correlator.send(ctx, env)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &ServerError{Code: resp.ErrorCode, Message: resp.Message}
	}
	return resp, nil
}
