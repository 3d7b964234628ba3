package protocol

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// ChunkMessage is the typed form of a kind-24212 envelope: one chunk of a
// file plus the tags a receiver needs to place and verify it before the
// rest of the file has arrived.
type ChunkMessage struct {
	FileHash  string
	Index     int
	Total     int
	ChunkHash string
	ExpiresAt int64
	Data      []byte
}

// Envelope wraps the chunk into a wire envelope. Chunk bytes travel
// base64-encoded in the content body; everything else is tags so receivers
// can filter without decoding payloads.
func (c *ChunkMessage) Envelope(from string) *Envelope {
	tags := [][]string{
		{TagFileHash, c.FileHash},
		{TagChunkIndex, strconv.Itoa(c.Index)},
		{TagChunkTotal, strconv.Itoa(c.Total)},
		{TagChunkHash, c.ChunkHash},
		{TagExpiration, strconv.FormatInt(c.ExpiresAt, 10)},
	}
	content := base64.StdEncoding.EncodeToString(c.Data)
	return NewEnvelope(KindChunk, from, content, tags)
}

// ParseChunk validates a chunk envelope into its typed form.
func ParseChunk(env *Envelope) (*ChunkMessage, error) {
	c := &ChunkMessage{
		FileHash:  env.Tag(TagFileHash),
		ChunkHash: env.Tag(TagChunkHash),
	}
	if c.FileHash == "" {
		return nil, fmt.Errorf("chunk envelope missing %s tag", TagFileHash)
	}
	if c.ChunkHash == "" {
		return nil, fmt.Errorf("chunk envelope missing %s tag", TagChunkHash)
	}

	index, err := strconv.Atoi(env.Tag(TagChunkIndex))
	if err != nil || index < 0 {
		return nil, fmt.Errorf("chunk envelope has invalid %s tag: %q", TagChunkIndex, env.Tag(TagChunkIndex))
	}
	c.Index = index

	total, err := strconv.Atoi(env.Tag(TagChunkTotal))
	if err != nil || total < 1 {
		return nil, fmt.Errorf("chunk envelope has invalid %s tag: %q", TagChunkTotal, env.Tag(TagChunkTotal))
	}
	c.Total = total

	if exp := env.Tag(TagExpiration); exp != "" {
		expires, err := strconv.ParseInt(exp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk envelope has invalid %s tag: %q", TagExpiration, exp)
		}
		c.ExpiresAt = expires
	}

	data, err := base64.StdEncoding.DecodeString(env.Content)
	if err != nil {
		return nil, fmt.Errorf("chunk content is not valid base64: %w", err)
	}
	c.Data = data

	return c, nil
}
