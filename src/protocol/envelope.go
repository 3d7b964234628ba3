package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message kinds carried on every envelope. The numbers identify the
// blob-storage protocol version on the wire and never change within v1.
const (
	KindAnnouncement = 31999 // server capability descriptor
	KindRequest      = 24210 // client action request
	KindResponse     = 24211 // server reply, references the request id
	KindChunk        = 24212 // one chunk of file content
)

// ServiceAddress is the capability address servers announce under and
// clients target requests at.
const ServiceAddress = "blob-storage-v1"

// CapabilityAddress is the full target for one server's capability:
// announcement kind, server identity, and service address.
func CapabilityAddress(identity string) string {
	return fmt.Sprintf("%d:%s:%s", KindAnnouncement, identity, ServiceAddress)
}

// Tag names used across message kinds.
const (
	TagTarget     = "a"          // request → service address
	TagRequestRef = "e"          // response → request id
	TagPeer       = "p"          // response → requester identity
	TagAddress    = "d"          // announcement → service address
	TagFileHash   = "file_hash"  // chunk/response → content hash
	TagChunkIndex = "chunk_index"
	TagChunkTotal = "chunk_total"
	TagChunkHash  = "chunk_hash"
	TagExpiration = "expiration"
)

// Envelope is the transport-level message unit: an opaque content body
// plus categorical kind and key/value tags. It mirrors what the relay
// actually moves; typed schemas in this package parse in and out of it.
type Envelope struct {
	ID        string     `json:"id"`
	Kind      int        `json:"kind"`
	From      string     `json:"from"`
	CreatedAt int64      `json:"created_at"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
}

// NewEnvelope builds an envelope with a fresh unique id and the current
// timestamp. The id doubles as the correlation identity for requests.
func NewEnvelope(kind int, from, content string, tags [][]string) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		From:      from,
		CreatedAt: time.Now().Unix(),
		Tags:      tags,
		Content:   content,
	}
}

// Tag returns the first value of the named tag, or "" if absent.
func (e *Envelope) Tag(name string) string {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// HasTag reports whether the named tag is present with the given value.
func (e *Envelope) HasTag(name, value string) bool {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name && t[1] == value {
			return true
		}
	}
	return false
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a wire envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return &e, nil
}
