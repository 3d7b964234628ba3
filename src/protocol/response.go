package protocol

import (
	"encoding/json"
	"fmt"
)

// Response statuses. Error responses always use StatusError; success
// statuses name the action outcome the way the server reports it.
const (
	StatusStored    = "stored"
	StatusAvailable = "available"
	StatusDeleted   = "deleted"
	StatusError     = "error"
)

// Response is the typed form of a kind-24211 envelope content.
type Response struct {
	Status     string `json:"status"`
	Hash       string `json:"hash,omitempty"`
	Size       uint64 `json:"size,omitempty"`
	ChunkCount int    `json:"chunks,omitempty"`
	ExpiresAt  int64  `json:"expires,omitempty"`
	ErrorCode  string `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
}

// IsError reports whether the response is a failure.
func (r *Response) IsError() bool {
	return r.Status == StatusError || r.ErrorCode != ""
}

// Envelope wraps the response into a wire envelope referencing the request
// it answers and the peer that issued it.
func (r *Response) Envelope(from, requestID, peer string) (*Envelope, error) {
	content, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	tags := [][]string{
		{TagRequestRef, requestID},
		{TagPeer, peer},
	}
	if r.Hash != "" {
		tags = append(tags, []string{TagFileHash, r.Hash})
	}
	return NewEnvelope(KindResponse, from, string(content), tags), nil
}

// ErrorResponse builds a failure response for the given code.
func ErrorResponse(code, message string) *Response {
	return &Response{
		Status:    StatusError,
		ErrorCode: code,
		Message:   message,
	}
}

// ParseResponse decodes a response envelope's content.
func ParseResponse(env *Envelope) (*Response, error) {
	var r Response
	if err := json.Unmarshal([]byte(env.Content), &r); err != nil {
		return nil, fmt.Errorf("failed to decode response content: %w", err)
	}
	return &r, nil
}
