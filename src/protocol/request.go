package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Actions a request may carry.
const (
	ActionStore    = "store"
	ActionRetrieve = "retrieve"
	ActionDelete   = "delete"
)

// hash fields are lowercase hex sha-256
const hashHexLen = 64

// Request is the typed form of a kind-24210 envelope content.
// Data is the decoded file bytes for store; Hash addresses retrieve/delete.
type Request struct {
	Action   string
	Data     []byte
	Filename string
	Hash     string
}

// requestBody is the wire shape of the request content. Data is a pointer
// so an empty file (base64 of zero bytes is "") stays distinguishable from
// a store request that omitted the field entirely.
type requestBody struct {
	Action   string  `json:"action"`
	Data     *string `json:"data,omitempty"`
	Filename string  `json:"filename,omitempty"`
	Hash     string  `json:"hash,omitempty"`
}

// ValidHash reports whether s is a well-formed lowercase hex sha-256 digest.
func ValidHash(s string) bool {
	if len(s) != hashHexLen {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Envelope wraps the request into a wire envelope addressed at the given
// capability address. The envelope id is the correlation identity for the
// reply.
func (r *Request) Envelope(from, target string) (*Envelope, error) {
	body := requestBody{
		Action:   r.Action,
		Filename: r.Filename,
		Hash:     r.Hash,
	}
	if r.Data != nil {
		encoded := base64.StdEncoding.EncodeToString(r.Data)
		body.Data = &encoded
	}
	content, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	tags := [][]string{{TagTarget, target}}
	return NewEnvelope(KindRequest, from, string(content), tags), nil
}

// ParseRequest validates a request envelope into its typed form.
// Structural failures come back as *RequestError so the router can answer
// them instead of dropping the message.
func ParseRequest(env *Envelope) (*Request, error) {
	var body requestBody
	if err := json.Unmarshal([]byte(env.Content), &body); err != nil {
		return nil, ErrInvalidFormat("request content is not valid JSON")
	}

	req := &Request{
		Action:   body.Action,
		Filename: body.Filename,
		Hash:     body.Hash,
	}

	switch body.Action {
	case ActionStore:
		if body.Data == nil {
			return nil, ErrInvalidFormat("store request missing data field")
		}
		// "" decodes to zero bytes; storing an empty file is legal
		data, err := base64.StdEncoding.DecodeString(*body.Data)
		if err != nil {
			return nil, ErrInvalidFormat("store data is not valid base64")
		}
		req.Data = data

	case ActionRetrieve, ActionDelete:
		if body.Hash == "" {
			return nil, ErrInvalidFormat(body.Action + " request missing hash field")
		}
		if !ValidHash(body.Hash) {
			return nil, &RequestError{Code: CodeInvalidHash, Message: "hash must be 64 lowercase hex characters"}
		}

	default:
		return nil, ErrInvalidAction(body.Action)
	}

	return req, nil
}
