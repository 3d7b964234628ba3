// Package relay provides a minimal websocket message relay: a Server that
// fans published envelopes out to filtered subscriptions, and a Client that
// implements the transport.Bus contract over a relay connection.
package relay

import (
	"encoding/json"
	"fmt"
)

// Frame verbs. Frames are JSON arrays, verb first:
//
//	client → relay: ["EVENT", envelope] | ["REQ", subID, filter] | ["CLOSE", subID]
//	relay → client: ["EVENT", subID, envelope] | ["EOSE", subID]
//
// EOSE acknowledges a REQ: the filter is registered and every event
// published after it will be matched.
const (
	verbEvent = "EVENT"
	verbReq   = "REQ"
	verbClose = "CLOSE"
	verbEose  = "EOSE"
)

// encodeFrame marshals verb plus parts into a JSON array frame.
func encodeFrame(verb string, parts ...any) ([]byte, error) {
	frame := append([]any{verb}, parts...)
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", verb, err)
	}
	return data, nil
}

// decodeFrame splits a JSON array frame into its verb and raw parts.
func decodeFrame(data []byte) (string, []json.RawMessage, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", nil, fmt.Errorf("frame is not a JSON array: %w", err)
	}
	if len(raw) < 1 {
		return "", nil, fmt.Errorf("empty frame")
	}
	var verb string
	if err := json.Unmarshal(raw[0], &verb); err != nil {
		return "", nil, fmt.Errorf("frame verb is not a string: %w", err)
	}
	return verb, raw[1:], nil
}
