package client

import (
	"fmt"
	"time"
)

// TimeoutError reports an expired wait, with progress detail when the wait
// was for chunks (Got/Expected stay zero for plain response waits).
type TimeoutError struct {
	Op       string
	Elapsed  time.Duration
	Got      int
	Expected int
}

func (e *TimeoutError) Error() string {
	if e.Expected > 0 {
		return fmt.Sprintf("timeout waiting for %s after %s: got %d/%d chunks", e.Op, e.Elapsed, e.Got, e.Expected)
	}
	return fmt.Sprintf("timeout waiting for %s after %s", e.Op, e.Elapsed)
}

// CorruptionError reports two deliveries for the same chunk index carrying
// different bytes. That is never resolved silently.
type CorruptionError struct {
	FileHash string
	Index    int
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("conflicting deliveries for chunk %d of %s", e.Index, e.FileHash)
}

// IntegrityError reports a reassembled file whose digest does not match the
// requested content hash.
type IntegrityError struct {
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("file integrity check failed: expected %s, got %s", e.Expected, e.Actual)
}

// ServerError is a structured error response from the server, surfaced to
// the caller with its wire code intact.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}
