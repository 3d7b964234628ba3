package protocol

import "fmt"

// Error codes carried in error responses. Clients branch on the code,
// the message is human-readable detail.
const (
	CodeFileTooLarge  = "FILE_TOO_LARGE"
	CodeInvalidHash   = "INVALID_HASH"
	CodeFileNotFound  = "FILE_NOT_FOUND"
	CodeChunkMissing  = "CHUNK_MISSING"
	CodeIntegrity     = "INTEGRITY_FAILED"
	CodeStorageFull   = "STORAGE_FULL"
	CodeInvalidAction = "INVALID_ACTION"
	CodeInvalidFormat = "INVALID_REQUEST_FORMAT"
	CodeInternal      = "INTERNAL_ERROR"
)

// RequestError is a validation failure attributable to the request itself.
// The router converts it into a structured error response; it never crashes
// the processing loop.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrInvalidAction builds the rejection for an unknown action field.
func ErrInvalidAction(action string) *RequestError {
	return &RequestError{Code: CodeInvalidAction, Message: fmt.Sprintf("unknown action: %q", action)}
}

// ErrInvalidFormat builds the rejection for a structurally bad request.
func ErrInvalidFormat(detail string) *RequestError {
	return &RequestError{Code: CodeInvalidFormat, Message: detail}
}
