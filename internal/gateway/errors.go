package gateway

import (
	"errors"
	"fmt"

	"github.com/SymptomLabs/TriageFlow/internal/models"
)

// ErrMissingSessionID indicates a node call that requires an established
// session was attempted without one.
var ErrMissingSessionID = errors.New("session id is required for this endpoint")

// ErrMissingSnapshot indicates a node call that requires the previous
// snapshot was attempted without one.
var ErrMissingSnapshot = errors.New("previous snapshot is required for this endpoint")

// TransportError indicates no usable response was obtained: dial failure,
// timeout, or context cancellation. The same operation may be re-issued
// safely; node calls are idempotent per session and stage.
type TransportError struct {
	Endpoint models.Endpoint
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure calling %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendError indicates the backend answered with a non-2xx status and a
// structured error body. Message carries the backend's text verbatim.
type BackendError struct {
	Endpoint   models.Endpoint
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error from %s (HTTP %d): %s", e.Endpoint, e.StatusCode, e.Message)
}

// ProtocolError indicates a response was received but lacked required fields
// or could not be decoded. The response is never partially consumed.
type ProtocolError struct {
	Endpoint models.Endpoint
	Reason   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation from %s: %s", e.Endpoint, e.Reason)
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsBackendError reports whether err is (or wraps) a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
