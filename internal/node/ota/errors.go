package ota

import "fmt"

// Reason classifies why an update did not complete.
type Reason string

const (
	ReasonValidation Reason = "validation"
	ReasonBusy       Reason = "busy"
	ReasonConnect    Reason = "connect"
	ReasonProtocol   Reason = "protocol"
	ReasonStream     Reason = "stream"
	ReasonStorage    Reason = "storage"
	ReasonIntegrity  Reason = "integrity"
)

// Result details reported to the server.
const (
	DetailBusy            = "update already running"
	DetailFailedToConnect = "Failed to connect"
	DetailConnectionLost  = "Connection lost"
)

// Error is resolved into exactly one fail result. Detail is the text the
// server sees; Err, if set, is only logged.
type Error struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(reason Reason, detail string, err error) *Error {
	return &Error{Reason: reason, Detail: detail, Err: err}
}
