package domain

import "fmt"

// EncodingError is returned when a request cannot be canonically serialized.
type EncodingError struct {
	Field string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Field, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// TransportError is returned when a signed request could not be delivered.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectCode classifies why the receiver refused a request.
type RejectCode string

const (
	RejectBadRequest       RejectCode = "bad_request"
	RejectInvalidAuth      RejectCode = "invalid_auth"
	RejectReplay           RejectCode = "replay"
	RejectUnknownCommand   RejectCode = "unknown_command"
	RejectActionNotAllowed RejectCode = "action_not_allowed"
	RejectAutoNotAllowed   RejectCode = "auto_not_allowed"
	RejectAutoUnauthorized RejectCode = "auto_unauthorized"
	RejectCircuitOpen      RejectCode = "circuit_open"
)

// RejectError is returned by the receiver when a request is refused before execution.
type RejectError struct {
	Code    RejectCode
	Message string
}

func (e *RejectError) Error() string { return e.Message }

// NewReject creates a RejectError.
func NewReject(code RejectCode, message string) *RejectError {
	return &RejectError{Code: code, Message: message}
}

// ExecutionError is returned when an accepted action failed while running.
type ExecutionError struct {
	Err    error
	Output *ScriptOutput
}

func (e *ExecutionError) Error() string { return e.Err.Error() }

func (e *ExecutionError) Unwrap() error { return e.Err }
