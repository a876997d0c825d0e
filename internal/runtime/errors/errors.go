// Package errors holds the sentinel and typed errors shared by the viewbridge
// runtime packages.
package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired       = sterrors.New("viewbridge: configuration is required")
	ErrLoggerRequired       = sterrors.New("viewbridge: logger is required")
	ErrPublisherRequired    = sterrors.New("viewbridge: publisher is required")
	ErrSubscriberRequired   = sterrors.New("viewbridge: subscriber is required")
	ErrTopicRequired        = sterrors.New("viewbridge: topic is required")
	ErrAdapterRequired      = sterrors.New("viewbridge: channel adapter is required")
	ErrAdapterClosed        = sterrors.New("viewbridge: channel adapter is closed")
	ErrNodeIDRequired       = sterrors.New("viewbridge: node id is required")
	ErrNamespaceRequired    = sterrors.New("viewbridge: namespace is required")
	ErrMethodNameRequired   = sterrors.New("viewbridge: method name is required")
	ErrServiceRequired      = sterrors.New("viewbridge: service is required")
	ErrInteractivityID      = sterrors.New("viewbridge: interactivity id is required")
	ErrCallTimeout          = sterrors.New("viewbridge: call timed out")
	ErrCallCancelled        = sterrors.New("viewbridge: call cancelled")
	ErrInstanceDestroyed    = sterrors.New("viewbridge: service instance destroyed")
	ErrUnknownCodec         = sterrors.New("viewbridge: unknown wire codec")
	ErrMessagePayloadNeeded = sterrors.New("viewbridge: message payload is required")
)

// ConfigValidationError wraps the joined failures reported by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "viewbridge: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// RemoteError is an error reply produced by the view side of a channel.
type RemoteError struct {
	// Type is the protocol message type the error replied to.
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("viewbridge: %s failed in view: %s", e.Type, e.Message)
}

// CallError describes a failed host to view call. Err is one of ErrCallTimeout,
// ErrCallCancelled, ErrInstanceDestroyed, a *RemoteError or a transport error.
type CallError struct {
	Method    string
	RequestID string
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("viewbridge: call %s (%s): %v", e.Method, e.RequestID, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
