package tasks

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrStreamEnded  = errors.New("task stream ended before a terminal status")
	ErrServerAbort  = errors.New("task stream aborted by server")
	ErrEmptyPayload = errors.New("empty event payload")
)

// StreamProtocolError reports a stream event whose payload failed validation or
// carried an unknown status.
type StreamProtocolError struct {
	JobID   string
	Payload string
	Err     error
}

func (e *StreamProtocolError) Error() string {
	return fmt.Sprintf("task %s: protocol error: %v", e.JobID, e.Err)
}

func (e *StreamProtocolError) Unwrap() error { return e.Err }

// StreamTransportError reports a subscription that could not be opened or broke
// before a terminal status arrived.
type StreamTransportError struct {
	JobID string
	Err   error
}

func (e *StreamTransportError) Error() string {
	return fmt.Sprintf("task %s: stream transport error: %v", e.JobID, e.Err)
}

func (e *StreamTransportError) Unwrap() error { return e.Err }

// ExhaustedRetriesError is returned once every attempt to reconcile a task failed.
// Errors holds one entry per attempt, in attempt order.
type ExhaustedRetriesError struct {
	JobID  string
	Errors []error
}

func (e *ExhaustedRetriesError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = fmt.Sprintf("attempt %d: %v", i+1, err)
	}
	return fmt.Sprintf("task %s: giving up after %d attempts (%s)", e.JobID, len(e.Errors), strings.Join(msgs, "; "))
}

func (e *ExhaustedRetriesError) Unwrap() []error { return e.Errors }

// IsRetryable reports whether err is a stream failure worth another subscription attempt.
func IsRetryable(err error) bool {
	var protoErr *StreamProtocolError
	var transportErr *StreamTransportError
	return errors.As(err, &protoErr) || errors.As(err, &transportErr)
}
