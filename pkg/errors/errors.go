package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a client failure by its recovery path.
type Kind string

const (
	// KindConnection covers dial failures and handshake timeouts. Recovered
	// by falling back to the next candidate URL and then by backoff retry.
	KindConnection Kind = "connection"

	// KindSend covers transmit failures. Recovered by bounded re-enqueue.
	KindSend Kind = "send"

	// KindParse covers malformed inbound frames. The frame is discarded.
	KindParse Kind = "parse"

	// KindTerminal marks the end of the reconnect budget. Surfaced to
	// connection-state listeners, never returned from send paths.
	KindTerminal Kind = "terminal"
)

// ClientError is an error with a recovery classification.
type ClientError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// New creates a ClientError.
func New(kind Kind, message string) *ClientError {
	return &ClientError{Kind: kind, Message: message}
}

// Wrap creates a ClientError around a cause.
func Wrap(kind Kind, message string, cause error) *ClientError {
	return &ClientError{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the classification of err, unwrapping as needed, or an
// empty Kind for foreign errors.
func KindOf(err error) Kind {
	var ce *ClientError
	if stderrors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsConnection reports whether err is a connection-class failure.
func IsConnection(err error) bool {
	return KindOf(err) == KindConnection
}

// IsTerminal reports whether err marks an exhausted reconnect budget.
func IsTerminal(err error) bool {
	return KindOf(err) == KindTerminal
}
