package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrTransactionAborted is the abort sentinel: EXEC returned a null
	// array because a watched key changed. Commit reports it as false, nil.
	ErrTransactionAborted = errors.New("transaction aborted")

	// ErrPendingOperation is returned when a command is queued from inside
	// the send action of another command
	ErrPendingOperation = errors.New("another operation is still being queued")

	// ErrClosed is returned by operations on a closed pipeline or a finished
	// transaction
	ErrClosed = errors.New("pipeline is closed")

	// ErrNotCommitted is returned by Transaction.Replay before Commit ran
	ErrNotCommitted = errors.New("transaction was not committed")
)

// ProtocolError is returned when the replies of a transaction do not match
// what was sent. The connection state is unknown afterwards, so the client
// is marked faulty and the error is never retried.
type ProtocolError struct {
	Stage string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("transaction protocol error at %s: %v", e.Stage, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Retryable reports false, a desynchronized transaction must not be retried
func (e *ProtocolError) Retryable() bool {
	return false
}
