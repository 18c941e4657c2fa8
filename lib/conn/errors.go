package conn

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed connection
	ErrClosed = errors.New("connection is closed")

	// ErrNoReply is returned when a reply is read that was never produced,
	// which means the caller's reads are out of step with its sends
	ErrNoReply = errors.New("no pending reply to read")
)

// ReplyError is an error reply sent by the host (e.g. "-ERR unknown command").
// The reply stream stays in sync after a ReplyError, unlike after I/O errors.
type ReplyError struct {
	Msg string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("reply error: %s", e.Msg)
}

// IsReplyError reports whether err is (or wraps) a ReplyError
func IsReplyError(err error) bool {
	var re *ReplyError
	return errors.As(err, &re)
}

// UnexpectedReplyError is returned when a reply has a different type than
// the read method expects
type UnexpectedReplyError struct {
	Want string
	Got  string
}

func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("unexpected reply: want %s, got %s", e.Want, e.Got)
}

// IsConnectionFault reports whether err leaves the connection unusable.
// Reply errors and type mismatches are protocol level and keep the stream
// in sync, everything else is treated as a broken connection.
func IsConnectionFault(err error) bool {
	if err == nil {
		return false
	}
	var ue *UnexpectedReplyError
	return !IsReplyError(err) && !errors.As(err, &ue)
}
