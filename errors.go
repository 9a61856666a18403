package origami

import (
	"errors"
	"fmt"
)

// errors.go provides the sentinel errors for the origami package
//
// error type checking:
//   an error can be checked against any of these using errors.Is(err, ErrType)

// used by the envelope codec
var (
	ErrEnvelopeTooLarge    = errors.New("envelope exceeds the maximum byte count")
	ErrUnknownEnvelopeType = errors.New("unknown envelope type")
)

// used by the transport session
var (
	ErrNotConnected   = errors.New("transport not connected")
	ErrSendBufferFull = errors.New("send buffer full")
	ErrWriteTimeout   = errors.New("write timed out")
	ErrAuthRejected   = errors.New("auth rejected")
	ErrAuthExpired    = errors.New("auth expired")
	ErrClosed         = errors.New("closed")
)

// used by subscriptions
var (
	ErrAlreadySubscribed  = errors.New("document already subscribed")
	ErrNotSubscribed      = errors.New("document not subscribed")
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// used by local edits
var (
	ErrEmptyEdit    = errors.New("edit has no operations")
	ErrPendingLimit = errors.New("too many pending edits")
)

// error codes carried by the reject and error_reply envelopes
const (
	ErrorCodeAuthExpired = "auth_expired"
	ErrorCodeNotFound    = "not_found"
	ErrorCodeForbidden   = "forbidden"
	ErrorCodeConflict    = "conflict"
)

// RtuError is a coded error from the realtime backend,
// either a rejected edit or a failed request.
type RtuError struct {
	Code    string
	Message string
}

func NewRtuError(code string, message string) *RtuError {
	return &RtuError{
		Code:    code,
		Message: message,
	}
}

func (self *RtuError) Error() string {
	if self.Message == "" {
		return self.Code
	}
	return fmt.Sprintf("%s: %s", self.Code, self.Message)
}
