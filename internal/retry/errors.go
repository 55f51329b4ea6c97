package retry

import (
	"errors"
	"fmt"
)

// ErrRateLimitExhausted is returned once a call has been rate limited more
// times, or for longer, than the executor's budget allows.
var ErrRateLimitExhausted = errors.New("rate limit retry budget exhausted")

// RemoteCallError is a response Slack delivered with ok=false.
type RemoteCallError struct {
	Method string
	Code   string
	Err    error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%s: slack returned error %q", e.Method, e.Code)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// TransportError is any failure that did not produce a Slack response body,
// such as a network error or an unexpected HTTP status.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a Slack "not found" style logical error.
func IsNotFound(err error) bool {
	var rce *RemoteCallError
	if !errors.As(err, &rce) {
		return false
	}
	switch rce.Code {
	case "user_not_found", "users_not_found", "channel_not_found", "thread_not_found", "message_not_found":
		return true
	}
	return false
}
