package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrUnreachable indicates the server could not be reached at all.
var ErrUnreachable = errors.New("server unreachable")

// ErrNotFound indicates the server definitively does not know the
// record (404/410). Operations failing this way are never retried.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("server returned %d", e.Code)
}

// DecodeError is a payload whose shape the client could not parse.
// Never retryable; resending won't change the server's answer.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode server response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsOffline reports whether err means the network is unavailable, as
// opposed to the server answering with a failure.
func IsOffline(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnreachable) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Retryable reports whether the operation may succeed on a later drain:
// unreachable, timeout, or a 5xx-class response.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsOffline(err) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= http.StatusInternalServerError
	}
	return false
}

// Definitive reports whether the server has conclusively rejected the
// target as gone, so the queued operation should be dropped.
func Definitive(err error) bool {
	return errors.Is(err, ErrNotFound)
}
