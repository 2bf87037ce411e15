package extraction

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Error kinds. Compare with errors.Is.
var (
	// ErrServiceUnavailable means the service could not be reached or said so
	// (connection refused, DNS, 502/503/504). Retrying immediately is pointless.
	ErrServiceUnavailable = errors.New("extraction service unavailable")
	// ErrBadInput means the service rejected the file. Permanent.
	ErrBadInput = errors.New("extraction rejected input")
	// ErrServiceError covers other server failures, timeouts and malformed
	// responses. Transient.
	ErrServiceError = errors.New("extraction service error")
	// ErrEmptyResult means the call succeeded but nothing usable was extracted.
	ErrEmptyResult = errors.New("extraction returned no data")
)

// Error is returned by every Client call that fails.
type Error struct {
	Kind   error
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether err is worth retrying later. Unavailable and
// transient service errors are; bad input and empty results are not.
func Retryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrServiceError)
}

func classifyStatus(status int, detail string) *Error {
	kind := ErrServiceError
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		kind = ErrServiceUnavailable
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		kind = ErrBadInput
	}
	return &Error{Kind: kind, Status: status, Detail: detail}
}

func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrServiceError, Detail: "timeout", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: ErrServiceError, Detail: "timeout", Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return &Error{Kind: ErrServiceUnavailable, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &Error{Kind: ErrServiceUnavailable, Err: err}
	}
	return &Error{Kind: ErrServiceError, Err: err}
}
