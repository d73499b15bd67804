package crawl

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
)

// ErrorKind classifies fetch and proxy failures so callers can decide
// between retrying, blacklisting, or recording a permanent failure.
type ErrorKind string

// Failure classifications.
const (
	ErrorKindNone          ErrorKind = ""
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindConnRefused   ErrorKind = "connection_refused"
	ErrorKindTargetBlocked ErrorKind = "target_blocked"
	ErrorKindAuth          ErrorKind = "authentication"
	ErrorKindServer        ErrorKind = "server_error"
	ErrorKindClient        ErrorKind = "client_error"
	ErrorKindPolicy        ErrorKind = "policy_disallow"
	ErrorKindCanceled      ErrorKind = "canceled"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// Transient reports whether a failure of this kind should be retried.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrorKindTimeout, ErrorKindConnRefused, ErrorKindServer:
		return true
	default:
		return false
	}
}

// ClassifyStatus maps an HTTP status code to an ErrorKind. 2xx and 3xx
// map to ErrorKindNone. 429 is treated as transient server pressure.
func ClassifyStatus(code int) ErrorKind {
	switch {
	case code == 0:
		return ErrorKindUnknown
	case code < 400:
		return ErrorKindNone
	case code == http.StatusTooManyRequests:
		return ErrorKindServer
	case code == http.StatusUnauthorized || code == http.StatusProxyAuthRequired:
		return ErrorKindAuth
	case code == http.StatusForbidden:
		return ErrorKindTargetBlocked
	case code < 500:
		return ErrorKindClient
	default:
		return ErrorKindServer
	}
}

// ClassifyError maps a transport-level error to an ErrorKind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	if errors.Is(err, context.Canceled) {
		return ErrorKindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ErrorKindConnRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}
	return ErrorKindUnknown
}
