// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"unicode/utf8"
)

// HTTPStatusError is returned by external clients for non-2xx responses.
type HTTPStatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// NewHTTPStatusError builds an HTTPStatusError, keeping at most 256 bytes of
// body cut on a rune boundary.
func NewHTTPStatusError(op string, status int, body []byte) *HTTPStatusError {
	const maxBody = 256
	if len(body) > maxBody {
		n := maxBody
		for n > 0 && !utf8.RuneStart(body[n]) {
			n--
		}
		body = body[:n]
	}
	return &HTTPStatusError{Op: op, StatusCode: status, Body: string(body)}
}

// RetryableError marks a failure that is worth trying again even though it
// does not look like a network or HTTP failure.
type RetryableError struct {
	Message string
	Cause   error
}

func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error { return e.Cause }

// PermanentError marks a failure that must not be retried: a 4xx response,
// a malformed payload, a missing record or missing credentials.
type PermanentError struct {
	Message string
	Cause   error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// Permanent wraps err as a PermanentError. nil stays nil.
func Permanent(msg string, err error) error {
	if err == nil && msg == "" {
		return nil
	}
	return &PermanentError{Message: msg, Cause: err}
}

// IsPermanent reports whether err is a PermanentError or a 4xx response
// that is not on the transient list.
func IsPermanent(err error) bool {
	var p *PermanentError
	if errors.As(err, &p) {
		return true
	}
	var se *HTTPStatusError
	return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 && !IsTransientStatus(se.StatusCode)
}

func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

var transientStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var transientErrnos = []syscall.Errno{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.ETIMEDOUT,
	syscall.EPIPE,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
	syscall.ENETDOWN,
}

// IsTransientStatus reports whether an HTTP status is on the retry allow-list.
func IsTransientStatus(code int) bool {
	return transientStatus[code]
}

// IsTransient reports whether err is on the fixed retry allow-list: the
// network failures above, timeouts, and HTTP 408/429/500/502/503/504.
// Everything else, including caller cancellation, is not retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsRetryable(err) {
		return true
	}

	var se *HTTPStatusError
	if errors.As(err, &se) {
		return IsTransientStatus(se.StatusCode)
	}

	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	// A server closing the connection mid-request surfaces as url.Error{Err: io.EOF}.
	var urlErr *url.Error
	if errors.As(err, &urlErr) && errors.Is(urlErr.Err, io.EOF) {
		return true
	}
	return false
}
