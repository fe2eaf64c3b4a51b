package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class says how a failed step should be handled.
type Class int

const (
	// ClassUnknown failures are retried per the scheduler's policy.
	ClassUnknown Class = iota
	// ClassTransient failures are worth retrying in process.
	ClassTransient
	// ClassPermanent failures recur on every attempt.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// TransientError marks a failure of the upstream source that is safe to
// retry. Code is the HTTP status or FTP reply code, 0 when there is none.
type TransientError struct {
	Err  error
	Code int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient with an optional reply code.
func NewTransientError(err error, code int) *TransientError {
	return &TransientError{Err: err, Code: code}
}

// PermanentError marks a failure that will recur on every attempt, such as a
// malformed archive or misaligned extract files. Schedulers must not retry it.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Classify inspects the chain of err. A PermanentError anywhere in the chain
// wins over transient markers.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return ClassPermanent
	}

	var te *TransientError
	if errors.As(err, &te) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return ClassTransient
		}
	}

	// Wrapped client errors often lose their type; fall back to the message.
	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return ClassTransient
		}
	}
	return ClassUnknown
}

var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsPermanent reports whether err (or any error in its chain) is a PermanentError.
func IsPermanent(err error) bool { return Classify(err) == ClassPermanent }

// IsTransient reports whether err is worth retrying in process.
func IsTransient(err error) bool { return Classify(err) == ClassTransient }

// IsTransientHTTPStatus reports whether an HTTP status is a passing
// server-side condition.
func IsTransientHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTransientFTPCode reports whether an FTP reply code is a transient
// negative completion (4yz). 5yz replies are permanent.
func IsTransientFTPCode(code int) bool {
	return code >= 400 && code < 500
}
