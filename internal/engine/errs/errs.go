// Package errs implements the typed error taxonomy of the download engine:
// Network, Http, Disk, Unsupported, ValidationFailed, Canceled, SourceError
// and Unknown, each carrying whether it is retryable.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies one of the taxonomy's error categories.
type Kind int

const (
	KindNetwork Kind = iota
	KindHTTP
	KindDisk
	KindUnsupported
	KindValidationFailed
	KindCanceled
	KindSourceError
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "Network"
	case KindHTTP:
		return "Http"
	case KindDisk:
		return "Disk"
	case KindUnsupported:
		return "Unsupported"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindCanceled:
		return "Canceled"
	case KindSourceError:
		return "SourceError"
	default:
		return "Unknown"
	}
}

// Error is the engine's single wrapped-error type. The persisted record
// keeps this same typed value so a restarted process can still classify it.
type Error struct {
	Kind        Kind
	Code        int           // HTTP status, when Kind == KindHTTP
	RetryAfter  time.Duration // from Retry-After, when present
	SourceType  string        // set when Kind == KindSourceError
	Reason      string        // human text, e.g. "etag mismatch"
	Cause       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		if e.Reason != "" {
			return fmt.Sprintf("http %d: %s", e.Code, e.Reason)
		}
		return fmt.Sprintf("http %d", e.Code)
	case KindValidationFailed:
		return fmt.Sprintf("validation failed: %s", e.Reason)
	case KindSourceError:
		return fmt.Sprintf("source %s: %v", e.SourceType, e.Cause)
	case KindUnsupported:
		if e.Reason != "" {
			return fmt.Sprintf("unsupported: %s", e.Reason)
		}
		return "unsupported"
	default:
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the retry loop in Execution (C8) should retry
// this error: Network always, Http only for 408/429/5xx.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindHTTP:
		return e.Code == 408 || e.Code == 429 || e.Code >= 500
	default:
		return false
	}
}

func Network(cause error) *Error {
	return &Error{Kind: KindNetwork, Cause: cause}
}

func HTTP(code int, retryAfter time.Duration) *Error {
	return &Error{Kind: KindHTTP, Code: code, RetryAfter: retryAfter}
}

func Disk(cause error) *Error {
	return &Error{Kind: KindDisk, Cause: cause}
}

func Unsupported(reason string) *Error {
	return &Error{Kind: KindUnsupported, Reason: reason}
}

func ValidationFailed(reason string) *Error {
	return &Error{Kind: KindValidationFailed, Reason: reason}
}

func Canceled() *Error {
	return &Error{Kind: KindCanceled, Cause: errCanceled}
}

func Source(sourceType string, cause error) *Error {
	return &Error{Kind: KindSourceError, SourceType: sourceType, Cause: cause}
}

func Unknown(cause error) *Error {
	return &Error{Kind: KindUnknown, Cause: cause}
}

// errCanceled avoids importing "context" just for its sentinel value.
var errCanceled = errors.New("canceled")

// Retryable is a convenience for classifying an arbitrary error: non-*Error
// values (bugs, unexpected panics-turned-errors) are treated as Unknown and
// not retried.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// As extracts the typed *Error, if any, following the chain with errors.As.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsCanceled reports whether err is (or wraps) a Canceled classification.
func IsCanceled(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == KindCanceled
}
