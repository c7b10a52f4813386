package extractor

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrInvalidTimestamp is returned for negative or non-finite timestamps.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Kind classifies extraction failures.
type Kind string

const (
	KindSourceUnreadable Kind = "source_unreadable"
	KindTimeout          Kind = "timeout"
	KindToolFailed       Kind = "tool_failed"
	KindDestination      Kind = "destination"
	KindInvalidInput     Kind = "invalid_input"
)

// ExtractionError describes a failed frame extraction.
type ExtractionError struct {
	Kind      Kind
	Video     string
	Timestamp float64
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s at %.3fs: %s: %v", e.Video, e.Timestamp, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// KindOf returns the Kind of an ExtractionError in err's chain, or "".
func KindOf(err error) Kind {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsTransient reports whether err is worth one more attempt: a subprocess
// timeout, or a destination that is full, busy or temporarily locked.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTimeout:
		return true
	case KindDestination:
		return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.EAGAIN)
	default:
		return false
	}
}
