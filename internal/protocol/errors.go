package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout        = errors.New("read timeout")
	ErrChecksum       = errors.New("checksum mismatch")
	ErrMalformed      = errors.New("malformed response")
	ErrUnacknowledged = errors.New("command not acknowledged")
	ErrUnsupported    = errors.New("unsupported parameter")
	ErrNotReady       = errors.New("driver not ready")
)

type Reason string

const (
	ReasonTimeout        Reason = "timeout"
	ReasonChecksum       Reason = "checksum"
	ReasonMalformed      Reason = "malformed"
	ReasonUnacknowledged Reason = "unacknowledged"
	ReasonUnsupported    Reason = "unsupported"
	ReasonIO             Reason = "io"
)

// ProtocolError is returned once an operation has exhausted its attempts or
// hit a condition that is not worth retrying.
type ProtocolError struct {
	Op       string
	Reason   Reason
	Attempts int
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) (%s): %v", e.Op, e.Attempts, e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func newProtocolError(op string, attempts int, err error) *ProtocolError {
	return &ProtocolError{
		Op:       op,
		Reason:   reasonOf(err),
		Attempts: attempts,
		Err:      err,
	}
}

func reasonOf(err error) Reason {
	switch {
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrChecksum):
		return ReasonChecksum
	case errors.Is(err, ErrMalformed):
		return ReasonMalformed
	case errors.Is(err, ErrUnacknowledged):
		return ReasonUnacknowledged
	case errors.Is(err, ErrUnsupported):
		return ReasonUnsupported
	default:
		return ReasonIO
	}
}

// retryable reports whether err is a transient line condition.
func retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrChecksum) || errors.Is(err, ErrMalformed)
}

// IsProtocolError reports whether err carries a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
