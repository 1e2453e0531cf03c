package capture

import (
	"errors"
	"fmt"
)

var (
	ErrNoCamera  = errors.New("camera did not answer at any baud rate")
	ErrFrameSize = errors.New("unexpected frame size")
)

// SourceError reports a bad file-based capture source.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("capture source %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
