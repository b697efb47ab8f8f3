package imageprocessor

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNetworkTimeout marks a DecodeError caused by a URL fetch running past
// its deadline
var ErrNetworkTimeout = errors.New("network timeout")

// ErrImageTooSmall is returned by ComputeSSIM when an image has fewer than
// three pixels along one side
var ErrImageTooSmall = errors.New("image too small for structural similarity")

// DecodeError means a source could not be read, fetched or decoded into the
// channel format an operation needs. It is recoverable: callers skip the item.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func newDecodeError(source string, err error) error {
	return &DecodeError{Source: source, Err: err}
}

// IsDecodeError reports whether err is, or wraps, a DecodeError
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
