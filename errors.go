package frameq

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrClosed is wrapped by the panic raised when a closed Context is
	// used.
	ErrClosed = errors.New("frameq: context closed")

	// ErrInvalidOption is returned by New when an option is out of range.
	ErrInvalidOption = errors.New("frameq: invalid option")
)

// fatal reports a backend failure. There is no recovery path for a device
// that stops accepting work, so the error is logged and raised as a panic.
func fatal(log logSource, err error, format string, args ...any) {
	wrapped := errors.Wrapf(err, format, args...)
	log.get().Error("frameq: backend failure", "err", wrapped)
	panic(wrapped)
}

func panicClosed(op string) {
	panic(errors.WithAssertionFailure(errors.Wrapf(ErrClosed, "frameq: %s after Close", op)))
}
