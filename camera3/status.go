package camera3

import (
	stderrors "errors"

	"github.com/camstack/camhal/errors"
)

// Status is the integer code surfaced across the host ABI. The translation
// from classified internal errors to Status happens here, exactly once.
type Status int

const (
	// StatusOK indicates success.
	StatusOK Status = 0
	// StatusInvalidArgument maps host-visible validation failures.
	StatusInvalidArgument Status = -22
	// StatusNoInit indicates the session is unusable (flush timeout, init failure).
	StatusNoInit Status = -19
	// StatusInternal covers everything else.
	StatusInternal Status = -1
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusNoInit:
		return "NO_INIT"
	case StatusInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// StatusFromError translates an internal error into the host status code.
func StatusFromError(err error) Status {
	if err == nil {
		return StatusOK
	}
	if stderrors.Is(err, errors.ErrFlushTimeout) ||
		stderrors.Is(err, errors.ErrNotInitialized) {
		return StatusNoInit
	}
	if errors.IsInvalid(err) {
		return StatusInvalidArgument
	}
	return StatusInternal
}
