package generation

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrUnknownJobType = errors.New("unknown job type")
	ErrJobNotFound    = errors.New("job not found")
	ErrUnitNotFound   = errors.New("unit not found")
	ErrDecomposition  = errors.New("could not plan job units")
	ErrDispatch       = errors.New("could not dispatch job units")
)

// invalid builds a validation error that still matches ErrValidation.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
