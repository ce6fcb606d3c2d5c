package pointcloud

import (
	"github.com/pkg/errors"
)

// ErrInsufficientData is the root of every error reporting that a stage needs more points
// or neighbors than the input provides.
var ErrInsufficientData = errors.New("insufficient data")

// InsufficientDataError reports which stage ran out of points.
type InsufficientDataError struct {
	Stage string
	Have  int
	Want  int
}

// NewInsufficientDataError returns an error matching ErrInsufficientData with errors.Is.
func NewInsufficientDataError(stage string, have, want int) error {
	return &InsufficientDataError{Stage: stage, Have: have, Want: want}
}

func (e *InsufficientDataError) Error() string {
	return errors.Errorf("%s: %s, have %d points but need at least %d", e.Stage, ErrInsufficientData, e.Have, e.Want).Error()
}

// Is makes errors.Is(err, ErrInsufficientData) hold.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}
