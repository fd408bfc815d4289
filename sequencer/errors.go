package sequencer

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-dxl/dxl"
)

var (
	// ErrDeviceNotFound is the cause of a run whose discovery budget ran out.
	ErrDeviceNotFound = errors.New("sequencer: device not found")
	// ErrVerificationMismatch is wrapped by every *MismatchError.
	ErrVerificationMismatch = errors.New("sequencer: verification mismatch")
	// ErrInvalidPlan reports a plan the sequencer refuses to start.
	ErrInvalidPlan = errors.New("sequencer: invalid plan")
)

// MismatchError reports a read-back value outside the step's tolerance.
type MismatchError struct {
	Register  dxl.Register
	Expected  float64
	Observed  float64
	Tolerance float64
}

func (e *MismatchError) Error() string {
	if e.Tolerance == 0 {
		return fmt.Sprintf("%s: expected %v, observed %v", e.Register, e.Expected, e.Observed)
	}

	return fmt.Sprintf("%s: expected %v ±%v, observed %v", e.Register, e.Expected, e.Tolerance, e.Observed)
}

func (e *MismatchError) Unwrap() error { return ErrVerificationMismatch }

// StepError is the cause of a run that failed while applying or verifying a step.
type StepError struct {
	Index int
	Step  string
	State State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("sequencer: step %d (%s) failed while %s: %v", e.Index+1, e.Step, e.State, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
