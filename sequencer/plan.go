package sequencer

import (
	"fmt"
	"math"
	"time"

	"github.com/arloliu/go-dxl/dxl"
)

// Step is one register write, optionally verified by reading it back.
type Step struct {
	Name     string
	Register dxl.Register
	Value    float64
	Verify   bool
	// Tolerance bounds the read-back error of continuous registers.
	// Zero selects the sequencer default. Discrete registers always match exactly.
	Tolerance float64
	// Settle is the wait between write and read-back. Zero selects the
	// sequencer default for the register.
	Settle time.Duration
}

func (s Step) label() string {
	if s.Name != "" {
		return s.Name
	}

	return s.Register.String()
}

// Plan is an ordered list of steps for one device.
type Plan struct {
	DeviceID int
	Steps    []Step
}

// Validate checks the plan against the registers a bus supports.
func (p Plan) Validate(regs dxl.RegisterMap) error {
	if p.DeviceID < dxl.MinID || p.DeviceID > dxl.MaxID {
		return fmt.Errorf("%w: device id %d not in [%d, %d]", ErrInvalidPlan, p.DeviceID, dxl.MinID, dxl.MaxID)
	}

	for i, s := range p.Steps {
		if _, err := regs.Lookup(s.Register); err != nil {
			return fmt.Errorf("%w: step %d (%s): %w", ErrInvalidPlan, i+1, s.label(), err)
		}
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return fmt.Errorf("%w: step %d (%s): value %v", ErrInvalidPlan, i+1, s.label(), s.Value)
		}
		if s.Tolerance < 0 || s.Settle < 0 {
			return fmt.Errorf("%w: step %d (%s): negative tolerance or settle", ErrInvalidPlan, i+1, s.label())
		}
	}

	return nil
}
