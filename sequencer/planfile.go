package sequencer

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"

	"github.com/arloliu/go-dxl/dxl"
)

// PlanSchema is the HCL form of a plan:
//
//	device = 23
//	family = "MX"
//
//	step "wheel" {
//	  register = "control_mode"
//	  mode     = "wheel"
//	}
//
//	step "zero" {
//	  register  = "goal_position"
//	  value     = 0
//	  tolerance = 1.5
//	  settle    = "3s"
//	}
//
// Steps are verified unless they set verify = false.
type PlanSchema struct {
	Device int           `hcl:"device,attr"`
	Family string        `hcl:"family,optional"`
	Steps  []*StepSchema `hcl:"step,block"`
}

// StepSchema is one step block.
type StepSchema struct {
	Name      string   `hcl:"name,label"`
	Register  string   `hcl:"register,attr"`
	Value     *float64 `hcl:"value,optional"`
	Mode      string   `hcl:"mode,optional"`
	Verify    *bool    `hcl:"verify,optional"`
	Tolerance *float64 `hcl:"tolerance,optional"`
	Settle    string   `hcl:"settle,optional"`
}

// LoadPlanFile reads and decodes an HCL plan file.
func LoadPlanFile(path string) (Plan, *PlanSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, nil, fmt.Errorf("sequencer: read plan: %w", err)
	}

	return parsePlan(data, path)
}

// ParsePlan decodes an HCL plan document. The family attribute, if any, is left
// for the caller to resolve.
func ParsePlan(data []byte) (Plan, *PlanSchema, error) {
	return parsePlan(data, "plan.hcl")
}

func parsePlan(data []byte, filename string) (Plan, *PlanSchema, error) {
	file, diag := hclsyntax.ParseConfig(data, filename, hcl.Pos{Line: 1, Column: 1})
	if diag.HasErrors() {
		return Plan{}, nil, fmt.Errorf("sequencer: parse plan: %w", diag)
	}

	schema := &PlanSchema{}
	if diag := gohcl.DecodeBody(file.Body, nil, schema); diag.HasErrors() {
		return Plan{}, nil, fmt.Errorf("sequencer: decode plan: %w", diag)
	}

	plan, err := schema.Plan()
	if err != nil {
		return Plan{}, nil, err
	}

	return plan, schema, nil
}

// Plan converts the schema into a Plan.
func (s *PlanSchema) Plan() (Plan, error) {
	plan := Plan{DeviceID: s.Device, Steps: make([]Step, 0, len(s.Steps))}

	for i, b := range s.Steps {
		step, err := b.step()
		if err != nil {
			return Plan{}, fmt.Errorf("%w: step %d (%s): %w", ErrInvalidPlan, i+1, b.Name, err)
		}
		plan.Steps = append(plan.Steps, step)
	}

	return plan, nil
}

func (b *StepSchema) step() (Step, error) {
	reg, err := dxl.ParseRegister(b.Register)
	if err != nil {
		return Step{}, err
	}

	step := Step{Name: b.Name, Register: reg, Verify: true}
	switch {
	case b.Mode != "" && b.Value != nil:
		return Step{}, fmt.Errorf("set either value or mode")
	case b.Mode != "":
		if reg != dxl.ControlMode {
			return Step{}, fmt.Errorf("mode only applies to %s", dxl.ControlMode)
		}
		m, err := dxl.ParseMode(b.Mode)
		if err != nil {
			return Step{}, err
		}
		step.Value = float64(m)
	case b.Value != nil:
		step.Value = *b.Value
	default:
		return Step{}, fmt.Errorf("missing value")
	}

	if b.Verify != nil {
		step.Verify = *b.Verify
	}
	if b.Tolerance != nil {
		step.Tolerance = *b.Tolerance
	}
	if b.Settle != "" {
		d, err := time.ParseDuration(b.Settle)
		if err != nil {
			return Step{}, fmt.Errorf("settle: %w", err)
		}
		step.Settle = d
	}

	return step, nil
}

// EncodePlan renders plan as an HCL document that ParsePlan accepts.
func EncodePlan(plan Plan, family string) []byte {
	schema := &PlanSchema{Device: plan.DeviceID, Family: family}
	for _, s := range plan.Steps {
		b := &StepSchema{Name: s.label(), Register: s.Register.String()}
		if s.Register == dxl.ControlMode {
			b.Mode = dxl.Mode(s.Value).String()
		} else {
			v := s.Value
			b.Value = &v
		}
		if !s.Verify {
			verify := false
			b.Verify = &verify
		}
		if s.Tolerance != 0 {
			tol := s.Tolerance
			b.Tolerance = &tol
		}
		if s.Settle != 0 {
			b.Settle = s.Settle.String()
		}
		schema.Steps = append(schema.Steps, b)
	}

	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(schema, f.Body())

	return f.Bytes()
}
