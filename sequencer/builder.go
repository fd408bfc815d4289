package sequencer

import "github.com/arloliu/go-dxl/dxl"

// PlanBuilder assembles the usual configuration steps in call order. Every step
// it adds is verified.
//
//	plan := sequencer.NewPlan(23).
//		ReturnDelay(0).
//		AngleLimits(-100, 100).
//		GoToZero().
//		Build()
type PlanBuilder struct {
	plan Plan
}

// NewPlan starts a plan for device id.
func NewPlan(id int) *PlanBuilder {
	return &PlanBuilder{plan: Plan{DeviceID: id}}
}

func (b *PlanBuilder) add(name string, reg dxl.Register, v float64) *PlanBuilder {
	b.plan.Steps = append(b.plan.Steps, Step{Name: name, Register: reg, Value: v, Verify: true})
	return b
}

// Step appends an arbitrary step.
func (b *PlanBuilder) Step(s Step) *PlanBuilder {
	b.plan.Steps = append(b.plan.Steps, s)
	return b
}

// ReturnDelay sets the return delay time, in 2µs units.
func (b *PlanBuilder) ReturnDelay(units int) *PlanBuilder {
	return b.add("return_delay", dxl.ReturnDelayTime, float64(units))
}

// MaxTorque sets the torque limit in percent.
func (b *PlanBuilder) MaxTorque(pct float64) *PlanBuilder {
	return b.add("max_torque", dxl.MaxTorque, pct)
}

// AngleLimits sets both angle limits in degrees.
func (b *PlanBuilder) AngleLimits(minDeg, maxDeg float64) *PlanBuilder {
	b.add("min_angle", dxl.MinAngleLimit, minDeg)
	return b.add("max_angle", dxl.MaxAngleLimit, maxDeg)
}

// WheelMode switches to continuous rotation.
func (b *PlanBuilder) WheelMode() *PlanBuilder {
	return b.add("wheel_mode", dxl.ControlMode, float64(dxl.ModeWheel))
}

// JointMode switches to position control.
func (b *PlanBuilder) JointMode() *PlanBuilder {
	return b.add("joint_mode", dxl.ControlMode, float64(dxl.ModeJoint))
}

// Speed sets the moving speed in degrees per second.
func (b *PlanBuilder) Speed(degPerSec float64) *PlanBuilder {
	return b.add("speed", dxl.MovingSpeed, degPerSec)
}

// Torque enables or disables the motor output.
func (b *PlanBuilder) Torque(enable bool) *PlanBuilder {
	v := 0.0
	if enable {
		v = 1
	}

	return b.add("torque_enable", dxl.TorqueEnable, v)
}

// GoalPosition moves to deg.
func (b *PlanBuilder) GoalPosition(deg float64) *PlanBuilder {
	return b.add("goal_position", dxl.GoalPosition, deg)
}

// GoToZero moves to the centre position.
func (b *PlanBuilder) GoToZero() *PlanBuilder {
	return b.add("zero_position", dxl.GoalPosition, 0)
}

// Build returns the plan. The builder may keep being used afterwards.
func (b *PlanBuilder) Build() Plan {
	p := b.plan
	p.Steps = append([]Step(nil), b.plan.Steps...)

	return p
}
