package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-dxl/frame"
	"github.com/arloliu/go-dxl/sequencer"
)

var (
	errNothingToWrite  = errors.New("nothing to write: give at least one register flag")
	errWheelAngleLimit = errors.New("--wheel-mode and --angle-limit conflict on protocol 1: wheel mode is both angle limits at zero")
)

type writeFlags struct {
	id           int
	returnDelay  int
	maxTorque    float64
	angleLimit   string
	wheelMode    bool
	jointMode    bool
	speed        float64
	goal         float64
	zeroPosition bool
	torqueEnable bool
	printPlan    bool
}

func (a *app) writeCmd() *cobra.Command {
	var wf writeFlags

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Apply and verify register values on one device",
		Long: `Builds a configuration plan from the flags, waits for the device to
answer, then writes and reads back every value in flag order. Use
--print-plan to emit the plan as an HCL file for the configure command.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			family, err := a.cfg.Family(a.cfg.Bus.Family)
			if err != nil {
				return err
			}

			plan, err := buildWritePlan(cmd, wf, family.Protocol)
			if err != nil {
				return err
			}

			if wf.printPlan {
				_, err := a.out.Write(sequencer.EncodePlan(plan, a.cfg.Bus.Family))
				return err
			}

			return a.runPlan(cmd, plan)
		},
	}

	fs := cmd.Flags()
	fs.IntVarP(&wf.id, "id", "i", 0, "Device id")
	fs.IntVar(&wf.returnDelay, "return-delay", 0, "Return delay time, in 2us units")
	fs.Float64Var(&wf.maxTorque, "max-torque", 0, "Torque limit in percent")
	fs.StringVar(&wf.angleLimit, "angle-limit", "", "Angle limits in degrees as min,max")
	fs.BoolVar(&wf.wheelMode, "wheel-mode", false, "Switch to continuous rotation")
	fs.BoolVar(&wf.jointMode, "joint-mode", false, "Switch to position control")
	fs.Float64Var(&wf.speed, "speed", 0, "Moving speed in degrees per second")
	fs.Float64Var(&wf.goal, "goal", 0, "Goal position in degrees")
	fs.BoolVar(&wf.zeroPosition, "zero-position", false, "Move to the centre position")
	fs.BoolVar(&wf.torqueEnable, "torque-enable", false, "Enable (true) or disable (false) the motor output")
	fs.BoolVar(&wf.printPlan, "print-plan", false, "Print the plan as HCL instead of running it")
	_ = cmd.MarkFlagRequired("id")
	cmd.MarkFlagsMutuallyExclusive("wheel-mode", "joint-mode")
	cmd.MarkFlagsMutuallyExclusive("goal", "zero-position")

	return cmd
}

// buildWritePlan turns the changed flags into plan steps. On protocol 1 the
// mode lives in the angle limits, so limits follow the mode and both precede
// motion.
func buildWritePlan(cmd *cobra.Command, wf writeFlags, proto frame.Version) (sequencer.Plan, error) {
	changed := cmd.Flags().Changed
	if proto == frame.Protocol1 && wf.wheelMode && changed("angle-limit") {
		return sequencer.Plan{}, errWheelAngleLimit
	}
	b := sequencer.NewPlan(wf.id)
	n := 0

	if changed("return-delay") {
		b.ReturnDelay(wf.returnDelay)
		n++
	}
	if changed("max-torque") {
		b.MaxTorque(wf.maxTorque)
		n++
	}
	if wf.wheelMode {
		b.WheelMode()
		n++
	}
	if wf.jointMode {
		b.JointMode()
		n++
	}
	if changed("angle-limit") {
		minDeg, maxDeg, err := parseAngleLimit(wf.angleLimit)
		if err != nil {
			return sequencer.Plan{}, err
		}
		b.AngleLimits(minDeg, maxDeg)
		n++
	}
	if changed("torque-enable") {
		b.Torque(wf.torqueEnable)
		n++
	}
	if changed("speed") {
		b.Speed(wf.speed)
		n++
	}
	if wf.zeroPosition {
		b.GoToZero()
		n++
	}
	if changed("goal") {
		b.GoalPosition(wf.goal)
		n++
	}

	if n == 0 {
		return sequencer.Plan{}, errNothingToWrite
	}

	return b.Build(), nil
}

func parseAngleLimit(s string) (float64, float64, error) {
	lo, hi, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("angle limit %q: want min,max", s)
	}

	minDeg, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("angle limit %q: %w", s, err)
	}
	maxDeg, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("angle limit %q: %w", s, err)
	}
	if minDeg > maxDeg {
		return 0, 0, fmt.Errorf("angle limit %q: min is above max", s)
	}

	return minDeg, maxDeg, nil
}

func (a *app) configureCmd() *cobra.Command {
	var planPath string

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Run a configuration plan file",
		Long: `Runs the steps of an HCL plan file against its device. A family
attribute in the file selects the device family unless --family is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, schema, err := sequencer.LoadPlanFile(planPath)
			if err != nil {
				return err
			}

			if schema.Family != "" && !cmd.Flags().Changed("family") {
				if _, err := a.cfg.Family(schema.Family); err != nil {
					return fmt.Errorf("plan %s: %w", planPath, err)
				}
				a.cfg.Bus.Family = schema.Family
			}

			return a.runPlan(cmd, plan)
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "HCL plan file")
	_ = cmd.MarkFlagRequired("plan")

	return cmd
}

// runPlan executes plan on the configured port and reports the outcome.
// A failed run is returned as an error so the process exits non-zero.
func (a *app) runPlan(cmd *cobra.Command, plan sequencer.Plan) error {
	bus, closer, err := a.openBus(a.cfg.Bus.Port)
	if err != nil {
		return err
	}
	defer closer.Close()

	seq, err := sequencer.New(bus, a.cfg.SequencerOptions(a.log)...)
	if err != nil {
		return err
	}

	res, err := seq.Execute(cmd.Context(), plan)
	if err != nil {
		return err
	}
	a.collector.ObserveRun(res)
	printRun(a.out, res)

	if res.State == sequencer.StateFailed {
		return fmt.Errorf("configuration of device %d failed: %w", res.DeviceID, res.Err)
	}

	return nil
}
