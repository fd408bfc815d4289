package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-dxl/dxl"
	"github.com/arloliu/go-dxl/internal/pool"
	"github.com/arloliu/go-dxl/logger"
)

// Bus is the subset of *dxl.Bus the sequencer drives.
type Bus interface {
	Ping(ctx context.Context, id int) (bool, error)
	Read(ctx context.Context, id int, reg dxl.Register) (float64, error)
	Write(ctx context.Context, id int, reg dxl.Register, value float64) error
	Registers() dxl.RegisterMap
}

var _ Bus = (*dxl.Bus)(nil)

// State is a run state.
type State int

const (
	StateDiscovering State = iota
	StateApplying
	StateVerifying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateApplying:
		return "applying"
	case StateVerifying:
		return "verifying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// StepOutcome records what happened to one applied step.
type StepOutcome struct {
	Name     string
	Register dxl.Register
	Value    float64
	Applied  bool
	Verified bool
	// Observed is the read-back value; meaningful only when the step was verified.
	Observed float64
}

// Result summarises a run.
type Result struct {
	RunID    uuid.UUID
	DeviceID int
	State    State
	// Attempts is the number of discovery pings sent.
	Attempts int
	Steps    []StepOutcome
	// Err is the failure cause: ErrDeviceNotFound, a *StepError or a context error.
	Err      error
	Started  time.Time
	Finished time.Time
}

// Sequencer runs configuration plans over a bus.
type Sequencer struct {
	bus Bus
	cfg *seqConfig
}

// New creates a Sequencer driving bus.
func New(bus Bus, opts ...Option) (*Sequencer, error) {
	if bus == nil {
		return nil, errors.New("sequencer: nil bus")
	}

	cfg := defaultSeqConfig()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return &Sequencer{bus: bus, cfg: cfg}, nil
}

// Start validates plan and returns a run in the Discovering state.
// The plan is copied; later changes to it do not affect the run.
func (s *Sequencer) Start(plan Plan) (*Run, error) {
	if err := plan.Validate(s.bus.Registers()); err != nil {
		return nil, err
	}

	id := uuid.New()
	plan.Steps = append([]Step(nil), plan.Steps...)

	return &Run{
		seq:     s,
		plan:    plan,
		runID:   id,
		state:   StateDiscovering,
		started: time.Now(),
		logger:  s.cfg.logger.With("run", id.String(), "id", plan.DeviceID),
	}, nil
}

// Execute starts plan and drives it to a terminal state.
func (s *Sequencer) Execute(ctx context.Context, plan Plan) (Result, error) {
	run, err := s.Start(plan)
	if err != nil {
		return Result{}, err
	}

	return run.Execute(ctx), nil
}

// Run is one execution of a plan. It is not goroutine-safe.
type Run struct {
	seq   *Sequencer
	plan  Plan
	runID uuid.UUID

	state    State
	step     int
	attempts int
	outcomes []StepOutcome
	err      error

	started  time.Time
	finished time.Time
	logger   logger.Logger
}

// State returns the current state.
func (r *Run) State() State { return r.state }

// StepIndex returns the index of the step being applied or verified.
func (r *Run) StepIndex() int { return r.step }

// Execute calls Next until the run is terminal and returns its result.
func (r *Run) Execute(ctx context.Context) Result {
	for !r.state.Terminal() {
		r.Next(ctx)
	}

	return r.Result()
}

// Next performs one transition and returns the new state. A terminal run stays
// where it is. A done context fails the run before any bus traffic.
func (r *Run) Next(ctx context.Context) State {
	if r.state.Terminal() {
		return r.state
	}
	if err := ctx.Err(); err != nil {
		r.fail(err)
		return r.state
	}

	switch r.state {
	case StateDiscovering:
		r.discover(ctx)
	case StateApplying:
		r.apply(ctx)
	case StateVerifying:
		r.verify(ctx)
	}

	return r.state
}

// Result returns a snapshot of the run.
func (r *Run) Result() Result {
	return Result{
		RunID:    r.runID,
		DeviceID: r.plan.DeviceID,
		State:    r.state,
		Attempts: r.attempts,
		Steps:    append([]StepOutcome(nil), r.outcomes...),
		Err:      r.err,
		Started:  r.started,
		Finished: r.finished,
	}
}

func (r *Run) discover(ctx context.Context) {
	cfg := r.seq.cfg
	if r.attempts > 0 {
		if err := pool.Sleep(ctx, cfg.discoveryInterval); err != nil {
			r.fail(err)
			return
		}
	}

	r.attempts++
	ok, err := r.seq.bus.Ping(ctx, r.plan.DeviceID)
	if err != nil {
		r.fail(fmt.Errorf("sequencer: ping: %w", err))
		return
	}
	if ok {
		r.logger.Info("device discovered", "attempts", r.attempts)
		r.advance()

		return
	}

	r.logger.Debug("device not answering", "attempt", r.attempts, "max", cfg.discoveryAttempts)
	if r.attempts >= cfg.discoveryAttempts {
		r.fail(fmt.Errorf("%w: id %d after %d attempts", ErrDeviceNotFound, r.plan.DeviceID, r.attempts))
	}
}

func (r *Run) apply(ctx context.Context) {
	step := r.plan.Steps[r.step]

	if err := r.seq.bus.Write(ctx, r.plan.DeviceID, step.Register, step.Value); err != nil {
		r.fail(&StepError{Index: r.step, Step: step.label(), State: StateApplying, Err: err})
		return
	}

	r.outcomes = append(r.outcomes, StepOutcome{
		Name:     step.label(),
		Register: step.Register,
		Value:    step.Value,
		Applied:  true,
	})
	r.logger.Info("step applied", "step", step.label(), "register", step.Register.String(), "value", step.Value)

	if step.Verify {
		r.state = StateVerifying
		return
	}
	r.step++
	r.advance()
}

func (r *Run) verify(ctx context.Context) {
	step := r.plan.Steps[r.step]

	if err := pool.Sleep(ctx, r.settle(step)); err != nil {
		r.fail(err)
		return
	}

	observed, err := r.seq.bus.Read(ctx, r.plan.DeviceID, step.Register)
	if err != nil {
		r.fail(&StepError{Index: r.step, Step: step.label(), State: StateVerifying, Err: err})
		return
	}

	out := &r.outcomes[len(r.outcomes)-1]
	out.Observed = observed

	tol, ok := r.matches(step, observed)
	if !ok {
		r.fail(&StepError{
			Index: r.step,
			Step:  step.label(),
			State: StateVerifying,
			Err:   &MismatchError{Register: step.Register, Expected: step.Value, Observed: observed, Tolerance: tol},
		})

		return
	}

	out.Verified = true
	r.logger.Info("step verified", "step", step.label(), "observed", observed)
	r.step++
	r.advance()
}

// advance enters Applying for the current step, or Done when none remain.
func (r *Run) advance() {
	if r.step >= len(r.plan.Steps) {
		r.state = StateDone
		r.finished = time.Now()
		r.logger.Info("configuration done", "steps", len(r.outcomes))

		return
	}
	r.state = StateApplying
}

func (r *Run) fail(err error) {
	r.state = StateFailed
	r.err = err
	r.finished = time.Now()
	r.logger.Error("configuration failed", "error", err)
}

func (r *Run) settle(step Step) time.Duration {
	switch {
	case step.Settle > 0:
		return step.Settle
	case step.Register == dxl.GoalPosition:
		return r.seq.cfg.motionSettle
	default:
		return r.seq.cfg.registerSettle
	}
}

// matches compares a read-back value with the step's target and returns the
// tolerance that was applied.
func (r *Run) matches(step Step, observed float64) (float64, bool) {
	info, err := r.seq.bus.Registers().Lookup(step.Register)
	if err == nil && info.Encoding.Exact() {
		return 0, observed == step.Value
	}

	tol := step.Tolerance
	if tol == 0 {
		tol = r.seq.cfg.tolerance
	}

	return tol, math.Abs(observed-step.Value) <= tol
}
