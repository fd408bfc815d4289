package sequencer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dxl/dxl"
	"github.com/arloliu/go-dxl/frame"
	"github.com/arloliu/go-dxl/internal/simbus"
	"github.com/arloliu/go-dxl/logger"
)

// fakeBus answers pings from a given attempt on and reads back fixed values.
type fakeBus struct {
	regs       dxl.RegisterMap
	pingFrom   int // first answered ping, 1-based; 0 never answers
	pings      int
	reads      map[dxl.Register]float64
	writeErr   map[dxl.Register]error
	writes     []dxl.Register
	readCalled []dxl.Register
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		regs:     dxl.RegisterMapFor(frame.Protocol1),
		pingFrom: 1,
		reads:    map[dxl.Register]float64{},
		writeErr: map[dxl.Register]error{},
	}
}

func (b *fakeBus) Ping(context.Context, int) (bool, error) {
	b.pings++
	return b.pingFrom > 0 && b.pings >= b.pingFrom, nil
}

func (b *fakeBus) Read(_ context.Context, _ int, reg dxl.Register) (float64, error) {
	b.readCalled = append(b.readCalled, reg)
	return b.reads[reg], nil
}

func (b *fakeBus) Write(_ context.Context, _ int, reg dxl.Register, _ float64) error {
	b.writes = append(b.writes, reg)
	return b.writeErr[reg]
}

func (b *fakeBus) Registers() dxl.RegisterMap { return b.regs }

func fastOpts(extra ...Option) []Option {
	return append([]Option{
		WithDiscoveryInterval(time.Millisecond),
		WithRegisterSettle(0),
		WithMotionSettle(time.Millisecond),
	}, extra...)
}

func newSeq(t *testing.T, bus Bus, opts ...Option) *Sequencer {
	t.Helper()

	s, err := New(bus, fastOpts(opts...)...)
	require.NoError(t, err)

	return s
}

func TestVerify_ContinuousWithinTolerance(t *testing.T) {
	bus := newFakeBus()
	bus.reads[dxl.GoalPosition] = 100.9

	res, err := newSeq(t, bus).Execute(context.Background(), NewPlan(1).GoalPosition(100).Build())
	require.NoError(t, err)
	require.Equal(t, StateDone, res.State, "err: %v", res.Err)
	require.Len(t, res.Steps, 1)
	assert.True(t, res.Steps[0].Verified)
	assert.Equal(t, 100.9, res.Steps[0].Observed)
}

func TestVerify_DiscreteExact(t *testing.T) {
	bus := newFakeBus()
	bus.reads[dxl.ReturnDelayTime] = 6

	res, err := newSeq(t, bus).Execute(context.Background(), NewPlan(1).ReturnDelay(5).Build())
	require.NoError(t, err)
	require.Equal(t, StateFailed, res.State)
	require.ErrorIs(t, res.Err, ErrVerificationMismatch)

	var stepErr *StepError
	require.ErrorAs(t, res.Err, &stepErr)
	assert.Equal(t, 0, stepErr.Index)
	assert.Equal(t, StateVerifying, stepErr.State)

	var mm *MismatchError
	require.ErrorAs(t, res.Err, &mm)
	assert.Equal(t, 5.0, mm.Expected)
	assert.Equal(t, 6.0, mm.Observed)
	assert.Zero(t, mm.Tolerance)

	require.Len(t, res.Steps, 1)
	assert.True(t, res.Steps[0].Applied)
	assert.False(t, res.Steps[0].Verified)
}

func TestVerify_StepTolerance(t *testing.T) {
	bus := newFakeBus()
	bus.reads[dxl.GoalPosition] = 3

	plan := Plan{DeviceID: 1, Steps: []Step{
		{Register: dxl.GoalPosition, Value: 0, Verify: true, Tolerance: 0.5},
	}}
	res, err := newSeq(t, bus).Execute(context.Background(), plan)
	require.NoError(t, err)
	var mm *MismatchError
	require.ErrorAs(t, res.Err, &mm)
	assert.Equal(t, 0.5, mm.Tolerance)

	res, err = newSeq(t, bus, WithDefaultTolerance(5)).Execute(context.Background(),
		Plan{DeviceID: 1, Steps: []Step{{Register: dxl.GoalPosition, Value: 0, Verify: true}}})
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
}

func TestEndToEnd_WheelSpeedGoal(t *testing.T) {
	sim, err := simbus.New(frame.Protocol1)
	require.NoError(t, err)
	sim.AddDevice(23, dxl.ModelMX28, simbus.WithMirror(36, 30, 2))

	bus, err := dxl.NewBus(sim, dxl.WithFamily(dxl.FamilyMX), dxl.WithTimeout(10*time.Millisecond))
	require.NoError(t, err)

	plan := NewPlan(23).WheelMode().Speed(100).GoalPosition(0).Build()
	res, err := newSeq(t, bus).Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, StateDone, res.State, "err: %v", res.Err)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 23, res.DeviceID)
	assert.NotEqual(t, uuid.Nil, res.RunID)
	assert.False(t, res.Finished.Before(res.Started))

	require.Len(t, res.Steps, 3)
	wantRegs := []dxl.Register{dxl.ControlMode, dxl.MovingSpeed, dxl.GoalPosition}
	for i, s := range res.Steps {
		assert.Equal(t, wantRegs[i], s.Register)
		assert.True(t, s.Applied, "step %d", i)
		assert.True(t, s.Verified, "step %d", i)
	}
	assert.Equal(t, float64(dxl.ModeWheel), res.Steps[0].Observed)
	assert.InDelta(t, 100, res.Steps[1].Observed, 1)

	pos, err := bus.Read(context.Background(), 23, dxl.PresentPosition)
	require.NoError(t, err)
	assert.InDelta(t, 0, pos, 1)
}

func TestDiscovery_FifthAttempt(t *testing.T) {
	sim, err := simbus.New(frame.Protocol1)
	require.NoError(t, err)
	sim.AddDevice(5, dxl.ModelAX12, simbus.WithPingAfter(5))
	bus, err := dxl.NewBus(sim, dxl.WithFamily(dxl.FamilyAX), dxl.WithTimeout(5*time.Millisecond))
	require.NoError(t, err)

	run, err := newSeq(t, bus).Start(NewPlan(5).ReturnDelay(0).Build())
	require.NoError(t, err)

	ctx := context.Background()
	for i := 1; i < 5; i++ {
		assert.Equal(t, StateDiscovering, run.Next(ctx), "attempt %d", i)
	}
	assert.Equal(t, StateApplying, run.Next(ctx))
	assert.Equal(t, 5, run.Result().Attempts)
	assert.Equal(t, 5, sim.Pings(5))

	res := run.Execute(ctx)
	assert.Equal(t, StateDone, res.State, "err: %v", res.Err)
}

func TestDiscovery_BudgetExhausted(t *testing.T) {
	bus := newFakeBus()
	bus.pingFrom = 0

	res, err := newSeq(t, bus).Execute(context.Background(), NewPlan(9).Torque(true).Build())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	require.ErrorIs(t, res.Err, ErrDeviceNotFound)
	assert.Equal(t, DefaultDiscoveryAttempts, res.Attempts)
	assert.Equal(t, DefaultDiscoveryAttempts, bus.pings)
	assert.Empty(t, bus.writes)
	assert.Empty(t, res.Steps)
}

func TestDiscovery_CustomBudget(t *testing.T) {
	bus := newFakeBus()
	bus.pingFrom = 4

	res, err := newSeq(t, bus, WithDiscoveryAttempts(3)).Execute(context.Background(), NewPlan(9).Build())
	require.NoError(t, err)
	require.ErrorIs(t, res.Err, ErrDeviceNotFound)
	assert.Equal(t, 3, res.Attempts)
}

func TestApply_WriteFailureStopsRun(t *testing.T) {
	bus := newFakeBus()
	bus.writeErr[dxl.MovingSpeed] = fmt.Errorf("write: %w", dxl.ErrTimeout)

	plan := NewPlan(1).WheelMode().Speed(100).GoToZero().Build()
	bus.reads[dxl.ControlMode] = float64(dxl.ModeWheel)

	res, err := newSeq(t, bus).Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	require.ErrorIs(t, res.Err, dxl.ErrTimeout)

	var stepErr *StepError
	require.ErrorAs(t, res.Err, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, StateApplying, stepErr.State)
	assert.Contains(t, stepErr.Error(), "step 2 (speed)")

	// never retried, never continued
	assert.Equal(t, []dxl.Register{dxl.ControlMode, dxl.MovingSpeed}, bus.writes)
	require.Len(t, res.Steps, 1)
}

func TestApply_DeviceErrorStopsRun(t *testing.T) {
	bus := newFakeBus()
	bus.writeErr[dxl.TorqueEnable] = &dxl.DeviceError{ID: 1, Code: byte(dxl.FlagOverload)}

	res, err := newSeq(t, bus).Execute(context.Background(), NewPlan(1).Torque(true).Build())
	require.NoError(t, err)
	var devErr *dxl.DeviceError
	require.ErrorAs(t, res.Err, &devErr)
	assert.Equal(t, []dxl.Register{dxl.TorqueEnable}, bus.writes)
}

func TestUnverifiedStepsSkipRead(t *testing.T) {
	bus := newFakeBus()
	plan := Plan{DeviceID: 2, Steps: []Step{
		{Name: "a", Register: dxl.TorqueEnable, Value: 1},
		{Name: "b", Register: dxl.GoalPosition, Value: 10},
	}}

	run, err := newSeq(t, bus).Start(plan)
	require.NoError(t, err)

	ctx := context.Background()
	states := []State{run.Next(ctx), run.Next(ctx), run.Next(ctx)}
	assert.Equal(t, []State{StateApplying, StateApplying, StateDone}, states)
	assert.Empty(t, bus.readCalled)
	assert.Equal(t, StateDone, run.Next(ctx), "terminal runs stay put")
}

func TestRun_AbandonAtBoundary(t *testing.T) {
	bus := newFakeBus()
	run, err := newSeq(t, bus).Start(NewPlan(1).WheelMode().Speed(10).Build())
	require.NoError(t, err)

	ctx := context.Background()
	require.Equal(t, StateApplying, run.Next(ctx))
	require.Equal(t, StateVerifying, run.Next(ctx))
	assert.Equal(t, 0, run.StepIndex())

	// nothing further is sent once the caller stops calling Next
	assert.Len(t, bus.writes, 1)
	assert.Equal(t, StateVerifying, run.Result().State)
	assert.NoError(t, run.Result().Err)
}

func TestRun_CancelledContextFails(t *testing.T) {
	bus := newFakeBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newSeq(t, bus).Execute(ctx, NewPlan(1).Torque(true).Build())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	require.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, bus.pings)
}

func TestStart_InvalidPlan(t *testing.T) {
	bus := newFakeBus()
	bus.regs = dxl.RegisterMapFor(frame.Protocol2)
	s := newSeq(t, bus)

	_, err := s.Start(NewPlan(0).Build())
	require.ErrorIs(t, err, ErrInvalidPlan)

	_, err = s.Start(NewPlan(1).MaxTorque(50).Build())
	require.ErrorIs(t, err, ErrInvalidPlan)
	require.ErrorIs(t, err, dxl.ErrUnsupportedRegister)

	_, err = s.Start(Plan{DeviceID: 1, Steps: []Step{{Register: dxl.GoalPosition, Tolerance: -1}}})
	require.ErrorIs(t, err, ErrInvalidPlan)
}

func TestNew_Options(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	bus := newFakeBus()
	for _, opt := range []Option{
		WithDiscoveryAttempts(0),
		WithDiscoveryInterval(-time.Second),
		WithRegisterSettle(2 * time.Hour),
		WithMotionSettle(-1),
		WithDefaultTolerance(0),
	} {
		_, err := New(bus, opt)
		require.Error(t, err)
	}
}

func TestRun_LogsFailure(t *testing.T) {
	ml := logger.NewMockLogger().AllowChatter()
	ml.On("With", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ml.On("Error", "configuration failed", mock.Anything).Once()

	bus := newFakeBus()
	bus.writeErr[dxl.TorqueEnable] = errors.New("boom")

	res, err := newSeq(t, bus, WithLogger(ml)).Execute(context.Background(), NewPlan(1).Torque(false).Build())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.True(t, ml.Logged("Error", "configuration failed"))
	ml.AssertExpectations(t)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "verifying", StateVerifying.String())
	assert.True(t, StateDone.Terminal())
	assert.False(t, StateApplying.Terminal())
}

// timedBus records when each register was last written and read.
type timedBus struct {
	*fakeBus
	wroteAt map[string]time.Time
	gaps    []time.Duration
}

func (b *timedBus) Write(ctx context.Context, id int, reg dxl.Register, v float64) error {
	b.wroteAt[reg.String()] = time.Now()
	return b.fakeBus.Write(ctx, id, reg, v)
}

func (b *timedBus) Read(ctx context.Context, id int, reg dxl.Register) (float64, error) {
	b.gaps = append(b.gaps, time.Since(b.wroteAt[reg.String()]))

	return b.fakeBus.Read(ctx, id, reg)
}

func TestVerify_SettleSelection(t *testing.T) {
	const (
		registerSettle = 5 * time.Millisecond
		stepSettle     = 60 * time.Millisecond
		motionSettle   = 200 * time.Millisecond
	)

	bus := &timedBus{fakeBus: newFakeBus(), wroteAt: map[string]time.Time{}}
	bus.reads[dxl.ReturnDelayTime] = 5
	bus.reads[dxl.MovingSpeed] = 50
	bus.reads[dxl.GoalPosition] = 100

	plan := Plan{DeviceID: 1, Steps: []Step{
		{Register: dxl.ReturnDelayTime, Value: 5, Verify: true},
		{Register: dxl.MovingSpeed, Value: 50, Verify: true, Settle: stepSettle},
		{Register: dxl.GoalPosition, Value: 100, Verify: true},
		{Register: dxl.GoalPosition, Value: 100, Verify: true, Settle: stepSettle},
	}}

	res, err := newSeq(t, bus,
		WithRegisterSettle(registerSettle),
		WithMotionSettle(motionSettle),
	).Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, StateDone, res.State, "err: %v", res.Err)
	require.Len(t, bus.gaps, 4)

	// register default
	assert.GreaterOrEqual(t, bus.gaps[0], registerSettle)
	assert.Less(t, bus.gaps[0], stepSettle)

	// per-step override on a plain register
	assert.GreaterOrEqual(t, bus.gaps[1], stepSettle)
	assert.Less(t, bus.gaps[1], motionSettle)

	// goal position waits for motion
	assert.GreaterOrEqual(t, bus.gaps[2], motionSettle)

	// per-step override wins over the motion default
	assert.GreaterOrEqual(t, bus.gaps[3], stepSettle)
	assert.Less(t, bus.gaps[3], motionSettle)
}
