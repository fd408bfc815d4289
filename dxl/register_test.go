package dxl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dxl/frame"
)

func TestEncodeValue(t *testing.T) {
	p1 := RegisterMapFor(frame.Protocol1)
	p2 := RegisterMapFor(frame.Protocol2)

	tests := []struct {
		name    string
		family  Family
		info    RegisterInfo
		value   float64
		want    []byte
		wantErr error
	}{
		{"angle center MX", FamilyMX, p1[GoalPosition], 0, []byte{0x00, 0x08}, nil},
		{"angle min MX", FamilyMX, p1[GoalPosition], -180, []byte{0x00, 0x00}, nil},
		{"angle max MX", FamilyMX, p1[GoalPosition], 180, []byte{0xFF, 0x0F}, nil},
		{"angle clamped", FamilyMX, p1[GoalPosition], 270, []byte{0xFF, 0x0F}, nil},
		{"angle center AX", FamilyAX, p1[GoalPosition], 0, []byte{0x00, 0x02}, nil},
		{"angle X", FamilyX, p2[GoalPosition], 0, []byte{0x00, 0x08, 0x00, 0x00}, nil},
		{"speed ccw", FamilyMX, p1[MovingSpeed], 100, []byte{146, 0x00}, nil},
		{"speed cw", FamilyMX, p1[MovingSpeed], -100, []byte{146, 0x04}, nil},
		{"speed saturates", FamilyMX, p1[MovingSpeed], 5000, []byte{0xFF, 0x03}, nil},
		{"speed X", FamilyX, p2[MovingSpeed], 100, []byte{73, 0, 0, 0}, nil},
		{"speed X reverse", FamilyX, p2[MovingSpeed], -100, []byte{0xB7, 0xFF, 0xFF, 0xFF}, nil},
		{"torque", FamilyMX, p1[MaxTorque], 50, []byte{0x00, 0x02}, nil},
		{"torque full", FamilyMX, p1[MaxTorque], 100, []byte{0xFF, 0x03}, nil},
		{"torque too high", FamilyMX, p1[MaxTorque], 101, nil, ErrValueOutOfRange},
		{"raw", FamilyMX, p1[ReturnDelayTime], 5, []byte{5}, nil},
		{"raw fraction", FamilyMX, p1[ReturnDelayTime], 1.5, nil, ErrValueOutOfRange},
		{"raw overflow", FamilyMX, p1[ReturnDelayTime], 256, nil, ErrValueOutOfRange},
		{"raw negative", FamilyMX, p1[ReturnDelayTime], -1, nil, ErrValueOutOfRange},
		{"bool", FamilyMX, p1[TorqueEnable], 1, []byte{1}, nil},
		{"bool invalid", FamilyMX, p1[TorqueEnable], 2, nil, ErrValueOutOfRange},
		{"mode wheel P1", FamilyMX, p1[ControlMode], float64(ModeWheel), []byte{0, 0, 0, 0}, nil},
		{"mode joint AX", FamilyAX, p1[ControlMode], float64(ModeJoint), []byte{0, 0, 0xFF, 0x03}, nil},
		{"mode multi-turn P1", FamilyMX, p1[ControlMode], float64(ModeMultiTurn), []byte{0xFF, 0x0F, 0xFF, 0x0F}, nil},
		{"mode pwm P1", FamilyMX, p1[ControlMode], float64(ModePWM), nil, ErrValueOutOfRange},
		{"mode wheel P2", FamilyX, p2[ControlMode], float64(ModeWheel), []byte{1}, nil},
		{"mode pwm P2", FamilyX, p2[ControlMode], float64(ModePWM), []byte{16}, nil},
		{"mode unknown", FamilyX, p2[ControlMode], 7, nil, ErrValueOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeValue(tt.family, tt.info, tt.value)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeValue(t *testing.T) {
	p1 := RegisterMapFor(frame.Protocol1)
	p2 := RegisterMapFor(frame.Protocol2)

	tests := []struct {
		name   string
		family Family
		info   RegisterInfo
		data   []byte
		want   float64
		delta  float64
	}{
		{"angle center", FamilyMX, p1[PresentPosition], []byte{0x00, 0x08}, 0, 0.1},
		{"angle min", FamilyMX, p1[PresentPosition], []byte{0x00, 0x00}, -180, 0},
		{"angle negative turn X", FamilyX, p2[PresentPosition], []byte{0xFF, 0xFF, 0xFF, 0xFF}, -180.09, 0.01},
		{"speed cw", FamilyMX, p1[MovingSpeed], []byte{146, 0x04}, -99.864, 0.001},
		{"speed X", FamilyX, p2[MovingSpeed], []byte{73, 0, 0, 0}, 100.302, 0.001},
		{"torque", FamilyMX, p1[MaxTorque], []byte{0xFF, 0x03}, 100, 0},
		{"model", FamilyMX, p1[ModelNumber], []byte{0x1D, 0x00}, 29, 0},
		{"mode joint", FamilyMX, p1[ControlMode], []byte{0, 0, 0xFF, 0x0F}, float64(ModeJoint), 0},
		{"mode multi-turn", FamilyMX, p1[ControlMode], []byte{0xFF, 0x0F, 0xFF, 0x0F}, float64(ModeMultiTurn), 0},
		{"mode P2", FamilyX, p2[ControlMode], []byte{4}, float64(ModeMultiTurn), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValue(tt.family, tt.info, tt.data)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, tt.delta)
		})
	}

	_, err := DecodeValue(FamilyMX, p1[GoalPosition], []byte{1})
	require.Error(t, err)
	_, err = DecodeValue(FamilyX, p2[ControlMode], []byte{9})
	require.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestEncodeDecodeWithinResolution(t *testing.T) {
	p1 := RegisterMapFor(frame.Protocol1)

	for _, f := range []Family{FamilyAX, FamilyMX} {
		for deg := -180.0; deg <= 180; deg += 7.5 {
			b, err := EncodeValue(f, p1[GoalPosition], deg)
			require.NoError(t, err)
			got, err := DecodeValue(f, p1[GoalPosition], b)
			require.NoError(t, err)
			assert.InDelta(t, deg, got, 360.0/float64(f.Resolution), "%s %v", f.Name, deg)
		}
	}
}

func TestParseRegister(t *testing.T) {
	for r, name := range registerNames {
		got, err := ParseRegister(name)
		require.NoError(t, err)
		assert.Equal(t, r, got)
		assert.Equal(t, name, r.String())
	}

	got, err := ParseRegister(" Goal_Position ")
	require.NoError(t, err)
	assert.Equal(t, GoalPosition, got)

	_, err = ParseRegister("goal")
	require.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("multi-turn")
	require.NoError(t, err)
	assert.Equal(t, ModeMultiTurn, m)

	m, err = ParseMode("WHEEL")
	require.NoError(t, err)
	assert.Equal(t, ModeWheel, m)

	_, err = ParseMode("servo")
	require.Error(t, err)
}

func TestEncodingExact(t *testing.T) {
	assert.True(t, EncodingRaw.Exact())
	assert.True(t, EncodingBool.Exact())
	assert.True(t, EncodingMode.Exact())
	assert.False(t, EncodingAngle.Exact())
	assert.False(t, EncodingSpeed.Exact())
	assert.False(t, EncodingTorque.Exact())
}

func TestRegisterMapFor(t *testing.T) {
	m := RegisterMapFor(frame.Protocol1)
	delete(m, GoalPosition)

	// callers get a copy
	_, err := RegisterMapFor(frame.Protocol1).Lookup(GoalPosition)
	require.NoError(t, err)
	_, err = m.Lookup(GoalPosition)
	require.ErrorIs(t, err, ErrUnsupportedRegister)
}

func TestFamily_BaudCode(t *testing.T) {
	tests := []struct {
		family  Family
		baud    int
		code    byte
		wantErr bool
	}{
		{FamilyMX, 1_000_000, 1, false},
		{FamilyMX, 57_600, 34, false},
		{FamilyMX, 9600, 207, false},
		{FamilyAX, 500_000, 3, false},
		{FamilyMX, 5_000_000, 0, true},
		{FamilyMX, 0, 0, true},
		{FamilyX, 57_600, 1, false},
		{FamilyX, 4_000_000, 6, false},
		{FamilyX, 250_000, 0, true},
	}

	for _, tt := range tests {
		code, err := tt.family.BaudCode(tt.baud)
		if tt.wantErr {
			require.ErrorIs(t, err, ErrUnsupportedBaudRate, "%s %d", tt.family.Name, tt.baud)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.code, code, "%s %d", tt.family.Name, tt.baud)

		back, err := tt.family.BaudRate(code)
		require.NoError(t, err)
		assert.InEpsilon(t, tt.baud, back, 0.03)
	}
}

func TestLookupFamily(t *testing.T) {
	f, ok := LookupFamily("mx")
	require.True(t, ok)
	assert.Equal(t, FamilyMX, f)

	_, ok = LookupFamily("RX")
	assert.False(t, ok)
	assert.Equal(t, []string{"AX", "MX", "X"}, FamilyNames())
}

func TestDeviceError_Protocol2Flags(t *testing.T) {
	err := &DeviceError{ID: 4, Code: 0x84, Protocol: frame.Protocol2}
	assert.Equal(t, []string{"data range", "hardware alert"}, err.Flags())
	assert.Contains(t, err.Error(), "0x84")
}

func TestModelName(t *testing.T) {
	assert.Equal(t, "AX-12", ModelName(ModelAX12))
	assert.Equal(t, "unknown(7)", ModelName(7))
}
