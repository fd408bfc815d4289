package dxl

import (
	"encoding/binary"
	"fmt"
	"maps"
	"math"
	"strings"

	"github.com/arloliu/go-dxl/frame"
	"github.com/arloliu/go-dxl/internal/util"
)

// Register is a named device parameter.
type Register int

// Registers known to the engine. Not every family supports every register.
const (
	ModelNumber Register = iota + 1
	FirmwareVersion
	ID
	BaudRate
	ReturnDelayTime
	MinAngleLimit
	MaxAngleLimit
	MaxTorque
	TorqueEnable
	GoalPosition
	MovingSpeed
	PresentPosition
	ControlMode
)

var registerNames = map[Register]string{
	ModelNumber:     "model_number",
	FirmwareVersion: "firmware_version",
	ID:              "id",
	BaudRate:        "baud_rate",
	ReturnDelayTime: "return_delay_time",
	MinAngleLimit:   "min_angle_limit",
	MaxAngleLimit:   "max_angle_limit",
	MaxTorque:       "max_torque",
	TorqueEnable:    "torque_enable",
	GoalPosition:    "goal_position",
	MovingSpeed:     "moving_speed",
	PresentPosition: "present_position",
	ControlMode:     "control_mode",
}

func (r Register) String() string {
	if name, ok := registerNames[r]; ok {
		return name
	}

	return fmt.Sprintf("register(%d)", int(r))
}

// ParseRegister resolves a snake_case register name such as "goal_position".
func ParseRegister(name string) (Register, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for r, n := range registerNames {
		if n == name {
			return r, nil
		}
	}

	return 0, fmt.Errorf("dxl: unknown register %q", name)
}

// Encoding is the rule converting between engineering values and register bytes.
type Encoding int

const (
	// EncodingRaw is an unsigned integer.
	EncodingRaw Encoding = iota
	// EncodingBool is 0 or 1.
	EncodingBool
	// EncodingAngle is degrees in [-180, 180] mapped onto the position ticks.
	EncodingAngle
	// EncodingSpeed is degrees per second.
	EncodingSpeed
	// EncodingTorque is percent of maximum torque.
	EncodingTorque
	// EncodingMode is a Mode.
	EncodingMode
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingBool:
		return "bool"
	case EncodingAngle:
		return "angle"
	case EncodingSpeed:
		return "speed"
	case EncodingTorque:
		return "torque"
	case EncodingMode:
		return "mode"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// Exact reports whether values of this encoding must match exactly on readback.
// Continuous encodings carry the native resolution error of the device.
func (e Encoding) Exact() bool {
	return e == EncodingRaw || e == EncodingBool || e == EncodingMode
}

// RegisterInfo locates a register in the control table.
type RegisterInfo struct {
	Address  uint16
	Width    int
	Encoding Encoding
}

// RegisterMap maps registers to their control table location.
type RegisterMap map[Register]RegisterInfo

// Protocol 1 (AX/MX) control table. ControlMode spans both angle limits.
var protocol1Map = RegisterMap{
	ModelNumber:     {Address: 0, Width: 2, Encoding: EncodingRaw},
	FirmwareVersion: {Address: 2, Width: 1, Encoding: EncodingRaw},
	ID:              {Address: 3, Width: 1, Encoding: EncodingRaw},
	BaudRate:        {Address: 4, Width: 1, Encoding: EncodingRaw},
	ReturnDelayTime: {Address: 5, Width: 1, Encoding: EncodingRaw},
	MinAngleLimit:   {Address: 6, Width: 2, Encoding: EncodingAngle},
	MaxAngleLimit:   {Address: 8, Width: 2, Encoding: EncodingAngle},
	ControlMode:     {Address: 6, Width: 4, Encoding: EncodingMode},
	MaxTorque:       {Address: 14, Width: 2, Encoding: EncodingTorque},
	TorqueEnable:    {Address: 24, Width: 1, Encoding: EncodingBool},
	GoalPosition:    {Address: 30, Width: 2, Encoding: EncodingAngle},
	MovingSpeed:     {Address: 32, Width: 2, Encoding: EncodingSpeed},
	PresentPosition: {Address: 36, Width: 2, Encoding: EncodingAngle},
}

// Protocol 2 (X series) control table.
var protocol2Map = RegisterMap{
	ModelNumber:     {Address: 0, Width: 2, Encoding: EncodingRaw},
	FirmwareVersion: {Address: 6, Width: 1, Encoding: EncodingRaw},
	ID:              {Address: 7, Width: 1, Encoding: EncodingRaw},
	BaudRate:        {Address: 8, Width: 1, Encoding: EncodingRaw},
	ReturnDelayTime: {Address: 9, Width: 1, Encoding: EncodingRaw},
	ControlMode:     {Address: 11, Width: 1, Encoding: EncodingMode},
	MaxAngleLimit:   {Address: 48, Width: 4, Encoding: EncodingAngle},
	MinAngleLimit:   {Address: 52, Width: 4, Encoding: EncodingAngle},
	TorqueEnable:    {Address: 64, Width: 1, Encoding: EncodingBool},
	MovingSpeed:     {Address: 104, Width: 4, Encoding: EncodingSpeed},
	GoalPosition:    {Address: 116, Width: 4, Encoding: EncodingAngle},
	PresentPosition: {Address: 132, Width: 4, Encoding: EncodingAngle},
}

// RegisterMapFor returns a copy of the control table for protocol v.
func RegisterMapFor(v frame.Version) RegisterMap {
	if v == frame.Protocol2 {
		return maps.Clone(protocol2Map)
	}

	return maps.Clone(protocol1Map)
}

// Lookup returns the location of reg, or ErrUnsupportedRegister.
func (m RegisterMap) Lookup(reg Register) (RegisterInfo, error) {
	info, ok := m[reg]
	if !ok {
		return RegisterInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedRegister, reg)
	}

	return info, nil
}

// Mode is a motion control mode.
type Mode int

const (
	// ModeJoint is position control within the angle limits.
	ModeJoint Mode = iota
	// ModeWheel is continuous rotation under velocity control.
	ModeWheel
	// ModeMultiTurn is position control across several revolutions.
	ModeMultiTurn
	// ModePWM drives the motor by duty cycle. Protocol 2 only.
	ModePWM
)

var modeNames = []string{"joint", "wheel", "multi_turn", "pwm"}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}

	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode resolves a mode name ("joint", "wheel", "multi_turn", "pwm").
func ParseMode(name string) (Mode, error) {
	name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for i, n := range modeNames {
		if n == name {
			return Mode(i), nil
		}
	}

	return 0, fmt.Errorf("dxl: unknown mode %q", name)
}

var protocol2Modes = map[Mode]byte{
	ModeWheel:     1,
	ModeJoint:     3,
	ModeMultiTurn: 4,
	ModePWM:       16,
}

// multiTurnLimit is the angle-limit value selecting multi-turn on protocol 1.
const multiTurnLimit = 4095

// torqueScale converts percent to torque units (1023 = 100%).
const torqueScale = 10.23

// EncodeValue converts an engineering value into the bytes of a register.
func EncodeValue(f Family, info RegisterInfo, v float64) ([]byte, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %v", ErrValueOutOfRange, v)
	}

	var n int64
	switch info.Encoding {
	case EncodingRaw:
		if v != math.Trunc(v) || v < 0 {
			return nil, fmt.Errorf("%w: %v is not an unsigned integer", ErrValueOutOfRange, v)
		}
		n = int64(v)
	case EncodingBool:
		if v != 0 && v != 1 {
			return nil, fmt.Errorf("%w: %v is not 0 or 1", ErrValueOutOfRange, v)
		}
		n = int64(v)
	case EncodingAngle:
		n = int64(degToTicks(f, v))
	case EncodingSpeed:
		n = speedToUnits(f, info, v)
	case EncodingTorque:
		if v < 0 || v > 100 {
			return nil, fmt.Errorf("%w: torque %v%% outside [0, 100]", ErrValueOutOfRange, v)
		}
		n = int64(math.Round(v * torqueScale))
	case EncodingMode:
		return encodeMode(f, info, v)
	default:
		return nil, fmt.Errorf("dxl: unknown encoding %s", info.Encoding)
	}

	return putInt(n, info.Width)
}

// DecodeValue converts register bytes into an engineering value.
func DecodeValue(f Family, info RegisterInfo, b []byte) (float64, error) {
	if len(b) != info.Width {
		return 0, fmt.Errorf("dxl: register width %d, got %d bytes", info.Width, len(b))
	}

	u := getUint(b)
	switch info.Encoding {
	case EncodingRaw, EncodingBool:
		return float64(u), nil
	case EncodingAngle:
		return ticksToDeg(f, signedIfWide(u, info.Width)), nil
	case EncodingSpeed:
		return unitsToSpeed(f, info, u), nil
	case EncodingTorque:
		return roundTo(float64(u)/torqueScale, 2), nil
	case EncodingMode:
		m, err := decodeMode(f, info, b)
		return float64(m), err
	default:
		return 0, fmt.Errorf("dxl: unknown encoding %s", info.Encoding)
	}
}

func degToTicks(f Family, deg float64) int {
	top := f.maxTick()
	ticks := int(math.Round(float64(top) * (180 + deg) / 360))

	return util.Clamp(ticks, 0, top)
}

func ticksToDeg(f Family, ticks int64) float64 {
	return roundTo(360*float64(ticks)/float64(f.maxTick())-180, 2)
}

// degPerSecPerUnit converts one speed register unit to degrees per second.
func degPerSecPerUnit(f Family) float64 { return f.SpeedUnit * 6 }

// Protocol 1 speed registers hold a 10-bit magnitude and a direction bit.
const (
	speedMagnitudeMask = 0x3FF
	speedDirectionBit  = 0x400
)

func speedToUnits(f Family, info RegisterInfo, v float64) int64 {
	units := int64(math.Round(math.Abs(v) / degPerSecPerUnit(f)))
	if info.Width == 4 {
		if v < 0 {
			return -units
		}

		return units
	}

	units = min(units, speedMagnitudeMask)
	if v < 0 {
		units |= speedDirectionBit
	}

	return units
}

func unitsToSpeed(f Family, info RegisterInfo, u uint32) float64 {
	if info.Width == 4 {
		return roundTo(float64(int32(u))*degPerSecPerUnit(f), 3)
	}

	v := float64(u&speedMagnitudeMask) * degPerSecPerUnit(f)
	if u&speedDirectionBit != 0 {
		v = -v
	}

	return roundTo(v, 3)
}

func encodeMode(f Family, info RegisterInfo, v float64) ([]byte, error) {
	m := Mode(v)
	if float64(m) != v || m < ModeJoint || m > ModePWM {
		return nil, fmt.Errorf("%w: %v is not a mode", ErrValueOutOfRange, v)
	}

	if f.Protocol == frame.Protocol2 {
		return putInt(int64(protocol2Modes[m]), info.Width)
	}

	var cw, ccw uint16
	switch m {
	case ModeWheel:
		cw, ccw = 0, 0
	case ModeJoint:
		cw, ccw = 0, uint16(f.maxTick())
	case ModeMultiTurn:
		cw, ccw = multiTurnLimit, multiTurnLimit
	default:
		return nil, fmt.Errorf("%w: mode %s needs protocol 2", ErrValueOutOfRange, m)
	}

	b := binary.LittleEndian.AppendUint16(make([]byte, 0, 4), cw)

	return binary.LittleEndian.AppendUint16(b, ccw), nil
}

func decodeMode(f Family, info RegisterInfo, b []byte) (Mode, error) {
	if f.Protocol == frame.Protocol2 {
		code := byte(getUint(b))
		for m, c := range protocol2Modes {
			if c == code {
				return m, nil
			}
		}

		return 0, fmt.Errorf("%w: operating mode %d", ErrValueOutOfRange, code)
	}

	if info.Width != 4 {
		return 0, fmt.Errorf("dxl: protocol 1 mode needs both angle limits")
	}
	cw := binary.LittleEndian.Uint16(b)
	ccw := binary.LittleEndian.Uint16(b[2:])
	switch {
	case cw == 0 && ccw == 0:
		return ModeWheel, nil
	case cw == multiTurnLimit && ccw == multiTurnLimit:
		return ModeMultiTurn, nil
	default:
		return ModeJoint, nil
	}
}

func putInt(n int64, width int) ([]byte, error) {
	switch width {
	case 1:
		if n < 0 || n > math.MaxUint8 {
			return nil, fmt.Errorf("%w: %d does not fit 1 byte", ErrValueOutOfRange, n)
		}

		return []byte{byte(n)}, nil
	case 2:
		if n < 0 || n > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %d does not fit 2 bytes", ErrValueOutOfRange, n)
		}

		return binary.LittleEndian.AppendUint16(nil, uint16(n)), nil
	case 4:
		if n < math.MinInt32 || n > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %d does not fit 4 bytes", ErrValueOutOfRange, n)
		}

		return binary.LittleEndian.AppendUint32(nil, uint32(n)), nil
	default:
		return nil, fmt.Errorf("dxl: unsupported register width %d", width)
	}
}

func getUint(b []byte) uint32 {
	var u uint32
	for i := len(b) - 1; i >= 0; i-- {
		u = u<<8 | uint32(b[i])
	}

	return u
}

func signedIfWide(u uint32, width int) int64 {
	if width == 4 {
		return int64(int32(u))
	}

	return int64(u)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
