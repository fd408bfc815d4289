package dxl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arloliu/go-dxl/frame"
)

var (
	// ErrInvalidID reports a device id outside [1, 253] for a unicast operation.
	ErrInvalidID = errors.New("dxl: invalid device id")
	// ErrTimeout reports that no valid status frame arrived before the deadline.
	// Corrupt replies are folded into it; the decode error stays in the chain.
	ErrTimeout = errors.New("dxl: timeout waiting for status")
	// ErrBusClosed is returned by every operation after Close.
	ErrBusClosed = errors.New("dxl: bus closed")
	// ErrUnsupportedRegister reports a register the session's register map lacks.
	ErrUnsupportedRegister = errors.New("dxl: register not supported by family")
	// ErrValueOutOfRange reports a value that cannot be encoded into a register.
	ErrValueOutOfRange = errors.New("dxl: value out of range")
	// ErrUnsupportedBaudRate reports a baud rate the family cannot be configured to.
	ErrUnsupportedBaudRate = errors.New("dxl: unsupported baud rate")
)

// DeviceError is returned when a status frame carries a non-zero error byte.
type DeviceError struct {
	ID       int
	Code     byte
	Protocol frame.Version
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("dxl: device %d reported error 0x%02X (%s)", e.ID, e.Code, strings.Join(e.Flags(), ", "))
}

// Flags returns the human-readable names of the conditions set in Code.
func (e *DeviceError) Flags() []string {
	if e.Protocol == frame.Protocol2 {
		return protocol2Flags(e.Code)
	}

	return StatusFlags(e.Code).Names()
}

// StatusFlags is the protocol 1 error byte.
type StatusFlags byte

// Protocol 1 error bits.
const (
	FlagInputVoltage StatusFlags = 1 << iota
	FlagAngleLimit
	FlagOverheating
	FlagRange
	FlagChecksum
	FlagOverload
	FlagInstruction
)

var flagNames = []struct {
	flag StatusFlags
	name string
}{
	{FlagInputVoltage, "input voltage"},
	{FlagAngleLimit, "angle limit"},
	{FlagOverheating, "overheating"},
	{FlagRange, "range"},
	{FlagChecksum, "checksum"},
	{FlagOverload, "overload"},
	{FlagInstruction, "instruction"},
}

// Names lists the set flags in bit order.
func (f StatusFlags) Names() []string {
	names := make([]string, 0, 2)
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		names = append(names, "unknown")
	}

	return names
}

var protocol2Errors = map[byte]string{
	1: "result fail",
	2: "instruction",
	3: "crc",
	4: "data range",
	5: "data length",
	6: "data limit",
	7: "access",
}

// protocol2Flags decodes a protocol 2 error byte: bit 7 is the hardware alert,
// the low bits an error number.
func protocol2Flags(code byte) []string {
	names := make([]string, 0, 2)
	if n := code & 0x7F; n != 0 {
		if name, ok := protocol2Errors[n]; ok {
			names = append(names, name)
		} else {
			names = append(names, fmt.Sprintf("error %d", n))
		}
	}
	if code&0x80 != 0 {
		names = append(names, "hardware alert")
	}

	return names
}
