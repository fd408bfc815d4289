package frame

import (
	"errors"
	"fmt"
)

// Version identifies a protocol family.
type Version int

const (
	// Protocol1 is the classic AX/MX framing with an 8-bit checksum.
	Protocol1 Version = 1
	// Protocol2 is the X-series framing with CRC-16 and byte stuffing.
	Protocol2 Version = 2
)

func (v Version) String() string {
	switch v {
	case Protocol1:
		return "protocol1"
	case Protocol2:
		return "protocol2"
	default:
		return fmt.Sprintf("protocol(%d)", int(v))
	}
}

// Opcode is an instruction code.
type Opcode byte

// Supported instructions. Factory reset is deliberately not exposed.
const (
	OpPing      Opcode = 0x01
	OpRead      Opcode = 0x02
	OpWrite     Opcode = 0x03
	OpSyncWrite Opcode = 0x83
)

func (op Opcode) String() string {
	switch op {
	case OpPing:
		return "PING"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpSyncWrite:
		return "SYNC_WRITE"
	default:
		return fmt.Sprintf("OP(0x%02X)", byte(op))
	}
}

// BroadcastID addresses every device on the bus. Devices never reply to it.
const BroadcastID byte = 0xFE

// Decode errors.
var (
	// ErrInvalidFrame is the parent of every decode error.
	ErrInvalidFrame = errors.New("frame: invalid frame")
	// ErrChecksum reports a checksum or CRC mismatch.
	ErrChecksum = fmt.Errorf("%w: checksum mismatch", ErrInvalidFrame)
	// ErrMalformedFrame reports a bad marker, a declared length that disagrees
	// with the received byte count, or a truncated body.
	ErrMalformedFrame = fmt.Errorf("%w: malformed frame", ErrInvalidFrame)
)

// Instruction is a decoded request frame.
type Instruction struct {
	ID     byte
	Opcode Opcode
	Params []byte
}

// Status is a decoded reply frame.
type Status struct {
	ID     byte
	Error  byte
	Params []byte
}

// SyncEntry is one device's slice of a SYNC_WRITE payload.
type SyncEntry struct {
	ID   byte
	Data []byte
}

// Codec encodes and decodes frames of one protocol family.
type Codec interface {
	Version() Version

	// MaxParams is the longest parameter block a frame can carry. Encoding
	// longer params yields a frame no device accepts; callers must check.
	MaxParams() int

	// EncodeInstruction builds a complete instruction frame.
	EncodeInstruction(id byte, op Opcode, params []byte) []byte
	// DecodeInstruction parses a complete instruction frame.
	DecodeInstruction(data []byte) (Instruction, error)
	// EncodeStatus builds a complete status frame.
	EncodeStatus(id byte, errByte byte, params []byte) []byte
	// DecodeStatus parses a complete status frame.
	DecodeStatus(data []byte) (Status, error)

	// Marker returns the byte sequence every frame starts with.
	Marker() []byte
	// HeaderLen is the number of leading bytes needed to learn the body length.
	HeaderLen() int
	// BodyLen returns how many bytes follow a header of HeaderLen bytes.
	BodyLen(header []byte) (int, error)

	// ReadParams encodes the parameters of a READ instruction.
	ReadParams(addr uint16, width int) []byte
	// ParseReadParams is the inverse of ReadParams.
	ParseReadParams(params []byte) (addr uint16, width int, err error)
	// WriteParams encodes the parameters of a WRITE instruction.
	WriteParams(addr uint16, data []byte) []byte
	// ParseWriteParams is the inverse of WriteParams.
	ParseWriteParams(params []byte) (addr uint16, data []byte, err error)
	// SyncWriteParams encodes the parameters of a SYNC_WRITE instruction.
	SyncWriteParams(addr uint16, width int, entries []SyncEntry) []byte
	// ParseSyncWriteParams is the inverse of SyncWriteParams.
	ParseSyncWriteParams(params []byte) (addr uint16, entries []SyncEntry, err error)
}

// New returns the codec for protocol version v.
func New(v Version) (Codec, error) {
	switch v {
	case Protocol1:
		return V1{}, nil
	case Protocol2:
		return V2{}, nil
	default:
		return nil, fmt.Errorf("frame: unsupported protocol version %d", int(v))
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

func checksumError(got, want uint16) error {
	return fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, got, want)
}

// fitWidth pads or truncates b to exactly width bytes.
func fitWidth(b []byte, width int) []byte {
	if len(b) == width {
		return b
	}
	out := make([]byte, width)
	copy(out, b)

	return out
}

func parseSyncEntries(addr uint16, width int, rest []byte) (uint16, []SyncEntry, error) {
	if width <= 0 {
		return 0, nil, malformed("sync write width %d", width)
	}
	stride := width + 1
	if len(rest)%stride != 0 {
		return 0, nil, malformed("sync write data of %d bytes is not a multiple of %d", len(rest), stride)
	}

	entries := make([]SyncEntry, 0, len(rest)/stride)
	for i := 0; i < len(rest); i += stride {
		entries = append(entries, SyncEntry{ID: rest[i], Data: rest[i+1 : i+stride]})
	}

	return addr, entries, nil
}
