package frame

import (
	"encoding/binary"

	"github.com/arloliu/go-dxl/internal/util"
)

// V2 is the protocol 2 codec.
//
// Layout: 0xFF 0xFF 0xFD 0x00 <id> <len_l> <len_h> <inst> [err] <params...> <crc_l> <crc_h>.
// The length counts every byte after itself, CRC included, after stuffing.
type V2 struct{}

// StatusInstruction is the instruction byte carried by every protocol 2 reply.
const StatusInstruction byte = 0x55

var v2Marker = []byte{0xFF, 0xFF, 0xFD, 0x00}

const (
	v2HeaderLen = 7
	// header + inst + crc
	v2MinLen = v2HeaderLen + 1 + 2
	// v2MaxParams fits the 1024-byte packet buffer of protocol 2 devices.
	v2MaxParams = 1024 - v2MinLen
)

var _ Codec = V2{}

func (V2) Version() Version { return Protocol2 }

func (V2) Marker() []byte { return v2Marker }

func (V2) HeaderLen() int { return v2HeaderLen }

func (V2) MaxParams() int { return v2MaxParams }

func (V2) BodyLen(header []byte) (int, error) {
	if len(header) < v2HeaderLen {
		return 0, malformed("header too short: %d bytes", len(header))
	}
	if !hasV2Marker(header) {
		return 0, malformed("bad marker % X", header[:4])
	}

	n := int(binary.LittleEndian.Uint16(header[5:7]))
	if n < 3 {
		return 0, malformed("length %d below minimum", n)
	}

	return n, nil
}

func hasV2Marker(b []byte) bool {
	return b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFD && b[3] == 0x00
}

// CRC16 computes the protocol 2 CRC (polynomial 0x8005, MSB first, zero init).
func CRC16(b []byte) uint16 {
	var crc uint16
	for _, c := range b {
		crc ^= uint16(c) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x8005
			} else {
				crc <<= 1
			}
		}
	}

	return crc
}

// stuff inserts 0xFD after every FF FF FD run so the payload never contains a marker.
func stuff(region []byte) []byte {
	out := make([]byte, 0, len(region)+len(region)/3)
	for i, c := range region {
		out = append(out, c)
		if c == 0xFD && i >= 2 && region[i-1] == 0xFF && region[i-2] == 0xFF {
			out = append(out, 0xFD)
		}
	}

	return out
}

func unstuff(region []byte) []byte {
	out := make([]byte, 0, len(region))
	for i := 0; i < len(region); i++ {
		out = append(out, region[i])
		if region[i] == 0xFD && i >= 2 && region[i-1] == 0xFF && region[i-2] == 0xFF &&
			i+1 < len(region) && region[i+1] == 0xFD {
			i++
		}
	}

	return out
}

func (V2) EncodeInstruction(id byte, op Opcode, params []byte) []byte {
	region := make([]byte, 0, len(params)+1)
	region = append(region, byte(op))

	return encodeV2(id, append(region, params...))
}

func (V2) EncodeStatus(id byte, errByte byte, params []byte) []byte {
	region := make([]byte, 0, len(params)+2)
	region = append(region, StatusInstruction, errByte)

	return encodeV2(id, append(region, params...))
}

func encodeV2(id byte, region []byte) []byte {
	body := stuff(region)

	buf := make([]byte, 0, v2HeaderLen+len(body)+2)
	buf = append(buf, v2Marker...)
	buf = append(buf, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(body)+2))
	buf = append(buf, body...)

	return binary.LittleEndian.AppendUint16(buf, CRC16(buf))
}

// decodeV2 validates framing and CRC and returns the id and unstuffed region.
func decodeV2(data []byte) (byte, []byte, error) {
	if len(data) < v2MinLen {
		return 0, nil, malformed("frame too short: %d bytes", len(data))
	}
	if !hasV2Marker(data) {
		return 0, nil, malformed("bad marker % X", data[:4])
	}
	if n := int(binary.LittleEndian.Uint16(data[5:7])); n != len(data)-v2HeaderLen {
		return 0, nil, malformed("declared length %d, received %d", n, len(data)-v2HeaderLen)
	}

	end := len(data) - 2
	got := binary.LittleEndian.Uint16(data[end:])
	if want := CRC16(data[:end]); got != want {
		return 0, nil, checksumError(got, want)
	}

	return data[4], unstuff(data[v2HeaderLen:end]), nil
}

func (V2) DecodeInstruction(data []byte) (Instruction, error) {
	id, region, err := decodeV2(data)
	if err != nil {
		return Instruction{}, err
	}

	return Instruction{ID: id, Opcode: Opcode(region[0]), Params: util.CloneSlice(region[1:], 0)}, nil
}

func (V2) DecodeStatus(data []byte) (Status, error) {
	id, region, err := decodeV2(data)
	if err != nil {
		return Status{}, err
	}
	if len(region) < 2 {
		return Status{}, malformed("status body too short: %d bytes", len(region))
	}
	if region[0] != StatusInstruction {
		return Status{}, malformed("not a status frame: instruction 0x%02X", region[0])
	}

	return Status{ID: id, Error: region[1], Params: util.CloneSlice(region[2:], 0)}, nil
}

func (V2) ReadParams(addr uint16, width int) []byte {
	out := binary.LittleEndian.AppendUint16(make([]byte, 0, 4), addr)
	return binary.LittleEndian.AppendUint16(out, uint16(width))
}

func (V2) ParseReadParams(params []byte) (uint16, int, error) {
	if len(params) != 4 {
		return 0, 0, malformed("read params: want 4 bytes, got %d", len(params))
	}

	return binary.LittleEndian.Uint16(params), int(binary.LittleEndian.Uint16(params[2:])), nil
}

func (V2) WriteParams(addr uint16, data []byte) []byte {
	out := binary.LittleEndian.AppendUint16(make([]byte, 0, len(data)+2), addr)
	return append(out, data...)
}

func (V2) ParseWriteParams(params []byte) (uint16, []byte, error) {
	if len(params) < 3 {
		return 0, nil, malformed("write params: want at least 3 bytes, got %d", len(params))
	}

	return binary.LittleEndian.Uint16(params), params[2:], nil
}

func (V2) SyncWriteParams(addr uint16, width int, entries []SyncEntry) []byte {
	out := make([]byte, 0, 4+len(entries)*(width+1))
	out = binary.LittleEndian.AppendUint16(out, addr)
	out = binary.LittleEndian.AppendUint16(out, uint16(width))
	for _, e := range entries {
		out = append(out, e.ID)
		out = append(out, fitWidth(e.Data, width)...)
	}

	return out
}

func (V2) ParseSyncWriteParams(params []byte) (uint16, []SyncEntry, error) {
	if len(params) < 4 {
		return 0, nil, malformed("sync write params: want at least 4 bytes, got %d", len(params))
	}

	addr := binary.LittleEndian.Uint16(params)
	width := int(binary.LittleEndian.Uint16(params[2:]))

	return parseSyncEntries(addr, width, params[4:])
}
