package frame

import "github.com/arloliu/go-dxl/internal/util"

// V1 is the protocol 1 codec.
//
// Layout: 0xFF 0xFF <id> <len> <op|err> <params...> <checksum>, len = len(params)+2.
type V1 struct{}

var v1Marker = []byte{0xFF, 0xFF}

const (
	v1HeaderLen = 4
	v1MinLen    = 6
	// v1MaxParams keeps the length byte in range.
	v1MaxParams = 0xFF - 2
)

var _ Codec = V1{}

func (V1) Version() Version { return Protocol1 }

func (V1) Marker() []byte { return v1Marker }

func (V1) HeaderLen() int { return v1HeaderLen }

func (V1) MaxParams() int { return v1MaxParams }

func (V1) BodyLen(header []byte) (int, error) {
	if len(header) < v1HeaderLen {
		return 0, malformed("header too short: %d bytes", len(header))
	}
	if header[0] != 0xFF || header[1] != 0xFF {
		return 0, malformed("bad marker % X", header[:2])
	}
	// 0xFF is never an id; FF FF FF means the marker starts one byte later.
	if header[2] == 0xFF {
		return 0, malformed("id 0xFF")
	}
	if header[3] < 2 {
		return 0, malformed("length %d below minimum", header[3])
	}

	return int(header[3]), nil
}

// Checksum1 returns the protocol 1 checksum of b, which must hold every byte
// after the marker and before the checksum itself.
func Checksum1(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}

	return ^sum
}

func (V1) EncodeInstruction(id byte, op Opcode, params []byte) []byte {
	return encodeV1(id, byte(op), params)
}

func (V1) EncodeStatus(id byte, errByte byte, params []byte) []byte {
	return encodeV1(id, errByte, params)
}

func encodeV1(id byte, code byte, params []byte) []byte {
	buf := make([]byte, 0, len(params)+v1MinLen)
	buf = append(buf, 0xFF, 0xFF, id, byte(len(params)+2), code)
	buf = append(buf, params...)
	buf = append(buf, Checksum1(buf[2:]))

	return buf
}

func (V1) DecodeInstruction(data []byte) (Instruction, error) {
	id, code, params, err := decodeV1(data)
	if err != nil {
		return Instruction{}, err
	}

	return Instruction{ID: id, Opcode: Opcode(code), Params: params}, nil
}

func (V1) DecodeStatus(data []byte) (Status, error) {
	id, code, params, err := decodeV1(data)
	if err != nil {
		return Status{}, err
	}

	return Status{ID: id, Error: code, Params: params}, nil
}

func decodeV1(data []byte) (id byte, code byte, params []byte, err error) {
	if len(data) < v1MinLen {
		return 0, 0, nil, malformed("frame too short: %d bytes", len(data))
	}
	if data[0] != 0xFF || data[1] != 0xFF {
		return 0, 0, nil, malformed("bad marker % X", data[:2])
	}
	if int(data[3]) != len(data)-v1HeaderLen {
		return 0, 0, nil, malformed("declared length %d, received %d", data[3], len(data)-v1HeaderLen)
	}

	last := len(data) - 1
	if want := Checksum1(data[2:last]); data[last] != want {
		return 0, 0, nil, checksumError(uint16(data[last]), uint16(want))
	}

	return data[2], data[4], util.CloneSlice(data[5:last], 0), nil
}

func (V1) ReadParams(addr uint16, width int) []byte {
	return []byte{byte(addr), byte(width)}
}

func (V1) ParseReadParams(params []byte) (uint16, int, error) {
	if len(params) != 2 {
		return 0, 0, malformed("read params: want 2 bytes, got %d", len(params))
	}

	return uint16(params[0]), int(params[1]), nil
}

func (V1) WriteParams(addr uint16, data []byte) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, byte(addr))

	return append(out, data...)
}

func (V1) ParseWriteParams(params []byte) (uint16, []byte, error) {
	if len(params) < 2 {
		return 0, nil, malformed("write params: want at least 2 bytes, got %d", len(params))
	}

	return uint16(params[0]), params[1:], nil
}

func (V1) SyncWriteParams(addr uint16, width int, entries []SyncEntry) []byte {
	out := make([]byte, 0, 2+len(entries)*(width+1))
	out = append(out, byte(addr), byte(width))
	for _, e := range entries {
		out = append(out, e.ID)
		out = append(out, fitWidth(e.Data, width)...)
	}

	return out
}

func (V1) ParseSyncWriteParams(params []byte) (uint16, []SyncEntry, error) {
	if len(params) < 2 {
		return 0, nil, malformed("sync write params: want at least 2 bytes, got %d", len(params))
	}

	return parseSyncEntries(uint16(params[0]), int(params[1]), params[2:])
}
