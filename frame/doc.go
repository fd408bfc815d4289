// Package frame implements the wire format of the Dynamixel serial bus.
//
// Two protocol families share the bus hardware but not the framing:
//
//   - Protocol 1: 0xFF 0xFF <id> <len> <instruction|error> <params...> <checksum>,
//     where the checksum is the one's complement of the sum of every byte after
//     the two marker bytes, truncated to 8 bits.
//   - Protocol 2: 0xFF 0xFF 0xFD 0x00 <id> <len_l> <len_h> <instruction> [error]
//     <params...> <crc_l> <crc_h>, protected by CRC-16 (polynomial 0x8005) and
//     byte-stuffed so that the marker never appears inside a payload.
//
// Encoders always compute the integrity field themselves, so an instruction with
// an invalid checksum can never be produced. Decoders report problems as
// ErrChecksum or ErrMalformedFrame, both of which wrap ErrInvalidFrame; they never
// panic on arbitrary input.
package frame
