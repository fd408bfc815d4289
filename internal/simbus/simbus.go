// Package simbus is an in-memory servo bus. A Sim implements the byte channel the
// bus engine talks to: instruction frames written to it are decoded, applied to
// the simulated devices' control tables, and their status frames are queued for
// the next read.
//
// Reads never block. A read asking for more bytes than are queued consumes what
// is there and fails with serialport.ErrTimeout at once, which is how a silent
// device looks to the engine without slowing tests down.
package simbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-dxl/frame"
	"github.com/arloliu/go-dxl/internal/util"
	"github.com/arloliu/go-dxl/logger"
	"github.com/arloliu/go-dxl/serialport"
)

// memSize covers the control tables of both protocol families.
const memSize = 256

// Sim is a simulated bus. It is safe for concurrent use.
type Sim struct {
	mu       sync.Mutex
	codec    frame.Codec
	devices  map[byte]*Device
	rx       []byte
	spurious bool
	logger   logger.Logger
	sent     int
}

// Option configures a Sim.
type Option func(*Sim)

// WithSpuriousReplies makes every device answer broadcast instructions too, as
// misconfigured or misbehaving devices do.
func WithSpuriousReplies() Option {
	return func(s *Sim) { s.spurious = true }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sim) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns an empty bus speaking protocol v.
func New(v frame.Version, opts ...Option) (*Sim, error) {
	codec, err := frame.New(v)
	if err != nil {
		return nil, err
	}

	s := &Sim{
		codec:   codec,
		devices: make(map[byte]*Device),
		logger:  logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Device is one simulated actuator.
type Device struct {
	id        byte
	mem       [memSize]byte
	pingAfter int
	pings     int
	silent    bool
	errByte   byte
	corrupt   int
	mirrors   []mirror
	writes    int
}

type mirror struct {
	dst, src uint16
	width    int
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithPingAfter makes the device ignore its first n-1 pings.
func WithPingAfter(n int) DeviceOption {
	return func(d *Device) { d.pingAfter = n }
}

// Silent makes the device never reply. Writes are still applied.
func Silent() DeviceOption {
	return func(d *Device) { d.silent = true }
}

// WithErrorByte sets the error byte of every status frame.
func WithErrorByte(b byte) DeviceOption {
	return func(d *Device) { d.errByte = b }
}

// WithCorruptReplies corrupts the checksum of the next n replies.
func WithCorruptReplies(n int) DeviceOption {
	return func(d *Device) { d.corrupt = n }
}

// WithRegister presets the control table at addr.
func WithRegister(addr uint16, data ...byte) DeviceOption {
	return func(d *Device) { copy(d.mem[addr:], data) }
}

// WithMirror copies width bytes from src to dst after every write touching src,
// e.g. a present position that follows the goal position instantly.
func WithMirror(dst, src uint16, width int) DeviceOption {
	return func(d *Device) { d.mirrors = append(d.mirrors, mirror{dst: dst, src: src, width: width}) }
}

// AddDevice attaches a device with the given id and model number at address 0.
func (s *Sim) AddDevice(id int, model uint16, opts ...DeviceOption) *Device {
	d := &Device{id: byte(id)}
	d.mem[0] = byte(model)
	d.mem[1] = byte(model >> 8)
	for _, opt := range opts {
		opt(d)
	}

	s.mu.Lock()
	s.devices[d.id] = d
	s.mu.Unlock()

	return d
}

// Memory returns a copy of width bytes of device id's control table at addr.
func (s *Sim) Memory(id int, addr uint16, width int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[byte(id)]
	if !ok {
		return nil
	}

	return util.CloneSlice(d.mem[addr:int(addr)+width], 0)
}

// Pings returns how many pings device id has received.
func (s *Sim) Pings(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.devices[byte(id)]; ok {
		return d.pings
	}

	return 0
}

// Writes returns how many writes device id has applied, broadcast ones included.
func (s *Sim) Writes(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.devices[byte(id)]; ok {
		return d.writes
	}

	return 0
}

// Sent returns how many instruction frames the bus has received.
func (s *Sim) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sent
}

// Pending returns how many reply bytes are queued and unread.
func (s *Sim) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.rx)
}

// Write accepts one instruction frame.
func (s *Sim) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent++
	inst, err := s.codec.DecodeInstruction(data)
	if err != nil {
		s.logger.Debug("simbus: dropping invalid instruction", "error", err)
		return nil
	}

	if inst.ID == frame.BroadcastID {
		s.broadcast(inst)
		return nil
	}

	d, ok := s.devices[inst.ID]
	if !ok {
		return nil
	}
	if reply, ok := s.handle(d, inst); ok {
		s.reply(d, reply)
	}

	return nil
}

func (s *Sim) broadcast(inst frame.Instruction) {
	switch inst.Opcode {
	case frame.OpSyncWrite:
		addr, entries, err := s.codec.ParseSyncWriteParams(inst.Params)
		if err != nil {
			return
		}
		for _, e := range entries {
			if d, ok := s.devices[e.ID]; ok {
				d.write(addr, e.Data)
			}
		}
	case frame.OpWrite:
		addr, data, err := s.codec.ParseWriteParams(inst.Params)
		if err != nil {
			return
		}
		for _, d := range s.devices {
			d.write(addr, data)
		}
	}

	if s.spurious {
		for _, id := range util.SortedKeys(s.devices) {
			s.reply(s.devices[id], nil)
		}
	}
}

// handle applies inst to d and returns the status parameters, if d replies.
func (s *Sim) handle(d *Device, inst frame.Instruction) ([]byte, bool) {
	switch inst.Opcode {
	case frame.OpPing:
		d.pings++
		if d.pings < d.pingAfter {
			return nil, false
		}
		if s.codec.Version() == frame.Protocol2 {
			return []byte{d.mem[0], d.mem[1], d.mem[6]}, true
		}

		return nil, true
	case frame.OpRead:
		addr, width, err := s.codec.ParseReadParams(inst.Params)
		if err != nil || int(addr)+width > memSize {
			return nil, false
		}

		return util.CloneSlice(d.mem[addr:int(addr)+width], 0), true
	case frame.OpWrite:
		addr, data, err := s.codec.ParseWriteParams(inst.Params)
		if err != nil {
			return nil, false
		}
		d.write(addr, data)

		return nil, true
	default:
		return nil, false
	}
}

func (d *Device) write(addr uint16, data []byte) {
	if int(addr)+len(data) > memSize {
		return
	}
	copy(d.mem[addr:], data)
	d.writes++

	end := int(addr) + len(data)
	for _, m := range d.mirrors {
		if int(m.src) < end && int(m.src)+m.width > int(addr) {
			copy(d.mem[m.dst:int(m.dst)+m.width], d.mem[m.src:int(m.src)+m.width])
		}
	}
}

func (s *Sim) reply(d *Device, params []byte) {
	if d.silent {
		return
	}

	status := s.codec.EncodeStatus(d.id, d.errByte, params)
	if d.corrupt > 0 {
		d.corrupt--
		status[len(status)-1] ^= 0x01
	}
	s.rx = append(s.rx, status...)
}

// ReadExact pops n queued bytes. With fewer queued it drains them and fails.
func (s *Sim) ReadExact(n int, _ time.Time) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rx) < n {
		got := s.rx
		s.rx = nil

		return got, fmt.Errorf("%w: got %d of %d bytes", serialport.ErrTimeout, len(got), n)
	}

	out := util.CloneSlice(s.rx[:n], 0)
	s.rx = s.rx[n:]

	return out, nil
}

// Flush drops queued replies.
func (s *Sim) Flush() error {
	s.mu.Lock()
	s.rx = nil
	s.mu.Unlock()

	return nil
}

// Close is a no-op so a Sim can stand in for a serial port.
func (s *Sim) Close() error { return nil }
