package dxl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-dxl/frame"
	"github.com/arloliu/go-dxl/internal/pool"
	"github.com/arloliu/go-dxl/internal/util"
	"github.com/arloliu/go-dxl/logger"
)

// Device id bounds.
const (
	MinID       = 1
	MaxID       = 253
	BroadcastID = int(frame.BroadcastID)
)

// Channel is the byte transport a Bus exchanges frames over.
// *serialport.Port implements it.
type Channel interface {
	// Write writes the whole frame.
	Write(data []byte) error
	// ReadExact reads exactly n bytes or fails once deadline passes.
	ReadExact(n int, deadline time.Time) ([]byte, error)
	// Flush discards unread input.
	Flush() error
}

// Found is one device discovered by Scan.
type Found struct {
	ID          int
	ModelNumber uint16
	Model       string
}

// Bus is the request/response engine for one Channel.
type Bus struct {
	ch      Channel
	cfg     *busConfig
	codec   frame.Codec
	regs    RegisterMap
	logger  logger.Logger
	metrics *BusMetrics
	closed  atomic.Bool

	// mu serialises exchanges: the line carries one instruction at a time.
	mu       sync.Mutex
	lastDone time.Time
}

// NewBus creates a Bus over ch. The register map and protocol are fixed for the
// lifetime of the Bus by the declared family.
func NewBus(ch Channel, opts ...BusOption) (*Bus, error) {
	if ch == nil {
		return nil, errors.New("dxl: nil channel")
	}

	cfg := defaultBusConfig()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	codec, err := frame.New(cfg.family.Protocol)
	if err != nil {
		return nil, err
	}

	return &Bus{
		ch:      ch,
		cfg:     cfg,
		codec:   codec,
		regs:    RegisterMapFor(cfg.family.Protocol),
		logger:  cfg.logger.With("family", cfg.family.Name, "protocol", cfg.family.Protocol.String()),
		metrics: newBusMetrics(),
	}, nil
}

// Family returns the declared device family.
func (b *Bus) Family() Family { return b.cfg.family }

// Registers returns the session's register map.
func (b *Bus) Registers() RegisterMap { return b.regs }

// Timeout returns the per-exchange reply timeout.
func (b *Bus) Timeout() time.Duration { return b.cfg.timeout }

// Metrics returns the bus counters.
func (b *Bus) Metrics() *BusMetrics { return b.metrics }

// Close marks the bus closed. The Channel is left open; its owner closes it.
func (b *Bus) Close() error {
	b.closed.Store(true)
	return nil
}

func validUnicast(id int) bool { return id >= MinID && id <= MaxID }

func checkUnicast(id int) error {
	if !validUnicast(id) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidID, id, MinID, MaxID)
	}

	return nil
}

// Ping reports whether a device answers at id. Missing and corrupt replies mean
// absent; an error is returned only for an invalid id, a closed bus, a cancelled
// context or a channel write failure.
func (b *Bus) Ping(ctx context.Context, id int) (bool, error) {
	if err := checkUnicast(id); err != nil {
		return false, err
	}

	st, err := b.exchange(ctx, id, frame.OpPing, nil)
	if errors.Is(err, ErrTimeout) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if st.Error != 0 {
		b.logger.Debug("ping reply carries device error", "id", id, "error", st.Error)
	}

	return true, nil
}

// Scan pings every id in [from, to] once, in ascending order, and reads the model
// number of each device that answers. A device whose model read fails is logged
// and left out. On context cancellation the devices found so far are returned
// with the context error.
func (b *Bus) Scan(ctx context.Context, from, to int) ([]Found, error) {
	if !validUnicast(from) || !validUnicast(to) || from > to {
		return nil, fmt.Errorf("%w: scan range [%d, %d]", ErrInvalidID, from, to)
	}

	info, err := b.regs.Lookup(ModelNumber)
	if err != nil {
		return nil, err
	}

	var found []Found
	for id := from; id <= to; id++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		ok, err := b.Ping(ctx, id)
		if err != nil {
			return found, err
		}
		if !ok {
			continue
		}

		raw, err := b.ReadRaw(ctx, id, info.Address, info.Width)
		if err != nil {
			if errors.Is(err, ErrBusClosed) || ctx.Err() != nil {
				return found, err
			}
			b.logger.Warn("device answered ping but model read failed", "id", id, "error", err)

			continue
		}

		model := uint16(getUint(raw))
		found = append(found, Found{ID: id, ModelNumber: model, Model: ModelName(model)})
		b.logger.Info("device found", "id", id, "model", ModelName(model))
	}

	return found, nil
}

// Read reads reg from device id and decodes it into engineering units.
func (b *Bus) Read(ctx context.Context, id int, reg Register) (float64, error) {
	info, err := b.regs.Lookup(reg)
	if err != nil {
		return 0, err
	}

	raw, err := b.ReadRaw(ctx, id, info.Address, info.Width)
	if err != nil {
		return 0, fmt.Errorf("dxl: read %s from %d: %w", reg, id, err)
	}

	return DecodeValue(b.cfg.family, info, raw)
}

// ReadRaw reads width bytes at addr from device id.
func (b *Bus) ReadRaw(ctx context.Context, id int, addr uint16, width int) ([]byte, error) {
	if err := checkUnicast(id); err != nil {
		return nil, err
	}
	if width < 1 || width > 4 {
		return nil, fmt.Errorf("dxl: read width %d out of range [1, 4]", width)
	}

	st, err := b.exchange(ctx, id, frame.OpRead, b.codec.ReadParams(addr, width))
	if err != nil {
		return nil, err
	}
	if err := b.checkStatus(id, st); err != nil {
		return nil, err
	}
	if len(st.Params) != width {
		b.metrics.incDecodeErrors()
		return nil, fmt.Errorf("%w: %w: want %d data bytes, got %d",
			ErrTimeout, frame.ErrMalformedFrame, width, len(st.Params))
	}

	return st.Params, nil
}

// Write encodes value for reg and writes it to device id. A unicast write waits
// for the acknowledgement; a write to BroadcastID returns once transmitted.
func (b *Bus) Write(ctx context.Context, id int, reg Register, value float64) error {
	info, err := b.regs.Lookup(reg)
	if err != nil {
		return err
	}

	data, err := EncodeValue(b.cfg.family, info, value)
	if err != nil {
		return fmt.Errorf("dxl: write %s: %w", reg, err)
	}

	if err := b.WriteRaw(ctx, id, info.Address, data); err != nil {
		return fmt.Errorf("dxl: write %s to %d: %w", reg, id, err)
	}

	return nil
}

// WriteRaw writes data at addr on device id (or BroadcastID).
func (b *Bus) WriteRaw(ctx context.Context, id int, addr uint16, data []byte) error {
	if id != BroadcastID {
		if err := checkUnicast(id); err != nil {
			return err
		}
	}
	if len(data) == 0 {
		return errors.New("dxl: empty write")
	}

	st, err := b.exchange(ctx, id, frame.OpWrite, b.codec.WriteParams(addr, data))
	if err != nil {
		return err
	}
	if id == BroadcastID {
		return nil
	}

	return b.checkStatus(id, st)
}

// SyncWrite writes reg on several devices with broadcast SYNC_WRITE frames,
// one frame unless the entries exceed the frame limit. Devices are encoded in
// ascending id order. No reply is awaited.
func (b *Bus) SyncWrite(ctx context.Context, reg Register, values map[int]float64) error {
	if len(values) == 0 {
		return nil
	}

	info, err := b.regs.Lookup(reg)
	if err != nil {
		return err
	}

	entries := make([]frame.SyncEntry, 0, len(values))
	for _, id := range util.SortedKeys(values) {
		if err := checkUnicast(id); err != nil {
			return err
		}
		data, err := EncodeValue(b.cfg.family, info, values[id])
		if err != nil {
			return fmt.Errorf("dxl: sync write %s to %d: %w", reg, id, err)
		}
		entries = append(entries, frame.SyncEntry{ID: byte(id), Data: data})
	}

	// Split into as many frames as the codec's parameter limit requires.
	overhead := len(b.codec.SyncWriteParams(info.Address, info.Width, nil))
	perFrame := (b.codec.MaxParams() - overhead) / (1 + info.Width)
	for len(entries) > 0 {
		n := min(perFrame, len(entries))
		params := b.codec.SyncWriteParams(info.Address, info.Width, entries[:n])
		if _, err := b.exchange(ctx, BroadcastID, frame.OpSyncWrite, params); err != nil {
			return err
		}
		entries = entries[n:]
	}

	return nil
}

// ChangeBaudrate broadcasts the baud rate register so every device switches to
// newBaud. The Channel keeps its old rate; the caller must reopen it.
func (b *Bus) ChangeBaudrate(ctx context.Context, newBaud int) error {
	info, err := b.regs.Lookup(BaudRate)
	if err != nil {
		return err
	}

	code, err := b.cfg.family.BaudCode(newBaud)
	if err != nil {
		return err
	}

	if err := b.WriteRaw(ctx, BroadcastID, info.Address, []byte{code}); err != nil {
		return fmt.Errorf("dxl: change baud rate: %w", err)
	}
	b.logger.Info("baud rate change broadcast", "baud", newBaud, "code", code)

	return nil
}

func (b *Bus) checkStatus(id int, st frame.Status) error {
	if st.Error == 0 {
		return nil
	}
	b.metrics.incDeviceErrors(id)

	return &DeviceError{ID: id, Code: st.Error, Protocol: b.cfg.family.Protocol}
}

// exchange sends one instruction and, for unicast ids, waits for its status frame.
// Receive failures of any kind are returned wrapped in ErrTimeout.
func (b *Bus) exchange(ctx context.Context, id int, op frame.Opcode, params []byte) (frame.Status, error) {
	if limit := b.codec.MaxParams(); len(params) > limit {
		return frame.Status{}, fmt.Errorf("%w: %s to %d: %d parameter bytes exceed the %d-byte frame limit",
			ErrValueOutOfRange, op, id, len(params), limit)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return frame.Status{}, ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return frame.Status{}, err
	}

	if gap := b.cfg.commandGap - time.Since(b.lastDone); b.cfg.commandGap > 0 && gap > 0 {
		if err := pool.Sleep(ctx, gap); err != nil {
			return frame.Status{}, err
		}
	}
	defer func() { b.lastDone = time.Now() }()

	// Stale bytes, such as replies to an earlier broadcast, must not be taken
	// for this exchange's status.
	if err := b.ch.Flush(); err != nil {
		return frame.Status{}, fmt.Errorf("dxl: flush channel: %w", err)
	}

	data := b.codec.EncodeInstruction(byte(id), op, params)
	if err := b.ch.Write(data); err != nil {
		return frame.Status{}, fmt.Errorf("dxl: send %s to %d: %w", op, id, err)
	}
	b.metrics.incFramesSent()

	if id == BroadcastID {
		return frame.Status{}, nil
	}
	b.metrics.incExchange(id)

	deadline := time.Now().Add(b.cfg.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	st, err := b.receive(byte(id), deadline)
	if err != nil {
		if errors.Is(err, frame.ErrInvalidFrame) {
			b.metrics.incDecodeErrors()
			b.logger.Warn("discarding invalid status frame", "id", id, "op", op.String(), "error", err)
		}
		b.metrics.incTimeouts(id)

		return frame.Status{}, fmt.Errorf("%w: %s to %d: %w", ErrTimeout, op, id, err)
	}
	b.metrics.incFramesRecv(id)

	return st, nil
}

// receive reads status frames until one from id arrives or deadline passes.
// Frames from other ids are skipped. A header or frame that fails to decode
// costs one byte: scanning resumes right after its first marker byte, so
// line noise cannot hide a valid reply that follows it.
func (b *Bus) receive(id byte, deadline time.Time) (frame.Status, error) {
	marker := b.codec.Marker()
	headerLen := b.codec.HeaderLen()

	var (
		buf       []byte
		discarded error
	)
	fill := func(n int) error {
		if len(buf) >= n {
			return nil
		}
		more, err := b.ch.ReadExact(n-len(buf), deadline)
		buf = append(buf, more...)
		if err != nil && discarded != nil {
			return fmt.Errorf("%w (discarded: %w)", err, discarded)
		}

		return err
	}

	for {
		if err := fill(headerLen); err != nil {
			return frame.Status{}, err
		}
		if !bytes.HasPrefix(buf, marker) {
			buf = buf[1:]
			continue
		}

		n, err := b.codec.BodyLen(buf[:headerLen])
		if err != nil {
			discarded = err
			buf = buf[1:]
			continue
		}
		if err := fill(headerLen + n); err != nil {
			return frame.Status{}, err
		}

		st, err := b.codec.DecodeStatus(buf[:headerLen+n])
		if err != nil {
			b.logger.Debug("resynchronising after invalid status frame", "want", id, "error", err)
			discarded = err
			buf = buf[1:]
			continue
		}
		buf = buf[headerLen+n:]

		if st.ID != id {
			b.logger.Debug("skipping status from another device", "want", id, "got", st.ID)
			continue
		}

		return st, nil
	}
}
