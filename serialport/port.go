package serialport

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-dxl/logger"
)

var (
	// ErrPortUnavailable wraps every failure to open a port (busy, missing, denied).
	ErrPortUnavailable = errors.New("serialport: port unavailable")
	// ErrTimeout is returned by ReadExact when the deadline passes first.
	ErrTimeout = errors.New("serialport: read timeout")
	// ErrClosed is returned by operations on a closed Port.
	ErrClosed = errors.New("serialport: port closed")
)

// Port is one open serial line.
type Port struct {
	path   string
	cfg    *portConfig
	raw    rawPort
	logger logger.Logger
	closed atomic.Bool

	// timeout currently programmed into raw, to avoid redundant syscalls.
	timeout time.Duration
}

// Open opens the serial device at path.
func Open(path string, opts ...Option) (*Port, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return open(path, cfg, openerFor(cfg.driver))
}

func open(path string, cfg *portConfig, fn opener) (*Port, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrPortUnavailable)
	}

	raw, err := fn(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPortUnavailable, path, err)
	}

	p := &Port{
		path:    path,
		cfg:     cfg,
		raw:     raw,
		logger:  cfg.logger.With("port", path),
		timeout: cfg.readTimeout,
	}
	p.logger.Debug("serial port opened", "baud", cfg.baudRate, "driver", string(cfg.driver))

	return p, nil
}

// Path returns the device path.
func (p *Port) Path() string { return p.path }

// BaudRate returns the line speed the port was opened with.
func (p *Port) BaudRate() int { return p.cfg.baudRate }

// ReadTimeout returns the default read timeout.
func (p *Port) ReadTimeout() time.Duration { return p.cfg.readTimeout }

// Write writes all of data.
func (p *Port) Write(data []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}

	for written := 0; written < len(data); {
		n, err := p.raw.Write(data[written:])
		written += n
		if err != nil {
			return fmt.Errorf("serialport: write: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("serialport: write: zero-length write after %d of %d bytes", written, len(data))
		}
	}
	p.logger.Debug("tx", "data", fmt.Sprintf("% X", data))

	return nil
}

// ReadExact reads exactly n bytes, or fails with ErrTimeout once deadline passes.
// The bytes received before the deadline are returned alongside ErrTimeout.
func (p *Port) ReadExact(n int, deadline time.Time) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	buf := make([]byte, n)
	got := 0
	for got < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return buf[:got], fmt.Errorf("%w: got %d of %d bytes", ErrTimeout, got, n)
		}
		if err := p.setTimeout(remaining); err != nil {
			return buf[:got], err
		}

		m, err := p.raw.Read(buf[got:])
		got += m
		if err != nil {
			return buf[:got], fmt.Errorf("serialport: read: %w", err)
		}
	}
	p.logger.Debug("rx", "data", fmt.Sprintf("% X", buf))

	return buf, nil
}

func (p *Port) setTimeout(d time.Duration) error {
	d = max(d.Truncate(time.Millisecond), MinReadTimeout)
	if d == p.timeout {
		return nil
	}
	if err := p.raw.SetReadTimeout(d); err != nil {
		return fmt.Errorf("serialport: set read timeout: %w", err)
	}
	p.timeout = d

	return nil
}

// Flush discards any unread input.
func (p *Port) Flush() error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.raw.ResetInputBuffer(); err != nil {
		return fmt.Errorf("serialport: flush: %w", err)
	}

	return nil
}

// Close releases the device. Calling Close more than once is safe.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.logger.Debug("serial port closed")

	if err := p.raw.Close(); err != nil {
		return fmt.Errorf("serialport: close: %w", err)
	}

	return nil
}
