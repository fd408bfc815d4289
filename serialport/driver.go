package serialport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
)

// rawPort is the subset of a serial library the Port needs.
type rawPort interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
	ResetInputBuffer() error
}

// opener opens a raw port; replaced in tests.
type opener func(path string, cfg *portConfig) (rawPort, error)

func openerFor(d Driver) opener {
	if d == DriverTarm {
		return openTarm
	}

	return openBugst
}

func openBugst(path string, cfg *portConfig) (rawPort, error) {
	mode := &serial.Mode{
		BaudRate: cfg.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, describeBugstErr(err)
	}

	if err := p.SetReadTimeout(cfg.readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return p, nil
}

func describeBugstErr(err error) error {
	var perr *serial.PortError
	if !errors.As(err, &perr) {
		return err
	}

	switch perr.Code() {
	case serial.PortBusy:
		return fmt.Errorf("port busy: %w", err)
	case serial.PortNotFound:
		return fmt.Errorf("port not found: %w", err)
	case serial.PermissionDenied:
		return fmt.Errorf("permission denied: %w", err)
	default:
		return err
	}
}

// tarmPort adapts *tarm.Port. tarm fixes the read timeout at open time, so
// SetReadTimeout is a no-op and ReadExact loops until its own deadline.
// tarm takes no exclusive hold on the device, so lock keeps one.
type tarmPort struct {
	*tarm.Port
	lock *os.File
}

func openTarm(path string, cfg *portConfig) (rawPort, error) {
	lock, err := lockPath(path)
	if err != nil {
		return nil, err
	}

	p, err := tarm.OpenPort(&tarm.Config{
		Name:        path,
		Baud:        cfg.baudRate,
		ReadTimeout: tarmPollTimeout,
		Size:        8,
		Parity:      tarm.ParityNone,
		StopBits:    tarm.Stop1,
	})
	if err != nil {
		if lock != nil {
			_ = lock.Close()
		}
		return nil, err
	}

	return tarmPort{Port: p, lock: lock}, nil
}

func (p tarmPort) Close() error {
	err := p.Port.Close()
	if p.lock != nil {
		err = errors.Join(err, p.lock.Close())
	}

	return err
}

func (p tarmPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	// tarm reports an expired poll as io.EOF.
	if errors.Is(err, io.EOF) {
		return n, nil
	}

	return n, err
}

func (tarmPort) SetReadTimeout(time.Duration) error { return nil }

func (p tarmPort) ResetInputBuffer() error { return p.Port.Flush() }

// List returns the names of the serial ports present on the system.
func List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: list ports: %w", err)
	}

	return ports, nil
}
