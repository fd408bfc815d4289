package serialport

import (
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-dxl/logger"
)

// Driver selects the serial library used to talk to the OS.
type Driver string

const (
	// DriverBugst uses go.bug.st/serial.
	DriverBugst Driver = "bugst"
	// DriverTarm uses github.com/tarm/serial.
	DriverTarm Driver = "tarm"
)

// ParseDriver converts a driver name into a Driver. An empty name selects DriverBugst.
func ParseDriver(name string) (Driver, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(name))) {
	case "", DriverBugst:
		return DriverBugst, nil
	case DriverTarm:
		return DriverTarm, nil
	default:
		return "", fmt.Errorf("serialport: unknown driver %q", name)
	}
}

// Defaults and accepted ranges for Open options.
const (
	DefaultBaudRate    = 1_000_000
	DefaultReadTimeout = 50 * time.Millisecond

	MinBaudRate    = 9600
	MaxBaudRate    = 4_500_000
	MinReadTimeout = 1 * time.Millisecond
	MaxReadTimeout = 10 * time.Second

	// tarmPollTimeout is the fixed read timeout of the tarm driver; tarm rounds
	// timeouts to tenths of a second on POSIX.
	tarmPollTimeout = 100 * time.Millisecond
)

type portConfig struct {
	baudRate    int
	readTimeout time.Duration
	driver      Driver
	logger      logger.Logger
}

func defaultConfig() *portConfig {
	return &portConfig{
		baudRate:    DefaultBaudRate,
		readTimeout: DefaultReadTimeout,
		driver:      DriverBugst,
		logger:      logger.GetLogger(),
	}
}

// Option configures Open.
type Option interface {
	apply(*portConfig) error
}

type optFunc func(*portConfig) error

func (f optFunc) apply(cfg *portConfig) error { return f(cfg) }

// WithBaudRate sets the line speed in bits per second.
func WithBaudRate(baud int) Option {
	return optFunc(func(cfg *portConfig) error {
		if baud < MinBaudRate || baud > MaxBaudRate {
			return fmt.Errorf("serialport: baud rate %d out of range [%d, %d]", baud, MinBaudRate, MaxBaudRate)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithReadTimeout sets the default line-level read timeout. ReadExact deadlines
// override it per call.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *portConfig) error {
		if d < MinReadTimeout || d > MaxReadTimeout {
			return fmt.Errorf("serialport: read timeout %v out of range [%v, %v]", d, MinReadTimeout, MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithDriver selects the serial driver.
func WithDriver(d Driver) Option {
	return optFunc(func(cfg *portConfig) error {
		if _, err := ParseDriver(string(d)); err != nil {
			return err
		}
		cfg.driver = d

		return nil
	})
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *portConfig) error {
		if l != nil {
			cfg.logger = l
		}

		return nil
	})
}
