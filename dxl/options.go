package dxl

import (
	"fmt"
	"time"

	"github.com/arloliu/go-dxl/logger"
)

// Defaults and accepted ranges for Bus options.
const (
	DefaultTimeout    = 50 * time.Millisecond
	DefaultCommandGap = 0

	MinTimeout    = 1 * time.Millisecond
	MaxTimeout    = 5 * time.Second
	MaxCommandGap = 100 * time.Millisecond
)

type busConfig struct {
	family     Family
	timeout    time.Duration
	commandGap time.Duration
	logger     logger.Logger
}

func defaultBusConfig() *busConfig {
	return &busConfig{
		family:     FamilyMX,
		timeout:    DefaultTimeout,
		commandGap: DefaultCommandGap,
		logger:     logger.GetLogger(),
	}
}

// BusOption configures NewBus.
type BusOption interface {
	apply(*busConfig) error
}

type busOptFunc func(*busConfig) error

func (f busOptFunc) apply(cfg *busConfig) error { return f(cfg) }

// WithFamily declares the device family on the bus, which selects the protocol
// and register map for the whole session. Defaults to FamilyMX.
func WithFamily(f Family) BusOption {
	return busOptFunc(func(cfg *busConfig) error {
		if err := f.Validate(); err != nil {
			return err
		}
		cfg.family = f

		return nil
	})
}

// WithTimeout sets how long an exchange waits for its status frame.
func WithTimeout(d time.Duration) BusOption {
	return busOptFunc(func(cfg *busConfig) error {
		if d < MinTimeout || d > MaxTimeout {
			return fmt.Errorf("dxl: timeout %v out of range [%v, %v]", d, MinTimeout, MaxTimeout)
		}
		cfg.timeout = d

		return nil
	})
}

// WithCommandGap sets the minimum idle time between two exchanges, for devices
// with a long return delay or slow adapters.
func WithCommandGap(d time.Duration) BusOption {
	return busOptFunc(func(cfg *busConfig) error {
		if d < 0 || d > MaxCommandGap {
			return fmt.Errorf("dxl: command gap %v out of range [0, %v]", d, MaxCommandGap)
		}
		cfg.commandGap = d

		return nil
	})
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l logger.Logger) BusOption {
	return busOptFunc(func(cfg *busConfig) error {
		if l != nil {
			cfg.logger = l
		}

		return nil
	})
}
