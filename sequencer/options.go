package sequencer

import (
	"fmt"
	"time"

	"github.com/arloliu/go-dxl/logger"
)

// Defaults for Sequencer options.
const (
	DefaultDiscoveryAttempts = 10
	DefaultDiscoveryInterval = 500 * time.Millisecond
	DefaultRegisterSettle    = 100 * time.Millisecond
	DefaultMotionSettle      = 2 * time.Second
	DefaultTolerance         = 1.0

	MaxDiscoveryAttempts = 1000
	MaxSettle            = time.Minute
)

type seqConfig struct {
	discoveryAttempts int
	discoveryInterval time.Duration
	registerSettle    time.Duration
	motionSettle      time.Duration
	tolerance         float64
	logger            logger.Logger
}

func defaultSeqConfig() *seqConfig {
	return &seqConfig{
		discoveryAttempts: DefaultDiscoveryAttempts,
		discoveryInterval: DefaultDiscoveryInterval,
		registerSettle:    DefaultRegisterSettle,
		motionSettle:      DefaultMotionSettle,
		tolerance:         DefaultTolerance,
		logger:            logger.GetLogger(),
	}
}

// Option configures a Sequencer.
type Option interface {
	apply(*seqConfig) error
}

type optFunc func(*seqConfig) error

func (f optFunc) apply(cfg *seqConfig) error { return f(cfg) }

// WithDiscoveryAttempts sets how many pings discovery may send.
func WithDiscoveryAttempts(n int) Option {
	return optFunc(func(cfg *seqConfig) error {
		if n < 1 || n > MaxDiscoveryAttempts {
			return fmt.Errorf("sequencer: discovery attempts %d out of range [1, %d]", n, MaxDiscoveryAttempts)
		}
		cfg.discoveryAttempts = n

		return nil
	})
}

// WithDiscoveryInterval sets the pause between two discovery pings.
func WithDiscoveryInterval(d time.Duration) Option {
	return optFunc(func(cfg *seqConfig) error {
		if d < 0 || d > MaxSettle {
			return fmt.Errorf("sequencer: discovery interval %v out of range [0, %v]", d, MaxSettle)
		}
		cfg.discoveryInterval = d

		return nil
	})
}

// WithRegisterSettle sets the default wait before verifying a register write.
func WithRegisterSettle(d time.Duration) Option {
	return optFunc(func(cfg *seqConfig) error {
		if d < 0 || d > MaxSettle {
			return fmt.Errorf("sequencer: register settle %v out of range [0, %v]", d, MaxSettle)
		}
		cfg.registerSettle = d

		return nil
	})
}

// WithMotionSettle sets the default wait before verifying a goal position write,
// long enough for the horn to reach its target.
func WithMotionSettle(d time.Duration) Option {
	return optFunc(func(cfg *seqConfig) error {
		if d < 0 || d > MaxSettle {
			return fmt.Errorf("sequencer: motion settle %v out of range [0, %v]", d, MaxSettle)
		}
		cfg.motionSettle = d

		return nil
	})
}

// WithDefaultTolerance sets the tolerance of continuous registers for steps
// that do not set their own.
func WithDefaultTolerance(tol float64) Option {
	return optFunc(func(cfg *seqConfig) error {
		if tol <= 0 {
			return fmt.Errorf("sequencer: tolerance %v must be positive", tol)
		}
		cfg.tolerance = tol

		return nil
	})
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *seqConfig) error {
		if l != nil {
			cfg.logger = l
		}

		return nil
	})
}
