// Package config loads the settings of the dxl tool from YAML.
//
// Precedence, lowest first: built-in defaults, the YAML file, DXL_* environment
// variables, command-line flags (applied by the caller). Validate reports every
// problem at once.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-dxl/dxl"
	"github.com/arloliu/go-dxl/frame"
	"github.com/arloliu/go-dxl/logger"
	"github.com/arloliu/go-dxl/sequencer"
	"github.com/arloliu/go-dxl/serialport"
)

// Config is the root configuration.
type Config struct {
	Bus       BusConfig               `yaml:"bus"`
	Scan      ScanConfig              `yaml:"scan"`
	Sequencer SequencerConfig         `yaml:"sequencer"`
	Logging   LoggingConfig           `yaml:"logging"`
	Metrics   MetricsConfig           `yaml:"metrics"`
	Families  map[string]FamilyConfig `yaml:"families"`
}

// BusConfig selects the serial line and the device family on it.
type BusConfig struct {
	Port       string        `yaml:"port"`
	BaudRate   int           `yaml:"baud_rate"`
	Driver     string        `yaml:"driver"`
	Timeout    time.Duration `yaml:"timeout"`
	CommandGap time.Duration `yaml:"command_gap"`
	Family     string        `yaml:"family"`
}

// ScanConfig is the default scan target.
type ScanConfig struct {
	Ports []string `yaml:"ports"`
	From  int      `yaml:"from"`
	To    int      `yaml:"to"`
}

// SequencerConfig tunes configuration runs.
type SequencerConfig struct {
	DiscoveryAttempts int           `yaml:"discovery_attempts"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	RegisterSettle    time.Duration `yaml:"register_settle"`
	MotionSettle      time.Duration `yaml:"motion_settle"`
	Tolerance         float64       `yaml:"tolerance"`
}

// LoggingConfig selects log level and format ("auto", "json", "console").
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// FamilyConfig declares a device family: which protocol it speaks and how its
// units scale. It is the explicit series-to-protocol table; names are never
// parsed for hints.
type FamilyConfig struct {
	Protocol        int     `yaml:"protocol"`
	FactoryBaudRate int     `yaml:"factory_baud_rate"`
	Resolution      int     `yaml:"resolution"`
	SpeedUnit       float64 `yaml:"speed_unit"`
}

// Load reads path on top of the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	families := make(map[string]FamilyConfig)
	for _, name := range dxl.FamilyNames() {
		f, _ := dxl.LookupFamily(name)
		families[f.Name] = FamilyConfig{
			Protocol:        int(f.Protocol),
			FactoryBaudRate: f.FactoryBaudRate,
			Resolution:      f.Resolution,
			SpeedUnit:       f.SpeedUnit,
		}
	}

	return &Config{
		Bus: BusConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: serialport.DefaultBaudRate,
			Driver:   string(serialport.DriverBugst),
			Timeout:  dxl.DefaultTimeout,
			Family:   dxl.FamilyMX.Name,
		},
		Scan: ScanConfig{
			Ports: []string{"/dev/ttyACM0", "/dev/ttyACM1"},
			From:  dxl.MinID,
			To:    dxl.MaxID,
		},
		Sequencer: SequencerConfig{
			DiscoveryAttempts: sequencer.DefaultDiscoveryAttempts,
			DiscoveryInterval: sequencer.DefaultDiscoveryInterval,
			RegisterSettle:    sequencer.DefaultRegisterSettle,
			MotionSettle:      sequencer.DefaultMotionSettle,
			Tolerance:         sequencer.DefaultTolerance,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logger.FormatAuto.String(),
		},
		Families: families,
	}
}

// applyEnvOverrides applies DXL_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("DXL_PORT", &cfg.Bus.Port)
	num("DXL_BAUD_RATE", &cfg.Bus.BaudRate)
	str("DXL_DRIVER", &cfg.Bus.Driver)
	dur("DXL_TIMEOUT", &cfg.Bus.Timeout)
	str("DXL_FAMILY", &cfg.Bus.Family)
	str("DXL_LOG_LEVEL", &cfg.Logging.Level)
	str("DXL_LOG_FORMAT", &cfg.Logging.Format)
	str("DXL_METRICS_ADDR", &cfg.Metrics.Address)
	if v := os.Getenv("DXL_SCAN_PORTS"); v != "" {
		cfg.Scan.Ports = splitList(v)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(errs...))
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Bus.BaudRate < serialport.MinBaudRate || c.Bus.BaudRate > serialport.MaxBaudRate {
		errs = append(errs, fmt.Sprintf("bus.baud_rate must be between %d and %d", serialport.MinBaudRate, serialport.MaxBaudRate))
	}
	if _, err := serialport.ParseDriver(c.Bus.Driver); err != nil {
		errs = append(errs, fmt.Sprintf("bus.driver %q is not one of bugst, tarm", c.Bus.Driver))
	}
	if c.Bus.Timeout < dxl.MinTimeout || c.Bus.Timeout > dxl.MaxTimeout {
		errs = append(errs, fmt.Sprintf("bus.timeout must be between %v and %v", dxl.MinTimeout, dxl.MaxTimeout))
	}
	if c.Bus.CommandGap < 0 || c.Bus.CommandGap > dxl.MaxCommandGap {
		errs = append(errs, fmt.Sprintf("bus.command_gap must be between 0 and %v", dxl.MaxCommandGap))
	}
	if _, err := c.Family(c.Bus.Family); err != nil {
		errs = append(errs, fmt.Sprintf("bus.family: %v", err))
	}

	if c.Scan.From < dxl.MinID || c.Scan.To > dxl.MaxID || c.Scan.From > c.Scan.To {
		errs = append(errs, fmt.Sprintf("scan range [%d, %d] must lie within [%d, %d]", c.Scan.From, c.Scan.To, dxl.MinID, dxl.MaxID))
	}

	if c.Sequencer.DiscoveryAttempts < 1 || c.Sequencer.DiscoveryAttempts > sequencer.MaxDiscoveryAttempts {
		errs = append(errs, fmt.Sprintf("sequencer.discovery_attempts must be between 1 and %d", sequencer.MaxDiscoveryAttempts))
	}
	delays := []struct {
		name string
		d    time.Duration
	}{
		{"discovery_interval", c.Sequencer.DiscoveryInterval},
		{"register_settle", c.Sequencer.RegisterSettle},
		{"motion_settle", c.Sequencer.MotionSettle},
	}
	for _, delay := range delays {
		if delay.d < 0 || delay.d > sequencer.MaxSettle {
			errs = append(errs, fmt.Sprintf("sequencer.%s must be between 0 and %v", delay.name, sequencer.MaxSettle))
		}
	}
	if c.Sequencer.Tolerance <= 0 {
		errs = append(errs, "sequencer.tolerance must be positive")
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("logging.level: %v", err))
	}
	if _, err := logger.ParseFormat(c.Logging.Format); err != nil {
		errs = append(errs, fmt.Sprintf("logging.format: %v", err))
	}

	for _, name := range sortedFamilyNames(c.Families) {
		if _, err := c.Family(name); err != nil {
			errs = append(errs, fmt.Sprintf("families.%s: %v", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}

	return nil
}

func sortedFamilyNames(m map[string]FamilyConfig) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// Family resolves a family by name, case-insensitively, from the families table.
func (c *Config) Family(name string) (dxl.Family, error) {
	for key, fc := range c.Families {
		if !strings.EqualFold(key, name) {
			continue
		}

		f := dxl.Family{
			Name:            key,
			Protocol:        frame.Version(fc.Protocol),
			FactoryBaudRate: fc.FactoryBaudRate,
			Resolution:      fc.Resolution,
			SpeedUnit:       fc.SpeedUnit,
		}
		if err := f.Validate(); err != nil {
			return dxl.Family{}, err
		}

		return f, nil
	}

	return dxl.Family{}, fmt.Errorf("unknown family %q", name)
}

// PortOptions returns the serial port options of the bus section.
func (c *Config) PortOptions(l logger.Logger) []serialport.Option {
	driver, _ := serialport.ParseDriver(c.Bus.Driver)

	return []serialport.Option{
		serialport.WithBaudRate(c.Bus.BaudRate),
		serialport.WithReadTimeout(c.Bus.Timeout),
		serialport.WithDriver(driver),
		serialport.WithLogger(l),
	}
}

// BusOptions returns the engine options of the bus section.
func (c *Config) BusOptions(l logger.Logger) ([]dxl.BusOption, error) {
	f, err := c.Family(c.Bus.Family)
	if err != nil {
		return nil, err
	}

	return []dxl.BusOption{
		dxl.WithFamily(f),
		dxl.WithTimeout(c.Bus.Timeout),
		dxl.WithCommandGap(c.Bus.CommandGap),
		dxl.WithLogger(l),
	}, nil
}

// SequencerOptions returns the options of the sequencer section.
func (c *Config) SequencerOptions(l logger.Logger) []sequencer.Option {
	return []sequencer.Option{
		sequencer.WithDiscoveryAttempts(c.Sequencer.DiscoveryAttempts),
		sequencer.WithDiscoveryInterval(c.Sequencer.DiscoveryInterval),
		sequencer.WithRegisterSettle(c.Sequencer.RegisterSettle),
		sequencer.WithMotionSettle(c.Sequencer.MotionSettle),
		sequencer.WithDefaultTolerance(c.Sequencer.Tolerance),
		sequencer.WithLogger(l),
	}
}
