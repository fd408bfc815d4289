package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-dxl/config"
	"github.com/arloliu/go-dxl/dxl"
	"github.com/arloliu/go-dxl/internal/simbus"
	"github.com/arloliu/go-dxl/logger"
	"github.com/arloliu/go-dxl/metrics"
	"github.com/arloliu/go-dxl/serialport"
)

// app holds the global flags and the state shared by all subcommands.
type app struct {
	out io.Writer

	configPath  string
	port        string
	baud        int
	family      string
	timeout     time.Duration
	driver      string
	debug       bool
	metricsAddr string
	simulate    bool

	cfg        *config.Config
	log        logger.Logger
	collector  *metrics.Collector
	metricsSrv *http.Server
}

func run(ctx context.Context, args []string, out io.Writer) error {
	a := &app{out: out}
	defer a.shutdown()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)

	return root.ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "dxl",
		Short:             "Dynamixel servo bus tool.",
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVarP(&a.port, "port", "p", "", "Serial device path")
	pf.IntVarP(&a.baud, "baud", "b", 0, "Baud rate")
	pf.StringVarP(&a.family, "family", "f", "", "Device family (AX, MX, X or a configured one)")
	pf.DurationVar(&a.timeout, "timeout", 0, "Status frame timeout")
	pf.StringVar(&a.driver, "driver", "", "Serial driver (bugst, tarm)")
	pf.BoolVarP(&a.debug, "debug", "d", false, "Debug logging")
	pf.StringVarP(&a.metricsAddr, "metrics-addr", "m", "", "Prometheus metrics address")
	pf.BoolVar(&a.simulate, "simulate", false, "Use an in-memory bus with demo devices 3 and 7")

	root.AddCommand(
		a.scanCmd(),
		a.readCmd(),
		a.writeCmd(),
		a.configureCmd(),
		a.baudCmd(),
		a.portsCmd(),
	)

	return root
}

// setup resolves the configuration (defaults, file, environment, flags),
// builds the logger and starts the metrics endpoint.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Bus.Port = a.port
	}
	if flags.Changed("baud") {
		cfg.Bus.BaudRate = a.baud
	}
	if flags.Changed("family") {
		cfg.Bus.Family = a.family
	}
	if flags.Changed("timeout") {
		cfg.Bus.Timeout = a.timeout
	}
	if flags.Changed("driver") {
		cfg.Bus.Driver = a.driver
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Address = a.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := logger.ParseLevel(cfg.Logging.Level)
	if a.debug {
		level = logger.DebugLevel
	}
	format, _ := logger.ParseFormat(cfg.Logging.Format)
	a.log = logger.NewSlogWithOptions(os.Stderr, level, format, false)

	a.collector = metrics.NewCollector()
	if cfg.Metrics.Address != "" {
		a.metricsSrv = metrics.NewServer(cfg.Metrics.Address, metrics.NewRegistry(a.collector))
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server stopped", "address", cfg.Metrics.Address, "error", err)
			}
		}()
		a.log.Info("serving metrics", "address", cfg.Metrics.Address)
	}

	return nil
}

func (a *app) shutdown() {
	if a.metricsSrv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = a.metricsSrv.Shutdown(ctx)
}

// openBus opens a Channel on path and wraps it in a Bus. The caller must
// close the returned Closer.
func (a *app) openBus(path string) (*dxl.Bus, io.Closer, error) {
	var (
		ch     dxl.Channel
		closer io.Closer
	)

	if a.simulate {
		f, err := a.cfg.Family(a.cfg.Bus.Family)
		if err != nil {
			return nil, nil, err
		}
		sim, err := newSimulator(f, a.log)
		if err != nil {
			return nil, nil, err
		}
		ch, closer = sim, sim
	} else {
		port, err := serialport.Open(path, a.cfg.PortOptions(a.log)...)
		if err != nil {
			return nil, nil, err
		}
		ch, closer = port, port
	}

	opts, err := a.cfg.BusOptions(a.log.With("port", path))
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	bus, err := dxl.NewBus(ch, opts...)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	a.collector.Attach(path, bus)

	return bus, closer, nil
}

// newSimulator builds an in-memory bus holding devices 3 and 7 of family f,
// both in joint mode at the centre position.
func newSimulator(f dxl.Family, l logger.Logger) (*simbus.Sim, error) {
	sim, err := simbus.New(f.Protocol, simbus.WithLogger(l))
	if err != nil {
		return nil, err
	}

	regs := dxl.RegisterMapFor(f.Protocol)
	values := []struct {
		reg dxl.Register
		v   float64
	}{
		{dxl.FirmwareVersion, 38},
		{dxl.ReturnDelayTime, 250},
		{dxl.MinAngleLimit, -180},
		{dxl.MaxAngleLimit, 180},
		{dxl.ControlMode, float64(dxl.ModeJoint)},
		{dxl.MaxTorque, 100},
		{dxl.GoalPosition, 0},
		{dxl.PresentPosition, 0},
	}

	var opts []simbus.DeviceOption
	for _, val := range values {
		info, err := regs.Lookup(val.reg)
		if err != nil {
			continue
		}
		data, err := dxl.EncodeValue(f, info, val.v)
		if err != nil {
			return nil, fmt.Errorf("simulator: %s: %w", val.reg, err)
		}
		opts = append(opts, simbus.WithRegister(info.Address, data...))
	}

	goal, _ := regs.Lookup(dxl.GoalPosition)
	present, _ := regs.Lookup(dxl.PresentPosition)
	opts = append(opts, simbus.WithMirror(present.Address, goal.Address, goal.Width))

	model := simulatedModel(f)
	for _, id := range []int{3, 7} {
		sim.AddDevice(id, model, opts...)
	}

	return sim, nil
}

func simulatedModel(f dxl.Family) uint16 {
	switch f.Name {
	case dxl.FamilyAX.Name:
		return dxl.ModelAX12
	case dxl.FamilyX.Name:
		return dxl.ModelXM430W350
	default:
		return dxl.ModelMX28
	}
}
