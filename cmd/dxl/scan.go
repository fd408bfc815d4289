package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) scanCmd() *cobra.Command {
	var from, to int

	cmd := &cobra.Command{
		Use:   "scan [port...]",
		Short: "Find devices on one or more serial ports",
		Long: `Pings every id in [from, to] on each port in turn and reads the model
number of every device that answers. Without arguments the ports of the
scan section of the configuration are used, or --port when given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports := args
			if len(ports) == 0 {
				ports = a.cfg.Scan.Ports
				if cmd.Flags().Changed("port") {
					ports = []string{a.cfg.Bus.Port}
				}
			}
			if !cmd.Flags().Changed("from") {
				from = a.cfg.Scan.From
			}
			if !cmd.Flags().Changed("to") {
				to = a.cfg.Scan.To
			}

			return a.scan(cmd, ports, from, to)
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "First id to probe")
	cmd.Flags().IntVar(&to, "to", 0, "Last id to probe")

	return cmd
}

func (a *app) scan(cmd *cobra.Command, ports []string, from, to int) error {
	ctx := cmd.Context()

	var (
		rows [][]string
		errs []error
	)
	for _, port := range ports {
		found, err := a.scanPort(cmd, port, from, to)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.Warn("skipping port", "port", port, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", port, err))

			continue
		}
		rows = append(rows, found...)
	}

	if len(errs) == len(ports) && len(errs) > 0 {
		return errors.Join(errs...)
	}
	printFound(a.out, rows)

	return nil
}

func (a *app) scanPort(cmd *cobra.Command, port string, from, to int) ([][]string, error) {
	bus, closer, err := a.openBus(port)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	found, err := bus.Scan(cmd.Context(), from, to)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(found))
	for _, f := range found {
		rows = append(rows, foundRow(port, f))
	}

	return rows, nil
}
