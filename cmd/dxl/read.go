package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-dxl/dxl"
)

// readRegisters is the report order of the read command.
var readRegisters = []dxl.Register{
	dxl.ModelNumber,
	dxl.FirmwareVersion,
	dxl.ReturnDelayTime,
	dxl.MaxTorque,
	dxl.MinAngleLimit,
	dxl.MaxAngleLimit,
	dxl.ControlMode,
	dxl.TorqueEnable,
	dxl.MovingSpeed,
	dxl.GoalPosition,
	dxl.PresentPosition,
}

func (a *app) readCmd() *cobra.Command {
	var id int

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print the main registers of one device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bus, closer, err := a.openBus(a.cfg.Bus.Port)
			if err != nil {
				return err
			}
			defer closer.Close()

			rows := make([][]string, 0, len(readRegisters))
			for _, reg := range readRegisters {
				v, err := bus.Read(cmd.Context(), id, reg)
				if errors.Is(err, dxl.ErrUnsupportedRegister) {
					continue
				}
				if err != nil {
					return fmt.Errorf("read %s of device %d: %w", reg, id, err)
				}
				rows = append(rows, []string{reg.String(), formatValue(reg, v)})
			}
			printRegisters(a.out, id, rows)

			return nil
		},
	}
	cmd.Flags().IntVarP(&id, "id", "i", 0, "Device id")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}
