package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) baudCmd() *cobra.Command {
	var newBaud int

	cmd := &cobra.Command{
		Use:   "baud",
		Short: "Broadcast a baud rate change to every device",
		Long: `Writes the baud rate register of every device on the bus with one
broadcast frame. Devices switch at once and do not reply; reopen the bus at
the new rate to talk to them again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bus, closer, err := a.openBus(a.cfg.Bus.Port)
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := bus.ChangeBaudrate(cmd.Context(), newBaud); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "baud rate change to %d broadcast on %s\n", newBaud, a.cfg.Bus.Port)

			return nil
		},
	}
	cmd.Flags().IntVar(&newBaud, "new-baud", 0, "Baud rate to switch the devices to")
	_ = cmd.MarkFlagRequired("new-baud")

	return cmd
}
