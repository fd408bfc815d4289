package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-dxl/serialport"
)

func (a *app) portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		RunE: func(_ *cobra.Command, _ []string) error {
			ports, err := serialport.List()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(ports))
			for _, p := range ports {
				rows = append(rows, []string{p})
			}
			fmt.Fprintln(a.out, newTable("PORT").Rows(rows...).Render())

			return nil
		},
	}
}
