package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/arloliu/go-dxl/dxl"
	"github.com/arloliu/go-dxl/sequencer"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func printFound(w io.Writer, rows [][]string) {
	t := newTable("PORT", "ID", "MODEL", "MODEL NUMBER").Rows(rows...)
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d device(s) found\n", len(rows))
}

func foundRow(port string, f dxl.Found) []string {
	return []string{port, strconv.Itoa(f.ID), f.Model, strconv.Itoa(int(f.ModelNumber))}
}

func printRegisters(w io.Writer, id int, rows [][]string) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("device %d", id)))
	fmt.Fprintln(w, newTable("REGISTER", "VALUE").Rows(rows...).Render())
}

// formatValue renders a decoded register value in the unit of its register.
func formatValue(reg dxl.Register, v float64) string {
	switch reg {
	case dxl.ModelNumber:
		return fmt.Sprintf("%d (%s)", int(v), dxl.ModelName(uint16(v)))
	case dxl.ControlMode:
		return dxl.Mode(v).String()
	case dxl.TorqueEnable:
		if v != 0 {
			return "on"
		}
		return "off"
	case dxl.MinAngleLimit, dxl.MaxAngleLimit, dxl.GoalPosition, dxl.PresentPosition:
		return strconv.FormatFloat(v, 'f', 2, 64) + " deg"
	case dxl.MovingSpeed:
		return strconv.FormatFloat(v, 'f', 2, 64) + " deg/s"
	case dxl.MaxTorque:
		return strconv.FormatFloat(v, 'f', 1, 64) + " %"
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}

func printRun(w io.Writer, res sequencer.Result) {
	rows := make([][]string, 0, len(res.Steps))
	for _, s := range res.Steps {
		observed := "-"
		if s.Verified {
			observed = formatValue(s.Register, s.Observed)
		}
		rows = append(rows, []string{
			s.Name,
			s.Register.String(),
			formatValue(s.Register, s.Value),
			yesNo(s.Applied),
			yesNo(s.Verified),
			observed,
		})
	}
	fmt.Fprintln(w, newTable("STEP", "REGISTER", "VALUE", "APPLIED", "VERIFIED", "OBSERVED").Rows(rows...).Render())

	state := okStyle.Render(res.State.String())
	if res.State == sequencer.StateFailed {
		state = errStyle.Render(res.State.String())
	}
	fmt.Fprintf(w, "device %d: %s after %d discovery attempt(s) in %v (run %s)\n",
		res.DeviceID, state, res.Attempts, res.Finished.Sub(res.Started).Round(time.Millisecond), res.RunID)
	if res.Err != nil {
		fmt.Fprintln(w, errStyle.Render("cause: "+res.Err.Error()))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
