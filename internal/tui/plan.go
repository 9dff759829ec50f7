package tui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/tis24dev/vzsave/internal/config"
)

// PlanRow describes what a run will do for one machine.
type PlanRow struct {
	ID       string
	Storage  string
	Archive  string
	Backlog  string
	Channels []string
}

var planHeader = []string{"VM", "Storage", "FTP archive", "Backlog", "Notifications"}

// BuildPlan returns one row per configured machine, in configuration order.
// channels reports the notification channels enabled for a machine.
func BuildPlan(cfg *config.Config, channels func(config.Machine) []string) []PlanRow {
	rows := make([]PlanRow, 0, len(cfg.Machines))
	for _, m := range cfg.Machines {
		row := PlanRow{ID: m.ID, Storage: m.Storage, Archive: "-", Backlog: "-"}
		if cfg.ArchiveEnabled(m) {
			row.Archive = "ftp://" + cfg.Global.FTP.Address() + "/" + strings.TrimPrefix(cfg.Global.FTP.MachineDir(m.ID), "/")
			if len(cfg.Global.FTP.AgeRecipients) > 0 {
				row.Archive += " (age)"
			}
			if b := m.Backlog(); b > 0 {
				row.Backlog = strconv.Itoa(b)
			} else {
				row.Backlog = "unbounded"
			}
		}
		if channels != nil {
			row.Channels = channels(m)
		}
		rows = append(rows, row)
	}
	return rows
}

func (r PlanRow) cells() []string {
	ch := "-"
	if len(r.Channels) > 0 {
		ch = strings.Join(r.Channels, ", ")
	}
	return []string{r.ID, r.Storage, r.Archive, r.Backlog, ch}
}

// WritePlanText writes the plan as an aligned plain-text table.
func WritePlanText(w io.Writer, rows []PlanRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(planHeader, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r.cells(), "\t"))
	}
	if len(rows) == 0 {
		fmt.Fprintln(tw, "(no machines configured)")
	}
	return tw.Flush()
}

// NewPlanTable builds the tview table shown by ShowPlan.
func NewPlanTable(rows []PlanRow) *tview.Table {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 1).
		SetSelectable(true, false)

	for col, title := range planHeader {
		table.SetCell(0, col, tview.NewTableCell(title).
			SetTextColor(Accent).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false).
			SetExpansion(1))
	}

	for i, r := range rows {
		for col, value := range r.cells() {
			cell := tview.NewTableCell(value).SetTextColor(tcell.ColorWhite).SetExpansion(1)
			switch {
			case col == 2 && value == "-":
				cell.SetTextColor(Gray)
			case col == 2:
				cell.SetText(StatusSymbol("enabled") + " " + value).SetTextColor(StatusColor("enabled"))
			case col == 4 && value == "-":
				cell.SetText(StatusSymbol("warning") + " none").SetTextColor(StatusColor("warning"))
			case col == 4:
				cell.SetText(StatusSymbol("enabled") + " " + value)
			}
			table.SetCell(i+1, col, cell)
		}
	}
	return table
}

func planTitle(machines int) string {
	return fmt.Sprintf("vzsave plan: %d machine(s)", machines)
}

// newPlanView installs the plan table as the root of app.
func newPlanView(app *App, rows []PlanRow) *tview.Table {
	table := NewPlanTable(rows)
	table.SetInputCapture(planKeys(app))
	app.SetRootWithTitle(table, planTitle(len(rows)))
	return table
}

// ShowPlan displays the plan until q or Esc is pressed.
func ShowPlan(rows []PlanRow) error {
	app := NewApp()
	newPlanView(app, rows)
	return app.Run()
}

func planKeys(app *App) func(*tcell.EventKey) *tcell.EventKey {
	return func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || (ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q')) {
			app.Stop()
			return nil
		}
		return ev
	}
}
