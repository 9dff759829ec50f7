package tui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"

	"github.com/tis24dev/vzsave/internal/config"
)

func planConfig() *config.Config {
	three, zero := 3, 0
	return &config.Config{
		Global: config.Global{
			FTP: &config.FTPConfig{Host: "ftp.example.com", Dir: "/backups"},
		},
		Machines: []config.Machine{
			{ID: "101", Storage: "local", FTPBacklog: &three},
			{ID: "102", Storage: "nfs"},
			{ID: "103", Storage: "local", FTPBacklog: &zero},
		},
	}
}

func TestBuildPlan(t *testing.T) {
	rows := BuildPlan(planConfig(), func(m config.Machine) []string {
		if m.ID == "101" {
			return []string{"Email", "Telegram"}
		}
		return nil
	})

	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Archive != "ftp://ftp.example.com:21/backups/101" || rows[0].Backlog != "3" {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].Archive != "-" || rows[1].Backlog != "-" {
		t.Errorf("machine without backlog should not archive: %+v", rows[1])
	}
	if rows[2].Backlog != "unbounded" {
		t.Errorf("zero backlog = %q", rows[2].Backlog)
	}
}

func TestWritePlanText(t *testing.T) {
	rows := BuildPlan(planConfig(), func(m config.Machine) []string {
		if m.ID == "101" {
			return []string{"Email", "Telegram"}
		}
		return nil
	})

	var buf bytes.Buffer
	if err := WritePlanText(&buf, rows); err != nil {
		t.Fatalf("WritePlanText: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "VM") || !strings.Contains(lines[1], "Email, Telegram") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}

	buf.Reset()
	if err := WritePlanText(&buf, nil); err != nil {
		t.Fatalf("WritePlanText: %v", err)
	}
	if !strings.Contains(buf.String(), "no machines configured") {
		t.Errorf("empty plan output = %q", buf.String())
	}
}

func TestNewPlanTable(t *testing.T) {
	rows := BuildPlan(planConfig(), nil)
	table := NewPlanTable(rows)

	if table.GetRowCount() != len(rows)+1 {
		t.Fatalf("row count = %d", table.GetRowCount())
	}
	if got := table.GetCell(0, 0).Text; got != "VM" {
		t.Errorf("header = %q", got)
	}
	if got := table.GetCell(1, 2).Text; !strings.HasPrefix(got, SymbolSuccess+" ftp://") {
		t.Errorf("archive cell = %q", got)
	}
	if got := table.GetCell(2, 2).Text; got != "-" {
		t.Errorf("disabled archive cell = %q", got)
	}
	if got := table.GetCell(2, 4).Text; got != SymbolWarning+" none" {
		t.Errorf("channels cell = %q", got)
	}
}

func TestNewPlanViewSetsTitledRoot(t *testing.T) {
	app := NewApp()
	table := newPlanView(app, BuildPlan(planConfig(), nil))

	if got := table.GetTitle(); got != " vzsave plan: 3 machine(s) " {
		t.Errorf("title = %q", got)
	}
	if table.GetBorderColor() != Accent {
		t.Errorf("border color = %v, want %v", table.GetBorderColor(), Accent)
	}
}

func TestPlanKeysStopApp(t *testing.T) {
	stopped := 0
	app := &App{stopHook: func() { stopped++ }}
	handler := planKeys(app)

	if ev := handler(tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)); ev != nil {
		t.Error("q should be consumed")
	}
	if ev := handler(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)); ev != nil {
		t.Error("Esc should be consumed")
	}
	if ev := handler(tcell.NewEventKey(tcell.KeyDown, 0, tcell.ModNone)); ev == nil {
		t.Error("other keys should pass through")
	}
	if stopped != 2 {
		t.Errorf("stop called %d times", stopped)
	}
}
