package tui

import (
	"github.com/gdamore/tcell/v2"
)

// vzsave color palette
var (
	// Accent is used for borders and titles.
	Accent = tcell.NewRGBColor(229, 112, 0) // #E57000

	// Neutral colors
	Dark  = tcell.NewRGBColor(40, 40, 40)    // #282828
	Gray  = tcell.NewRGBColor(128, 128, 128) // #808080
	Light = tcell.NewRGBColor(200, 200, 200) // #C8C8C8

	// Status colors
	SuccessGreen  = tcell.NewRGBColor(34, 197, 94)  // #22C55E
	ErrorRed      = tcell.NewRGBColor(239, 68, 68)  // #EF4444
	WarningYellow = tcell.NewRGBColor(234, 179, 8)  // #EAB308
	InfoBlue      = tcell.NewRGBColor(59, 130, 246) // #3B82F6

	LightGray = tcell.ColorLightGray
)

// Symbols and icons
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolInfo    = "ℹ"
	SymbolBullet  = "•"
)

// StatusColor returns the appropriate color for a status
func StatusColor(status string) tcell.Color {
	switch status {
	case "success", "ok", "enabled":
		return SuccessGreen
	case "error", "failed", "fail", "backup-failed", "storage-failed":
		return ErrorRed
	case "warning", "warn":
		return WarningYellow
	case "info", "pending", "running":
		return InfoBlue
	default:
		return LightGray
	}
}

// StatusSymbol returns the appropriate symbol for a status
func StatusSymbol(status string) string {
	switch status {
	case "success", "ok", "enabled":
		return SymbolSuccess
	case "error", "failed", "fail", "backup-failed", "storage-failed":
		return SymbolError
	case "warning", "warn":
		return SymbolWarning
	case "info", "pending", "running":
		return SymbolInfo
	default:
		return SymbolBullet
	}
}
