package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// These variables are intended to be populated at build time via -ldflags:
//
//	-X github.com/tis24dev/vzsave/internal/version.Version=v1.0.0
//	-X github.com/tis24dev/vzsave/internal/version.Commit=abcdef123
//	-X github.com/tis24dev/vzsave/internal/version.Date=2026-01-01T12:34:56Z
var (
	// Version holds the semantic version of the binary.
	Version = ""

	// Commit holds the VCS commit hash used to build the binary (optional).
	Commit = ""

	// Date holds the build timestamp (optional).
	Date = ""
)

const devVersion = "0.0.0-dev"

var readBuildInfo = debug.ReadBuildInfo

// String returns the effective version string used across the application.
// Preference order:
//  1. Value injected into Version via ldflags.
//  2. Main module version from debug.ReadBuildInfo (if available and not "(devel)").
//  3. Fallback development placeholder.
//
// The returned version is normalized by stripping any leading "v" prefix.
func String() string {
	v := strings.TrimSpace(Version)

	if v == "" {
		if info, ok := readBuildInfo(); ok && info != nil {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
	}

	if v == "" {
		v = devVersion
	}

	return strings.TrimPrefix(v, "v")
}

// Info returns the one-line description printed by --version.
func Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "vzsave %s", String())
	if c := strings.TrimSpace(Commit); c != "" {
		if len(c) > 12 {
			c = c[:12]
		}
		fmt.Fprintf(&b, " (commit %s", c)
		if d := strings.TrimSpace(Date); d != "" {
			fmt.Fprintf(&b, ", built %s", d)
		}
		b.WriteString(")")
	}
	return b.String()
}
