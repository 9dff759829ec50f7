package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/tis24dev/vzsave/internal/config"
	"github.com/tis24dev/vzsave/internal/types"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected types.LogLevel
	}{
		{"debug string", "debug", types.LogLevelDebug},
		{"debug number", "5", types.LogLevelDebug},
		{"info string", "info", types.LogLevelInfo},
		{"info number", "4", types.LogLevelInfo},
		{"warning string", "warning", types.LogLevelWarning},
		{"warning number", "3", types.LogLevelWarning},
		{"error string", "error", types.LogLevelError},
		{"error number", "2", types.LogLevelError},
		{"critical string", "critical", types.LogLevelCritical},
		{"critical number", "1", types.LogLevelCritical},
		{"none string", "none", types.LogLevelNone},
		{"none number", "0", types.LogLevelNone},
		{"unknown", "invalid", types.LogLevelInfo},
		{"uppercase defaults", "DEBUG", types.LogLevelInfo},
		{"mixed case defaults", "Debug", types.LogLevelInfo},
		{"leading whitespace", " debug", types.LogLevelInfo},
		{"trailing whitespace", "debug ", types.LogLevelInfo},
		{"empty string", "", types.LogLevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLogLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v; want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func parseWithArgs(t *testing.T, cliArgs []string) *Args {
	t.Helper()
	args, err := Parse(cliArgs, io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("Parse(%v) error: %v", cliArgs, err)
	}
	return args
}

func TestParseDefaults(t *testing.T) {
	args := parseWithArgs(t, nil)
	if args.ConfigPath != config.DefaultConfigPath {
		t.Fatalf("ConfigPath = %q, want %q", args.ConfigPath, config.DefaultConfigPath)
	}
	if args.ConfigPathSource != "default path" {
		t.Fatalf("ConfigPathSource = %q, want default path", args.ConfigPathSource)
	}
	if args.LogLevelSet {
		t.Fatal("LogLevelSet should be false without --log-level")
	}
	if args.Plan || args.ShowVersion || args.ShowHelp || args.LogDir != "" {
		t.Fatal("all optional flags should default to unset")
	}
}

func TestParseCustomFlags(t *testing.T) {
	args := parseWithArgs(t, []string{
		"--config", "/custom/config.yaml",
		"--log-level", "debug",
		"--log-dir", "/var/log/vzsave",
		"--plan",
		"--version",
	})

	if args.ConfigPath != "/custom/config.yaml" {
		t.Fatalf("ConfigPath = %q, want /custom/config.yaml", args.ConfigPath)
	}
	if args.ConfigPathSource != "specified via --config/-c flag" {
		t.Fatalf("ConfigPathSource = %q, want specified via flag", args.ConfigPathSource)
	}
	if args.LogLevel != types.LogLevelDebug {
		t.Fatalf("LogLevel = %v, want debug", args.LogLevel)
	}
	if args.LogDir != "/var/log/vzsave" {
		t.Fatalf("LogDir = %q", args.LogDir)
	}
	if !args.Plan || !args.ShowVersion {
		t.Fatal("expected boolean flags to be set")
	}
}

func TestParseAliasFlags(t *testing.T) {
	args := parseWithArgs(t, []string{"-c", "/alias/config.json", "-l", "warning", "-v"})

	if args.ConfigPath != "/alias/config.json" {
		t.Fatalf("ConfigPath = %q, want /alias/config.json", args.ConfigPath)
	}
	if args.LogLevel != types.LogLevelWarning {
		t.Fatalf("LogLevel = %v, want warning", args.LogLevel)
	}
	if !args.ShowVersion {
		t.Fatal("ShowVersion should be true when -v is provided")
	}
}

func TestParseLogLevelNoneIsExplicit(t *testing.T) {
	args := parseWithArgs(t, []string{"--log-level", "none"})
	if !args.LogLevelSet || args.LogLevel != types.LogLevelNone {
		t.Fatalf("LogLevel = %v (set=%v), want explicit none", args.LogLevel, args.LogLevelSet)
	}
}

func TestParsePositionalConfig(t *testing.T) {
	args := parseWithArgs(t, []string{"/srv/backups.json"})
	if args.ConfigPath != "/srv/backups.json" || args.ConfigPathSource != "specified as argument" {
		t.Fatalf("ConfigPath = %q (%s)", args.ConfigPath, args.ConfigPathSource)
	}

	// the same path twice is accepted
	args = parseWithArgs(t, []string{"-c", "/srv/backups.json", "/srv/backups.json"})
	if args.ConfigPath != "/srv/backups.json" {
		t.Fatalf("ConfigPath = %q", args.ConfigPath)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		argv []string
	}{
		{"conflicting paths", []string{"-c", "/a.json", "/b.json"}},
		{"too many arguments", []string{"/a.json", "/b.json"}},
		{"unknown flag", []string{"--dry-run"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.argv, io.Discard, io.Discard); err == nil {
				t.Fatalf("Parse(%v) should fail", tt.argv)
			}
		})
	}
}

func TestParseHelp(t *testing.T) {
	var buf bytes.Buffer
	args, err := Parse([]string{"--help"}, &buf, io.Discard)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !args.ShowHelp {
		t.Fatal("ShowHelp should be set")
	}
	out := buf.String()
	for _, want := range []string{"vzsave [config-path]", "--config", "--log-dir", "--plan"} {
		if !strings.Contains(out, want) {
			t.Errorf("help missing %q:\n%s", want, out)
		}
	}
}
