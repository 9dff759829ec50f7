package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tis24dev/vzsave/internal/config"
	"github.com/tis24dev/vzsave/internal/types"
)

const (
	configSourceDefault    = "default path"
	configSourceFlag       = "specified via --config/-c flag"
	configSourcePositional = "specified as argument"
)

// Args holds the parsed command-line arguments
type Args struct {
	ConfigPath       string
	ConfigPathSource string
	LogLevel         types.LogLevel
	LogLevelSet      bool // --log-level was given; LogLevelNone then silences output
	LogDir           string
	Plan             bool
	ShowVersion      bool
	ShowHelp         bool
}

// NewRootCmd returns the root command. RunE only records the parsed values in
// args; the run itself is driven by main.
func NewRootCmd(stdout, stderr io.Writer, args *Args) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "vzsave [config-path]",
		Short: "Back up virtual machines with vzdump and archive them on FTP",
		Long: "vzsave runs vzdump for every configured machine, checks the result,\n" +
			"stores the newest archive on FTP with a bounded backlog and reports\n" +
			"each step by email and Telegram.",
		Example: "  vzsave /etc/vzsave/config.json\n" +
			"  vzsave -c config.yaml --log-level debug\n" +
			"  vzsave --plan",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, positional []string) error {
			flagSet := cmd.Flags().Changed("config")
			switch {
			case len(positional) == 1 && flagSet && positional[0] != args.ConfigPath:
				return fmt.Errorf("configuration path given twice: %q and %q", positional[0], args.ConfigPath)
			case len(positional) == 1:
				args.ConfigPath = positional[0]
				args.ConfigPathSource = configSourcePositional
			case flagSet:
				args.ConfigPathSource = configSourceFlag
			default:
				args.ConfigPathSource = configSourceDefault
			}

			if cmd.Flags().Changed("log-level") {
				args.LogLevel = parseLogLevel(logLevel)
				args.LogLevelSet = true
			} else {
				args.LogLevel = types.LogLevelNone
			}
			return nil
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVarP(&args.ConfigPath, "config", "c", config.DefaultConfigPath, "Path to configuration file (JSON or YAML)")
	flags.StringVarP(&logLevel, "log-level", "l", "", "Log level (debug|info|warning|error|critical|none)")
	flags.StringVar(&args.LogDir, "log-dir", "", "Directory for the per-run log file (overrides global.log_dir)")
	flags.BoolVar(&args.Plan, "plan", false, "Show the configured machines and channels, then exit")
	flags.BoolVarP(&args.ShowVersion, "version", "v", false, "Show version information")

	return cmd
}

// Parse parses argv (without the program name). When help was requested the
// returned Args has ShowHelp set and help has already been written to stdout.
func Parse(argv []string, stdout, stderr io.Writer) (*Args, error) {
	args := &Args{}
	cmd := NewRootCmd(stdout, stderr, args)
	cmd.SetArgs(argv)

	ran := false
	run := cmd.RunE
	cmd.RunE = func(c *cobra.Command, positional []string) error {
		ran = true
		return run(c, positional)
	}

	if err := cmd.Execute(); err != nil {
		return nil, err
	}
	if !ran {
		args.ShowHelp = true
	}
	return args, nil
}

// parseLogLevel converts string to LogLevel
func parseLogLevel(s string) types.LogLevel {
	switch s {
	case "debug", "5":
		return types.LogLevelDebug
	case "info", "4":
		return types.LogLevelInfo
	case "warning", "3":
		return types.LogLevelWarning
	case "error", "2":
		return types.LogLevelError
	case "critical", "1":
		return types.LogLevelCritical
	case "none", "0":
		return types.LogLevelNone
	default:
		return types.LogLevelInfo
	}
}
