package command

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/iotmesh-go/internal/cli/config"
	"github.com/yndnr/iotmesh-go/internal/cli/connection"
	"github.com/yndnr/iotmesh-go/internal/infra/buildinfo"
)

// App creates the iotmesh-device application.
func App() *cli.App {
	return &cli.App{
		Name:      "iotmesh-device",
		Usage:     "IoTMesh device client",
		UsageText: "iotmesh-device [options] <serverAddress[:port]> <dev-id> <user-id>",
		Version:   buildinfo.String(),
		Flags:     globalFlags(),
		Action:    deviceAction,
		Metadata:  map[string]any{},
	}
}

// globalFlags returns the device flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Defaults file (empty disables it)",
			EnvVars: []string{"IOTMESH_DEVICE_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format for RT: table, json, yaml",
			EnvVars: []string{"IOTMESH_OUTPUT"},
			Value:   "table",
		},
		&cli.StringFlag{
			Name:    "dir",
			Aliases: []string{"d"},
			Usage:   "Directory receiving RT and RI files",
			Value:   ".",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "Timeout for connecting and for each request",
			EnvVars: []string{"IOTMESH_TIMEOUT"},
			Value:   connection.DefaultTimeout,
		},
		&cli.StringFlag{
			Name:  "history",
			Usage: "Command history file (empty disables history)",
			Value: defaultHistoryFile(),
		},
		&cli.StringFlag{
			Name:    "program",
			Usage:   "Executable declared to the server (default: this binary)",
			EnvVars: []string{"IOTMESH_PROGRAM"},
		},
	}
}

// GlobalFlags holds the parsed device flags.
type GlobalFlags struct {
	Output  string
	Dir     string
	Timeout time.Duration
	History string
	Program string
}

// ParseGlobalFlags extracts the device flags from context. Values from the
// defaults file fill flags that were not set on the command line or in the
// environment.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	flags := &GlobalFlags{
		Output:  c.String("output"),
		Dir:     c.String("dir"),
		Timeout: c.Duration("timeout"),
		History: c.String("history"),
		Program: c.String("program"),
	}

	file, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if !c.IsSet("output") && file.Output != "" {
		flags.Output = file.Output
	}
	if !c.IsSet("dir") && file.Dir != "" {
		flags.Dir = file.Dir
	}
	if !c.IsSet("timeout") && file.Timeout > 0 {
		flags.Timeout = file.Timeout
	}
	if !c.IsSet("history") && file.History != nil {
		flags.History = *file.History
	}
	if !c.IsSet("program") && file.Program != "" {
		flags.Program = file.Program
	}
	return flags, nil
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
