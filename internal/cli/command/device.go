package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/iotmesh-go/internal/cli/connection"
	"github.com/yndnr/iotmesh-go/internal/cli/output"
	"github.com/yndnr/iotmesh-go/internal/cli/repl"
	"github.com/yndnr/iotmesh-go/internal/core/domain"
)

// ErrUsage reports malformed positional arguments.
var ErrUsage = errors.New("wrong input arguments")

// DeviceArgs are the positional arguments of iotmesh-device.
type DeviceArgs struct {
	Server   string
	DeviceID int
	User     string
}

// ParseDeviceArgs validates <serverAddress[:port]> <dev-id> <user-id>.
func ParseDeviceArgs(args []string) (*DeviceArgs, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("%w: want 3 arguments, got %d", ErrUsage, len(args))
	}

	server := args[0]
	if host, port, err := net.SplitHostPort(server); err == nil {
		if host == "" {
			return nil, fmt.Errorf("%w: server address %q has no host", ErrUsage, server)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("%w: invalid port %q", ErrUsage, port)
		}
	} else if server == "" {
		return nil, fmt.Errorf("%w: server address is empty", ErrUsage)
	}

	id, err := strconv.Atoi(args[1])
	if err != nil || id < 0 {
		return nil, fmt.Errorf("%w: dev-id %q must be a non-negative integer", ErrUsage, args[1])
	}

	if err := domain.ValidateName("user", args[2]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	return &DeviceArgs{Server: server, DeviceID: id, User: args[2]}, nil
}

// ProgramIdentity returns the name and size declared in VALIDATE_PROGRAM.
// An empty path selects the running executable.
func ProgramIdentity(path string) (string, int64, error) {
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", 0, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("stat program: %w", err)
	}
	return filepath.Base(path), fi.Size(), nil
}

func defaultHistoryFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".iotmesh", "history")
}

func deviceAction(c *cli.Context) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}

	args, err := ParseDeviceArgs(c.Args().Slice())
	if err != nil {
		return fmt.Errorf("%w\nusage: %s", err, c.App.UsageText)
	}
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return err
	}
	progName, progSize, err := ProgramIdentity(flags.Program)
	if err != nil {
		return err
	}

	out := c.App.Writer
	spinner := output.NewSpinner(c.App.ErrWriter, "connecting to "+connection.WithDefaultPort(args.Server))
	spinner.Start()
	ctx, cancel := context.WithTimeout(c.Context, flags.Timeout)
	client, err := connection.Dial(ctx, args.Server, flags.Timeout)
	cancel()
	if err != nil {
		spinner.Fail("connection failed")
		return err
	}
	spinner.Success("connected to " + client.RemoteAddr().String())
	defer client.Close()

	prompter := repl.NewPrompter(c.App.Reader, out)
	login := &repl.Login{
		User:        args.User,
		DeviceID:    args.DeviceID,
		ProgramName: progName,
		ProgramSize: progSize,
	}
	if err := repl.Authenticate(client, prompter, login); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	history := repl.NewFileHistory(flags.History)
	if err := history.Load(); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "warning: load history: %v\n", err)
	}

	r := repl.New(repl.Config{
		Device:    client,
		Input:     prompter.Reader(),
		Output:    out,
		Format:    format,
		OutputDir: flags.Dir,
		Prompt:    domain.DeviceName(args.User, login.DeviceID) + "> ",
		History:   history,
	})
	runErr := r.Run()

	if err := history.Save(); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "warning: save history: %v\n", err)
	}
	if runErr != nil {
		return runErr
	}
	fmt.Fprintln(out, "Finished!")
	return nil
}
