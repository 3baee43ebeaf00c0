package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/yndnr/iotmesh-go/internal/cli/connection"
	"github.com/yndnr/iotmesh-go/internal/cli/output"
	"github.com/yndnr/iotmesh-go/internal/protocol"
)

const menu = `Command menu:
	CREATE <domain>
	ADD <user> <domain>
	RD <domain>
	ET <float>
	EI <image-path>
	RT <domain>
	RI <user>:<dev-id>
	HELP
	EXIT`

// Device is the server session the REPL drives. *connection.Client
// implements it.
type Device interface {
	CreateDomain(name string) (protocol.Opcode, error)
	AddUserToDomain(user, domain string) (protocol.Opcode, error)
	RegisterDevice(domain string) (protocol.Opcode, error)
	SendTemperature(value float64) (protocol.Opcode, error)
	SendImage(name string, data []byte) (protocol.Opcode, error)
	GetTemperatures(domain string) (map[string]float64, protocol.Opcode, error)
	GetUserImage(user string, id int) (*connection.Image, protocol.Opcode, error)
	Exit() (protocol.Opcode, error)
}

// Config configures a REPL.
type Config struct {
	Device Device

	// Input defaults to os.Stdin and Output to os.Stdout.
	Input  io.Reader
	Output io.Writer

	// Format selects how RT results are printed. Defaults to table.
	Format output.Format

	// OutputDir receives the RT and RI files. Defaults to the working
	// directory.
	OutputDir string

	// Prompt defaults to "iotmesh> ".
	Prompt string

	History *History
}

// REPL represents the Read-Eval-Print Loop.
type REPL struct {
	device    Device
	input     *bufio.Reader
	output    io.Writer
	format    output.Format
	formatter output.Formatter
	outDir    string
	prompt    string
	completer *Completer
	history   *History
}

// New creates a REPL.
func New(cfg Config) *REPL {
	r := &REPL{
		device:    cfg.Device,
		output:    cfg.Output,
		format:    cfg.Format,
		outDir:    cfg.OutputDir,
		prompt:    cfg.Prompt,
		completer: NewCompleter(),
		history:   cfg.History,
	}
	in := cfg.Input
	if in == nil {
		in = os.Stdin
	}
	if br, ok := in.(*bufio.Reader); ok {
		r.input = br
	} else {
		r.input = bufio.NewReader(in)
	}
	if r.output == nil {
		r.output = os.Stdout
	}
	if r.format == "" {
		r.format = output.FormatTable
	}
	r.formatter = output.NewFormatter(r.format)
	if r.outDir == "" {
		r.outDir = "."
	}
	if r.prompt == "" {
		r.prompt = "iotmesh> "
	}
	if r.history == nil {
		r.history = NewFileHistory("")
	}
	return r
}

// Run reads commands until EXIT, end of input or a lost connection.
// End of input logs out like EXIT. The returned error is nil unless the
// connection failed.
func (r *REPL) Run() error {
	fmt.Fprintln(r.output, menu)

	for {
		fmt.Fprint(r.output, r.prompt)

		line, err := r.input.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := errors.Is(err, io.EOF)

		line = strings.TrimSpace(line)
		if line == "" {
			if eof {
				fmt.Fprintln(r.output)
				return r.exit()
			}
			continue
		}

		r.history.Add(line)

		done, err := r.execute(line)
		if err != nil {
			fmt.Fprintf(r.output, "Error: %v\n", err)
			if isSessionError(err) {
				return err
			}
		}
		if done {
			return nil
		}
		if eof {
			return r.exit()
		}
	}
}

// Complete returns completions for a partially typed command.
func (r *REPL) Complete(prefix string) []string {
	return r.completer.Complete(prefix)
}

// execute runs one command line. done reports that the session ended.
func (r *REPL) execute(line string) (done bool, err error) {
	fields := strings.Fields(line)
	name := strings.ToUpper(fields[0])
	args := fields[1:]

	switch name {
	case "EXIT", "QUIT":
		return true, r.exit()
	case "HELP", "?":
		fmt.Fprintln(r.output, menu)
		return false, nil
	}

	cmd, ok := commands[name]
	if !ok {
		return false, fmt.Errorf("unknown command %q (type HELP for the command menu)", fields[0])
	}
	if len(args) < cmd.minArgs {
		return false, fmt.Errorf("%s: missing arguments, usage: %s", name, cmd.usage)
	}
	if len(args) > cmd.maxArgs {
		return false, fmt.Errorf("%s: too many arguments, usage: %s", name, cmd.usage)
	}
	return false, cmd.run(r, args)
}

func (r *REPL) exit() error {
	op, err := r.device.Exit()
	if err != nil {
		if errors.Is(err, connection.ErrNotConnected) {
			return nil
		}
		return err
	}
	r.reply(op)
	return nil
}

// reply prints the response opcode and, for a refusal, what it means.
func (r *REPL) reply(op protocol.Opcode) {
	fmt.Fprintf(r.output, "<- %s\n", op)
	if !op.OK() {
		fmt.Fprintf(r.output, "Error: %s\n", Describe(op))
	}
}

func isSessionError(err error) bool {
	return errors.Is(err, connection.ErrCommunication) ||
		errors.Is(err, connection.ErrServerClosed) ||
		errors.Is(err, connection.ErrNotConnected)
}

// Describe returns a human readable meaning of a response opcode.
func Describe(op protocol.Opcode) string {
	switch op {
	case protocol.OpOKUser:
		return "user authenticated"
	case protocol.OpOKNewUser:
		return "new user created"
	case protocol.OpWrongPwd:
		return "wrong password"
	case protocol.OpOKDevID:
		return "device accepted"
	case protocol.OpNOKDevID:
		return "device id already in use"
	case protocol.OpOKTested:
		return "program accepted"
	case protocol.OpNOKTested:
		return "program rejected"
	case protocol.OpOKAccepted:
		return "ok"
	case protocol.OpNOKAlreadyExists:
		return "already exists"
	case protocol.OpNOKNoUser:
		return "user does not exist"
	case protocol.OpNOKNoDomain:
		return "domain does not exist"
	case protocol.OpNOKNoPermissions:
		return "permission denied"
	case protocol.OpNOKNoDevice:
		return "device does not exist"
	case protocol.OpNOKNoData:
		return "no data available"
	case protocol.OpNOKUnsupported:
		return "operation not supported by the server"
	default:
		return "request failed"
	}
}
