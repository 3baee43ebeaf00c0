package repl

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/yndnr/iotmesh-go/internal/protocol"
)

var (
	// ErrLoginAborted is returned when the input ends during login.
	ErrLoginAborted = errors.New("login aborted")

	// ErrLoginRejected is returned when the server refuses a login step
	// that cannot be retried.
	ErrLoginRejected = errors.New("login rejected")
)

// Authenticator performs the login steps. *connection.Client implements
// it.
type Authenticator interface {
	ValidateUser(user, password string) (protocol.Opcode, error)
	ValidateDevice(id int) (protocol.Opcode, error)
	ValidateProgram(name string, size int64) (protocol.Opcode, error)
}

// Login identifies the user, device and program of a session.
type Login struct {
	User        string
	DeviceID    int
	ProgramName string
	ProgramSize int64
}

// Authenticate logs in. It asks for the password until the server
// accepts it and for another device id while the requested one is
// held by another session. On success l.DeviceID is the claimed id.
func Authenticate(a Authenticator, p *Prompter, l *Login) error {
	if err := authenticateUser(a, p, l.User); err != nil {
		return err
	}
	if err := authenticateDevice(a, p, l); err != nil {
		return err
	}

	fmt.Fprintf(p.out, "-> program %s (%d bytes)\n", l.ProgramName, l.ProgramSize)
	op, err := a.ValidateProgram(l.ProgramName, l.ProgramSize)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "<- %s\n", op)
	if op != protocol.OpOKTested {
		return fmt.Errorf("%w: %s", ErrLoginRejected, Describe(op))
	}
	return nil
}

func authenticateUser(a Authenticator, p *Prompter, user string) error {
	for {
		pwd, err := p.Password("Password: ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrLoginAborted
			}
			return err
		}
		if pwd == "" {
			fmt.Fprintln(p.out, "Error: password is empty")
			continue
		}

		fmt.Fprintf(p.out, "-> user %s\n", user)
		op, err := a.ValidateUser(user, pwd)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.out, "<- %s\n", op)
		switch op {
		case protocol.OpOKUser, protocol.OpOKNewUser:
			fmt.Fprintln(p.out, Describe(op))
			return nil
		case protocol.OpWrongPwd:
			fmt.Fprintln(p.out, "Error: wrong password, try again")
		default:
			return fmt.Errorf("%w: %s", ErrLoginRejected, Describe(op))
		}
	}
}

func authenticateDevice(a Authenticator, p *Prompter, l *Login) error {
	for {
		fmt.Fprintf(p.out, "-> device %s:%d\n", l.User, l.DeviceID)
		op, err := a.ValidateDevice(l.DeviceID)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.out, "<- %s\n", op)
		switch op {
		case protocol.OpOKDevID:
			return nil
		case protocol.OpNOKDevID:
			fmt.Fprintf(p.out, "Error: device id %d is in use\n", l.DeviceID)
		default:
			return fmt.Errorf("%w: %s", ErrLoginRejected, Describe(op))
		}

		for {
			line, err := p.Line("Enter a different device id: ")
			if err != nil {
				if errors.Is(err, io.EOF) {
					return ErrLoginAborted
				}
				return err
			}
			id, err := strconv.Atoi(line)
			if err != nil || id < 0 {
				fmt.Fprintln(p.out, "Error: device id must be a non-negative integer")
				continue
			}
			l.DeviceID = id
			break
		}
	}
}
