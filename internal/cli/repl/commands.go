package repl

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yndnr/iotmesh-go/internal/cli/output"
	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/protocol"
)

type command struct {
	usage   string
	minArgs int
	maxArgs int
	run     func(r *REPL, args []string) error
}

var commands = map[string]command{
	"CREATE": {usage: "CREATE <domain>", minArgs: 1, maxArgs: 1, run: (*REPL).create},
	"ADD":    {usage: "ADD <user> <domain>", minArgs: 2, maxArgs: 2, run: (*REPL).add},
	"RD":     {usage: "RD <domain>", minArgs: 1, maxArgs: 1, run: (*REPL).registerDevice},
	"ET":     {usage: "ET <float>", minArgs: 1, maxArgs: 1, run: (*REPL).sendTemperature},
	"EI":     {usage: "EI <image-path>", minArgs: 1, maxArgs: 1, run: (*REPL).sendImage},
	"RT":     {usage: "RT <domain>", minArgs: 1, maxArgs: 1, run: (*REPL).readTemperatures},
	"RI":     {usage: "RI <user>:<dev-id>", minArgs: 1, maxArgs: 2, run: (*REPL).readImage},
}

func (r *REPL) create(args []string) error {
	op, err := r.device.CreateDomain(args[0])
	if err != nil {
		return err
	}
	r.reply(op)
	return nil
}

func (r *REPL) add(args []string) error {
	op, err := r.device.AddUserToDomain(args[0], args[1])
	if err != nil {
		return err
	}
	r.reply(op)
	return nil
}

func (r *REPL) registerDevice(args []string) error {
	op, err := r.device.RegisterDevice(args[0])
	if err != nil {
		return err
	}
	r.reply(op)
	return nil
}

func (r *REPL) sendTemperature(args []string) error {
	// Accept a decimal comma as well.
	value, err := strconv.ParseFloat(strings.Replace(args[0], ",", ".", 1), 64)
	if err != nil {
		return fmt.Errorf("ET: %q is not a number", args[0])
	}
	op, err := r.device.SendTemperature(value)
	if err != nil {
		return err
	}
	r.reply(op)
	return nil
}

func (r *REPL) sendImage(args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("EI: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("EI: %s is empty", args[0])
	}
	op, err := r.device.SendImage(filepath.Base(args[0]), data)
	if err != nil {
		return err
	}
	r.reply(op)
	return nil
}

func (r *REPL) readTemperatures(args []string) error {
	name := args[0]
	temps, op, err := r.device.GetTemperatures(name)
	if err != nil {
		return err
	}
	r.reply(op)
	if op != protocol.OpOKAccepted {
		return nil
	}

	table := output.Temperatures(temps)
	var buf bytes.Buffer
	if err := table.Render(&buf); err != nil {
		return err
	}
	path := filepath.Join(r.outDir, TemperaturesFile(name))
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("RT: %w", err)
	}

	if r.format == output.FormatTable {
		err = r.formatter.Format(r.output, table)
	} else {
		err = r.formatter.Format(r.output, temps)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(r.output, "saved %d readings to %s\n", len(temps), path)
	return nil
}

func (r *REPL) readImage(args []string) error {
	target := strings.Join(args, ":")
	user, id, err := domain.ParseDeviceName(target)
	if err != nil {
		return fmt.Errorf("RI: %w", err)
	}
	img, op, err := r.device.GetUserImage(user, id)
	if err != nil {
		return err
	}
	r.reply(op)
	if op != protocol.OpOKAccepted {
		return nil
	}

	name := filepath.Base(img.Name)
	if name == "." || name == string(filepath.Separator) {
		name = fmt.Sprintf("%s_%d.img", user, id)
	}
	path := filepath.Join(r.outDir, name)
	if err := os.WriteFile(path, img.Data, 0644); err != nil {
		return fmt.Errorf("RI: %w", err)
	}
	fmt.Fprintf(r.output, "saved %s (%s) to %s\n", img.Name, output.FormatBytes(int64(len(img.Data))), path)
	return nil
}

// TemperaturesFile returns the file RT writes for domain name.
func TemperaturesFile(name string) string {
	return "domain_" + name + "_temps.txt"
}
