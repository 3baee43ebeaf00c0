package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/iotmesh-go/internal/cli/connection"
	"github.com/yndnr/iotmesh-go/internal/cli/output"
	"github.com/yndnr/iotmesh-go/internal/server/config"
)

// statusCommand reports on a running server through its admin listener.
func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show registry statistics and live sessions of a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "admin",
				Aliases: []string{"a"},
				Usage:   "Admin HTTP address",
				EnvVars: []string{"IOTMESH_ADMIN_ADDR"},
				Value:   config.DefaultAdminAddr,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output format: table, json, yaml",
				Value:   "table",
			},
			&cli.BoolFlag{
				Name:  "sessions",
				Usage: "Also list live sessions",
			},
		},
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return err
	}
	formatter := output.NewFormatter(format)
	client := connection.NewAdminClient(c.String("admin"))
	out := c.App.Writer

	health, err := client.Health(c.Context)
	if err != nil {
		return fmt.Errorf("server at %s: %w", client.BaseURL(), err)
	}
	stats, err := client.Stats(c.Context)
	if err != nil {
		return err
	}

	if format != output.FormatTable {
		report := map[string]any{"health": health, "stats": stats}
		if c.Bool("sessions") {
			sessions, err := client.Sessions(c.Context)
			if err != nil {
				return err
			}
			report["sessions"] = sessions.Sessions
		}
		return formatter.Format(out, report)
	}

	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("status", health.Status)
	t.AddRow("storage", health.Storage)
	t.AddRow("connections", fmt.Sprint(stats.Connections))
	t.AddRow("users", fmt.Sprint(stats.Users))
	t.AddRow("devices", fmt.Sprint(stats.Devices))
	t.AddRow("active_devices", fmt.Sprint(stats.ActiveDevices))
	t.AddRow("domains", fmt.Sprint(stats.Domains))
	if err := formatter.Format(out, t); err != nil {
		return err
	}

	if !c.Bool("sessions") {
		return nil
	}
	sessions, err := client.Sessions(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	return formatter.Format(out, sessions.Sessions)
}
