package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli"

	"musictimer/internal/config"
)

// Set by -ldflags at build time.
var (
	version = "dev"
	commit  = ""
)

const description = `musictimer starts a music program at scheduled times of the day, fades the
system volume in after start and out before the end of each window, and
stops the program when the window closes.

Run the daemon with "musictimer run"; every other command talks to it
over its local control endpoint.`

func main() {
	if err := Execute(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "musictimer:", err)
		os.Exit(1)
	}
}

func Execute(args []string) error {
	app := cli.App{
		Name:        "musictimer",
		HelpName:    "musictimer",
		Usage:       "play music on a schedule with volume fades",
		UsageText:   "musictimer [--addr host:port] <command> [arguments...]",
		Version:     version,
		Description: description,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:   "addr, a",
				Usage:  "control address of the running daemon",
				Value:  config.DefaultControlAddr,
				EnvVar: "MUSICTIMER_ADDR",
			},
		},
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "run the scheduler daemon",
				Action: run,
				Flags:  runFlags,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "list scheduled tasks",
				Action:  list,
			},
			{
				Name:                   "add",
				Usage:                  "schedule a new playback window",
				UsageText:              "musictimer add --start 09:00 --end 09:30 --path /usr/bin/rhythmbox [--days mon-fri] [--volume 60]",
				Action:                 add,
				Flags:                  taskCmdFlags(true),
				UseShortOptionHandling: true,
			},
			{
				Name:      "edit",
				Usage:     "change a task; omitted flags keep their values",
				UsageText: "musictimer edit <index> [--start] [--end] [--path] [--days] [--volume]",
				Action:    edit,
				Flags:     taskCmdFlags(false),
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "delete a task, stopping it when running",
				UsageText: "musictimer delete <index>",
				Action:    remove,
			},
			{
				Name:   "status",
				Usage:  "show daemon status",
				Action: status,
			},
			{
				Name:   "history",
				Usage:  "show recent task runs",
				Action: history,
				Flags:  historyFlags,
			},
			{
				Name:      "config",
				Usage:     "print the default configuration",
				UsageText: "musictimer config [--format yaml|json]",
				Action:    printConfig,
				Flags:     configFlags,
			},
			{
				Name:    "version",
				Aliases: []string{"v"},
				Usage:   "prints the installed version",
				Action: func(*cli.Context) error {
					fmt.Printf("musictimer %s (%s_%s) %s\n", version, runtime.GOOS, runtime.GOARCH, commit)
					return nil
				},
			},
		},
		HideVersion: true,
	}
	return app.Run(args)
}
