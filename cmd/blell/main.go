package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rigado/blell"
	"github.com/urfave/cli"
)

var version = "0.1.0"

func main() {
	app := cli.NewApp()
	app.Name = "blell"
	app.Usage = "BLE link layer controller on a simulated radio"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log, l",
			Value: "info",
			Usage: "log level: trace, debug, info, warn or error",
		},
	}
	app.Before = func(c *cli.Context) error {
		return blell.SetLogLevel(c.GlobalString("log"))
	}
	app.Commands = []cli.Command{
		serveCommand,
		simCommand,
		aaCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}
