package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/rigado/blell/ll/aa"
	"github.com/urfave/cli"
)

var aaCommand = cli.Command{
	Name:  "aa",
	Usage: "generate or check access addresses",
	Subcommands: []cli.Command{
		{
			Name:  "gen",
			Usage: "generate access addresses",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "count, n",
					Value: 1,
					Usage: "number of addresses",
				},
				cli.IntFlag{
					Name:  "bis",
					Usage: "generate BIG seeds with the derived addresses of this many BISes",
				},
				cli.IntFlag{
					Name:  "max-attempts",
					Usage: "candidates to try per address, 0 for no limit",
				},
			},
			Action: func(c *cli.Context) error {
				return genAA(os.Stdout, c.Int("count"), c.Int("bis"), c.Int("max-attempts"))
			},
		},
		{
			Name:      "check",
			Usage:     "check access addresses against the data channel rules",
			ArgsUsage: "<hex address>...",
			Action: func(c *cli.Context) error {
				if !c.Args().Present() {
					return cli.ShowSubcommandHelp(c)
				}
				return checkAA(os.Stdout, c.Args())
			},
		},
	},
}

func genAA(w io.Writer, count, numBIS, maxAttempts int) error {
	if numBIS < 0 || numBIS > 31 {
		return errors.Errorf("bis count %d out of range", numBIS)
	}
	gen := aa.NewGenerator(aa.WithMaxAttempts(maxAttempts))
	pool, err := aa.NewPool(gen, 0)
	if err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		if numBIS == 0 {
			a, err := pool.Acquire()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "0x%08x\n", a)
			continue
		}

		seed, err := pool.AcquireBIG(uint8(numBIS))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "seed 0x%08x\n", seed)
		for n := 0; n <= numBIS; n++ {
			fmt.Fprintf(w, "  %-8s 0x%08x\n", bisName(n), aa.BIG(seed, uint8(n)))
		}
	}
	fmt.Fprintln(w, color.New(color.Faint).Sprintf("%d candidates drawn", gen.Attempts()))
	return nil
}

func bisName(n int) string {
	if n == 0 {
		return "control"
	}
	return "bis " + strconv.Itoa(n)
}

func checkAA(w io.Writer, args []string) error {
	bad := 0
	for _, s := range args {
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return errors.Wrapf(err, "bad address %q", s)
		}
		if aa.Verify(uint32(v)) {
			fmt.Fprintf(w, "0x%08x %s\n", v, color.GreenString("ok"))
			continue
		}
		bad++
		fmt.Fprintf(w, "0x%08x %s\n", v, color.RedString("invalid"))
	}
	if bad > 0 {
		return errors.Errorf("%d of %d addresses invalid", bad, len(args))
	}
	return nil
}
