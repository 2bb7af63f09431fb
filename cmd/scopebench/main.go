package main

import (
	"context"
	"log"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/urfave/cli/v3"
)

const (
	verboseKey = "verbose"
	itersKey   = "iters"
	widthKey   = "width"
	depthKey   = "depth"
	ttlKey     = "ttl"
)

func main() {
	cmd := &cli.Command{
		Name:  "scopebench",
		Usage: "Exercise the scope observation engine",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    verboseKey,
				Aliases: []string{"v"},
				Usage:   "Log verbosity, 0 is errors only",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			commonlog.Configure(int(cmd.Int(verboseKey)), nil)
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "bench",
				Usage: "Measure write propagation through wide and deep scope trees",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  itersKey,
						Usage: "Writes per tree shape",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  widthKey,
						Usage: "Only run this width, 0 runs the full grid",
					},
					&cli.IntFlag{
						Name:  depthKey,
						Usage: "Only run this depth, 0 runs the full grid",
					},
				},
				Action: bench,
			},
			{
				Name:      "inspect",
				Usage:     "Run a TOML scenario and print every notification",
				ArgsUsage: "<scenario.toml>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  ttlKey,
						Usage: "Override the scenario digest TTL",
					},
				},
				Action: inspect,
			},
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
