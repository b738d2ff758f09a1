// Command ancmcheck runs startup scenarios against ancmhost deployments and
// inspects the shared event log.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/programme-lv/ancm/internal/behave"
	"github.com/programme-lv/ancm/internal/environment"
	"github.com/programme-lv/ancm/internal/logging"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "ancmcheck",
		Usage: "verify failure reporting of hosted applications",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "optional dotenv file with ANCM_* settings",
			},
			&cli.StringFlag{
				Name:  "event-log",
				Usage: "JSONL event log, overrides ANCM_EVENT_LOG",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			queryCommand(),
			verifyCommand(),
			archiveCommand(),
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envConfig(cmd *cli.Command) (*environment.EnvConfig, error) {
	env, err := environment.ReadEnvConfig(cmd.String("env-file"))
	if err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if cmd.IsSet("event-log") {
		env.EventLogPath = cmd.String("event-log")
	}
	return env, nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "deploy every scenario of a TOML file and check its outcome",
		ArgsUsage: "<scenarios.toml>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "concurrency", Value: 4, Usage: "scenarios run at once"},
			&cli.StringFlag{Name: "process-path", Usage: "override the application of every scenario"},
			&cli.BoolFlag{Name: "verbose", Usage: "log deployment progress"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("expected exactly one scenario file", 2)
			}
			cases, err := behave.ParseFile(cmd.Args().First())
			if err != nil {
				return err
			}
			if p := cmd.String("process-path"); p != "" {
				for i := range cases {
					cases[i].Params.ProcessPath = p
				}
			}

			env, err := envConfig(cmd)
			if err != nil {
				return err
			}
			sinks, err := env.OpenSinks(ctx)
			if err != nil {
				return err
			}
			defer sinks.Close()

			logger := logging.Discard()
			if cmd.Bool("verbose") {
				logger = logging.New(os.Stderr, logging.ParseLevel(env.LogLevel))
			}
			term := behave.NewTerminal(os.Stdout)
			behave.Run(ctx, cases, behave.RunOptions{
				Concurrency: int(cmd.Int("concurrency")),
				Sink:        sinks.Writer(),
				Logger:      logger,
				Observer:    term,
			})
			if !term.Summary() {
				return cli.Exit("some scenarios failed", 1)
			}
			return nil
		},
	}
}

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "compress the event log and start a new one",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			env, err := envConfig(cmd)
			if err != nil {
				return err
			}
			sinks, err := env.OpenSinks(ctx)
			if err != nil {
				return err
			}
			defer sinks.Close()

			path, err := sinks.File.Archive(time.Now())
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}
