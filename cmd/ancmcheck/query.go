package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/programme-lv/ancm/api"
	"github.com/programme-lv/ancm/internal/capture"
	"github.com/programme-lv/ancm/internal/eventlog"
	"github.com/programme-lv/ancm/internal/verify"
	"github.com/urfave/cli/v3"
)

func recordFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "source",
			Value: api.ProviderName(api.ServerIISExpress, api.ModuleV2),
			Usage: "producer identity of the records",
		},
		&cli.IntFlag{Name: "pid", Usage: "process id the records are attributed to"},
		&cli.StringFlag{Name: "archive", Usage: "read a compressed archive instead of the live log"},
	}
}

// openStore returns the live log, or an archive loaded into memory
func openStore(ctx context.Context, cmd *cli.Command) (eventlog.Store, error) {
	if path := cmd.String("archive"); path != "" {
		recs, err := eventlog.ReadArchive(path)
		if err != nil {
			return nil, err
		}
		mem := eventlog.NewMemory(len(recs))
		for _, rec := range recs {
			_ = mem.Append(ctx, rec)
		}
		return mem, nil
	}
	env, err := envConfig(cmd)
	if err != nil {
		return nil, err
	}
	return eventlog.NewFile(env.EventLogPath)
}

func queryCommand() *cli.Command {
	flags := append(recordFlags(),
		&cli.DurationFlag{Name: "since", Usage: "only records newer than this"},
		&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum number of records"},
		&cli.BoolFlag{Name: "full", Usage: "do not shorten messages"},
	)
	return &cli.Command{
		Name:  "query",
		Usage: "print event log records, most recent first",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			store, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			f := eventlog.Filter{Source: cmd.String("source"), Limit: int(cmd.Int("limit"))}
			if pid := int(cmd.Int("pid")); pid != 0 {
				f.ProcessField = api.ProcessIdField(pid)
			}
			if since := cmd.Duration("since"); since > 0 {
				f.Since = time.Now().Add(-since)
			}
			recs, err := store.Query(ctx, f)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				printRecord(rec, cmd.Bool("full"))
			}
			return nil
		},
	}
}

func printRecord(rec api.LogRecord, full bool) {
	lvl := color.New(color.FgCyan)
	switch rec.Level {
	case api.LevelError:
		lvl = color.New(color.FgRed, color.Bold)
	case api.LevelWarning:
		lvl = color.New(color.FgYellow)
	}
	pid := ""
	if len(rec.ReplacementFields) > 1 {
		pid = strings.TrimSuffix(strings.TrimPrefix(rec.ReplacementFields[1], "Process Id: "), ".")
	}
	msg := rec.Message
	if !full {
		msg = capture.Trim(msg, 10, 160)
	}
	fmt.Printf("%s %s %s pid=%s event=%d\n", rec.TimeGenerated.Format(time.RFC3339), lvl.Sprint(strings.ToUpper(string(rec.Level))), rec.Source, pid, rec.EventId)
	fmt.Printf("  %s\n", strings.ReplaceAll(msg, "\n", "\n  "))
}

func verifyCommand() *cli.Command {
	flags := append(recordFlags(),
		&cli.StringFlag{Name: "started", Usage: "process start time, RFC 3339; defaults to the epoch"},
		&cli.StringSliceFlag{Name: "pattern", Usage: "pattern that must match exactly one record"},
		&cli.BoolFlag{Name: "exhaustive", Usage: "also require every record of the process to be matched"},
	)
	return &cli.Command{
		Name:  "verify",
		Usage: "check the records of one process against patterns",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pid := int(cmd.Int("pid"))
			if pid == 0 {
				return cli.Exit("--pid is required", 2)
			}
			patterns := cmd.StringSlice("pattern")
			if len(patterns) == 0 {
				return cli.Exit("at least one --pattern is required", 2)
			}
			var started time.Time
			if s := cmd.String("started"); s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return fmt.Errorf("invalid --started: %w", err)
				}
				started = t
			}

			store, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			v := verify.New(store, verify.Target{Source: cmd.String("source"), Pid: pid, StartTime: started})
			if cmd.Bool("exhaustive") {
				err = v.VerifyMultipleMatches(ctx, patterns...)
			} else {
				for _, pattern := range patterns {
					if _, err = v.VerifySingleMatch(ctx, pattern); err != nil {
						break
					}
				}
			}
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			color.New(color.FgGreen).Printf("OK: %d pattern(s) matched for pid %d\n", len(patterns), pid)
			return nil
		},
	}
}
