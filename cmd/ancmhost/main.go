// Command ancmhost fronts a managed web application with an HTTP listener and
// writes its lifecycle and failures to the event log.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/programme-lv/ancm/internal/config"
	"github.com/programme-lv/ancm/internal/environment"
	"github.com/programme-lv/ancm/internal/host"
	"github.com/programme-lv/ancm/internal/logging"
	"github.com/programme-lv/ancm/internal/report"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "ancmhost",
		Usage: "host a managed web application and report its failures",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   ".",
				Usage:   "configuration file, or the content root containing " + config.FileName,
			},
			&cli.StringFlag{
				Name:  "listen",
				Value: "127.0.0.1:8080",
				Usage: "address to accept requests on",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "optional dotenv file with ANCM_* settings",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Action: serve,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	env, err := environment.ReadEnvConfig(cmd.String("env-file"))
	if err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	level := env.LogLevel
	if cmd.IsSet("log-level") {
		level = cmd.String("log-level")
	}
	logger := logging.New(os.Stderr, logging.ParseLevel(level))
	slog.SetDefault(logger)

	sinks, err := env.OpenSinks(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Warn("failed to close event log sinks", "error", err)
		}
	}()

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		var lerr *config.LoadError
		if errors.As(err, &lerr) {
			def := config.Default()
			rep := report.New(sinks.Writer(), report.Config{
				Source:          def.Source(),
				ApplicationPath: def.ApplicationPath,
				ConfigPath:      def.ConfigPath,
			}, logger)
			rep.ReportConfigurationError(ctx, os.Getpid(), cmd.String("config"), lerr.Reason)
		}
		return err
	}

	rep := report.New(sinks.Writer(), report.Config{
		Source:          cfg.Source(),
		ApplicationPath: cfg.ApplicationPath,
		ConfigPath:      cfg.ConfigPath,
	}, logger)
	app := host.New(cfg, rep, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		if !errors.Is(err, host.ErrStartFailed) {
			return err
		}
		logger.Error("application could not be launched", "error", err)
	}

	srv := &http.Server{Addr: cmd.String("listen"), Handler: app, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "root", cfg.ContentRoot)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-serveErr:
			if err != nil {
				_ = app.Stop(context.Background())
				return fmt.Errorf("listener failed: %w", err)
			}
			break loop
		case <-hup:
			logger.Info("recycling on SIGHUP")
			if err := app.Recycle(ctx); err != nil {
				logger.Error("recycle failed", "error", err)
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeLimit.Std()+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("listener did not shut down cleanly", "error", err)
	}
	if err := app.Stop(shutdownCtx); err != nil {
		logger.Warn("application stopped", "error", err)
	}
	return nil
}
