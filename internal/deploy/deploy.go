// Package deploy stands up one host application for the duration of a test
// run and ties together everything needed to exercise and verify it.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/programme-lv/ancm/api"
	"github.com/programme-lv/ancm/internal/config"
	"github.com/programme-lv/ancm/internal/eventlog"
	"github.com/programme-lv/ancm/internal/faultapp"
	"github.com/programme-lv/ancm/internal/host"
	"github.com/programme-lv/ancm/internal/poll"
	"github.com/programme-lv/ancm/internal/report"
	"github.com/programme-lv/ancm/internal/verify"
)

// Params describes one deployment
type Params struct {
	ProcessPath string
	Arguments   string
	// ContentRoot is created as a temporary directory when empty and removed
	// again by Stop.
	ContentRoot string

	StartupValue string
	// RandomValue is generated when StartupValue is set and this is empty
	RandomValue string
	Environment map[string]string

	ServerType              api.ServerType
	ModuleVersion           api.ModuleVersion
	StdoutLogEnabled        bool
	DisableStartupErrorPage bool
	StartupTimeLimit        time.Duration
	ShutdownTimeLimit       time.Duration

	// Sink receives every record in addition to the per-run buffer
	Sink   eventlog.Writer
	Logger *slog.Logger
}

func DefaultParams() Params {
	return Params{
		ServerType:        api.ServerIISExpress,
		ModuleVersion:     api.ModuleV2,
		StartupTimeLimit:  config.DefaultStartupTimeLimit,
		ShutdownTimeLimit: config.DefaultShutdownTimeLimit,
	}
}

// Config builds the aspNetCore section for p
func (p *Params) Config() config.Config {
	cfg := config.Default()
	cfg.ProcessPath = p.ProcessPath
	cfg.Arguments = p.Arguments
	cfg.StdoutLogEnabled = p.StdoutLogEnabled
	cfg.DisableStartupErrorPage = p.DisableStartupErrorPage
	if p.ServerType != "" {
		cfg.ServerType = p.ServerType
	}
	if p.ModuleVersion != "" {
		cfg.ModuleVersion = p.ModuleVersion
	}
	if p.StartupTimeLimit > 0 {
		cfg.StartupTimeLimit = config.Duration(p.StartupTimeLimit)
	}
	if p.ShutdownTimeLimit > 0 {
		cfg.ShutdownTimeLimit = config.Duration(p.ShutdownTimeLimit)
	}

	env := make(map[string]string, len(p.Environment)+2)
	for k, v := range p.Environment {
		env[k] = v
	}
	if p.StartupValue != "" {
		env[faultapp.EnvStartupValue] = p.StartupValue
	}
	if p.RandomValue != "" {
		env[faultapp.EnvRandomValue] = p.RandomValue
	}
	cfg.EnvironmentVariables = env
	return cfg
}

// Result is a running deployment
type Result struct {
	Params      Params
	ContentRoot string
	BaseURL     string
	HTTPClient  *http.Client
	Config      *config.Config
	Application *host.Application
	Reporter    *report.Reporter
	// Events holds the records of this run only
	Events *eventlog.Memory

	server     *http.Server
	tempRoot   bool
	deployedAt time.Time
}

// Deploy writes the configuration into the content root, loads it back, and
// starts the application behind a loopback HTTP listener. It returns once the
// child was launched; readiness is observed through requests. When the child
// cannot be launched the result is returned together with host.ErrStartFailed;
// an invalid configuration returns it together with the *config.LoadError.
func Deploy(ctx context.Context, p Params) (*Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p.StartupValue != "" && p.RandomValue == "" {
		p.RandomValue = strconv.Itoa(rand.IntN(10_000_000))
	}

	res := &Result{Params: p, Events: eventlog.NewMemory(0), deployedAt: time.Now()}
	root := p.ContentRoot
	if root == "" {
		dir, err := os.MkdirTemp("", "ancm-site-")
		if err != nil {
			return nil, fmt.Errorf("failed to create content root: %w", err)
		}
		root = dir
		res.tempRoot = true
	}
	res.ContentRoot = root

	draft := p.Config()
	sink := eventlog.Fanout{res.Events, p.Sink}
	if err := config.Write(filepath.Join(root, config.FileName), &draft); err != nil {
		res.cleanup()
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		rep := report.New(sink, report.Config{Source: draft.Source(), ApplicationPath: draft.ApplicationPath, ConfigPath: draft.ConfigPath}, logger)
		var lerr *config.LoadError
		if errors.As(err, &lerr) {
			rep.ReportConfigurationError(ctx, os.Getpid(), root, lerr.Reason)
		}
		// nothing runs, but the record stays in Events for HostVerifier
		res.Config = &draft
		res.Reporter = rep
		return res, err
	}
	res.Config = cfg
	res.Reporter = report.New(sink, report.Config{
		Source:          cfg.Source(),
		ApplicationPath: cfg.ApplicationPath,
		ConfigPath:      cfg.ConfigPath,
	}, logger)
	res.Application = host.New(cfg, res.Reporter, logger)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		res.cleanup()
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	// a child that could not be launched still leaves a deployment to query
	startErr := res.Application.Start(ctx)
	if startErr != nil && !errors.Is(startErr, host.ErrStartFailed) {
		_ = lis.Close()
		_ = res.Application.Stop(ctx)
		res.cleanup()
		return nil, startErr
	}

	res.server = &http.Server{Handler: res.Application, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := res.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("deployment listener stopped", "error", err)
		}
	}()
	res.BaseURL = "http://" + lis.Addr().String()
	res.HTTPClient = &http.Client{Timeout: cfg.StartupTimeLimit.Std() + 10*time.Second}
	logger.Info("deployed", "root", root, "url", res.BaseURL)
	return res, startErr
}

// Process returns the current child process, or nil
func (r *Result) Process() *host.Process {
	if r.Application == nil {
		return nil
	}
	return r.Application.Process()
}

// Get issues one GET for path
func (r *Result) Get(ctx context.Context, path string) (*poll.Response, error) {
	return poll.Get(ctx, r.HTTPClient, r.BaseURL+path)
}

// Poll retries GET path until pred holds
func (r *Result) Poll(ctx context.Context, path string, pred poll.Predicate) (*poll.Response, error) {
	return poll.Retry(ctx, r.HTTPClient, r.BaseURL+path, pred)
}

// Verifier checks the records of the current child. Records reported against
// the host itself, such as launch errors, are checked with HostVerifier.
func (r *Result) Verifier() *verify.Verifier {
	proc := r.Process()
	if proc == nil {
		return r.HostVerifier()
	}
	return verify.New(r.Events, verify.Target{
		Source:    r.Config.Source(),
		Pid:       proc.Pid(),
		StartTime: proc.StartTime(),
	})
}

func (r *Result) HostVerifier() *verify.Verifier {
	return verify.New(r.Events, verify.Target{
		Source:    r.Config.Source(),
		Pid:       os.Getpid(),
		StartTime: r.deployedAt,
	})
}

// Stop shuts the application and the listener down and removes a temporary
// content root. Records stay available in Events.
func (r *Result) Stop(ctx context.Context) error {
	var errs []error
	if r.Application != nil {
		if err := r.Application.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.server != nil {
		if err := r.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop listener: %w", err))
		}
	}
	r.cleanup()
	return errors.Join(errs...)
}

func (r *Result) cleanup() {
	if r.tempRoot {
		_ = os.RemoveAll(r.ContentRoot)
	}
}
