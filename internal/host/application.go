// Package host launches the managed application as a child process, waits for
// it to listen, and fronts it with an http.Handler. Failures of the child are
// turned into event log records through a report.Reporter.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/programme-lv/ancm/api"
	"github.com/programme-lv/ancm/internal/capture"
	"github.com/programme-lv/ancm/internal/config"
	"github.com/programme-lv/ancm/internal/report"
)

// AppOfflineFile takes the application offline while it exists in the
// content root.
const AppOfflineFile = "app_offline.htm"

const (
	readinessInterval = 25 * time.Millisecond
	dialTimeout       = 250 * time.Millisecond
	offlineInterval   = 200 * time.Millisecond
)

var (
	ErrStartupFailed   = errors.New("application failed to start")
	ErrStartFailed     = errors.New("failed to launch application process")
	ErrNotStarted      = errors.New("application is not started")
	ErrAlreadyStarted  = errors.New("application is already started")
	ErrStopped         = errors.New("application is stopped")
	ErrShutdownTimeout = errors.New("application did not shut down gracefully")
)

type state int32

const (
	stateStarting state = iota
	stateRunning
	stateFailed
	stateExited
)

// instance is one launch of the child
type instance struct {
	proc    *Process
	capture *capture.Capturer
	proxy   *httputil.ReverseProxy

	state    atomic.Int32
	stopping atomic.Bool
	// settled is closed once the child is ready or its startup failed
	settled chan struct{}
	// done is closed after the child exited and its exit was reported
	done chan struct{}
}

func (inst *instance) load() state { return state(inst.state.Load()) }

// Application supervises the child described by a configuration
type Application struct {
	cfg      *config.Config
	limits   Limits
	reporter *report.Reporter
	logger   *slog.Logger
	hostPid  int

	mu       sync.RWMutex
	launches int
	current  *instance
	started  bool
	stopped  bool
	offline  bool

	watchStop chan struct{}
	watchDone chan struct{}
}

func New(cfg *config.Config, reporter *report.Reporter, logger *slog.Logger) *Application {
	if logger == nil {
		logger = slog.Default()
	}
	return &Application{
		cfg:      cfg,
		limits:   LimitsFromConfig(cfg),
		reporter: reporter,
		logger:   logger.With("app", cfg.ApplicationPath),
		hostPid:  os.Getpid(),
	}
}

// Start launches the child and returns without waiting for it to listen.
// When app_offline.htm is present nothing is launched until it is removed.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrStopped
	}
	if a.started {
		return ErrAlreadyStarted
	}
	a.started = true

	a.watchStop = make(chan struct{})
	a.watchDone = make(chan struct{})
	go a.watchOffline(context.WithoutCancel(ctx))

	if a.appOfflinePresent() {
		a.offline = true
		a.logger.Info("app_offline file present, not starting")
		return nil
	}
	inst, err := a.launch(ctx)
	if err != nil {
		return err
	}
	a.current = inst
	return nil
}

// WaitReady blocks until the current child is ready or its startup failed
func (a *Application) WaitReady(ctx context.Context) error {
	inst := a.instance()
	if inst == nil {
		return ErrNotStarted
	}
	select {
	case <-inst.settled:
	case <-ctx.Done():
		return ctx.Err()
	}
	if inst.load() != stateRunning {
		return ErrStartupFailed
	}
	return nil
}

// Process returns the current child, or nil
func (a *Application) Process() *Process {
	if inst := a.instance(); inst != nil {
		return inst.proc
	}
	return nil
}

// Done is closed once the current child exited and its exit was reported
func (a *Application) Done() <-chan struct{} {
	if inst := a.instance(); inst != nil {
		return inst.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Capture returns the output capture of the current child, or nil
func (a *Application) Capture() *capture.Capturer {
	if inst := a.instance(); inst != nil {
		return inst.capture
	}
	return nil
}

func (a *Application) instance() *instance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// launch must be called with a.mu held
func (a *Application) launch(ctx context.Context) (*instance, error) {
	a.launches++
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("failed to choose port: %w", err)
	}

	opts := []capture.Option{capture.WithLogger(a.logger)}
	if a.cfg.StdoutLogEnabled {
		lf, err := capture.OpenLogFile(a.cfg.ContentRoot, a.cfg.StdoutLogFile, time.Now(), a.hostPid)
		if err != nil {
			a.logger.Warn("could not create stdout log file", "base", a.cfg.StdoutLogFile, "error", err)
		} else {
			opts = append(opts, capture.WithLogFile(lf))
		}
	}
	capt := capture.New(capture.DefaultMaxBytes, opts...)

	spec := SpecFromConfig(a.cfg, port)
	proc, err := StartProcess(spec, capt.Writer(capture.Stdout), capt.Writer(capture.Stderr))
	if err != nil {
		_ = capt.Close()
		a.reporter.ReportStartError(ctx, a.hostPid, a.launches, a.cfg.ContentRoot, errorCode(err))
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	a.logger.Info("launched application process", "pid", proc.Pid(), "port", port)

	target := &url.URL{Scheme: "http", Host: spec.Addr()}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		a.logger.Warn("proxy error", "path", r.URL.Path, "error", err)
		w.WriteHeader(http.StatusBadGateway)
	}

	inst := &instance{
		proc:    proc,
		capture: capt,
		proxy:   proxy,
		settled: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.supervise(context.WithoutCancel(ctx), inst, spec.Addr())
	return inst, nil
}

func (a *Application) supervise(ctx context.Context, inst *instance, addr string) {
	defer close(inst.done)
	pid := inst.proc.Pid()
	root := a.cfg.ContentRoot

	if a.waitListening(inst, addr, time.Now().Add(a.limits.StartupTimeLimit)) {
		inst.state.Store(int32(stateRunning))
		a.reporter.ReportStarted(ctx, pid, root)
		close(inst.settled)

		<-inst.proc.Done()
		_ = inst.capture.Close()
		inst.state.Store(int32(stateExited))
		if !inst.stopping.Load() {
			a.reportCrash(ctx, inst)
		}
		return
	}

	var reason string
	if inst.proc.HasExited() {
		reason = fmt.Sprintf("Managed application exited with code %d.", inst.proc.ExitCode())
	} else {
		reason = fmt.Sprintf("Managed server didn't initialize after %s.", a.limits.StartupTimeLimit)
		_ = inst.proc.Kill()
	}
	<-inst.proc.Done()
	_ = inst.capture.Close()

	if inst.stopping.Load() {
		inst.state.Store(int32(stateExited))
	} else {
		a.reporter.ReportFailure(ctx, pid, root, reason, output(inst.capture))
		inst.state.Store(int32(stateFailed))
	}
	close(inst.settled)
}

// waitListening reports whether the child accepted a connection before the
// deadline. It gives up as soon as the child exits.
func (a *Application) waitListening(inst *instance, addr string, deadline time.Time) bool {
	for {
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			_ = conn.Close()
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-inst.proc.Done():
			return false
		case <-time.After(readinessInterval):
		}
	}
}

func (a *Application) reportCrash(ctx context.Context, inst *instance) {
	pid := inst.proc.Pid()
	out := output(inst.capture)
	if text, ok := exceptionText(inst.capture.Stream(capture.Stderr).String()); ok {
		a.reporter.ReportThreadException(ctx, pid, a.cfg.ContentRoot, text, out)
		return
	}
	a.reporter.ReportThreadExit(ctx, pid, a.cfg.ContentRoot, inst.proc.ExitCode(), out)
}

func output(c *capture.Capturer) report.Output {
	return report.Output{
		Stdout:    c.Stream(capture.Stdout).String(),
		Stderr:    c.Stream(capture.Stderr).String(),
		Truncated: c.Truncated(),
	}
}

// exceptionText finds the first line announcing an unhandled exception or a
// panic in stderr.
func exceptionText(stderr string) (string, bool) {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Unhandled exception.") || strings.HasPrefix(line, "panic:") {
			return line, true
		}
	}
	return "", false
}

// errorCode maps a launch error to the HRESULT the module would log
func errorCode(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, exec.ErrNotFound):
		return "0x80070002"
	case errors.Is(err, fs.ErrPermission):
		return "0x80070005"
	}
	return "0x80004005"
}

func freePort() (int, error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port, nil
}

func (a *Application) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if body, ok := a.appOffline(); ok {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write(body)
		return
	}

	inst := a.instance()
	if inst == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	select {
	case <-inst.settled:
	case <-r.Context().Done():
		return
	}

	switch inst.load() {
	case stateRunning:
		inst.proxy.ServeHTTP(w, r)
	case stateFailed:
		a.writeStartFailure(w)
	default:
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	}
}

func (a *Application) writeStartFailure(w http.ResponseWriter) {
	if a.cfg.DisableStartupErrorPage {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, api.StartFailurePage)
}

// Recycle stops the current child and launches a new one
func (a *Application) Recycle(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrStopped
	}
	if !a.started {
		return ErrNotStarted
	}
	if old := a.current; old != nil {
		a.reporter.ReportRecycleConfiguration(ctx, old.proc.Pid())
		a.stopInstance(ctx, old)
		a.current = nil
	}
	if a.offline {
		return nil
	}
	inst, err := a.launch(ctx)
	if err != nil {
		return err
	}
	a.current = inst
	return nil
}

// Stop shuts the child down. The child is killed when it does not exit
// within the shutdown time limit.
func (a *Application) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	if a.watchStop != nil {
		close(a.watchStop)
		<-a.watchDone
	}

	inst := a.instance()
	if inst == nil {
		return nil
	}
	if !a.stopInstance(ctx, inst) {
		return ErrShutdownTimeout
	}
	return nil
}

// stopInstance reports whether the child stopped gracefully. A child that
// already exited is not reported again.
func (a *Application) stopInstance(ctx context.Context, inst *instance) bool {
	if inst.proc.HasExited() {
		<-inst.done
		return true
	}
	inst.stopping.Store(true)

	pid := inst.proc.Pid()
	graceful := inst.proc.Stop(a.limits.ShutdownTimeLimit)
	<-inst.done
	if graceful {
		a.reporter.ReportShutdown(ctx, pid)
	} else {
		a.reporter.ReportShutdownFailure(ctx, pid, a.cfg.ContentRoot)
	}
	return graceful
}

func (a *Application) appOfflinePath() string {
	return filepath.Join(a.cfg.ContentRoot, AppOfflineFile)
}

func (a *Application) appOfflinePresent() bool {
	_, err := os.Stat(a.appOfflinePath())
	return err == nil
}

func (a *Application) appOffline() ([]byte, bool) {
	body, err := os.ReadFile(a.appOfflinePath())
	if err != nil {
		return nil, false
	}
	return body, true
}

// watchOffline recycles the child when app_offline.htm appears and launches
// it again once the file is gone.
func (a *Application) watchOffline(ctx context.Context) {
	defer close(a.watchDone)
	ticker := time.NewTicker(offlineInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.watchStop:
			return
		case <-ticker.C:
		}
		present := a.appOfflinePresent()
		if present {
			a.goOffline(ctx)
		} else {
			a.goOnline(ctx)
		}
	}
}

func (a *Application) goOffline(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.offline || a.stopped {
		return
	}
	a.offline = true
	if inst := a.current; inst != nil {
		a.reporter.ReportRecycleAppOffline(ctx, inst.proc.Pid())
		a.stopInstance(ctx, inst)
		a.current = nil
	}
}

func (a *Application) goOnline(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.offline || a.stopped {
		return
	}
	a.offline = false
	inst, err := a.launch(ctx)
	if err != nil {
		a.logger.Error("failed to relaunch after app_offline removal", "error", err)
		return
	}
	a.current = inst
}
