// Package report turns child process failures into event log records.
//
// A Reporter produces at most one record per process and failure kind; a
// second report of the same cause is dropped. Delivery is fire-and-forget:
// sink errors are logged and never returned to the caller.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/programme-lv/ancm/api"
	"github.com/programme-lv/ancm/internal/eventlog"
	"github.com/puzpuzpuz/xsync/v3"
)

// Reporter writes records under one provider name
type Reporter struct {
	sink       eventlog.Writer
	source     string
	appPath    string
	configPath string
	logger     *slog.Logger

	reported *xsync.MapOf[string, api.FailureReport]
}

type Config struct {
	Source string
	// ApplicationPath is the IIS application path, e.g. /LM/W3SVC/1/ROOT.
	ApplicationPath string
	// ConfigPath is the configuration path used by shutdown and recycle messages.
	ConfigPath string
}

func New(sink eventlog.Writer, cfg Config, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		sink:       sink,
		source:     cfg.Source,
		appPath:    cfg.ApplicationPath,
		configPath: cfg.ConfigPath,
		logger:     logger,
		reported:   xsync.NewMapOf[string, api.FailureReport](),
	}
}

func (r *Reporter) Source() string { return r.source }

// Output is the captured child output attached to a failure
type Output struct {
	Stdout    string
	Stderr    string
	Truncated bool
}

func (o Output) combined() string { return o.Stdout + o.Stderr }

// ReportFailure records a startup failure of pid
func (r *Reporter) ReportFailure(ctx context.Context, pid int, contentRoot string, reason string, out Output) bool {
	msg := api.WithCapturedOutput(api.InProcessFailedToStartMsg(r.appPath, contentRoot, reason), out.combined())
	return r.fail(ctx, api.FailureReport{
		ProcessId:   pid,
		ContentRoot: contentRoot,
		Kind:        api.StartupFailure,
		Reason:      reason,
	}, out, api.EventLoadClrFailure, msg)
}

// ReportThreadException records an exception raised after startup completed
func (r *Reporter) ReportThreadException(ctx context.Context, pid int, contentRoot string, exceptionText string, out Output) bool {
	msg := api.WithCapturedOutput(api.InProcessThreadExceptionMsg(r.appPath, contentRoot, exceptionText), out.combined())
	return r.fail(ctx, api.FailureReport{
		ProcessId:   pid,
		ContentRoot: contentRoot,
		Kind:        api.ThreadException,
		Reason:      exceptionText,
	}, out, api.EventThreadException, msg)
}

// ReportThreadExit records an unexpected exit after startup completed
func (r *Reporter) ReportThreadExit(ctx context.Context, pid int, contentRoot string, exitCode int, out Output) bool {
	msg := api.WithCapturedOutput(api.InProcessThreadExitMsg(r.appPath, contentRoot, exitCode), out.combined())
	code := exitCode
	return r.fail(ctx, api.FailureReport{
		ProcessId:   pid,
		ContentRoot: contentRoot,
		Kind:        api.ThreadExit,
		Reason:      fmt.Sprintf("exit code %d", exitCode),
		ExitCode:    &code,
	}, out, api.EventThreadExit, msg)
}

// ReportConfigurationError records an invalid configuration detected by the
// host process pid before any child was launched.
func (r *Reporter) ReportConfigurationError(ctx context.Context, pid int, contentRoot string, reason string) bool {
	return r.fail(ctx, api.FailureReport{
		ProcessId:   pid,
		ContentRoot: contentRoot,
		Kind:        api.ConfigurationError,
		Reason:      reason,
	}, Output{}, api.EventConfigurationLoad, api.ConfigurationLoadErrorMsg(reason))
}

// ReportStartError records that the child could not be launched at all.
// pid is the host's, so attempt tells repeated launches apart.
func (r *Reporter) ReportStartError(ctx context.Context, pid int, attempt int, contentRoot string, code string) bool {
	return r.fail(ctx, api.FailureReport{
		ProcessId:   pid,
		ContentRoot: contentRoot,
		Kind:        api.StartError,
		Reason:      code,
		Attempt:     attempt,
	}, Output{}, api.EventAddApplicationError, api.FailedToStartApplicationMsg(r.appPath, code))
}

// ReportShutdownFailure records that pid had to be killed
func (r *Reporter) ReportShutdownFailure(ctx context.Context, pid int, contentRoot string) bool {
	return r.fail(ctx, api.FailureReport{
		ProcessId:   pid,
		ContentRoot: contentRoot,
		Kind:        api.ShutdownFailure,
		Reason:      "graceful shutdown timed out",
	}, Output{}, api.EventAppShutdownFailure, api.ShutdownFailureMsg(r.configPath))
}

func (r *Reporter) ReportStarted(ctx context.Context, pid int, contentRoot string) {
	r.info(ctx, pid, api.EventInProcessStartSuccess, api.InProcessStartedMsg(contentRoot))
}

func (r *Reporter) ReportShutdown(ctx context.Context, pid int) {
	r.info(ctx, pid, api.EventAppShutdownSuccessful, api.ShutdownSuccessfulMsg(r.configPath))
}

func (r *Reporter) ReportRecycleAppOffline(ctx context.Context, pid int) {
	r.info(ctx, pid, api.EventRecycleAppOffline, api.RecycleAppOfflineMsg(r.configPath))
}

func (r *Reporter) ReportRecycleConfiguration(ctx context.Context, pid int) {
	r.info(ctx, pid, api.EventRecycleConfiguration, api.RecycleConfigurationMsg(r.configPath))
}

// Failure returns the report produced for pid and kind, if any
func (r *Reporter) Failure(pid int, kind api.FailureKind) (api.FailureReport, bool) {
	return r.reported.Load(key(pid, kind, 0))
}

// StartFailure returns the launch error reported for attempt
func (r *Reporter) StartFailure(pid int, attempt int) (api.FailureReport, bool) {
	return r.reported.Load(key(pid, api.StartError, attempt))
}

func key(pid int, kind api.FailureKind, attempt int) string {
	return fmt.Sprintf("%d/%s/%d", pid, kind, attempt)
}

func (r *Reporter) fail(ctx context.Context, rep api.FailureReport, out Output, eventId int, msg string) bool {
	rep.CapturedStdout = out.Stdout
	rep.CapturedStderr = out.Stderr
	rep.Truncated = out.Truncated
	rep.Timestamp = time.Now()

	if _, loaded := r.reported.LoadOrStore(key(rep.ProcessId, rep.Kind, rep.Attempt), rep); loaded {
		r.logger.Debug("dropping duplicate failure report", "pid", rep.ProcessId, "kind", rep.Kind)
		return false
	}

	r.logger.Error("application failure", "pid", rep.ProcessId, "kind", rep.Kind, "reason", rep.Reason)
	if output := rep.CapturedOutput(); output != "" {
		r.logger.Info("captured output", "pid", rep.ProcessId, "truncated", rep.Truncated, "output", output)
	}
	r.send(ctx, api.NewLogRecord(r.source, api.LevelError, eventId, rep.ProcessId, msg))
	return true
}

func (r *Reporter) info(ctx context.Context, pid int, eventId int, msg string) {
	r.logger.Info(msg, "pid", pid)
	r.send(ctx, api.NewLogRecord(r.source, api.LevelInformation, eventId, pid, msg))
}

func (r *Reporter) send(ctx context.Context, rec api.LogRecord) {
	if err := r.sink.Append(ctx, rec); err != nil {
		r.logger.Warn("failed to deliver event log record", "id", rec.Id, "error", err)
	}
}
