package report_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/programme-lv/ancm/api"
	"github.com/programme-lv/ancm/internal/eventlog"
	"github.com/programme-lv/ancm/internal/logging"
	"github.com/programme-lv/ancm/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cfg = report.Config{
	Source:          api.ProviderName(api.ServerIISExpress, api.ModuleV2),
	ApplicationPath: "/LM/W3SVC/1/ROOT",
	ConfigPath:      "MACHINE/WEBROOT/APPHOST/HTTPTESTSITE",
}

func newReporter() (*report.Reporter, *eventlog.Memory) {
	mem := eventlog.NewMemory(0)
	return report.New(mem, cfg, logging.Discard()), mem
}

func TestReportFailureProducesOneRecord(t *testing.T) {
	ctx := context.Background()
	r, mem := newReporter()
	root := filepath.Join(t.TempDir(), "site")

	out := report.Output{Stdout: "Random number: 123\n"}
	assert.True(t, r.ReportFailure(ctx, 77, root, "Managed application exited with code 0.", out))
	assert.False(t, r.ReportFailure(ctx, 77, root, "Managed application exited with code 0.", out))

	recs := mem.Records()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "IIS Express AspNetCore Module V2", rec.Source)
	assert.Equal(t, api.LevelError, rec.Level)
	assert.Equal(t, "Process Id: 77.", rec.ReplacementFields[1])
	assert.Len(t, rec.ReplacementFields, 3)
	assert.True(t, strings.HasPrefix(rec.Message,
		"Application '/LM/W3SVC/1/ROOT' with physical root '"+root+string(filepath.Separator)+"' failed to load clr and managed application. Managed application exited with code 0."))
	assert.Contains(t, rec.Message, api.CapturedOutputHeader+"Random number: 123\n")

	rep, ok := r.Failure(77, api.StartupFailure)
	require.True(t, ok)
	assert.Equal(t, "Random number: 123\n", rep.CapturedStdout)
	assert.Equal(t, root, rep.ContentRoot)
}

func TestDistinctKindsAndProcessesAreReportedSeparately(t *testing.T) {
	ctx := context.Background()
	r, mem := newReporter()

	assert.True(t, r.ReportThreadExit(ctx, 5, "/srv/site", 3, report.Output{}))
	assert.True(t, r.ReportThreadException(ctx, 5, "/srv/site", "boom", report.Output{}))
	assert.True(t, r.ReportThreadExit(ctx, 6, "/srv/site", 3, report.Output{}))
	assert.False(t, r.ReportThreadExit(ctx, 5, "/srv/site", 4, report.Output{}))

	recs := mem.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "Application '/LM/W3SVC/1/ROOT' with physical root '/srv/site/' hit unexpected managed background thread exit, exit code = '3'.", recs[0].Message)
	assert.Equal(t, "Application '/LM/W3SVC/1/ROOT' with physical root '/srv/site/' hit unexpected managed exception, exception text = 'boom'.", recs[1].Message)

	rep, ok := r.Failure(5, api.ThreadExit)
	require.True(t, ok)
	require.NotNil(t, rep.ExitCode)
	assert.Equal(t, 3, *rep.ExitCode)
}

func TestConcurrentReportsOfSameCause(t *testing.T) {
	ctx := context.Background()
	r, mem := newReporter()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ReportFailure(ctx, 9, "/srv/site", "crash", report.Output{})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, mem.Len())
}

func TestInformationalRecords(t *testing.T) {
	ctx := context.Background()
	r, mem := newReporter()

	r.ReportStarted(ctx, 1, "/srv/site")
	r.ReportShutdown(ctx, 1)
	r.ReportRecycleAppOffline(ctx, 1)
	assert.True(t, r.ReportConfigurationError(ctx, 2, "/srv/site", "Attribute 'processPath' is required"))
	assert.True(t, r.ReportShutdownFailure(ctx, 1, "/srv/site"))
	assert.True(t, r.ReportStartError(ctx, 1, 1, "/srv/site", "0x8007023e"))

	var msgs []string
	for _, rec := range mem.Records() {
		msgs = append(msgs, rec.Message)
	}
	assert.Equal(t, []string{
		"Application '/srv/site/' started the coreclr in-process successfully.",
		"Application 'MACHINE/WEBROOT/APPHOST/HTTPTESTSITE' has shutdown.",
		"Application 'MACHINE/WEBROOT/APPHOST/HTTPTESTSITE' was recycled after detecting the app_offline file.",
		"Configuration load error. Attribute 'processPath' is required",
		"Failed to gracefully shutdown application 'MACHINE/WEBROOT/APPHOST/HTTPTESTSITE'.",
		"Failed to start application '/LM/W3SVC/1/ROOT', ErrorCode '0x8007023e'.",
	}, msgs)
}

type failingSink struct{}

func (failingSink) Append(context.Context, api.LogRecord) error { return assert.AnError }

func TestSinkErrorsAreNotReturned(t *testing.T) {
	r := report.New(failingSink{}, cfg, logging.Discard())
	assert.True(t, r.ReportFailure(context.Background(), 1, "/srv/site", "crash", report.Output{}))
}
