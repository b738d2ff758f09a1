package host_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/programme-lv/ancm/api"
	"github.com/programme-lv/ancm/internal/config"
	"github.com/programme-lv/ancm/internal/eventlog"
	"github.com/programme-lv/ancm/internal/faultapp"
	"github.com/programme-lv/ancm/internal/host"
	"github.com/programme-lv/ancm/internal/logging"
	"github.com/programme-lv/ancm/internal/report"
	"github.com/programme-lv/ancm/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helperEnv makes the test binary act as the managed application
const helperEnv = "ANCM_TEST_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(faultapp.Main())
	}
	os.Exit(m.Run())
}

type fixture struct {
	cfg    *config.Config
	mem    *eventlog.Memory
	rep    *report.Reporter
	app    *host.Application
	server *httptest.Server
}

func testConfig(t *testing.T, startupValue string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ProcessPath = os.Args[0]
	cfg.ContentRoot = t.TempDir()
	cfg.StartupTimeLimit = config.Duration(10 * time.Second)
	cfg.ShutdownTimeLimit = config.Duration(2 * time.Second)
	cfg.EnvironmentVariables = map[string]string{
		helperEnv:                "1",
		faultapp.EnvStartupValue: startupValue,
		faultapp.EnvRandomValue:  "4242",
	}
	return &cfg
}

func start(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	mem := eventlog.NewMemory(0)
	rep := report.New(mem, report.Config{
		Source:          cfg.Source(),
		ApplicationPath: cfg.ApplicationPath,
		ConfigPath:      cfg.ConfigPath,
	}, logging.Discard())
	app := host.New(cfg, rep, logging.Discard())
	require.NoError(t, app.Start(context.Background()))

	srv := httptest.NewServer(app)
	t.Cleanup(func() {
		srv.Close()
		_ = app.Stop(context.Background())
	})
	return &fixture{cfg: cfg, mem: mem, rep: rep, app: app, server: srv}
}

func (f *fixture) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := f.server.Client().Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

// probe is safe to call from Eventually conditions
func (f *fixture) probe(path string) int {
	resp, err := f.server.Client().Get(f.server.URL + path)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func (f *fixture) verifier(proc *host.Process) *verify.Verifier {
	return verify.New(f.mem, verify.Target{
		Source:    f.cfg.Source(),
		Pid:       proc.Pid(),
		StartTime: proc.StartTime(),
	})
}

func TestStartupFailureServesErrorPage(t *testing.T) {
	f := start(t, testConfig(t, faultapp.CheckLogFile))

	status, body := f.get(t, "/")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body, api.StartFailureTitle)

	proc := f.app.Process()
	require.NotNil(t, proc)
	assert.True(t, proc.HasExited())
	assert.Equal(t, 0, proc.ExitCode())
	assert.ErrorIs(t, f.app.WaitReady(context.Background()), host.ErrStartupFailed)

	rec, err := f.verifier(proc).VerifySingleMatch(context.Background(),
		verify.InProcessFailedToStart(f.cfg.ContentRoot, ".*Random number: 4242"))
	require.NoError(t, err)
	assert.Equal(t, api.LevelError, rec.Level)

	// later requests keep failing without new records
	status, _ = f.get(t, "/HelloWorld")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, 1, f.mem.Len())
}

func TestStartupFailureWithoutErrorPage(t *testing.T) {
	cfg := testConfig(t, faultapp.CheckErrLogFile)
	cfg.DisableStartupErrorPage = true
	f := start(t, cfg)

	status, body := f.get(t, "/")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Empty(t, body)
}

func TestLargeWritesAreNotTruncated(t *testing.T) {
	for _, value := range []string{faultapp.CheckLargeStdOutWrites, faultapp.CheckLargeStdErrWrites} {
		t.Run(value, func(t *testing.T) {
			f := start(t, testConfig(t, value))
			status, _ := f.get(t, "/")
			assert.Equal(t, http.StatusInternalServerError, status)

			rep, ok := f.rep.Failure(f.app.Process().Pid(), api.StartupFailure)
			require.True(t, ok)
			assert.False(t, rep.Truncated)
			assert.Contains(t, rep.CapturedOutput(), strings.Repeat("a", faultapp.LargeWriteSize))
		})
	}
}

func TestOversizedWritesAreTruncated(t *testing.T) {
	for _, value := range []string{faultapp.CheckOversizedStdOutWrites, faultapp.CheckOversizedStdErrWrites} {
		t.Run(value, func(t *testing.T) {
			f := start(t, testConfig(t, value))
			status, _ := f.get(t, "/")
			assert.Equal(t, http.StatusInternalServerError, status)

			rep, ok := f.rep.Failure(f.app.Process().Pid(), api.StartupFailure)
			require.True(t, ok)
			assert.True(t, rep.Truncated)
			out := rep.CapturedOutput()
			assert.Equal(t, faultapp.LargeWriteSize, strings.Count(out, "a"))
			assert.NotContains(t, out, strings.Repeat("a", faultapp.LargeWriteSize+1))
		})
	}
}

func TestStartAndStop(t *testing.T) {
	f := start(t, testConfig(t, ""))
	require.NoError(t, f.app.WaitReady(context.Background()))

	status, body := f.get(t, "/HelloWorld")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Hello World", body)

	proc := f.app.Process()
	require.NoError(t, f.app.Stop(context.Background()))
	assert.True(t, proc.HasExited())

	require.NoError(t, f.verifier(proc).VerifyMultipleMatches(context.Background(),
		verify.InProcessStarted(f.cfg.ContentRoot),
		verify.ShutdownCompleted(f.cfg.ConfigPath),
	))
}

func TestThreadException(t *testing.T) {
	f := start(t, testConfig(t, ""))
	require.NoError(t, f.app.WaitReady(context.Background()))
	proc := f.app.Process()

	status, _ := f.get(t, "/Throw")
	assert.Equal(t, http.StatusInternalServerError, status)

	select {
	case <-f.app.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("application did not exit")
	}
	_, err := f.verifier(proc).VerifySingleMatch(context.Background(),
		verify.InProcessThreadException(f.cfg.ContentRoot, ", exception text = 'Unhandled exception.*'"))
	require.NoError(t, err)
}

func TestThreadExit(t *testing.T) {
	f := start(t, testConfig(t, ""))
	require.NoError(t, f.app.WaitReady(context.Background()))
	proc := f.app.Process()

	status, _ := f.get(t, "/Exit?code=3")
	assert.Equal(t, http.StatusOK, status)

	require.True(t, proc.WaitForExit(10*time.Second))
	<-f.app.Done()
	assert.Equal(t, 3, proc.ExitCode())
	_, err := f.verifier(proc).VerifySingleMatch(context.Background(),
		verify.InProcessThreadExit(f.cfg.ContentRoot, "3"))
	require.NoError(t, err)
}

func TestShutdownTimeout(t *testing.T) {
	cfg := testConfig(t, faultapp.IgnoreShutdown)
	cfg.ShutdownTimeLimit = config.Duration(300 * time.Millisecond)
	f := start(t, cfg)
	require.NoError(t, f.app.WaitReady(context.Background()))
	proc := f.app.Process()

	assert.ErrorIs(t, f.app.Stop(context.Background()), host.ErrShutdownTimeout)
	assert.True(t, proc.HasExited())
	_, err := f.verifier(proc).VerifySingleMatch(context.Background(),
		verify.InProcessFailedToStop(cfg.ConfigPath))
	require.NoError(t, err)
}

func TestStartErrorForMissingExecutable(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.ProcessPath = filepath.Join(cfg.ContentRoot, "missing.exe")
	mem := eventlog.NewMemory(0)
	rep := report.New(mem, report.Config{Source: cfg.Source(), ApplicationPath: cfg.ApplicationPath}, logging.Discard())
	app := host.New(cfg, rep, logging.Discard())

	started := time.Now()
	err := app.Start(context.Background())
	assert.ErrorIs(t, err, host.ErrStartFailed)
	require.NoError(t, app.Stop(context.Background()))

	v := verify.New(mem, verify.Target{Source: cfg.Source(), Pid: os.Getpid(), StartTime: started})
	_, err = v.VerifySingleMatch(context.Background(), verify.FailedToStartApplication("0x80070002"))
	require.NoError(t, err)
}

func TestEveryFailedLaunchIsReported(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "")
	cfg.ProcessPath = filepath.Join(cfg.ContentRoot, "missing.exe")
	mem := eventlog.NewMemory(0)
	rep := report.New(mem, report.Config{Source: cfg.Source(), ApplicationPath: cfg.ApplicationPath}, logging.Discard())
	app := host.New(cfg, rep, logging.Discard())

	started := time.Now()
	assert.ErrorIs(t, app.Start(ctx), host.ErrStartFailed)
	assert.ErrorIs(t, app.Recycle(ctx), host.ErrStartFailed)
	assert.ErrorIs(t, app.Recycle(ctx), host.ErrStartFailed)
	require.NoError(t, app.Stop(ctx))

	for attempt := 1; attempt <= 3; attempt++ {
		_, ok := rep.StartFailure(os.Getpid(), attempt)
		assert.True(t, ok, "attempt %d", attempt)
	}

	v := verify.New(mem, verify.Target{Source: cfg.Source(), Pid: os.Getpid(), StartTime: started})
	recs, err := v.Records(ctx)
	require.NoError(t, err)
	re := regexp.MustCompile("(?s)" + verify.FailedToStartApplication("0x80070002"))
	matched := 0
	for _, rec := range recs {
		if re.MatchString(rec.Message) {
			matched++
		}
	}
	assert.Equal(t, 3, matched)
}

func TestRecycle(t *testing.T) {
	f := start(t, testConfig(t, ""))
	require.NoError(t, f.app.WaitReady(context.Background()))
	first := f.app.Process()

	require.NoError(t, f.app.Recycle(context.Background()))
	require.NoError(t, f.app.WaitReady(context.Background()))
	second := f.app.Process()
	assert.NotEqual(t, first.Pid(), second.Pid())
	assert.True(t, first.HasExited())

	status, _ := f.get(t, "/HelloWorld")
	assert.Equal(t, http.StatusOK, status)

	require.NoError(t, f.verifier(first).VerifyMultipleMatches(context.Background(),
		verify.InProcessStarted(f.cfg.ContentRoot),
		verify.RecycledConfiguration(f.cfg.ConfigPath),
		verify.ShutdownCompleted(f.cfg.ConfigPath),
	))
}

func TestAppOffline(t *testing.T) {
	cfg := testConfig(t, "")
	offline := filepath.Join(cfg.ContentRoot, host.AppOfflineFile)
	require.NoError(t, os.WriteFile(offline, []byte("down for maintenance"), 0o644))

	f := start(t, cfg)
	status, body := f.get(t, "/HelloWorld")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "down for maintenance", body)
	assert.Nil(t, f.app.Process())

	require.NoError(t, os.Remove(offline))
	require.Eventually(t, func() bool {
		return f.probe("/HelloWorld") == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	proc := f.app.Process()
	require.NoError(t, os.WriteFile(offline, []byte("again"), 0o644))
	require.Eventually(t, proc.HasExited, 10*time.Second, 50*time.Millisecond)

	status, body = f.get(t, "/")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "again", body)

	require.Eventually(t, func() bool {
		_, err := f.verifier(proc).VerifySingleMatch(context.Background(), verify.RecycledAppOffline(cfg.ConfigPath))
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStdoutLogFile(t *testing.T) {
	cfg := testConfig(t, faultapp.CheckLogFile)
	cfg.StdoutLogEnabled = true
	cfg.StdoutLogFile = "logs/stdout"
	f := start(t, cfg)

	status, _ := f.get(t, "/")
	assert.Equal(t, http.StatusInternalServerError, status)

	matches, err := filepath.Glob(filepath.Join(cfg.ContentRoot, "logs", "stdout_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "Random number: 4242\n", string(data))
}

func TestStdoutLogFileSurvivesRecycle(t *testing.T) {
	cfg := testConfig(t, faultapp.CheckLogFile)
	cfg.StdoutLogEnabled = true
	cfg.StdoutLogFile = "logs/stdout"
	f := start(t, cfg)

	status, _ := f.get(t, "/")
	assert.Equal(t, http.StatusInternalServerError, status)
	first := f.app.Process()
	require.True(t, first.HasExited())

	cfg.EnvironmentVariables[faultapp.EnvStartupValue] = ""
	require.NoError(t, f.app.Recycle(context.Background()))
	require.NoError(t, f.app.WaitReady(context.Background()))
	require.NoError(t, f.app.Stop(context.Background()))

	matches, err := filepath.Glob(filepath.Join(cfg.ContentRoot, "logs", "stdout_*.log"))
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	var all strings.Builder
	for _, m := range matches {
		data, err := os.ReadFile(m)
		require.NoError(t, err)
		all.Write(data)
	}
	assert.Contains(t, all.String(), "Random number: 4242\n")
}
