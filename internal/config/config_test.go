package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/programme-lv/ancm/api"
	"github.com/programme-lv/ancm/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`
[aspNetCore]
process_path = "./startupfail"
`))
	require.NoError(t, err)
	assert.Equal(t, config.HostingModelInProcess, cfg.HostingModel)
	assert.Equal(t, config.DefaultStartupTimeLimit, cfg.StartupTimeLimit.Std())
	assert.Equal(t, config.DefaultShutdownTimeLimit, cfg.ShutdownTimeLimit.Std())
	assert.Equal(t, config.DefaultApplicationPath, cfg.ApplicationPath)
	assert.Equal(t, config.DefaultConfigPath, cfg.ConfigPath)
	assert.Equal(t, "IIS Express AspNetCore Module V2", cfg.Source())
}

func TestParseFull(t *testing.T) {
	cfg, err := config.Parse([]byte(`
[aspNetCore]
process_path = "dotnet"
arguments = "app.dll --urls http://localhost"
hosting_model = "InProcess"
stdout_log_enabled = true
stdout_log_file = "logs/std"
startup_time_limit = "5s"
shutdown_time_limit = "500ms"
disable_startup_error_page = true
server_type = "iis"
module_version = "v1"

[aspNetCore.environment_variables]
ASPNETCORE_INPROCESS_STARTUP_VALUE = "CheckLogFile"
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"app.dll", "--urls", "http://localhost"}, cfg.Args())
	assert.True(t, cfg.StdoutLogEnabled)
	assert.Equal(t, 5*time.Second, cfg.StartupTimeLimit.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.ShutdownTimeLimit.Std())
	assert.True(t, cfg.DisableStartupErrorPage)
	assert.Equal(t, "IIS AspNetCore Module", cfg.Source())
	assert.Equal(t, "CheckLogFile", cfg.EnvironmentVariables["ASPNETCORE_INPROCESS_STARTUP_VALUE"])
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		reason string
	}{
		{
			name:   "missing process path",
			doc:    "[aspNetCore]\narguments = \"x\"\n",
			reason: "Attribute 'process_path' is required",
		},
		{
			name:   "unknown hosting model",
			doc:    "[aspNetCore]\nprocess_path = \"x\"\nhosting_model = \"bogus\"\n",
			reason: "Unknown hosting model 'bogus'",
		},
		{
			name:   "log file required",
			doc:    "[aspNetCore]\nprocess_path = \"x\"\nstdout_log_enabled = true\nstdout_log_file = \"\"\n",
			reason: "Attribute 'stdout_log_file' is required",
		},
		{
			name:   "bad duration",
			doc:    "[aspNetCore]\nprocess_path = \"x\"\nstartup_time_limit = \"soon\"\n",
			reason: "Invalid document",
		},
		{
			name:   "server type",
			doc:    "[aspNetCore]\nprocess_path = \"x\"\nserver_type = \"nginx\"\n",
			reason: "Unknown server type 'nginx'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.doc))
			var lerr *config.LoadError
			require.True(t, errors.As(err, &lerr), "got %v", err)
			assert.Contains(t, lerr.Reason, tt.reason)
			assert.Contains(t, err.Error(), "Configuration load error. ")
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	doc := "[aspNetCore]\nprocess_path = \"bin/app\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(doc), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, abs, cfg.ContentRoot)
	assert.Equal(t, filepath.Join(abs, "bin", "app"), cfg.ResolveProcessPath())
}

func TestLoadMissing(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	var lerr *config.LoadError
	require.True(t, errors.As(err, &lerr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestResolveProcessPathBareName(t *testing.T) {
	cfg := config.Default()
	cfg.ProcessPath = "dotnet"
	cfg.ContentRoot = "/srv/site"
	assert.Equal(t, "dotnet", cfg.ResolveProcessPath())

	cfg.ServerType = api.ServerIIS
	cfg.ModuleVersion = api.ModuleV2
	assert.Equal(t, "IIS AspNetCore Module V2", cfg.Source())
}

func TestWriteThenLoad(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.ProcessPath = "/usr/bin/app"
	cfg.StdoutLogEnabled = true
	cfg.ShutdownTimeLimit = config.Duration(3 * time.Second)
	cfg.EnvironmentVariables = map[string]string{"A": "b"}

	require.NoError(t, config.Write(filepath.Join(dir, config.FileName), &cfg))
	loaded, err := config.Load(dir)
	require.NoError(t, err)

	cfg.ContentRoot = loaded.ContentRoot
	assert.Equal(t, cfg, *loaded)
}
