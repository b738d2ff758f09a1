// Package config loads the aspNetCore section that tells the host which
// application to launch and how to supervise it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/ancm/api"
)

// FileName is looked up in the content root when no path is given
const FileName = "ancm.toml"

const (
	DefaultApplicationPath   = "/LM/W3SVC/1/ROOT"
	DefaultConfigPath        = "MACHINE/WEBROOT/APPHOST/HTTPTESTSITE"
	DefaultStdoutLogFile     = "logs/stdout"
	DefaultStartupTimeLimit  = 120 * time.Second
	DefaultShutdownTimeLimit = 10 * time.Second
)

const HostingModelInProcess = "inprocess"

// Duration is a time.Duration written as a Go duration string, e.g. "10s"
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the aspNetCore section
type Config struct {
	ProcessPath             string            `toml:"process_path"`
	Arguments               string            `toml:"arguments"`
	HostingModel            string            `toml:"hosting_model"`
	StdoutLogEnabled        bool              `toml:"stdout_log_enabled"`
	StdoutLogFile           string            `toml:"stdout_log_file"`
	StartupTimeLimit        Duration          `toml:"startup_time_limit"`
	ShutdownTimeLimit       Duration          `toml:"shutdown_time_limit"`
	DisableStartupErrorPage bool              `toml:"disable_startup_error_page"`
	ServerType              api.ServerType    `toml:"server_type"`
	ModuleVersion           api.ModuleVersion `toml:"module_version"`
	ApplicationPath         string            `toml:"application_path"`
	ConfigPath              string            `toml:"config_path"`
	EnvironmentVariables    map[string]string `toml:"environment_variables"`

	// ContentRoot is the directory the configuration was loaded from
	ContentRoot string `toml:"-"`
}

type document struct {
	AspNetCore *Config `toml:"aspNetCore"`
}

// LoadError is an invalid or unreadable configuration
type LoadError struct {
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	return api.ConfigurationLoadErrorMsg(e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Default returns a configuration with every optional field set
func Default() Config {
	return Config{
		HostingModel:      HostingModelInProcess,
		StdoutLogFile:     DefaultStdoutLogFile,
		StartupTimeLimit:  Duration(DefaultStartupTimeLimit),
		ShutdownTimeLimit: Duration(DefaultShutdownTimeLimit),
		ServerType:        api.ServerIISExpress,
		ModuleVersion:     api.ModuleV2,
		ApplicationPath:   DefaultApplicationPath,
		ConfigPath:        DefaultConfigPath,
	}
}

// Load reads path, or FileName inside path when it is a directory
func Load(path string) (*Config, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{Reason: fmt.Sprintf("Could not resolve '%s'", path), Err: err}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, &LoadError{Reason: fmt.Sprintf("Could not read '%s'", abs), Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ContentRoot = filepath.Dir(abs)
	return cfg, nil
}

// Parse decodes and validates a configuration document
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	doc := document{AspNetCore: &cfg}
	if err := toml.Unmarshal(data, &doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, &LoadError{Reason: fmt.Sprintf("Invalid document at line %d, column %d: %s", row, col, derr.Error()), Err: err}
		}
		return nil, &LoadError{Reason: "Invalid document: " + err.Error(), Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.HostingModel == "" || strings.EqualFold(c.HostingModel, HostingModelInProcess):
		c.HostingModel = HostingModelInProcess
	default:
		return &LoadError{Reason: fmt.Sprintf("Unknown hosting model '%s'. Please specify hosting_model=\"inprocess\".", c.HostingModel)}
	}
	if c.ProcessPath == "" {
		return required("process_path")
	}
	if c.StdoutLogEnabled && c.StdoutLogFile == "" {
		return required("stdout_log_file")
	}
	switch c.ServerType {
	case api.ServerIIS, api.ServerIISExpress:
	default:
		return &LoadError{Reason: fmt.Sprintf("Unknown server type '%s'", c.ServerType)}
	}
	switch c.ModuleVersion {
	case api.ModuleV1, api.ModuleV2:
	default:
		return &LoadError{Reason: fmt.Sprintf("Unknown module version '%s'", c.ModuleVersion)}
	}
	if c.StartupTimeLimit <= 0 || c.ShutdownTimeLimit <= 0 {
		return &LoadError{Reason: "Time limits must be positive"}
	}
	return nil
}

func required(name string) error {
	return &LoadError{Reason: fmt.Sprintf("Attribute '%s' is required", name)}
}

// Source is the provider name records are written under
func (c *Config) Source() string {
	return api.ProviderName(c.ServerType, c.ModuleVersion)
}

// Args splits the arguments attribute on whitespace
func (c *Config) Args() []string {
	return strings.Fields(c.Arguments)
}

// ResolveProcessPath returns the executable to launch. Paths containing a
// separator are taken relative to the content root; bare names are left for
// a PATH lookup.
func (c *Config) ResolveProcessPath() string {
	p := c.ProcessPath
	if filepath.IsAbs(p) || !strings.ContainsRune(p, '/') && !strings.ContainsRune(p, filepath.Separator) {
		return p
	}
	return filepath.Join(c.ContentRoot, p)
}

// Write stores cfg as path. The content root is not written.
func Write(path string, cfg *Config) error {
	data, err := toml.Marshal(document{AspNetCore: cfg})
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return nil
}
