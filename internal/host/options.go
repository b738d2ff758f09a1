package host

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/programme-lv/ancm/internal/config"
)

// EnvPort tells the child which loopback port to listen on
const EnvPort = "ASPNETCORE_PORT"

// Limits bounds how long the host waits on a child
type Limits struct {
	StartupTimeLimit  time.Duration
	ShutdownTimeLimit time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		StartupTimeLimit:  config.DefaultStartupTimeLimit,
		ShutdownTimeLimit: config.DefaultShutdownTimeLimit,
	}
}

func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		StartupTimeLimit:  cfg.StartupTimeLimit.Std(),
		ShutdownTimeLimit: cfg.ShutdownTimeLimit.Std(),
	}
}

// ProcessSpec describes one launch of the child
type ProcessSpec struct {
	Path string
	Args []string
	Dir  string
	Env  map[string]string
	Port int
}

func SpecFromConfig(cfg *config.Config, port int) ProcessSpec {
	return ProcessSpec{
		Path: cfg.ResolveProcessPath(),
		Args: cfg.Args(),
		Dir:  cfg.ContentRoot,
		Env:  cfg.EnvironmentVariables,
		Port: port,
	}
}

// ToEnv returns the host environment followed by the configured variables,
// in key order, and the port assignment.
func (spec *ProcessSpec) ToEnv() []string {
	env := os.Environ()
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}
	return append(env, spec.PortEnv())
}

func (spec *ProcessSpec) PortEnv() string {
	return fmt.Sprintf("%s=%d", EnvPort, spec.Port)
}

func (spec *ProcessSpec) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", spec.Port)
}
