package behave

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/ancm/api"
	"github.com/programme-lv/ancm/internal/config"
	"github.com/programme-lv/ancm/internal/deploy"
	"github.com/programme-lv/ancm/internal/verify"
)

// SpecRequest is the request issued against a deployment
type SpecRequest struct {
	Path string `toml:"path"`
}

// SpecExpect describes the expected response and event log records
type SpecExpect struct {
	Status       int      `toml:"status"`
	BodyContains []string `toml:"body_contains"`
	// Events are patterns; each must match exactly one record of the child.
	Events []string `toml:"events"`
	// Exhaustive also requires every record of the child to be matched.
	Exhaustive bool `toml:"exhaustive"`
}

// SpecDefaults applies to every scenario of a file
type SpecDefaults struct {
	ProcessPath       string            `toml:"process_path"`
	Arguments         string            `toml:"arguments"`
	ServerType        api.ServerType    `toml:"server_type"`
	ModuleVersion     api.ModuleVersion `toml:"module_version"`
	StartupTimeLimit  config.Duration   `toml:"startup_time_limit"`
	ShutdownTimeLimit config.Duration   `toml:"shutdown_time_limit"`
	Environment       map[string]string `toml:"environment"`
}

type specScenario struct {
	Description             string            `toml:"description"`
	ProcessPath             string            `toml:"process_path"`
	StartupValue            string            `toml:"startup_value"`
	RandomValue             string            `toml:"random_value"`
	StdoutLogEnabled        bool              `toml:"stdout_log_enabled"`
	DisableStartupErrorPage bool              `toml:"disable_startup_error_page"`
	Environment             map[string]string `toml:"environment"`
	Request                 SpecRequest       `toml:"request"`
	Expect                  SpecExpect        `toml:"expect"`
}

type specRoot struct {
	Defaults  SpecDefaults   `toml:"defaults"`
	Scenarios []specScenario `toml:"scenarios"`
}

// Case is a runnable scenario converted from TOML
type Case struct {
	Id      string
	Name    string
	Params  deploy.Params
	Request SpecRequest
	Expect  SpecExpect
}

// ParseFile reads a scenario TOML file
func ParseFile(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse converts scenario TOML into runnable cases
func Parse(data []byte) ([]Case, error) {
	var root specRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cases := make([]Case, 0, len(root.Scenarios))
	for i, sc := range root.Scenarios {
		if sc.Description == "" {
			return nil, fmt.Errorf("scenario %d is missing a description", i+1)
		}
		if sc.Expect.Status == 0 {
			return nil, fmt.Errorf("scenario %q is missing expect.status", sc.Description)
		}
		for _, pattern := range sc.Expect.Events {
			if _, err := regexp.Compile(Expand(pattern, Vars{})); err != nil {
				return nil, fmt.Errorf("scenario %q has an invalid event pattern: %w", sc.Description, err)
			}
		}

		p := deploy.DefaultParams()
		d := root.Defaults
		p.ProcessPath = d.ProcessPath
		p.Arguments = d.Arguments
		if d.ServerType != "" {
			p.ServerType = d.ServerType
		}
		if d.ModuleVersion != "" {
			p.ModuleVersion = d.ModuleVersion
		}
		if d.StartupTimeLimit > 0 {
			p.StartupTimeLimit = d.StartupTimeLimit.Std()
		}
		if d.ShutdownTimeLimit > 0 {
			p.ShutdownTimeLimit = d.ShutdownTimeLimit.Std()
		}

		// scenario values override the defaults
		if sc.ProcessPath != "" {
			p.ProcessPath = sc.ProcessPath
		}
		if p.ProcessPath == "" {
			return nil, fmt.Errorf("scenario %q has no process_path", sc.Description)
		}
		p.StartupValue = sc.StartupValue
		p.RandomValue = sc.RandomValue
		p.StdoutLogEnabled = sc.StdoutLogEnabled
		p.DisableStartupErrorPage = sc.DisableStartupErrorPage
		p.Environment = merge(d.Environment, sc.Environment)

		req := sc.Request
		if req.Path == "" {
			req.Path = "/"
		}
		if !strings.HasPrefix(req.Path, "/") {
			req.Path = "/" + req.Path
		}

		cases = append(cases, Case{
			Id:      uuid.NewString(),
			Name:    sc.Description,
			Params:  p,
			Request: req,
			Expect:  sc.Expect,
		})
	}
	return cases, nil
}

func merge(base, over map[string]string) map[string]string {
	res := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		res[k] = v
	}
	for k, v := range over {
		res[k] = v
	}
	return res
}

// Vars are substituted into event patterns. Every value is quoted, so it
// matches literally.
type Vars struct {
	ContentRoot string
	Random      string
	Pid         int
	AppPath     string
	ConfigPath  string
}

// Expand replaces {{content_root}}, {{random}}, {{pid}}, {{app_path}} and
// {{config_path}} in pattern.
func Expand(pattern string, v Vars) string {
	root := ""
	if v.ContentRoot != "" {
		root = verify.EscapedContentRoot(v.ContentRoot)
	}
	return strings.NewReplacer(
		"{{content_root}}", root,
		"{{random}}", regexp.QuoteMeta(v.Random),
		"{{pid}}", strconv.Itoa(v.Pid),
		"{{app_path}}", regexp.QuoteMeta(v.AppPath),
		"{{config_path}}", regexp.QuoteMeta(v.ConfigPath),
	).Replace(pattern)
}
