package verify

import (
	"fmt"
	"regexp"

	"github.com/programme-lv/ancm/api"
)

// DefaultApplicationPath is the application path of the first site
const DefaultApplicationPath = "/LM/W3SVC/1/ROOT"

// EscapedContentRoot quotes a content root, with its trailing separator, for
// use inside a pattern.
func EscapedContentRoot(contentRoot string) string {
	return regexp.QuoteMeta(api.PhysicalRoot(contentRoot))
}

func InProcessStarted(contentRoot string) string {
	return fmt.Sprintf("Application '%s' started the coreclr in-process successfully", EscapedContentRoot(contentRoot))
}

// InProcessFailedToStart matches a startup failure; reason is a pattern.
func InProcessFailedToStart(contentRoot string, reason string) string {
	return fmt.Sprintf("Application '%s' with physical root '%s' failed to load clr and managed application. %s",
		regexp.QuoteMeta(DefaultApplicationPath), EscapedContentRoot(contentRoot), reason)
}

func InProcessFailedToStop(configPath string) string {
	return regexp.QuoteMeta(api.ShutdownFailureMsg(configPath))
}

func InProcessThreadException(contentRoot string, reason string) string {
	return fmt.Sprintf("Application '%s' with physical root '%s' hit unexpected managed exception%s",
		regexp.QuoteMeta(DefaultApplicationPath), EscapedContentRoot(contentRoot), reason)
}

func InProcessThreadExit(contentRoot string, code string) string {
	return fmt.Sprintf("Application '%s' with physical root '%s' hit unexpected managed background thread exit, exit code = '%s'.",
		regexp.QuoteMeta(DefaultApplicationPath), EscapedContentRoot(contentRoot), code)
}

func FailedToStartApplication(code string) string {
	return fmt.Sprintf("Failed to start application '%s', ErrorCode '%s'.", regexp.QuoteMeta(DefaultApplicationPath), code)
}

func ConfigurationLoadError(reason string) string {
	return fmt.Sprintf("Configuration load error. %s", reason)
}

func ShutdownCompleted(configPath string) string {
	return regexp.QuoteMeta(api.ShutdownSuccessfulMsg(configPath))
}

func RecycledAppOffline(configPath string) string {
	return regexp.QuoteMeta(api.RecycleAppOfflineMsg(configPath))
}

func RecycledConfiguration(configPath string) string {
	return regexp.QuoteMeta(api.RecycleConfigurationMsg(configPath))
}
