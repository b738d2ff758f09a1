package api

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Event ids, one per message template
const (
	EventInProcessStartSuccess = 1030
	EventLoadClrFailure        = 1005
	EventThreadException       = 1033
	EventThreadExit            = 1034
	EventConfigurationLoad     = 1031
	EventAddApplicationError   = 1032
	EventAppShutdownFailure    = 1023
	EventAppShutdownSuccessful = 1024
	EventRecycleAppOffline     = 1026
	EventRecycleConfiguration  = 1027
)

// CapturedOutputHeader precedes captured child output inside a message
const CapturedOutputHeader = "Last 4KB characters of captured stdout and stderr logs:\r\n"

// PhysicalRoot renders a content root the way messages embed it: absolute
// and ending with a path separator.
func PhysicalRoot(contentRoot string) string {
	if !strings.HasSuffix(contentRoot, string(filepath.Separator)) {
		contentRoot += string(filepath.Separator)
	}
	return contentRoot
}

func InProcessStartedMsg(contentRoot string) string {
	return fmt.Sprintf("Application '%s' started the coreclr in-process successfully.", PhysicalRoot(contentRoot))
}

func InProcessFailedToStartMsg(appPath, contentRoot, reason string) string {
	return fmt.Sprintf("Application '%s' with physical root '%s' failed to load clr and managed application. %s",
		appPath, PhysicalRoot(contentRoot), reason)
}

func InProcessThreadExceptionMsg(appPath, contentRoot, exceptionText string) string {
	return fmt.Sprintf("Application '%s' with physical root '%s' hit unexpected managed exception, exception text = '%s'.",
		appPath, PhysicalRoot(contentRoot), exceptionText)
}

func InProcessThreadExitMsg(appPath, contentRoot string, exitCode int) string {
	return fmt.Sprintf("Application '%s' with physical root '%s' hit unexpected managed background thread exit, exit code = '%d'.",
		appPath, PhysicalRoot(contentRoot), exitCode)
}

func FailedToStartApplicationMsg(appPath string, code string) string {
	return fmt.Sprintf("Failed to start application '%s', ErrorCode '%s'.", appPath, code)
}

func ConfigurationLoadErrorMsg(reason string) string {
	return fmt.Sprintf("Configuration load error. %s", reason)
}

func ShutdownFailureMsg(configPath string) string {
	return fmt.Sprintf("Failed to gracefully shutdown application '%s'.", configPath)
}

func ShutdownSuccessfulMsg(configPath string) string {
	return fmt.Sprintf("Application '%s' has shutdown.", configPath)
}

func RecycleAppOfflineMsg(configPath string) string {
	return fmt.Sprintf("Application '%s' was recycled after detecting the app_offline file.", configPath)
}

func RecycleConfigurationMsg(configPath string) string {
	return fmt.Sprintf("Application '%s' was recycled due to configuration change", configPath)
}

// WithCapturedOutput appends captured child output to a message. Empty
// output leaves the message unchanged.
func WithCapturedOutput(msg string, output string) string {
	if output == "" {
		return msg
	}
	return msg + " " + CapturedOutputHeader + output
}
