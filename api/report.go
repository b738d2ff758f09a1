package api

import "time"

// FailureKind identifies the failure cause a report was produced for.
// At most one report exists per process, kind and launch attempt.
type FailureKind string

const (
	StartupFailure     FailureKind = "startup"
	ThreadException    FailureKind = "thread_exception"
	ThreadExit         FailureKind = "thread_exit"
	ConfigurationError FailureKind = "configuration"
	StartError         FailureKind = "start_error"
	ShutdownFailure    FailureKind = "shutdown"
)

// FailureReport describes why a child process failed
type FailureReport struct {
	ProcessId   int         `json:"process_id"`
	ContentRoot string      `json:"content_root"`
	Kind        FailureKind `json:"kind"`
	Reason      string      `json:"reason"`
	ExitCode    *int        `json:"exit_code,omitempty"`
	// Attempt numbers launches of the same host; only set for StartError
	Attempt int `json:"attempt,omitempty"`

	CapturedStdout string `json:"captured_stdout,omitempty"`
	CapturedStderr string `json:"captured_stderr,omitempty"`
	Truncated      bool   `json:"truncated"`

	Timestamp time.Time `json:"timestamp"`
}

// CapturedOutput returns stdout followed by stderr
func (r *FailureReport) CapturedOutput() string {
	return r.CapturedStdout + r.CapturedStderr
}
