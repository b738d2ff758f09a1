package host

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait keeps copying output after the child exits
const waitDelay = 2 * time.Second

// Process is a running child. Its exit is observed by a single goroutine.
type Process struct {
	cmd   *exec.Cmd
	start time.Time
	done  chan struct{}

	exitCode int
	waitErr  error
}

// StartProcess launches spec with stdout and stderr wired to the given
// writers. It does not wait for the child.
func StartProcess(spec ProcessSpec, stdout, stderr io.Writer) (*Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.ToEnv()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Path, err)
	}

	p := &Process{cmd: cmd, start: start, done: make(chan struct{}), exitCode: -1}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	close(p.done)
}

func (p *Process) Pid() int { return p.cmd.Process.Pid }

func (p *Process) StartTime() time.Time { return p.start }

// Done is closed once the child has exited and its output is drained
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) HasExited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode is -1 while the child runs or when it was killed by a signal
func (p *Process) ExitCode() int {
	if !p.HasExited() {
		return -1
	}
	return p.exitCode
}

// Err is a wait failure other than a non-zero exit
func (p *Process) Err() error {
	if !p.HasExited() {
		return nil
	}
	return p.waitErr
}

// WaitForExit reports whether the child exited within timeout
func (p *Process) WaitForExit(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.done:
		return true
	case <-t.C:
		return false
	}
}

func (p *Process) Kill() error {
	if p.HasExited() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process %d: %w", p.Pid(), err)
	}
	return nil
}

// Stop interrupts the child and kills it when it has not exited within
// timeout. It reports whether the child stopped gracefully.
func (p *Process) Stop(timeout time.Duration) bool {
	if p.HasExited() {
		return true
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err == nil && p.WaitForExit(timeout) {
		return true
	}
	_ = p.Kill()
	<-p.done
	return false
}
