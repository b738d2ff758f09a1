package behave

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/programme-lv/ancm/internal/capture"
)

const (
	outputHeight = 10
	outputWidth  = 100
)

// Terminal prints scenario progress for humans
type Terminal struct {
	StartedAt time.Time

	mu     sync.Mutex
	w      io.Writer
	passed int
	failed int

	pass *color.Color
	fail *color.Color
	dim  *color.Color
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{
		StartedAt: time.Now(),
		w:         w,
		pass:      color.New(color.FgGreen, color.Bold),
		fail:      color.New(color.FgRed, color.Bold),
		dim:       color.New(color.Faint),
	}
}

func (t *Terminal) StartScenario(c Case) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dim.Fprintf(t.w, "-> %s\n", c.Name)
}

func (t *Terminal) FinishScenario(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dur := o.Duration.Round(time.Millisecond)
	if o.Passed() {
		t.passed++
		t.pass.Fprint(t.w, "PASS")
		fmt.Fprintf(t.w, " %s (pid=%d status=%d %s)\n", o.Case.Name, o.Pid, o.Status, dur)
		return
	}
	t.failed++
	t.fail.Fprint(t.w, "FAIL")
	fmt.Fprintf(t.w, " %s (pid=%d status=%d %s)\n", o.Case.Name, o.Pid, o.Status, dur)
	for _, line := range strings.Split(o.Err.Error(), "\n") {
		fmt.Fprintf(t.w, "  %s\n", line)
	}
	if o.Output != "" {
		t.dim.Fprintln(t.w, "  captured output:")
		for _, line := range strings.Split(capture.Trim(o.Output, outputHeight, outputWidth), "\n") {
			fmt.Fprintf(t.w, "    %s\n", line)
		}
	}
}

// Summary prints the totals and reports whether every scenario passed
func (t *Terminal) Summary() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	dur := time.Since(t.StartedAt).Round(time.Millisecond)
	fmt.Fprintf(t.w, "== %d passed, %d failed in %s ==\n", t.passed, t.failed, dur)
	return t.failed == 0
}
