package behave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/programme-lv/ancm/internal/deploy"
	"github.com/programme-lv/ancm/internal/eventlog"
	"github.com/programme-lv/ancm/internal/host"
	"github.com/programme-lv/ancm/internal/poll"
	"golang.org/x/sync/errgroup"
)

// Observer is told about every scenario as it runs
type Observer interface {
	StartScenario(c Case)
	FinishScenario(o Outcome)
}

type RunOptions struct {
	Concurrency int
	// Sink receives every record of every deployment
	Sink     eventlog.Writer
	Logger   *slog.Logger
	Observer Observer
}

// Outcome is the result of one scenario
type Outcome struct {
	Case     Case
	Pid      int
	Status   int
	Output   string
	Duration time.Duration
	Err      error
}

func (o Outcome) Passed() bool { return o.Err == nil }

// Run executes cases concurrently and returns their outcomes in input order
func Run(ctx context.Context, cases []Case, opts RunOptions) []Outcome {
	outcomes := make([]Outcome, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, c := range cases {
		g.Go(func() error {
			if opts.Observer != nil {
				opts.Observer.StartScenario(c)
			}
			outcomes[i] = runCase(gctx, c, opts)
			if opts.Observer != nil {
				opts.Observer.FinishScenario(outcomes[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func runCase(ctx context.Context, c Case, opts RunOptions) Outcome {
	started := time.Now()
	out := Outcome{Case: c}

	p := c.Params
	p.Sink = opts.Sink
	p.Logger = opts.Logger
	res, err := deploy.Deploy(ctx, p)
	if res == nil || res.Application == nil {
		if res != nil {
			_ = res.Stop(ctx)
		}
		out.Err = fmt.Errorf("failed to deploy: %w", err)
		out.Duration = time.Since(started)
		return out
	}
	out.Case.Params.RandomValue = res.Params.RandomValue
	if proc := res.Process(); proc != nil {
		out.Pid = proc.Pid()
	}

	errs := []error{}
	if err != nil {
		errs = append(errs, err)
	}
	resp, err := res.Poll(ctx, c.Request.Path, poll.StatusIs(c.Expect.Status))
	if resp != nil {
		out.Status = resp.StatusCode
		for _, want := range c.Expect.BodyContains {
			if !strings.Contains(resp.Body, want) {
				errs = append(errs, fmt.Errorf("response body does not contain %q", want))
			}
		}
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("expected status %d, got %d: %w", c.Expect.Status, out.Status, err))
	}

	if err := res.Stop(ctx); err != nil && !errors.Is(err, host.ErrShutdownTimeout) {
		errs = append(errs, err)
	}
	if capt := res.Application.Capture(); capt != nil {
		out.Output = capt.Combined()
	}

	vars := Vars{
		ContentRoot: res.ContentRoot,
		Random:      res.Params.RandomValue,
		Pid:         out.Pid,
		AppPath:     res.Config.ApplicationPath,
		ConfigPath:  res.Config.ConfigPath,
	}
	patterns := make([]string, len(c.Expect.Events))
	for i, pattern := range c.Expect.Events {
		patterns[i] = Expand(pattern, vars)
	}
	v := res.Verifier()
	if c.Expect.Exhaustive {
		if err := v.VerifyMultipleMatches(ctx, patterns...); err != nil {
			errs = append(errs, err)
		}
	} else {
		for _, pattern := range patterns {
			if _, err := v.VerifySingleMatch(ctx, pattern); err != nil {
				errs = append(errs, err)
			}
		}
	}

	out.Err = errors.Join(errs...)
	out.Duration = time.Since(started)
	return out
}
