// Package verify checks that a process instance produced exactly the event
// log records a test expects.
//
// A record is attributable to a process when it was produced by the expected
// source, carries at least three replacement fields, its second field equals
// "Process Id: <pid>.", and it was generated no earlier than the process start
// minus ClockTolerance.
package verify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/ancm/api"
	"github.com/programme-lv/ancm/internal/eventlog"
)

// ClockTolerance compensates for the log facility rounding record times down
// to the whole second.
const ClockTolerance = time.Second

// minReplacementFields is the field count every module record carries
const minReplacementFields = 3

// Target identifies the process instance under test
type Target struct {
	Source    string
	Pid       int
	StartTime time.Time
}

// InWindow reports whether a record generated at t can belong to a process
// started at start.
func InWindow(t time.Time, start time.Time) bool {
	return !t.Before(start.Add(-ClockTolerance))
}

// Attributable reports whether rec belongs to target
func Attributable(rec api.LogRecord, target Target) bool {
	if rec.Source != target.Source {
		return false
	}
	if len(rec.ReplacementFields) < minReplacementFields {
		return false
	}
	if rec.ReplacementFields[1] != api.ProcessIdField(target.Pid) {
		return false
	}
	return InWindow(rec.TimeGenerated, target.StartTime)
}

// Verifier matches patterns against the records of one process instance
type Verifier struct {
	store  eventlog.Store
	target Target
}

func New(store eventlog.Store, target Target) *Verifier {
	return &Verifier{store: store, target: target}
}

// Records returns the attributable records, most recent first
func (v *Verifier) Records(ctx context.Context) ([]api.LogRecord, error) {
	recs, err := v.store.Query(ctx, eventlog.ForProcess(v.target.Source, v.target.Pid))
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}
	var res []api.LogRecord
	for _, rec := range recs {
		if Attributable(rec, v.target) {
			res = append(res, rec)
		}
	}
	return res, nil
}

// VerifySingleMatch requires exactly one attributable record matching pattern
func (v *Verifier) VerifySingleMatch(ctx context.Context, pattern string) (api.LogRecord, error) {
	recs, err := v.Records(ctx)
	if err != nil {
		return api.LogRecord{}, err
	}
	matched, err := singleMatch(pattern, recs)
	if err != nil {
		return api.LogRecord{}, err
	}
	return matched, nil
}

// VerifyMultipleMatches requires every pattern to match exactly one record,
// no record to be matched twice, and no attributable record to be left over.
func (v *Verifier) VerifyMultipleMatches(ctx context.Context, patterns ...string) error {
	recs, err := v.Records(ctx)
	if err != nil {
		return err
	}

	byId := make(map[string]api.LogRecord, len(recs))
	remaining := mapset.NewThreadUnsafeSet[string]()
	for _, rec := range recs {
		byId[rec.Id] = rec
		remaining.Add(rec.Id)
	}

	for _, pattern := range patterns {
		candidates := make([]api.LogRecord, 0, remaining.Cardinality())
		for _, rec := range recs {
			if remaining.Contains(rec.Id) {
				candidates = append(candidates, rec)
			}
		}
		matched, err := singleMatch(pattern, candidates)
		if err != nil {
			return err
		}
		remaining.Remove(matched.Id)
	}

	if remaining.Cardinality() > 0 {
		var left []string
		for _, rec := range recs {
			if remaining.Contains(rec.Id) {
				left = append(left, byId[rec.Id].Message)
			}
		}
		return &Error{Kind: Unmatched, Messages: left}
	}
	return nil
}

func singleMatch(pattern string, recs []api.LogRecord) (api.LogRecord, error) {
	re, err := compile(pattern)
	if err != nil {
		return api.LogRecord{}, err
	}
	var matched []api.LogRecord
	for _, rec := range recs {
		if re.MatchString(rec.Message) {
			matched = append(matched, rec)
		}
	}
	switch len(matched) {
	case 0:
		return api.LogRecord{}, &Error{Kind: NoMatch, Pattern: pattern}
	case 1:
		return matched[0], nil
	}
	msgs := make([]string, len(matched))
	for i, rec := range matched {
		msgs[i] = rec.Message
	}
	return api.LogRecord{}, &Error{Kind: MultipleMatches, Pattern: pattern, Messages: msgs}
}

// compile applies single-line semantics so '.' spans captured output lines
func compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?s)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

type ErrorKind int

const (
	NoMatch ErrorKind = iota
	MultipleMatches
	Unmatched
)

// Error is a verification failure. It carries the literal texts involved.
type Error struct {
	Kind     ErrorKind
	Pattern  string
	Messages []string
}

func (e *Error) Error() string {
	switch e.Kind {
	case NoMatch:
		return fmt.Sprintf("no entries matched by '%s'", e.Pattern)
	case MultipleMatches:
		return fmt.Sprintf("multiple entries matched by '%s': %s", e.Pattern, strings.Join(e.Messages, ","))
	}
	return fmt.Sprintf("some entries were not matched by any pattern: %s", strings.Join(e.Messages, ","))
}
