// Package eventlog is the append-only structured log that failure reports are
// delivered to and that verification queries.
package eventlog

import (
	"context"
	"time"

	"github.com/programme-lv/ancm/api"
)

// Writer accepts records. Appends are independent; writers never coordinate.
type Writer interface {
	Append(ctx context.Context, rec api.LogRecord) error
}

// Store is a Writer that can also be queried
type Store interface {
	Writer
	// Query returns matching records, most recent first.
	Query(ctx context.Context, f Filter) ([]api.LogRecord, error)
}

// Filter selects records. Zero-valued fields match everything.
type Filter struct {
	Source       string
	ProcessField string
	Since        time.Time
	Limit        int
}

// ForProcess filters records produced by source for the given pid
func ForProcess(source string, pid int) Filter {
	return Filter{Source: source, ProcessField: api.ProcessIdField(pid)}
}

func (f Filter) Match(rec api.LogRecord) bool {
	if f.Source != "" && rec.Source != f.Source {
		return false
	}
	if f.ProcessField != "" {
		if len(rec.ReplacementFields) < 2 || rec.ReplacementFields[1] != f.ProcessField {
			return false
		}
	}
	if !f.Since.IsZero() && rec.TimeGenerated.Before(f.Since) {
		return false
	}
	return true
}

// collect walks recs from newest to oldest applying f
func collect(recs []api.LogRecord, f Filter) []api.LogRecord {
	var res []api.LogRecord
	for i := len(recs) - 1; i >= 0; i-- {
		if !f.Match(recs[i]) {
			continue
		}
		res = append(res, recs[i])
		if f.Limit > 0 && len(res) >= f.Limit {
			break
		}
	}
	return res
}
