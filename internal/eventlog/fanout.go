package eventlog

import (
	"context"
	"errors"

	"github.com/programme-lv/ancm/api"
)

// Fanout appends every record to all of its writers
type Fanout []Writer

func (f Fanout) Append(ctx context.Context, rec api.LogRecord) error {
	var errs []error
	for _, w := range f {
		if w == nil {
			continue
		}
		if err := w.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
