package environment

import (
	"context"
	"errors"
	"fmt"

	"github.com/programme-lv/ancm/internal/eventlog"
)

// Sinks are the event log destinations named by the environment. The local
// JSONL log is always present; NATS and SQS forwarding are optional.
type Sinks struct {
	File *eventlog.File
	NATS *eventlog.NATSWriter
	SQS  *eventlog.SQSWriter
}

// OpenSinks opens every configured destination
func (c *EnvConfig) OpenSinks(ctx context.Context) (*Sinks, error) {
	file, err := eventlog.NewFile(c.EventLogPath)
	if err != nil {
		return nil, err
	}
	s := &Sinks{File: file}

	if c.NATSURL != "" {
		s.NATS, err = eventlog.DialNATS(c.NATSURL, c.NATSSubject)
		if err != nil {
			return nil, err
		}
	}
	if c.SQSQueueURL != "" {
		s.SQS, err = eventlog.DialSQS(ctx, c.AWSRegion, c.SQSQueueURL)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to set up SQS forwarding: %w", err)
		}
	}
	return s, nil
}

// Writer fans every record out to all open destinations
func (s *Sinks) Writer() eventlog.Writer {
	fan := eventlog.Fanout{s.File}
	if s.NATS != nil {
		fan = append(fan, s.NATS)
	}
	if s.SQS != nil {
		fan = append(fan, s.SQS)
	}
	return fan
}

func (s *Sinks) Close() error {
	var errs []error
	if s.NATS != nil {
		errs = append(errs, s.NATS.Close())
	}
	return errors.Join(errs...)
}
