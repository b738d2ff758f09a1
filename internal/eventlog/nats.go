package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/programme-lv/ancm/api"
)

// DefaultSubject is where records are published when no subject is configured
const DefaultSubject = "ancm.eventlog"

// NATSWriter publishes each record as JSON to a subject
type NATSWriter struct {
	nc      *nats.Conn
	subject string
}

func NewNATSWriter(nc *nats.Conn, subject string) *NATSWriter {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSWriter{nc: nc, subject: subject}
}

// DialNATS connects to url and returns a writer owning the connection
func DialNATS(url string, subject string) (*NATSWriter, error) {
	nc, err := nats.Connect(url, nats.Name("ancmhost"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSWriter(nc, subject), nil
}

func (w *NATSWriter) Append(_ context.Context, rec api.LogRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := w.nc.Publish(w.subject, b); err != nil {
		return fmt.Errorf("failed to publish record to NATS: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection
func (w *NATSWriter) Close() error {
	defer w.nc.Close()
	if err := w.nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	return nil
}
