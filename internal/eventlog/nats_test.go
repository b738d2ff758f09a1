package eventlog_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/programme-lv/ancm/api"
	"github.com/programme-lv/ancm/internal/eventlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not start")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSWriterPublishesRecords(t *testing.T) {
	ns := runNATSServer(t)

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	s, err := sub.SubscribeSync("ancm.test")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	w, err := eventlog.DialNATS(ns.ClientURL(), "ancm.test")
	require.NoError(t, err)

	rec := record(99, "published")
	require.NoError(t, w.Append(context.Background(), rec))
	require.NoError(t, w.Close())

	msg, err := s.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var got api.LogRecord
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, rec.Id, got.Id)
	assert.Equal(t, "published", got.Message)
	assert.Equal(t, "Process Id: 99.", got.ReplacementFields[1])
}
