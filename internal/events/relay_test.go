package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"goldledger/internal/domain"
	"goldledger/internal/store/memory"

	skafka "github.com/segmentio/kafka-go"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	written []skafka.Message
	err     error
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...skafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func seedEvents(t *testing.T, db *memory.DB, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		inv := &domain.Invoice{ID: int64(i), InvoiceNumber: "INV", Status: domain.InvoiceStatusIssued}
		event, err := domain.NewInvoiceEvent(domain.EventInvoiceCreated, inv, "")
		require.NoError(t, err)
		require.NoError(t, db.InsertInvoiceEvent(context.Background(), event))
	}
}

func TestRelayFlush_PublishesAndMarks(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	db := memory.New()
	seedEvents(t, db, 3)
	writer := &fakeWriter{}
	relay := NewRelay(db, NewKafkaPublisherWithWriter(writer), 0, logger)

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, writer.written, 3)
	assert.Equal(t, "1", string(writer.written[0].Key))
	assert.Equal(t, "event_type", writer.written[0].Headers[1].Key)
	assert.Equal(t, "invoice.created", string(writer.written[0].Headers[1].Value))
	var payload domain.InvoiceEventPayload
	require.NoError(t, json.Unmarshal(writer.written[0].Value, &payload))
	assert.Equal(t, int64(1), payload.InvoiceID)

	n, err = relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, writer.written, 3)
}

func TestRelayFlush_PublishFailureKeepsEventsPending(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	db := memory.New()
	seedEvents(t, db, 2)
	writer := &fakeWriter{err: errors.New("broker down")}
	relay := NewRelay(db, NewKafkaPublisherWithWriter(writer), 0, logger)

	_, err := relay.Flush(context.Background())
	require.Error(t, err)

	pending, err := db.ListUnpublishedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestKafkaPublisher_Close(t *testing.T) {
	writer := &fakeWriter{}
	require.NoError(t, NewKafkaPublisherWithWriter(writer).Close())
	assert.True(t, writer.closed)
}
