package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/opsboard/opsboard-api/internal/events"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := events.NewKafkaPublisherWithWriter(w, zap.NewNop())

	event := events.New(events.InvoicePaid, map[string]string{"invoiceId": "abc"})
	require.NoError(t, p.Publish(context.Background(), "quote-1", event))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "quote-1", string(w.msgs[0].Key))
	require.Len(t, w.msgs[0].Headers, 1)
	assert.Equal(t, "invoice.paid", string(w.msgs[0].Headers[0].Value))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "invoice.paid", decoded["type"])
	assert.Equal(t, event.ID, decoded["id"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := events.NewKafkaPublisherWithWriter(w, zap.NewNop())

	err := p.Publish(context.Background(), "k", events.New(events.QuoteLocked, nil))
	assert.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	var p events.Publisher = events.NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), "k", events.New(events.QuoteCreated, nil)))
	assert.NoError(t, p.Close())
}
