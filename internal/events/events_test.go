package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByAggregate(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, logger: zap.NewNop()}

	err := p.Publish(context.Background(),
		New(PaymentCompleted, "TXN-1", map[string]string{"status": "completed"}),
		New(PayoutFailed, "PO-1", nil),
	)
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "TXN-1", string(w.msgs[0].Key))
	assert.Equal(t, "payment.completed", string(w.msgs[0].Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, PaymentCompleted, decoded.Type)
	assert.NotEmpty(t, decoded.ID)
}

func TestKafkaPublisherSurfacesWriteErrors(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}, logger: zap.NewNop()}

	err := p.Publish(context.Background(), New(PaymentFailed, "TXN-2", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	assert.NoError(t, p.Publish(context.Background()))
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(zap.NewNop())
	assert.NoError(t, p.Publish(context.Background(), New(PayoutRequested, "PO-1", nil)))
	assert.NoError(t, p.Close())
}
