package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoff-tech/go-eventual/pkg/config"
	"go.uber.org/zap"
)

type fakeKafkaWriter struct {
	mu      sync.Mutex
	written []kafka.Message
	err     error
	closed  bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaBroker_Publish(t *testing.T) {
	writer := &fakeKafkaWriter{}
	broker := &kafkaBroker{writer: writer}

	msg := testMessage()
	require.NoError(t, broker.Publish(context.Background(), msg))

	require.Len(t, writer.written, 1)
	got := writer.written[0]
	assert.Equal(t, "order.created", got.Topic)
	assert.Equal(t, []byte(msg.Key), got.Key)
	assert.Equal(t, msg.Payload, got.Value)
	assert.Equal(t, "bar", kafkaHeaders(got.Headers)["foo"])

	require.NoError(t, broker.Close())
	assert.True(t, writer.closed)
}

func TestKafkaBroker_PublishError(t *testing.T) {
	writer := &fakeKafkaWriter{err: errors.New("leader not available")}
	broker := &kafkaBroker{writer: writer}

	err := broker.Publish(context.Background(), testMessage())
	assert.EqualError(t, err, "leader not available")
}

func TestNewKafkaBroker_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaBroker(context.Background(), &config.BrokerSettings{Type: "kafka"}, zap.NewNop())
	assert.EqualError(t, err, "kafka brokers are required")
}
