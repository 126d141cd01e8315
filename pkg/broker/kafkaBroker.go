package broker

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-eventual/pkg/config"
	"github.com/zoff-tech/go-eventual/pkg/telemetry"
)

type KafkaBrokerCreator func(ctx context.Context, settings *config.BrokerSettings, log *zap.Logger) (MessageBroker, error)

var NewKafkaBroker KafkaBrokerCreator = func(ctx context.Context, settings *config.BrokerSettings, log *zap.Logger) (MessageBroker, error) {
	if len(settings.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}

	log = log.With(zap.String("broker", "kafka"))
	w := &kafka.Writer{
		Addr:         kafka.TCP(settings.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		ErrorLogger:  kafka.LoggerFunc(log.Sugar().Errorf),
	}

	return &kafkaBroker{writer: w}, nil
}

// kafkaWriter is the part of *kafka.Writer the broker uses.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaBroker struct {
	writer kafkaWriter
}

func (k *kafkaBroker) Publish(ctx context.Context, message *Message) error {
	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("kafka"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(message.Topic),
			semconv.MessagingKafkaMessageKeyKey.String(message.Key),
			semconv.MessagingMessageIDKey.String(message.ID),
		),
	)
	defer span.End()

	headers := headersWithTrace(ctx, message.Headers)
	kafkaHdrs := make([]kafka.Header, 0, len(headers))
	for key, val := range headers {
		kafkaHdrs = append(kafkaHdrs, kafka.Header{Key: key, Value: []byte(val)})
	}

	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   message.Topic,
		Key:     []byte(message.Key),
		Value:   message.Payload,
		Headers: kafkaHdrs,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(message.Payload)),
	)

	return nil
}

func (k *kafkaBroker) Close() error {
	return k.writer.Close()
}
