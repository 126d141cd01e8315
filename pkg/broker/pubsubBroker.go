package broker

import (
	"context"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/zoff-tech/go-eventual/pkg/config"
	"github.com/zoff-tech/go-eventual/pkg/telemetry"
	"google.golang.org/api/option"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
)

// PubSubBrokerCreator defines a function type for creating Pub/Sub clients.
type PubSubBrokerCreator func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (MessageBroker, error)

// NewPubSubClient is the default implementation of PubSubBrokerCreator.
var NewPubSubClient PubSubBrokerCreator = func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (MessageBroker, error) {
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return newPubSubBroker(client), nil
}

type pubSubBroker struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func newPubSubBroker(client *pubsub.Client) *pubSubBroker {
	return &pubSubBroker{client: client, topics: make(map[string]*pubsub.Topic)}
}

// topic returns the cached publisher of a topic. Ordering is enabled so messages
// sharing a key are delivered in publish order.
func (p *pubSubBroker) topic(id string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.topics[id]
	if !ok {
		t = p.client.Topic(id)
		t.EnableMessageOrdering = true
		p.topics[id] = t
	}
	return t
}

func (p *pubSubBroker) Publish(ctx context.Context, message *Message) error {
	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(message.Topic),
			semconv.MessagingMessageIDKey.String(message.ID),
		),
	)
	defer span.End()

	topic := p.topic(message.Topic)
	res := topic.Publish(ctx, &pubsub.Message{
		Data:        message.Payload,
		Attributes:  headersWithTrace(ctx, message.Headers),
		OrderingKey: message.Key,
	})
	if _, err := res.Get(ctx); err != nil { // wait for server ack
		span.RecordError(err)
		// a failed publish pauses the ordering key until resumed
		topic.ResumePublish(message.Key)
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(message.Payload)),
	)

	return nil
}

func (p *pubSubBroker) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()

	return p.client.Close()
}
