package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zoff-tech/go-eventual/pkg/eventual"
)

// Headers set on every message built from an event body.
const (
	HeaderEventID      = "event-id"
	HeaderEventSubject = "event-subject"
)

// Message is what a broker publishes: the JSON encoded event body plus routing data.
type Message struct {
	ID      string
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

// NewMessage encodes an event body for topic. The event id doubles as the message key,
// so a partitioned broker keeps the events of one id in order.
func NewMessage(topic string, body eventual.EventBody) (*Message, error) {
	payload, err := eventual.PayloadFromBody(body)
	if err != nil {
		return nil, err
	}
	if topic == "" {
		topic = payload.Subject
	}
	if topic == "" {
		return nil, fmt.Errorf("event %s has no subject and no topic is configured", payload.ID)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", payload.ID, err)
	}

	return &Message{
		ID:      payload.ID.String(),
		Topic:   topic,
		Key:     payload.ID.String(),
		Payload: data,
		Headers: map[string]string{
			HeaderEventID:      payload.ID.String(),
			HeaderEventSubject: payload.Subject,
		},
	}, nil
}

// DecodeBody parses a published payload back into an event body.
func DecodeBody(data []byte) (eventual.EventBody, error) {
	var body eventual.EventBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode event body: %w", err)
	}
	if _, err := body.EventID(); err != nil {
		return nil, err
	}
	return body, nil
}

// MessageBroker defines the operations to publish messages to a broker.
type MessageBroker interface {
	// Publish sends the message to its topic. Trace context is added to the headers.
	Publish(ctx context.Context, message *Message) error
	// Close cleans up any resources (connections).
	Close() error
}

// headersWithTrace copies the message headers and adds the propagated trace context.
func headersWithTrace(ctx context.Context, headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		out[k] = v
	}
	injectTrace(ctx, out)
	return out
}
