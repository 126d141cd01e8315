package broker

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-eventual/pkg/config"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
)

// HandleFunc processes one inbound event. An error leaves the message uncommitted
// and it is handed over again after a backoff.
type HandleFunc func(ctx context.Context, body eventual.EventBody) error

// kafkaReader is the part of *kafka.Reader the subscriber uses.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSubscriber consumes a topic with a consumer group and commits explicitly.
type KafkaSubscriber struct {
	reader  kafkaReader
	log     *zap.Logger
	backoff time.Duration
}

func NewKafkaSubscriber(cfg config.KafkaInbound, log *zap.Logger) (*KafkaSubscriber, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka inbound needs brokers, topic and group_id")
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1 << 10,  // 1KB
		MaxBytes:       10 << 20, // 10MB
		CommitInterval: 0,        // commit synchronously
		MaxWait:        50 * time.Millisecond,
	})

	return &KafkaSubscriber{
		reader:  r,
		log:     log.With(zap.String("topic", cfg.Topic), zap.String("group_id", cfg.GroupID)),
		backoff: 200 * time.Millisecond,
	}, nil
}

// Run fetches messages until ctx is done. Undecodable messages are committed and
// skipped.
func (s *KafkaSubscriber) Run(ctx context.Context, handle HandleFunc) error {
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("kafka fetch failed", zap.Error(err))
			if !s.sleep(ctx) {
				return nil
			}
			continue
		}

		if !s.process(ctx, m, handle) {
			return nil
		}
	}
}

// process handles one message until it succeeds or ctx ends. It reports whether the
// loop should go on.
func (s *KafkaSubscriber) process(ctx context.Context, m kafka.Message, handle HandleFunc) bool {
	log := s.log.With(zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))

	body, err := DecodeBody(m.Value)
	if err != nil {
		log.Warn("skipping undecodable message", zap.Error(err))
		return s.commit(ctx, m, log)
	}

	msgCtx := extractTrace(ctx, kafkaHeaders(m.Headers))
	for {
		err := handle(msgCtx, body)
		if err == nil {
			break
		}
		log.Error("handling message failed", zap.Any("event_id", body[eventual.BodyKeyID]), zap.Error(err))
		if !s.sleep(ctx) {
			return false
		}
	}

	return s.commit(ctx, m, log)
}

func (s *KafkaSubscriber) commit(ctx context.Context, m kafka.Message, log *zap.Logger) bool {
	if err := s.reader.CommitMessages(ctx, m); err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Warn("kafka commit failed", zap.Error(err))
	}
	return true
}

func (s *KafkaSubscriber) sleep(ctx context.Context) bool {
	t := time.NewTimer(s.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *KafkaSubscriber) Close() error {
	return s.reader.Close()
}

func kafkaHeaders(headers []kafka.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}
