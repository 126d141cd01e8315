package processor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/zoff-tech/go-eventual/pkg/broker"
	"github.com/zoff-tech/go-eventual/pkg/config"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
	"github.com/zoff-tech/go-eventual/pkg/metrics"
	"github.com/zoff-tech/go-eventual/pkg/telemetry"
)

// OutboxProcessor relays written outbox entries to the broker. It is the send queue
// its own sweeps submit to: every submission is sent by a goroutine once its delay
// has passed, then confirmed in the store. At most MaxInFlight submissions run at
// once; entries over the limit wait for a later sweep.
type OutboxProcessor struct {
	store        eventual.EventSendStore
	broker       broker.MessageBroker
	tracer       trace.Tracer
	log          *zap.Logger
	topic        string
	pollInterval time.Duration

	slots    *semaphore.Weighted
	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
	wg       sync.WaitGroup
}

// NewOutboxProcessor creates a new instance of OutboxProcessor.
func NewOutboxProcessor(store eventual.EventSendStore, broker broker.MessageBroker, cfg *config.Settings, log *zap.Logger) *OutboxProcessor {
	pollInterval := cfg.Relay.PollInterval
	if pollInterval <= 0 {
		pollInterval = config.DefaultPollInterval
	}
	maxInFlight := cfg.Relay.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = config.DefaultMaxInFlight
	}

	return &OutboxProcessor{
		store:        store,
		broker:       broker,
		tracer:       otel.Tracer(telemetry.TracerName),
		log:          log.With(zap.String("processor", "outbox")),
		topic:        cfg.Relay.Topic,
		pollInterval: pollInterval,
		slots:        semaphore.NewWeighted(int64(maxInFlight)),
		inFlight:     make(map[uuid.UUID]struct{}),
	}
}

// ProcessEvents sweeps the outbox every poll interval until ctx is done.
func (p *OutboxProcessor) ProcessEvents(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
			p.log.Error("Failed to sweep outbox", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep submits every unconfirmed due entry once.
func (p *OutboxProcessor) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("outbox").Observe(time.Since(start).Seconds())
	}()

	return p.store.ScheduleEveryWrittenEventToSend(ctx, p)
}

// EnqueueToSendAfterDelay schedules one send. An event that is still being sent
// from an earlier sweep is not submitted twice, and nothing is submitted while every
// slot is taken.
func (p *OutboxProcessor) EnqueueToSendAfterDelay(ctx context.Context, body eventual.EventBody, delay time.Duration) error {
	id, err := body.EventID()
	if err != nil {
		return err
	}

	p.mu.Lock()
	if _, busy := p.inFlight[id]; busy {
		p.mu.Unlock()
		return nil
	}
	if !p.slots.TryAcquire(1) {
		p.mu.Unlock()
		metrics.OutboxEventsTotal.WithLabelValues("deferred").Inc()
		return nil
	}
	p.inFlight[id] = struct{}{}
	p.mu.Unlock()

	metrics.OutboxEventsTotal.WithLabelValues("submitted").Inc()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.slots.Release(1)
		defer p.release(id)

		if !sleep(ctx, delay) {
			return
		}
		// a send that has started is finished even when the sweep context ends
		p.send(context.WithoutCancel(ctx), id, body)
	}()

	return nil
}

// Wait blocks until every submitted send has finished.
func (p *OutboxProcessor) Wait() {
	p.wg.Wait()
}

func (p *OutboxProcessor) release(id uuid.UUID) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

func (p *OutboxProcessor) send(ctx context.Context, id uuid.UUID, body eventual.EventBody) {
	ctx, span := p.tracer.Start(ctx, "ProcessOutboxEvent", trace.WithAttributes(
		attribute.String("event.id", id.String()),
	))
	defer span.End()

	log := p.log.With(zap.Stringer("event_id", id))

	message, err := broker.NewMessage(p.topic, body)
	if err != nil {
		log.Error("Failed to build message", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.OutboxEventsTotal.WithLabelValues("failed").Inc()
		return
	}
	span.SetAttributes(attribute.String("event.topic", message.Topic))

	if err := p.broker.Publish(ctx, message); err != nil {
		// the entry stays unconfirmed and the next sweep retries it
		log.Warn("Failed to publish event", zap.String("topic", message.Topic), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.OutboxEventsTotal.WithLabelValues("failed").Inc()
		return
	}

	_, err = p.store.CreateWorkUnit(ctx, func(ctx context.Context) error {
		return p.store.MarkEventAsSent(ctx, body)
	})
	if err != nil {
		log.Error("Failed to mark event as sent", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.OutboxEventsTotal.WithLabelValues("failed").Inc()
		return
	}

	log.Debug("Event sent", zap.String("topic", message.Topic))
	metrics.OutboxEventsTotal.WithLabelValues("sent").Inc()
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
