package processor

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-eventual/pkg/config"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
	"github.com/zoff-tech/go-eventual/pkg/metrics"
	"github.com/zoff-tech/go-eventual/pkg/telemetry"
)

// Handler applies an inbound event. It runs inside the work unit that records the
// completion, so store calls made with its ctx commit or roll back with it.
type Handler func(ctx context.Context, payload eventual.EventPayload) error

// InboxProcessor deduplicates inbound events and drives redelivery of those whose
// handling did not complete.
type InboxProcessor struct {
	receive            eventual.EventReceiveStore
	schedule           eventual.EventSchedule
	handler            Handler
	guarantee          eventual.Guarantee
	redeliveryInterval time.Duration
	tracer             trace.Tracer
	log                *zap.Logger
}

// NewInboxProcessor wires the processor. receive and schedule must come from the same
// repository so they can share work units.
func NewInboxProcessor(receive eventual.EventReceiveStore, schedule eventual.EventSchedule, handler Handler, cfg *config.Settings, log *zap.Logger) *InboxProcessor {
	guarantee := eventual.Guarantee(cfg.Relay.Guarantee)
	if !guarantee.Valid() {
		guarantee = eventual.AtLeastOnce
	}
	interval := cfg.Relay.RedeliveryInterval
	if interval <= 0 {
		interval = config.DefaultRedeliveryInterval
	}

	return &InboxProcessor{
		receive:            receive,
		schedule:           schedule,
		handler:            handler,
		guarantee:          guarantee,
		redeliveryInterval: interval,
		tracer:             otel.Tracer(telemetry.TracerName),
		log:                log.With(zap.String("processor", "inbox")),
	}
}

// Receive claims a newly arrived event and handles it. Events already handled are
// skipped. The returned error only reports a failure to claim the event; a handler
// failure leaves the claim open for redelivery and is not returned.
func (p *InboxProcessor) Receive(ctx context.Context, body eventual.EventBody) error {
	payload, err := eventual.PayloadFromBody(body)
	if err != nil {
		return err
	}

	ctx, span := p.tracer.Start(ctx, "ReceiveInboxEvent", trace.WithAttributes(
		attribute.String("event.id", payload.ID.String()),
		attribute.String("event.subject", payload.Subject),
	))
	defer span.End()

	duplicate := false
	_, err = p.receive.CreateWorkUnit(ctx, func(ctx context.Context) error {
		handled, err := p.receive.IsEventHandled(ctx, payload.ID)
		if err != nil {
			return err
		}
		if handled {
			duplicate = true
			return eventual.ErrInterruptWork
		}
		if _, err := p.receive.MarkEventAsDispatched(ctx, body); err != nil {
			return err
		}
		return p.schedule.AddClaimedEventEntry(ctx, payload, time.Time{})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.InboxEventsTotal.WithLabelValues("failed").Inc()
		return err
	}
	if duplicate {
		p.log.Debug("Skipping handled event", zap.Stringer("event_id", payload.ID))
		metrics.InboxEventsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	p.complete(ctx, payload)
	return nil
}

// complete runs the handler and records the completion in one work unit.
func (p *InboxProcessor) complete(ctx context.Context, payload eventual.EventPayload) {
	log := p.log.With(zap.Stringer("event_id", payload.ID))

	wu, err := p.receive.CreateWorkUnit(ctx, func(ctx context.Context) error {
		if err := p.handler(ctx, payload); err != nil {
			return err
		}
		if _, err := p.receive.MarkEventAsHandled(ctx, payload.Body, p.guarantee); err != nil {
			return err
		}
		return p.schedule.CloseEventEntry(ctx, payload.ID)
	})

	switch {
	case errors.Is(err, eventual.ErrIntegrityViolation):
		// completed by someone else meanwhile
		log.Info("Event was already handled", zap.Error(err))
		metrics.InboxEventsTotal.WithLabelValues("duplicate").Inc()
		if err := p.schedule.CloseEventEntry(ctx, payload.ID); err != nil {
			log.Warn("Failed to close entry of handled event", zap.Error(err))
		}
	case err != nil:
		log.Warn("Handling event failed, left for redelivery", zap.Error(err))
		metrics.InboxEventsTotal.WithLabelValues("failed").Inc()
	case wu != nil && !wu.Committed():
		log.Info("Handler interrupted the event, left for redelivery")
		metrics.InboxEventsTotal.WithLabelValues("interrupted").Inc()
	default:
		metrics.InboxEventsTotal.WithLabelValues("handled").Inc()
	}
}

// Redeliver makes one pass over the open entries whose claim expired.
func (p *InboxProcessor) Redeliver(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("redelivery").Observe(time.Since(start).Seconds())
	}()

	for payload, err := range p.schedule.EveryOpenUnclaimedEventEntryDueNow(ctx) {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.redeliver(ctx, payload)
	}
	return nil
}

func (p *InboxProcessor) redeliver(ctx context.Context, payload eventual.EventPayload) {
	log := p.log.With(zap.Stringer("event_id", payload.ID))

	var outcome string
	_, err := p.schedule.CreateWorkUnit(ctx, func(ctx context.Context) error {
		forbidden, err := p.receive.IsEventHandled(ctx, payload.ID)
		if err != nil {
			return err
		}
		if forbidden {
			outcome = "closed"
			return p.schedule.CloseEventEntry(ctx, payload.ID)
		}

		// another worker may have reclaimed it since the sweep read it
		claimed, err := p.schedule.IsEventEntryClaimed(ctx, payload.ID)
		if err != nil {
			return err
		}
		if claimed {
			return eventual.ErrInterruptWork
		}

		if err := p.schedule.CloseEventEntry(ctx, payload.ID); err != nil {
			return err
		}
		if _, err := p.receive.MarkEventAsDispatched(ctx, payload.Body); err != nil {
			return err
		}
		if err := p.schedule.AddClaimedEventEntry(ctx, payload, time.Time{}); err != nil {
			return err
		}
		outcome = "redelivered"
		return nil
	})
	if err != nil {
		log.Error("Failed to reclaim event", zap.Error(err))
		return
	}

	switch outcome {
	case "closed":
		log.Debug("Closed entry of handled event")
		metrics.InboxEventsTotal.WithLabelValues("closed").Inc()
	case "redelivered":
		log.Info("Redelivering event")
		metrics.InboxEventsTotal.WithLabelValues("redelivered").Inc()
		p.complete(ctx, payload)
	}
}

// RunRedelivery calls Redeliver every redelivery interval until ctx is done.
func (p *InboxProcessor) RunRedelivery(ctx context.Context) {
	ticker := time.NewTicker(p.redeliveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Redeliver(ctx); err != nil && ctx.Err() == nil {
				p.log.Error("Redelivery sweep failed", zap.Error(err))
			}
		}
	}
}
