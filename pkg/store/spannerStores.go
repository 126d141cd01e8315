package store

import (
	"context"
	"fmt"
	"iter"
	"time"

	"cloud.google.com/go/spanner"
	"github.com/google/uuid"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
)

// SpannerEventSendStore is the outbox writer on Spanner.
type SpannerEventSendStore struct {
	*SpannerEventStore
}

func NewSpannerEventSendStore(store *SpannerEventStore) *SpannerEventSendStore {
	return &SpannerEventSendStore{SpannerEventStore: store}
}

func (s *SpannerEventSendStore) WriteEventToSendSoon(ctx context.Context, body eventual.EventBody, sendAfter *time.Time) error {
	eventID, err := body.EventID()
	if err != nil {
		return err
	}
	encoded, err := encodeBody(body)
	if err != nil {
		return err
	}

	var after spanner.NullTime
	if sendAfter != nil {
		after = spanner.NullTime{Time: *sendAfter, Valid: true}
	}

	_, err = s.update(ctx, "WriteEventToSendSoon", spanner.Statement{
		SQL: `INSERT INTO eventual_event_out (event_id, body, send_after, confirmed, created_at)
              VALUES (@eventID, @body, @sendAfter, FALSE, @createdAt)`,
		Params: map[string]interface{}{
			"eventID":   eventID.String(),
			"body":      encoded,
			"sendAfter": after,
			"createdAt": s.now(),
		},
	})
	return err
}

func (s *SpannerEventSendStore) MarkEventAsSent(ctx context.Context, body eventual.EventBody) error {
	eventID, err := body.EventID()
	if err != nil {
		return err
	}

	n, err := s.update(ctx, "MarkEventAsSent", spanner.Statement{
		SQL:    `UPDATE eventual_event_out SET confirmed = TRUE WHERE event_id = @eventID`,
		Params: map[string]interface{}{"eventID": eventID.String()},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("mark event %s as sent: %w", eventID, ErrOutboxEntryNotFound)
	}
	return nil
}

func (s *SpannerEventSendStore) ScheduleEveryWrittenEventToSend(ctx context.Context, queue eventual.SendQueue) error {
	type due struct {
		body      eventual.EventBody
		sendAfter spanner.NullTime
	}

	stmt := spanner.Statement{
		SQL: `SELECT body, send_after FROM eventual_event_out
              WHERE confirmed = FALSE AND (send_after IS NULL OR send_after < @now)
              ORDER BY created_at`,
		Params: map[string]interface{}{"now": s.now()},
	}

	var entries []due
	err := s.withWorkUnit(ctx, "ScheduleEveryWrittenEventToSend", stmt, func(ctx context.Context, txn *spanner.ReadWriteTransaction) (int, error) {
		entries = entries[:0]
		err := txn.Query(ctx, stmt).Do(func(row *spanner.Row) error {
			var (
				raw   string
				entry due
				body  jsonBody
			)
			if err := row.Columns(&raw, &entry.sendAfter); err != nil {
				return err
			}
			if err := body.Scan(raw); err != nil {
				return err
			}
			entry.body = eventual.EventBody(body)
			entries = append(entries, entry)
			return nil
		})
		return len(entries), err
	})
	if err != nil {
		return err
	}

	for _, entry := range entries {
		var delay time.Duration
		if entry.sendAfter.Valid {
			delay = sendDelay(entry.sendAfter.Time, s.now())
		}
		if err := queue.EnqueueToSendAfterDelay(ctx, entry.body, delay); err != nil {
			return fmt.Errorf("enqueue event: %w", err)
		}
	}

	return nil
}

// SpannerIntegrityGuard relies on the primary key of eventual_handled_event.
type SpannerIntegrityGuard struct {
	*SpannerEventStore
}

func NewSpannerIntegrityGuard(store *SpannerEventStore) *SpannerIntegrityGuard {
	return &SpannerIntegrityGuard{SpannerEventStore: store}
}

func (g *SpannerIntegrityGuard) RecordCompletionWithGuarantee(ctx context.Context, payload eventual.EventPayload, guarantee eventual.Guarantee) error {
	encoded, err := encodeBody(payload.Body)
	if err != nil {
		return err
	}

	_, err = g.update(ctx, "RecordCompletionWithGuarantee", spanner.Statement{
		SQL: `INSERT INTO eventual_handled_event (id, body, guarantee, created_at)
              VALUES (@id, @body, @guarantee, @createdAt)`,
		Params: map[string]interface{}{
			"id":        payload.ID.String(),
			"body":      encoded,
			"guarantee": string(guarantee),
			"createdAt": g.now(),
		},
	})
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: event %s already completed: %w", eventual.ErrIntegrityViolation, payload.ID, err)
	}
	return err
}

func (g *SpannerIntegrityGuard) RecordDispatchAttempt(ctx context.Context, payload eventual.EventPayload) error {
	encoded, err := encodeBody(payload.Body)
	if err != nil {
		return err
	}

	_, err = g.update(ctx, "RecordDispatchAttempt", spanner.Statement{
		SQL: `INSERT INTO eventual_dispatched_event (attempt_id, event_id, body, created_at)
              VALUES (@attemptID, @eventID, @body, @createdAt)`,
		Params: map[string]interface{}{
			"attemptID": uuid.NewString(),
			"eventID":   payload.ID.String(),
			"body":      encoded,
			"createdAt": g.now(),
		},
	})
	return err
}

func (g *SpannerIntegrityGuard) IsDispatchForbidden(ctx context.Context, eventID uuid.UUID) (bool, error) {
	n, err := g.count(ctx, "IsDispatchForbidden", spanner.Statement{
		SQL:    `SELECT COUNT(*) FROM eventual_handled_event WHERE id = @id`,
		Params: map[string]interface{}{"id": eventID.String()},
	})
	return n > 0, err
}

// SpannerEventReceiveStore is the inbox side on Spanner.
type SpannerEventReceiveStore struct {
	*SpannerEventStore
	guard *SpannerIntegrityGuard
}

func NewSpannerEventReceiveStore(store *SpannerEventStore, guard *SpannerIntegrityGuard) *SpannerEventReceiveStore {
	return &SpannerEventReceiveStore{SpannerEventStore: store, guard: guard}
}

func (r *SpannerEventReceiveStore) IsEventHandled(ctx context.Context, eventID uuid.UUID) (bool, error) {
	return r.guard.IsDispatchForbidden(ctx, eventID)
}

func (r *SpannerEventReceiveStore) MarkEventAsHandled(ctx context.Context, body eventual.EventBody, guarantee eventual.Guarantee) (uuid.UUID, error) {
	payload, err := eventual.PayloadFromBody(body)
	if err != nil {
		return uuid.Nil, err
	}
	if err := r.guard.RecordCompletionWithGuarantee(ctx, payload, guarantee); err != nil {
		return uuid.Nil, err
	}
	return payload.ID, nil
}

func (r *SpannerEventReceiveStore) MarkEventAsDispatched(ctx context.Context, body eventual.EventBody) (uuid.UUID, error) {
	payload, err := eventual.PayloadFromBody(body)
	if err != nil {
		return uuid.Nil, err
	}
	if err := r.guard.RecordDispatchAttempt(ctx, payload); err != nil {
		return uuid.Nil, err
	}
	return payload.ID, nil
}

// SpannerEventSchedule keeps claimed entries on Spanner.
type SpannerEventSchedule struct {
	*SpannerEventStore
	claimDuration time.Duration
}

func NewSpannerEventSchedule(store *SpannerEventStore, claimDuration time.Duration) *SpannerEventSchedule {
	return &SpannerEventSchedule{SpannerEventStore: store, claimDuration: claimDuration}
}

func (s *SpannerEventSchedule) AddClaimedEventEntry(ctx context.Context, payload eventual.EventPayload, dueAfter time.Time) error {
	now := s.now()
	if dueAfter.IsZero() {
		dueAfter = now
	}
	encoded, err := encodeBody(payload.Body)
	if err != nil {
		return err
	}

	_, err = s.update(ctx, "AddClaimedEventEntry", spanner.Statement{
		SQL: `INSERT INTO eventual_scheduled_event_entry (entry_id, event_id, body, claimed_at, due_after, closed)
              VALUES (@entryID, @eventID, @body, @claimedAt, @dueAfter, FALSE)`,
		Params: map[string]interface{}{
			"entryID":   uuid.NewString(),
			"eventID":   payload.ID.String(),
			"body":      encoded,
			"claimedAt": now,
			"dueAfter":  dueAfter,
		},
	})
	return err
}

func (s *SpannerEventSchedule) IsEventEntryClaimed(ctx context.Context, eventID uuid.UUID) (bool, error) {
	n, err := s.count(ctx, "IsEventEntryClaimed", spanner.Statement{
		SQL: `SELECT COUNT(*) FROM eventual_scheduled_event_entry
              WHERE event_id = @eventID AND claimed_at > @expiredAt`,
		Params: map[string]interface{}{
			"eventID":   eventID.String(),
			"expiredAt": s.now().Add(-s.claimDuration),
		},
	})
	return n > 0, err
}

func (s *SpannerEventSchedule) IsEventEntryClosed(ctx context.Context, eventID uuid.UUID) (bool, error) {
	n, err := s.count(ctx, "IsEventEntryClosed", spanner.Statement{
		SQL:    `SELECT COUNT(*) FROM eventual_scheduled_event_entry WHERE event_id = @eventID AND closed = TRUE`,
		Params: map[string]interface{}{"eventID": eventID.String()},
	})
	return n > 0, err
}

func (s *SpannerEventSchedule) CloseEventEntry(ctx context.Context, eventID uuid.UUID) error {
	_, err := s.update(ctx, "CloseEventEntry", spanner.Statement{
		SQL:    `UPDATE eventual_scheduled_event_entry SET closed = TRUE WHERE event_id = @eventID`,
		Params: map[string]interface{}{"eventID": eventID.String()},
	})
	return err
}

func (s *SpannerEventSchedule) EveryOpenUnclaimedEventEntryDueNow(ctx context.Context) iter.Seq2[eventual.EventPayload, error] {
	return func(yield func(eventual.EventPayload, error) bool) {
		now := s.now()
		bodies, err := s.queryBodies(ctx, "EveryOpenUnclaimedEventEntryDueNow", spanner.Statement{
			SQL: `SELECT body FROM eventual_scheduled_event_entry
                  WHERE closed = FALSE AND due_after <= @now AND claimed_at <= @expiredAt
                  ORDER BY claimed_at`,
			Params: map[string]interface{}{
				"now":       now,
				"expiredAt": now.Add(-s.claimDuration),
			},
		})
		if err != nil {
			yield(eventual.EventPayload{}, err)
			return
		}

		for _, body := range bodies {
			if !yield(eventual.PayloadFromBody(body)) {
				return
			}
		}
	}
}
