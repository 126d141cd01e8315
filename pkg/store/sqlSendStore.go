package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
)

const (
	insertEventOutSQL    = `INSERT INTO eventual_event_out (event_id, body, send_after, confirmed, created_at) VALUES (?, ?, ?, FALSE, ?)`
	confirmEventOutSQL   = `UPDATE eventual_event_out SET confirmed = TRUE WHERE event_id = ?`
	countEventOutSQL     = `SELECT COUNT(*) FROM eventual_event_out WHERE event_id = ?`
	selectEventOutDueSQL = `SELECT event_id, body, send_after, confirmed, created_at FROM eventual_event_out
		WHERE confirmed = FALSE AND (send_after IS NULL OR send_after < ?)
		ORDER BY created_at`
)

// SQLEventSendStore is the outbox writer.
type SQLEventSendStore struct {
	*SQLEventStore
}

func NewSQLEventSendStore(store *SQLEventStore) *SQLEventSendStore {
	return &SQLEventSendStore{SQLEventStore: store}
}

func (s *SQLEventSendStore) WriteEventToSendSoon(ctx context.Context, body eventual.EventBody, sendAfter *time.Time) error {
	eventID, err := body.EventID()
	if err != nil {
		return err
	}

	return s.withWorkUnit(ctx, "WriteEventToSendSoon", insertEventOutSQL, func(ctx context.Context, tx *sqlx.Tx) (int, error) {
		_, err := tx.ExecContext(ctx, tx.Rebind(insertEventOutSQL),
			eventID, jsonBody(body), sendAfter, s.now())
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
}

func (s *SQLEventSendStore) MarkEventAsSent(ctx context.Context, body eventual.EventBody) error {
	eventID, err := body.EventID()
	if err != nil {
		return err
	}

	return s.withWorkUnit(ctx, "MarkEventAsSent", confirmEventOutSQL, func(ctx context.Context, tx *sqlx.Tx) (int, error) {
		res, err := tx.ExecContext(ctx, tx.Rebind(confirmEventOutSQL), eventID)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return int(n), nil
		}

		// MySQL reports zero affected rows when the entry was already confirmed
		var exists int
		if err := tx.GetContext(ctx, &exists, tx.Rebind(countEventOutSQL), eventID); err != nil {
			return 0, err
		}
		if exists == 0 {
			return 0, fmt.Errorf("mark event %s as sent: %w", eventID, ErrOutboxEntryNotFound)
		}
		return exists, nil
	})
}

// ScheduleEveryWrittenEventToSend submits every unconfirmed entry that is due, oldest first.
// The delay handed to the queue is never negative.
func (s *SQLEventSendStore) ScheduleEveryWrittenEventToSend(ctx context.Context, queue eventual.SendQueue) error {
	var rows []eventOutRow
	err := s.withWorkUnit(ctx, "ScheduleEveryWrittenEventToSend", selectEventOutDueSQL, func(ctx context.Context, tx *sqlx.Tx) (int, error) {
		if err := tx.SelectContext(ctx, &rows, tx.Rebind(selectEventOutDueSQL), s.now()); err != nil {
			return 0, err
		}
		return len(rows), nil
	})
	if err != nil {
		return err
	}

	for _, row := range rows {
		var delay time.Duration
		if row.SendAfter.Valid {
			delay = sendDelay(row.SendAfter.Time, s.now())
		}
		if err := queue.EnqueueToSendAfterDelay(ctx, eventual.EventBody(row.Body), delay); err != nil {
			return fmt.Errorf("enqueue event %s: %w", row.EventID, err)
		}
	}

	return nil
}

func sendDelay(sendAfter, now time.Time) time.Duration {
	delay := sendAfter.Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}
