package store

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
)

const (
	insertScheduledEntrySQL = `INSERT INTO eventual_scheduled_event_entry (event_id, body, claimed_at, due_after, closed) VALUES (?, ?, ?, ?, FALSE)`
	countClaimedEntrySQL    = `SELECT COUNT(*) FROM eventual_scheduled_event_entry WHERE event_id = ? AND claimed_at > ?`
	countClosedEntrySQL     = `SELECT COUNT(*) FROM eventual_scheduled_event_entry WHERE event_id = ? AND closed = TRUE`
	closeEntrySQL           = `UPDATE eventual_scheduled_event_entry SET closed = TRUE WHERE event_id = ?`
	selectDueEntrySQL       = `SELECT event_id, body, claimed_at, due_after, closed FROM eventual_scheduled_event_entry
		WHERE closed = FALSE AND due_after <= ? AND claimed_at <= ?
		ORDER BY id`
)

// SQLEventSchedule keeps claimed entries. An entry is claimed while
// now - claimed_at < claimDuration.
type SQLEventSchedule struct {
	*SQLEventStore
	claimDuration time.Duration
}

func NewSQLEventSchedule(store *SQLEventStore, claimDuration time.Duration) *SQLEventSchedule {
	return &SQLEventSchedule{SQLEventStore: store, claimDuration: claimDuration}
}

func (s *SQLEventSchedule) AddClaimedEventEntry(ctx context.Context, payload eventual.EventPayload, dueAfter time.Time) error {
	now := s.now()
	if dueAfter.IsZero() {
		dueAfter = now
	}

	return s.withWorkUnit(ctx, "AddClaimedEventEntry", insertScheduledEntrySQL, func(ctx context.Context, tx *sqlx.Tx) (int, error) {
		_, err := tx.ExecContext(ctx, tx.Rebind(insertScheduledEntrySQL),
			payload.ID, jsonBody(payload.Body), now, dueAfter)
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
}

func (s *SQLEventSchedule) IsEventEntryClaimed(ctx context.Context, eventID uuid.UUID) (bool, error) {
	n, err := s.count(ctx, "IsEventEntryClaimed", countClaimedEntrySQL, eventID, s.claimExpiredAt(s.now()))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLEventSchedule) IsEventEntryClosed(ctx context.Context, eventID uuid.UUID) (bool, error) {
	n, err := s.count(ctx, "IsEventEntryClosed", countClosedEntrySQL, eventID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CloseEventEntry does not check who holds the claim.
func (s *SQLEventSchedule) CloseEventEntry(ctx context.Context, eventID uuid.UUID) error {
	return s.withWorkUnit(ctx, "CloseEventEntry", closeEntrySQL, func(ctx context.Context, tx *sqlx.Tx) (int, error) {
		res, err := tx.ExecContext(ctx, tx.Rebind(closeEntrySQL), eventID)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		return int(n), nil
	})
}

func (s *SQLEventSchedule) EveryOpenUnclaimedEventEntryDueNow(ctx context.Context) iter.Seq2[eventual.EventPayload, error] {
	return func(yield func(eventual.EventPayload, error) bool) {
		now := s.now()

		var rows []scheduledEventEntryRow
		err := s.withWorkUnit(ctx, "EveryOpenUnclaimedEventEntryDueNow", selectDueEntrySQL, func(ctx context.Context, tx *sqlx.Tx) (int, error) {
			if err := tx.SelectContext(ctx, &rows, tx.Rebind(selectDueEntrySQL), now, s.claimExpiredAt(now)); err != nil {
				return 0, err
			}
			return len(rows), nil
		})
		if err != nil {
			yield(eventual.EventPayload{}, err)
			return
		}

		for _, row := range rows {
			if !yield(eventual.PayloadFromBody(eventual.EventBody(row.Body))) {
				return
			}
		}
	}
}

// claimExpiredAt is the claimed_at bound at or before which a claim has lapsed.
func (s *SQLEventSchedule) claimExpiredAt(now time.Time) time.Time {
	return now.Add(-s.claimDuration)
}
