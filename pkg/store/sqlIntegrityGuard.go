package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
)

const (
	insertHandledEventSQL    = `INSERT INTO eventual_handled_event (id, body, guarantee, created_at) VALUES (?, ?, ?, ?)`
	insertDispatchedEventSQL = `INSERT INTO eventual_dispatched_event (event_id, body, created_at) VALUES (?, ?, ?)`
	countHandledEventSQL     = `SELECT COUNT(*) FROM eventual_handled_event WHERE id = ?`
)

// SQLIntegrityGuard relies on the primary key of eventual_handled_event to reject a
// second completion of the same event, also across processes.
type SQLIntegrityGuard struct {
	*SQLEventStore
}

func NewSQLIntegrityGuard(store *SQLEventStore) *SQLIntegrityGuard {
	return &SQLIntegrityGuard{SQLEventStore: store}
}

func (g *SQLIntegrityGuard) RecordCompletionWithGuarantee(ctx context.Context, payload eventual.EventPayload, guarantee eventual.Guarantee) error {
	return g.withWorkUnit(ctx, "RecordCompletionWithGuarantee", insertHandledEventSQL, func(ctx context.Context, tx *sqlx.Tx) (int, error) {
		_, err := tx.ExecContext(ctx, tx.Rebind(insertHandledEventSQL),
			payload.ID, jsonBody(payload.Body), string(guarantee), g.now())
		if err != nil {
			if isUniqueViolation(err) {
				return 0, fmt.Errorf("%w: event %s already completed: %w", eventual.ErrIntegrityViolation, payload.ID, err)
			}
			return 0, err
		}
		return 1, nil
	})
}

func (g *SQLIntegrityGuard) RecordDispatchAttempt(ctx context.Context, payload eventual.EventPayload) error {
	return g.withWorkUnit(ctx, "RecordDispatchAttempt", insertDispatchedEventSQL, func(ctx context.Context, tx *sqlx.Tx) (int, error) {
		_, err := tx.ExecContext(ctx, tx.Rebind(insertDispatchedEventSQL),
			payload.ID, jsonBody(payload.Body), g.now())
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
}

func (g *SQLIntegrityGuard) IsDispatchForbidden(ctx context.Context, eventID uuid.UUID) (bool, error) {
	n, err := g.count(ctx, "IsDispatchForbidden", countHandledEventSQL, eventID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
