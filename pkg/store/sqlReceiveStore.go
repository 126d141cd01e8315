package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
)

// SQLEventReceiveStore is the inbox side. Its bookkeeping goes through the integrity guard.
type SQLEventReceiveStore struct {
	*SQLEventStore
	guard *SQLIntegrityGuard
}

func NewSQLEventReceiveStore(store *SQLEventStore, guard *SQLIntegrityGuard) *SQLEventReceiveStore {
	return &SQLEventReceiveStore{SQLEventStore: store, guard: guard}
}

func (r *SQLEventReceiveStore) IsEventHandled(ctx context.Context, eventID uuid.UUID) (bool, error) {
	n, err := r.count(ctx, "IsEventHandled", countHandledEventSQL, eventID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLEventReceiveStore) MarkEventAsHandled(ctx context.Context, body eventual.EventBody, guarantee eventual.Guarantee) (uuid.UUID, error) {
	payload, err := eventual.PayloadFromBody(body)
	if err != nil {
		return uuid.Nil, err
	}
	if err := r.guard.RecordCompletionWithGuarantee(ctx, payload, guarantee); err != nil {
		return uuid.Nil, err
	}
	return payload.ID, nil
}

func (r *SQLEventReceiveStore) MarkEventAsDispatched(ctx context.Context, body eventual.EventBody) (uuid.UUID, error) {
	payload, err := eventual.PayloadFromBody(body)
	if err != nil {
		return uuid.Nil, err
	}
	if err := r.guard.RecordDispatchAttempt(ctx, payload); err != nil {
		return uuid.Nil, err
	}
	return payload.ID, nil
}
