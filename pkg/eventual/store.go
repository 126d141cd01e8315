package eventual

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
)

// WorkUnit is one atomic transaction scope.
type WorkUnit interface {
	// Committed reports whether the scope ended with a successful commit.
	Committed() bool
}

// WorkFunc runs inside a work unit. Store calls made with its ctx join the unit.
type WorkFunc func(ctx context.Context) error

// EventStore creates work units.
//
// CreateWorkUnit begins a transaction and runs fn. A nil result commits. ErrInterruptWork
// rolls back and is swallowed. Any other error rolls back and is returned as is. When ctx
// already carries an open work unit, fn joins it and the outermost scope decides.
type EventStore interface {
	CreateWorkUnit(ctx context.Context, fn WorkFunc) (WorkUnit, error)
}

// SendQueue receives the events an outbox sweep found due.
type SendQueue interface {
	EnqueueToSendAfterDelay(ctx context.Context, body EventBody, delay time.Duration) error
}

// EventSendStore is the outbox writer.
type EventSendStore interface {
	EventStore
	// WriteEventToSendSoon persists an unconfirmed outbox entry. A nil sendAfter means now.
	WriteEventToSendSoon(ctx context.Context, body EventBody, sendAfter *time.Time) error
	// MarkEventAsSent confirms the outbox entry of the event. It fails when no entry exists.
	MarkEventAsSent(ctx context.Context, body EventBody) error
	// ScheduleEveryWrittenEventToSend submits every unconfirmed due entry, oldest first.
	ScheduleEveryWrittenEventToSend(ctx context.Context, queue SendQueue) error
}

// EventReceiveStore is the inbox reader.
type EventReceiveStore interface {
	EventStore
	IsEventHandled(ctx context.Context, eventID uuid.UUID) (bool, error)
	MarkEventAsHandled(ctx context.Context, body EventBody, guarantee Guarantee) (uuid.UUID, error)
	MarkEventAsDispatched(ctx context.Context, body EventBody) (uuid.UUID, error)
}

// EventSchedule tracks claimed entries awaiting redelivery.
type EventSchedule interface {
	EventStore
	// AddClaimedEventEntry inserts an open entry claimed now. A zero dueAfter means now.
	AddClaimedEventEntry(ctx context.Context, payload EventPayload, dueAfter time.Time) error
	IsEventEntryClaimed(ctx context.Context, eventID uuid.UUID) (bool, error)
	IsEventEntryClosed(ctx context.Context, eventID uuid.UUID) (bool, error)
	// CloseEventEntry closes every entry of the event. Closing nothing is not an error.
	CloseEventEntry(ctx context.Context, eventID uuid.UUID) error
	// EveryOpenUnclaimedEventEntryDueNow yields the payloads of open, due entries whose
	// claim expired. The entries are read when iteration starts; the sequence is single use.
	EveryOpenUnclaimedEventEntryDueNow(ctx context.Context) iter.Seq2[EventPayload, error]
}

// IntegrityGuard keeps the completion and dispatch-attempt bookkeeping.
type IntegrityGuard interface {
	EventStore
	// RecordCompletionWithGuarantee fails with ErrIntegrityViolation when the event was
	// already completed.
	RecordCompletionWithGuarantee(ctx context.Context, payload EventPayload, guarantee Guarantee) error
	RecordDispatchAttempt(ctx context.Context, payload EventPayload) error
	IsDispatchForbidden(ctx context.Context, eventID uuid.UUID) (bool, error)
}
