package processor

import (
	"context"
	"errors"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
)

// memoryStore is a transactional in-memory stand-in for a repository. A work unit
// works on a copy of the state that replaces the state on commit.
type memoryStore struct {
	mu    sync.Mutex
	state memoryState
	now   func() time.Time
	claim time.Duration

	// failMarkSent makes MarkEventAsSent fail.
	failMarkSent error
}

type memoryState struct {
	out        map[uuid.UUID]outEntry
	outOrder   []uuid.UUID
	handled    map[uuid.UUID]eventual.Guarantee
	dispatched []uuid.UUID
	entries    []scheduleEntry
}

type outEntry struct {
	body      eventual.EventBody
	sendAfter *time.Time
	confirmed bool
}

type scheduleEntry struct {
	payload   eventual.EventPayload
	claimedAt time.Time
	dueAfter  time.Time
	closed    bool
}

func (s memoryState) clone() memoryState {
	return memoryState{
		out:        maps.Clone(s.out),
		outOrder:   slices.Clone(s.outOrder),
		handled:    maps.Clone(s.handled),
		dispatched: slices.Clone(s.dispatched),
		entries:    slices.Clone(s.entries),
	}
}

func newMemoryStore(claim time.Duration) *memoryStore {
	return &memoryStore{
		state: memoryState{
			out:     make(map[uuid.UUID]outEntry),
			handled: make(map[uuid.UUID]eventual.Guarantee),
		},
		now:   time.Now,
		claim: claim,
	}
}

type memoryUnit struct {
	state     *memoryState
	committed bool
	done      bool
}

func (u *memoryUnit) Committed() bool { return u.committed }

type memoryUnitKey struct{}

func (m *memoryStore) CreateWorkUnit(ctx context.Context, fn eventual.WorkFunc) (eventual.WorkUnit, error) {
	if wu, ok := ctx.Value(memoryUnitKey{}).(*memoryUnit); ok {
		if wu.done {
			return wu, eventual.ErrWorkUnitDone
		}
		return wu, fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	wu := &memoryUnit{state: &working}
	defer func() { wu.done = true }()

	if err := fn(context.WithValue(ctx, memoryUnitKey{}, wu)); err != nil {
		if errors.Is(err, eventual.ErrInterruptWork) {
			return wu, nil
		}
		return wu, err
	}

	m.state = working
	wu.committed = true
	return wu, nil
}

// with runs fn on the state of the work unit in ctx, or in an implicit one.
func (m *memoryStore) with(ctx context.Context, fn func(s *memoryState) error) error {
	if wu, ok := ctx.Value(memoryUnitKey{}).(*memoryUnit); ok {
		if wu.done {
			return eventual.ErrWorkUnitDone
		}
		return fn(wu.state)
	}
	_, err := m.CreateWorkUnit(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(memoryUnitKey{}).(*memoryUnit).state)
	})
	return err
}

func (m *memoryStore) WriteEventToSendSoon(ctx context.Context, body eventual.EventBody, sendAfter *time.Time) error {
	id, err := body.EventID()
	if err != nil {
		return err
	}
	return m.with(ctx, func(s *memoryState) error {
		if _, exists := s.out[id]; exists {
			return errors.New("duplicate outbox entry")
		}
		s.out[id] = outEntry{body: body, sendAfter: sendAfter}
		s.outOrder = append(s.outOrder, id)
		return nil
	})
}

func (m *memoryStore) MarkEventAsSent(ctx context.Context, body eventual.EventBody) error {
	if m.failMarkSent != nil {
		return m.failMarkSent
	}
	id, err := body.EventID()
	if err != nil {
		return err
	}
	return m.with(ctx, func(s *memoryState) error {
		e, ok := s.out[id]
		if !ok {
			return errors.New("outbox entry not found")
		}
		e.confirmed = true
		s.out[id] = e
		return nil
	})
}

func (m *memoryStore) ScheduleEveryWrittenEventToSend(ctx context.Context, queue eventual.SendQueue) error {
	type due struct {
		body  eventual.EventBody
		delay time.Duration
	}
	var pending []due
	now := m.now()
	err := m.with(ctx, func(s *memoryState) error {
		for _, id := range s.outOrder {
			e := s.out[id]
			if e.confirmed || (e.sendAfter != nil && !e.sendAfter.Before(now)) {
				continue
			}
			pending = append(pending, due{body: e.body})
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, d := range pending {
		if err := queue.EnqueueToSendAfterDelay(ctx, d.body, d.delay); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryStore) IsEventHandled(ctx context.Context, id uuid.UUID) (bool, error) {
	var handled bool
	err := m.with(ctx, func(s *memoryState) error {
		_, handled = s.handled[id]
		return nil
	})
	return handled, err
}

func (m *memoryStore) MarkEventAsHandled(ctx context.Context, body eventual.EventBody, g eventual.Guarantee) (uuid.UUID, error) {
	id, err := body.EventID()
	if err != nil {
		return uuid.Nil, err
	}
	err = m.with(ctx, func(s *memoryState) error {
		if _, exists := s.handled[id]; exists {
			return eventual.ErrIntegrityViolation
		}
		s.handled[id] = g
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (m *memoryStore) MarkEventAsDispatched(ctx context.Context, body eventual.EventBody) (uuid.UUID, error) {
	id, err := body.EventID()
	if err != nil {
		return uuid.Nil, err
	}
	err = m.with(ctx, func(s *memoryState) error {
		s.dispatched = append(s.dispatched, id)
		return nil
	})
	return id, err
}

func (m *memoryStore) AddClaimedEventEntry(ctx context.Context, payload eventual.EventPayload, dueAfter time.Time) error {
	now := m.now()
	if dueAfter.IsZero() {
		dueAfter = now
	}
	return m.with(ctx, func(s *memoryState) error {
		s.entries = append(s.entries, scheduleEntry{payload: payload, claimedAt: now, dueAfter: dueAfter})
		return nil
	})
}

func (m *memoryStore) IsEventEntryClaimed(ctx context.Context, id uuid.UUID) (bool, error) {
	var claimed bool
	expired := m.now().Add(-m.claim)
	err := m.with(ctx, func(s *memoryState) error {
		for _, e := range s.entries {
			if e.payload.ID == id && e.claimedAt.After(expired) {
				claimed = true
			}
		}
		return nil
	})
	return claimed, err
}

func (m *memoryStore) IsEventEntryClosed(ctx context.Context, id uuid.UUID) (bool, error) {
	var closed bool
	err := m.with(ctx, func(s *memoryState) error {
		for _, e := range s.entries {
			if e.payload.ID == id && e.closed {
				closed = true
			}
		}
		return nil
	})
	return closed, err
}

func (m *memoryStore) CloseEventEntry(ctx context.Context, id uuid.UUID) error {
	return m.with(ctx, func(s *memoryState) error {
		for i := range s.entries {
			if s.entries[i].payload.ID == id {
				s.entries[i].closed = true
			}
		}
		return nil
	})
}

func (m *memoryStore) EveryOpenUnclaimedEventEntryDueNow(ctx context.Context) iter.Seq2[eventual.EventPayload, error] {
	return func(yield func(eventual.EventPayload, error) bool) {
		now := m.now()
		expired := now.Add(-m.claim)
		var due []eventual.EventPayload
		err := m.with(ctx, func(s *memoryState) error {
			for _, e := range s.entries {
				if !e.closed && !e.dueAfter.After(now) && !e.claimedAt.After(expired) {
					due = append(due, e.payload)
				}
			}
			return nil
		})
		if err != nil {
			yield(eventual.EventPayload{}, err)
			return
		}
		for _, p := range due {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// snapshot returns a copy of the committed state.
func (m *memoryStore) snapshot() memoryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (s memoryState) openEntries(id uuid.UUID) int {
	n := 0
	for _, e := range s.entries {
		if e.payload.ID == id && !e.closed {
			n++
		}
	}
	return n
}

func (s memoryState) dispatchCount(id uuid.UUID) int {
	n := 0
	for _, d := range s.dispatched {
		if d == id {
			n++
		}
	}
	return n
}

var (
	_ eventual.EventSendStore    = (*memoryStore)(nil)
	_ eventual.EventReceiveStore = (*memoryStore)(nil)
	_ eventual.EventSchedule     = (*memoryStore)(nil)
)
