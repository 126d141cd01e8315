package store

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// newMockStore returns a store on a postgres-flavoured sqlmock connection.
func newMockStore(t *testing.T) (*SQLEventStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSQLEventStore(sqlx.NewDb(db, "postgres"), WithClock(fixedClock)), mock
}

// q turns one of the ?-style statements into the exact pattern sqlmock sees.
func q(query string) string {
	return regexp.QuoteMeta(sqlx.Rebind(sqlx.DOLLAR, query))
}

func testPayload(t *testing.T) eventual.EventPayload {
	t.Helper()
	return eventual.NewEventPayload("order.created", map[string]any{"order_id": "A-1"})
}

type enqueued struct {
	body  eventual.EventBody
	delay time.Duration
}

type recordingQueue struct {
	mu    sync.Mutex
	items []enqueued
	err   error
}

func (r *recordingQueue) EnqueueToSendAfterDelay(_ context.Context, body eventual.EventBody, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.items = append(r.items, enqueued{body: body, delay: delay})
	return nil
}

func bodyJSON(id uuid.UUID) []byte {
	return []byte(`{"id":"` + id.String() + `","subject":"order.created","occurred_on":"2024-03-01T11:00:00Z"}`)
}
