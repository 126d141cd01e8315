package store

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zoff-tech/go-eventual/pkg/eventual"
)

// jsonBody stores an event body as JSON text.
type jsonBody eventual.EventBody

func (b jsonBody) Value() (driver.Value, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal event body: %w", err)
	}
	return string(data), nil
}

func (b *jsonBody) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, b)
	case string:
		return json.Unmarshal([]byte(v), b)
	case nil:
		*b = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into event body", src)
	}
}

// eventOutRow is one outbox entry.
type eventOutRow struct {
	EventID   uuid.UUID    `db:"event_id"`
	Body      jsonBody     `db:"body"`
	SendAfter sql.NullTime `db:"send_after"`
	Confirmed bool         `db:"confirmed"`
	CreatedAt time.Time    `db:"created_at"`
}

// scheduledEventEntryRow is one claim on an event awaiting redelivery.
type scheduledEventEntryRow struct {
	EventID   uuid.UUID `db:"event_id"`
	Body      jsonBody  `db:"body"`
	ClaimedAt time.Time `db:"claimed_at"`
	DueAfter  time.Time `db:"due_after"`
	Closed    bool      `db:"closed"`
}
