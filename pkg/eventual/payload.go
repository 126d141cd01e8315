package eventual

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Well-known keys every event body carries.
const (
	BodyKeyID         = "id"
	BodyKeySubject    = "subject"
	BodyKeyOccurredOn = "occurred_on"
)

// EventBody is the opaque mapping that is stored and transported for an event.
type EventBody map[string]any

// EventID returns the event identifier found under the "id" key.
func (b EventBody) EventID() (uuid.UUID, error) {
	raw, ok := b[BodyKeyID]
	if !ok {
		return uuid.Nil, ErrEventIDMissing
	}
	switch v := raw.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, fmt.Errorf("parse event id %q: %w", v, err)
		}
		return id, nil
	default:
		return uuid.Nil, fmt.Errorf("event id has unexpected type %T", raw)
	}
}

// EventPayload is the typed view over an EventBody.
type EventPayload struct {
	ID         uuid.UUID
	Subject    string
	OccurredOn time.Time
	Body       EventBody
}

// NewEventPayload creates a payload with a fresh id. Fields are copied into the body;
// the reserved keys are always overwritten.
func NewEventPayload(subject string, fields map[string]any) EventPayload {
	id := uuid.New()
	occurredOn := time.Now().UTC()

	body := make(EventBody, len(fields)+3)
	for k, v := range fields {
		body[k] = v
	}
	body[BodyKeyID] = id.String()
	body[BodyKeySubject] = subject
	body[BodyKeyOccurredOn] = occurredOn.Format(time.RFC3339Nano)

	return EventPayload{
		ID:         id,
		Subject:    subject,
		OccurredOn: occurredOn,
		Body:       body,
	}
}

// PayloadFromBody parses a stored or received body.
func PayloadFromBody(body EventBody) (EventPayload, error) {
	id, err := body.EventID()
	if err != nil {
		return EventPayload{}, err
	}

	payload := EventPayload{ID: id, Body: body}

	if subject, ok := body[BodyKeySubject].(string); ok {
		payload.Subject = subject
	}

	if raw, ok := body[BodyKeyOccurredOn].(string); ok && raw != "" {
		occurredOn, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return EventPayload{}, fmt.Errorf("parse occurred_on of event %s: %w", id, err)
		}
		payload.OccurredOn = occurredOn
	}

	return payload, nil
}
