package eventual

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventPayload(t *testing.T) {
	payload := NewEventPayload("order.created", map[string]any{
		"order_id": "42",
		"id":       "overwritten",
	})

	assert.NotEqual(t, uuid.Nil, payload.ID)
	assert.Equal(t, "order.created", payload.Subject)
	assert.Equal(t, payload.ID.String(), payload.Body[BodyKeyID])
	assert.Equal(t, "order.created", payload.Body[BodyKeySubject])
	assert.Equal(t, "42", payload.Body["order_id"])
}

func TestPayloadFromBody_RoundTrip(t *testing.T) {
	original := NewEventPayload("order.created", nil)

	parsed, err := PayloadFromBody(original.Body)
	require.NoError(t, err)

	assert.Equal(t, original.ID, parsed.ID)
	assert.Equal(t, original.Subject, parsed.Subject)
	assert.True(t, original.OccurredOn.Equal(parsed.OccurredOn))
}

func TestPayloadFromBody_MissingID(t *testing.T) {
	_, err := PayloadFromBody(EventBody{BodyKeySubject: "x"})
	assert.ErrorIs(t, err, ErrEventIDMissing)
}

func TestPayloadFromBody_BadOccurredOn(t *testing.T) {
	_, err := PayloadFromBody(EventBody{
		BodyKeyID:         uuid.NewString(),
		BodyKeyOccurredOn: "yesterday",
	})
	assert.Error(t, err)
}

func TestEventBody_EventID(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name    string
		body    EventBody
		want    uuid.UUID
		wantErr bool
	}{
		{name: "string id", body: EventBody{"id": id.String()}, want: id},
		{name: "uuid id", body: EventBody{"id": id}, want: id},
		{name: "malformed id", body: EventBody{"id": "not-a-uuid"}, wantErr: true},
		{name: "numeric id", body: EventBody{"id": 12}, wantErr: true},
		{name: "missing id", body: EventBody{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.body.EventID()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGuarantee_Valid(t *testing.T) {
	for _, g := range Guarantees() {
		assert.True(t, g.Valid(), g.String())
	}
	assert.False(t, Guarantee("twice").Valid())
}

func TestPayloadFromBody_KeepsOccurredOnPrecision(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 30, 0, 123456789, time.UTC)
	body := EventBody{
		BodyKeyID:         uuid.NewString(),
		BodyKeyOccurredOn: at.Format(time.RFC3339Nano),
	}

	payload, err := PayloadFromBody(body)
	require.NoError(t, err)
	assert.True(t, at.Equal(payload.OccurredOn))
}
