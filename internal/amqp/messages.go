package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventMessage carries one outbox event over the broker. The payload is the
// JSON body recorded in the outbox, passed through untouched.
type EventMessage struct {
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func NewEventMessage(eventID, eventType, aggregateID string, payload json.RawMessage, occurredAt time.Time) *EventMessage {
	return &EventMessage{
		EventID:     eventID,
		Type:        eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  occurredAt.UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Decode unmarshals the payload into v.
func (m *EventMessage) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", m.EventID)
	}
	return json.Unmarshal(m.Payload, v)
}

// EventMessageFromJSON parses a delivery body. Messages without an id or type
// are rejected.
func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.EventID == "" || msg.Type == "" {
		return nil, fmt.Errorf("event message missing id or type")
	}
	return &msg, nil
}
