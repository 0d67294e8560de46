package domain

import "time"

// Envelope is the outbound wrapper around a domain payload. Scope is used for routing only
// and is echoed so clients can tell which audience a message targeted.
type Envelope struct {
	ID        string    `json:"id"`
	Event     EventType `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Scope
	Priority    Priority `json:"priority"`
	RequiresAck bool     `json:"requires_ack,omitempty"`
}

// NewEnvelope wraps event with a fresh id and derives its priority.
func NewEnvelope(id string, event Event, now time.Time) Envelope {
	return Envelope{
		ID:        id,
		Event:     event.EventType(),
		Payload:   event,
		Timestamp: now.UTC(),
		Scope:     event.RoutingScope(),
		Priority:  PriorityOf(event),
	}
}

// MessageAck acknowledges a client message that asked for one.
type MessageAck struct {
	MessageID  string    `json:"message_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewAckEnvelope builds the envelope returned for a client message with requires_ack set.
func NewAckEnvelope(id, messageID string, now time.Time) Envelope {
	return Envelope{
		ID:        id,
		Event:     EventMessageAck,
		Payload:   MessageAck{MessageID: messageID, ReceivedAt: now.UTC()},
		Timestamp: now.UTC(),
		Priority:  PriorityLow,
	}
}
