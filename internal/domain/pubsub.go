package domain

import "context"

// Dispatcher fans domain events out to connected clients. Ingest adapters and the HTTP API
// depend on this instead of the broadcast service.
type Dispatcher interface {
	Broadcast(ctx context.Context, event Event) (Delivery, error)
}

// Delivery reports where a broadcast went.
type Delivery struct {
	MessageID string   `json:"message_id"`
	Room      string   `json:"room,omitempty"`
	Priority  Priority `json:"priority"`
	Delivered int      `json:"delivered"`
}
